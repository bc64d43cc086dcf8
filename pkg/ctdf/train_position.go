package ctdf

import "time"

// TrainPosition is the latest known state of a single train on the live map
type TrainPosition struct {
	Number  string `groups:"basic" csv:"number"`
	Type    string `groups:"basic" csv:"type"`
	Carrier string `groups:"basic" csv:"carrier"`

	TrainID int64 `groups:"detailed" csv:"train_id"`

	Latitude  float64 `groups:"basic" csv:"latitude"`
	Longitude float64 `groups:"basic" csv:"longitude"`

	HasGPS       bool   `groups:"basic" csv:"has_gps"`
	GPSTimestamp string `groups:"detailed" csv:"gps_timestamp"` // Opaque upstream value, empty when schedule based

	AverageSpeed  float64       `groups:"basic" csv:"average_speed"`
	SpeedCategory SpeedCategory `groups:"basic" csv:"speed_category"`

	LastUpdated time.Time `groups:"detailed" csv:"last_updated"`
}

func (t *TrainPosition) Location() Location {
	return NewPointLocation(t.Latitude, t.Longitude)
}

// PositionFix is one timestamped observation recorded in a train's history
type PositionFix struct {
	Latitude  float64
	Longitude float64
	Timestamp time.Time

	SpeedKMH *float64
}

func (p *PositionFix) Location() Location {
	return NewPointLocation(p.Latitude, p.Longitude)
}
