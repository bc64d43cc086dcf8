package ctdf

type TrainStation struct {
	Name     string `groups:"basic"`
	Language string `groups:"detailed"`

	ScheduledArrival string  `groups:"basic"`
	ActualArrival    string  `groups:"basic"`
	ArrivalDelay     float64 `groups:"basic"`

	ScheduledDeparture string  `groups:"basic"`
	ActualDeparture    string  `groups:"basic"`
	DepartureDelay     float64 `groups:"basic"`

	TransportType string `groups:"detailed"`
	Platform      string `groups:"basic"`

	Latitude  float64 `groups:"basic"`
	Longitude float64 `groups:"basic"`

	Messages       []string `groups:"detailed"`
	Notices        []string `groups:"detailed"`
	Warnings       []string `groups:"detailed"`
	AdditionalInfo []string `groups:"detailed"`
}

type TrackCoordinate struct {
	Latitude  float64 `groups:"basic"`
	Longitude float64 `groups:"basic"`
	Delay     float64 `groups:"basic"` // minutes
}

type TrainTrackInfo struct {
	Coordinates      []TrackCoordinate `groups:"basic"`
	StartStationName string            `groups:"basic"`
	EndStationName   string            `groups:"basic"`
	Stations         []TrainStation    `groups:"basic"`
}

type TrainDetails struct {
	Number  string `groups:"basic"`
	Type    string `groups:"basic"`
	Carrier string `groups:"basic"`
	TrainID int64  `groups:"detailed"`

	StartStationName string `groups:"basic"`
	EndStationName   string `groups:"basic"`

	RouteName   string `groups:"basic"`
	RouteNumber string `groups:"basic"`
	TrackingURL string `groups:"detailed"`

	StartTime  string  `groups:"basic"`
	EndTime    string  `groups:"basic"`
	StartDelay float64 `groups:"basic"`
	EndDelay   float64 `groups:"basic"`

	Stations []TrainStation `groups:"detailed"`
}
