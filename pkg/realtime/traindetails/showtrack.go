package traindetails

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/travigo/livetrains/pkg/ctdf"
)

type showTrackRequest struct {
	AM  int    `json:"AM"`
	IS  int64  `json:"IS"`
	PID string `json:"PID"`
}

type showTrackResponse struct {
	A []showTrackEntry `json:"a"`
}

type showTrackEntry struct {
	T *trainHeader    `json:"t"`
	S []stationRecord `json:"s"`
	R *struct {
		S map[string]json.RawMessage `json:"s"`
	} `json:"r"`
}

type trainHeader struct {
	RouteName   string `json:"a"`
	RouteNumber string `json:"b"`
	Carrier     string `json:"c"`
	Start       string `json:"d"`
	End         string `json:"f"`
	TrackingURL string `json:"j"`
	Type        string `json:"k"`
}

type stationRecord struct {
	Name               string   `json:"a"`
	Language           string   `json:"b"`
	ScheduledArrival   string   `json:"c"`
	ActualArrival      string   `json:"d"`
	ArrivalDelay       number   `json:"e"`
	ScheduledDeparture string   `json:"f"`
	ActualDeparture    string   `json:"g"`
	DepartureDelay     number   `json:"h"`
	TransportType      string   `json:"i"`
	Platform           string   `json:"j"`
	Latitude           number   `json:"k"`
	Longitude          number   `json:"l"`
	Messages           []string `json:"m"`
	Notices            []string `json:"n"`
	Warnings           []string `json:"o"`
	AdditionalInfo     []string `json:"p"`
}

type trackPoint struct {
	Latitude  number `json:"s"`
	Longitude number `json:"d"`
	Delay     number `json:"o"`
}

// number tolerates nulls and numeric strings
type number float64

func (n *number) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}

	var value float64
	if err := json.Unmarshal(data, &value); err == nil {
		*n = number(value)
		return nil
	}

	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	if text == "" {
		return nil
	}

	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return err
	}

	*n = number(value)
	return nil
}

// Route geometry keys in order of preference
var trackKeys = []string{"rt", "ct", "rct", "dt"}

func (e *showTrackEntry) stations() []ctdf.TrainStation {
	stations := make([]ctdf.TrainStation, 0, len(e.S))

	for _, record := range e.S {
		stations = append(stations, ctdf.TrainStation{
			Name:               record.Name,
			Language:           record.Language,
			ScheduledArrival:   record.ScheduledArrival,
			ActualArrival:      record.ActualArrival,
			ArrivalDelay:       float64(record.ArrivalDelay),
			ScheduledDeparture: record.ScheduledDeparture,
			ActualDeparture:    record.ActualDeparture,
			DepartureDelay:     float64(record.DepartureDelay),
			TransportType:      record.TransportType,
			Platform:           record.Platform,
			Latitude:           float64(record.Latitude),
			Longitude:          float64(record.Longitude),
			Messages:           record.Messages,
			Notices:            record.Notices,
			Warnings:           record.Warnings,
			AdditionalInfo:     record.AdditionalInfo,
		})
	}

	return stations
}

// coordinates reads the first non-empty geometry. Each element is either a
// point or a list of points.
func (e *showTrackEntry) coordinates() []ctdf.TrackCoordinate {
	if e.R == nil {
		return nil
	}

	for _, key := range trackKeys {
		var elements []json.RawMessage
		if err := json.Unmarshal(e.R.S[key], &elements); err != nil || len(elements) == 0 {
			continue
		}

		var coordinates []ctdf.TrackCoordinate
		for _, element := range elements {
			var points []trackPoint

			if trimmed := bytes.TrimSpace(element); len(trimmed) > 0 && trimmed[0] == '[' {
				json.Unmarshal(trimmed, &points)
			} else {
				var point trackPoint
				if json.Unmarshal(trimmed, &point) == nil {
					points = append(points, point)
				}
			}

			for _, point := range points {
				coordinates = append(coordinates, ctdf.TrackCoordinate{
					Latitude:  float64(point.Latitude),
					Longitude: float64(point.Longitude),
					Delay:     float64(point.Delay),
				})
			}
		}

		return coordinates
	}

	return nil
}

// track builds the route view, falling back to the first and last stations for the terminus names
func (e *showTrackEntry) track() *ctdf.TrainTrackInfo {
	track := &ctdf.TrainTrackInfo{
		Coordinates: e.coordinates(),
		Stations:    e.stations(),
	}

	if e.T != nil {
		track.StartStationName = e.T.Start
		track.EndStationName = e.T.End
	}

	if len(track.Stations) > 0 {
		if track.StartStationName == "" {
			track.StartStationName = track.Stations[0].Name
		}
		if track.EndStationName == "" {
			track.EndStationName = track.Stations[len(track.Stations)-1].Name
		}
	}

	return track
}
