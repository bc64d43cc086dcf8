package gtfsrt

import (
	"fmt"
	"strconv"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/travigo/livetrains/pkg/ctdf"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"
)

const Version = "2.0"

// VehiclePositions converts the published positions into a full dataset
// GTFS-RT feed, one entity per train
func VehiclePositions(positions []*ctdf.TrainPosition, updateTime time.Time) *gtfs.FeedMessage {
	entities := make([]*gtfs.FeedEntity, 0, len(positions))

	for _, position := range positions {
		if position.Number == "" {
			continue
		}

		vehiclePosition := &gtfs.VehiclePosition{
			Vehicle: &gtfs.VehicleDescriptor{
				Id:    proto.String(position.Number),
				Label: proto.String(vehicleLabel(position)),
			},
			Position: &gtfs.Position{
				Latitude:  proto.Float32(float32(position.Latitude)),
				Longitude: proto.Float32(float32(position.Longitude)),
			},
		}

		if position.AverageSpeed > 0 {
			vehiclePosition.Position.Speed = proto.Float32(float32(position.AverageSpeed / 3.6))
		}
		if position.TrainID > 0 {
			vehiclePosition.Trip = &gtfs.TripDescriptor{
				TripId: proto.String(strconv.FormatInt(position.TrainID, 10)),
			}
		}
		if !position.LastUpdated.IsZero() {
			vehiclePosition.Timestamp = proto.Uint64(uint64(position.LastUpdated.Unix()))
		}

		entities = append(entities, &gtfs.FeedEntity{
			Id:      proto.String(position.Number),
			Vehicle: vehiclePosition,
		})
	}

	return &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String(Version),
			Incrementality:      gtfs.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(uint64(updateTime.Unix())),
		},
		Entity: entities,
	}
}

func vehicleLabel(position *ctdf.TrainPosition) string {
	if position.Type == "" {
		return position.Number
	}
	return fmt.Sprintf("%s %s", position.Type, position.Number)
}

func Marshal(feed *gtfs.FeedMessage, humanReadable bool) ([]byte, error) {
	var data []byte
	var err error

	if humanReadable {
		data, err = prototext.Marshal(feed)
	} else {
		data, err = proto.Marshal(feed)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to marshal feed: %w", err)
	}

	return data, nil
}
