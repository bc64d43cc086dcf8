package gtfsrt

import (
	"strings"
	"testing"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travigo/livetrains/pkg/ctdf"
	"google.golang.org/protobuf/proto"
)

func TestVehiclePositions(t *testing.T) {
	assert := assert.New(t)

	updateTime := time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC)
	positions := []*ctdf.TrainPosition{
		{
			Number:       "5310",
			Type:         "IC",
			TrainID:      123456,
			Latitude:     52.229,
			Longitude:    21.011,
			HasGPS:       true,
			AverageSpeed: 90,
			LastUpdated:  updateTime.Add(-10 * time.Second),
		},
		{
			Number:    "91100",
			Latitude:  50.06,
			Longitude: 19.94,
		},
		{
			Latitude: 1,
		},
	}

	feed := VehiclePositions(positions, updateTime)

	assert.Equal("2.0", feed.GetHeader().GetGtfsRealtimeVersion())
	assert.Equal(gtfs.FeedHeader_FULL_DATASET, feed.GetHeader().GetIncrementality())
	assert.Equal(uint64(updateTime.Unix()), feed.GetHeader().GetTimestamp())
	require.Len(t, feed.GetEntity(), 2)

	first := feed.GetEntity()[0].GetVehicle()
	assert.Equal("5310", first.GetVehicle().GetId())
	assert.Equal("IC 5310", first.GetVehicle().GetLabel())
	assert.Equal("123456", first.GetTrip().GetTripId())
	assert.InDelta(52.229, first.GetPosition().GetLatitude(), 0.0001)
	assert.InDelta(25.0, first.GetPosition().GetSpeed(), 0.0001)
	assert.Equal(uint64(updateTime.Unix()-10), first.GetTimestamp())

	second := feed.GetEntity()[1].GetVehicle()
	assert.Equal("91100", second.GetVehicle().GetLabel())
	assert.Nil(second.GetTrip())
	assert.Nil(second.GetPosition().Speed)
	assert.Nil(second.Timestamp)
}

func TestMarshal(t *testing.T) {
	assert := assert.New(t)

	feed := VehiclePositions([]*ctdf.TrainPosition{{Number: "1", Latitude: 50, Longitude: 20}}, time.Unix(1700000000, 0))

	binary, err := Marshal(feed, false)
	assert.NoError(err)

	decoded := &gtfs.FeedMessage{}
	assert.NoError(proto.Unmarshal(binary, decoded))
	assert.Equal("1", decoded.GetEntity()[0].GetId())

	text, err := Marshal(feed, true)
	assert.NoError(err)
	assert.True(strings.Contains(string(text), "gtfs_realtime_version"))
}
