package portalpasazera

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/travigo/livetrains/pkg/ctdf"
)

func TestDeduplicate(t *testing.T) {
	gps := &ctdf.TrainPosition{Number: "101", HasGPS: true}
	schedule := &ctdf.TrainPosition{Number: "101", HasGPS: false}
	single := &ctdf.TrainPosition{Number: "202", HasGPS: true}
	firstOfTwoSchedule := &ctdf.TrainPosition{Number: "303", Type: "first"}
	secondOfTwoSchedule := &ctdf.TrainPosition{Number: "303", Type: "second"}

	batch := []*ctdf.TrainPosition{single, schedule, firstOfTwoSchedule, gps, secondOfTwoSchedule}

	t.Run("prefer GPS", func(t *testing.T) {
		filtered := Deduplicate(batch, true)

		assert.Equal(t, []*ctdf.TrainPosition{single, gps, firstOfTwoSchedule}, filtered)
	})

	t.Run("prefer schedule", func(t *testing.T) {
		filtered := Deduplicate(batch, false)

		assert.Equal(t, []*ctdf.TrainPosition{single, schedule, firstOfTwoSchedule}, filtered)
	})

	t.Run("single entries survive both modes", func(t *testing.T) {
		only := []*ctdf.TrainPosition{single}

		assert.Equal(t, only, Deduplicate(only, true))
		assert.Equal(t, only, Deduplicate(only, false))
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, Deduplicate(nil, true))
	})
}
