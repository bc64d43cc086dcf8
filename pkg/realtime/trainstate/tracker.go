// Package trainstate keeps the per-train state derived from the live feed:
// a short position history used for speed estimation and the mapping from
// train numbers to the internal identifiers used by detail lookups.
package trainstate

import (
	"sync"
	"time"

	"github.com/travigo/livetrains/pkg/ctdf"
)

type Config struct {
	// Number of fixes kept per train
	MaxFixes int
	// Fixes older than this relative to now are dropped
	Window time.Duration

	// A fix closer than DebounceDistance (metres) and sooner than
	// DebounceInterval after the previous one is discarded
	DebounceDistance float64
	DebounceInterval time.Duration

	// Pairs implying more than MaxSpeedKMH are GPS glitches
	MaxSpeedKMH float64
	// Pairs closer than MinMovement (metres) carry no speed information
	MinMovement float64
}

var DefaultConfig = Config{
	MaxFixes:         20,
	Window:           10 * time.Minute,
	DebounceDistance: 10,
	DebounceInterval: 30 * time.Second,
	MaxSpeedKMH:      300,
	MinMovement:      1,
}

// History is the state held for a single train number
type History struct {
	Fixes []ctdf.PositionFix

	CurrentSpeedKMH float64
	SpeedCategory   ctdf.SpeedCategory
}

type Tracker struct {
	Config Config
	Now    func() time.Time

	mutex     sync.RWMutex
	histories map[string]*History
}

func NewTracker(config Config) *Tracker {
	return &Tracker{
		Config:    config,
		Now:       time.Now,
		histories: map[string]*History{},
	}
}

// AddFix records a new observation for the train and returns the resulting speed estimate
func (t *Tracker) AddFix(trainNumber string, latitude float64, longitude float64, timestamp time.Time) (float64, ctdf.SpeedCategory) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	history, exists := t.histories[trainNumber]
	if !exists {
		history = &History{SpeedCategory: ctdf.SpeedCategoryUnknown}
		t.histories[trainNumber] = history
	}

	fix := ctdf.PositionFix{
		Latitude:  latitude,
		Longitude: longitude,
		Timestamp: timestamp,
	}

	if len(history.Fixes) > 0 {
		last := history.Fixes[len(history.Fixes)-1]

		// Timestamps strictly increase, a repeat of the same instant is dropped
		if !timestamp.After(last.Timestamp) {
			return history.CurrentSpeedKMH, history.SpeedCategory
		}

		distance := ctdf.HaversineDistance(last.Latitude, last.Longitude, latitude, longitude)
		elapsed := timestamp.Sub(last.Timestamp)

		if distance < t.Config.DebounceDistance && elapsed < t.Config.DebounceInterval {
			return history.CurrentSpeedKMH, history.SpeedCategory
		}

		if speed, ok := t.pairSpeed(last, fix); ok {
			fix.SpeedKMH = &speed
		}
	}

	history.Fixes = append(history.Fixes, fix)

	if t.Config.MaxFixes > 0 && len(history.Fixes) > t.Config.MaxFixes {
		history.Fixes = append([]ctdf.PositionFix(nil), history.Fixes[len(history.Fixes)-t.Config.MaxFixes:]...)
	}

	t.prune(history)
	t.recalculate(history)

	return history.CurrentSpeedKMH, history.SpeedCategory
}

// CurrentSpeed returns the last estimate for the train, (0, Unknown) when none has been made
func (t *Tracker) CurrentSpeed(trainNumber string) (float64, ctdf.SpeedCategory) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	history, exists := t.histories[trainNumber]
	if !exists {
		return 0, ctdf.SpeedCategoryUnknown
	}

	return history.CurrentSpeedKMH, history.SpeedCategory
}

// History returns a copy of the stored history for a train
func (t *Tracker) History(trainNumber string) (History, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	history, exists := t.histories[trainNumber]
	if !exists {
		return History{}, false
	}

	copied := *history
	copied.Fixes = append([]ctdf.PositionFix(nil), history.Fixes...)

	return copied, true
}

// Len is the number of distinct trains seen
func (t *Tracker) Len() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return len(t.histories)
}

func (t *Tracker) prune(history *History) {
	if t.Config.Window <= 0 {
		return
	}

	cutoff := t.Now().Add(-t.Config.Window)

	firstValid := 0
	for firstValid < len(history.Fixes) && history.Fixes[firstValid].Timestamp.Before(cutoff) {
		firstValid++
	}

	if firstValid > 0 {
		history.Fixes = append([]ctdf.PositionFix(nil), history.Fixes[firstValid:]...)
	}
}

// recalculate combines every valid consecutive pair with a weight of 2^i so the
// newest samples dominate. With no valid samples the previous estimate stays.
func (t *Tracker) recalculate(history *History) {
	var weightedTotal, weightTotal float64
	weight := 1.0

	for i := 1; i < len(history.Fixes); i++ {
		speed, ok := t.pairSpeed(history.Fixes[i-1], history.Fixes[i])
		if !ok {
			continue
		}

		weightedTotal += speed * weight
		weightTotal += weight
		weight *= 2
	}

	if weightTotal == 0 {
		return
	}

	history.CurrentSpeedKMH = weightedTotal / weightTotal
	history.SpeedCategory = ctdf.CategoriseSpeed(history.CurrentSpeedKMH)
}

func (t *Tracker) pairSpeed(from ctdf.PositionFix, to ctdf.PositionFix) (float64, bool) {
	elapsed := to.Timestamp.Sub(from.Timestamp)
	if elapsed <= 0 {
		return 0, false
	}

	distance := ctdf.HaversineDistance(from.Latitude, from.Longitude, to.Latitude, to.Longitude)
	if distance < t.Config.MinMovement {
		return 0, false
	}

	speed := ctdf.SpeedKMH(distance, elapsed)
	if speed > t.Config.MaxSpeedKMH {
		return 0, false
	}

	return speed, true
}
