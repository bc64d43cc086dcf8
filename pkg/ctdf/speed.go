package ctdf

import "time"

type SpeedCategory string

const (
	SpeedCategoryUnknown   SpeedCategory = "Unknown"
	SpeedCategorySlow      SpeedCategory = "Slow"
	SpeedCategoryModerate  SpeedCategory = "Moderate"
	SpeedCategoryFast      SpeedCategory = "Fast"
	SpeedCategoryHighSpeed SpeedCategory = "High-Speed"
)

// CategoriseSpeed buckets a speed in km/h
func CategoriseSpeed(speedKMH float64) SpeedCategory {
	switch {
	case speedKMH < 50:
		return SpeedCategorySlow
	case speedKMH < 100:
		return SpeedCategoryModerate
	case speedKMH < 160:
		return SpeedCategoryFast
	default:
		return SpeedCategoryHighSpeed
	}
}

// SpeedKMH converts a distance in metres covered over elapsed into km/h.
// Returns 0 for non-positive durations.
func SpeedKMH(distanceMetres float64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}

	return (distanceMetres / 1000) / elapsed.Hours()
}
