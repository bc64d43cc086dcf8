package portalpasazera

import "github.com/travigo/livetrains/pkg/ctdf"

// Deduplicate keeps a single entry per train number. When a number appears more
// than once the GPS tracked entry wins if preferGPS is set, otherwise the
// schedule based one does, falling back to the first entry seen. Groups keep
// the order in which their number first appeared.
func Deduplicate(positions []*ctdf.TrainPosition, preferGPS bool) []*ctdf.TrainPosition {
	var order []string
	groups := map[string][]*ctdf.TrainPosition{}

	for _, position := range positions {
		if position == nil {
			continue
		}

		if _, exists := groups[position.Number]; !exists {
			order = append(order, position.Number)
		}
		groups[position.Number] = append(groups[position.Number], position)
	}

	filtered := make([]*ctdf.TrainPosition, 0, len(order))

	for _, number := range order {
		group := groups[number]
		chosen := group[0]

		if len(group) > 1 {
			for _, candidate := range group {
				if candidate.HasGPS == preferGPS {
					chosen = candidate
					break
				}
			}
		}

		filtered = append(filtered, chosen)
	}

	return filtered
}
