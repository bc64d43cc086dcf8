package trainstate

import "sync"

// scheduleSuffix separates the history of a schedule-derived entry from the
// GPS-tracked entry with the same train number
const scheduleSuffix = "#schedule"

// HistoryKey is the tracker key for a train entry
func HistoryKey(trainNumber string, hasGPS bool) string {
	if hasGPS {
		return trainNumber
	}

	return trainNumber + scheduleSuffix
}

// IDMapping maps train numbers to the numeric identifier the detail API expects.
// Entries are only ever added or overwritten.
type IDMapping struct {
	mutex sync.RWMutex
	ids   map[string]int64
}

func NewIDMapping() *IDMapping {
	return &IDMapping{
		ids: map[string]int64{},
	}
}

// Set stores the identifier, ignoring empty numbers and non-positive ids
func (m *IDMapping) Set(trainNumber string, trainID int64) bool {
	if trainNumber == "" || trainID <= 0 {
		return false
	}

	m.mutex.Lock()
	m.ids[trainNumber] = trainID
	m.mutex.Unlock()

	return true
}

func (m *IDMapping) TrainIDFor(trainNumber string) (int64, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	id, ok := m.ids[trainNumber]
	return id, ok
}

func (m *IDMapping) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return len(m.ids)
}
