package portalpasazera

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/travigo/livetrains/pkg/ctdf"
	"github.com/travigo/livetrains/pkg/realtime/trainstate"
)

// Compact keys used by the hub for each train record
const (
	recordLatitude     = "s"
	recordLongitude    = "d"
	recordNumber       = "n"
	recordType         = "p"
	recordCarrier      = "pr"
	recordTrainID      = "t"
	recordGPSTimestamp = "c"
)

var errMissingField = errors.New("missing required field")

// Decoder turns TrainStatus payloads into positions, keeping the id mapping
// and the speed history up to date as it goes
type Decoder struct {
	Tracker  *trainstate.Tracker
	TrainIDs *trainstate.IDMapping
	Now      func() time.Time
}

type batchPayload struct {
	Arguments []json.RawMessage `json:"arguments"`
}

// DecodeBatch returns the positions in upstream order. Records that cannot be
// decoded are skipped, duplicates are kept.
func (d *Decoder) DecodeBatch(payload []byte) ([]*ctdf.TrainPosition, error) {
	var batch batchPayload
	if err := json.Unmarshal(payload, &batch); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}

	if len(batch.Arguments) < 2 {
		return nil, fmt.Errorf("decode batch: expected 2 arguments, got %d", len(batch.Arguments))
	}

	var records []json.RawMessage
	if err := json.Unmarshal(batch.Arguments[1], &records); err != nil {
		return nil, fmt.Errorf("decode batch records: %w", err)
	}

	now := d.now()
	positions := make([]*ctdf.TrainPosition, 0, len(records))

	for index, record := range records {
		position, err := d.decodeRecord(record, now)
		if err != nil {
			log.Debug().Err(err).Int("index", index).Msg("Skipping train record")
			continue
		}

		positions = append(positions, position)
	}

	return positions, nil
}

// DecodeSingle decodes an incremental push for one train
func (d *Decoder) DecodeSingle(payload []byte) (*ctdf.TrainPosition, error) {
	return d.decodeRecord(payload, d.now())
}

func (d *Decoder) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}

	return d.Now()
}

func (d *Decoder) decodeRecord(record []byte, now time.Time) (*ctdf.TrainPosition, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(record, &fields); err != nil {
		return nil, err
	}

	latitude, err := decodeFloat(fields, recordLatitude)
	if err != nil {
		return nil, err
	}
	longitude, err := decodeFloat(fields, recordLongitude)
	if err != nil {
		return nil, err
	}
	number, err := decodeString(fields, recordNumber)
	if err != nil {
		return nil, err
	}
	trainType, err := decodeString(fields, recordType)
	if err != nil {
		return nil, err
	}

	carrier, _ := decodeString(fields, recordCarrier)
	trainID, _ := decodeInt(fields, recordTrainID)

	var gpsTimestamp string
	if raw, exists := fields[recordGPSTimestamp]; exists {
		json.Unmarshal(raw, &gpsTimestamp)
	}

	position := &ctdf.TrainPosition{
		Number:        number,
		Type:          trainType,
		Carrier:       carrier,
		TrainID:       trainID,
		Latitude:      latitude,
		Longitude:     longitude,
		HasGPS:        gpsTimestamp != "",
		GPSTimestamp:  gpsTimestamp,
		SpeedCategory: ctdf.SpeedCategoryUnknown,
		LastUpdated:   now,
	}

	if d.TrainIDs != nil {
		d.TrainIDs.Set(number, trainID)
	}

	if d.Tracker != nil && number != "" {
		position.AverageSpeed, position.SpeedCategory = d.Tracker.AddFix(
			trainstate.HistoryKey(number, position.HasGPS),
			latitude,
			longitude,
			now,
		)
	}

	return position, nil
}

func lookup(fields map[string]json.RawMessage, key string) (json.RawMessage, error) {
	raw, exists := fields[key]
	if !exists || string(raw) == "null" {
		return nil, fmt.Errorf("%w %q", errMissingField, key)
	}

	return raw, nil
}

// decodeFloat accepts either a JSON number or a numeric string
func decodeFloat(fields map[string]json.RawMessage, key string) (float64, error) {
	raw, err := lookup(fields, key)
	if err != nil {
		return 0, err
	}

	var value float64
	if err := json.Unmarshal(raw, &value); err == nil {
		return value, nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return 0, fmt.Errorf("field %q: %w", key, err)
	}

	return strconv.ParseFloat(text, 64)
}

func decodeInt(fields map[string]json.RawMessage, key string) (int64, error) {
	text, err := decodeString(fields, key)
	if err != nil {
		return 0, err
	}

	if value, err := strconv.ParseInt(text, 10, 64); err == nil {
		return value, nil
	}

	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", key, err)
	}

	return int64(value), nil
}

// decodeString accepts a JSON string or a bare number
func decodeString(fields map[string]json.RawMessage, key string) (string, error) {
	raw, err := lookup(fields, key)
	if err != nil {
		return "", err
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}

	var number json.Number
	if err := json.Unmarshal(raw, &number); err != nil {
		return "", fmt.Errorf("field %q: %w", key, err)
	}

	return number.String(), nil
}
