package portalpasazera

import (
	"bytes"
	"encoding/json"
	"regexp"

	"github.com/rs/zerolog/log"
	"github.com/travigo/livetrains/pkg/util"
)

var batchMarker = regexp.MustCompile(`"target"\s*:\s*"` + BatchTarget + `"`)

// ParseResult is everything usable found in one frame
type ParseResult struct {
	// Objects carrying the TrainStatus marker
	Batches [][]byte
	// Bare single train records
	Updates [][]byte

	// Handshake replies, pings, acknowledgements and other no-op frames
	Control bool
	// The hub asked the client to disconnect
	Close bool
	// Nothing in the frame could be parsed
	Malformed bool
}

func (r ParseResult) empty() bool {
	return len(r.Batches) == 0 && len(r.Updates) == 0 && !r.Control && !r.Close
}

// ParseMessage classifies a single frame, recovering payloads from frames that
// contain several concatenated objects or trailing garbage
func ParseMessage(message []byte) (result ParseResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Failed to parse frame")
			result = ParseResult{Malformed: true}
		}
	}()

	trimmed := bytes.TrimSpace(message)
	if isEmptyFrame(trimmed) {
		result.Control = true
		return result
	}

	// Whole frame is one document
	if json.Valid(trimmed) {
		if classify(trimmed, &result) {
			return result
		}
	}

	// Several objects glued together
	for _, object := range SplitConcatenatedObjects(trimmed) {
		if json.Valid(object) {
			classify(object, &result)
		} else if cleaned, ok := TrimTrailingGarbage(object); ok {
			classify(cleaned, &result)
		}
	}

	// Isolate the batch by its marker when the siblings broke the split
	if len(result.Batches) == 0 {
		if location := batchMarker.FindIndex(trimmed); location != nil {
			if object, ok := ExtractEnclosingObject(trimmed, location[0]); ok && json.Valid(object) {
				classify(object, &result)
			}
		}
	}

	if result.empty() {
		if cleaned, ok := TrimTrailingGarbage(trimmed); ok {
			classify(cleaned, &result)
		}
	}

	if result.empty() {
		result.Malformed = true
		log.Warn().Str("frame", util.TrimString(string(trimmed), 500)).Msg("Dropping malformed frame")
	}

	return result
}

// isEmptyFrame matches frames with no content besides braces and whitespace
func isEmptyFrame(message []byte) bool {
	for _, b := range message {
		switch b {
		case '{', '}', ' ', '\t', '\r', '\n':
			continue
		default:
			return false
		}
	}

	return true
}

// classify records a parsed object in the result, returning false when it is not a JSON object
func classify(object []byte, result *ParseResult) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(object, &fields); err != nil {
		return false
	}

	var target string
	if raw, exists := fields["target"]; exists {
		json.Unmarshal(raw, &target)
	}

	var messageType int
	if raw, exists := fields["type"]; exists {
		json.Unmarshal(raw, &messageType)
	}

	switch {
	case target == BatchTarget:
		result.Batches = append(result.Batches, object)
	case messageType == MessageTypeClose:
		result.Close = true
		if raw, exists := fields["error"]; exists {
			log.Warn().Str("error", string(raw)).Msg("Hub closed the connection")
		}
	case isTrainRecord(fields):
		result.Updates = append(result.Updates, object)
	default:
		// Pings, completions and invocations we do not subscribe to
		result.Control = true
	}

	return true
}

func isTrainRecord(fields map[string]json.RawMessage) bool {
	if _, exists := fields["target"]; exists {
		return false
	}

	for _, key := range []string{recordLatitude, recordLongitude, recordNumber, recordType} {
		if _, exists := fields[key]; !exists {
			return false
		}
	}

	return true
}

// SplitConcatenatedObjects returns every balanced top level object in the data.
// Braces inside quoted strings are ignored. When no complete object is found
// data starting with a brace is returned whole so it can be cleaned up.
func SplitConcatenatedObjects(data []byte) [][]byte {
	var objects [][]byte

	depth := 0
	start := 0
	inString := false
	escaped := false

	for i, c := range data {
		if escaped {
			escaped = false
			continue
		}

		if inString {
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			depth--
			if depth == 0 {
				objects = append(objects, data[start:i+1])
			} else if depth < 0 {
				depth = 0
			}
		}
	}

	if len(objects) == 0 {
		trimmed := bytes.TrimSpace(data)
		if len(trimmed) > 0 && trimmed[0] == '{' {
			objects = append(objects, trimmed)
		}
	}

	return objects
}

// ExtractEnclosingObject returns the innermost valid object that spans index.
// Candidates are tried from the nearest preceding brace outwards and each one is
// scanned from its own opening brace, so a truncated string earlier in the data
// cannot flip the quote state.
func ExtractEnclosingObject(data []byte, index int) ([]byte, bool) {
	if index < 0 || index >= len(data) {
		return nil, false
	}

	for start := index; start >= 0; start-- {
		if data[start] != '{' {
			continue
		}

		end, ok := matchingBrace(data, start)
		if !ok || end < index {
			continue
		}

		object := data[start : end+1]
		if json.Valid(object) {
			return object, true
		}
	}

	return nil, false
}

// matchingBrace finds the brace closing the object opened at start
func matchingBrace(data []byte, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(data); i++ {
		c := data[i]

		if escaped {
			escaped = false
			continue
		}

		if inString {
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}

	return -1, false
}

// TrimTrailingGarbage cuts everything after the last closing brace and reports
// whether the remainder is valid JSON
func TrimTrailingGarbage(data []byte) ([]byte, bool) {
	last := bytes.LastIndexByte(data, '}')
	if last < 0 || last == len(data)-1 {
		return nil, false
	}

	cleaned := data[:last+1]
	if !json.Valid(cleaned) {
		return nil, false
	}

	return cleaned, true
}
