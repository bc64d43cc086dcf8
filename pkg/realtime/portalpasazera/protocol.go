package portalpasazera

import (
	"encoding/json"
	"strconv"
)

// RecordSeparator terminates every SignalR JSON protocol frame
const RecordSeparator byte = 0x1E

const (
	BatchTarget      = "TrainStatus"
	RegisterTarget   = "RegisterParams"
	HandshakeMessage = `{"protocol":"json","version":1}`
)

// SignalR message types
const (
	MessageTypeInvocation = 1
	MessageTypeCompletion = 3
	MessageTypePing       = 6
	MessageTypeClose      = 7
)

// Region is the bounding box and filter set sent to the hub when subscribing
type Region struct {
	Country  string  `yaml:"country" validate:"required"`
	Zoom     float64 `yaml:"zoom"`
	South    float64 `yaml:"south" validate:"gte=-90,lte=90"`
	West     float64 `yaml:"west" validate:"gte=-180,lte=180"`
	North    float64 `yaml:"north" validate:"gte=-90,lte=90,gtefield=South"`
	East     float64 `yaml:"east" validate:"gte=-180,lte=180,gtefield=West"`
	Flags    int     `yaml:"flags"`
	Live     bool    `yaml:"live"`
	Category string  `yaml:"category"`
	Query    string  `yaml:"query"`
}

// DefaultRegion covers the whole of Poland
var DefaultRegion = Region{
	Country:  "PL",
	Zoom:     6.7,
	South:    48.35,
	West:     10.5,
	North:    55.53,
	East:     28.3,
	Flags:    0,
	Live:     true,
	Category: "ATM",
	Query:    "",
}

func (r Region) arguments() []interface{} {
	return []interface{}{
		r.Country,
		r.Zoom,
		r.South,
		r.West,
		r.North,
		r.East,
		r.Flags,
		r.Live,
		r.Category,
		r.Query,
	}
}

type invocation struct {
	Arguments    []interface{} `json:"arguments"`
	InvocationID string        `json:"invocationId"`
	Target       string        `json:"target"`
	Type         int           `json:"type"`
}

// Frame terminates a message with the record separator
func Frame(message []byte) []byte {
	framed := make([]byte, 0, len(message)+1)
	framed = append(framed, message...)

	return append(framed, RecordSeparator)
}

func HandshakeFrame() []byte {
	return Frame([]byte(HandshakeMessage))
}

// RegisterFrame builds the RegisterParams invocation for the region
func RegisterFrame(region Region, invocationID int) ([]byte, error) {
	message, err := json.Marshal(invocation{
		Arguments:    region.arguments(),
		InvocationID: strconv.Itoa(invocationID),
		Target:       RegisterTarget,
		Type:         MessageTypeInvocation,
	})
	if err != nil {
		return nil, err
	}

	return Frame(message), nil
}
