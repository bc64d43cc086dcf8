package config

import (
	"fmt"
	"time"

	iso8601 "github.com/senseyeio/duration"
	"gopkg.in/yaml.v3"
)

// Duration accepts Go style durations (30s, 1h) or ISO-8601 durations (PT30S, PT1H)
type Duration struct {
	time.Duration
}

func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

func ParseDuration(text string) (Duration, error) {
	if text == "" {
		return Duration{}, nil
	}

	if parsed, err := time.ParseDuration(text); err == nil {
		return NewDuration(parsed), nil
	}

	isoDuration, err := iso8601.ParseISO8601(text)
	if err != nil {
		return Duration{}, fmt.Errorf("invalid duration %q", text)
	}

	// Calendar units are resolved against a fixed reference
	reference := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

	return NewDuration(isoDuration.Shift(reference).Sub(reference)), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err != nil {
		return err
	}

	parsed, err := ParseDuration(text)
	if err != nil {
		return err
	}

	*d = parsed
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}
