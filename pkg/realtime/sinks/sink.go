package sinks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/travigo/livetrains/pkg/ctdf"
)

// Sink receives every deduplicated batch published by the stream
type Sink interface {
	Name() string
	Write(ctx context.Context, positions []*ctdf.TrainPosition) error
	Close() error
}

// PositionEvent is the wire form shared by the message based sinks
type PositionEvent struct {
	Number        string             `json:"number"`
	Type          string             `json:"type"`
	Carrier       string             `json:"carrier"`
	TrainID       int64              `json:"trainId,omitempty"`
	Location      ctdf.Location      `json:"location"`
	HasGPS        bool               `json:"hasGps"`
	GPSTimestamp  string             `json:"gpsTimestamp,omitempty"`
	AverageSpeed  float64            `json:"averageSpeed"`
	SpeedCategory ctdf.SpeedCategory `json:"speedCategory"`
	LastUpdated   time.Time          `json:"lastUpdated"`
}

func NewPositionEvent(position *ctdf.TrainPosition) PositionEvent {
	return PositionEvent{
		Number:        position.Number,
		Type:          position.Type,
		Carrier:       position.Carrier,
		TrainID:       position.TrainID,
		Location:      position.Location(),
		HasGPS:        position.HasGPS,
		GPSTimestamp:  position.GPSTimestamp,
		AverageSpeed:  position.AverageSpeed,
		SpeedCategory: position.SpeedCategory,
		LastUpdated:   position.LastUpdated,
	}
}

// BatchEvent carries a whole batch in a single message
type BatchEvent struct {
	Timestamp time.Time       `json:"timestamp"`
	Count     int             `json:"count"`
	Trains    []PositionEvent `json:"trains"`
}

func marshalBatch(timestamp time.Time, positions []*ctdf.TrainPosition) ([]byte, error) {
	event := BatchEvent{
		Timestamp: timestamp,
		Count:     len(positions),
		Trains:    make([]PositionEvent, 0, len(positions)),
	}
	for _, position := range positions {
		event.Trains = append(event.Trains, NewPositionEvent(position))
	}

	return json.Marshal(event)
}
