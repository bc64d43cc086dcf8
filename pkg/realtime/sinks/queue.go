package sinks

import (
	"context"
	"encoding/json"

	"github.com/travigo/livetrains/pkg/ctdf"
)

const DefaultQueueName = "train-positions"

type BytesPublisher interface {
	PublishBytes(payload ...[]byte) error
}

// QueueSink pushes one event per train onto an rmq queue
type QueueSink struct {
	Queue BytesPublisher
}

func (s *QueueSink) Name() string {
	return "queue"
}

func (s *QueueSink) Write(ctx context.Context, positions []*ctdf.TrainPosition) error {
	payloads := make([][]byte, 0, len(positions))

	for _, position := range positions {
		eventBytes, err := json.Marshal(NewPositionEvent(position))
		if err != nil {
			return err
		}
		payloads = append(payloads, eventBytes)
	}

	if len(payloads) == 0 {
		return nil
	}

	return s.Queue.PublishBytes(payloads...)
}

func (s *QueueSink) Close() error {
	return nil
}
