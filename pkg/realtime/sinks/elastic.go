package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/travigo/livetrains/pkg/ctdf"
)

const DefaultIndexPrefix = "livetrains-positions"

type DocumentIndexer interface {
	IndexRequest(ctx context.Context, indexName string, document io.ReadSeeker) error
	WaitUntilQueueEmpty(ctx context.Context) error
}

// ElasticSink records every position as a document in a weekly index
type ElasticSink struct {
	Indexer     DocumentIndexer
	IndexPrefix string
	Now         func() time.Time
}

type positionDocument struct {
	Timestamp time.Time `json:"Timestamp"`
	PositionEvent
	Coordinates []float64 `json:"coordinates"`
}

func (s *ElasticSink) Name() string {
	return "elasticsearch"
}

func (s *ElasticSink) IndexName(timestamp time.Time) string {
	prefix := s.IndexPrefix
	if prefix == "" {
		prefix = DefaultIndexPrefix
	}

	yearNumber, weekNumber := timestamp.ISOWeek()
	return fmt.Sprintf("%s-%d-%d", prefix, yearNumber, weekNumber)
}

func (s *ElasticSink) Write(ctx context.Context, positions []*ctdf.TrainPosition) error {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	currentTime := now()
	indexName := s.IndexName(currentTime)

	for _, position := range positions {
		event := NewPositionEvent(position)
		documentBytes, err := json.Marshal(positionDocument{
			Timestamp:     currentTime,
			PositionEvent: event,
			Coordinates:   event.Location.Coordinates,
		})
		if err != nil {
			return err
		}

		if err := s.Indexer.IndexRequest(ctx, indexName, bytes.NewReader(documentBytes)); err != nil {
			return err
		}
	}

	return nil
}

func (s *ElasticSink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.Indexer.WaitUntilQueueEmpty(ctx)
}
