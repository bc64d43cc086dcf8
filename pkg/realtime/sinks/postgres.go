package sinks

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/travigo/livetrains/pkg/ctdf"
)

const upsertTrainPosition = `
INSERT INTO train_positions (
	number, type, carrier, train_id, latitude, longitude,
	has_gps, gps_timestamp, average_speed, speed_category, last_updated
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (number) DO UPDATE SET
	type = EXCLUDED.type,
	carrier = EXCLUDED.carrier,
	train_id = EXCLUDED.train_id,
	latitude = EXCLUDED.latitude,
	longitude = EXCLUDED.longitude,
	has_gps = EXCLUDED.has_gps,
	gps_timestamp = EXCLUDED.gps_timestamp,
	average_speed = EXCLUDED.average_speed,
	speed_category = EXCLUDED.speed_category,
	last_updated = EXCLUDED.last_updated`

type BatchSender interface {
	SendBatch(ctx context.Context, batch *pgx.Batch) pgx.BatchResults
}

// PostgresSink keeps one row per train number with its latest position
type PostgresSink struct {
	Pool BatchSender
	// Called on Close, usually the pool's Close
	OnClose func()
}

func (s *PostgresSink) Name() string {
	return "postgres"
}

func (s *PostgresSink) Write(ctx context.Context, positions []*ctdf.TrainPosition) error {
	if len(positions) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, position := range positions {
		batch.Queue(upsertTrainPosition,
			position.Number, position.Type, position.Carrier, position.TrainID,
			position.Latitude, position.Longitude,
			position.HasGPS, position.GPSTimestamp,
			position.AverageSpeed, string(position.SpeedCategory), position.LastUpdated,
		)
	}

	results := s.Pool.SendBatch(ctx, batch)

	for _, position := range positions {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("postgres: upsert train %s: %w", position.Number, err)
		}
	}

	return results.Close()
}

func (s *PostgresSink) Close() error {
	if s.OnClose != nil {
		s.OnClose()
	}
	return nil
}
