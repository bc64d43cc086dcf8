package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/travigo/livetrains/pkg/config"
)

const TrainPositionsTable = "train_positions"

const createTrainPositions = `
CREATE TABLE IF NOT EXISTS train_positions (
	number         TEXT PRIMARY KEY,
	type           TEXT NOT NULL,
	carrier        TEXT NOT NULL,
	train_id       BIGINT NOT NULL,
	latitude       DOUBLE PRECISION NOT NULL,
	longitude      DOUBLE PRECISION NOT NULL,
	has_gps        BOOLEAN NOT NULL,
	gps_timestamp  TEXT NOT NULL,
	average_speed  DOUBLE PRECISION NOT NULL,
	speed_category TEXT NOT NULL,
	last_updated   TIMESTAMPTZ NOT NULL
)`

func ConnectPostgres(cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Connection)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, createTrainPositions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: create %s: %w", TrainPositionsTable, err)
	}

	log.Info().Msg("Connected to PostgreSQL")

	return pool, nil
}
