package redis_client

import (
	"context"
	"errors"

	"github.com/adjust/rmq/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/travigo/livetrains/pkg/config"
)

const queueTag = "livetrains"

type Connection struct {
	Client *redis.Client
	Queue  rmq.Connection
}

func Connect(cfg config.RedisConfig) (*Connection, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address not set")
	}

	options := &redis.Options{
		Addr: cfg.Address,
		DB:   cfg.Database,
	}
	if cfg.Password != "" {
		options.Password = cfg.Password
	}

	client := redis.NewClient(options)

	statusCmd := client.Ping(context.Background())
	if err := statusCmd.Err(); err != nil {
		return nil, err
	}

	errChan := make(chan error, 10)
	go logQueueErrors(errChan)

	queueConnection, err := rmq.OpenConnectionWithRedisClient(queueTag, client, errChan)
	if err != nil {
		return nil, err
	}

	log.Info().Str("address", cfg.Address).Int("database", cfg.Database).Msg("Redis client setup")

	return &Connection{
		Client: client,
		Queue:  queueConnection,
	}, nil
}

func logQueueErrors(errChan <-chan error) {
	for err := range errChan {
		switch err := err.(type) {
		case *rmq.HeartbeatError:
			if err.Count == rmq.HeartbeatErrorLimit {
				log.Error().Err(err).Msg("Queue heartbeat error limit reached")
			} else {
				log.Warn().Err(err).Msg("Queue heartbeat error")
			}
		default:
			log.Error().Err(err).Msg("Queue error")
		}
	}
}

func (c *Connection) Close() error {
	<-c.Queue.StopAllConsuming()

	return c.Client.Close()
}
