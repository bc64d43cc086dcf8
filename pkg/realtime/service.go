package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/travigo/livetrains/pkg/api"
	"github.com/travigo/livetrains/pkg/config"
	"github.com/travigo/livetrains/pkg/database"
	"github.com/travigo/livetrains/pkg/elastic_client"
	"github.com/travigo/livetrains/pkg/metrics"
	"github.com/travigo/livetrains/pkg/realtime/portalpasazera"
	"github.com/travigo/livetrains/pkg/realtime/sinks"
	"github.com/travigo/livetrains/pkg/realtime/traindetails"
	"github.com/travigo/livetrains/pkg/redis_client"
)

const cleanerInterval = 5 * time.Minute

// Service wires the stream orchestrator to its sinks, the detail lookups and
// the web API
type Service struct {
	Config       *config.Config
	Orchestrator *portalpasazera.Orchestrator
	Dispatcher   *sinks.Dispatcher
	Details      *traindetails.Service
	Metrics      *metrics.Collector

	redis   *redis_client.Connection
	closers []func(ctx context.Context) error
}

func NewOrchestrator(cfg *config.Config, metrics portalpasazera.Metrics) (*portalpasazera.Orchestrator, error) {
	feed := cfg.Feed

	return portalpasazera.NewOrchestrator(portalpasazera.Options{
		Negotiator: &portalpasazera.HTTPNegotiator{
			BaseURL: feed.BaseURL,
			HubPath: feed.HubPath,
			Headers: feed.Headers,
			Client:  portalpasazera.NewHTTPClient(feed.NegotiateTimeout.Duration),
		},
		Dialer: &portalpasazera.WebsocketDialer{
			Headers:          feed.Headers,
			HandshakeTimeout: feed.NegotiateTimeout.Duration,
			ReceiveTimeout:   feed.ReceiveTimeout.Duration,
			WriteTimeout:     10 * time.Second,
		},
		Region:           feed.Region,
		GPSFilter:        feed.GPSFilter,
		Filter:           feed.Filter,
		History:          cfg.History.TrackerConfig(),
		NegotiateTimeout: feed.NegotiateTimeout.Duration,
		Backoff:          feed.ReconnectBackOff(),
		Metrics:          metrics,
	})
}

func NewService(cfg *config.Config) (*Service, error) {
	service := &Service{
		Config:  cfg,
		Metrics: metrics.NewCollector(),
	}

	orchestrator, err := NewOrchestrator(cfg, service.Metrics)
	if err != nil {
		return nil, err
	}
	service.Orchestrator = orchestrator

	if cfg.Sinks.Queue || cfg.Details.Cache == "redis" {
		connection, err := redis_client.Connect(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		service.redis = connection
		service.closers = append(service.closers, func(ctx context.Context) error {
			return connection.Close()
		})
	}

	var tokenCache traindetails.TokenCache = traindetails.NewMemoryTokenCache(cfg.Details.TokenTTL.Duration)
	if cfg.Details.Cache == "redis" {
		tokenCache = traindetails.NewRedisTokenCache(service.redis.Client, cfg.Details.TokenTTL.Duration)
	}
	service.Details = traindetails.NewService(
		cfg.Feed.BaseURL,
		cfg.Feed.Headers,
		portalpasazera.NewHTTPClient(cfg.Details.RequestTimeout.Duration),
		tokenCache,
		orchestrator,
	)

	configuredSinks, err := service.buildSinks()
	if err != nil {
		service.Close(context.Background())
		return nil, err
	}

	service.Dispatcher = sinks.NewDispatcher(configuredSinks...)
	service.Dispatcher.Metrics = service.Metrics
	orchestrator.Subscribe(service.Dispatcher)

	return service, nil
}

type sinkBuilder func() (sinks.Sink, error)

func (s *Service) buildSinks() ([]sinks.Sink, error) {
	cfg := s.Config
	var builders []sinkBuilder

	if cfg.Sinks.Queue {
		builders = append(builders, func() (sinks.Sink, error) {
			queue, err := s.redis.Queue.OpenQueue(sinks.DefaultQueueName)
			if err != nil {
				return nil, fmt.Errorf("open queue: %w", err)
			}
			return &sinks.QueueSink{Queue: queue}, nil
		})
	}

	if cfg.Sinks.Stomp {
		builders = append(builders, func() (sinks.Sink, error) {
			stompSink, err := sinks.DialStomp(cfg.Stomp)
			if err != nil {
				return nil, fmt.Errorf("stomp: %w", err)
			}
			return stompSink, nil
		})
	}

	if cfg.Sinks.NATS {
		builders = append(builders, func() (sinks.Sink, error) {
			natsSink, err := sinks.ConnectNATS(cfg.NATS, s.Metrics)
			if err != nil {
				return nil, fmt.Errorf("nats: %w", err)
			}
			return natsSink, nil
		})
	}

	if cfg.Sinks.MongoDB {
		builders = append(builders, func() (sinks.Sink, error) {
			instance, err := database.Connect(cfg.MongoDB)
			if err != nil {
				return nil, fmt.Errorf("mongodb: %w", err)
			}
			s.closers = append(s.closers, instance.Disconnect)

			return &sinks.MongoSink{
				Collection: instance.GetCollection(database.RealtimeTrainsCollection),
			}, nil
		})
	}

	if cfg.Sinks.Postgres {
		builders = append(builders, func() (sinks.Sink, error) {
			pool, err := database.ConnectPostgres(cfg.Postgres)
			if err != nil {
				return nil, err
			}

			return &sinks.PostgresSink{
				Pool:    pool,
				OnClose: pool.Close,
			}, nil
		})
	}

	if cfg.Sinks.Elasticsearch {
		builders = append(builders, func() (sinks.Sink, error) {
			connection, err := elastic_client.Connect(cfg.Elasticsearch)
			if err != nil {
				return nil, fmt.Errorf("elasticsearch: %w", err)
			}

			return &sinks.ElasticSink{
				Indexer:     connection,
				IndexPrefix: cfg.Elasticsearch.IndexPrefix,
			}, nil
		})
	}

	return openSinks(builders)
}

// openSinks builds the sinks in order. When one fails the sinks already
// opened are closed before the error is returned.
func openSinks(builders []sinkBuilder) ([]sinks.Sink, error) {
	var configured []sinks.Sink

	for _, build := range builders {
		sink, err := build()
		if err != nil {
			for i := len(configured) - 1; i >= 0; i-- {
				if closeErr := configured[i].Close(); closeErr != nil {
					log.Error().Err(closeErr).Str("sink", configured[i].Name()).Msg("Failed to close sink")
				}
			}
			return nil, err
		}

		log.Info().Str("sink", sink.Name()).Msg("Sink enabled")
		configured = append(configured, sink)
	}

	return configured, nil
}

// Run streams positions and serves the API on listen until the context is
// cancelled. An empty listen address disables the API.
func (s *Service) Run(ctx context.Context, listen string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	dispatcherDone := make(chan struct{})
	go func() {
		s.Dispatcher.Run(ctx)
		close(dispatcherDone)
	}()

	if s.redis != nil && s.Config.Sinks.Queue {
		go RunCleaner(ctx, s.redis.Queue, cleanerInterval)
	}

	var webApp *fiber.App
	apiErrors := make(chan error, 1)
	if listen != "" {
		webApp = api.NewApp(api.Options{
			Feed:    s.Orchestrator,
			Details: s.Details,
			Metrics: s.Metrics.Handler(),
		})

		go func() {
			log.Info().Str("listen", listen).Msg("Starting web API")
			apiErrors <- webApp.Listen(listen)
		}()
	}

	if err := s.Orchestrator.Start(ctx); err != nil {
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-apiErrors:
		runErr = fmt.Errorf("web api: %w", err)
	}

	log.Info().Msg("Shutting down")

	s.Orchestrator.Stop()
	<-s.Orchestrator.Done()
	cancel()
	<-dispatcherDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if webApp != nil {
		if err := webApp.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shut down web API")
		}
	}

	return errors.Join(runErr, s.Close(shutdownCtx))
}

func (s *Service) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil

	return errors.Join(errs...)
}
