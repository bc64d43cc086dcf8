package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/travigo/livetrains/pkg/config"
	"github.com/travigo/livetrains/pkg/ctdf"
)

const DefaultSubjectPrefix = "livetrains"

type NATSPublisher interface {
	Publish(subject string, data []byte) error
	Drain() error
}

type ConnectionMetrics interface {
	SetNATSConnected(connected bool)
}

// NATSSink publishes every train on its own subject,
// {prefix}.positions.{carrier}.{number}, and the whole batch on {prefix}.batch
type NATSSink struct {
	Conn          NATSPublisher
	SubjectPrefix string
	Now           func() time.Time
}

func ConnectNATS(cfg config.NATSConfig, metrics ConnectionMetrics) (*NATSSink, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats url not set")
	}

	setConnected := func(connected bool) {
		if metrics != nil {
			metrics.SetNATSConnected(connected)
		}
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("livetrains"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			setConnected(false)
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			setConnected(true)
			log.Info().Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			setConnected(false)
			log.Info().Msg("NATS closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	setConnected(true)

	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	log.Info().Str("url", cfg.URL).Str("prefix", prefix).Msg("Connected to NATS")

	return &NATSSink{
		Conn:          nc,
		SubjectPrefix: prefix,
		Now:           time.Now,
	}, nil
}

func (s *NATSSink) Name() string {
	return "nats"
}

func (s *NATSSink) Write(ctx context.Context, positions []*ctdf.TrainPosition) error {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	var errs []error

	for _, position := range positions {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		eventBytes, err := json.Marshal(NewPositionEvent(position))
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if err := s.Conn.Publish(s.PositionSubject(position), eventBytes); err != nil {
			errs = append(errs, err)
		}
	}

	batchBytes, err := marshalBatch(now(), positions)
	if err != nil {
		return err
	}
	if err := s.Conn.Publish(s.SubjectPrefix+".batch", batchBytes); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (s *NATSSink) PositionSubject(position *ctdf.TrainPosition) string {
	return fmt.Sprintf("%s.positions.%s.%s", s.SubjectPrefix, subjectToken(position.Carrier), subjectToken(position.Number))
}

func (s *NATSSink) Close() error {
	return s.Conn.Drain()
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS tokens cannot contain whitespace, wildcards or separators
	replacer := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = replacer.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
