package sinks

import (
	"context"
	"errors"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/rs/zerolog/log"
	"github.com/travigo/livetrains/pkg/config"
	"github.com/travigo/livetrains/pkg/ctdf"
)

type StompSender interface {
	Send(destination, contentType string, body []byte, opts ...func(*frame.Frame) error) error
	Disconnect() error
}

// StompSink sends each batch as a single JSON message to a STOMP destination
type StompSink struct {
	Conn        StompSender
	Destination string
	Now         func() time.Time
}

func DialStomp(cfg config.StompConfig) (*StompSink, error) {
	if cfg.Address == "" {
		return nil, errors.New("stomp address not set")
	}

	var stompOptions []func(*stomp.Conn) error = []func(*stomp.Conn) error{
		stomp.ConnOpt.HeartBeat(15*time.Second, 15*time.Second),
	}
	if cfg.Username != "" {
		stompOptions = append(stompOptions, stomp.ConnOpt.Login(cfg.Username, cfg.Password))
	}

	conn, err := stomp.Dial("tcp", cfg.Address, stompOptions...)
	if err != nil {
		return nil, err
	}

	log.Info().Str("address", cfg.Address).Str("destination", cfg.Destination).Msg("Connected to STOMP server")

	return &StompSink{
		Conn:        conn,
		Destination: cfg.Destination,
		Now:         time.Now,
	}, nil
}

func (s *StompSink) Name() string {
	return "stomp"
}

func (s *StompSink) Write(ctx context.Context, positions []*ctdf.TrainPosition) error {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	body, err := marshalBatch(now(), positions)
	if err != nil {
		return err
	}

	return s.Conn.Send(s.Destination, "application/json", body, stomp.SendOpt.Header("persistent", "false"))
}

func (s *StompSink) Close() error {
	return s.Conn.Disconnect()
}
