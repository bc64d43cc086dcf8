package realtime

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travigo/livetrains/pkg/ctdf"
	"github.com/travigo/livetrains/pkg/realtime/sinks"
)

type closeRecordingSink struct {
	name   string
	closed *[]string
}

func (s *closeRecordingSink) Name() string { return s.name }

func (s *closeRecordingSink) Write(ctx context.Context, positions []*ctdf.TrainPosition) error {
	return nil
}

func (s *closeRecordingSink) Close() error {
	*s.closed = append(*s.closed, s.name)
	return nil
}

func TestOpenSinks(t *testing.T) {
	var closed []string
	opened := func(name string) sinkBuilder {
		return func() (sinks.Sink, error) {
			return &closeRecordingSink{name: name, closed: &closed}, nil
		}
	}

	t.Run("all sinks open", func(t *testing.T) {
		closed = nil

		configured, err := openSinks([]sinkBuilder{opened("stomp"), opened("nats")})
		require.NoError(t, err)

		require.Len(t, configured, 2)
		assert.Equal(t, "stomp", configured[0].Name())
		assert.Empty(t, closed)
	})

	t.Run("failure closes opened sinks", func(t *testing.T) {
		closed = nil
		failure := errors.New("postgres: connection refused")

		configured, err := openSinks([]sinkBuilder{
			opened("stomp"),
			opened("nats"),
			func() (sinks.Sink, error) { return nil, failure },
			opened("elasticsearch"),
		})

		assert.ErrorIs(t, err, failure)
		assert.Nil(t, configured)
		assert.Equal(t, []string{"nats", "stomp"}, closed)
	})
}
