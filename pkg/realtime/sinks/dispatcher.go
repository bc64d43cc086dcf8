package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
	"github.com/travigo/livetrains/pkg/ctdf"
)

type Metrics interface {
	SinkWritten(sink string, err error)
}

// Dispatcher fans published batches out to the configured sinks.
// PositionsUpdated never blocks: when the sinks fall behind only the newest
// batch is kept.
type Dispatcher struct {
	Sinks   []Sink
	Metrics Metrics
	Timeout time.Duration

	pending chan []*ctdf.TrainPosition
	mutex   sync.Mutex
}

func NewDispatcher(sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		Sinks:   sinks,
		Timeout: 30 * time.Second,
		pending: make(chan []*ctdf.TrainPosition, 1),
	}
}

func (d *Dispatcher) PositionsUpdated(positions []*ctdf.TrainPosition) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	select {
	case <-d.pending:
		log.Debug().Msg("Sinks behind, dropping stale batch")
	default:
	}

	d.pending <- positions
}

// Run writes batches until the context is cancelled, then closes every sink
func (d *Dispatcher) Run(ctx context.Context) {
	defer d.close()

	for {
		select {
		case <-ctx.Done():
			return
		case positions := <-d.pending:
			d.Write(ctx, positions)
		}
	}
}

// Write sends one batch to every sink concurrently and waits for all of them
func (d *Dispatcher) Write(ctx context.Context, positions []*ctdf.TrainPosition) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	p := pool.New().WithContext(ctx)

	for _, sink := range d.Sinks {
		p.Go(func(ctx context.Context) error {
			err := sink.Write(ctx, positions)
			if err != nil {
				log.Error().Err(err).Str("sink", sink.Name()).Int("trains", len(positions)).Msg("Failed to write batch")
			}
			if d.Metrics != nil {
				d.Metrics.SinkWritten(sink.Name(), err)
			}

			// Failures are reported per sink, one failing sink should not cancel the others
			return nil
		})
	}

	p.Wait()
}

func (d *Dispatcher) close() {
	for _, sink := range d.Sinks {
		if err := sink.Close(); err != nil {
			log.Error().Err(err).Str("sink", sink.Name()).Msg("Failed to close sink")
		}
	}
}
