package realtime

import (
	"context"
	"errors"
	"io"

	"github.com/gocarina/gocsv"
	"github.com/travigo/livetrains/pkg/ctdf"
	"github.com/travigo/livetrains/pkg/realtime/portalpasazera"
)

// WriteCSV writes one row per position with a header line
func WriteCSV(positions []*ctdf.TrainPosition, out io.Writer) error {
	return gocsv.Marshal(positions, out)
}

// FirstBatch starts the orchestrator and returns the first published batch
func FirstBatch(ctx context.Context, orchestrator *portalpasazera.Orchestrator) ([]*ctdf.TrainPosition, error) {
	batches := make(chan []*ctdf.TrainPosition, 1)
	orchestrator.Subscribe(portalpasazera.SubscriberFunc(func(positions []*ctdf.TrainPosition) {
		select {
		case batches <- positions:
		default:
		}
	}))

	if err := orchestrator.Start(ctx); err != nil {
		return nil, err
	}
	defer orchestrator.Stop()

	select {
	case positions := <-batches:
		return positions, nil
	case <-ctx.Done():
		return nil, errors.Join(errors.New("no batch received"), ctx.Err())
	}
}
