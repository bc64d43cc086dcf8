package realtime

import (
	"fmt"
	"io"
	"time"

	"github.com/kr/pretty"
	"github.com/travigo/livetrains/pkg/realtime/portalpasazera"
	"github.com/travigo/livetrains/pkg/realtime/trainstate"
)

// Inspect runs a captured byte stream through the framer, recovery parser and
// decoder as one logical message and pretty prints what came out
func Inspect(capture io.Reader, out io.Writer, preferGPS bool) (portalpasazera.Output, error) {
	data, err := io.ReadAll(capture)
	if err != nil {
		return portalpasazera.Output{}, err
	}

	pipeline := portalpasazera.NewPipeline(&portalpasazera.Decoder{
		Tracker:  trainstate.NewTracker(trainstate.DefaultConfig),
		TrainIDs: trainstate.NewIDMapping(),
		Now:      time.Now,
	})

	output := pipeline.Push(portalpasazera.Fragment{Data: data, EndOfMessage: true})

	fmt.Fprintf(out, "frames=%d malformed=%d control=%d close=%t batches=%d updates=%d\n",
		output.Frames, output.Malformed, output.Control, output.Close, len(output.Batches), len(output.Updates))

	for i, batch := range output.Batches {
		deduplicated := portalpasazera.Deduplicate(batch, preferGPS)
		fmt.Fprintf(out, "batch %d: %d records, %d after deduplication\n", i, len(batch), len(deduplicated))

		for _, position := range deduplicated {
			pretty.Fprintf(out, "%# v\n", position)
		}
	}

	for _, update := range output.Updates {
		fmt.Fprintln(out, "update:")
		pretty.Fprintf(out, "%# v\n", update)
	}

	return output, nil
}
