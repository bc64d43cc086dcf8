package portalpasazera

import (
	"github.com/rs/zerolog/log"
	"github.com/travigo/livetrains/pkg/ctdf"
)

// Pipeline runs received fragments through framing, recovery and decoding
type Pipeline struct {
	Framer  Framer
	Decoder *Decoder
}

// Output is everything decoded from one logical message
type Output struct {
	Batches [][]*ctdf.TrainPosition
	Updates []*ctdf.TrainPosition

	Frames    int
	Malformed int
	Control   int
	Close     bool
}

func NewPipeline(decoder *Decoder) *Pipeline {
	return &Pipeline{
		Decoder: decoder,
	}
}

// Push feeds one fragment in, producing output once the message is complete
func (p *Pipeline) Push(fragment Fragment) Output {
	log.Debug().Int("bytes", len(fragment.Data)).Bool("endofmessage", fragment.EndOfMessage).Msg("Received chunk")

	frames := p.Framer.Push(fragment.Data, fragment.EndOfMessage)
	if frames == nil {
		return Output{}
	}

	return p.ProcessFrames(frames)
}

// Reset discards any partially received message
func (p *Pipeline) Reset() {
	p.Framer.Reset()
}

func (p *Pipeline) ProcessFrames(frames [][]byte) Output {
	output := Output{
		Frames: len(frames),
	}

	for _, frame := range frames {
		result := ParseMessage(frame)

		if result.Malformed {
			output.Malformed++
			continue
		}
		if result.Control {
			output.Control++
		}
		if result.Close {
			output.Close = true
		}

		for _, batch := range result.Batches {
			positions, err := p.Decoder.DecodeBatch(batch)
			if err != nil {
				log.Warn().Err(err).Msg("Failed to decode train status batch")
				output.Malformed++
				continue
			}

			output.Batches = append(output.Batches, positions)
		}

		for _, update := range result.Updates {
			position, err := p.Decoder.DecodeSingle(update)
			if err != nil {
				log.Debug().Err(err).Msg("Skipping single train update")
				continue
			}

			output.Updates = append(output.Updates, position)
		}
	}

	return output
}
