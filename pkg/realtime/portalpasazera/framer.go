package portalpasazera

import (
	"bytes"

	"github.com/rs/zerolog/log"
)

// Framer accumulates websocket fragments until the end of a logical message and
// then splits the buffered bytes into record separated frames
type Framer struct {
	buffer bytes.Buffer
}

// Push appends a received chunk. Frames are only returned once endOfMessage is set.
func (f *Framer) Push(chunk []byte, endOfMessage bool) [][]byte {
	f.buffer.Write(chunk)

	if !endOfMessage {
		return nil
	}

	return f.Flush()
}

// Flush splits everything buffered so far and clears the buffer
func (f *Framer) Flush() (frames [][]byte) {
	defer f.buffer.Reset()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Int("bytes", f.buffer.Len()).Msg("Failed to split buffered message")
			frames = nil
		}
	}()

	return SplitRecords(f.buffer.Bytes())
}

// Reset drops any partially received message
func (f *Framer) Reset() {
	f.buffer.Reset()
}

// Buffered is the number of bytes waiting for the end of the message
func (f *Framer) Buffered() int {
	return f.buffer.Len()
}

// SplitRecords returns every non-empty span between record separators in order,
// including any trailing bytes after the last separator. Spans are copies.
func SplitRecords(data []byte) [][]byte {
	var frames [][]byte

	start := 0
	for i, b := range data {
		if b != RecordSeparator {
			continue
		}

		if i > start {
			frames = append(frames, bytes.Clone(data[start:i]))
		}
		start = i + 1
	}

	if start < len(data) {
		frames = append(frames, bytes.Clone(data[start:]))
	}

	return frames
}
