package audio

import "errors"

// ErrFormatUnsupported is returned by an encoder factory when the requested
// format cannot be produced on this platform (missing codec, unsupported
// sample rate). The capture controller treats it as a signal to try the next
// format in its fallback list.
var ErrFormatUnsupported = errors.New("audio: encoding format unsupported")

// Format identifies a chunked encoding format.
type Format string

const (
	// FormatOpus is Opus packets with a 2-byte big-endian length prefix per
	// packet. Preferred for transport: small and low-latency.
	FormatOpus Format = "opus"

	// FormatWAV is a RIFF/WAVE stream (header followed by raw PCM).
	// Fallback when no Opus codec is available.
	FormatWAV Format = "wav"
)

// EncoderConfig describes the PCM input and chunk pacing for a [ChunkEncoder].
type EncoderConfig struct {
	// SampleRate of the PCM fed to Write, in Hz.
	SampleRate int

	// Channels of the PCM fed to Write.
	Channels int

	// ChunkIntervalMs is the periodic chunk emission interval in
	// milliseconds. A short interval keeps partial data available for
	// low-latency end-of-utterance flushes. Zero means the encoder's default.
	ChunkIntervalMs int
}

// ChunkEncoder serialises PCM audio into a transportable byte format,
// delivering encoded data incrementally on the Chunks channel.
//
// Implementations must be safe for concurrent use: Write, Flush, and Close
// may be called from different goroutines than the one draining Chunks.
type ChunkEncoder interface {
	// Write appends raw little-endian 16-bit PCM to the encoder. Encoded
	// output accumulates internally and is emitted as a chunk on the next
	// interval tick or Flush, whichever comes first.
	Write(pcm []byte) error

	// Flush forces emission of any accumulated encoded data as a chunk,
	// including a partial codec frame if the format permits. Used to capture
	// in-flight audio at the moment of an end-of-speech decision.
	Flush() error

	// Chunks returns the read-only channel delivering encoded chunks in
	// production order. The channel is closed by Close.
	Chunks() <-chan []byte

	// Close flushes remaining data, stops the emission timer, and closes the
	// Chunks channel. Safe to call more than once.
	Close() error
}

// EncoderFactory constructs a [ChunkEncoder] for one format. Factories are
// registered per [Format] and tried in fallback order at capture start.
type EncoderFactory func(cfg EncoderConfig) (ChunkEncoder, error)
