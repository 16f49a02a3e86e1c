// Package opus provides a [audio.ChunkEncoder] backed by the Opus codec
// (layeh.com/gopus).
//
// Encoded output is a stream of Opus packets, each preceded by a 2-byte
// big-endian length prefix so that a consumer can re-split the concatenated
// chunk stream into packets. Chunks are emitted on a short periodic interval
// so partial data is always available for low-latency end-of-utterance
// flushes.
package opus

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"layeh.com/gopus"

	"github.com/earshot-ai/earshot/pkg/audio"
)

const (
	// frameSizeMs is the Opus frame duration used for encoding.
	frameSizeMs = 20

	// defaultChunkIntervalMs is used when the config leaves the interval zero.
	defaultChunkIntervalMs = 250

	// maxPacketBytes caps a single encoded Opus packet.
	maxPacketBytes = 4000

	// chunkBuffer is the Chunks channel capacity.
	chunkBuffer = 32
)

// supportedRates lists the sample rates the Opus codec accepts.
var supportedRates = map[int]bool{8000: true, 12000: true, 16000: true, 24000: true, 48000: true}

// Encoder is an Opus-backed [audio.ChunkEncoder].
type Encoder struct {
	mu sync.Mutex

	enc       *gopus.Encoder
	channels  int
	frameSize int // samples per channel per Opus frame

	pending []int16      // PCM samples awaiting a full codec frame
	encoded bytes.Buffer // length-prefixed packets awaiting emission

	chunks chan []byte
	ticker *time.Ticker
	done   chan struct{}
	closed bool
}

// New creates an Opus encoder for the given PCM config. Returns
// [audio.ErrFormatUnsupported] (wrapped) if the sample rate is not one the
// codec accepts or the codec cannot be initialised.
func New(cfg audio.EncoderConfig) (*Encoder, error) {
	if !supportedRates[cfg.SampleRate] {
		return nil, fmt.Errorf("opus: sample rate %d: %w", cfg.SampleRate, audio.ErrFormatUnsupported)
	}
	if cfg.Channels != 1 && cfg.Channels != 2 {
		return nil, fmt.Errorf("opus: %d channels: %w", cfg.Channels, audio.ErrFormatUnsupported)
	}
	enc, err := gopus.NewEncoder(cfg.SampleRate, cfg.Channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", audio.ErrFormatUnsupported)
	}

	interval := cfg.ChunkIntervalMs
	if interval <= 0 {
		interval = defaultChunkIntervalMs
	}

	e := &Encoder{
		enc:       enc,
		channels:  cfg.Channels,
		frameSize: cfg.SampleRate * frameSizeMs / 1000,
		chunks:    make(chan []byte, chunkBuffer),
		ticker:    time.NewTicker(time.Duration(interval) * time.Millisecond),
		done:      make(chan struct{}),
	}
	go e.emitLoop()
	return e, nil
}

// Factory adapts [New] to the [audio.EncoderFactory] signature.
func Factory(cfg audio.EncoderConfig) (audio.ChunkEncoder, error) {
	return New(cfg)
}

// Write implements [audio.ChunkEncoder]. pcm must be little-endian 16-bit
// samples in the configured channel layout.
func (e *Encoder) Write(pcm []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("opus: write after close")
	}
	e.pending = append(e.pending, bytesToInt16s(pcm)...)
	return e.encodeFullFrames()
}

// Flush implements [audio.ChunkEncoder]. Any partial codec frame is padded
// with silence and encoded, then all accumulated packets are emitted as one
// chunk.
func (e *Encoder) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	if err := e.flushPartialLocked(); err != nil {
		return err
	}
	e.emitLocked()
	return nil
}

// Chunks implements [audio.ChunkEncoder].
func (e *Encoder) Chunks() <-chan []byte {
	return e.chunks
}

// Close implements [audio.ChunkEncoder]. Remaining data is flushed as a
// final chunk before the channel closes.
func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.ticker.Stop()
	close(e.done)
	if err := e.flushPartialLocked(); err != nil {
		slog.Warn("opus: final flush failed", "err", err)
	}
	e.emitLocked()
	close(e.chunks)
	return nil
}

// emitLoop emits accumulated packets on every interval tick.
func (e *Encoder) emitLoop() {
	for {
		select {
		case <-e.ticker.C:
			e.mu.Lock()
			if !e.closed {
				e.emitLocked()
			}
			e.mu.Unlock()
		case <-e.done:
			return
		}
	}
}

// encodeFullFrames encodes every complete codec frame in pending.
// Must be called with e.mu held.
func (e *Encoder) encodeFullFrames() error {
	samplesPerFrame := e.frameSize * e.channels
	for len(e.pending) >= samplesPerFrame {
		frame := e.pending[:samplesPerFrame]
		packet, err := e.enc.Encode(frame, e.frameSize, maxPacketBytes)
		if err != nil {
			return fmt.Errorf("opus: encode: %w", err)
		}
		e.writePacket(packet)
		e.pending = e.pending[samplesPerFrame:]
	}
	return nil
}

// flushPartialLocked pads any partial frame with silence and encodes it.
// Must be called with e.mu held.
func (e *Encoder) flushPartialLocked() error {
	if len(e.pending) == 0 {
		return nil
	}
	samplesPerFrame := e.frameSize * e.channels
	padded := make([]int16, samplesPerFrame)
	copy(padded, e.pending)
	e.pending = e.pending[:0]
	packet, err := e.enc.Encode(padded, e.frameSize, maxPacketBytes)
	if err != nil {
		return fmt.Errorf("opus: encode partial frame: %w", err)
	}
	e.writePacket(packet)
	return nil
}

// writePacket appends a length-prefixed packet to the emission buffer.
// Must be called with e.mu held.
func (e *Encoder) writePacket(packet []byte) {
	e.encoded.WriteByte(byte(len(packet) >> 8))
	e.encoded.WriteByte(byte(len(packet)))
	e.encoded.Write(packet)
}

// emitLocked sends the accumulated packet buffer as one chunk.
// Must be called with e.mu held. The send is non-blocking: if the consumer
// has fallen more than chunkBuffer intervals behind, the chunk is dropped
// with a warning rather than stalling the encode path.
func (e *Encoder) emitLocked() {
	if e.encoded.Len() == 0 {
		return
	}
	chunk := make([]byte, e.encoded.Len())
	copy(chunk, e.encoded.Bytes())
	e.encoded.Reset()
	select {
	case e.chunks <- chunk:
	default:
		slog.Warn("opus: chunk channel full, dropping chunk", "bytes", len(chunk))
	}
}

// bytesToInt16s converts little-endian bytes to a slice of int16 PCM samples.
func bytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}

// Compile-time check that Encoder satisfies audio.ChunkEncoder.
var _ audio.ChunkEncoder = (*Encoder)(nil)
