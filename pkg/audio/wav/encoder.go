// Package wav provides a [audio.ChunkEncoder] that emits a RIFF/WAVE stream:
// a 44-byte header chunk followed by raw little-endian 16-bit PCM.
//
// WAV is the always-available fallback format — it has no codec dependency —
// at the cost of bandwidth. The data-length fields in the header are set to
// the maximum value because the stream length is unknown at start; consumers
// that require exact lengths should rewrite the header after assembly.
package wav

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/earshot-ai/earshot/pkg/audio"
)

const (
	defaultChunkIntervalMs = 250
	chunkBuffer            = 32
)

// Encoder is a WAV-container [audio.ChunkEncoder].
type Encoder struct {
	mu sync.Mutex

	pending bytes.Buffer

	chunks chan []byte
	ticker *time.Ticker
	done   chan struct{}
	closed bool
}

// New creates a WAV encoder for the given PCM config. The first emitted chunk
// begins with the RIFF header.
func New(cfg audio.EncoderConfig) (*Encoder, error) {
	if cfg.SampleRate <= 0 || cfg.Channels <= 0 {
		return nil, fmt.Errorf("wav: invalid config %+v: %w", cfg, audio.ErrFormatUnsupported)
	}

	interval := cfg.ChunkIntervalMs
	if interval <= 0 {
		interval = defaultChunkIntervalMs
	}

	e := &Encoder{
		chunks: make(chan []byte, chunkBuffer),
		ticker: time.NewTicker(time.Duration(interval) * time.Millisecond),
		done:   make(chan struct{}),
	}
	writeHeader(&e.pending, cfg.SampleRate, cfg.Channels)
	go e.emitLoop()
	return e, nil
}

// Factory adapts [New] to the [audio.EncoderFactory] signature.
func Factory(cfg audio.EncoderConfig) (audio.ChunkEncoder, error) {
	return New(cfg)
}

// Write implements [audio.ChunkEncoder].
func (e *Encoder) Write(pcm []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("wav: write after close")
	}
	e.pending.Write(pcm)
	return nil
}

// Flush implements [audio.ChunkEncoder].
func (e *Encoder) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.emitLocked()
	return nil
}

// Chunks implements [audio.ChunkEncoder].
func (e *Encoder) Chunks() <-chan []byte {
	return e.chunks
}

// Close implements [audio.ChunkEncoder].
func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.ticker.Stop()
	close(e.done)
	e.emitLocked()
	close(e.chunks)
	return nil
}

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

// emitLocked sends the pending buffer as one chunk. Must be called with
// e.mu held. Non-blocking: a stalled consumer drops chunks instead of
// stalling the capture path.
func (e *Encoder) emitLocked() {
	if e.pending.Len() == 0 {
		return
	}
	chunk := make([]byte, e.pending.Len())
	copy(chunk, e.pending.Bytes())
	e.pending.Reset()
	select {
	case e.chunks <- chunk:
	default:
		slog.Warn("wav: chunk channel full, dropping chunk", "bytes", len(chunk))
	}
}

// writeHeader writes a 44-byte RIFF/WAVE header for a 16-bit PCM stream of
// unknown length.
func writeHeader(buf *bytes.Buffer, sampleRate, channels int) {
	byteRate := sampleRate * channels * 2
	blockAlign := channels * 2

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(math.MaxUint32)) // unknown stream length
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(math.MaxUint32))
}

// Compile-time check that Encoder satisfies audio.ChunkEncoder.
var _ audio.ChunkEncoder = (*Encoder)(nil)
