// Package mock provides in-memory mock implementations of the
// [audio.CaptureDevice], [audio.CaptureStream], [audio.PlaybackDevice],
// [audio.PlaybackHandle], and [audio.ChunkEncoder] interfaces for use in
// unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values.
//
// Typical usage:
//
//	stream := mock.NewCaptureStream(16)
//	dev := &mock.CaptureDevice{OpenResult: stream}
//	got, err := dev.Open(ctx, audio.StreamConfig{SampleRate: 16000, Channels: 1})
//	stream.EmitFrame(audio.Frame{Data: pcm})
package mock

import (
	"context"
	"sync"

	"github.com/earshot-ai/earshot/pkg/audio"
)

// ─── CaptureStream ────────────────────────────────────────────────────────────

// CaptureStream is a mock implementation of [audio.CaptureStream].
// Create it with [NewCaptureStream] and feed frames via [CaptureStream.EmitFrame].
type CaptureStream struct {
	mu sync.Mutex

	// CloseError is returned by the first call to [CaptureStream.Close].
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int

	frames chan audio.Frame
	closed bool
}

// NewCaptureStream creates a mock stream whose Frames channel has the given
// buffer capacity.
func NewCaptureStream(buffer int) *CaptureStream {
	return &CaptureStream{frames: make(chan audio.Frame, buffer)}
}

// Frames implements [audio.CaptureStream].
func (s *CaptureStream) Frames() <-chan audio.Frame {
	return s.frames
}

// Close implements [audio.CaptureStream]. The first call closes the Frames
// channel and returns CloseError; subsequent calls are no-ops returning nil.
func (s *CaptureStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.frames)
	return s.CloseError
}

// EmitFrame delivers a frame to the stream's consumers. Panics if called
// after Close, mirroring a real device writing to a closed stream.
func (s *CaptureStream) EmitFrame(f audio.Frame) {
	s.frames <- f
}

// ─── CaptureDevice ────────────────────────────────────────────────────────────

// OpenCall records the arguments of a single [CaptureDevice.Open] invocation.
type OpenCall struct {
	// Config is the stream config passed to Open.
	Config audio.StreamConfig
}

// CaptureDevice is a mock implementation of [audio.CaptureDevice].
type CaptureDevice struct {
	mu sync.Mutex

	// OpenResult is the [audio.CaptureStream] returned by Open.
	OpenResult audio.CaptureStream

	// OpenError is the error returned by Open.
	OpenError error

	// OpenCalls records all Open invocations.
	OpenCalls []OpenCall
}

// Open implements [audio.CaptureDevice]. Records the call and returns
// OpenResult / OpenError.
func (d *CaptureDevice) Open(_ context.Context, cfg audio.StreamConfig) (audio.CaptureStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, OpenCall{Config: cfg})
	return d.OpenResult, d.OpenError
}

// ─── PlaybackHandle ───────────────────────────────────────────────────────────

// PlaybackHandle is a mock implementation of [audio.PlaybackHandle].
// Drive it from tests with [PlaybackHandle.Complete] to simulate natural
// completion or a playback error.
type PlaybackHandle struct {
	mu sync.Mutex

	// StopError is returned by the first call to [PlaybackHandle.Stop].
	StopError error

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// VolumeCalls records every value passed to SetVolume.
	VolumeCalls []float64

	done      chan error
	completed bool
	stopped   bool
}

// NewPlaybackHandle creates an idle mock handle.
func NewPlaybackHandle() *PlaybackHandle {
	return &PlaybackHandle{done: make(chan error, 1)}
}

// Done implements [audio.PlaybackHandle].
func (h *PlaybackHandle) Done() <-chan error {
	return h.done
}

// SetVolume implements [audio.PlaybackHandle]. Records the value.
func (h *PlaybackHandle) SetVolume(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.VolumeCalls = append(h.VolumeCalls, v)
}

// Stop implements [audio.PlaybackHandle]. After Stop, Complete is a no-op —
// the handle never delivers on Done, matching the abandon semantics of the
// real interface.
func (h *PlaybackHandle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallCountStop++
	if h.stopped {
		return nil
	}
	h.stopped = true
	return h.StopError
}

// Complete simulates the end of playback: err is delivered on Done (nil for
// natural completion) and the channel is closed. No-op if the handle was
// stopped or already completed.
func (h *PlaybackHandle) Complete(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped || h.completed {
		return
	}
	h.completed = true
	h.done <- err
	close(h.done)
}

// Stopped reports whether Stop has been called.
func (h *PlaybackHandle) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

// ─── PlaybackDevice ───────────────────────────────────────────────────────────

// PlayCall records the arguments of a single [PlaybackDevice.Play] invocation.
type PlayCall struct {
	// Source is the source passed to Play.
	Source audio.Source
	// Volume is the volume passed to Play.
	Volume float64
}

// PlaybackDevice is a mock implementation of [audio.PlaybackDevice].
// Each Play call returns a fresh [PlaybackHandle], recorded in Handles so the
// test can drive completion per item. Set PlayError to make Play fail instead.
type PlaybackDevice struct {
	mu sync.Mutex

	// PlayError, when non-nil, is returned by every Play call.
	PlayError error

	// PlayCalls records all Play invocations.
	PlayCalls []PlayCall

	// Handles holds the handles returned by Play, in call order.
	Handles []*PlaybackHandle
}

// Play implements [audio.PlaybackDevice].
func (d *PlaybackDevice) Play(_ context.Context, src audio.Source, volume float64) (audio.PlaybackHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.PlayCalls = append(d.PlayCalls, PlayCall{Source: src, Volume: volume})
	if d.PlayError != nil {
		return nil, d.PlayError
	}
	h := NewPlaybackHandle()
	d.Handles = append(d.Handles, h)
	return h, nil
}

// Handle returns the handle created by the i-th Play call, or nil if fewer
// calls were made.
func (d *PlaybackDevice) Handle(i int) *PlaybackHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.Handles) {
		return nil
	}
	return d.Handles[i]
}

// ─── ChunkEncoder ─────────────────────────────────────────────────────────────

// ChunkEncoder is a mock implementation of [audio.ChunkEncoder].
// Tests feed encoded output to consumers via [ChunkEncoder.EmitChunk].
type ChunkEncoder struct {
	mu sync.Mutex

	// WriteError is returned by Write.
	WriteError error

	// FlushError is returned by Flush.
	FlushError error

	// FlushFunc, when non-nil, is invoked by Flush before returning
	// FlushError. Use it to emit a final in-flight chunk synchronously.
	FlushFunc func()

	// WriteCalls records the PCM passed to every Write invocation.
	WriteCalls [][]byte

	// CallCountFlush records how many times Flush was called.
	CallCountFlush int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	chunks chan []byte
	closed bool
}

// NewChunkEncoder creates a mock encoder whose Chunks channel has the given
// buffer capacity.
func NewChunkEncoder(buffer int) *ChunkEncoder {
	return &ChunkEncoder{chunks: make(chan []byte, buffer)}
}

// Write implements [audio.ChunkEncoder]. Records a copy of pcm.
func (e *ChunkEncoder) Write(pcm []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	e.WriteCalls = append(e.WriteCalls, cp)
	return e.WriteError
}

// Flush implements [audio.ChunkEncoder].
func (e *ChunkEncoder) Flush() error {
	e.mu.Lock()
	fn := e.FlushFunc
	e.CallCountFlush++
	err := e.FlushError
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
	return err
}

// Chunks implements [audio.ChunkEncoder].
func (e *ChunkEncoder) Chunks() <-chan []byte {
	return e.chunks
}

// Close implements [audio.ChunkEncoder]. The first call closes the Chunks
// channel; subsequent calls are no-ops.
func (e *ChunkEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CallCountClose++
	if e.closed {
		return nil
	}
	e.closed = true
	close(e.chunks)
	return nil
}

// EmitChunk delivers an encoded chunk to the encoder's consumers.
func (e *ChunkEncoder) EmitChunk(chunk []byte) {
	e.chunks <- chunk
}
