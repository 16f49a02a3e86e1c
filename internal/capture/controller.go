// Package capture owns the microphone session lifecycle: it acquires the
// capture stream, selects an encoder, wires the analysis and buffering
// pipeline together, and tears everything down again in a fixed order.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/earshot-ai/earshot/internal/encoding"
	"github.com/earshot-ai/earshot/internal/level"
	"github.com/earshot-ai/earshot/internal/observe"
	"github.com/earshot-ai/earshot/internal/utterance"
	"github.com/earshot-ai/earshot/internal/vad"
	"github.com/earshot-ai/earshot/pkg/audio"
)

// DefaultTickInterval is the default analysis tick period. It must stay well
// below the silence threshold so end-of-speech decisions are not quantised
// away, and below the encoder chunk interval so flushes stay timely.
const DefaultTickInterval = 100 * time.Millisecond

// Config holds the capture session parameters.
type Config struct {
	// Stream is the PCM format requested from the capture device.
	Stream audio.StreamConfig

	// Encoder configures the chunk encoder built at session start.
	Encoder audio.EncoderConfig

	// TickInterval is the analysis tick period. Zero means
	// [DefaultTickInterval].
	TickInterval time.Duration
}

// Deps are the collaborators a [Controller] drives. All fields except Metrics
// and NewTicker are required.
type Deps struct {
	Device   audio.CaptureDevice
	Encoders *encoding.Chain
	Spectrum *level.Spectrum
	Analyzer *level.Analyzer
	Detector *vad.Detector
	Buffer   *utterance.Buffer

	// Metrics may be nil.
	Metrics *observe.Metrics

	// NewTicker overrides the analysis clock. Defaults to [NewWallTicker].
	NewTicker TickerFactory
}

// Controller manages one capture session at a time.
//
// Start acquires resources in a fixed order (stream, then encoder, then the
// pump and tick goroutines) and Stop releases them in the inverse spirit:
// processing halts first and the capture stream is closed last, so nothing
// downstream ever reads from a released device. Both are safe for concurrent
// use and idempotent.
type Controller struct {
	mu sync.Mutex

	cfg  Config
	deps Deps

	capturing bool
	stream    audio.CaptureStream
	encoder   audio.ChunkEncoder
	format    audio.Format
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	// flushMu guards the fields below, not mu: handleSpeechEnd fires from
	// the tick loop while Stop holds mu through the whole teardown.
	flushMu  sync.Mutex
	flushEnc audio.ChunkEncoder
	flushCtx context.Context
}

// NewController creates a controller. Zero config fields fall back to
// defaults.
func NewController(cfg Config, deps Deps) *Controller {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if deps.NewTicker == nil {
		deps.NewTicker = NewWallTicker
	}
	c := &Controller{cfg: cfg, deps: deps}
	deps.Detector.OnSpeechEnd(c.handleSpeechEnd)
	return c
}

// Start opens the capture stream and spins up the processing pipeline.
// Calling Start while already capturing logs a warning and returns nil.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capturing {
		slog.Warn("capture: start ignored, session already active")
		return nil
	}

	stream, err := c.deps.Device.Open(ctx, c.cfg.Stream)
	if err != nil {
		return fmt.Errorf("capture: open stream: %w", err)
	}

	enc, format, err := c.deps.Encoders.New(c.cfg.Encoder)
	if err != nil {
		if cerr := stream.Close(); cerr != nil {
			slog.Warn("capture: close stream after encoder failure", "error", cerr)
		}
		return fmt.Errorf("capture: create encoder: %w", err)
	}

	// Fresh analysis state so nothing from a previous session leaks in.
	c.deps.Spectrum.Reset()
	c.deps.Analyzer.Reset()
	c.deps.Detector.Reset()
	c.deps.Buffer.Reset()

	runCtx, cancel := context.WithCancel(context.Background())
	c.stream = stream
	c.encoder = enc
	c.format = format
	c.cancel = cancel
	c.capturing = true

	c.flushMu.Lock()
	c.flushEnc = enc
	c.flushCtx = runCtx
	c.flushMu.Unlock()

	if c.deps.Metrics != nil {
		c.deps.Metrics.ActiveCaptures.Add(ctx, 1)
	}

	c.wg.Add(3)
	go c.pumpFrames(runCtx, stream, enc)
	go c.pumpChunks(enc)
	go c.tickLoop(runCtx)

	slog.Info("capture: started",
		"format", format,
		"sample_rate", c.cfg.Stream.SampleRate,
		"channels", c.cfg.Stream.Channels,
		"tick_interval", c.cfg.TickInterval,
	)
	return nil
}

// Stop tears the session down: processing halts, the encoder is flushed and
// closed, and the capture stream is released last. Every failing step is
// reported; a failure in one step does not skip the rest. Calling Stop while
// not capturing is a no-op.
func (c *Controller) Stop(ctx context.Context) error {
	// The lock is held for the whole teardown so a concurrent Start cannot
	// interleave with a half-released session. None of the steps below call
	// back into the controller.
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.capturing {
		return nil
	}
	c.capturing = false
	cancel := c.cancel
	stream := c.stream
	enc := c.encoder
	c.cancel, c.stream, c.encoder = nil, nil, nil
	c.format = ""

	var errs []error

	// 1. Halt the tick loop and frame pump.
	cancel()

	// 2. Capture in-flight audio, then shut the encoder down. Close also
	// closes the chunk channel, which ends the chunk pump. flushMu keeps a
	// speech-end flush already in flight from racing the close.
	c.flushMu.Lock()
	c.flushEnc, c.flushCtx = nil, nil
	if err := enc.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("capture: flush encoder: %w", err))
	}
	if err := enc.Close(); err != nil {
		errs = append(errs, fmt.Errorf("capture: close encoder: %w", err))
	}
	c.flushMu.Unlock()

	// 3. Release the capture device last.
	if err := stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("capture: close stream: %w", err))
	}

	c.wg.Wait()
	c.deps.Detector.Reset()

	if c.deps.Metrics != nil {
		c.deps.Metrics.ActiveCaptures.Add(ctx, -1)
	}
	slog.Info("capture: stopped")
	return errors.Join(errs...)
}

// IsCapturing reports whether a session is active.
func (c *Controller) IsCapturing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capturing
}

// Format returns the encoding format of the active session, or the empty
// string when idle.
func (c *Controller) Format() audio.Format {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.format
}

// pumpFrames feeds captured PCM into the encoder and the spectrum window.
func (c *Controller) pumpFrames(ctx context.Context, stream audio.CaptureStream, enc audio.ChunkEncoder) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-stream.Frames():
			if !ok {
				return
			}
			if err := enc.Write(f.Data); err != nil {
				observe.Logger(ctx).Error("capture: encoder write failed", "error", err)
				if c.deps.Metrics != nil {
					c.deps.Metrics.CaptureErrors.Add(ctx, 1)
				}
				continue
			}
			c.deps.Spectrum.Push(f.Data)
		}
	}
}

// pumpChunks moves encoded chunks into the utterance buffer. It drains until
// the encoder closes its channel so a final flushed chunk is never lost.
func (c *Controller) pumpChunks(enc audio.ChunkEncoder) {
	defer c.wg.Done()
	for chunk := range enc.Chunks() {
		c.deps.Buffer.Append(chunk)
		if c.deps.Metrics != nil {
			c.deps.Metrics.EncodedChunks.Add(context.Background(), 1)
		}
	}
}

// handleSpeechEnd runs when the detector confirms an end of speech. The
// encoder is flushed first so the partial chunk it still holds reaches the
// buffer before the grace-period flush is scheduled; without it the tail of
// every utterance would sit in the encoder until the next chunk interval.
func (c *Controller) handleSpeechEnd(st vad.State) {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()
	if c.flushEnc == nil {
		return
	}
	if err := c.flushEnc.Flush(); err != nil {
		observe.Logger(c.flushCtx).Warn("capture: flush encoder at speech end", "error", err)
	}
	c.deps.Buffer.Flush(c.flushCtx, st.SpeechDuration)
}

// tickLoop drives the level analyzer and the detector once per tick.
func (c *Controller) tickLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := c.deps.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			bins := c.deps.Spectrum.Bins()
			lvl := c.deps.Analyzer.Process(bins)
			c.deps.Detector.Tick(c.cfg.TickInterval, lvl)
			if c.deps.Metrics != nil {
				c.deps.Metrics.AudioLevel.Record(ctx, lvl)
			}
		}
	}
}
