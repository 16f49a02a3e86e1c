// Package voice is the public entry point of Earshot. A [Session] wires the
// capture pipeline, voice-activity detection, utterance buffering, and the
// playback queue into one barge-in-aware loop:
//
//	sess := voice.NewSession(cfg, voice.Options{
//		Capture:  malgodev.NewCaptureDevice(),
//		Playback: malgodev.NewPlaybackDevice(),
//	})
//	sess.OnSpeechEnded(func(u voice.Utterance) { send(u.Audio) })
//	if err := sess.Start(ctx); err != nil { ... }
//
// While capturing, detected speech interrupts any in-progress playback before
// the new utterance starts buffering, so the user can always talk over the
// machine.
package voice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/earshot-ai/earshot/internal/capture"
	"github.com/earshot-ai/earshot/internal/config"
	"github.com/earshot-ai/earshot/internal/encoding"
	"github.com/earshot-ai/earshot/internal/level"
	"github.com/earshot-ai/earshot/internal/observe"
	"github.com/earshot-ai/earshot/internal/playback"
	"github.com/earshot-ai/earshot/internal/utterance"
	"github.com/earshot-ai/earshot/internal/vad"
	"github.com/earshot-ai/earshot/pkg/audio"
	"github.com/earshot-ai/earshot/pkg/audio/opus"
	"github.com/earshot-ai/earshot/pkg/audio/wav"
)

// VADState is a snapshot of the voice-activity detector.
type VADState = vad.State

// Utterance is a complete assembled utterance.
type Utterance = utterance.Utterance

// Ticket tracks one playback request; see [Session.PlayTTS].
type Ticket = playback.Ticket

// Options supplies the devices and optional collaborators for a [Session].
type Options struct {
	// Capture is the microphone device. Required for Start.
	Capture audio.CaptureDevice

	// Playback is the output device. Required for PlayTTS.
	Playback audio.PlaybackDevice

	// Encoders overrides the encoder fallback chain. When nil, a chain of
	// the built-in Opus and WAV encoders is assembled with the configured
	// preferred format first.
	Encoders *encoding.Chain

	// Metrics may be nil to disable instrumentation.
	Metrics *observe.Metrics
}

// Session is a single-user voice capture and playback loop.
// All methods are safe for concurrent use.
type Session struct {
	mu sync.Mutex

	cfg     *config.Config
	metrics *observe.Metrics

	detector   *vad.Detector
	buffer     *utterance.Buffer
	queue      *playback.Queue
	controller *capture.Controller

	runCtx    context.Context
	runCancel context.CancelFunc
}

// NewSession assembles a session from cfg and opts. The session is idle until
// [Session.Start].
func NewSession(cfg *config.Config, opts Options) *Session {
	detector := vad.NewDetector(vad.Config{
		Sensitivity:       cfg.Detector.Sensitivity,
		SilenceThreshold:  time.Duration(cfg.Detector.SilenceThresholdMs) * time.Millisecond,
		MinSpeechDuration: time.Duration(cfg.Detector.MinSpeechDurationMs) * time.Millisecond,
	}, opts.Metrics)

	buffer := utterance.NewBuffer(opts.Metrics,
		utterance.WithFlushGrace(time.Duration(cfg.Detector.FlushGraceMs)*time.Millisecond))

	queue := playback.NewQueue(opts.Playback, opts.Metrics)
	queue.SetVolume(cfg.Playback.Volume)

	encoders := opts.Encoders
	if encoders == nil {
		encoders = defaultEncoderChain(cfg.Capture.PreferredFormat)
	}

	controller := capture.NewController(
		capture.Config{
			Stream: audio.StreamConfig{
				SampleRate: cfg.Capture.SampleRate,
				Channels:   cfg.Capture.Channels,
			},
			Encoder: audio.EncoderConfig{
				SampleRate:      cfg.Capture.SampleRate,
				Channels:        cfg.Capture.Channels,
				ChunkIntervalMs: cfg.Capture.ChunkIntervalMs,
			},
			TickInterval: time.Duration(cfg.Capture.TickIntervalMs) * time.Millisecond,
		},
		capture.Deps{
			Device:   opts.Capture,
			Encoders: encoders,
			Spectrum: level.NewSpectrum(cfg.Capture.FFTSize),
			Analyzer: level.NewAnalyzer(cfg.Level.DecayWeight, cfg.Level.AttackWeight),
			Detector: detector,
			Buffer:   buffer,
			Metrics:  opts.Metrics,
		},
	)

	s := &Session{
		cfg:        cfg,
		metrics:    opts.Metrics,
		detector:   detector,
		buffer:     buffer,
		queue:      queue,
		controller: controller,
	}
	detector.OnSpeechStart(s.handleSpeechStart)
	return s
}

// defaultEncoderChain registers the built-in formats with preferred first.
func defaultEncoderChain(preferred audio.Format) *encoding.Chain {
	c := encoding.NewChain()
	if preferred == audio.FormatWAV {
		c.Register(audio.FormatWAV, wav.Factory)
		c.Register(audio.FormatOpus, opus.Factory)
		return c
	}
	c.Register(audio.FormatOpus, opus.Factory)
	c.Register(audio.FormatWAV, wav.Factory)
	return c
}

// Start opens the microphone and begins voice-activity detection. A second
// Start while capturing is a logged no-op.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.runCancel == nil {
		s.runCtx, s.runCancel = context.WithCancel(context.Background())
	}
	s.mu.Unlock()

	if err := s.controller.Start(ctx); err != nil {
		return fmt.Errorf("voice: start capture: %w", err)
	}
	return nil
}

// Stop tears down the capture pipeline. Playback, if any, continues; use
// [Session.StopTTS] or [Session.Close] to silence it.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.runCancel != nil {
		s.runCancel()
		s.runCtx, s.runCancel = nil, nil
	}
	s.mu.Unlock()

	if err := s.controller.Stop(ctx); err != nil {
		return fmt.Errorf("voice: stop capture: %w", err)
	}
	return nil
}

// Close stops capture and playback. The first error does not prevent the
// remaining teardown.
func (s *Session) Close(ctx context.Context) error {
	captureErr := s.Stop(ctx)
	if err := s.queue.Stop(); err != nil {
		if captureErr != nil {
			return fmt.Errorf("voice: close: %w (capture: %v)", err, captureErr)
		}
		return fmt.Errorf("voice: close: %w", err)
	}
	return captureErr
}

// IsCapturing reports whether the microphone session is active.
func (s *Session) IsCapturing() bool {
	return s.controller.IsCapturing()
}

// SetMuted engages or releases the mute. Muting mid-utterance discards the
// utterance in progress.
func (s *Session) SetMuted(muted bool) {
	s.detector.SetMuted(muted)
	if muted {
		s.buffer.Reset()
	}
}

// IsMuted reports whether the session is muted.
func (s *Session) IsMuted() bool {
	return s.detector.IsMuted()
}

// OnVADStateChange registers cb to receive a detector snapshot every analysis
// tick. Only one subscriber may be registered at a time; subsequent calls
// replace the previous registration. Pass nil to detach.
func (s *Session) OnVADStateChange(cb func(VADState)) {
	s.detector.OnStateChange(cb)
}

// OnAudioLevelChange registers cb to receive the smoothed loudness level
// every analysis tick. Last-writer-wins slot.
func (s *Session) OnAudioLevelChange(cb func(float64)) {
	s.detector.OnLevel(cb)
}

// OnSpeechEnded registers cb to receive each completed utterance.
// Last-writer-wins slot.
func (s *Session) OnSpeechEnded(cb func(Utterance)) {
	s.buffer.OnUtterance(cb)
}

// PlayTTS queues audio for playback. Requests render in FIFO order; the
// returned ticket reports the outcome unless the queue is stopped first, in
// which case the ticket is abandoned and never delivers.
func (s *Session) PlayTTS(ctx context.Context, ref string) *Ticket {
	return s.queue.Enqueue(ctx, audio.Source{Ref: ref})
}

// StopTTS halts playback and discards all queued requests.
func (s *Session) StopTTS() error {
	return s.queue.Stop()
}

// SetTTSVolume sets the playback volume, clamped to [0, 1]. Takes effect
// immediately on the current render.
func (s *Session) SetTTSVolume(v float64) {
	s.queue.SetVolume(v)
}

// IsTTSPlaying reports whether playback is in progress or queued.
func (s *Session) IsTTSPlaying() bool {
	return s.queue.Playing()
}

// SetVADSensitivity updates the detector sensitivity, clamped to [0, 1].
func (s *Session) SetVADSensitivity(v float64) {
	s.detector.SetSensitivity(v)
}

// SetSilenceThreshold updates the end-of-utterance silence duration, clamped
// to [500ms, 5s].
func (s *Session) SetSilenceThreshold(d time.Duration) {
	s.detector.SetSilenceThreshold(d)
}

// Apply applies the hot-reloadable parts of a config change set to the live
// session. Restart-required changes are logged and skipped.
func (s *Session) Apply(d config.ChangeSet) {
	if d.DetectorChanged {
		s.SetVADSensitivity(d.NewDetector.Sensitivity)
		s.SetSilenceThreshold(time.Duration(d.NewDetector.SilenceThresholdMs) * time.Millisecond)
		slog.Info("voice: detector tuning updated",
			"sensitivity", d.NewDetector.Sensitivity,
			"silence_threshold_ms", d.NewDetector.SilenceThresholdMs)
	}
	if d.VolumeChanged {
		s.SetTTSVolume(d.NewVolume)
	}
	if d.RestartRequired {
		slog.Warn("voice: config change needs a capture restart to take full effect")
	}
}

// handleSpeechStart runs when the detector enters the speaking state.
// Playback is interrupted before the utterance buffer is touched so no
// machine audio bleeds into the recording that follows.
func (s *Session) handleSpeechStart() {
	if s.queue.Playing() {
		slog.Info("voice: barge-in, interrupting playback")
		if err := s.queue.Stop(); err != nil {
			slog.Warn("voice: barge-in stop failed", "error", err)
		}
		if s.metrics != nil {
			s.metrics.RecordBargeIn(s.runContext())
		}
	}
	s.buffer.Reset()
}

// runContext returns the session's run context, or the background context
// when the session is stopped.
func (s *Session) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx != nil {
		return s.runCtx
	}
	return context.Background()
}
