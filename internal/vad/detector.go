// Package vad implements the hysteresis voice-activity detector at the heart
// of Earshot.
//
// The detector is a two-state machine (silence / speaking) driven once per
// analysis tick with the current smoothed loudness level. Entering the
// speaking state fires the speech-start side effect exactly once; leaving it
// after a sustained silence fires speech-end — unless the voiced run was too
// short, in which case the utterance is discarded as noise with no callback.
//
// Tick is designed to be called from the single analysis loop. Observer
// registration and the mute/threshold setters may be called from any
// goroutine.
package vad

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/earshot-ai/earshot/internal/observe"
)

// Detector configuration defaults and clamp bounds.
const (
	DefaultSensitivity       = 0.015
	DefaultSilenceThreshold  = 1200 * time.Millisecond
	DefaultMinSpeechDuration = 300 * time.Millisecond

	MinSilenceThreshold = 500 * time.Millisecond
	MaxSilenceThreshold = 5000 * time.Millisecond
)

// State is an immutable snapshot of the detector. Snapshots are handed to
// observers by value; the detector never shares its internal record.
type State struct {
	// Speaking reports whether the detector is currently inside an utterance.
	Speaking bool

	// SpeechDuration is the accumulated voiced time of the current utterance.
	SpeechDuration time.Duration

	// SilenceDuration is the accumulated unvoiced time since the last voiced
	// tick of the current utterance. Zero while voice is present.
	SilenceDuration time.Duration

	// Level is the smoothed loudness in [0, 1] at the last tick.
	Level float64
}

// Config holds the detector timing and threshold parameters.
// Values outside the documented safe ranges are clamped by [NewDetector].
type Config struct {
	// Sensitivity in (0, 1); see [Threshold] for how the effective level
	// threshold is derived from it.
	Sensitivity float64

	// SilenceThreshold is the sustained-silence duration that confirms the
	// end of an utterance. Clamped to [500ms, 5s].
	SilenceThreshold time.Duration

	// MinSpeechDuration is the minimum voiced run for an utterance to be
	// reported; shorter runs are discarded as noise.
	MinSpeechDuration time.Duration
}

// Threshold derives the effective level threshold from a sensitivity value:
// threshold = sensitivity * (1.1 - sensitivity). The parabola-like mapping
// keeps both very low and very high sensitivity settings inside a small
// usable threshold range; the exact formula is calibrated and must not be
// altered.
func Threshold(sensitivity float64) float64 {
	return sensitivity * (1.1 - sensitivity)
}

// Detector is the hysteresis voice-activity state machine.
type Detector struct {
	mu sync.Mutex

	sensitivity       float64
	silenceThreshold  time.Duration
	minSpeechDuration time.Duration

	muted bool
	state State

	// Observer slots. Each holds a single subscriber; registering a new one
	// replaces (detaches) the previous.
	onSpeechStart func()
	onSpeechEnd   func(State)
	onStateChange func(State)
	onLevel       func(float64)

	metrics *observe.Metrics
}

// NewDetector creates a detector with cfg, clamping values to their safe
// ranges and applying defaults for zero fields. metrics may be nil.
func NewDetector(cfg Config, metrics *observe.Metrics) *Detector {
	if cfg.Sensitivity == 0 {
		cfg.Sensitivity = DefaultSensitivity
	}
	if cfg.SilenceThreshold == 0 {
		cfg.SilenceThreshold = DefaultSilenceThreshold
	}
	if cfg.MinSpeechDuration == 0 {
		cfg.MinSpeechDuration = DefaultMinSpeechDuration
	}
	return &Detector{
		sensitivity:       clampSensitivity(cfg.Sensitivity),
		silenceThreshold:  clampSilenceThreshold(cfg.SilenceThreshold),
		minSpeechDuration: cfg.MinSpeechDuration,
		metrics:           metrics,
	}
}

// Tick advances the state machine by dt with the given smoothed level.
// Every tick emits the level and a state snapshot to the registered
// observers, synchronously and at most once per tick.
func (d *Detector) Tick(dt time.Duration, level float64) {
	d.mu.Lock()

	voiced := !d.muted && level > Threshold(d.sensitivity)
	d.state.Level = level

	var (
		started bool
		ended   *State
	)
	if voiced {
		d.state.SpeechDuration += dt
		d.state.SilenceDuration = 0
		if !d.state.Speaking {
			d.state.Speaking = true
			started = true
		}
	} else if d.state.Speaking {
		d.state.SilenceDuration += dt
		if d.state.SilenceDuration >= d.silenceThreshold {
			snap := d.state
			if snap.SpeechDuration >= d.minSpeechDuration {
				ended = &snap
			} else {
				// Short blip: discard as noise, no callback.
				slog.Debug("vad: discarding short utterance",
					"speech_duration", snap.SpeechDuration,
					"min_speech_duration", d.minSpeechDuration,
				)
				if d.metrics != nil {
					d.metrics.UtterancesDiscarded.Add(context.Background(), 1)
				}
			}
			d.state = State{Level: level}
		}
	}

	onSpeechStart := d.onSpeechStart
	onSpeechEnd := d.onSpeechEnd
	onStateChange := d.onStateChange
	onLevel := d.onLevel
	snapshot := d.state
	d.mu.Unlock()

	// Speech-start side effects run before any observer sees the new state,
	// so playback interruption wins the race against everything else.
	if started && onSpeechStart != nil {
		onSpeechStart()
	}
	if ended != nil && onSpeechEnd != nil {
		onSpeechEnd(*ended)
	}
	if onStateChange != nil {
		onStateChange(snapshot)
	}
	if onLevel != nil {
		onLevel(level)
	}
}

// OnSpeechStart registers cb as the speech-start subscriber. It fires exactly
// once per silence→speaking transition, before the state snapshot for that
// tick is delivered. Only one subscriber may be registered at a time;
// subsequent calls replace the previous registration. Pass nil to detach.
func (d *Detector) OnSpeechStart(cb func()) {
	d.mu.Lock()
	d.onSpeechStart = cb
	d.mu.Unlock()
}

// OnSpeechEnd registers cb as the speech-end subscriber. It receives the
// final state snapshot of the confirmed utterance. Last-writer-wins slot.
func (d *Detector) OnSpeechEnd(cb func(State)) {
	d.mu.Lock()
	d.onSpeechEnd = cb
	d.mu.Unlock()
}

// OnStateChange registers cb to receive the detector snapshot every tick.
// Last-writer-wins slot.
func (d *Detector) OnStateChange(cb func(State)) {
	d.mu.Lock()
	d.onStateChange = cb
	d.mu.Unlock()
}

// OnLevel registers cb to receive the smoothed level every tick.
// Last-writer-wins slot.
func (d *Detector) OnLevel(cb func(float64)) {
	d.mu.Lock()
	d.onLevel = cb
	d.mu.Unlock()
}

// SetMuted engages or releases the mute. While muted, voice detection is
// suppressed entirely. Engaging mute mid-utterance immediately resets to
// silence without flushing — the in-progress utterance is discarded. That
// trade-off (mute means mute, even at the cost of losing the tail of an
// utterance) is deliberate.
func (d *Detector) SetMuted(muted bool) {
	d.mu.Lock()
	d.muted = muted
	var snapshot *State
	if muted && d.state.Speaking {
		slog.Debug("vad: mute engaged mid-utterance, discarding",
			"speech_duration", d.state.SpeechDuration)
		d.state = State{Level: d.state.Level}
		s := d.state
		snapshot = &s
	}
	cb := d.onStateChange
	d.mu.Unlock()

	if snapshot != nil && cb != nil {
		cb(*snapshot)
	}
}

// IsMuted reports whether the detector is muted.
func (d *Detector) IsMuted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.muted
}

// SetSensitivity updates the sensitivity, clamped to [0, 1].
func (d *Detector) SetSensitivity(s float64) {
	d.mu.Lock()
	d.sensitivity = clampSensitivity(s)
	d.mu.Unlock()
}

// Sensitivity returns the current (clamped) sensitivity.
func (d *Detector) Sensitivity() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sensitivity
}

// SetSilenceThreshold updates the end-of-utterance silence duration, clamped
// to [500ms, 5s].
func (d *Detector) SetSilenceThreshold(t time.Duration) {
	d.mu.Lock()
	d.silenceThreshold = clampSilenceThreshold(t)
	d.mu.Unlock()
}

// SilenceThreshold returns the current (clamped) silence threshold.
func (d *Detector) SilenceThreshold() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.silenceThreshold
}

// State returns the current snapshot.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Reset clears all accumulated detection state. Used when capture restarts
// so stale timers from the previous session cannot affect the next one.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.state = State{}
	d.mu.Unlock()
}

func clampSensitivity(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

func clampSilenceThreshold(t time.Duration) time.Duration {
	if t < MinSilenceThreshold {
		return MinSilenceThreshold
	}
	if t > MaxSilenceThreshold {
		return MaxSilenceThreshold
	}
	return t
}
