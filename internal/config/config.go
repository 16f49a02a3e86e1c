// Package config provides the configuration schema, loader, and hot-reload
// watcher for the Earshot voice capture service.
package config

import "github.com/earshot-ai/earshot/pkg/audio"

// LogLevel controls log verbosity for the Earshot server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Earshot.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Capture  CaptureConfig  `yaml:"capture"`
	Detector DetectorConfig `yaml:"detector"`
	Level    LevelConfig    `yaml:"level"`
	Playback PlaybackConfig `yaml:"playback"`
}

// ServerConfig holds network and logging settings for the Earshot server.
type ServerConfig struct {
	// ListenAddr is the TCP address the metrics/health server listens on
	// (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// CaptureConfig holds the audio capture and encoding parameters. Changing any
// of these requires a capture restart.
type CaptureConfig struct {
	// SampleRate of microphone capture in Hz.
	SampleRate int `yaml:"sample_rate"`

	// Channels of microphone capture; 1 or 2.
	Channels int `yaml:"channels"`

	// FFTSize is the spectrum analysis window in samples. Must be a power
	// of two, at least 32.
	FFTSize int `yaml:"fft_size"`

	// ChunkIntervalMs is the encoder's periodic chunk emission interval.
	ChunkIntervalMs int `yaml:"chunk_interval_ms"`

	// TickIntervalMs is the level/VAD analysis tick period.
	TickIntervalMs int `yaml:"tick_interval_ms"`

	// PreferredFormat is the encoding format tried first; the other
	// registered formats are fallbacks.
	PreferredFormat audio.Format `yaml:"preferred_format"`
}

// DetectorConfig holds the voice-activity detection tuning. Sensitivity and
// the silence threshold can be hot-reloaded.
type DetectorConfig struct {
	// Sensitivity in [0, 1]. Higher values trigger on quieter speech.
	Sensitivity float64 `yaml:"sensitivity"`

	// SilenceThresholdMs is the sustained-silence duration that ends an
	// utterance. Valid range [500, 5000].
	SilenceThresholdMs int `yaml:"silence_threshold_ms"`

	// MinSpeechDurationMs is the minimum voiced run for an utterance to be
	// reported rather than discarded as noise.
	MinSpeechDurationMs int `yaml:"min_speech_duration_ms"`

	// FlushGraceMs is how long an end-of-utterance flush waits for the
	// encoder's final chunk. Should stay below capture.chunk_interval_ms.
	FlushGraceMs int `yaml:"flush_grace_ms"`
}

// LevelConfig holds the loudness smoothing weights. The two weights must sum
// to 1.
type LevelConfig struct {
	// DecayWeight is the fraction of the previous level kept each tick.
	DecayWeight float64 `yaml:"decay_weight"`

	// AttackWeight is the fraction contributed by the new measurement.
	AttackWeight float64 `yaml:"attack_weight"`
}

// PlaybackConfig holds output settings.
type PlaybackConfig struct {
	// Volume is the initial playback volume in [0, 1].
	Volume float64 `yaml:"volume"`
}

// Default returns a Config populated with the calibrated defaults. [Load]
// starts from this value, so a partial YAML file only overrides what it
// mentions.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		Capture: CaptureConfig{
			SampleRate:      16000,
			Channels:        1,
			FFTSize:         2048,
			ChunkIntervalMs: 250,
			TickIntervalMs:  100,
			PreferredFormat: audio.FormatOpus,
		},
		Detector: DetectorConfig{
			Sensitivity:         0.015,
			SilenceThresholdMs:  1200,
			MinSpeechDurationMs: 300,
			FlushGraceMs:        150,
		},
		Level: LevelConfig{
			DecayWeight:  0.7,
			AttackWeight: 0.3,
		},
		Playback: PlaybackConfig{
			Volume: 1.0,
		},
	}
}
