package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/earshot-ai/earshot/pkg/audio"
)

// opusSampleRates lists the capture sample rates the Opus codec accepts.
// Other rates still work through the WAV fallback, but lose the preferred
// format.
var opusSampleRates = map[int]bool{
	8000: true, 12000: true, 16000: true, 24000: true, 48000: true,
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Capture
	if cfg.Capture.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must be positive", cfg.Capture.SampleRate))
	} else if !opusSampleRates[cfg.Capture.SampleRate] {
		slog.Warn("capture.sample_rate is not Opus-compatible; capture will fall back to WAV",
			"sample_rate", cfg.Capture.SampleRate)
	}
	if cfg.Capture.Channels != 1 && cfg.Capture.Channels != 2 {
		errs = append(errs, fmt.Errorf("capture.channels %d is invalid; valid values: 1, 2", cfg.Capture.Channels))
	}
	if cfg.Capture.FFTSize < 32 || cfg.Capture.FFTSize&(cfg.Capture.FFTSize-1) != 0 {
		errs = append(errs, fmt.Errorf("capture.fft_size %d must be a power of two, at least 32", cfg.Capture.FFTSize))
	}
	if cfg.Capture.ChunkIntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("capture.chunk_interval_ms %d must be positive", cfg.Capture.ChunkIntervalMs))
	}
	if cfg.Capture.TickIntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("capture.tick_interval_ms %d must be positive", cfg.Capture.TickIntervalMs))
	}
	switch cfg.Capture.PreferredFormat {
	case "", audio.FormatOpus, audio.FormatWAV:
	default:
		errs = append(errs, fmt.Errorf("capture.preferred_format %q is invalid; valid values: opus, wav", cfg.Capture.PreferredFormat))
	}

	// Detector
	if cfg.Detector.Sensitivity < 0 || cfg.Detector.Sensitivity > 1 {
		errs = append(errs, fmt.Errorf("detector.sensitivity %.4f is out of range [0, 1]", cfg.Detector.Sensitivity))
	}
	if cfg.Detector.SilenceThresholdMs < 500 || cfg.Detector.SilenceThresholdMs > 5000 {
		errs = append(errs, fmt.Errorf("detector.silence_threshold_ms %d is out of range [500, 5000]", cfg.Detector.SilenceThresholdMs))
	}
	if cfg.Detector.MinSpeechDurationMs < 0 {
		errs = append(errs, fmt.Errorf("detector.min_speech_duration_ms %d must not be negative", cfg.Detector.MinSpeechDurationMs))
	}
	if cfg.Detector.FlushGraceMs <= 0 {
		errs = append(errs, fmt.Errorf("detector.flush_grace_ms %d must be positive", cfg.Detector.FlushGraceMs))
	} else if cfg.Detector.FlushGraceMs >= cfg.Capture.ChunkIntervalMs && cfg.Capture.ChunkIntervalMs > 0 {
		slog.Warn("detector.flush_grace_ms is not below capture.chunk_interval_ms; flushes may swallow the start of the next utterance",
			"flush_grace_ms", cfg.Detector.FlushGraceMs,
			"chunk_interval_ms", cfg.Capture.ChunkIntervalMs)
	}

	// Level smoothing weights
	if cfg.Level.DecayWeight <= 0 || cfg.Level.AttackWeight <= 0 {
		errs = append(errs, fmt.Errorf("level weights must be positive (decay %.3f, attack %.3f)", cfg.Level.DecayWeight, cfg.Level.AttackWeight))
	} else if sum := cfg.Level.DecayWeight + cfg.Level.AttackWeight; math.Abs(sum-1) > 0.001 {
		errs = append(errs, fmt.Errorf("level weights must sum to 1, got %.3f", sum))
	}

	// Playback
	if cfg.Playback.Volume < 0 || cfg.Playback.Volume > 1 {
		errs = append(errs, fmt.Errorf("playback.volume %.2f is out of range [0, 1]", cfg.Playback.Volume))
	}

	return errors.Join(errs...)
}
