package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/earshot-ai/earshot/pkg/audio"
)

func TestLoadFromReader(t *testing.T) {
	t.Run("partial yaml overrides only what it mentions", func(t *testing.T) {
		cfg, err := LoadFromReader(strings.NewReader(`
detector:
  sensitivity: 0.05
  silence_threshold_ms: 2000
  min_speech_duration_ms: 300
  flush_grace_ms: 150
`))
		if err != nil {
			t.Fatalf("LoadFromReader: %v", err)
		}
		if cfg.Detector.Sensitivity != 0.05 {
			t.Errorf("sensitivity = %v, want 0.05", cfg.Detector.Sensitivity)
		}
		if cfg.Detector.SilenceThresholdMs != 2000 {
			t.Errorf("silence_threshold_ms = %d, want 2000", cfg.Detector.SilenceThresholdMs)
		}
		// Untouched sections keep their defaults.
		if cfg.Capture.SampleRate != 16000 {
			t.Errorf("sample_rate = %d, want default 16000", cfg.Capture.SampleRate)
		}
		if cfg.Capture.PreferredFormat != audio.FormatOpus {
			t.Errorf("preferred_format = %q, want opus", cfg.Capture.PreferredFormat)
		}
		if cfg.Server.ListenAddr != ":8080" {
			t.Errorf("listen_addr = %q, want default :8080", cfg.Server.ListenAddr)
		}
	})

	t.Run("empty input yields the defaults", func(t *testing.T) {
		cfg, err := LoadFromReader(strings.NewReader(""))
		if err != nil {
			t.Fatalf("LoadFromReader: %v", err)
		}
		if *cfg != *Default() {
			t.Errorf("config = %+v, want defaults", cfg)
		}
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		_, err := LoadFromReader(strings.NewReader(`
detector:
  sensitivty: 0.05
`))
		if err == nil {
			t.Fatal("misspelled field was accepted")
		}
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		_, err := LoadFromReader(strings.NewReader(`
detector:
  sensitivity: 3.0
`))
		if err == nil || !strings.Contains(err.Error(), "detector.sensitivity") {
			t.Errorf("err = %v, want a sensitivity validation failure", err)
		}
	})
}

func TestLoad(t *testing.T) {
	t.Run("reads a file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "earshot.yaml")
		if err := os.WriteFile(path, []byte("playback:\n  volume: 0.5\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Playback.Volume != 0.5 {
			t.Errorf("volume = %v, want 0.5", cfg.Playback.Volume)
		}
	})

	t.Run("missing file surfaces the path", func(t *testing.T) {
		_, err := Load("/does/not/exist.yaml")
		if err == nil || !strings.Contains(err.Error(), "/does/not/exist.yaml") {
			t.Errorf("err = %v, want path in message", err)
		}
	})
}
