package level

import (
	"math"
	"testing"
)

func TestAnalyzer_Process(t *testing.T) {
	t.Run("uniform bins converge toward their rms", func(t *testing.T) {
		a := NewAnalyzer(0.7, 0.3)
		bins := make([]byte, 64)
		for i := range bins {
			bins[i] = 255
		}
		// rms of all-255 bins is exactly 1.0; the level approaches it
		// geometrically.
		var got float64
		for i := 0; i < 50; i++ {
			got = a.Process(bins)
		}
		if math.Abs(got-1.0) > 1e-6 {
			t.Errorf("level = %v, want ≈ 1.0", got)
		}
	})

	t.Run("zero-energy bins decay toward zero", func(t *testing.T) {
		a := NewAnalyzer(0.7, 0.3)
		loud := make([]byte, 32)
		for i := range loud {
			loud[i] = 200
		}
		a.Process(loud)
		start := a.Level()
		if start <= 0 {
			t.Fatalf("expected non-zero level after loud bins, got %v", start)
		}

		silent := make([]byte, 32)
		for i := 0; i < 20; i++ {
			a.Process(silent)
		}
		if a.Level() > start*math.Pow(0.7, 19) {
			t.Errorf("level %v did not decay at the 0.7 rate from %v", a.Level(), start)
		}
	})

	t.Run("empty snapshot decays via smoothing term alone", func(t *testing.T) {
		a := NewAnalyzer(0.7, 0.3)
		loud := make([]byte, 16)
		for i := range loud {
			loud[i] = 255
		}
		a.Process(loud)
		before := a.Level()

		got := a.Process(nil)
		want := before * 0.7
		if math.Abs(got-want) > 1e-12 {
			t.Errorf("Process(nil) = %v, want %v", got, want)
		}
	})

	t.Run("single tick matches the smoothing formula exactly", func(t *testing.T) {
		a := NewAnalyzer(0.7, 0.3)
		bins := []byte{255, 0, 255, 0}
		// rms = sqrt((1 + 0 + 1 + 0) / 4) = sqrt(0.5)
		want := 0.3 * math.Sqrt(0.5)
		got := a.Process(bins)
		if math.Abs(got-want) > 1e-12 {
			t.Errorf("Process = %v, want %v", got, want)
		}
	})

	t.Run("invalid weights fall back to defaults", func(t *testing.T) {
		a := NewAnalyzer(0, 0)
		bins := []byte{255}
		got := a.Process(bins)
		if math.Abs(got-DefaultAttackWeight) > 1e-12 {
			t.Errorf("Process = %v, want %v", got, DefaultAttackWeight)
		}
	})

	t.Run("reset clears the level", func(t *testing.T) {
		a := NewAnalyzer(0.7, 0.3)
		a.Process([]byte{255, 255})
		a.Reset()
		if a.Level() != 0 {
			t.Errorf("level after reset = %v, want 0", a.Level())
		}
	})
}

func TestSpectrum_Bins(t *testing.T) {
	t.Run("empty window yields zero bins", func(t *testing.T) {
		s := NewSpectrum(64)
		bins := s.Bins()
		if len(bins) != 32 {
			t.Fatalf("expected 32 bins, got %d", len(bins))
		}
		for i, b := range bins {
			if b != 0 {
				t.Errorf("bin %d = %d, want 0", i, b)
			}
		}
	})

	t.Run("sine wave concentrates energy in one bin", func(t *testing.T) {
		const n = 256
		s := NewSpectrum(n)
		// Full-scale sine at bin index 8 (cycle 8 over the window).
		pcm := make([]byte, n*2)
		for i := 0; i < n; i++ {
			v := int16(30000 * math.Sin(2*math.Pi*8*float64(i)/n))
			pcm[i*2] = byte(v)
			pcm[i*2+1] = byte(v >> 8)
		}
		s.Push(pcm)

		bins := s.Bins()
		// Bins drop the DC term, so cycle 8 lands at index 7.
		peak := bins[7]
		if peak < 200 {
			t.Errorf("expected strong peak at bin 7, got %d", peak)
		}
		for i, b := range bins {
			if i != 7 && b > peak/4 {
				t.Errorf("unexpected energy at bin %d: %d (peak %d)", i, b, peak)
			}
		}
	})

	t.Run("reset clears the window", func(t *testing.T) {
		s := NewSpectrum(64)
		pcm := make([]byte, 128)
		for i := range pcm {
			pcm[i] = 0x7f
		}
		s.Push(pcm)
		s.Reset()
		for i, b := range s.Bins() {
			if b != 0 {
				t.Errorf("bin %d = %d after reset, want 0", i, b)
			}
		}
	})
}
