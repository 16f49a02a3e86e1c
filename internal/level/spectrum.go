package level

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Spectrum maintains a ring of the most recent PCM samples fed from the
// capture stream and produces unsigned magnitude bins from it on demand.
//
// Push is called from the frame pump goroutine and Bins from the analysis
// tick loop, so Spectrum is safe for concurrent use.
type Spectrum struct {
	mu sync.Mutex

	fft    *fourier.FFT
	ring   []float64
	pos    int
	filled bool
}

// NewSpectrum creates a spectrum window over the last fftSize samples.
// fftSize must be a power of two ≥ 32 for sensible resolution; the capture
// config validator enforces that.
func NewSpectrum(fftSize int) *Spectrum {
	return &Spectrum{
		fft:  fourier.NewFFT(fftSize),
		ring: make([]float64, fftSize),
	}
}

// Push appends little-endian 16-bit PCM samples to the window, overwriting
// the oldest samples once the window is full. Stereo input is pushed as-is;
// interleaving does not meaningfully change the magnitude spectrum for the
// loudness reduction this feeds.
func (s *Spectrum) Push(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		s.ring[s.pos] = float64(sample) / 32768.0
		s.pos++
		if s.pos == len(s.ring) {
			s.pos = 0
			s.filled = true
		}
	}
}

// Bins returns fftSize/2 magnitude bins scaled to [0, 255], oldest-first
// window order. Before any samples arrive the bins are all zero.
func (s *Spectrum) Bins() []byte {
	s.mu.Lock()
	seq := make([]float64, len(s.ring))
	if s.filled {
		n := copy(seq, s.ring[s.pos:])
		copy(seq[n:], s.ring[:s.pos])
	} else {
		copy(seq, s.ring[:s.pos])
	}
	s.mu.Unlock()

	coeffs := s.fft.Coefficients(nil, seq)
	// Drop the DC term; keep fftSize/2 bins like a browser analyser node.
	bins := make([]byte, len(s.ring)/2)
	scale := 2.0 / float64(len(s.ring))
	for i := range bins {
		c := coeffs[i+1]
		mag := scale * math.Hypot(real(c), imag(c))
		if mag > 1 {
			mag = 1
		}
		bins[i] = byte(mag * 255)
	}
	return bins
}

// Reset clears the sample window.
func (s *Spectrum) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.ring {
		s.ring[i] = 0
	}
	s.pos = 0
	s.filled = false
}
