// Package malgo provides [audio.CaptureDevice] and [audio.PlaybackDevice]
// adapters backed by miniaudio (github.com/gen2brain/malgo), giving Earshot
// real microphone and speaker access on Linux, macOS, and Windows.
package malgo

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/earshot-ai/earshot/pkg/audio"
)

// frameBuffer is the CaptureStream frame channel capacity. Roughly one
// second of 10 ms device callbacks.
const frameBuffer = 100

// CaptureDevice opens the default system microphone via miniaudio.
type CaptureDevice struct{}

// NewCaptureDevice creates a miniaudio-backed capture device.
func NewCaptureDevice() *CaptureDevice {
	return &CaptureDevice{}
}

// Open implements [audio.CaptureDevice]. It initialises a miniaudio context
// and a capture device in S16 format, starts it, and returns the stream.
func (d *CaptureDevice) Open(_ context.Context, cfg audio.StreamConfig) (audio.CaptureStream, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}

	s := &captureStream{
		mctx:       mctx,
		frames:     make(chan audio.Frame, frameBuffer),
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1 // better compatibility on some systems

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: s.onSamples,
	})
	if err != nil {
		teardownContext(mctx)
		return nil, fmt.Errorf("malgo: init capture device: %w", err)
	}
	s.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		teardownContext(mctx)
		return nil, fmt.Errorf("malgo: start capture device: %w", err)
	}
	return s, nil
}

// captureStream implements [audio.CaptureStream] over a running miniaudio
// capture device.
type captureStream struct {
	mu sync.Mutex

	mctx   *malgo.AllocatedContext
	device *malgo.Device

	frames     chan audio.Frame
	sampleRate int
	channels   int
	samples    int64 // total samples delivered, for frame timestamps
	closed     bool
}

// onSamples is the miniaudio data callback. It runs on the device's audio
// thread, so the frame send is non-blocking: if the consumer stalls, frames
// are dropped rather than glitching the device.
func (s *captureStream) onSamples(_, pInput []byte, _ uint32) {
	if pInput == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	ts := time.Duration(s.samples) * time.Second / time.Duration(s.sampleRate*s.channels)
	s.samples += int64(len(pInput) / 2)
	s.mu.Unlock()

	data := make([]byte, len(pInput))
	copy(data, pInput)
	frame := audio.Frame{
		Data:       data,
		SampleRate: s.sampleRate,
		Channels:   s.channels,
		Timestamp:  ts,
	}
	select {
	case s.frames <- frame:
	default:
		slog.Warn("malgo: frame channel full, dropping frame", "bytes", len(data))
	}
}

// Frames implements [audio.CaptureStream].
func (s *captureStream) Frames() <-chan audio.Frame {
	return s.frames
}

// Close implements [audio.CaptureStream]. The device is uninitialised before
// the miniaudio context so that the hardware handle is never orphaned.
func (s *captureStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.device.Uninit()
	err := teardownContext(s.mctx)
	close(s.frames)
	return err
}

// teardownContext uninitialises and frees a miniaudio context.
func teardownContext(mctx *malgo.AllocatedContext) error {
	if err := mctx.Uninit(); err != nil {
		mctx.Free()
		return fmt.Errorf("malgo: uninit context: %w", err)
	}
	mctx.Free()
	return nil
}

// Compile-time checks.
var (
	_ audio.CaptureDevice = (*CaptureDevice)(nil)
	_ audio.CaptureStream = (*captureStream)(nil)
)
