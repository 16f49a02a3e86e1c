package malgo

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/earshot-ai/earshot/pkg/audio"
)

// PlaybackDevice renders WAV sources through the default system output via
// miniaudio. Sources are resolved by reference: http(s) URLs are fetched,
// anything else is treated as a local file path.
type PlaybackDevice struct {
	// Client is the HTTP client used for URL sources. Defaults to
	// http.DefaultClient when nil.
	Client *http.Client
}

// NewPlaybackDevice creates a miniaudio-backed playback device.
func NewPlaybackDevice() *PlaybackDevice {
	return &PlaybackDevice{}
}

// Play implements [audio.PlaybackDevice]. The source must resolve to a
// 16-bit PCM WAV payload.
func (d *PlaybackDevice) Play(ctx context.Context, src audio.Source, volume float64) (audio.PlaybackHandle, error) {
	raw, err := d.resolve(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("malgo: resolve source %q: %w", src.Ref, err)
	}
	sampleRate, channels, pcm, err := parseWAV(raw)
	if err != nil {
		return nil, fmt.Errorf("malgo: decode source %q: %w", src.Ref, err)
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}

	h := &playbackHandle{
		mctx:   mctx,
		pcm:    pcm,
		volume: clamp01(volume),
		done:   make(chan error, 1),
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: h.onSamples,
	})
	if err != nil {
		teardownContext(mctx)
		return nil, fmt.Errorf("malgo: init playback device: %w", err)
	}
	h.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		teardownContext(mctx)
		return nil, fmt.Errorf("malgo: start playback device: %w", err)
	}
	return h, nil
}

// resolve fetches the source bytes.
func (d *PlaybackDevice) resolve(ctx context.Context, src audio.Source) ([]byte, error) {
	if strings.HasPrefix(src.Ref, "http://") || strings.HasPrefix(src.Ref, "https://") {
		client := d.Client
		if client == nil {
			client = http.DefaultClient
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.Ref, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %s", resp.Status)
		}
		return io.ReadAll(resp.Body)
	}
	return os.ReadFile(src.Ref)
}

// playbackHandle implements [audio.PlaybackHandle] over a running miniaudio
// playback device.
type playbackHandle struct {
	mu sync.Mutex

	mctx   *malgo.AllocatedContext
	device *malgo.Device

	pcm    []byte
	pos    int
	volume float64

	done      chan error
	stopped   bool
	completed bool
}

// onSamples is the miniaudio output callback. It copies volume-scaled PCM
// into the output buffer and pads the remainder with silence.
func (h *playbackHandle) onSamples(pOutput, _ []byte, _ uint32) {
	h.mu.Lock()
	if h.stopped || h.completed {
		h.mu.Unlock()
		zero(pOutput)
		return
	}
	n := copyScaled(pOutput, h.pcm[h.pos:], h.volume)
	h.pos += n
	finished := h.pos >= len(h.pcm)
	if finished {
		h.completed = true
	}
	h.mu.Unlock()

	zero(pOutput[n:])
	if finished {
		// Device teardown must not run on the audio thread.
		go h.finish(nil)
	}
}

// finish tears down the device and delivers the completion value.
func (h *playbackHandle) finish(err error) {
	h.device.Uninit()
	teardownContext(h.mctx)
	h.done <- err
	close(h.done)
}

// Done implements [audio.PlaybackHandle].
func (h *playbackHandle) Done() <-chan error {
	return h.done
}

// SetVolume implements [audio.PlaybackHandle].
func (h *playbackHandle) SetVolume(v float64) {
	h.mu.Lock()
	h.volume = clamp01(v)
	h.mu.Unlock()
}

// Stop implements [audio.PlaybackHandle]: pause, reset position, release the
// device. Done never delivers after Stop.
func (h *playbackHandle) Stop() error {
	h.mu.Lock()
	if h.stopped || h.completed {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	h.pos = 0
	h.mu.Unlock()

	if err := h.device.Stop(); err != nil {
		h.device.Uninit()
		teardownContext(h.mctx)
		return fmt.Errorf("malgo: stop playback device: %w", err)
	}
	h.device.Uninit()
	return teardownContext(h.mctx)
}

// copyScaled copies PCM from src to dst with per-sample volume scaling and
// returns the number of bytes copied (always even).
func copyScaled(dst, src []byte, volume float64) int {
	n := len(src)
	if len(dst) < n {
		n = len(dst)
	}
	n &^= 1
	for i := 0; i < n; i += 2 {
		sample := int16(binary.LittleEndian.Uint16(src[i:]))
		scaled := int16(float64(sample) * volume)
		binary.LittleEndian.PutUint16(dst[i:], uint16(scaled))
	}
	return n
}

// zero fills b with silence.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// parseWAV extracts the format and PCM payload from a RIFF/WAVE byte stream.
// It walks the chunk list rather than assuming a fixed 44-byte header, and
// tolerates streaming headers whose data length field overstates the payload.
func parseWAV(raw []byte) (sampleRate, channels int, pcm []byte, err error) {
	if len(raw) < 12 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return 0, 0, nil, fmt.Errorf("not a RIFF/WAVE stream")
	}
	pos := 12
	for pos+8 <= len(raw) {
		id := string(raw[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(raw[pos+4 : pos+8]))
		body := pos + 8
		switch id {
		case "fmt ":
			if body+16 > len(raw) {
				return 0, 0, nil, fmt.Errorf("truncated fmt chunk")
			}
			format := binary.LittleEndian.Uint16(raw[body:])
			bits := binary.LittleEndian.Uint16(raw[body+14:])
			if format != 1 || bits != 16 {
				return 0, 0, nil, fmt.Errorf("unsupported WAV format %d/%d-bit", format, bits)
			}
			channels = int(binary.LittleEndian.Uint16(raw[body+2:]))
			sampleRate = int(binary.LittleEndian.Uint32(raw[body+4:]))
		case "data":
			end := body + size
			if size < 0 || end > len(raw) {
				end = len(raw) // streaming header with placeholder length
			}
			pcm = raw[body:end]
		}
		if size < 0 || body+size > len(raw) {
			break
		}
		pos = body + size + size%2
	}
	if sampleRate == 0 || channels == 0 {
		return 0, 0, nil, fmt.Errorf("missing fmt chunk")
	}
	if len(pcm) == 0 {
		return 0, 0, nil, fmt.Errorf("missing data chunk")
	}
	return sampleRate, channels, pcm, nil
}

// Compile-time checks.
var (
	_ audio.PlaybackDevice = (*PlaybackDevice)(nil)
	_ audio.PlaybackHandle = (*playbackHandle)(nil)
)
