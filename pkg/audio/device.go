// Package audio defines the interfaces and types for audio device access and
// chunked encoding within Earshot.
//
// The three primary abstractions are:
//
//   - [CaptureDevice] — opens the microphone and returns a [CaptureStream] of
//     raw PCM frames.
//   - [PlaybackDevice] — renders an audio [Source] and reports completion via
//     a [PlaybackHandle].
//   - [ChunkEncoder] — serialises captured PCM into a transportable byte
//     format, delivering data incrementally.
//
// Implementations are provided by device-specific adapter packages (e.g.,
// audio/malgo for miniaudio hardware access, audio/opus and audio/wav for
// encoding). The interfaces are intentionally narrow to keep the capture
// controller decoupled from device details.
//
// This package lives under pkg/ because external code (alternative device
// adapters, test harnesses) is expected to implement these interfaces.
package audio

import "context"

// CaptureStream represents an open microphone stream.
//
// A CaptureStream is obtained by calling [CaptureDevice.Open] and remains
// valid until [CaptureStream.Close] is called. The Frames channel is closed
// automatically when the stream terminates.
//
// Implementations must be safe for concurrent use.
type CaptureStream interface {
	// Frames returns the read-only channel delivering captured PCM frames in
	// arrival order. The channel is closed when the stream is closed or the
	// device fails; no frames are delivered after Close returns.
	Frames() <-chan Frame

	// Close releases the underlying device. It is safe to call Close more
	// than once; subsequent calls are no-ops and return nil. Releasing the
	// device is the user-visible "microphone is off" signal, so Close must
	// release hardware access even if draining internal buffers fails.
	Close() error
}

// CaptureDevice is the entry point for microphone access.
//
// Implementations must be safe for concurrent use.
type CaptureDevice interface {
	// Open acquires the capture hardware and starts delivering frames in the
	// requested format. The supplied ctx governs the lifetime of the
	// acquisition attempt only; once open, the stream remains alive until
	// [CaptureStream.Close] is called explicitly.
	//
	// Returns an error if the device is unavailable or access is denied.
	Open(ctx context.Context, cfg StreamConfig) (CaptureStream, error)
}

// PlaybackHandle represents one in-flight playback of a [Source].
//
// Implementations must be safe for concurrent use.
type PlaybackHandle interface {
	// Done returns a channel that delivers exactly one value when playback
	// finishes: nil on natural completion, or the playback error. The channel
	// is closed after the value is delivered. After [PlaybackHandle.Stop],
	// nothing is ever delivered — the playback is abandoned, not failed.
	Done() <-chan error

	// SetVolume adjusts the playback gain. v is expected in [0, 1]; values
	// outside that range are clamped by the device.
	SetVolume(v float64)

	// Stop hard-interrupts playback: pause and reset position. Safe to call
	// more than once. After Stop, Done never delivers.
	Stop() error
}

// PlaybackDevice renders decodable audio byte streams.
//
// Implementations must be safe for concurrent use.
type PlaybackDevice interface {
	// Play resolves src and starts rendering it at the given volume.
	// The returned handle reports completion and supports interruption.
	//
	// Returns an error if the source cannot be resolved or the output device
	// cannot be acquired. Errors occurring after Play returns are delivered
	// through the handle's Done channel instead.
	Play(ctx context.Context, src Source, volume float64) (PlaybackHandle, error)
}
