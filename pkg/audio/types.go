package audio

import "time"

// Frame represents a single frame of audio data flowing through the pipeline.
// Frames are the atomic unit of audio transport — captured from the input
// device, analysed for voice activity, and fed into the chunked encoder.
type Frame struct {
	// Data holds raw little-endian 16-bit PCM. Sample rate and channel count
	// are determined by the stream config the frame was captured with.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for speech capture, 48000 for playback).
	SampleRate int

	// Channels: 1 for mono (capture), 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// StreamConfig describes the PCM format requested from a [CaptureDevice].
type StreamConfig struct {
	// SampleRate in Hz. Common values: 8000, 16000, 44100, 48000.
	SampleRate int

	// Channels is the number of audio channels (1 = mono, 2 = stereo).
	Channels int
}

// Source identifies already-rendered TTS audio by reference. The reference is
// opaque to the playback queue — a [PlaybackDevice] implementation decides how
// to resolve it (file path, URL, in-memory handle).
type Source struct {
	// Ref is the device-interpretable reference to the rendered audio.
	Ref string
}
