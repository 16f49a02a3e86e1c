// Package utterance accumulates encoded audio chunks between speech start and
// speech end, and assembles them into complete utterances for the consumer.
package utterance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/earshot-ai/earshot/internal/observe"
)

// DefaultFlushGrace is how long a flush waits for the encoder to emit its
// final chunk before assembling the utterance. The encoder's periodic emit
// loop can lag the end-of-speech decision by up to one chunk interval minus
// epsilon, so the grace must stay below the chunk interval to avoid
// swallowing the start of the next utterance.
const DefaultFlushGrace = 150 * time.Millisecond

// Utterance is a complete, assembled user utterance.
type Utterance struct {
	// ID uniquely identifies the utterance.
	ID string

	// Audio is the concatenated encoded payload of all buffered chunks.
	Audio []byte

	// Chunks is the number of encoder chunks that made up the audio.
	Chunks int

	// SpeechDuration is the voiced duration reported by the detector.
	SpeechDuration time.Duration

	// CapturedAt records when the utterance was assembled.
	CapturedAt time.Time
}

// Buffer collects encoded audio chunks for the utterance in progress.
//
// Append is called from the encoder chunk pump, Flush and Reset from the
// analysis loop, so all methods are safe for concurrent use. A flush captures
// the chunk list at call time and then waits a grace period so the encoder
// chunk still in flight at the end-of-speech decision can be merged in. Once
// scheduled, a flush always assembles: a Reset or a newer Flush during the
// grace window only claims chunks appended after it for the next utterance,
// it never takes back an utterance whose end was already confirmed.
type Buffer struct {
	mu       sync.Mutex
	chunks   [][]byte
	flushSeq uint64

	grace   time.Duration
	after   func(time.Duration) <-chan time.Time
	now     func() time.Time
	metrics *observe.Metrics

	onUtterance func(Utterance)
}

// Option configures a [Buffer].
type Option func(*Buffer)

// WithFlushGrace overrides the flush grace period.
func WithFlushGrace(d time.Duration) Option {
	return func(b *Buffer) {
		if d > 0 {
			b.grace = d
		}
	}
}

// WithClock overrides the timer and wall-clock functions. Intended for tests.
func WithClock(after func(time.Duration) <-chan time.Time, now func() time.Time) Option {
	return func(b *Buffer) {
		b.after = after
		b.now = now
	}
}

// NewBuffer creates an empty utterance buffer. metrics may be nil.
func NewBuffer(metrics *observe.Metrics, opts ...Option) *Buffer {
	b := &Buffer{
		grace:   DefaultFlushGrace,
		after:   time.After,
		now:     time.Now,
		metrics: metrics,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// OnUtterance registers cb to receive assembled utterances. Only one
// subscriber may be registered at a time; subsequent calls replace the
// previous registration. Pass nil to detach.
func (b *Buffer) OnUtterance(cb func(Utterance)) {
	b.mu.Lock()
	b.onUtterance = cb
	b.mu.Unlock()
}

// Append adds an encoded chunk to the utterance in progress. Empty chunks are
// ignored.
func (b *Buffer) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	b.mu.Lock()
	b.chunks = append(b.chunks, chunk)
	b.mu.Unlock()
}

// Len returns the number of buffered chunks.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// Reset discards all buffered chunks. Called when a new utterance starts or
// when the utterance in progress is abandoned. A flush already scheduled keeps
// the chunks it captured and still delivers; Reset only stops it from merging
// chunks appended afterwards.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.chunks = nil
	b.flushSeq++
	b.mu.Unlock()
}

// Flush captures the buffered utterance and schedules its assembly after the
// grace period. The chunk list is snapshotted and cleared synchronously, so
// audio arriving for the next utterance can never bleed in; the grace wait
// exists only to merge the encoder chunk that was still in flight when speech
// ended. speechDuration is carried into the assembled [Utterance].
//
// The flush is abandoned only if ctx is cancelled (session teardown). A flush
// that captures no chunks is logged and counted but delivers nothing; that
// happens legitimately when speech was too quiet for the encoder to have
// produced a chunk yet.
func (b *Buffer) Flush(ctx context.Context, speechDuration time.Duration) {
	b.mu.Lock()
	b.flushSeq++
	seq := b.flushSeq
	chunks := b.chunks
	b.chunks = nil
	grace := b.grace
	wait := b.after
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-wait(grace):
		}

		b.mu.Lock()
		// Chunks appended during the grace belong to this utterance unless a
		// Reset or newer Flush intervened, in which case they are the next
		// utterance's and stay buffered.
		if seq == b.flushSeq {
			chunks = append(chunks, b.chunks...)
			b.chunks = nil
		}
		cb := b.onUtterance
		now := b.now
		b.mu.Unlock()

		if len(chunks) == 0 {
			slog.Warn("utterance: flush with no audio chunks",
				"speech_duration", speechDuration)
			if b.metrics != nil {
				b.metrics.EmptyFlushes.Add(ctx, 1)
			}
			return
		}

		var total int
		for _, c := range chunks {
			total += len(c)
		}
		audio := make([]byte, 0, total)
		for _, c := range chunks {
			audio = append(audio, c...)
		}

		u := Utterance{
			ID:             uuid.NewString(),
			Audio:          audio,
			Chunks:         len(chunks),
			SpeechDuration: speechDuration,
			CapturedAt:     now(),
		}
		slog.Debug("utterance: assembled",
			"id", u.ID,
			"chunks", u.Chunks,
			"bytes", len(u.Audio),
			"speech_duration", u.SpeechDuration,
		)
		if b.metrics != nil {
			b.metrics.RecordUtterance(ctx, speechDuration.Seconds())
		}
		if cb != nil {
			cb(u)
		}
	}()
}
