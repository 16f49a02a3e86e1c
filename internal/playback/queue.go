// Package playback serialises playback requests through a single output
// device: strict FIFO order, one request rendering at a time, with the whole
// queue discarded at once when the user barges in.
package playback

import (
	"context"
	"log/slog"
	"sync"

	"github.com/earshot-ai/earshot/internal/observe"
	"github.com/earshot-ai/earshot/pkg/audio"
)

// DefaultVolume is the initial playback volume.
const DefaultVolume = 1.0

// item is one queued playback request.
type item struct {
	ctx    context.Context
	src    audio.Source
	ticket *Ticket
}

// Queue is a FIFO playback queue over an [audio.PlaybackDevice].
//
// Requests are rendered one at a time in enqueue order. A device error on one
// request is delivered to that request's ticket and the queue advances to the
// next. [Queue.Stop] halts the device synchronously, clears the queue, and
// abandons every outstanding ticket.
//
// All methods are safe for concurrent use.
type Queue struct {
	mu sync.Mutex

	device  audio.PlaybackDevice
	metrics *observe.Metrics

	items   []*item
	current audio.PlaybackHandle
	volume  float64
	playing bool

	// gen is bumped by Stop; a run loop spawned for an older generation
	// exits without touching queue state. stopCh is closed alongside the
	// bump so a loop blocked on the device wakes up.
	gen    uint64
	stopCh chan struct{}
}

// NewQueue creates a playback queue over device. metrics may be nil.
func NewQueue(device audio.PlaybackDevice, metrics *observe.Metrics) *Queue {
	return &Queue{
		device:  device,
		metrics: metrics,
		volume:  DefaultVolume,
		stopCh:  make(chan struct{}),
	}
}

// Enqueue appends a playback request and starts the render loop if idle.
// The returned ticket delivers the request's outcome; see [Ticket.Done].
func (q *Queue) Enqueue(ctx context.Context, src audio.Source) *Ticket {
	it := &item{ctx: ctx, src: src, ticket: newTicket()}

	q.mu.Lock()
	q.items = append(q.items, it)
	if q.metrics != nil {
		q.metrics.PlaybackQueueDepth.Add(ctx, 1)
	}
	if !q.playing {
		q.playing = true
		go q.run(q.gen, q.stopCh)
	}
	q.mu.Unlock()

	slog.Debug("playback: enqueued", "source", src.Ref)
	return it.ticket
}

// run renders queued items in order until the queue drains or gen is
// superseded by Stop.
func (q *Queue) run(gen uint64, stopCh <-chan struct{}) {
	for {
		q.mu.Lock()
		if gen != q.gen || len(q.items) == 0 {
			if gen == q.gen {
				q.playing = false
			}
			q.mu.Unlock()
			return
		}
		it := q.items[0]
		vol := q.volume
		q.mu.Unlock()

		handle, err := q.device.Play(it.ctx, it.src, vol)
		if err != nil {
			observe.Logger(it.ctx).Error("playback: device play failed",
				"source", it.src.Ref, "error", err)
			if q.metrics != nil {
				q.metrics.PlaybackErrors.Add(it.ctx, 1)
				q.metrics.RecordPlayback(it.ctx, "error")
			}
			q.mu.Lock()
			if gen != q.gen {
				q.mu.Unlock()
				return
			}
			q.pop(it)
			q.mu.Unlock()
			// Advance past the failed request.
			it.ticket.deliver(err)
			continue
		}

		q.mu.Lock()
		if gen != q.gen {
			// Stopped while the device was starting up.
			q.mu.Unlock()
			if err := handle.Stop(); err != nil {
				slog.Warn("playback: stop of orphaned handle failed", "error", err)
			}
			return
		}
		q.current = handle
		q.mu.Unlock()

		var done error
		select {
		case done = <-handle.Done():
		case <-stopCh:
			// Stop already halted the device; the ticket stays abandoned.
			return
		}

		q.mu.Lock()
		if gen != q.gen {
			q.mu.Unlock()
			return
		}
		q.current = nil
		q.pop(it)
		q.mu.Unlock()

		if done != nil {
			observe.Logger(it.ctx).Error("playback: render failed", "source", it.src.Ref, "error", done)
			if q.metrics != nil {
				q.metrics.PlaybackErrors.Add(it.ctx, 1)
				q.metrics.RecordPlayback(it.ctx, "error")
			}
		} else if q.metrics != nil {
			q.metrics.RecordPlayback(it.ctx, "completed")
		}
		it.ticket.deliver(done)
	}
}

// pop removes it from the head of the queue. Must be called with q.mu held.
func (q *Queue) pop(it *item) {
	if len(q.items) > 0 && q.items[0] == it {
		q.items = q.items[1:]
		if q.metrics != nil {
			q.metrics.PlaybackQueueDepth.Add(it.ctx, -1)
		}
	}
}

// Stop halts the current render synchronously, discards every queued request,
// and abandons their tickets. The device is guaranteed to be silent when Stop
// returns; barge-in handling depends on that ordering.
func (q *Queue) Stop() error {
	q.mu.Lock()
	q.gen++
	close(q.stopCh)
	q.stopCh = make(chan struct{})
	cur := q.current
	q.current = nil
	dropped := len(q.items)
	q.items = nil
	q.playing = false
	q.mu.Unlock()

	if q.metrics != nil && dropped > 0 {
		q.metrics.PlaybackQueueDepth.Add(context.Background(), -int64(dropped))
		q.metrics.RecordPlayback(context.Background(), "stopped")
	}
	if dropped > 0 {
		slog.Debug("playback: stopped", "dropped", dropped)
	}

	if cur != nil {
		return cur.Stop()
	}
	return nil
}

// SetVolume updates the volume for the current render and all future ones.
// Values are clamped to [0, 1].
func (q *Queue) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	q.mu.Lock()
	q.volume = v
	cur := q.current
	q.mu.Unlock()

	if cur != nil {
		cur.SetVolume(v)
	}
}

// Volume returns the current (clamped) volume.
func (q *Queue) Volume() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.volume
}

// Playing reports whether the queue has work in flight.
func (q *Queue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing && (q.current != nil || len(q.items) > 0)
}
