package capture

import "time"

// Ticker is the analysis clock driving the level/VAD tick loop.
type Ticker interface {
	// C returns the channel delivering ticks.
	C() <-chan time.Time

	// Stop releases the ticker's resources.
	Stop()
}

// TickerFactory creates a [Ticker] with the given period. Tests inject a
// manual factory to drive the analysis loop deterministically.
type TickerFactory func(period time.Duration) Ticker

// wallTicker adapts [time.Ticker] to the [Ticker] interface.
type wallTicker struct {
	t *time.Ticker
}

// NewWallTicker is the default [TickerFactory], backed by [time.NewTicker].
func NewWallTicker(period time.Duration) Ticker {
	return &wallTicker{t: time.NewTicker(period)}
}

func (w *wallTicker) C() <-chan time.Time {
	return w.t.C
}

func (w *wallTicker) Stop() {
	w.t.Stop()
}
