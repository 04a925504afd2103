package engine

import (
	"context"
	"time"
)

// SecondFunc receives the tick counter, in milliseconds since the ticker
// started.
type SecondFunc func(tick uint64)

// Ticker emits one tick per period with a monotonic millisecond counter.
type Ticker struct {
	Period time.Duration
	start  time.Time
}

// NewTicker creates a ticker; non-positive periods default to one second.
func NewTicker(period time.Duration) *Ticker {
	if period <= 0 {
		period = time.Second
	}
	return &Ticker{Period: period, start: time.Now()}
}

// Tick returns the current counter value.
func (t *Ticker) Tick() uint64 {
	return uint64(time.Since(t.start).Milliseconds())
}

// Run calls fn on every period until ctx is done. fn runs on the ticker's
// goroutine.
func (t *Ticker) Run(ctx context.Context, fn SecondFunc) error {
	tk := time.NewTicker(t.Period)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tk.C:
			fn(t.Tick())
		}
	}
}
