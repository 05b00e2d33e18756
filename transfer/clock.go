package transfer

import "time"

// Clock is the monotonic wall clock used for speed/ETA estimation and
// for timing backpressure polls. Injected so tests are deterministic and
// never sleep wall-clock time. TransferService.CancelSend's grace period
// is timed with the real wall clock, not through Clock.
type Clock interface {
	Now() time.Time
	// NewTicker returns a Ticker that fires every d, the seam Sender's
	// backpressure poll loop waits on (SPEC_FULL.md S4.3).
	NewTicker(d time.Duration) Ticker
}

// Ticker abstracts *time.Ticker so it can be faked in tests.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock delegates to time.Now and time.NewTicker.
type RealClock struct{}

// Now returns the current wall-clock time.
func (RealClock) Now() time.Time { return time.Now() }

// NewTicker returns a real, wall-clock-driven ticker.
func (RealClock) NewTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }
