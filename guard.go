package accountflow

import (
	"sync"
	"sync/atomic"
)

// StepGuard is a reentrancy latch for confirmation actions. A double-tap or
// slow network would otherwise duplicate a submission with destructive
// effect, such as double-spending a one-time code. Non-confirmation actions
// are re-validated server-side and do not need guarding.
type StepGuard struct {
	held atomic.Bool
}

// TryEnter attempts to take the guard. It fails fast with ok=false when a
// submission is already in flight. On success the returned release must be
// called on every exit path; it is idempotent, so deferring it cannot
// deadlock the flow even if an explicit call already fired.
func (g *StepGuard) TryEnter() (release func(), ok bool) {
	if !g.held.CompareAndSwap(false, true) {
		return nil, false
	}
	var once sync.Once
	return func() {
		once.Do(func() { g.held.Store(false) })
	}, true
}

// Held reports whether a submission is currently in flight.
func (g *StepGuard) Held() bool {
	return g.held.Load()
}
