package settlement

import "sync/atomic"

// reentrancyGuard is a scoped non-reentrant lock. Operations that perform an
// external transfer acquire it for their full duration; any attempt to enter
// another guarded operation while one is in flight fails fast instead of
// blocking or silently proceeding. Release happens through the returned
// closure so every exit path, including error returns, unlocks.
type reentrancyGuard struct {
	locked atomic.Bool
}

func (g *reentrancyGuard) acquire() (func(), error) {
	if !g.locked.CompareAndSwap(false, true) {
		return nil, ErrReentrant
	}
	return func() { g.locked.Store(false) }, nil
}
