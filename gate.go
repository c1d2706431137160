// SPDX-License-Identifier: MIT

package tapohub

import (
	"sync/atomic"
	"time"
)

// Minimum gaps between repeated operations against a hub. The hub gets
// unstable when it is queried too often.
var (
	loginMinGap = 5 * time.Second
	sendMinGap  = 1 * time.Second
	pingTimeout = 2 * time.Second
)

// Gate enforces a minimum interval between repeated operations. A suppressed
// call does nothing and returns immediately, there is no queuing. Passing the
// gate consumes the window whether or not the guarded operation later
// succeeds.
//
// The check-then-update is a compare-and-swap, so two concurrent callers
// cannot both pass.
type Gate struct {
	last atomic.Int64 // unix milliseconds of the last pass
}

// TryPass reports whether the caller may proceed. force bypasses the time
// check but still consumes the window.
func (g *Gate) TryPass(now time.Time, minGap time.Duration, force bool) bool {
	nowMs := now.UnixMilli()
	for {
		last := g.last.Load()
		if !force && nowMs-last < minGap.Milliseconds() {
			return false
		}
		if g.last.CompareAndSwap(last, nowMs) {
			return true
		}
	}
}

// Reset clears the gate so the next TryPass succeeds.
func (g *Gate) Reset() {
	g.last.Store(0)
}
