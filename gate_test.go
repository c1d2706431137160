// SPDX-License-Identifier: MIT

package tapohub

import (
	"sync"
	"testing"
	"time"
)

func TestGateSuppressesWithinGap(t *testing.T) {
	var g Gate
	now := time.UnixMilli(1_000_000)
	if !g.TryPass(now, time.Second, false) {
		t.Fatal("first pass must succeed")
	}
	if g.TryPass(now.Add(500*time.Millisecond), time.Second, false) {
		t.Error("pass within the gap must be suppressed")
	}
	if !g.TryPass(now.Add(time.Second), time.Second, false) {
		t.Error("pass at the end of the gap must succeed")
	}
}

func TestGateForceBypassesGap(t *testing.T) {
	var g Gate
	now := time.UnixMilli(1_000_000)
	if !g.TryPass(now, time.Second, false) {
		t.Fatal("first pass must succeed")
	}
	if !g.TryPass(now.Add(time.Millisecond), time.Second, true) {
		t.Error("forced pass must always succeed")
	}
	// the forced pass consumed the window too
	if g.TryPass(now.Add(500*time.Millisecond), time.Second, false) {
		t.Error("window must be consumed by the forced pass")
	}
}

func TestGateConsumedOnPass(t *testing.T) {
	// passing consumes the window whether or not the guarded request later
	// succeeds, so a failed query still holds back the next one
	var g Gate
	now := time.UnixMilli(1_000_000)
	if !g.TryPass(now, time.Second, false) {
		t.Fatal("first pass must succeed")
	}
	if g.TryPass(now.Add(999*time.Millisecond), time.Second, false) {
		t.Error("window must stay consumed")
	}
}

func TestGateReset(t *testing.T) {
	var g Gate
	now := time.Now()
	if !g.TryPass(now, time.Hour, false) {
		t.Fatal("first pass must succeed")
	}
	g.Reset()
	if !g.TryPass(now, time.Hour, false) {
		t.Error("pass after reset must succeed")
	}
}

func TestGateSingleWinnerUnderContention(t *testing.T) {
	var g Gate
	now := time.Now()
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		passed int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryPass(now, time.Hour, false) {
				mu.Lock()
				passed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if passed != 1 {
		t.Errorf("want exactly one pass, got %d", passed)
	}
}
