// Package pool recycles the timers that bound blocking line reads.
package pool

import (
	"sync"
	"time"
)

var timerPool = sync.Pool{
	New: func() any {
		t := time.NewTimer(time.Hour)
		t.Stop()

		return t
	},
}

// GetTimer returns a stopped timer from the pool, reset to fire after d.
//
// Since Go 1.23 Reset discards any stale expiration, so no drain is needed.
// Return the timer with PutTimer once the read has completed.
func GetTimer(d time.Duration) *time.Timer {
	t, _ := timerPool.Get().(*time.Timer)
	t.Reset(d)

	return t
}

// PutTimer stops t and returns it to the pool. t must not be used afterwards.
func PutTimer(t *time.Timer) {
	if t == nil {
		return
	}
	t.Stop()
	timerPool.Put(t)
}
