// Package pool recycles small runtime objects that churn on the request
// path.
package pool

import (
	"sync"
	"time"
)

var timerPool = sync.Pool{}

// GetTimer returns a timer set to fire after d. The timer comes from the
// pool when one is available.
func GetTimer(d time.Duration) *time.Timer {
	timer, ok := timerPool.Get().(*time.Timer)
	if !ok {
		return time.NewTimer(d)
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(d)
	return timer
}

// ReleaseTimer stops the timer, drains its channel and returns it to the
// pool. The timer must not be touched afterwards.
func ReleaseTimer(timer *time.Timer) {
	if timer == nil {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timerPool.Put(timer)
}
