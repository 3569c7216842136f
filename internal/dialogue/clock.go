// Package dialogue implements the branching-conversation engine behind
// Task Mode: slide navigation, branch resolution, scripted actions, and
// timer-driven auto-advance. One Engine instance owns one session.
package dialogue

import "time"

// Timer is a cancellable deferred callback.
type Timer interface {
	// Stop cancels the timer. It reports whether the call prevented the
	// callback from firing.
	Stop() bool
}

// Clock abstracts wall time so timer behavior is deterministic under test.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealClock returns a Clock backed by the time package.
func RealClock() Clock { return realClock{} }
