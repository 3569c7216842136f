package greeting

import (
	"errors"
	"sync"
	"time"
)

// errSuspended is returned by allow while the breaker is open. Callers treat
// it like any other fetch failure and fall back to the scripted greeting.
var errSuspended = errors.New("greeting: service suspended after repeated failures")

// breaker gates calls to the greeting service. A run of consecutive failures
// opens it; while open all fetches are rejected until the cooldown elapses,
// after which a single probe is let through. A failed probe restarts the
// cooldown, a successful one closes the breaker. Safe for concurrent use.
type breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration

	failures int
	open     bool
	probing  bool
	openedAt time.Time
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	if threshold < 1 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &breaker{threshold: threshold, cooldown: cooldown}
}

// allow reports whether a fetch may proceed. When the cooldown has elapsed it
// admits exactly one probe; concurrent callers keep getting errSuspended
// until that probe reports its outcome.
func (b *breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return nil
	}
	if b.probing || time.Since(b.openedAt) < b.cooldown {
		return errSuspended
	}
	b.probing = true
	return nil
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.open = false
	b.probing = false
	b.failures = 0
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.probing {
		b.probing = false
		b.openedAt = time.Now()
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.open = true
		b.openedAt = time.Now()
	}
}

// isOpen reports the breaker state for logging.
func (b *breaker) isOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}
