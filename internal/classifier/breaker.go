package classifier

import (
	"sync"
	"time"

	"dealdesk-backend/pkg/metrics"
)

// CircuitBreaker skips the model stage for a cooldown window after a quota
// error. It is process-local and resets itself when the window passes.
type CircuitBreaker struct {
	mu        sync.Mutex
	cooldown  time.Duration
	openUntil time.Time
	now       func() time.Time
}

func NewCircuitBreaker(cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{cooldown: cooldown, now: time.Now}
}

// Allow reports whether a model call may be attempted.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() {
		return true
	}
	if !b.now().Before(b.openUntil) {
		b.openUntil = time.Time{}
		metrics.QuotaBreakerOpen.Set(0)
		return true
	}
	return false
}

// Trip opens the breaker for the cooldown window.
func (b *CircuitBreaker) Trip() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openUntil = b.now().Add(b.cooldown)
	metrics.QuotaBreakerOpen.Set(1)
}

// OpenUntil returns when the breaker closes again, zero when closed.
func (b *CircuitBreaker) OpenUntil() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.openUntil.IsZero() && !b.now().Before(b.openUntil) {
		return time.Time{}
	}
	return b.openUntil
}
