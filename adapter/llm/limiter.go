package llm

import (
	"errors"
	"fmt"
	"sync"
)

// ErrStepLimit reports a run that exceeded its model call budget.
var ErrStepLimit = errors.New("model call limit exceeded")

// stepLimiter enforces a maximum number of model calls per run.
type stepLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// newStepLimiter creates a limiter; max == 0 allows unlimited calls.
func newStepLimiter(max int) *stepLimiter {
	return &stepLimiter{max: max}
}

// Increment counts one call and fails once the limit is exceeded.
func (l *stepLimiter) Increment() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.count++
	if l.max > 0 && l.count > l.max {
		return fmt.Errorf("%w: %d", ErrStepLimit, l.max)
	}
	return nil
}

// Count returns the number of calls made.
func (l *stepLimiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}
