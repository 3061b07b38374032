package execution

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrSlotsClosed = errors.New("sandbox is shutting down")
	ErrAtCapacity  = errors.New("sandbox at capacity")
)

// Slots bounds the number of executions running at once. Environments are
// never pooled; a slot only grants the right to provision one.
type Slots struct {
	tokens       chan struct{}
	size         int
	queueTimeout time.Duration

	mu     sync.RWMutex
	closed bool
}

// NewSlots creates size slots. Waiters give up after queueTimeout.
func NewSlots(size int, queueTimeout time.Duration) *Slots {
	if size <= 0 {
		size = 4
	}
	if queueTimeout <= 0 {
		queueTimeout = 5 * time.Second
	}

	s := &Slots{
		tokens:       make(chan struct{}, size),
		size:         size,
		queueTimeout: queueTimeout,
	}
	for i := 0; i < size; i++ {
		s.tokens <- struct{}{}
	}
	return s
}

// Acquire takes a slot, waiting at most the queue timeout
func (s *Slots) Acquire(ctx context.Context) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrSlotsClosed
	}

	timer := time.NewTimer(s.queueTimeout)
	defer timer.Stop()

	select {
	case <-s.tokens:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrAtCapacity
	}
}

// Release returns a slot
func (s *Slots) Release() {
	select {
	case s.tokens <- struct{}{}:
	default:
	}
}

// Close rejects further Acquire calls. Held slots may still be released.
func (s *Slots) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// SlotStats is a point-in-time view of slot usage
type SlotStats struct {
	Size      int  `json:"size"`
	Available int  `json:"available"`
	InUse     int  `json:"inUse"`
	Closed    bool `json:"closed"`
}

// Stats returns slot statistics
func (s *Slots) Stats() SlotStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	available := len(s.tokens)
	return SlotStats{
		Size:      s.size,
		Available: available,
		InUse:     s.size - available,
		Closed:    s.closed,
	}
}
