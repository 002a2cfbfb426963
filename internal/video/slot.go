package video

import (
	"context"
	"sync"
)

// slot is a single-value mailbox. Publishing overwrites whatever has not been
// picked up yet; readers ask for anything newer than the sequence they last saw.
type slot[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	value  T
	seq    uint64
	closed bool
	drops  uint64
	taken  uint64
}

func newSlot[T any]() *slot[T] {
	s := &slot[T]{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *slot[T]) publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.seq > s.taken {
		s.drops++
	}
	s.value = v
	s.seq++
	s.cond.Broadcast()
}

// wait returns the value once its sequence is past after.
func (s *slot[T]) wait(ctx context.Context, after uint64) (T, uint64, error) {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.cond.Broadcast()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for s.seq <= after && !s.closed && ctx.Err() == nil {
		s.cond.Wait()
	}

	var zero T
	if s.closed {
		return zero, 0, ErrClosed
	}
	if s.seq <= after {
		return zero, 0, ctx.Err()
	}
	if s.seq > s.taken {
		s.taken = s.seq
	}
	return s.value, s.seq, nil
}

func (s *slot[T]) latest() (T, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.seq
}

func (s *slot[T]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
}

func (s *slot[T]) dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drops
}
