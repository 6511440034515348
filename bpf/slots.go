package bpf

import (
	"fmt"
	"sync"
)

// DefaultSlots is the number of event channels a Router can serve at once.
const DefaultSlots = 512

// Slots is a fixed-size table handing out tokens for live values. A token
// identifies its value until it is removed, after which the slot may be
// reused.
type Slots[T any] struct {
	mu    sync.RWMutex
	items []slot[T]
	used  int
}

type slot[T any] struct {
	value T
	used  bool
}

// NewSlots returns a table with room for capacity values.
func NewSlots[T any](capacity int) *Slots[T] {
	return &Slots[T]{
		items: make([]slot[T], capacity),
	}
}

// Put stores v in the first free slot and returns its token.
func (s *Slots[T]) Put(v T) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].used {
			continue
		}

		s.items[i] = slot[T]{value: v, used: true}
		s.used++

		return Token(i), nil
	}

	return 0, fmt.Errorf("%w: all %d in use", ErrSlotsExhausted, len(s.items))
}

// Get returns the value stored under tok.
func (s *Slots[T]) Get(tok Token) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if tok >= Token(len(s.items)) || !s.items[tok].used {
		var zero T
		return zero, false
	}

	return s.items[tok].value, true
}

// Remove frees the slot of tok. Removing an unused token is a no-op.
func (s *Slots[T]) Remove(tok Token) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tok >= Token(len(s.items)) || !s.items[tok].used {
		return
	}

	s.items[tok] = slot[T]{}
	s.used--
}

// Len returns the number of slots in use.
func (s *Slots[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.used
}
