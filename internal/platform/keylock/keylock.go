// Package keylock serializes work per key using a fixed set of hashed mutex stripes.
package keylock

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const DefaultStripes = 256

// Striped maps keys onto a fixed pool of mutexes. Two keys may share a
// stripe, so callers must not hold one key while locking another.
type Striped struct {
	stripes []sync.Mutex
}

func New(n int) *Striped {
	if n < 1 {
		n = DefaultStripes
	}
	return &Striped{stripes: make([]sync.Mutex, n)}
}

// Lock acquires the stripe for key and returns its unlock function.
func (s *Striped) Lock(key string) func() {
	mu := &s.stripes[xxhash.Sum64String(key)%uint64(len(s.stripes))]
	mu.Lock()
	return mu.Unlock
}
