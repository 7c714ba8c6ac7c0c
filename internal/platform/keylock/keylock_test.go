package keylock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLock_SerializesSameKey(t *testing.T) {
	l := New(8)
	var wg sync.WaitGroup
	counter := 0

	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("poll:p1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
}

func TestLock_ReleasesForReuse(t *testing.T) {
	l := New(1)
	unlock := l.Lock("a")
	unlock()

	unlock = l.Lock("b")
	unlock()
}

func TestNew_DefaultStripes(t *testing.T) {
	assert.Len(t, New(0).stripes, DefaultStripes)
}
