package lifecycle

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyedLocks_SerializesSameKey(t *testing.T) {
	locks := newKeyedLocks()

	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("alice")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	require.Equal(t, 50, counter)

	// all lock entries are released once no holder remains
	locks.mu.Lock()
	require.Empty(t, locks.locks)
	locks.mu.Unlock()
}

func TestKeyedLocks_DistinctKeysDoNotBlock(t *testing.T) {
	locks := newKeyedLocks()

	unlockA := locks.Lock("alice")
	done := make(chan struct{})
	go func() {
		unlockB := locks.Lock("bob")
		unlockB()
		close(done)
	}()
	<-done
	unlockA()
}
