package crawler

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVisitedSetMarkIfAbsent(t *testing.T) {
	t.Parallel()

	v := NewVisitedSet()
	require.True(t, v.MarkIfAbsent("http://a.com/x"))
	require.False(t, v.MarkIfAbsent("http://a.com/x"))
	require.True(t, v.Seen("http://a.com/x"))
	require.False(t, v.Seen("http://a.com/y"))
	require.Equal(t, 1, v.Len())
}

// Exactly one of many racing claimants may win a URL.
func TestVisitedSetConcurrentClaims(t *testing.T) {
	t.Parallel()

	v := NewVisitedSet()
	const goroutines = 32

	var wg sync.WaitGroup
	wins := make(chan struct{}, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v.MarkIfAbsent("http://a.com/contested") {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	var count int
	for range wins {
		count++
	}
	require.Equal(t, 1, count)
}
