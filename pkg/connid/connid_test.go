package connid

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeRange(t *testing.T) {
	_, err := NewGenerator(-1)
	assert.Error(t, err)

	_, err = NewGenerator(1024)
	assert.Error(t, err)

	_, err = NewGenerator(1023)
	assert.NoError(t, err)
}

func TestNextUnique(t *testing.T) {
	g, err := NewGenerator(1)
	require.NoError(t, err)

	const n = 10000
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		id := g.Next()
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestNextConcurrent(t *testing.T) {
	g, err := NewGenerator(2)
	require.NoError(t, err)

	const workers, perWorker = 8, 500
	var mu sync.Mutex
	seen := make(map[string]bool, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := g.Next()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}
