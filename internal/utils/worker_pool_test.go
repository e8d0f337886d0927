package utils_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/benmeehan/hyperate-agent/internal/utils"
)

// TestWorkerPool_SingleWorkerOrder checks that a single worker preserves submission order.
func TestWorkerPool_SingleWorkerOrder(t *testing.T) {
	pool := utils.NewWorkerPool(1)
	defer pool.Shutdown()

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		assert.NoError(t, pool.Submit(func() { got = append(got, i) }))
	}
	pool.Sync()

	assert.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

// TestWorkerPool_SubmitFromJob checks that a job may enqueue another job without blocking.
func TestWorkerPool_SubmitFromJob(t *testing.T) {
	pool := utils.NewWorkerPool(1)
	defer pool.Shutdown()

	var wg sync.WaitGroup
	wg.Add(2)
	assert.NoError(t, pool.Submit(func() {
		defer wg.Done()
		assert.NoError(t, pool.Submit(wg.Done))
	}))
	wg.Wait()
}

// TestWorkerPool_Shutdown drains queued jobs and rejects new ones.
func TestWorkerPool_Shutdown(t *testing.T) {
	pool := utils.NewWorkerPool(2)

	var mu sync.Mutex
	count := 0
	for i := 0; i < 10; i++ {
		assert.NoError(t, pool.Submit(func() {
			mu.Lock()
			count++
			mu.Unlock()
		}))
	}
	pool.Shutdown()
	pool.Shutdown()

	assert.Equal(t, 10, count)
	assert.ErrorIs(t, pool.Submit(func() {}), utils.ErrPoolShutdown)
}
