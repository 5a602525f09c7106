package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRejectsDuplicatePendingJobs(t *testing.T) {
	release := make(chan struct{})
	var runs int32
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&runs, 1)
		<-release
		return nil
	}, QueueConfig{Workers: 1})
	q.Start(context.Background())
	defer q.Stop()

	accepted, err := q.Enqueue(Job{ID: "s1"})
	require.NoError(t, err)
	assert.True(t, accepted)

	accepted, err = q.Enqueue(Job{ID: "s1"})
	require.NoError(t, err)
	assert.False(t, accepted)
	assert.Equal(t, 1, q.Pending())

	close(release)
	require.Eventually(t, func() bool { return q.Pending() == 0 }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&runs))

	accepted, err = q.Enqueue(Job{ID: "s1"})
	require.NoError(t, err)
	assert.True(t, accepted)
}

func TestQueueRetriesThenGivesUp(t *testing.T) {
	var mu sync.Mutex
	attempts := []int{}
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		mu.Lock()
		attempts = append(attempts, job.Attempt)
		mu.Unlock()
		return errors.New("boom")
	}, QueueConfig{Workers: 1, MaxRetries: 2, RetryDelay: time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	_, err := q.Enqueue(Job{ID: "s1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return q.Pending() == 0 }, time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2}, attempts)
}

func TestQueueEnqueueBeforeStart(t *testing.T) {
	q := NewQueue("test", func(ctx context.Context, job Job) error { return nil }, QueueConfig{})

	_, err := q.Enqueue(Job{ID: "s1"})
	assert.Error(t, err)
}
