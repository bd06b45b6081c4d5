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

func TestQueueRunsJobs(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]interface{}{}
	done := make(chan struct{}, 2)

	q := NewQueue("test", func(_ context.Context, job Job) error {
		mu.Lock()
		seen[job.ID] = job.Payload
		mu.Unlock()
		done <- struct{}{}
		return nil
	}, QueueConfig{Workers: 2})
	q.Start(context.Background())
	defer q.Stop()

	id1, err := q.Enqueue(Job{Type: "mirror", Payload: int64(1)})
	require.NoError(t, err)
	id2, err := q.Enqueue(Job{ID: "fixed", Type: "mirror", Payload: int64(2)})
	require.NoError(t, err)
	assert.NotEmpty(t, id1)
	assert.Equal(t, "fixed", id2)

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("jobs did not run")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int64(1), seen[id1])
	assert.Equal(t, int64(2), seen[id2])
}

func TestQueueRetriesThenReportsFailure(t *testing.T) {
	var calls int32
	failed := make(chan Job, 1)

	q := NewQueue("test", func(context.Context, Job) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("upstream down")
	}, QueueConfig{
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		OnFailure: func(_ context.Context, job Job, _ error) {
			failed <- job
		},
	})
	q.Start(context.Background())
	defer q.Stop()

	_, err := q.Enqueue(Job{Type: "mirror"})
	require.NoError(t, err)

	select {
	case job := <-failed:
		assert.Equal(t, 3, job.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("failure hook not called")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestQueueDoesNotRetryPermanentErrors(t *testing.T) {
	var calls int32
	cause := errors.New("remote write failed")
	failed := make(chan error, 1)

	q := NewQueue("test", func(context.Context, Job) error {
		atomic.AddInt32(&calls, 1)
		return Permanent(cause)
	}, QueueConfig{
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		OnFailure: func(_ context.Context, job Job, err error) {
			assert.Equal(t, 1, job.Attempt)
			failed <- err
		},
	})
	q.Start(context.Background())

	_, err := q.Enqueue(Job{Type: "mirror"})
	require.NoError(t, err)

	select {
	case err := <-failed:
		assert.ErrorIs(t, err, cause)
		assert.True(t, IsPermanent(err))
	case <-time.After(2 * time.Second):
		t.Fatal("failure hook not called")
	}
	q.Stop()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPermanentNil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
	assert.False(t, IsPermanent(errors.New("transient")))
}

func TestQueueRejectsWhenStoppedOrFull(t *testing.T) {
	block := make(chan struct{})
	q := NewQueue("test", func(ctx context.Context, _ Job) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 1})

	_, err := q.Enqueue(Job{})
	assert.ErrorIs(t, err, ErrNotRunning)

	q.Start(context.Background())
	_, err = q.Enqueue(Job{})
	require.NoError(t, err)

	var full bool
	for i := 0; i < 3; i++ {
		if _, err := q.Enqueue(Job{}); errors.Is(err, ErrQueueFull) {
			full = true
			break
		}
	}
	assert.True(t, full)

	close(block)
	q.Stop()
	_, err = q.Enqueue(Job{})
	assert.ErrorIs(t, err, ErrNotRunning)
}
