package tasks

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

func waitDone(t *testing.T, q *Queue, id string) Task {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	task, err := q.Wait(ctx, id)
	require.NoError(t, err)
	return task
}

func TestQueue_Succeeds(t *testing.T) {
	q := NewQueue(context.Background(), 1, 4, nil)
	defer q.Close()

	id, err := q.Submit("ingest", func(ctx context.Context) (any, error) {
		return 42, nil
	})
	require.NoError(t, err)

	task := waitDone(t, q, id)
	assert.Equal(t, StateSucceeded, task.State)
	assert.Equal(t, 42, task.Result)
	assert.Equal(t, "ingest", task.Name)
	assert.Empty(t, task.Error)
	assert.False(t, task.StartedAt.IsZero())
	assert.False(t, task.FinishedAt.Before(task.StartedAt))
}

func TestQueue_Fails(t *testing.T) {
	q := NewQueue(context.Background(), 1, 4, nil)
	defer q.Close()

	id, err := q.Submit("ingest", func(ctx context.Context) (any, error) {
		return nil, errors.New("embedding failed for chunk 3")
	})
	require.NoError(t, err)

	task := waitDone(t, q, id)
	assert.Equal(t, StateFailed, task.State)
	assert.Equal(t, "embedding failed for chunk 3", task.Error)
}

func TestQueue_RecoversPanic(t *testing.T) {
	q := NewQueue(context.Background(), 1, 4, nil)
	defer q.Close()

	id, err := q.Submit("boom", func(ctx context.Context) (any, error) {
		panic("bad input")
	})
	require.NoError(t, err)

	task := waitDone(t, q, id)
	assert.Equal(t, StateFailed, task.State)
	assert.Contains(t, task.Error, "bad input")
}

func TestQueue_StatesProgress(t *testing.T) {
	q := NewQueue(context.Background(), 1, 4, nil)
	defer q.Close()

	release := make(chan struct{})
	first, err := q.Submit("first", func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	})
	require.NoError(t, err)
	second, err := q.Submit("second", func(ctx context.Context) (any, error) {
		return nil, nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		task, _ := q.Get(first)
		return task.State == StateRunning
	}, time.Second, 5*time.Millisecond)

	// One worker: the second task waits for the first.
	task, err := q.Get(second)
	require.NoError(t, err)
	assert.Equal(t, StateQueued, task.State)

	close(release)
	assert.Equal(t, StateSucceeded, waitDone(t, q, second).State)
}

func TestQueue_SingleWorkerSerializes(t *testing.T) {
	q := NewQueue(context.Background(), 1, 16, nil)

	var active, maxActive atomic.Int32
	var ids []string
	for i := 0; i < 5; i++ {
		id, err := q.Submit("job", func(ctx context.Context) (any, error) {
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
			return nil, nil
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	q.Close()

	for _, id := range ids {
		task, err := q.Get(id)
		require.NoError(t, err)
		assert.Equal(t, StateSucceeded, task.State)
	}
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestQueue_SubmitAfterClose(t *testing.T) {
	q := NewQueue(context.Background(), 1, 0, nil)
	q.Close()
	q.Close()

	_, err := q.Submit("late", func(ctx context.Context) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueue_GetUnknown(t *testing.T) {
	q := NewQueue(context.Background(), 1, 0, nil)
	defer q.Close()

	_, err := q.Get("nope")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestQueue_ConcurrentSubmit(t *testing.T) {
	q := NewQueue(context.Background(), 2, 0, nil)

	var wg sync.WaitGroup
	var count atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Submit("job", func(ctx context.Context) (any, error) {
				count.Add(1)
				return nil, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	q.Close()

	assert.Equal(t, int32(20), count.Load())
}

func TestQueue_EvictsFinishedTasks(t *testing.T) {
	q := NewQueue(context.Background(), 1, 4, nil, WithRetention(20*time.Millisecond))
	defer q.Close()

	noop := func(ctx context.Context) (any, error) { return nil, nil }
	first, err := q.Submit("first", noop)
	require.NoError(t, err)
	waitDone(t, q, first)

	time.Sleep(40 * time.Millisecond)
	second, err := q.Submit("second", noop)
	require.NoError(t, err)
	waitDone(t, q, second)

	_, err = q.Get(first)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, err = q.Get(second)
	assert.NoError(t, err)
}

func TestQueue_ZeroRetentionKeepsTasks(t *testing.T) {
	q := NewQueue(context.Background(), 1, 4, nil, WithRetention(0))
	defer q.Close()

	noop := func(ctx context.Context) (any, error) { return nil, nil }
	first, err := q.Submit("first", noop)
	require.NoError(t, err)
	waitDone(t, q, first)

	time.Sleep(10 * time.Millisecond)
	second, err := q.Submit("second", noop)
	require.NoError(t, err)
	waitDone(t, q, second)

	_, err = q.Get(first)
	assert.NoError(t, err)
}
