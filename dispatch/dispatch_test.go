package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identity(delay time.Duration) WorkFunc[int, int] {
	return func(ctx context.Context, item int) (int, error) {
		time.Sleep(delay)
		return item, nil
	}
}

func TestRunReturnsEveryItem(t *testing.T) {
	d, err := New[int, int](2, FromSlice([]int{0, 1, 2, 3, 4}),
		identity(10*time.Millisecond))
	require.NoError(t, err)

	results, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4}, results)
}

func TestRunEmptyProducer(t *testing.T) {
	d, err := New[int, int](3, FromSlice([]int{}), identity(0))
	require.NoError(t, err)

	begin := time.Now()
	results, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Less(t, time.Since(begin), time.Second)
}

func TestRunItemsProcessedExactlyOnce(t *testing.T) {
	tests := []struct {
		workers int
		items   int
	}{
		{1, 0}, {1, 1}, {1, 7},
		{3, 0}, {3, 1}, {3, 2}, {3, 3}, {3, 50},
		{8, 5}, {8, 100},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("n=%d/m=%d", tt.workers, tt.items), func(t *testing.T) {
			var mu sync.Mutex
			seen := make(map[int]int)
			work := func(ctx context.Context, item int) (int, error) {
				mu.Lock()
				seen[item]++
				mu.Unlock()
				time.Sleep(time.Millisecond)
				return item * 2, nil
			}
			observer := &slotObserver{slots: make(map[int]int)}
			d, err := New[int, int](tt.workers, Range(tt.items), work,
				WithObserver(observer))
			require.NoError(t, err)

			results, err := d.Run(context.Background())
			require.NoError(t, err)
			assert.Len(t, results, tt.items)
			assert.Len(t, seen, tt.items)
			for item, count := range seen {
				assert.Equalf(t, 1, count, "item %d", item)
			}
			assert.Equal(t, tt.items, observer.submitted)
			assert.Equal(t, tt.items, observer.completed)
			assert.Len(t, observer.slots, min(tt.workers, tt.items))
		})
	}
}

// slotObserver counts submissions per slot.
type slotObserver struct {
	slots     map[int]int
	submitted int
	completed int
}

func (o *slotObserver) Submitted(slot int) {
	o.slots[slot]++
	o.submitted++
}

func (o *slotObserver) Completed(int, time.Duration, error) {
	o.completed++
}

func TestRunCollectsOutOfOrderCompletions(t *testing.T) {
	const items = 4
	work := func(ctx context.Context, item int) (int, error) {
		time.Sleep(time.Duration(items-item) * 30 * time.Millisecond)
		return item, nil
	}
	d, err := New[int, int](items, Range(items), work)
	require.NoError(t, err)

	results, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2, 1, 0}, results)
}

func TestRunNeverExceedsPoolSize(t *testing.T) {
	const workers = 3
	var inFlight, maxInFlight int64
	work := func(ctx context.Context, item int) (int, error) {
		now := atomic.AddInt64(&inFlight, 1)
		for {
			prev := atomic.LoadInt64(&maxInFlight)
			if now <= prev ||
				atomic.CompareAndSwapInt64(&maxInFlight, prev, now) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return item, nil
	}
	d, err := New[int, int](workers, Range(30), work)
	require.NoError(t, err)

	results, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, results, 30)
	assert.Equal(t, int64(workers), atomic.LoadInt64(&maxInFlight))
}

func TestRunSurfacesItemFailures(t *testing.T) {
	errBoom := errors.New("boom")
	work := func(ctx context.Context, item int) (int, error) {
		if item == 3 {
			return 0, errBoom
		}
		return item, nil
	}
	d, err := New[int, int](2, Range(8), work)
	require.NoError(t, err)

	results, err := d.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)

	var runErr *RunError[int]
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, []int{3}, runErr.Items())
	assert.Equal(t, 7, runErr.Succeeded)
	assert.ElementsMatch(t, []int{0, 1, 2, 4, 5, 6, 7}, results)
	assert.Contains(t, err.Error(), "1 of 8 items failed")
}

func TestRunEveryItemFailing(t *testing.T) {
	work := func(ctx context.Context, item int) (int, error) {
		return 0, fmt.Errorf("item %d rejected", item)
	}
	d, err := New[int, int](1, Range(4), work)
	require.NoError(t, err)

	results, err := d.Run(context.Background())
	assert.Empty(t, results)
	var runErr *RunError[int]
	require.True(t, errors.As(err, &runErr))
	assert.Len(t, runErr.Failed, 4)
}

func TestRunWorkerPanicFailsOnlyItsItem(t *testing.T) {
	var calls int64
	work := func(ctx context.Context, item int) (int, error) {
		atomic.AddInt64(&calls, 1)
		if item == 0 {
			panic("corrupt shard")
		}
		time.Sleep(time.Millisecond)
		return item, nil
	}
	d, err := New[int, int](2, Range(100), work)
	require.NoError(t, err)

	results, err := d.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWorkerPanic)
	assert.Contains(t, err.Error(), "corrupt shard")
	assert.Equal(t, int64(100), atomic.LoadInt64(&calls))
	assert.Len(t, results, 99)

	var runErr *RunError[int]
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, []int{0}, runErr.Items())
}

func TestRunTimeoutDoesNotHang(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	work := func(ctx context.Context, item int) (int, error) {
		<-release
		return item, nil
	}
	d, err := New[int, int](2, Range(4), work,
		WithTimeout(20*time.Millisecond))
	require.NoError(t, err)

	begin := time.Now()
	_, err = d.Run(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(begin), 2*time.Second)
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	work := func(ctx context.Context, item int) (int, error) {
		if item == 0 {
			return item, nil
		}
		if item == 1 {
			cancel()
		}
		<-ctx.Done()
		return 0, ctx.Err()
	}
	d, err := New[int, int](1, Range(10), work)
	require.NoError(t, err)

	_, err = d.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunIsRestartable(t *testing.T) {
	d, err := New[int, int](4, Range(10), identity(0))
	require.NoError(t, err)

	for run := 0; run < 3; run++ {
		results, err := d.Run(context.Background())
		require.NoError(t, err)
		assert.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, results)
	}
}

type countingObserver struct {
	submitted int
	completed int
	failed    int
}

func (o *countingObserver) Submitted(int) { o.submitted++ }

func (o *countingObserver) Completed(_ int, _ time.Duration, err error) {
	o.completed++
	if err != nil {
		o.failed++
	}
}

func TestRunNotifiesObserver(t *testing.T) {
	observer := &countingObserver{}
	work := func(ctx context.Context, item int) (int, error) {
		if item%5 == 0 {
			return 0, errors.New("multiple of five")
		}
		return item, nil
	}
	d, err := New[int, int](3, Range(20), work, WithObserver(observer))
	require.NoError(t, err)

	_, err = d.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 20, observer.submitted)
	assert.Equal(t, 20, observer.completed)
	assert.Equal(t, 4, observer.failed)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New[int, int](0, Range(1), identity(0))
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = New[int, int](1, nil, identity(0))
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = New[int, int](1, Range(1), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
