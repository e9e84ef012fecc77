package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoize_HitSkipsProducer(t *testing.T) {
	s, _ := newTestStore(t, 10)
	ctx := context.Background()
	calls := 0
	produce := func(ctx context.Context) (string, error) {
		calls++
		return "value", nil
	}

	v, err := Memoize(ctx, s, "p", Params{"a": 1}, produce, 0)
	require.NoError(t, err)
	require.Equal(t, "value", v)

	v, err = Memoize(ctx, s, "p", Params{"a": 1}, produce, 0)
	require.NoError(t, err)
	require.Equal(t, "value", v)
	require.Equal(t, 1, calls)
	require.Equal(t, []string{"p:a:1"}, s.Stats().Keys)
}

func TestMemoize_NoNegativeCaching(t *testing.T) {
	s, _ := newTestStore(t, 10)
	ctx := context.Background()
	errBoom := errors.New("boom")
	calls := 0
	failing := func(ctx context.Context) (int, error) {
		calls++
		return 0, errBoom
	}

	_, err := Memoize(ctx, s, "p", nil, failing, 0)
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, 0, s.Stats().Size)

	_, err = Memoize(ctx, s, "p", nil, failing, 0)
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, 2, calls)
}

func TestMemoize_ExpiredEntryRefetches(t *testing.T) {
	s, clock := newTestStore(t, 10)
	ctx := context.Background()
	n := 0
	produce := func(ctx context.Context) (int, error) {
		n++
		return n, nil
	}

	v, _ := Memoize(ctx, s, "p", nil, produce, time.Second)
	require.Equal(t, 1, v)
	clock.Advance(2 * time.Second)
	v, _ = Memoize(ctx, s, "p", nil, produce, time.Second)
	require.Equal(t, 2, v)
}

func TestMemoize_TypeMismatchRefetches(t *testing.T) {
	s, _ := newTestStore(t, 10)
	s.Write("p:", "not an int", time.Minute)

	v, err := Memoize(context.Background(), s, "p", nil, func(ctx context.Context) (int, error) {
		return 7, nil
	}, 0)
	require.NoError(t, err)
	require.Equal(t, 7, v)

	cached, ok := s.Read("p:")
	require.True(t, ok)
	require.Equal(t, 7, cached)
}

func TestCacheLocationData_SharesGridCell(t *testing.T) {
	s, clock := newTestStore(t, 10)
	ctx := context.Background()
	calls := 0
	produce := func(ctx context.Context) (string, error) {
		calls++
		return "Jl. Sudirman", nil
	}

	_, err := CacheLocationData(ctx, s, 1.23456, 2.34567, "address", produce, 0)
	require.NoError(t, err)
	_, err = CacheLocationData(ctx, s, 1.23521, 2.34561, "address", produce, 0)
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	clock.Advance(LocationTTL + time.Millisecond)
	_, err = CacheLocationData(ctx, s, 1.23456, 2.34567, "address", produce, 0)
	require.NoError(t, err)
	require.Equal(t, 2, calls, "location data defaults to a 30 minute TTL")
}

func TestCacheSearchResults_DefaultTTL(t *testing.T) {
	s, clock := newTestStore(t, 10)
	ctx := context.Background()
	calls := 0
	produce := func(ctx context.Context) ([]string, error) {
		calls++
		return []string{"Bandung"}, nil
	}

	_, _ = CacheSearchResults(ctx, s, "Bandung", produce, 0)
	_, _ = CacheSearchResults(ctx, s, " bandung ", produce, 0)
	require.Equal(t, 1, calls)

	clock.Advance(SearchTTL)
	_, _ = CacheSearchResults(ctx, s, "bandung", produce, 0)
	require.Equal(t, 1, calls)

	clock.Advance(time.Millisecond)
	_, _ = CacheSearchResults(ctx, s, "bandung", produce, 0)
	require.Equal(t, 2, calls)
}

func TestCacheAIResponse_KeyedByModeAndLanguage(t *testing.T) {
	s, clock := newTestStore(t, 10)
	ctx := context.Background()
	calls := 0
	produce := func(ctx context.Context) (string, error) {
		calls++
		return "summary", nil
	}

	_, _ = CacheAIResponse(ctx, s, "prompt", "family", "en", produce, 0)
	_, _ = CacheAIResponse(ctx, s, "prompt", "family", "en", produce, 0)
	_, _ = CacheAIResponse(ctx, s, "prompt", "family", "id", produce, 0)
	require.Equal(t, 2, calls)

	clock.Advance(30 * time.Minute)
	_, _ = CacheAIResponse(ctx, s, "prompt", "family", "en", produce, 0)
	require.Equal(t, 2, calls, "AI responses default to a one hour TTL")
}

func TestWrappers_ShareCapacity(t *testing.T) {
	s, _ := newTestStore(t, 2)
	ctx := context.Background()
	str := func(v string) Producer[string] {
		return func(ctx context.Context) (string, error) { return v, nil }
	}

	_, _ = CacheLocationData(ctx, s, 1, 1, "address", str("addr"), 0)
	_, _ = CacheSearchResults(ctx, s, "a", str("r1"), 0)
	_, _ = CacheSearchResults(ctx, s, "b", str("r2"), 0)

	stats := s.Stats()
	require.Equal(t, 2, stats.Size)
	require.Equal(t, []string{SearchKey("a"), SearchKey("b")}, stats.Keys)
}

func TestMemoize_ConcurrentMissesWithoutSingleFlight(t *testing.T) {
	s := New(Options{Name: t.Name()})
	var calls atomic.Int32
	release := make(chan struct{})
	produce := func(ctx context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 1, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = Memoize(context.Background(), s, "p", nil, produce, 0)
		}()
	}
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()
	require.Equal(t, 1, s.Stats().Size)
}

func TestMemoize_SingleFlight(t *testing.T) {
	s := New(Options{Name: t.Name(), SingleFlight: true})
	var calls atomic.Int32
	release := make(chan struct{})
	produce := func(ctx context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	const callers = 8
	results := make(chan int, callers)
	var started sync.WaitGroup
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		started.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			v, err := Memoize(context.Background(), s, "p", nil, produce, 0)
			if err == nil {
				results <- v
			}
		}()
	}
	started.Wait()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	// Give the remaining callers time to join the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	for v := range results {
		require.Equal(t, 42, v)
	}
	require.Equal(t, int32(1), calls.Load())
	v, ok := s.Read("p:")
	require.True(t, ok)
	require.Equal(t, 42, v)
}

func TestMemoize_SingleFlightSurvivesCancelledCaller(t *testing.T) {
	s := New(Options{Name: t.Name(), SingleFlight: true})
	var calls atomic.Int32
	release := make(chan struct{})
	produce := func(ctx context.Context) (int, error) {
		calls.Add(1)
		<-release
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return 7, nil
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := Memoize(firstCtx, s, "p", nil, produce, 0)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	type outcome struct {
		v   int
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		v, err := Memoize(context.Background(), s, "p", nil, produce, 0)
		second <- outcome{v, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	got := <-second
	require.NoError(t, got.err)
	require.Equal(t, 7, got.v)
	require.Equal(t, int32(1), calls.Load())

	v, ok := s.Read("p:")
	require.True(t, ok)
	require.Equal(t, 7, v)
}
