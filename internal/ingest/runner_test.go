package ingest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manual time source; Sleep advances it and records the duration
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 3, 17, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// scriptedFetcher answers from a map; unknown symbols succeed with the symbol as record
type scriptedFetcher struct {
	absent  map[string]bool
	latency map[string]time.Duration
	clock   *fakeClock
	calls   atomic.Int32
}

func (f *scriptedFetcher) Fetch(ctx context.Context, symbol string) FetchOutcome[string] {
	f.calls.Add(1)
	if d, ok := f.latency[symbol]; ok && f.clock != nil {
		f.clock.Advance(d)
	}
	if f.absent[symbol] {
		return Absent[string]()
	}
	return Success(symbol)
}

func symbols(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("T%03d", i)
	}
	return out
}

func newTestRunner(size int, wait time.Duration, clock *fakeClock) *Runner {
	r := NewRunner(Config{Name: "test", ChunkSize: size, Wait: wait}, zerolog.Nop())
	if clock != nil {
		r.SetClock(clock.Now, clock.Sleep)
	}
	return r
}

func TestChunk_Partition(t *testing.T) {
	for _, size := range []int{1, 2, 3, 7, 30} {
		for l := 0; l <= 95; l++ {
			ids := symbols(l)
			chunks := Chunk(ids, size)

			wantChunks := (l + size - 1) / size
			require.Len(t, chunks, wantChunks, "L=%d C=%d", l, size)

			if l > 0 {
				wantLast := l % size
				if wantLast == 0 {
					wantLast = size
				}
				assert.Len(t, chunks[len(chunks)-1], wantLast, "L=%d C=%d", l, size)
			}

			for _, c := range chunks {
				assert.LessOrEqual(t, len(c), size)
			}
			assert.Equal(t, ids, slices.Concat(chunks...), "L=%d C=%d", l, size)
		}
	}
}

func TestChunk_NonPositiveSizeUsesDefault(t *testing.T) {
	chunks := Chunk(symbols(61), 0)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], DefaultChunkSize)
}

func TestRun_EmptyInput(t *testing.T) {
	clock := newFakeClock()
	fetcher := &scriptedFetcher{}
	ingested := 0

	result, err := Run(context.Background(), newTestRunner(30, time.Minute, clock), nil, fetcher, func(ctx context.Context, r string) error {
		ingested++
		return nil
	})

	require.NoError(t, err)
	assert.False(t, result.HadFailure)
	assert.Equal(t, 0, result.Chunks)
	assert.Zero(t, fetcher.calls.Load())
	assert.Zero(t, ingested)
	assert.Empty(t, clock.Sleeps())
}

func TestRun_AllAbsentIsNotAFailure(t *testing.T) {
	ids := symbols(65)
	fetcher := &scriptedFetcher{absent: map[string]bool{}}
	for _, id := range ids {
		fetcher.absent[id] = true
	}
	var ingestCalls atomic.Int32

	result, err := Run(context.Background(), newTestRunner(30, time.Second, newFakeClock()), ids, fetcher, func(ctx context.Context, r string) error {
		ingestCalls.Add(1)
		return nil
	})

	require.NoError(t, err)
	assert.False(t, result.HadFailure)
	assert.Equal(t, 65, result.Absent)
	assert.Equal(t, int32(65), fetcher.calls.Load())
	assert.Zero(t, ingestCalls.Load())
}

func TestRun_SingleRejectionAnywhereSetsFailure(t *testing.T) {
	ids := symbols(70)

	for _, position := range []int{0, 29, 30, 45, 69} {
		t.Run(fmt.Sprintf("position_%d", position), func(t *testing.T) {
			bad := ids[position]
			var ingested atomic.Int32

			result, err := Run(context.Background(), newTestRunner(30, time.Second, newFakeClock()), ids, &scriptedFetcher{}, func(ctx context.Context, r string) error {
				if r == bad {
					return errors.New("constraint violation")
				}
				ingested.Add(1)
				return nil
			})

			require.NoError(t, err)
			assert.True(t, result.HadFailure)
			assert.Equal(t, 1, result.Rejected)
			assert.Equal(t, int32(69), ingested.Load(), "every other item must still be ingested")
		})
	}
}

func TestRun_FailureIsSticky(t *testing.T) {
	ids := symbols(90)

	result, err := Run(context.Background(), newTestRunner(30, 0, newFakeClock()), ids, &scriptedFetcher{}, func(ctx context.Context, r string) error {
		if r == ids[0] {
			return errors.New("boom")
		}
		return nil
	})

	require.NoError(t, err)
	assert.True(t, result.HadFailure)
	assert.Equal(t, 89, result.Ingested)
}

func TestRun_PanicInIngestCountsAsFailure(t *testing.T) {
	ids := symbols(10)
	var ingested atomic.Int32

	result, err := Run(context.Background(), newTestRunner(5, 0, newFakeClock()), ids, &scriptedFetcher{}, func(ctx context.Context, r string) error {
		if r == ids[3] {
			panic("nil row")
		}
		ingested.Add(1)
		return nil
	})

	require.NoError(t, err)
	assert.True(t, result.HadFailure)
	assert.Equal(t, 1, result.Panicked)
	assert.Equal(t, int32(9), ingested.Load())
}

func TestRun_CooldownWhenChunkIsFasterThanWait(t *testing.T) {
	clock := newFakeClock()
	ids := symbols(75)
	fetcher := &scriptedFetcher{
		clock: clock,
		latency: map[string]time.Duration{
			ids[0]:  5 * time.Second,
			ids[30]: 12 * time.Second,
			ids[60]: 20 * time.Second,
		},
	}

	result, err := Run(context.Background(), newTestRunner(30, 35*time.Second, clock), ids, fetcher, func(ctx context.Context, r string) error {
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, result.Chunks)
	// No sleep after the final chunk
	assert.Equal(t, []time.Duration{30 * time.Second, 23 * time.Second}, clock.Sleeps())
}

func TestRun_NoCooldownWhenChunkIsSlowerThanWait(t *testing.T) {
	clock := newFakeClock()
	ids := symbols(60)
	fetcher := &scriptedFetcher{
		clock: clock,
		latency: map[string]time.Duration{
			ids[0]: 35 * time.Second,
		},
	}

	_, err := Run(context.Background(), newTestRunner(30, 35*time.Second, clock), ids, fetcher, func(ctx context.Context, r string) error {
		return nil
	})

	require.NoError(t, err)
	assert.Empty(t, clock.Sleeps())
}

func TestRun_SingleChunkNeverSleeps(t *testing.T) {
	clock := newFakeClock()

	_, err := Run(context.Background(), newTestRunner(30, time.Hour, clock), symbols(30), &scriptedFetcher{}, func(ctx context.Context, r string) error {
		return nil
	})

	require.NoError(t, err)
	assert.Empty(t, clock.Sleeps())
}

// barrierFetcher blocks every fetch until size fetches are in flight at once
type barrierFetcher struct {
	mu       sync.Mutex
	inFlight int
	maxSeen  int
	arrived  chan struct{}
	size     int
}

func (f *barrierFetcher) Fetch(ctx context.Context, symbol string) FetchOutcome[string] {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	if f.inFlight == f.size {
		close(f.arrived)
	}
	arrived := f.arrived
	f.mu.Unlock()

	select {
	case <-arrived:
	case <-time.After(2 * time.Second):
	}

	f.mu.Lock()
	f.inFlight--
	if f.inFlight == 0 {
		f.arrived = make(chan struct{})
	}
	f.mu.Unlock()

	return Success(symbol)
}

func TestRun_ItemsWithinChunkRunConcurrently(t *testing.T) {
	fetcher := &barrierFetcher{size: 4, arrived: make(chan struct{})}

	start := time.Now()
	result, err := Run(context.Background(), newTestRunner(4, 0, nil), symbols(8), fetcher, func(ctx context.Context, r string) error {
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 8, result.Ingested)
	assert.Equal(t, 4, fetcher.maxSeen, "chunks must not overlap and items inside a chunk must overlap")
	assert.Less(t, time.Since(start), 2*time.Second, "barrier should release without hitting the timeout")
}

func TestRun_MeasuredGapBetweenChunks(t *testing.T) {
	wait := 80 * time.Millisecond
	ids := symbols(4)

	var mu sync.Mutex
	fetchTimes := map[string]time.Time{}
	fetcher := NewFetcher("timed", func(ctx context.Context, symbol string) (string, error) {
		mu.Lock()
		fetchTimes[symbol] = time.Now()
		mu.Unlock()
		return symbol, nil
	}, zerolog.Nop())

	var chunkOneSettled time.Time
	_, err := Run(context.Background(), newTestRunner(2, wait, nil), ids, fetcher, func(ctx context.Context, r string) error {
		if r == ids[1] || r == ids[0] {
			mu.Lock()
			if time.Now().After(chunkOneSettled) {
				chunkOneSettled = time.Now()
			}
			mu.Unlock()
		}
		return nil
	})
	require.NoError(t, err)

	chunkOneStart := fetchTimes[ids[0]]
	if fetchTimes[ids[1]].Before(chunkOneStart) {
		chunkOneStart = fetchTimes[ids[1]]
	}
	chunkTwoStart := fetchTimes[ids[2]]
	if fetchTimes[ids[3]].Before(chunkTwoStart) {
		chunkTwoStart = fetchTimes[ids[3]]
	}

	elapsed := chunkOneSettled.Sub(chunkOneStart)
	gap := chunkTwoStart.Sub(chunkOneSettled)
	assert.GreaterOrEqual(t, gap, wait-elapsed-20*time.Millisecond)
	assert.GreaterOrEqual(t, chunkTwoStart.Sub(chunkOneStart), wait-20*time.Millisecond)
}

func TestRun_CancelledDuringCooldown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var ingested atomic.Int32

	r := newTestRunner(2, time.Hour, nil)
	r.SetClock(nil, func(ctx context.Context, d time.Duration) error {
		cancel()
		return sleepContext(ctx, d)
	})

	result, err := Run(ctx, r, symbols(6), &scriptedFetcher{}, func(ctx context.Context, rec string) error {
		ingested.Add(1)
		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(2), ingested.Load(), "only the first chunk runs before the interrupted cooldown")
	assert.False(t, result.HadFailure)
}
