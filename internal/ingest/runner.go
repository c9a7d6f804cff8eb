// Package ingest implements the rate-limited chunked batch engine that pulls
// one provider record per ticker and hands it to an ingestion callback.
//
// Tickers are split into fixed-size chunks. Chunks run one after another;
// inside a chunk every fetch+ingest runs concurrently and the chunk always
// waits for all of them to settle. Between chunk starts the runner keeps at
// least Wait of wall-clock time so that ChunkSize requests per Wait stay under
// the provider quota. A rejected ingestion or a panic anywhere sets
// Result.HadFailure for the whole run; absences do not.
package ingest

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultChunkSize is the number of tickers fetched concurrently
	DefaultChunkSize = 30
	// DefaultWait is the minimum spacing between chunk starts.
	// 30 requests per 35s stays under 60/min and 30/sec.
	DefaultWait = 35 * time.Second
)

// IngestFunc persists one fetched record. A non-nil error is a rejection.
type IngestFunc[R any] func(ctx context.Context, record R) error

// Config holds runner configuration
type Config struct {
	Name      string // Used in log lines
	ChunkSize int
	Wait      time.Duration
}

// Result aggregates a whole run. Only HadFailure carries meaning for callers;
// the counters feed logs and run reports.
type Result struct {
	Elapsed    time.Duration
	Chunks     int
	Fetched    int
	Absent     int
	Ingested   int
	Rejected   int
	Panicked   int
	HadFailure bool
}

// Runner holds the chunking and pacing policy. It is safe to reuse across runs.
type Runner struct {
	name      string
	chunkSize int
	wait      time.Duration
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	log       zerolog.Logger
}

// NewRunner creates a runner; zero ChunkSize falls back to DefaultChunkSize
func NewRunner(cfg Config, log zerolog.Logger) *Runner {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Wait < 0 {
		cfg.Wait = 0
	}
	if cfg.Name == "" {
		cfg.Name = "batch"
	}

	return &Runner{
		name:      cfg.Name,
		chunkSize: cfg.ChunkSize,
		wait:      cfg.Wait,
		now:       time.Now,
		sleep:     sleepContext,
		log:       log.With().Str("component", "batch_runner").Str("batch", cfg.Name).Logger(),
	}
}

// SetClock replaces the time source and the cooldown sleeper
func (r *Runner) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	if now != nil {
		r.now = now
	}
	if sleep != nil {
		r.sleep = sleep
	}
}

// ChunkSize returns the configured chunk size
func (r *Runner) ChunkSize() int {
	return r.chunkSize
}

// Wait returns the configured minimum spacing between chunk starts
func (r *Runner) Wait() time.Duration {
	return r.wait
}

// Chunk partitions symbols into consecutive groups of at most size elements.
// The concatenation of the chunks equals the input.
func Chunk(symbols []string, size int) [][]string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	chunks := make([][]string, 0, (len(symbols)+size-1)/size)
	for c := range slices.Chunk(symbols, size) {
		chunks = append(chunks, c)
	}
	return chunks
}

type itemState int

const (
	itemAbsent itemState = iota
	itemIngested
	itemRejected
	itemPanicked
)

// Run processes every symbol through fetcher and ingest. The returned error is
// non-nil only when ctx is cancelled during a cooldown; item failures are
// reported through Result.HadFailure.
func Run[R any](ctx context.Context, r *Runner, symbols []string, fetcher RecordFetcher[R], ingest IngestFunc[R]) (Result, error) {
	var result Result
	start := r.now()

	chunks := Chunk(symbols, r.chunkSize)
	result.Chunks = len(chunks)

	r.log.Info().
		Int("symbols", len(symbols)).
		Int("chunks", len(chunks)).
		Int("chunk_size", r.chunkSize).
		Dur("wait", r.wait).
		Msg("Batch started")

	for i, chunk := range chunks {
		chunkStart := r.now()

		r.log.Info().
			Int("chunk", i+1).
			Int("of", len(chunks)).
			Int("size", len(chunk)).
			Msg("Processing chunk")

		states := runChunk(ctx, r.log, chunk, fetcher, ingest)
		for _, state := range states {
			switch state {
			case itemAbsent:
				result.Absent++
			case itemIngested:
				result.Fetched++
				result.Ingested++
			case itemRejected:
				result.Fetched++
				result.Rejected++
				result.HadFailure = true
			case itemPanicked:
				result.Panicked++
				result.HadFailure = true
			}
		}

		elapsed := r.now().Sub(chunkStart)
		r.log.Info().
			Int("chunk", i+1).
			Dur("elapsed", elapsed).
			Bool("had_failure", result.HadFailure).
			Msg("Chunk settled")

		if i == len(chunks)-1 {
			break
		}

		if remaining := r.wait - elapsed; remaining > 0 {
			r.log.Info().
				Int("next_chunk", i+2).
				Dur("wait", remaining).
				Msg("Waiting before next chunk")
			if err := r.sleep(ctx, remaining); err != nil {
				result.Elapsed = r.now().Sub(start)
				return result, fmt.Errorf("batch %s interrupted after chunk %d: %w", r.name, i+1, err)
			}
		}
	}

	result.Elapsed = r.now().Sub(start)

	event := r.log.Info()
	if result.HadFailure {
		event = r.log.Warn()
	}
	event.
		Int("ingested", result.Ingested).
		Int("rejected", result.Rejected).
		Int("absent", result.Absent).
		Int("panicked", result.Panicked).
		Dur("elapsed", result.Elapsed).
		Bool("had_failure", result.HadFailure).
		Msg("Batch finished")

	return result, nil
}

// runChunk launches every item and waits for all of them; no item cancels another.
func runChunk[R any](ctx context.Context, log zerolog.Logger, chunk []string, fetcher RecordFetcher[R], ingest IngestFunc[R]) []itemState {
	states := make([]itemState, len(chunk))

	// processItem folds every outcome, panics included, into a state, so no
	// item ever returns an error and Wait is only the fan-in barrier.
	var g errgroup.Group
	for i, symbol := range chunk {
		g.Go(func() error {
			states[i] = processItem(ctx, log, symbol, fetcher, ingest)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // always nil, see above

	return states
}

func processItem[R any](ctx context.Context, log zerolog.Logger, symbol string, fetcher RecordFetcher[R], ingest IngestFunc[R]) (state itemState) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().
				Str("symbol", symbol).
				Str("panic", fmt.Sprint(p)).
				Msg("Item terminated abnormally")
			state = itemPanicked
		}
	}()

	record, ok := fetcher.Fetch(ctx, symbol).Record()
	if !ok {
		return itemAbsent
	}

	if err := ingest(ctx, record); err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("Ingestion rejected")
		return itemRejected
	}

	log.Debug().Str("symbol", symbol).Msg("Ingested")
	return itemIngested
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
