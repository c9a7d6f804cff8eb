// Package jobs holds the update jobs run by the scheduler and the bootstrap
// command. Each job loads the identifier list and runs the chunked batch over
// it. Rejected records are counted in LastResult and never fail the job; only
// an unreadable identifier list or a cancelled context does.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aristath/instrument-sync/internal/domain"
	"github.com/aristath/instrument-sync/internal/ingest"
	"github.com/aristath/instrument-sync/internal/universe"
	"github.com/rs/zerolog"
)

// ErrUnknownJob is returned for a job name nobody registered
var ErrUnknownJob = errors.New("unknown job")

// Job is a named unit of work
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// ResultReporter is implemented by jobs that expose the counters of their last run
type ResultReporter interface {
	LastResult() ingest.Result
}

// BatchJob runs one provider fetch and one store write per identifier
type BatchJob[R any] struct {
	name    domain.JobName
	source  universe.Source
	runner  *ingest.Runner
	fetcher ingest.RecordFetcher[R]
	ingest  ingest.IngestFunc[R]
	log     zerolog.Logger

	mu   sync.Mutex
	last ingest.Result
}

func newBatchJob[R any](
	name domain.JobName,
	source universe.Source,
	fetch ingest.FetchFunc[R],
	ingestFn ingest.IngestFunc[R],
	cfg ingest.Config,
	log zerolog.Logger,
) *BatchJob[R] {
	cfg.Name = string(name)
	jobLog := log.With().Str("job", string(name)).Logger()

	return &BatchJob[R]{
		name:    name,
		source:  source,
		runner:  ingest.NewRunner(cfg, jobLog),
		fetcher: ingest.NewFetcher(string(name), fetch, jobLog),
		ingest:  ingestFn,
		log:     jobLog,
	}
}

// Name returns the job name
func (j *BatchJob[R]) Name() string {
	return string(j.name)
}

// Runner exposes the batch runner, mainly to swap its clock in tests
func (j *BatchJob[R]) Runner() *ingest.Runner {
	return j.runner
}

// LastResult returns the counters of the most recent run
func (j *BatchJob[R]) LastResult() ingest.Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last
}

// Run executes the job over the whole identifier list. A batch with rejected
// records still returns nil; check LastResult().HadFailure.
func (j *BatchJob[R]) Run(ctx context.Context) error {
	start := time.Now()
	j.log.Info().Msg("Job started")

	symbols, err := j.source.Load(ctx)
	if err != nil {
		j.setLast(ingest.Result{HadFailure: true})
		j.log.Error().Err(err).Msg("Could not load identifiers")
		return fmt.Errorf("%s: %w", j.name, err)
	}

	result, err := ingest.Run(ctx, j.runner, symbols, j.fetcher, j.ingest)
	j.setLast(result)

	event := j.log.Info()
	if result.HadFailure {
		event = j.log.Warn()
	}
	event.
		Int("symbols", len(symbols)).
		Int("ingested", result.Ingested).
		Int("absent", result.Absent).
		Int("rejected", result.Rejected+result.Panicked).
		Dur("duration", time.Since(start)).
		Msg("Job finished")

	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	return nil
}

func (j *BatchJob[R]) setLast(r ingest.Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.last = r
}

// Registry maps job names to jobs
type Registry struct {
	mu   sync.RWMutex
	jobs map[domain.JobName]Job
}

// NewRegistry creates a registry holding jobs
func NewRegistry(jobs ...Job) *Registry {
	r := &Registry{jobs: make(map[domain.JobName]Job)}
	for _, job := range jobs {
		r.Register(job)
	}
	return r
}

// Register adds a job, replacing any job with the same name
func (r *Registry) Register(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[domain.JobName(job.Name())] = job
}

// Get returns the job registered under name
func (r *Registry) Get(name domain.JobName) (Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return job, nil
}

// Names returns the registered job names in lexical order
func (r *Registry) Names() []domain.JobName {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]domain.JobName, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, k int) bool { return names[i] < names[k] })
	return names
}
