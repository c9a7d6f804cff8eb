// Package scheduler turns triggers into job sequences. It owns the in-flight
// guard that keeps runs from overlapping and the recurring cron trigger.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aristath/instrument-sync/internal/domain"
	"github.com/aristath/instrument-sync/internal/jobs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrRunInProgress is returned when a run is requested while another is executing
	ErrRunInProgress = errors.New("a run is already in progress")
	// ErrJobFailed wraps the error of the job that stopped a sequence
	ErrJobFailed = errors.New("job failed")
)

// JobSource resolves job names into jobs
type JobSource interface {
	Get(name domain.JobName) (jobs.Job, error)
}

// RunRecorder persists run records
type RunRecorder interface {
	SaveRun(ctx context.Context, run domain.RunRecord) error
}

// RunObserver is told about every finished run
type RunObserver interface {
	RunFinished(ctx context.Context, run domain.RunRecord)
}

// Runner executes job sequences one at a time
type Runner struct {
	jobs      JobSource
	recorder  RunRecorder
	observers []RunObserver
	now       func() time.Time
	log       zerolog.Logger

	inFlight atomic.Bool
	mu       sync.RWMutex
	last     *domain.RunRecord
}

// NewRunner creates a runner. recorder may be nil.
func NewRunner(registry JobSource, recorder RunRecorder, log zerolog.Logger) *Runner {
	return &Runner{
		jobs:     registry,
		recorder: recorder,
		now:      time.Now,
		log:      log.With().Str("component", "scheduler").Logger(),
	}
}

// AddObserver registers o for finished-run notifications
func (r *Runner) AddObserver(o RunObserver) {
	r.observers = append(r.observers, o)
}

// SetClock replaces the time source used for run timestamps
func (r *Runner) SetClock(now func() time.Time) {
	r.now = now
}

// InFlight reports whether a run is executing
func (r *Runner) InFlight() bool {
	return r.inFlight.Load()
}

// LastRun returns the most recent finished run, if any
func (r *Runner) LastRun() (domain.RunRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return domain.RunRecord{}, false
	}
	return *r.last, true
}

// Run executes the job sequence selected by trigger. Jobs run in order and
// the first job error stops the sequence; jobs that already finished are kept.
// Rejected records do not stop it: they mark the run partial.
// A call made while another run is executing returns ErrRunInProgress and
// does nothing.
func (r *Runner) Run(ctx context.Context, trigger Trigger) error {
	if !r.inFlight.CompareAndSwap(false, true) {
		r.log.Warn().Str("trigger", string(trigger.Kind)).Msg("Run requested while another is in flight, skipping")
		return ErrRunInProgress
	}
	defer r.inFlight.Store(false)

	selected := SelectJobs(trigger)
	run := domain.RunRecord{
		ID:         uuid.New().String(),
		Trigger:    trigger.Kind,
		Selector:   string(trigger.Selector),
		DayOfMonth: trigger.DayOfMonth,
		Jobs:       selected,
		Status:     domain.RunStatusRunning,
		StartedAt:  r.now().UTC(),
		Results:    make([]domain.JobResult, 0, len(selected)),
	}
	if run.DayOfMonth == 0 {
		run.DayOfMonth = run.StartedAt.Day()
	}

	runLog := r.log.With().Str("run_id", run.ID).Str("trigger", string(trigger.Kind)).Logger()
	event := runLog.Info().Str("jobs", joinJobs(selected))
	if trigger.Kind == domain.TriggerScheduled {
		event = event.Int("day_of_month", trigger.DayOfMonth).Str("parity", trigger.parity())
	} else {
		event = event.Str("selector", string(trigger.Selector))
	}
	event.Msg("Run started")

	r.save(ctx, runLog, run)

	runErr := r.runSequence(ctx, runLog, &run)

	finished := r.now().UTC()
	run.FinishedAt = &finished
	if runErr != nil {
		run.Status = domain.RunStatusFailed
		run.Error = runErr.Error()
		runLog.Error().Err(runErr).Dur("duration", finished.Sub(run.StartedAt)).Msg("Run failed")
	} else if hadFailure(run.Results) {
		run.Status = domain.RunStatusPartial
		runLog.Warn().Dur("duration", finished.Sub(run.StartedAt)).Msg("Run completed with rejected records")
	} else {
		run.Status = domain.RunStatusSucceeded
		runLog.Info().Dur("duration", finished.Sub(run.StartedAt)).Msg("Run completed")
	}

	r.save(context.WithoutCancel(ctx), runLog, run)

	r.mu.Lock()
	r.last = &run
	r.mu.Unlock()

	for _, o := range r.observers {
		o.RunFinished(context.WithoutCancel(ctx), run)
	}

	return runErr
}

func (r *Runner) runSequence(ctx context.Context, log zerolog.Logger, run *domain.RunRecord) error {
	for _, name := range run.Jobs {
		job, err := r.jobs.Get(name)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrJobFailed, err)
		}

		start := r.now()
		log.Info().Str("job", string(name)).Msg("Starting job")

		jobErr := job.Run(ctx)

		result := domain.JobResult{
			Job:       name,
			Duration:  r.now().Sub(start),
			Succeeded: jobErr == nil,
		}
		if reporter, ok := job.(jobs.ResultReporter); ok {
			last := reporter.LastResult()
			result.HadFailure = last.HadFailure
			result.Ingested = last.Ingested
			result.Rejected = last.Rejected + last.Panicked
			result.Absent = last.Absent
		}
		if jobErr != nil {
			result.Error = jobErr.Error()
		}
		run.Results = append(run.Results, result)

		if jobErr != nil {
			log.Error().Err(jobErr).Str("job", string(name)).Msg("Job failed, stopping sequence")
			return fmt.Errorf("%w: %w", ErrJobFailed, jobErr)
		}
		log.Info().
			Str("job", string(name)).
			Dur("duration", result.Duration).
			Bool("had_failure", result.HadFailure).
			Msg("Job completed")
	}
	return nil
}

func hadFailure(results []domain.JobResult) bool {
	for _, r := range results {
		if r.HadFailure {
			return true
		}
	}
	return false
}

func (r *Runner) save(ctx context.Context, log zerolog.Logger, run domain.RunRecord) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.SaveRun(ctx, run); err != nil {
		log.Warn().Err(err).Msg("Failed to record run")
	}
}

// RunOnce is the manual entry point. It runs the sequence for trigger and then
// closes pool exactly once, whatever the outcome.
func (r *Runner) RunOnce(ctx context.Context, trigger Trigger, pool io.Closer) error {
	defer func() {
		if pool == nil {
			return
		}
		if cerr := pool.Close(); cerr != nil {
			r.log.Error().Err(cerr).Msg("Failed to release connection pool")
			return
		}
		r.log.Info().Msg("Connection pool released")
	}()

	r.log.Info().Str("mode", "manual").Str("selector", string(trigger.Selector)).Msg("Running update once")
	return r.Run(ctx, trigger)
}

func joinJobs(names []domain.JobName) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = string(n)
	}
	return strings.Join(parts, ",")
}
