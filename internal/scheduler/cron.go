package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/instrument-sync/internal/jobs"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// CronTrigger fires the runner on a recurring schedule. A failed fire is
// logged and the trigger stays armed for the next one.
type CronTrigger struct {
	cron     *cron.Cron
	runner   *Runner
	schedule string
	entry    cron.EntryID
	now      func() time.Time
	ctx      context.Context // Cancelled by Stop so a running fire winds down
	cancel   context.CancelFunc
	log      zerolog.Logger
}

// NewCronTrigger parses a standard 5-field expression evaluated in loc
func NewCronTrigger(schedule string, loc *time.Location, runner *Runner, log zerolog.Logger) (*CronTrigger, error) {
	if loc == nil {
		loc = time.Local
	}
	l := log.With().Str("component", "cron_trigger").Logger()
	cl := cronLogger{log: l}
	ctx, cancel := context.WithCancel(context.Background())

	t := &CronTrigger{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runner:   runner,
		schedule: schedule,
		now:      func() time.Time { return time.Now().In(loc) },
		ctx:      ctx,
		cancel:   cancel,
		log:      l,
	}

	id, err := t.cron.AddFunc(schedule, func() { t.Fire(t.ctx, t.now()) })
	if err != nil {
		cancel()
		return nil, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	t.entry = id

	return t, nil
}

// Fire runs one scheduled sequence for the day of at. Errors are logged only.
func (t *CronTrigger) Fire(ctx context.Context, at time.Time) {
	trigger := ScheduledTrigger(at)
	t.log.Info().
		Time("at", at).
		Int("day_of_month", trigger.DayOfMonth).
		Str("parity", trigger.parity()).
		Msg("Scheduled fire")

	err := t.runner.Run(ctx, trigger)
	switch {
	case err == nil:
	case errors.Is(err, ErrRunInProgress):
		t.log.Warn().Msg("Previous run still in flight, fire skipped")
	default:
		t.log.Error().Err(err).Msg("Scheduled run failed, waiting for next fire")
	}
}

// AddJob registers an auxiliary job (maintenance) on its own schedule
func (t *CronTrigger) AddJob(schedule string, job jobs.Job) error {
	_, err := t.cron.AddFunc(schedule, func() {
		t.log.Debug().Str("job", job.Name()).Msg("Running job")

		if err := job.Run(t.ctx); err != nil {
			t.log.Error().
				Err(err).
				Str("job", job.Name()).
				Msg("Job failed")
		} else {
			t.log.Debug().Str("job", job.Name()).Msg("Job completed")
		}
	})
	if err != nil {
		return err
	}

	t.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")

	return nil
}

// Start arms the trigger
func (t *CronTrigger) Start() {
	t.cron.Start()
	t.log.Info().
		Str("schedule", t.schedule).
		Time("next", t.Next()).
		Msg("Scheduler started")
}

// Stop disarms the trigger, cancels a running fire and waits for it to
// return, or for ctx
func (t *CronTrigger) Stop(ctx context.Context) error {
	done := t.cron.Stop()
	t.cancel()
	select {
	case <-done.Done():
		t.log.Info().Msg("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running fire: %w", ctx.Err())
	}
}

// Next returns the next fire time; zero before Start
func (t *CronTrigger) Next() time.Time {
	return t.cron.Entry(t.entry).Next
}

// Schedule returns the configured expression
func (t *CronTrigger) Schedule() string {
	return t.schedule
}

// cronLogger routes robfig/cron's internal logging into zerolog
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
