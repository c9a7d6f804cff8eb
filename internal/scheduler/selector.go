package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/aristath/instrument-sync/internal/domain"
)

// ErrInvalidSelector is returned for a job type outside dividend, split and both
var ErrInvalidSelector = errors.New("invalid job type")

// Selector chooses which corporate-action jobs a manual run includes
type Selector string

const (
	SelectDividend Selector = "dividend"
	SelectSplit    Selector = "split"
	SelectBoth     Selector = "both"
)

// ParseSelector validates a --type value. Matching is exact: no trimming and
// no case folding.
func ParseSelector(s string) (Selector, error) {
	switch Selector(s) {
	case SelectBoth:
		return SelectBoth, nil
	case SelectDividend:
		return SelectDividend, nil
	case SelectSplit:
		return SelectSplit, nil
	default:
		return "", fmt.Errorf("%w %q: expected dividend, split or both", ErrInvalidSelector, s)
	}
}

// Trigger is what started a run. It is built per invocation and consumed once.
type Trigger struct {
	Kind       domain.TriggerKind
	Selector   Selector // Manual only
	DayOfMonth int      // Scheduled only
}

// ManualTrigger builds a trigger for a CLI or API invocation
func ManualTrigger(sel Selector) Trigger {
	return Trigger{Kind: domain.TriggerManual, Selector: sel}
}

// ScheduledTrigger builds a trigger for a timer fire at t
func ScheduledTrigger(t time.Time) Trigger {
	return Trigger{Kind: domain.TriggerScheduled, DayOfMonth: t.Day()}
}

// SelectJobs resolves a trigger into the ordered job sequence.
// price_history always runs first. Manual runs follow the selector; scheduled
// runs take dividends on odd days and splits on even days.
func SelectJobs(t Trigger) []domain.JobName {
	selected := []domain.JobName{domain.JobPriceHistory}

	switch t.Kind {
	case domain.TriggerScheduled:
		if t.DayOfMonth%2 == 1 {
			selected = append(selected, domain.JobDividends)
		} else {
			selected = append(selected, domain.JobSplits)
		}
	default:
		sel := t.Selector
		if sel == "" {
			sel = SelectBoth
		}
		if sel == SelectDividend || sel == SelectBoth {
			selected = append(selected, domain.JobDividends)
		}
		if sel == SelectSplit || sel == SelectBoth {
			selected = append(selected, domain.JobSplits)
		}
	}

	return selected
}

func (t Trigger) parity() string {
	if t.DayOfMonth%2 == 1 {
		return "odd"
	}
	return "even"
}
