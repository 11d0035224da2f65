package retry

import (
	"sync/atomic"
	"time"
)

// Tracker accumulates retry metrics with atomic counters. The zero value is
// ready to use and safe for concurrent use.
type Tracker struct {
	totalAttempts           atomic.Int64 // Backend calls, first attempts included
	successfulFirstAttempts atomic.Int64 // Tiers that succeeded on their first call
	successfulRetries       atomic.Int64 // Tiers that succeeded only after retrying
	exhausted               atomic.Int64 // Tiers whose attempt budget ran out
	maxBackoff              atomic.Int64 // Longest wait in nanoseconds
	totalBackoff            atomic.Int64 // Sum of waits in nanoseconds
}

// Stats is a snapshot of a Tracker.
type Stats struct {
	// TotalAttempts counts every backend call.
	TotalAttempts int64 `json:"total_attempts"`
	// SuccessfulFirstAttempts counts tiers that succeeded without retrying.
	SuccessfulFirstAttempts int64 `json:"successful_first_attempts"`
	// SuccessfulRetries counts tiers that succeeded after one or more retries.
	SuccessfulRetries int64 `json:"successful_retries"`
	// Exhausted counts tiers that failed every attempt.
	Exhausted int64 `json:"exhausted"`
	// AverageAttempts is TotalAttempts over finished tier runs.
	AverageAttempts float64 `json:"average_attempts"`
	// MaxBackoff is the longest wait between attempts.
	MaxBackoff time.Duration `json:"max_backoff"`
	// TotalBackoff is the time spent waiting between attempts.
	TotalBackoff time.Duration `json:"total_backoff"`
}

// RecordAttempt counts one backend call.
func (t *Tracker) RecordAttempt() { t.totalAttempts.Add(1) }

// RecordBackoff records one wait between attempts.
func (t *Tracker) RecordBackoff(d time.Duration) {
	nanos := d.Nanoseconds()
	t.totalBackoff.Add(nanos)
	for {
		current := t.maxBackoff.Load()
		if nanos <= current {
			break
		}
		if t.maxBackoff.CompareAndSwap(current, nanos) {
			break
		}
	}
}

// RecordOutcome records how a tier's attempt run ended. attempts is the number
// of calls made in the run.
func (t *Tracker) RecordOutcome(attempts int, success bool) {
	switch {
	case !success:
		t.exhausted.Add(1)
	case attempts <= 1:
		t.successfulFirstAttempts.Add(1)
	default:
		t.successfulRetries.Add(1)
	}
}

// Snapshot returns the current counters.
func (t *Tracker) Snapshot() Stats {
	total := t.totalAttempts.Load()
	first := t.successfulFirstAttempts.Load()
	retried := t.successfulRetries.Load()
	exhausted := t.exhausted.Load()

	avg := 1.0
	if runs := first + retried + exhausted; runs > 0 {
		avg = float64(total) / float64(runs)
	}

	return Stats{
		TotalAttempts:           total,
		SuccessfulFirstAttempts: first,
		SuccessfulRetries:       retried,
		Exhausted:               exhausted,
		AverageAttempts:         avg,
		MaxBackoff:              time.Duration(t.maxBackoff.Load()),
		TotalBackoff:            time.Duration(t.totalBackoff.Load()),
	}
}
