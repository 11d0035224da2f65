package circuitbreaker

import (
	"sync/atomic"
	"time"
)

// breakerMetrics tracks per-breaker counters without taking the state lock.
type breakerMetrics struct {
	stateTransitions atomic.Int64 // Total state transitions
	requestsAllowed  atomic.Int64 // CanExecute calls answered true
	requestsRejected atomic.Int64 // CanExecute calls answered false
	successes        atomic.Int64 // RecordSuccess calls
	failures         atomic.Int64 // RecordFailure calls
	timeInClosed     atomic.Int64 // Nanoseconds in closed state
	timeInOpen       atomic.Int64 // Nanoseconds in open state
	lastStateChange  atomic.Int64 // Timestamp of last state change
}

func newBreakerMetrics(now time.Time) *breakerMetrics {
	m := &breakerMetrics{}
	m.lastStateChange.Store(now.UnixNano())
	return m
}

// recordTransition attributes the time since the last change to the state
// being left.
func (m *breakerMetrics) recordTransition(left State, at time.Time) {
	now := at.UnixNano()
	duration := now - m.lastStateChange.Swap(now)
	if duration < 0 {
		duration = 0
	}
	switch left {
	case StateClosed:
		m.timeInClosed.Add(duration)
	case StateOpen:
		m.timeInOpen.Add(duration)
	}
	m.stateTransitions.Add(1)
}

// Stats aggregates breaker metrics across a Set.
type Stats struct {
	// TotalBreakers is the number of breakers in the set.
	TotalBreakers int `json:"total_breakers"`
	// StateCount maps each state name to the number of breakers in it.
	StateCount map[string]int `json:"state_count"`
	// TotalStateTransitions counts state changes across all breakers.
	TotalStateTransitions int64 `json:"total_state_transitions"`
	// TotalRequestsAllowed counts calls let through.
	TotalRequestsAllowed int64 `json:"total_requests_allowed"`
	// TotalRequestsRejected counts calls refused while open.
	TotalRequestsRejected int64 `json:"total_requests_rejected"`
	// TotalSuccesses counts recorded successes.
	TotalSuccesses int64 `json:"total_successes"`
	// TotalFailures counts recorded failures.
	TotalFailures int64 `json:"total_failures"`
	// TimeOpen is the cumulative time breakers spent open, excluding any
	// currently open period.
	TimeOpen time.Duration `json:"time_open"`
	// TimeClosed is the cumulative time breakers spent closed, excluding any
	// current closed period.
	TimeClosed time.Duration `json:"time_closed"`
}

// Stats returns aggregated metrics for every breaker in the set.
func (s *Set) Stats() Stats {
	st := Stats{
		TotalBreakers: len(s.breakers),
		StateCount:    make(map[string]int, 2),
	}
	for _, b := range s.breakers {
		st.StateCount[b.Snapshot().State.String()]++
		st.TotalStateTransitions += b.metrics.stateTransitions.Load()
		st.TotalRequestsAllowed += b.metrics.requestsAllowed.Load()
		st.TotalRequestsRejected += b.metrics.requestsRejected.Load()
		st.TotalSuccesses += b.metrics.successes.Load()
		st.TotalFailures += b.metrics.failures.Load()
		st.TimeOpen += time.Duration(b.metrics.timeInOpen.Load())
		st.TimeClosed += time.Duration(b.metrics.timeInClosed.Load())
	}
	return st
}
