// Package circuitbreaker tracks the health of each quality tier. A breaker
// counts consecutive failures and opens once a threshold is reached; an open
// breaker stays open until it is reset, either manually or, when a cooldown is
// configured, after the cooldown elapses.
package circuitbreaker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerNotFound is returned when no breaker exists for a tier name.
var ErrBreakerNotFound = errors.New("circuit breaker not found")

// State is the breaker state. Half-open probing is not modeled.
type State int32

const (
	// StateClosed allows calls through.
	StateClosed State = iota
	// StateOpen blocks all calls.
	StateOpen
)

// String returns the string representation of the circuit state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state as "closed" or "open".
func (s State) MarshalText() ([]byte, error) {
	if s != StateClosed && s != StateOpen {
		return nil, fmt.Errorf("unknown circuit state %d", int32(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText parses "closed" or "open".
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "closed":
		*s = StateClosed
	case "open":
		*s = StateOpen
	default:
		return fmt.Errorf("unknown circuit state %q", text)
	}
	return nil
}

// Status is a point-in-time view of one breaker.
type Status struct {
	State        State     `json:"state"`
	FailureCount int       `json:"failure_count"`
	OpenedAt     time.Time `json:"opened_at,omitzero"`
	// Version increases with every transition of the breaker, so observers
	// can tell a newer status from an older one.
	Version uint64 `json:"-"`
}

// Config describes one breaker.
type Config struct {
	// Name is the tier the breaker guards.
	Name string
	// FailureThreshold is the consecutive failure count that opens the breaker.
	FailureThreshold int
	// Cooldown, when positive, lets an open breaker close itself once the
	// cooldown has elapsed since it opened. Zero means manual reset only.
	Cooldown time.Duration
}

// Breaker guards calls to a single tier. All methods are safe for concurrent use;
// the read-increment-compare sequence of RecordFailure runs under one lock so
// concurrent failures are never under-counted.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	version  uint64
	// pending holds transitions not yet delivered to the observer. Only the
	// goroutine that set dispatching delivers them, in order.
	pending     []transition
	dispatching bool

	now      func() time.Time
	observer Observer
	logger   *slog.Logger
	metrics  *breakerMetrics
}

// New creates a closed breaker. A threshold below 1 is treated as 1.
func New(cfg Config, opts ...Option) *Breaker {
	o := applyOptions(opts)

	threshold := cfg.FailureThreshold
	if threshold < 1 {
		threshold = 1
	}

	b := &Breaker{
		name:      cfg.Name,
		threshold: threshold,
		cooldown:  cfg.Cooldown,
		state:     StateClosed,
		now:       o.now,
		observer:  o.observer,
		logger:    o.logger.With("tier", cfg.Name),
		metrics:   newBreakerMetrics(o.now()),
	}
	return b
}

// Name returns the tier this breaker guards.
func (b *Breaker) Name() string { return b.name }

// CanExecute reports whether calls may proceed, i.e. the breaker is closed.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	if b.state == StateOpen && b.cooldown > 0 && b.now().Sub(b.openedAt) >= b.cooldown {
		b.transitionLocked(StateClosed, "cooldown elapsed")
	}
	allowed := b.state == StateClosed
	b.mu.Unlock()

	if allowed {
		b.metrics.requestsAllowed.Add(1)
	} else {
		b.metrics.requestsRejected.Add(1)
	}
	b.flush()
	return allowed
}

// RecordSuccess closes the breaker and clears the failure count.
// A single success fully heals the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	b.failures = 0
	b.transitionLocked(StateClosed, "success recorded")
	b.mu.Unlock()

	b.metrics.successes.Add(1)
	b.flush()
}

// RecordFailure counts a failure and opens the breaker once the count reaches
// the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	b.failures++
	if b.failures >= b.threshold {
		b.transitionLocked(StateOpen, "failure threshold reached")
	}
	b.mu.Unlock()

	b.metrics.failures.Add(1)
	b.flush()
}

// Reset forces the breaker closed with a zero failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.failures = 0
	b.transitionLocked(StateClosed, "manual reset")
	b.mu.Unlock()

	b.flush()
}

// Snapshot returns the current status.
func (b *Breaker) Snapshot() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statusLocked()
}

func (b *Breaker) statusLocked() Status {
	return Status{State: b.state, FailureCount: b.failures, OpenedAt: b.openedAt, Version: b.version}
}

// transition is a state change waiting to be reported.
type transition struct {
	from, to State
	reason   string
	status   Status
}

// transitionLocked moves to next and queues the transition for flush. It is a
// no-op when the state is unchanged. The caller must hold b.mu.
func (b *Breaker) transitionLocked(next State, reason string) {
	if b.state == next {
		return
	}
	from := b.state
	now := b.now()
	b.state = next

	switch next {
	case StateOpen:
		b.openedAt = now
	case StateClosed:
		b.failures = 0
		b.openedAt = time.Time{}
	}

	b.version++
	b.metrics.recordTransition(from, now)
	b.pending = append(b.pending, transition{from: from, to: next, reason: reason, status: b.statusLocked()})
}

// flush delivers queued transitions outside the lock. Callers that find
// another goroutine already delivering return at once; that goroutine picks
// up their transitions after the ones before them, so observers always see
// transitions in the order they happened.
func (b *Breaker) flush() {
	b.mu.Lock()
	if b.dispatching || len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	b.dispatching = true

	for len(b.pending) > 0 {
		tr := b.pending[0]
		b.pending = b.pending[1:]
		b.mu.Unlock()
		b.notify(tr)
		b.mu.Lock()
	}
	b.dispatching = false
	b.mu.Unlock()
}

func (b *Breaker) notify(tr transition) {
	b.logger.Info("circuit breaker state transition",
		"from", tr.from.String(),
		"to", tr.to.String(),
		"reason", tr.reason,
		"failure_count", tr.status.FailureCount)
	if b.observer != nil {
		b.observer.OnStateChange(b.name, tr.from, tr.to, tr.status)
	}
}
