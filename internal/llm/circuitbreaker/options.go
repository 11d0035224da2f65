package circuitbreaker

import (
	"log/slog"
	"time"
)

// Observer is told about every state transition of a breaker, one call at a
// time and in the order the transitions happened. Calls run outside the
// breaker lock on whichever caller goroutine is delivering, so a slow observer
// delays later notifications but never the breaker itself.
type Observer interface {
	OnStateChange(tier string, from, to State, status Status)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(tier string, from, to State, status Status)

// OnStateChange implements Observer.
func (f ObserverFunc) OnStateChange(tier string, from, to State, status Status) {
	f(tier, from, to, status)
}

// Observers fans a transition out to several observers in order.
type Observers []Observer

// OnStateChange implements Observer.
func (obs Observers) OnStateChange(tier string, from, to State, status Status) {
	for _, o := range obs {
		if o != nil {
			o.OnStateChange(tier, from, to, status)
		}
	}
}

// Option configures breakers created by New and NewSet.
type Option func(*options)

type options struct {
	now      func() time.Time
	observer Observer
	logger   *slog.Logger
}

// WithClock overrides time.Now, mainly for cooldown tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithObserver registers an observer for state transitions.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithLogger sets the logger used for transition logs.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{
		now:    time.Now,
		logger: slog.Default().With("component", "circuitbreaker"),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
