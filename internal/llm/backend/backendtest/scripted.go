// Package backendtest provides scripted backends for exercising the executor
// and decorators without network access.
package backendtest

import (
	"context"
	"errors"
	"sync"

	"github.com/ahrav/go-promptexec/internal/llm/backend"
)

// ErrScripted is the default failure returned by scripted steps.
var ErrScripted = errors.New("scripted backend failure")

// Step is one scripted outcome. A nil Err produces a response echoing the
// request model with Content.
type Step struct {
	Content string
	Err     error
}

// Scripted replays outcomes per model. Calls beyond the script repeat the last
// step of that model; models without a script use Default.
type Scripted struct {
	mu      sync.Mutex
	scripts map[string][]Step
	pos     map[string]int
	calls   []backend.Request

	// Default answers models with no script.
	Default Step
}

// New returns an empty Scripted backend that succeeds with "ok".
func New() *Scripted {
	return &Scripted{
		scripts: make(map[string][]Step),
		pos:     make(map[string]int),
		Default: Step{Content: "ok"},
	}
}

// On appends steps for model and returns s for chaining.
func (s *Scripted) On(model string, steps ...Step) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[model] = append(s.scripts[model], steps...)
	return s
}

// FailTimes scripts n failures followed by a success with content.
func (s *Scripted) FailTimes(model string, n int, content string) *Scripted {
	steps := make([]Step, 0, n+1)
	for range n {
		steps = append(steps, Step{Err: ErrScripted})
	}
	steps = append(steps, Step{Content: content})
	return s.On(model, steps...)
}

// AlwaysFail scripts model to fail every call with err (ErrScripted if nil).
func (s *Scripted) AlwaysFail(model string, err error) *Scripted {
	if err == nil {
		err = ErrScripted
	}
	return s.On(model, Step{Err: err})
}

// Complete implements backend.Backend.
func (s *Scripted) Complete(ctx context.Context, req *backend.Request) (*backend.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.calls = append(s.calls, *req)
	step := s.Default
	if script, ok := s.scripts[req.Model]; ok && len(script) > 0 {
		i := s.pos[req.Model]
		if i >= len(script) {
			i = len(script) - 1
		}
		step = script[i]
		s.pos[req.Model] = i + 1
	}
	s.mu.Unlock()

	if step.Err != nil {
		return nil, step.Err
	}
	return &backend.Response{
		Content:   step.Content,
		Model:     req.Model,
		TokensIn:  len(req.Messages),
		TokensOut: 1,
	}, nil
}

// Calls returns a copy of every request seen so far.
func (s *Scripted) Calls() []backend.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]backend.Request, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallsFor counts calls made for model.
func (s *Scripted) CallsFor(model string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Model == model {
			n++
		}
	}
	return n
}
