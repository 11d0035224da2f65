// Package sandbox renders prompt templates written in a restricted template
// language. Templates are scanned for denylisted constructs before they are
// parsed, and the grammar itself has no calls, attribute access or module
// loading, so a template can only read the sanitized data it is given.
//
// The language supports {{ expression }} output, {% if %}/{% elif %}/
// {% else %}/{% endif %}, {% for x in seq %}/{% else %}/{% endfor %} and
// {# comments #}. Expressions are literals or dotted/indexed variable paths,
// optionally piped through filters, combined with not, and, or, ==, != and in.
package sandbox

import (
	"log/slog"
	"maps"

	"github.com/ahrav/go-promptexec/internal/prompt/schema"
)

// RenderedPrompt is the output of a successful Render.
type RenderedPrompt struct {
	SystemPrompt string `json:"system_prompt"`
	UserPrompt   string `json:"user_prompt"`
}

// ValidationResult lists every problem found in a template. It is valid iff
// Errors is empty.
type ValidationResult struct {
	Errors []string `json:"errors"`
}

// Valid reports whether no problems were found.
func (r ValidationResult) Valid() bool { return len(r.Errors) == 0 }

// Sandbox renders templates. The zero value is not usable; call New. A Sandbox
// is immutable after construction and safe for concurrent use.
type Sandbox struct {
	filters map[string]Filter
	logger  *slog.Logger
}

// Option configures a Sandbox.
type Option func(*Sandbox)

// WithLogger sets the logger used for rejected renders and stripped context keys.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sandbox) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithFilter registers an additional filter, replacing any builtin of the same
// name. fn must be pure.
func WithFilter(name string, fn Filter) Option {
	return func(s *Sandbox) {
		if fn != nil {
			s.filters[name] = fn
		}
	}
}

// New creates a Sandbox with the builtin filters.
func New(opts ...Option) *Sandbox {
	s := &Sandbox{
		filters: builtinFilters(),
		logger:  slog.Default().With("component", "sandbox"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RenderString scans, parses and renders tmpl against the sanitized ctx. When
// sch is non-nil the sanitized context must satisfy it.
//
// Errors are *SecurityError for denylisted constructs, *SyntaxError for
// malformed templates, *ContextValidationError for schema failures and
// *RenderError for filter failures.
func (s *Sandbox) RenderString(tmpl string, ctx map[string]any, sch *schema.Schema) (string, error) {
	if violations := scan(tmpl); len(violations) > 0 {
		err := &SecurityError{Violations: violations}
		s.logger.Warn("template rejected", "violations", len(violations), "error", err)
		return "", err
	}

	nodes, err := parse(tmpl, s.filters)
	if err != nil {
		return "", err
	}

	clean := s.SanitizeContext(ctx)
	if problems := sch.Validate(clean); len(problems) > 0 {
		err := &ContextValidationError{Problems: problems}
		s.logger.Warn("context rejected", "problems", len(problems), "error", err)
		return "", err
	}

	return render(nodes, clean, s.filters)
}

// Render merges defaults under ctx, with ctx winning, and renders both prompts
// independently. Failures are wrapped in *PartError naming the failing prompt.
func (s *Sandbox) Render(systemPrompt, userPrompt string, ctx, defaults map[string]any, sch *schema.Schema) (RenderedPrompt, error) {
	merged := make(map[string]any, len(defaults)+len(ctx))
	maps.Copy(merged, defaults)
	maps.Copy(merged, ctx)

	system, err := s.RenderString(systemPrompt, merged, sch)
	if err != nil {
		return RenderedPrompt{}, &PartError{Part: PartSystemPrompt, Err: err}
	}
	user, err := s.RenderString(userPrompt, merged, sch)
	if err != nil {
		return RenderedPrompt{}, &PartError{Part: PartUserPrompt, Err: err}
	}
	return RenderedPrompt{SystemPrompt: system, UserPrompt: user}, nil
}

// ValidateTemplate statically checks tmpl without rendering it. Every security
// violation is listed; the template is only parsed when the scan is clean.
func (s *Sandbox) ValidateTemplate(tmpl string) ValidationResult {
	var res ValidationResult
	for _, v := range scan(tmpl) {
		res.Errors = append(res.Errors, v.String())
	}
	if len(res.Errors) > 0 {
		return res
	}
	if _, err := parse(tmpl, s.filters); err != nil {
		res.Errors = append(res.Errors, err.Error())
	}
	return res
}

// SanitizeContext returns a normalized copy of ctx without denylisted keys.
// ctx is not modified.
func (s *Sandbox) SanitizeContext(ctx map[string]any) map[string]any {
	clean, removed := sanitize(ctx)
	if len(removed) > 0 {
		s.logger.Debug("stripped context keys", "keys", removed)
	}
	return clean
}
