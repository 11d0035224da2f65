package sandbox

import (
	"fmt"
	"strings"
)

// Category labels a security violation.
type Category string

// Violation categories, in detection priority order.
const (
	CategoryCodeExecution Category = "code execution"
	CategoryDunderAccess  Category = "dunder access"
	CategoryImport        Category = "import"
)

// Violation is one denylisted construct found in a template.
type Violation struct {
	Category Category `json:"category"`
	Detail   string   `json:"detail"`
	Offset   int      `json:"offset"`
}

// String renders the violation as "category: detail".
func (v Violation) String() string {
	return string(v.Category) + ": " + v.Detail
}

// SecurityError reports every denylisted construct found in a template source.
type SecurityError struct {
	Violations []Violation
}

func (e *SecurityError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return "template security violation: " + strings.Join(parts, "; ")
}

// Categories returns the distinct violation categories in detection order.
func (e *SecurityError) Categories() []Category {
	var out []Category
	seen := make(map[Category]bool, 3)
	for _, v := range e.Violations {
		if !seen[v.Category] {
			seen[v.Category] = true
			out = append(out, v.Category)
		}
	}
	return out
}

// ContextValidationError reports a sanitized context that does not satisfy the
// caller's schema.
type ContextValidationError struct {
	Problems []string
}

func (e *ContextValidationError) Error() string {
	return "context validation failed: " + strings.Join(e.Problems, "; ")
}

// SyntaxError reports a malformed template.
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("template syntax error at offset %d: %s", e.Offset, e.Msg)
}

// RenderError reports a failure while evaluating a well-formed template, such
// as a filter receiving an argument of the wrong type.
type RenderError struct {
	Offset int
	Err    error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("template render error at offset %d: %v", e.Offset, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Template parts named by PartError.
const (
	PartSystemPrompt = "system_prompt"
	PartUserPrompt   = "user_prompt"
)

// PartError names which half of a prompt failed to render.
type PartError struct {
	Part string
	Err  error
}

func (e *PartError) Error() string { return e.Part + ": " + e.Err.Error() }

func (e *PartError) Unwrap() error { return e.Err }
