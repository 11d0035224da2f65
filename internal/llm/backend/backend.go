// Package backend defines the model backend capability consumed by the
// resilient executor, plus composable decorators for it. Backends carry no
// retry or fallback logic; that belongs to the executor.
package backend

import (
	"context"
	"errors"
)

// Role tags a message in a conversation.
type Role string

// Supported message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ErrNoMessages is returned when a request carries no messages.
var ErrNoMessages = errors.New("request has no messages")

// Message is one role-tagged entry of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is the normalized call sent to any backend.
type Request struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

// System returns the concatenated content of all system messages.
func (r *Request) System() string {
	var out string
	for _, m := range r.Messages {
		if m.Role != RoleSystem {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += m.Content
	}
	return out
}

// Conversation returns every non-system message in order.
func (r *Request) Conversation() []Message {
	msgs := make([]Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		if m.Role != RoleSystem {
			msgs = append(msgs, m)
		}
	}
	return msgs
}

// Response is the normalized completion returned by a backend.
type Response struct {
	Content   string `json:"content"`
	Model     string `json:"model"`
	TokensIn  int    `json:"tokens_in"`
	TokensOut int    `json:"tokens_out"`
}

// TotalTokens is the sum of input and output tokens.
func (r *Response) TotalTokens() int { return r.TokensIn + r.TokensOut }

// Backend completes a conversation against a model.
type Backend interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Func adapts a function to the Backend interface.
type Func func(context.Context, *Request) (*Response, error)

// Complete implements Backend.
func (f Func) Complete(ctx context.Context, req *Request) (*Response, error) { return f(ctx, req) }

// Middleware decorates a Backend.
type Middleware func(Backend) Backend

// Chain wraps b with middlewares; the first middleware is outermost.
func Chain(b Backend, middlewares ...Middleware) Backend {
	for i := len(middlewares) - 1; i >= 0; i-- {
		b = middlewares[i](b)
	}
	return b
}

// NewRequest builds a request from a system and user prompt. An empty system
// prompt is omitted.
func NewRequest(system, user, model string, maxTokens int, temperature float64) *Request {
	msgs := make([]Message, 0, 2)
	if system != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: system})
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: user})
	return &Request{
		Messages:    msgs,
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}
