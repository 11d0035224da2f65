package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ahrav/go-promptexec/internal/llm/backend"
	"github.com/ahrav/go-promptexec/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-promptexec/internal/llm/errors"
)

// Anthropic implements backend.Backend on the Anthropic Messages API.
// The SDK's own retries are disabled; the executor owns the retry budget.
type Anthropic struct {
	client anthropic.Client
}

// NewAnthropic creates an Anthropic backend. A nil client uses the SDK default.
func NewAnthropic(cfg configuration.ProviderConfig, client *http.Client) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: %w", configuration.ProviderAnthropic, ErrMissingAPIKey)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	if client != nil {
		opts = append(opts, option.WithHTTPClient(client))
	}
	for k, v := range cfg.Headers {
		opts = append(opts, option.WithHeader(k, v))
	}
	return &Anthropic{client: anthropic.NewClient(opts...)}, nil
}

// Complete implements backend.Backend.
func (a *Anthropic) Complete(ctx context.Context, req *backend.Request) (*backend.Response, error) {
	conversation := req.Conversation()
	if len(conversation) == 0 {
		return nil, backend.ErrNoMessages
	}

	messages := make([]anthropic.MessageParam, 0, len(conversation))
	for _, m := range conversation {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == backend.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   int64(req.MaxTokens),
		Messages:    messages,
		Temperature: anthropic.Float(req.Temperature),
	}
	if system := req.System(); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, anthropicError(err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, llmerrors.ErrEmptyContent
	}

	model := string(msg.Model)
	if model == "" {
		model = req.Model
	}
	return &backend.Response{
		Content:   sb.String(),
		Model:     model,
		TokensIn:  int(msg.Usage.InputTokens),
		TokensOut: int(msg.Usage.OutputTokens),
	}, nil
}

// anthropicError maps SDK API errors onto ProviderError. Transport and
// context errors pass through unchanged.
func anthropicError(err error) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w", configuration.ProviderAnthropic, err)
	}

	provErr := &llmerrors.ProviderError{
		Provider:   configuration.ProviderAnthropic,
		StatusCode: apiErr.StatusCode,
		Message:    apiErr.Error(),
		Type:       classifyErrorType(apiErr.StatusCode, ""),
	}
	if apiErr.Response != nil {
		provErr.RetryAfter = retryAfter(apiErr.Response.Header, time.Now())
	}
	return provErr
}
