package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ahrav/go-promptexec/internal/llm/backend"
	"github.com/ahrav/go-promptexec/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-promptexec/internal/llm/errors"
)

// Gateway implements backend.Backend for any service speaking the
// OpenAI-compatible chat/completions protocol, such as OpenAI itself or a
// self-hosted model gateway.
type Gateway struct {
	config configuration.ProviderConfig
	client *http.Client
}

// NewGateway creates a gateway backend. If no endpoint is configured it
// defaults to OpenAI's production API; a nil client uses http.DefaultClient.
func NewGateway(cfg configuration.ProviderConfig, client *http.Client) *Gateway {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.openai.com/v1"
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if client == nil {
		client = http.DefaultClient
	}
	return &Gateway{config: cfg, client: client}
}

// Complete implements backend.Backend.
func (g *Gateway) Complete(ctx context.Context, req *backend.Request) (*backend.Response, error) {
	httpReq, err := g.build(ctx, req)
	if err != nil {
		return nil, err
	}

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", configuration.ProviderGateway, err)
	}
	defer httpResp.Body.Close()

	return g.parse(httpResp, req.Model)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

// build constructs the chat/completions request. Roles map one to one; the
// protocol accepts system messages inline.
func (g *Gateway) build(ctx context.Context, req *backend.Request) (*http.Request, error) {
	if len(req.Messages) == 0 {
		return nil, backend.ErrNoMessages
	}

	body := chatRequest{
		Model:       req.Model,
		Messages:    make([]chatMessage, 0, len(req.Messages)),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := g.config.Endpoint + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if g.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.config.APIKey)
	}
	for k, v := range g.config.Headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// parse extracts the first choice and usage from a chat/completions response.
// requested names the model when the response omits one.
func (g *Gateway) parse(httpResp *http.Response, requested string) (*backend.Response, error) {
	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, parseGatewayError(httpResp, body)
	}

	var resp struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", llmerrors.ErrInvalidResponse, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", llmerrors.ErrInvalidResponse)
	}

	content := resp.Choices[0].Message.Content
	if content == "" {
		return nil, llmerrors.ErrEmptyContent
	}
	model := resp.Model
	if model == "" {
		model = requested
	}
	return &backend.Response{
		Content:   content,
		Model:     model,
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
	}, nil
}

// parseGatewayError converts an error response to a ProviderError, keeping
// the provider's message and any Retry-After hint.
func parseGatewayError(httpResp *http.Response, body []byte) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}

	provErr := &llmerrors.ProviderError{
		Provider:   configuration.ProviderGateway,
		StatusCode: httpResp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
		RetryAfter: retryAfter(httpResp.Header, time.Now()),
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		provErr.Message = errResp.Error.Message
		provErr.Code = errResp.Error.Code
	}
	code := provErr.Code
	if code == "" {
		code = errResp.Error.Type
	}
	provErr.Type = classifyErrorType(httpResp.StatusCode, code)
	return provErr
}
