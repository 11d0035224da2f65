package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"github.com/ahrav/go-promptexec/internal/llm/backend"
	"github.com/ahrav/go-promptexec/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-promptexec/internal/llm/errors"
)

// Google implements backend.Backend on the Gemini API.
type Google struct {
	client *genai.Client
}

// NewGoogle creates a Gemini backend. A nil client uses the SDK default.
func NewGoogle(ctx context.Context, cfg configuration.ProviderConfig, client *http.Client) (*Google, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: %w", configuration.ProviderGoogle, ErrMissingAPIKey)
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: client,
	}
	if cfg.Endpoint != "" {
		cc.HTTPOptions.BaseURL = cfg.Endpoint
	}
	if len(cfg.Headers) > 0 {
		cc.HTTPOptions.Headers = make(http.Header, len(cfg.Headers))
		for k, v := range cfg.Headers {
			cc.HTTPOptions.Headers.Set(k, v)
		}
	}

	c, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", configuration.ProviderGoogle, err)
	}
	return &Google{client: c}, nil
}

// Complete implements backend.Backend.
func (g *Google) Complete(ctx context.Context, req *backend.Request) (*backend.Response, error) {
	conversation := req.Conversation()
	if len(conversation) == 0 {
		return nil, backend.ErrNoMessages
	}

	contents := make([]*genai.Content, 0, len(conversation))
	for _, m := range conversation {
		role := genai.Role(genai.RoleUser)
		if m.Role == backend.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if system := req.System(); system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return nil, googleError(err)
	}

	text := resp.Text()
	if text == "" {
		return nil, llmerrors.ErrEmptyContent
	}

	out := &backend.Response{Content: text, Model: req.Model}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	if u := resp.UsageMetadata; u != nil {
		out.TokensIn = int(u.PromptTokenCount)
		out.TokensOut = int(u.CandidatesTokenCount)
	}
	return out, nil
}

// googleError maps Gemini API errors onto ProviderError.
func googleError(err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w", configuration.ProviderGoogle, err)
	}
	return &llmerrors.ProviderError{
		Provider:   configuration.ProviderGoogle,
		StatusCode: apiErr.Code,
		Message:    apiErr.Message,
		Code:       apiErr.Status,
		Type:       classifyErrorType(apiErr.Code, apiErr.Status),
	}
}
