package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPGenerator calls a JSON completion endpoint.
type HTTPGenerator struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPGenerator builds an HTTPGenerator. A zero timeout means 60s.
func NewHTTPGenerator(endpoint, apiKey string, timeout time.Duration) *HTTPGenerator {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPGenerator{endpoint: endpoint, apiKey: apiKey, client: &http.Client{Timeout: timeout}}
}

type completionRequest struct {
	Kind      Kind   `json:"kind"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
}

type completionResponse struct {
	Content    string `json:"content"`
	TokensUsed int    `json:"tokens_used"`
	Model      string `json:"model"`
}

// Generate implements Generator.
func (g *HTTPGenerator) Generate(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(completionRequest{Kind: req.Kind, Prompt: req.Prompt, MaxTokens: req.MaxTokens})
	if err != nil {
		return Result{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("generation: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrGeneratorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("%w: status %d: %s", ErrGeneratorUnavailable, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	var out completionResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("%w: decode response: %v", ErrGeneratorUnavailable, err)
	}
	return Result{Kind: req.Kind, Content: out.Content, TokensUsed: out.TokensUsed, Model: out.Model}, nil
}

var _ Generator = (*HTTPGenerator)(nil)
