// Package assist is a thin client for the LLM text-completion collaborator
// used by the composer's optional writing aids.
package assist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Service calls the completion endpoint. Disabled (all methods return the
// input unchanged) when no base URL is configured.
type Service struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func New(baseURL, apiKey string) *Service {
	return &Service{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Enabled reports whether the collaborator is configured.
func (s *Service) Enabled() bool {
	return s != nil && s.baseURL != ""
}

// GrammarCheck returns a corrected version of the text.
func (s *Service) GrammarCheck(ctx context.Context, text string) (string, error) {
	return s.complete(ctx, "Fix the grammar and spelling. Return only the corrected text.\n\n"+text, text)
}

// Enhance returns a clearer, better-phrased version of the text.
func (s *Service) Enhance(ctx context.Context, text string) (string, error) {
	return s.complete(ctx, "Improve the clarity and tone of this message. Return only the improved text.\n\n"+text, text)
}

type completeRequest struct {
	Prompt string `json:"prompt"`
}

type completeResponse struct {
	Text string `json:"text"`
}

func (s *Service) complete(ctx context.Context, prompt, fallback string) (string, error) {
	if !s.Enabled() {
		return fallback, nil
	}

	body, err := json.Marshal(completeRequest{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/complete", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("completion request: status %d: %s", resp.StatusCode, payload)
	}

	var out completeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	return out.Text, nil
}
