// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	anthropicAPIVersion   = "2023-06-01"
	anthropicMessagesURL  = "https://api.anthropic.com/v1/messages"
	anthropicSecretPath   = "/run/secrets/anthropic_api_key"
	anthropicDefaultModel = "claude-3-5-haiku-latest"
	anthropicMaxTokens    = 1024
)

var anthropicTracer = otel.Tracer("aleutian.llm.anthropic")

// AnthropicConfig configures the Anthropic Messages backend.
type AnthropicConfig struct {
	APIKey       string        `yaml:"-" json:"-" envconfig:"API_KEY"`
	Model        string        `yaml:"model" json:"model" envconfig:"MODEL"`
	BaseURL      string        `yaml:"base_url" json:"base_url" envconfig:"BASE_URL"`
	SystemPrompt string        `yaml:"system_prompt" json:"system_prompt" envconfig:"SYSTEM_PROMPT"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout" envconfig:"TIMEOUT"`
	Pricing      *Pricing      `yaml:"pricing,omitempty" json:"pricing,omitempty" ignored:"true"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      []systemBlock      `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float32           `json:"temperature,omitempty"`
	TopP        *float32           `json:"top_p,omitempty"`
	TopK        *int               `json:"top_k,omitempty"`
	StopSeqs    []string           `json:"stop_sequences,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type systemBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
	Error      *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// AnthropicClient generates content with the Anthropic Messages REST API.
//
// Thread Safety: Safe for concurrent use.
type AnthropicClient struct {
	httpClient *http.Client
	key        *memguard.Enclave
	model      string
	url        string
	system     string
	pricing    Pricing
}

// NewAnthropicClient creates an Anthropic client.
//
// The key is taken from cfg.APIKey, then ANTHROPIC_API_KEY, then the
// container secret file.
//
// Outputs:
//   - *AnthropicClient: Ready to use client.
//   - error: ErrMissingAPIKey if no key could be found.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		if content, err := os.ReadFile(anthropicSecretPath); err == nil {
			apiKey = strings.TrimSpace(string(content))
			slog.Info("Read the Anthropic API key from secrets", "path", anthropicSecretPath)
		}
	}
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	model := cfg.Model
	if model == "" {
		model = anthropicDefaultModel
		slog.Warn("Anthropic model not set, defaulting", "model", model)
	}
	url := cfg.BaseURL
	if url == "" {
		url = anthropicMessagesURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	pricing := ResolvePricing(model)
	if cfg.Pricing != nil {
		pricing = *cfg.Pricing
	}

	return &AnthropicClient{
		httpClient: &http.Client{Timeout: timeout},
		key:        memguard.NewEnclave([]byte(apiKey)),
		model:      model,
		url:        url,
		system:     cfg.SystemPrompt,
		pricing:    pricing,
	}, nil
}

// Model returns the configured model name.
func (a *AnthropicClient) Model() string {
	return a.model
}

// Generate implements Generator.
func (a *AnthropicClient) Generate(ctx context.Context, prompt string, params GenerationParams) (Generation, error) {
	ctx, span := anthropicTracer.Start(ctx, "AnthropicClient.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", a.model))

	payload := anthropicRequest{
		Model:       a.model,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
		MaxTokens:   anthropicMaxTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		TopK:        params.TopK,
		StopSeqs:    params.Stop,
	}
	if params.MaxTokens != nil {
		payload.MaxTokens = *params.MaxTokens
	}
	if a.system != "" {
		payload.System = []systemBlock{{Type: "text", Text: a.system}}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Generation{}, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return Generation{}, fmt.Errorf("failed to create request: %w", err)
	}
	if err := a.authorize(req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unseal api key")
		return Generation{}, err
	}
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	req.Header.Set("content-type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return Generation{}, fmt.Errorf("anthropic request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Generation{}, fmt.Errorf("read anthropic response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		span.SetStatus(codes.Error, resp.Status)
		return Generation{}, fmt.Errorf("anthropic API returned status %d: %s", resp.StatusCode, truncateBody(respBody))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return Generation{}, fmt.Errorf("failed to parse response JSON: %w", err)
	}
	if apiResp.Error != nil {
		return Generation{}, fmt.Errorf("anthropic API error: %s - %s", apiResp.Error.Type, apiResp.Error.Message)
	}

	var text strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		span.SetStatus(codes.Error, "no text content")
		return Generation{}, ErrEmptyResponse
	}

	usage := a.pricing.NewUsage(apiResp.Usage.InputTokens, apiResp.Usage.OutputTokens)
	span.SetAttributes(
		attribute.Int("llm.tokens.total", usage.TotalTokens),
		attribute.Float64("llm.cost_usd", usage.CostUSD),
	)
	slog.Debug("Received response from Anthropic",
		"stop_reason", apiResp.StopReason,
		"tokens", usage.TotalTokens)

	return Generation{Content: text.String(), Usage: usage}, nil
}

func (a *AnthropicClient) authorize(req *http.Request) error {
	buf, err := a.key.Open()
	if err != nil {
		return fmt.Errorf("open key enclave: %w", err)
	}
	defer buf.Destroy()
	req.Header.Set("x-api-key", strings.Clone(buf.String()))
	return nil
}

func truncateBody(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
