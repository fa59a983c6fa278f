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
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const openAISecretPath = "/run/secrets/openai_api_key"

var openAITracer = otel.Tracer("aleutian.llm.openai")

// OpenAIConfig configures the OpenAI backend.
type OpenAIConfig struct {
	APIKey       string   `yaml:"-" json:"-" envconfig:"API_KEY"`
	Model        string   `yaml:"model" json:"model" envconfig:"MODEL"`
	BaseURL      string   `yaml:"base_url" json:"base_url" envconfig:"BASE_URL"`
	SystemPrompt string   `yaml:"system_prompt" json:"system_prompt" envconfig:"SYSTEM_PROMPT"`
	Pricing      *Pricing `yaml:"pricing,omitempty" json:"pricing,omitempty" ignored:"true"`
}

// OpenAIClient generates content with the OpenAI chat completions API.
//
// The API key is held in a memguard enclave and only unsealed for the
// duration of a call.
//
// Thread Safety: Safe for concurrent use.
type OpenAIClient struct {
	key     *memguard.Enclave
	model   string
	baseURL string
	system  string
	pricing Pricing
}

// NewOpenAIClient creates an OpenAI client.
//
// The key is taken from cfg.APIKey, then OPENAI_API_KEY, then the
// container secret file.
//
// Outputs:
//   - *OpenAIClient: Ready to use client.
//   - error: ErrMissingAPIKey if no key could be found.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		if b, err := os.ReadFile(openAISecretPath); err == nil {
			apiKey = strings.TrimSpace(string(b))
			slog.Info("Read the OpenAI API key from secrets", "path", openAISecretPath)
		}
	}
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OpenAI model not set, defaulting", "model", model)
	}
	pricing := ResolvePricing(model)
	if cfg.Pricing != nil {
		pricing = *cfg.Pricing
	}
	system := cfg.SystemPrompt
	if system == "" {
		system = "You are a precise assistant that plans text clean-up steps."
	}

	slog.Info("Initializing OpenAI client", "model", model)
	return &OpenAIClient{
		key:     memguard.NewEnclave([]byte(apiKey)),
		model:   model,
		baseURL: cfg.BaseURL,
		system:  system,
		pricing: pricing,
	}, nil
}

// Model returns the configured model name.
func (o *OpenAIClient) Model() string {
	return o.model
}

// Generate implements Generator.
func (o *OpenAIClient) Generate(ctx context.Context, prompt string, params GenerationParams) (Generation, error) {
	ctx, span := openAITracer.Start(ctx, "OpenAIClient.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	client, err := o.client()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unseal api key")
		return Generation{}, err
	}

	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: o.system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat completion failed")
		return Generation{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		span.SetStatus(codes.Error, "no choices")
		return Generation{}, ErrEmptyResponse
	}

	usage := o.pricing.NewUsage(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	span.SetAttributes(
		attribute.Int("llm.tokens.total", usage.TotalTokens),
		attribute.Float64("llm.cost_usd", usage.CostUSD),
	)
	slog.Debug("Received response from OpenAI",
		"finish_reason", resp.Choices[0].FinishReason,
		"tokens", usage.TotalTokens)

	return Generation{
		Content: resp.Choices[0].Message.Content,
		Usage:   usage,
	}, nil
}

// client unseals the key and builds an API client for one call.
func (o *OpenAIClient) client() (*openai.Client, error) {
	buf, err := o.key.Open()
	if err != nil {
		return nil, fmt.Errorf("open key enclave: %w", err)
	}
	defer buf.Destroy()

	// String aliases the locked memory, which Destroy wipes.
	cfg := openai.DefaultConfig(strings.Clone(buf.String()))
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	return openai.NewClientWithConfig(cfg), nil
}
