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
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var ollamaTracer = otel.Tracer("aleutian.llm.ollama")

// OllamaConfig configures the local Ollama backend.
type OllamaConfig struct {
	BaseURL string `yaml:"base_url" json:"base_url" envconfig:"BASE_URL"`
	Model   string `yaml:"model" json:"model" envconfig:"MODEL"`
}

// OllamaClient generates content with a local Ollama server.
//
// Thread Safety: Safe for concurrent use.
type OllamaClient struct {
	llm   llms.Model
	model string
}

// NewOllamaClient creates an Ollama client.
func NewOllamaClient(cfg OllamaConfig) (*OllamaClient, error) {
	model := cfg.Model
	if model == "" {
		model = "llama3.1"
		slog.Warn("Ollama model not set, defaulting", "model", model)
	}
	opts := []ollama.Option{ollama.WithModel(model)}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(strings.TrimSuffix(cfg.BaseURL, "/")))
	}
	client, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	slog.Info("Initializing Ollama client", "base_url", cfg.BaseURL, "model", model)
	return &OllamaClient{llm: client, model: model}, nil
}

// Generate implements Generator. Local inference is free, so Usage carries
// token counts with zero cost.
func (o *OllamaClient) Generate(ctx context.Context, prompt string, params GenerationParams) (Generation, error) {
	ctx, span := ollamaTracer.Start(ctx, "OllamaClient.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	resp, err := o.llm.GenerateContent(ctx,
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)},
		callOptions(params)...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate failed")
		return Generation{}, fmt.Errorf("ollama generate: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		span.SetStatus(codes.Error, "no choices")
		return Generation{}, ErrEmptyResponse
	}

	choice := resp.Choices[0]
	gen := Generation{Content: choice.Content}
	prompts, okP := intFromInfo(choice.GenerationInfo, "PromptTokens")
	completions, okC := intFromInfo(choice.GenerationInfo, "CompletionTokens")
	if okP || okC {
		gen.Usage = Pricing{}.NewUsage(prompts, completions)
		span.SetAttributes(attribute.Int("llm.tokens.total", gen.Usage.TotalTokens))
	}
	return gen, nil
}

func callOptions(params GenerationParams) []llms.CallOption {
	var opts []llms.CallOption
	if params.Temperature != nil {
		opts = append(opts, llms.WithTemperature(float64(*params.Temperature)))
	}
	if params.MaxTokens != nil {
		opts = append(opts, llms.WithMaxTokens(*params.MaxTokens))
	}
	if params.TopP != nil {
		opts = append(opts, llms.WithTopP(float64(*params.TopP)))
	}
	if params.TopK != nil {
		opts = append(opts, llms.WithTopK(*params.TopK))
	}
	if len(params.Stop) > 0 {
		opts = append(opts, llms.WithStopWords(params.Stop))
	}
	return opts
}

func intFromInfo(info map[string]any, key string) (int, bool) {
	switch v := info[key].(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}
