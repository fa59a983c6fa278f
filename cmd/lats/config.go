// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/lats/pkg/logging"
	"github.com/AleutianAI/lats/pkg/validation"
	"github.com/AleutianAI/lats/services/lats"
	"github.com/AleutianAI/lats/services/lats/memo"
	"github.com/AleutianAI/lats/services/llm"
)

// envPrefix prefixes every environment override, e.g. LATS_SEARCH_MAX_VISITS.
const envPrefix = "LATS"

// AppConfig is the full CLI configuration.
type AppConfig struct {
	Search        lats.Config         `yaml:"search" envconfig:"SEARCH"`
	Scorer        string              `yaml:"scorer" envconfig:"SCORER" validate:"oneof=heuristic llm"`
	LLM           LLMConfig           `yaml:"llm" envconfig:"LLM"`
	Policy        PolicyConfig        `yaml:"policy" envconfig:"POLICY"`
	Memo          MemoConfig          `yaml:"memo" envconfig:"MEMO"`
	Logging       logging.Config      `yaml:"logging" envconfig:"LOG"`
	Observability ObservabilityConfig `yaml:"observability" envconfig:"OBS"`
}

// LLMConfig selects and configures the generator.
type LLMConfig struct {
	Provider  string              `yaml:"provider" envconfig:"PROVIDER" validate:"oneof=none openai anthropic ollama"`
	OpenAI    llm.OpenAIConfig    `yaml:"openai" envconfig:"OPENAI"`
	Anthropic llm.AnthropicConfig `yaml:"anthropic" envconfig:"ANTHROPIC"`
	Ollama    llm.OllamaConfig    `yaml:"ollama" envconfig:"OLLAMA"`
	Guarded   bool                `yaml:"guarded" envconfig:"GUARDED"`
	Guard     llm.GuardConfig     `yaml:"guard" envconfig:"GUARD"`
}

// PolicyConfig toggles the embedded action policy.
type PolicyConfig struct {
	Enabled bool `yaml:"enabled" envconfig:"ENABLED"`
}

// MemoConfig selects the evaluation cache.
type MemoConfig struct {
	Backend string            `yaml:"backend" envconfig:"BACKEND" validate:"oneof=none badger redis"`
	Badger  memo.BadgerConfig `yaml:"badger" envconfig:"BADGER"`
	Redis   memo.RedisConfig  `yaml:"redis" envconfig:"REDIS"`
}

// ObservabilityConfig controls tracing and the metrics endpoint.
type ObservabilityConfig struct {
	// Tracing exports spans to stderr.
	Tracing bool `yaml:"tracing" envconfig:"TRACING"`

	// MetricsAddr serves /metrics when set, e.g. ":9464".
	MetricsAddr string `yaml:"metrics_addr" envconfig:"METRICS_ADDR"`
}

// DefaultAppConfig returns the built-in defaults.
func DefaultAppConfig() AppConfig {
	badgerCfg := memo.DefaultBadgerConfig()
	badgerCfg.Path = "~/.aleutian/lats/memo"
	return AppConfig{
		Search: lats.DefaultConfig(),
		Scorer: "heuristic",
		LLM: LLMConfig{
			Provider:  "none",
			OpenAI:    llm.OpenAIConfig{Model: "gpt-4o-mini"},
			Anthropic: llm.AnthropicConfig{Model: "claude-3-5-haiku-latest", Timeout: time.Minute},
			Ollama:    llm.OllamaConfig{Model: "llama3.1"},
			Guard: llm.GuardConfig{
				RequestsPerSecond: 5,
				Burst:             1,
				Breaker:           llm.DefaultCircuitBreakerConfig(),
			},
		},
		Policy: PolicyConfig{Enabled: true},
		Memo: MemoConfig{
			Backend: "none",
			Badger:  badgerCfg,
			Redis:   memo.DefaultRedisConfig(),
		},
		Logging: logging.Config{Level: "info", Service: "lats"},
	}
}

var appValidator = validator.New()

// LoadConfig layers the configuration sources.
//
// Order, later wins: defaults, the YAML file at path (skipped when empty),
// the dotenv file at envFile (skipped when missing), then LATS_* variables.
//
// Outputs:
//   - AppConfig: The validated configuration.
//   - error: Non-nil if a source cannot be parsed or validation fails.
func LoadConfig(path, envFile string) (AppConfig, error) {
	cfg := DefaultAppConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("process environment: %w", err)
	}

	if err := appValidator.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.Search.Validate(); err != nil {
		return cfg, err
	}
	if err := validation.ValidateActions(cfg.Search.ActionCatalog); err != nil {
		return cfg, fmt.Errorf("invalid action catalog: %w", err)
	}
	return cfg, nil
}
