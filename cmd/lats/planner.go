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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/AleutianAI/lats/pkg/validation"
	"github.com/AleutianAI/lats/services/lats"
	"github.com/AleutianAI/lats/services/lats/memo"
	"github.com/AleutianAI/lats/services/llm"
	"github.com/AleutianAI/lats/services/policy_engine"
	"github.com/AleutianAI/lats/services/textops"
)

// planner bundles a searcher with the components wired into it.
type planner struct {
	searcher  *lats.LATSSearcher
	executor  *textops.Executor
	scorer    *textops.Scorer
	policy    *policy_engine.PolicyEngine
	generator llm.Generator
	store     memo.Store
}

// buildPlanner wires every configured component around text.
//
// Outputs:
//   - *planner: Ready to run. Call Close() when done.
//   - error: Non-nil if a backend cannot be created or the configuration
//     asks for something unavailable (e.g. LLM scoring without a provider).
func buildPlanner(ctx context.Context, cfg AppConfig, text string, logger *slog.Logger) (*planner, error) {
	gen, err := buildGenerator(cfg.LLM, logger)
	if err != nil {
		return nil, err
	}

	p := &planner{generator: gen}
	p.executor = textops.NewExecutor(textops.WithGenerator(gen), textops.WithLogger(logger))
	p.scorer = textops.NewScorer(p.executor, text, cfg.Search.MaxTextLength)

	opts := []lats.Option{
		lats.WithExecutor(p.executor),
		lats.WithSourceText(text),
		lats.WithLogger(logger),
		lats.WithTracer(lats.NewTracer(cfg.Observability.Tracing)),
	}

	if gen != nil {
		opts = append(opts, lats.WithGenerator(gen))
	} else {
		opts = append(opts, lats.WithProposer(catalogProposer(cfg.Search.ActionCatalog)))
	}

	switch cfg.Scorer {
	case "llm":
		if gen == nil {
			return nil, errors.New("the llm scorer needs an llm provider")
		}
	default:
		var eval lats.Evaluator = p.scorer
		store, err := openStore(ctx, cfg.Memo, logger)
		if err != nil {
			return nil, err
		}
		if store != nil {
			p.store = store
			eval = memo.NewCachedEvaluator(eval, store,
				memo.WithNamespace(memo.Namespace(text)),
				memo.WithLogger(logger))
		}
		opts = append(opts, lats.WithEvaluator(eval))
	}

	if cfg.Policy.Enabled {
		engine, err := policy_engine.NewPolicyEngine(
			policy_engine.WithSourceText(text),
			policy_engine.WithLogger(logger))
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("load policy: %w", err)
		}
		p.policy = engine
		opts = append(opts, lats.WithValidator(engine))
	}

	p.searcher = lats.NewSearcher(cfg.Search, opts...)
	return p, nil
}

// Close releases the memo store, if any.
func (p *planner) Close() error {
	if p.store == nil {
		return nil
	}
	return p.store.Close()
}

// catalogProposer proposes every catalog action not yet taken on the path.
// The policy decides which repeats are acceptable, so only immediate
// repeats are dropped here.
func catalogProposer(catalog []string) lats.Proposer {
	if len(catalog) == 0 {
		catalog = textops.Actions()
	}
	return lats.ProposerFunc(func(_ context.Context, node *lats.SearchNode) ([]string, error) {
		out := make([]string, 0, len(catalog))
		for _, a := range catalog {
			if node.HasAction() && node.Action == a {
				continue
			}
			out = append(out, a)
		}
		return out, nil
	})
}

// buildGenerator returns nil when no provider is configured.
func buildGenerator(cfg LLMConfig, logger *slog.Logger) (llm.Generator, error) {
	var gen llm.Generator
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "openai":
		client, err := llm.NewOpenAIClient(cfg.OpenAI)
		if err != nil {
			return nil, fmt.Errorf("create openai client: %w", err)
		}
		gen = client
	case "anthropic":
		client, err := llm.NewAnthropicClient(cfg.Anthropic)
		if err != nil {
			return nil, fmt.Errorf("create anthropic client: %w", err)
		}
		gen = client
	case "ollama":
		client, err := llm.NewOllamaClient(cfg.Ollama)
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
		gen = client
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if cfg.Guarded {
		gen = llm.NewGuardedGenerator(gen, cfg.Guard, logger)
	}
	return gen, nil
}

// openStore returns nil when memoization is off.
func openStore(ctx context.Context, cfg MemoConfig, logger *slog.Logger) (memo.Store, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "badger":
		bcfg := cfg.Badger
		bcfg.Path = expandHome(bcfg.Path)
		bcfg.Logger = logger
		store, err := memo.OpenBadger(bcfg)
		if err != nil {
			return nil, fmt.Errorf("open memo store: %w", err)
		}
		return store, nil
	case "redis":
		store, err := memo.OpenRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("open memo store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown memo backend %q", cfg.Backend)
	}
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// splitActions parses a comma separated action list.
func splitActions(s string) ([]string, error) {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if strings.TrimSpace(a) == "" {
			continue
		}
		name, err := validation.SanitizeAction(a)
		if err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return slices.Clip(out), nil
}
