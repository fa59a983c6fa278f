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
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/lats/pkg/logging"
)

// cli holds state shared by every command of one invocation.
type cli struct {
	configPath string
	envFile    string
	logLevel   string
	jsonOut    bool

	cfg       AppConfig
	logger    *logging.Logger
	shutdowns []shutdownFunc

	stdout io.Writer
	stderr io.Writer
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	c := &cli{stdout: stdout, stderr: stderr}
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	c.close()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if errors.Is(err, context.Canceled) {
			return 130
		}
		return 1
	}
	return 0
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lats",
		Short: "Plan text clean-up with a language agent tree search",
		Long: `lats searches over sequences of text clean-up actions (strip HTML,
dedupe lines, truncate, summarize, ...) and reports the best plan found.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", "", "YAML config file")
	flags.StringVar(&c.envFile, "env-file", ".env", "dotenv file loaded before LATS_* variables")
	flags.StringVar(&c.logLevel, "log-level", "", "override the log level (debug, info, warn, error)")
	flags.BoolVar(&c.jsonOut, "json", false, "print machine-readable JSON")

	root.AddCommand(
		c.runCmd(),
		c.applyCmd(),
		c.policyCmd(),
		c.configCmd(),
	)
	return root
}

// setup loads configuration and starts logging and telemetry.
func (c *cli) setup(ctx context.Context) error {
	cfg, err := LoadConfig(c.configPath, c.envFile)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	cfg.Logging.Output = c.stderr
	c.cfg = cfg

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	c.logger = logger
	slog.SetDefault(logger.Slog())

	if cfg.Observability.Tracing {
		shutdown, err := setupTracing(ctx, c.stderr)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		c.shutdowns = append(c.shutdowns, shutdown)
	}
	if cfg.Observability.MetricsAddr != "" {
		shutdown, err := serveMetrics(cfg.Observability.MetricsAddr, logger.Slog())
		if err != nil {
			return fmt.Errorf("init metrics: %w", err)
		}
		c.shutdowns = append(c.shutdowns, shutdown)
	}
	return nil
}

// close flushes telemetry and the log file, newest component first.
func (c *cli) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(c.shutdowns) - 1; i >= 0; i-- {
		if err := c.shutdowns[i](ctx); err != nil {
			c.log().Warn("Telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}
	c.shutdowns = nil
	if c.logger != nil {
		_ = c.logger.Close()
	}
}

func (c *cli) log() *slog.Logger {
	if c.logger == nil {
		return slog.Default()
	}
	return c.logger.Slog()
}

// readInput reads the file named by args[0], or stdin when no file (or
// "-") is given.
func readInput(cmd *cobra.Command, args []string) (string, error) {
	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	text := string(data)
	if strings.TrimSpace(text) == "" {
		return "", errors.New("no input text")
	}
	return text, nil
}
