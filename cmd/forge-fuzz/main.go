// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

// forge-fuzz drives differential testing of a MeridianDB client. A
// fixed scripted check gates every run; randomized iterations then
// execute seeded operation sequences, either compared against the
// in-memory oracle or as concurrent sessions without one. All
// failures are recorded with their seeds for replay.
//
// Exits non-zero if the scripted check fails or any divergence,
// client error, or timeout was recorded.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/meridiandb/forge/fuzz"
	"github.com/meridiandb/forge/lib/config"
	"github.com/meridiandb/forge/lib/runlog"
	"github.com/meridiandb/forge/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		showVersion    bool
		configPath     string
		clientName     string
		mode           string
		compare        bool
		iterations     int
		numOps         int
		concurrency    int
		sessionTimeout time.Duration
		seed           uint64
		recordPath     string
		logJSON        bool
	)
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.StringVar(&configPath, "config", "", "path to forge.yaml (default: $FORGE_CONFIG)")
	pflag.StringVar(&clientName, "client", "oracle", "registered client under test")
	pflag.StringVar(&mode, "mode", "api", "run mode: scripted (gate check only) or api (full run)")
	pflag.BoolVar(&compare, "compare", true, "include the oracle-compared phase")
	pflag.IntVar(&iterations, "iterations", 0, "randomized iterations (overrides config)")
	pflag.IntVar(&numOps, "num-ops", 0, "operations per session (overrides config)")
	pflag.IntVar(&concurrency, "concurrency", 0, "sessions per iteration in concurrent mode (overrides config)")
	pflag.DurationVar(&sessionTimeout, "session-timeout", 0, "per-session timeout in concurrent mode (overrides config)")
	pflag.Uint64Var(&seed, "seed", 0, "base seed (default: current time)")
	pflag.StringVar(&recordPath, "records", "", "run record file (overrides config; empty disables)")
	pflag.BoolVar(&logJSON, "log-json", false, "emit logs as JSON")
	pflag.Parse()

	if showVersion {
		fmt.Printf("forge-fuzz %s\n", version.Info())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(logJSON)

	factory, err := fuzz.Factory(clientName)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if mode == "scripted" {
		if err := fuzz.CheckScripted(ctx, factory); err != nil {
			return err
		}
		fmt.Println("scripted check passed")
		return nil
	}
	if mode != "api" {
		return fmt.Errorf("unknown mode %q (want scripted or api)", mode)
	}

	fuzzConfig, err := buildFuzzConfig(cfg, factory, logger, compare,
		iterations, numOps, concurrency, sessionTimeout, seed)
	if err != nil {
		return err
	}

	if recordPath == "" {
		recordPath = cfg.Paths.RunLog
	}
	if recordPath != "" {
		sink, file, err := runlog.OpenFile(recordPath)
		if err != nil {
			return err
		}
		defer file.Close()
		fuzzConfig.Sink = sink
	}

	summary, err := fuzz.Run(ctx, fuzzConfig)
	if err != nil {
		var scripted *fuzz.ScriptedCheckError
		if errors.As(err, &scripted) {
			return fmt.Errorf("scripted check failed, no iterations run: %w", err)
		}
		return err
	}

	printSummary(summary)
	if !summary.Passed() {
		return fmt.Errorf("%d divergences, %d session errors",
			len(summary.Divergences), len(summary.Errors))
	}
	return nil
}

func buildFuzzConfig(cfg *config.Config, factory fuzz.ClientFactory, logger *slog.Logger,
	compare bool, iterations, numOps, concurrency int, sessionTimeout time.Duration,
	seed uint64) (fuzz.Config, error) {

	timeout, err := cfg.Fuzz.SessionTimeoutDuration()
	if err != nil {
		return fuzz.Config{}, err
	}
	if sessionTimeout > 0 {
		timeout = sessionTimeout
	}
	if iterations == 0 {
		iterations = cfg.Fuzz.Iterations
	}
	if numOps == 0 {
		numOps = cfg.Fuzz.NumOps
	}
	if concurrency == 0 {
		concurrency = cfg.Fuzz.Concurrency
	}
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	return fuzz.Config{
		Factory:        factory,
		Compare:        compare,
		Iterations:     iterations,
		NumOps:         numOps,
		Concurrency:    concurrency,
		SessionTimeout: timeout,
		Seed:           seed,
		Logger:         logger,
	}, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if os.Getenv("FORGE_CONFIG") != "" {
		return config.Load()
	}
	return config.Default(), nil
}

func newLogger(logJSON bool) *slog.Logger {
	options := &slog.HandlerOptions{Level: slog.LevelInfo}
	if logJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, options))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, options))
}

func printSummary(summary *fuzz.Summary) {
	fmt.Printf("run %s: %d compared + %d concurrent iterations in %s\n",
		summary.RunID, summary.ComparedIterations, summary.ConcurrentIterations,
		summary.Elapsed.Round(time.Millisecond))

	for _, divergence := range summary.Divergences {
		fmt.Printf("divergence: iteration %d seed %d op %d (%s)\n%s\n",
			divergence.Iteration, divergence.Seed, divergence.OpIndex,
			divergence.Op.Kind, divergence.Diff)
	}
	for _, sessionErr := range summary.Errors {
		kind := "error"
		if sessionErr.TimedOut {
			kind = "timeout"
		}
		fmt.Printf("session %s: iteration %d session %d seed %d: %v\n",
			kind, sessionErr.Iteration, sessionErr.Session, sessionErr.Seed, sessionErr.Err)
	}
	if summary.Passed() {
		fmt.Println("passed")
	}
}
