// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package fuzz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/meridiandb/forge/lib/runlog"
)

// Config configures one fuzz run.
type Config struct {
	// Factory creates the clients under test. Required.
	Factory ClientFactory

	// Compare enables the oracle-compared phase: Iterations
	// sequential iterations, each replaying its sequence against the
	// in-memory oracle and recording result divergences. The
	// concurrent phase runs regardless.
	Compare bool

	// Iterations is the number of randomized iterations per phase.
	// Default 10.
	Iterations int

	// NumOps is the sequence length per session. Default 500.
	NumOps int

	// Concurrency is the session count per iteration in the
	// concurrent phase. Default 4.
	Concurrency int

	// SessionTimeout bounds one session in the concurrent phase. A
	// timed out session is recorded as a timeout failure; its
	// siblings run on to their own deadlines. Default 30s.
	SessionTimeout time.Duration

	// Seed is the base seed. Iteration i derives its sequences from
	// Seed+i, so a whole run replays from one number.
	Seed uint64

	// Sink, when non-nil, receives one record per check, iteration,
	// and session.
	Sink *runlog.Sink

	Logger *slog.Logger
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.Iterations == 0 {
		cfg.Iterations = 10
	}
	if cfg.NumOps == 0 {
		cfg.NumOps = 500
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 4
	}
	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// Phase names stamped on run records.
const (
	phaseScripted   = "scripted"
	phaseCompared   = "compared"
	phaseConcurrent = "concurrent"
)

// Divergence is one recorded disagreement between the client under
// test and the oracle. Seed and OpIndex pinpoint the failing
// operation for replay.
type Divergence struct {
	Iteration int
	Seed      uint64
	OpIndex   int
	Op        Op
	Diff      string
}

// SessionError is one recorded failure of a concurrent session.
type SessionError struct {
	Iteration int
	Session   int
	Seed      uint64
	TimedOut  bool
	Err       error
}

// Summary is the terminal state of a run.
type Summary struct {
	RunID string

	// ComparedIterations and ConcurrentIterations count the
	// iterations each phase completed.
	ComparedIterations   int
	ConcurrentIterations int

	Divergences []Divergence
	Errors      []SessionError
	Elapsed     time.Duration
}

// Passed reports whether the run recorded no failures of any kind.
func (s *Summary) Passed() bool {
	return len(s.Divergences) == 0 && len(s.Errors) == 0
}

// Run executes one fuzz run: the scripted gate check, then (when
// Compare is set) the oracle-compared iterations, then the concurrent
// iterations. A scripted failure is returned as an error and no
// randomized iterations run. Randomized failures are recorded in the
// summary and never abort the remaining iterations.
func Run(ctx context.Context, config Config) (*Summary, error) {
	if config.Factory == nil {
		return nil, fmt.Errorf("fuzz run requires a client factory")
	}
	cfg := config.withDefaults()

	summary := &Summary{RunID: uuid.NewString()}
	start := time.Now()
	defer func() { summary.Elapsed = time.Since(start) }()

	logger := cfg.Logger.With("run_id", summary.RunID, "seed", cfg.Seed)

	if err := scriptedGate(ctx, cfg, summary, logger); err != nil {
		return summary, err
	}

	if cfg.Compare {
		for iteration := range cfg.Iterations {
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			// Compared and concurrent phases reuse iteration seeds:
			// phases differ in execution, not in sequence identity.
			if err := cfg.comparedIteration(ctx, summary, iteration, cfg.Seed+uint64(iteration)); err != nil {
				return summary, err
			}
			summary.ComparedIterations++
		}
	}

	for iteration := range cfg.Iterations {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if err := cfg.concurrentIteration(ctx, summary, iteration, cfg.Seed+uint64(iteration)); err != nil {
			return summary, err
		}
		summary.ConcurrentIterations++
	}

	logger.Info("fuzz run finished",
		"compared_iterations", summary.ComparedIterations,
		"concurrent_iterations", summary.ConcurrentIterations,
		"divergences", len(summary.Divergences),
		"errors", len(summary.Errors),
		"passed", summary.Passed())
	return summary, nil
}

// scriptedGate runs the fixed check on a fresh client.
func scriptedGate(ctx context.Context, cfg Config, summary *Summary, logger *slog.Logger) error {
	client, err := cfg.Factory(ctx)
	if err != nil {
		return fmt.Errorf("creating scripted check client: %w", err)
	}
	defer client.Close()

	start := time.Now()
	checkErr := runScripted(ctx, client)

	record := runlog.Record{
		RunID:     summary.RunID,
		Kind:      runlog.KindScriptedCheck,
		Mode:      phaseScripted,
		Outcome:   runlog.OutcomePass,
		ElapsedMS: time.Since(start).Milliseconds(),
	}
	if checkErr != nil {
		record.Outcome = runlog.OutcomeFail
		record.Detail = checkErr.Error()
		logger.Error("scripted check failed", "error", checkErr)
	}
	cfg.append(record)
	return checkErr
}

// comparedIteration replays one generated sequence against the client
// under test and the oracle, recording every result divergence. The
// sequence continues past a divergence: later operations often reveal
// whether the state itself diverged or only one result did.
func (cfg *Config) comparedIteration(ctx context.Context, summary *Summary, iteration int, seed uint64) error {
	client, err := cfg.Factory(ctx)
	if err != nil {
		return fmt.Errorf("iteration %d: creating client: %w", iteration, err)
	}
	defer client.Close()

	oracle := NewOracle()
	ops := NewGenerator(seed, 0).Ops(cfg.NumOps)

	start := time.Now()
	before := len(summary.Divergences)
	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			return err
		}
		got, err := client.Apply(ctx, op)
		if err != nil {
			summary.Errors = append(summary.Errors, SessionError{
				Iteration: iteration, Seed: seed,
				Err: fmt.Errorf("op %d (%s): %w", i, op.Kind, err),
			})
			break
		}
		want, _ := oracle.Apply(ctx, op)
		if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
			summary.Divergences = append(summary.Divergences, Divergence{
				Iteration: iteration, Seed: seed, OpIndex: i, Op: op, Diff: diff,
			})
		}
	}

	record := runlog.Record{
		RunID:      summary.RunID,
		Kind:       runlog.KindFuzzIteration,
		Mode:       phaseCompared,
		Iteration:  iteration,
		Seed:       seed,
		Operations: cfg.NumOps,
		Outcome:    runlog.OutcomePass,
		ElapsedMS:  time.Since(start).Milliseconds(),
	}
	if diverged := len(summary.Divergences) - before; diverged > 0 {
		record.Outcome = runlog.OutcomeFail
		record.Detail = fmt.Sprintf("%d divergences, first at op %d",
			diverged, summary.Divergences[before].OpIndex)
		cfg.Logger.Error("iteration diverged from oracle",
			"iteration", iteration, "seed", seed, "divergences", diverged)
	}
	cfg.append(record)
	return nil
}

// concurrentIteration runs Concurrency sessions in parallel, each on
// its own client with a disjoint key prefix and its own timeout.
// Sessions are independent: one session's failure or timeout never
// stops its siblings, so the group carries no shared cancellation.
// Every session is bounded by its own deadline, which also bounds the
// iteration as a whole.
func (cfg *Config) concurrentIteration(ctx context.Context, summary *Summary, iteration int, seed uint64) error {
	type sessionOutcome struct {
		timedOut bool
		err      error
		elapsed  time.Duration
	}
	outcomes := make([]sessionOutcome, cfg.Concurrency)

	var group errgroup.Group
	for session := range cfg.Concurrency {
		group.Go(func() error {
			start := time.Now()
			err := cfg.runSession(ctx, seed, session)
			outcomes[session] = sessionOutcome{
				timedOut: errors.Is(err, context.DeadlineExceeded),
				err:      err,
				elapsed:  time.Since(start),
			}
			return nil
		})
	}
	group.Wait()

	for session, outcome := range outcomes {
		record := runlog.Record{
			RunID:       summary.RunID,
			Kind:        runlog.KindFuzzSession,
			Mode:        phaseConcurrent,
			Iteration:   iteration,
			Session:     session,
			Seed:        seed,
			Operations:  cfg.NumOps,
			Concurrency: cfg.Concurrency,
			Outcome:     runlog.OutcomePass,
			ElapsedMS:   outcome.elapsed.Milliseconds(),
		}
		// A session cut short because the run itself was canceled is
		// not a client failure; the run's own error carries the cause.
		runCanceled := outcome.err != nil &&
			errors.Is(outcome.err, context.Canceled) && ctx.Err() != nil

		switch {
		case runCanceled:
			record.Detail = "run canceled"
		case outcome.timedOut:
			record.Outcome = runlog.OutcomeTimeout
			record.Detail = outcome.err.Error()
		case outcome.err != nil:
			record.Outcome = runlog.OutcomeFail
			record.Detail = outcome.err.Error()
		}
		if outcome.err != nil && !runCanceled {
			summary.Errors = append(summary.Errors, SessionError{
				Iteration: iteration, Session: session, Seed: seed,
				TimedOut: outcome.timedOut, Err: outcome.err,
			})
		}
		cfg.append(record)
	}

	// The run itself only stops if the outer context is done; session
	// failures were recorded above.
	return ctx.Err()
}

// runSession executes one session's sequence on a fresh client.
func (cfg *Config) runSession(ctx context.Context, seed uint64, session int) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.SessionTimeout)
	defer cancel()

	client, err := cfg.Factory(ctx)
	if err != nil {
		return fmt.Errorf("creating session client: %w", err)
	}
	defer client.Close()

	for i, op := range NewGenerator(seed, session).Ops(cfg.NumOps) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := client.Apply(ctx, op); err != nil {
			return fmt.Errorf("op %d (%s): %w", i, op.Kind, err)
		}
	}
	return nil
}

func (cfg *Config) append(record runlog.Record) {
	if cfg.Sink == nil {
		return
	}
	if err := cfg.Sink.Append(record); err != nil {
		cfg.Logger.Warn("appending fuzz record", "error", err)
	}
}
