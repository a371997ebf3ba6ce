// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package fuzz

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/meridiandb/forge/lib/runlog"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// oracleFactory returns a fresh in-memory client per session. A run
// against it must pass: the oracle cannot diverge from itself.
func oracleFactory(_ context.Context) (Client, error) {
	return NewOracle(), nil
}

// lyingClient delegates to an oracle but misreports the Nth get,
// simulating a client library returning stale or corrupt data.
type lyingClient struct {
	inner   Client
	lieOn   int
	getSeen int
}

func (c *lyingClient) Apply(ctx context.Context, op Op) (Result, error) {
	result, err := c.inner.Apply(ctx, op)
	if err != nil || op.Kind != OpGet {
		return result, err
	}
	c.getSeen++
	if c.getSeen == c.lieOn {
		return Result{Value: []byte("bogus"), Found: true}, nil
	}
	return result, nil
}

func (c *lyingClient) Close() error { return c.inner.Close() }

// failingClient errors on the first operation.
type failingClient struct{}

func (failingClient) Apply(context.Context, Op) (Result, error) {
	return Result{}, errors.New("connection reset")
}

func (failingClient) Close() error { return nil }

// blockingClient never completes an operation.
type blockingClient struct{}

func (blockingClient) Apply(ctx context.Context, _ Op) (Result, error) {
	<-ctx.Done()
	return Result{}, ctx.Err()
}

func (blockingClient) Close() error { return nil }

func TestRunCleanClientPasses(t *testing.T) {
	t.Parallel()

	summary, err := Run(context.Background(), Config{
		Factory:     oracleFactory,
		Compare:     true,
		Iterations:  3,
		NumOps:      200,
		Concurrency: 2,
		Seed:        11,
		Logger:      discardLogger(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !summary.Passed() {
		t.Errorf("clean run did not pass: divergences=%d errors=%d",
			len(summary.Divergences), len(summary.Errors))
	}
	if summary.ComparedIterations != 3 || summary.ConcurrentIterations != 3 {
		t.Errorf("iterations = %d compared, %d concurrent, want 3 of each",
			summary.ComparedIterations, summary.ConcurrentIterations)
	}
}

func TestRunScriptedFailureIsFatal(t *testing.T) {
	t.Parallel()

	var created atomic.Int32
	factory := func(ctx context.Context) (Client, error) {
		created.Add(1)
		// Lie on the very first get so the gate check fails.
		return &lyingClient{inner: NewOracle(), lieOn: 1}, nil
	}

	var records strings.Builder
	summary, err := Run(context.Background(), Config{
		Factory:    factory,
		Compare:    true,
		Iterations: 5,
		Seed:       11,
		Sink:       runlog.NewSink(&records),
		Logger:     discardLogger(),
	})

	var scripted *ScriptedCheckError
	if !errors.As(err, &scripted) {
		t.Fatalf("Run error = %v, want a scripted check failure", err)
	}
	if summary.ComparedIterations != 0 || summary.ConcurrentIterations != 0 {
		t.Errorf("iterations ran after a fatal scripted failure: %d compared, %d concurrent",
			summary.ComparedIterations, summary.ConcurrentIterations)
	}
	if created.Load() != 1 {
		t.Errorf("%d clients created, want only the scripted check client", created.Load())
	}
	if !strings.Contains(records.String(), `"outcome":"fail"`) {
		t.Errorf("scripted failure not recorded:\n%s", records.String())
	}
}

// A divergence in one iteration is recorded with that iteration's
// seed and does not stop the remaining iterations.
func TestRunComparedRecordsDivergenceAndContinues(t *testing.T) {
	t.Parallel()

	// Client 1 serves the scripted check; client 2+i serves compared
	// iteration i. Only iteration 2's client lies. The concurrent
	// phase afterwards gets honest clients.
	var created atomic.Int32
	factory := func(ctx context.Context) (Client, error) {
		n := created.Add(1)
		if n == 4 {
			return &lyingClient{inner: NewOracle(), lieOn: 10}, nil
		}
		return NewOracle(), nil
	}

	summary, err := Run(context.Background(), Config{
		Factory:     factory,
		Compare:     true,
		Iterations:  5,
		NumOps:      300,
		Concurrency: 2,
		Seed:        21,
		Logger:      discardLogger(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.ComparedIterations != 5 || summary.ConcurrentIterations != 5 {
		t.Errorf("iterations = %d compared, %d concurrent, want 5 of each despite the divergence",
			summary.ComparedIterations, summary.ConcurrentIterations)
	}
	if summary.Passed() {
		t.Fatal("run passed despite a lying client")
	}
	if len(summary.Divergences) == 0 {
		t.Fatal("no divergence recorded")
	}
	for _, divergence := range summary.Divergences {
		if divergence.Iteration != 2 {
			t.Errorf("divergence attributed to iteration %d, want 2", divergence.Iteration)
		}
		if divergence.Seed != 21+2 {
			t.Errorf("divergence seed = %d, want %d", divergence.Seed, 21+2)
		}
	}
}

func TestRunConcurrentSessionFailureIsIsolated(t *testing.T) {
	t.Parallel()

	// Client 1 serves the scripted check; clients 2-6 are iteration
	// 0's sessions, 7-11 iteration 1's. Client 3 fails immediately.
	var created atomic.Int32
	factory := func(ctx context.Context) (Client, error) {
		if created.Add(1) == 3 {
			return failingClient{}, nil
		}
		return NewOracle(), nil
	}

	// The sink serializes appends, so a plain builder is safe here.
	var records strings.Builder
	sink := runlog.NewSink(&records)

	summary, err := Run(context.Background(), Config{
		Factory:        factory,
		Iterations:     2,
		NumOps:         100,
		Concurrency:    5,
		SessionTimeout: time.Minute,
		Seed:           31,
		Sink:           sink,
		Logger:         discardLogger(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.ConcurrentIterations != 2 {
		t.Errorf("concurrent iterations = %d, want 2", summary.ConcurrentIterations)
	}
	if len(summary.Errors) != 1 {
		t.Fatalf("errors = %+v, want exactly the one failing session", summary.Errors)
	}
	if summary.Errors[0].Iteration != 0 {
		t.Errorf("failure attributed to iteration %d, want 0", summary.Errors[0].Iteration)
	}
	if summary.Errors[0].TimedOut {
		t.Error("connection failure misreported as a timeout")
	}

	lines := strings.Split(strings.TrimSpace(records.String()), "\n")
	// One scripted check plus 2 iterations x 5 sessions.
	if len(lines) != 11 {
		t.Errorf("got %d run records, want 11", len(lines))
	}
	// The nine sibling sessions complete and pass independently.
	if fails := strings.Count(records.String(), `"outcome":"fail"`); fails != 1 {
		t.Errorf("got %d failed records, want only the failing session", fails)
	}
}

func TestRunConcurrentSessionTimeout(t *testing.T) {
	t.Parallel()

	var created atomic.Int32
	factory := func(ctx context.Context) (Client, error) {
		if created.Add(1) == 1 {
			return NewOracle(), nil // scripted check
		}
		return blockingClient{}, nil
	}

	summary, err := Run(context.Background(), Config{
		Factory:        factory,
		Iterations:     1,
		NumOps:         10,
		Concurrency:    2,
		SessionTimeout: 20 * time.Millisecond,
		Seed:           41,
		Logger:         discardLogger(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Passed() {
		t.Fatal("run passed despite hung sessions")
	}
	var timeouts int
	for _, sessionErr := range summary.Errors {
		if sessionErr.TimedOut {
			timeouts++
		}
	}
	if timeouts == 0 {
		t.Errorf("no timeout recorded: %+v", summary.Errors)
	}
}

func TestRunRequiresFactory(t *testing.T) {
	t.Parallel()
	if _, err := Run(context.Background(), Config{}); err == nil {
		t.Fatal("Run accepted a config without a client factory")
	}
}
