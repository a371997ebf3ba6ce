// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package fuzz

import (
	"context"
	"fmt"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// scriptedStep is one operation of the fixed gate check with its
// expected result.
type scriptedStep struct {
	op   Op
	want Result
}

// scriptedSteps is the fixed sequence every run starts with. It
// exercises each operation kind against known state: overwrite,
// missing-key read, range read ordering, range clear boundaries.
// The sequence never changes between runs: it is a smoke test of
// basic correctness, not a fuzz case.
func scriptedSteps() []scriptedStep {
	key := func(s string) []byte { return []byte("scripted/" + s) }
	return []scriptedStep{
		{op: Op{Kind: OpSet, Key: key("a"), Value: []byte("1")}},
		{op: Op{Kind: OpSet, Key: key("b"), Value: []byte("2")}},
		{op: Op{Kind: OpSet, Key: key("c"), Value: []byte("3")}},
		{op: Op{Kind: OpGet, Key: key("b")}, want: Result{Value: []byte("2"), Found: true}},

		// Overwrite wins.
		{op: Op{Kind: OpSet, Key: key("b"), Value: []byte("22")}},
		{op: Op{Kind: OpGet, Key: key("b")}, want: Result{Value: []byte("22"), Found: true}},

		// Missing key is found=false, not an error.
		{op: Op{Kind: OpGet, Key: key("nope")}, want: Result{}},

		// Range reads are key-ordered and end-exclusive.
		{op: Op{Kind: OpGetRange, Begin: key("a"), End: key("c"), Limit: 10}, want: Result{Pairs: []KV{
			{Key: key("a"), Value: []byte("1")},
			{Key: key("b"), Value: []byte("22")},
		}}},

		// Snapshot reads agree with plain reads in a single session.
		{op: Op{Kind: OpGet, Key: key("b"), Snapshot: true}, want: Result{Value: []byte("22"), Found: true}},

		// Clear removes exactly its key.
		{op: Op{Kind: OpClear, Key: key("b")}},
		{op: Op{Kind: OpGet, Key: key("b")}, want: Result{}},
		{op: Op{Kind: OpGet, Key: key("a")}, want: Result{Value: []byte("1"), Found: true}},

		// Range clear removes [begin, end).
		{op: Op{Kind: OpClearRange, Begin: key("a"), End: key("c")}},
		{op: Op{Kind: OpGet, Key: key("a")}, want: Result{}},
		{op: Op{Kind: OpGet, Key: key("c")}, want: Result{Value: []byte("3"), Found: true}},
	}
}

// CheckScripted runs only the fixed gate check on a fresh client.
// forge-fuzz uses it for scripted-only runs; a full Run performs the
// same check before its randomized iterations.
func CheckScripted(ctx context.Context, factory ClientFactory) error {
	client, err := factory(ctx)
	if err != nil {
		return fmt.Errorf("creating scripted check client: %w", err)
	}
	defer client.Close()
	return runScripted(ctx, client)
}

// runScripted executes the fixed gate check against client. Any
// disagreement returns a *ScriptedCheckError; the caller treats it as
// fatal for the whole run.
func runScripted(ctx context.Context, client Client) error {
	for i, step := range scriptedSteps() {
		got, err := client.Apply(ctx, step.op)
		if err != nil {
			return &ScriptedCheckError{
				Step:   i,
				Op:     step.op,
				Detail: fmt.Sprintf("client error: %v", err),
			}
		}
		// Nil and empty slices compare equal: clients differ in how
		// they represent an empty value or range.
		if diff := cmp.Diff(step.want, got, cmpopts.EquateEmpty()); diff != "" {
			return &ScriptedCheckError{Step: i, Op: step.op, Detail: diff}
		}
	}
	return nil
}
