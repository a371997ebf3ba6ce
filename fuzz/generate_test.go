// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package fuzz

import (
	"bytes"
	"reflect"
	"testing"
)

func TestGeneratorDeterministic(t *testing.T) {
	t.Parallel()

	first := NewGenerator(42, 0).Ops(300)
	second := NewGenerator(42, 0).Ops(300)
	if !reflect.DeepEqual(first, second) {
		t.Fatal("same seed and session produced different sequences")
	}

	other := NewGenerator(43, 0).Ops(300)
	if reflect.DeepEqual(first, other) {
		t.Fatal("different seeds produced identical sequences")
	}
}

func TestGeneratorKeyspacesAreDisjoint(t *testing.T) {
	t.Parallel()

	keysOf := func(seed uint64, session int) map[string]bool {
		keys := make(map[string]bool)
		for _, op := range NewGenerator(seed, session).Ops(500) {
			for _, key := range [][]byte{op.Key, op.Begin, op.End} {
				if len(key) > 0 {
					keys[string(key)] = true
				}
			}
		}
		return keys
	}

	zero := keysOf(7, 0)
	for key := range zero {
		if !bytes.HasPrefix([]byte(key), []byte("fz/7/0/")) {
			t.Fatalf("key %q lacks the seed/session prefix", key)
		}
	}
	// Sibling sessions within one iteration.
	for key := range keysOf(7, 1) {
		if zero[key] {
			t.Fatalf("key %q appears in two session keyspaces", key)
		}
	}
	// Successive iterations derive successive seeds.
	for key := range keysOf(8, 0) {
		if zero[key] {
			t.Fatalf("key %q appears in two iteration keyspaces", key)
		}
	}
}

func TestGeneratorCoversAllOperationKinds(t *testing.T) {
	t.Parallel()

	seen := make(map[OpKind]int)
	for _, op := range NewGenerator(1, 0).Ops(1000) {
		seen[op.Kind]++
	}
	for _, kind := range []OpKind{OpSet, OpClear, OpClearRange, OpGet, OpGetRange} {
		if seen[kind] == 0 {
			t.Errorf("1000 generated operations contain no %s", kind)
		}
	}
}

func TestGeneratorRangesAreOrdered(t *testing.T) {
	t.Parallel()

	for _, op := range NewGenerator(9, 0).Ops(1000) {
		if op.Kind != OpClearRange && op.Kind != OpGetRange {
			continue
		}
		if bytes.Compare(op.Begin, op.End) >= 0 {
			t.Fatalf("generated range with begin %q >= end %q", op.Begin, op.End)
		}
	}
}
