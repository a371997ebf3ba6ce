// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

// Package fuzz orchestrates differential testing of a database client
// against a built runtime image. A fixed scripted check gates every
// run; randomized iterations then replay generated operation
// sequences against the client under test: first compared
// operation-by-operation against an in-memory oracle (when enabled),
// then as concurrent sessions without one. Every failure record
// carries the seed and operation count needed to replay it.
package fuzz

import "fmt"

// OpKind enumerates the operations a generated sequence may contain.
type OpKind int

const (
	OpSet OpKind = iota
	OpClear
	OpClearRange
	OpGet
	OpGetRange
)

// String returns the operation name used in records and diffs.
func (k OpKind) String() string {
	switch k {
	case OpSet:
		return "set"
	case OpClear:
		return "clear"
	case OpClearRange:
		return "clear-range"
	case OpGet:
		return "get"
	case OpGetRange:
		return "get-range"
	default:
		return fmt.Sprintf("op(%d)", int(k))
	}
}

// Op is one operation in a sequence. Key/Value apply to point
// operations; Begin/End/Limit to range operations. End is exclusive.
type Op struct {
	Kind  OpKind
	Key   []byte
	Value []byte
	Begin []byte
	End   []byte
	Limit int

	// Snapshot marks a read as a snapshot read: same result contract,
	// no conflict range on the client side. The oracle is
	// single-session, so both read forms return identical results —
	// which is exactly what the comparison asserts.
	Snapshot bool
}

// KV is one key-value pair in a range read result.
type KV struct {
	Key   []byte
	Value []byte
}

// Result is the outcome of one operation. Mutations produce the zero
// Result; Get fills Value/Found; GetRange fills Pairs in key order.
type Result struct {
	Value []byte
	Found bool
	Pairs []KV
}
