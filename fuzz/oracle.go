// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package fuzz

import (
	"bytes"
	"context"
	"sort"
)

// Oracle is the deterministic in-memory reference implementation.
// Given the same operation sequence it always produces the same
// results, so any disagreement with the client under test is a real
// divergence, not oracle noise.
//
// The oracle is single-session: as the reference it is only consulted
// in the compared phase, where iterations run sequentially.
type Oracle struct {
	data map[string][]byte
}

// NewOracle returns an empty oracle.
func NewOracle() *Oracle {
	return &Oracle{data: make(map[string][]byte)}
}

func init() {
	// The oracle doubles as a self-check client: running it against
	// itself exercises the whole orchestrator with zero divergences.
	Register("oracle", func(context.Context) (Client, error) {
		return NewOracle(), nil
	})
}

// Apply implements Client.
func (o *Oracle) Apply(_ context.Context, op Op) (Result, error) {
	switch op.Kind {
	case OpSet:
		o.data[string(op.Key)] = bytes.Clone(op.Value)
		return Result{}, nil

	case OpClear:
		delete(o.data, string(op.Key))
		return Result{}, nil

	case OpClearRange:
		for key := range o.data {
			if inRange([]byte(key), op.Begin, op.End) {
				delete(o.data, key)
			}
		}
		return Result{}, nil

	case OpGet:
		value, found := o.data[string(op.Key)]
		return Result{Value: bytes.Clone(value), Found: found}, nil

	case OpGetRange:
		var keys []string
		for key := range o.data {
			if inRange([]byte(key), op.Begin, op.End) {
				keys = append(keys, key)
			}
		}
		sort.Strings(keys)
		if op.Limit > 0 && len(keys) > op.Limit {
			keys = keys[:op.Limit]
		}
		result := Result{Pairs: []KV{}}
		for _, key := range keys {
			result.Pairs = append(result.Pairs, KV{
				Key:   []byte(key),
				Value: bytes.Clone(o.data[key]),
			})
		}
		return result, nil

	default:
		return Result{}, &UnknownOpError{Kind: op.Kind}
	}
}

// Close implements Client.
func (o *Oracle) Close() error { return nil }

// inRange reports begin <= key < end.
func inRange(key, begin, end []byte) bool {
	return bytes.Compare(key, begin) >= 0 && bytes.Compare(key, end) < 0
}
