// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package fuzz

import (
	"fmt"
	"math/rand/v2"
)

// Generator produces a deterministic operation sequence from a seed.
// The same (seed, session) pair always yields the same sequence, so a
// recorded failure replays exactly from its run record.
//
// Each sequence writes under a prefix derived from its seed and
// session. Concurrent sessions touch disjoint keyspaces and cannot
// conflict through the database, and successive iterations never see
// each other's leftover state even against a persistent store.
type Generator struct {
	rng    *rand.Rand
	prefix string
}

// NewGenerator creates a generator for one session. Session 0 is the
// convention for sequential (compared) iterations.
func NewGenerator(seed uint64, session int) *Generator {
	return &Generator{
		rng:    rand.New(rand.NewPCG(seed, uint64(session))),
		prefix: fmt.Sprintf("fz/%d/%d/", seed, session),
	}
}

// Ops generates a sequence of count operations. Mutations outnumber
// reads so the keyspace keeps evolving over a sequence.
func (g *Generator) Ops(count int) []Op {
	ops := make([]Op, 0, count)
	for range count {
		ops = append(ops, g.next())
	}
	return ops
}

func (g *Generator) next() Op {
	switch g.rng.IntN(10) {
	case 0, 1, 2, 3: // 40% set
		return Op{Kind: OpSet, Key: g.key(), Value: g.value()}
	case 4: // 10% clear
		return Op{Kind: OpClear, Key: g.key()}
	case 5: // 10% clear range
		begin, end := g.keyRange()
		return Op{Kind: OpClearRange, Begin: begin, End: end}
	case 6, 7: // 20% get
		return Op{Kind: OpGet, Key: g.key(), Snapshot: g.rng.IntN(4) == 0}
	default: // 20% get range
		begin, end := g.keyRange()
		return Op{Kind: OpGetRange, Begin: begin, End: end, Limit: 1 + g.rng.IntN(64), Snapshot: g.rng.IntN(4) == 0}
	}
}

// key draws from a small keyspace so sequences revisit keys often:
// overwrites, clears of live keys, and reads of cleared keys are the
// interesting cases.
func (g *Generator) key() []byte {
	return []byte(fmt.Sprintf("%skey%03d", g.prefix, g.rng.IntN(200)))
}

func (g *Generator) value() []byte {
	value := make([]byte, 1+g.rng.IntN(100))
	for i := range value {
		value[i] = byte('a' + g.rng.IntN(26))
	}
	return value
}

func (g *Generator) keyRange() (begin, end []byte) {
	a, b := g.rng.IntN(200), g.rng.IntN(200)
	if a > b {
		a, b = b, a
	}
	begin = []byte(fmt.Sprintf("%skey%03d", g.prefix, a))
	end = []byte(fmt.Sprintf("%skey%03d", g.prefix, b+1))
	return begin, end
}
