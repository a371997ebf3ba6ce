// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

// Package runlog is the append-only sink for per-unit-of-work
// records: one line per completed image build or fuzz iteration.
// Records are JSON lines so CI can grep and aggregate them without
// custom tooling; they are never mutated after being appended.
package runlog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Outcome is the terminal state of one unit of work.
type Outcome string

const (
	OutcomePass    Outcome = "pass"
	OutcomeFail    Outcome = "fail"
	OutcomeTimeout Outcome = "timeout"
)

// Record is one completed unit of work. Fields irrelevant to a given
// kind stay at their zero values and are omitted from the output.
type Record struct {
	Time    time.Time `json:"time"`
	RunID   string    `json:"run_id"`
	Kind    string    `json:"kind"`
	Version string    `json:"version,omitempty"`

	// Fuzz fields. Seed and Operations are what a developer needs to
	// reproduce a recorded failure.
	Mode        string `json:"mode,omitempty"`
	Iteration   int    `json:"iteration,omitempty"`
	Session     int    `json:"session,omitempty"`
	Seed        uint64 `json:"seed,omitempty"`
	Operations  int    `json:"operations,omitempty"`
	Concurrency int    `json:"concurrency,omitempty"`

	Outcome   Outcome `json:"outcome"`
	Detail    string  `json:"detail,omitempty"`
	ElapsedMS int64   `json:"elapsed_ms"`
}

// Record kinds.
const (
	KindImageBuild    = "image-build"
	KindScriptedCheck = "scripted-check"
	KindFuzzIteration = "fuzz-iteration"
	KindFuzzSession   = "fuzz-session"
)

// Sink writes records as JSON lines. Safe for concurrent use.
type Sink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewSink writes records to w, one JSON object per line.
func NewSink(w io.Writer) *Sink {
	return &Sink{w: w}
}

// OpenFile opens (or creates) an append-only record file. The caller
// owns closing the returned file.
func OpenFile(path string) (*Sink, *os.File, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening run log %s: %w", path, err)
	}
	return NewSink(file), file, nil
}

// Append writes one record. A zero Time is stamped with the current
// time. The write is a single line, so concurrent appenders never
// interleave fields.
func (s *Sink) Append(record Record) error {
	if record.Time.IsZero() {
		record.Time = time.Now().UTC()
	}

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding run record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(line); err != nil {
		return fmt.Errorf("appending run record: %w", err)
	}
	return nil
}
