// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

func TestMarshalDeterministic(t *testing.T) {
	t.Parallel()

	// Maps are the canonical determinism hazard: Go iterates them in
	// random order, so a naive encoder produces different bytes on
	// different runs.
	value := map[string]any{
		"version": "7.1.12",
		"paths":   map[string]string{"b": "2", "a": "1", "c": "3"},
		"count":   int64(42),
	}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := Marshal(value)
		if err != nil {
			t.Fatalf("Marshal (repeat %d): %v", i, err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("encoding not deterministic: %x != %x", first, again)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	type sidecar struct {
		Name    string `cbor:"name"`
		Version string `cbor:"version"`
		Size    int64  `cbor:"size"`
	}

	in := sidecar{Name: "meridiand", Version: "6.3.24", Size: 1 << 20}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out sidecar
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out != in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestUnmarshalAnyUsesStringKeys(t *testing.T) {
	t.Parallel()

	data, err := Marshal(map[string]any{"key": "value"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out any
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", out)
	}
	if m["key"] != "value" {
		t.Errorf(`m["key"] = %v, want "value"`, m["key"])
	}
}
