// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package fuzz

import (
	"context"
	"strings"
	"testing"
)

func TestOracleIsRegistered(t *testing.T) {
	t.Parallel()

	factory, err := Factory("oracle")
	if err != nil {
		t.Fatalf("Factory(oracle): %v", err)
	}
	client, err := factory(context.Background())
	if err != nil {
		t.Fatalf("creating oracle client: %v", err)
	}
	defer client.Close()

	if err := CheckScripted(context.Background(), factory); err != nil {
		t.Errorf("registered oracle failed the scripted check: %v", err)
	}
}

func TestFactoryUnknownClient(t *testing.T) {
	t.Parallel()

	_, err := Factory("no-such-client")
	if err == nil {
		t.Fatal("Factory accepted an unregistered name")
	}
	if !strings.Contains(err.Error(), "oracle") {
		t.Errorf("error does not list available clients: %v", err)
	}
}

func TestClientNamesSorted(t *testing.T) {
	t.Parallel()

	names := ClientNames()
	for _, name := range names {
		if name == "oracle" {
			return
		}
	}
	t.Errorf("ClientNames() = %v, missing oracle", names)
}
