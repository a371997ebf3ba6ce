// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package fuzz

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Client is the database interface under test. Implementations wrap
// the real client library; the in-memory Oracle implements the same
// interface so sequences replay identically on both sides.
type Client interface {
	// Apply executes one operation. An error means the client itself
	// failed; a missing key is not an error (Result.Found is false).
	Apply(ctx context.Context, op Op) (Result, error)

	// Close releases the client's resources.
	Close() error
}

// ClientFactory creates one client per session. Concurrent sessions
// never share a client, so implementations need no internal locking
// beyond what the underlying library provides.
type ClientFactory func(ctx context.Context) (Client, error)

var (
	registryMu sync.Mutex
	registry   = make(map[string]ClientFactory)
)

// Register makes a client implementation selectable by name. Called
// from the implementation package's init; registering the same name
// twice panics.
func Register(name string, factory ClientFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic("fuzz: client " + name + " registered twice")
	}
	registry[name] = factory
}

// Factory returns the registered factory for name.
func Factory(name string) (ClientFactory, error) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("no client registered as %q (available: %v)", name, clientNamesLocked())
	}
	return factory, nil
}

// ClientNames lists the registered client names, sorted.
func ClientNames() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	return clientNamesLocked()
}

func clientNamesLocked() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
