// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package pathtree

import (
	"context"
	"log/slog"
	"strings"
)

// Overwrite records one layer-merge collision: the entry from layer
// Loser at Path was replaced by the entry from layer Winner. Indexes
// refer to positions in the Merge argument list.
type Overwrite struct {
	Path   string
	Winner int
	Loser  int
}

// sensitivePrefixes are paths where a silent overwrite is a security
// hazard, not just a layering quirk. Collisions here log at Warn.
var sensitivePrefixes = []string{
	"/etc/passwd",
	"/etc/group",
	"/etc/shadow",
	"/etc/sudoers",
}

func isSensitive(path string) bool {
	for _, prefix := range sensitivePrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+".") {
			return true
		}
	}
	return false
}

// Merge combines layers in strict argument order: when two layers
// define the same path, the later layer wins. Every overwrite is
// logged and returned, in sorted path order, so callers can audit
// exactly which layer owns any given path in the result.
//
// The input layers are not modified.
func Merge(logger *slog.Logger, layers ...*Tree) (*Tree, []Overwrite) {
	if logger == nil {
		logger = slog.Default()
	}

	merged := NewTree()
	owner := make(map[string]int)
	var overwrites []Overwrite

	for index, layer := range layers {
		for _, dest := range layer.Paths() {
			entry, _ := layer.Entry(dest)
			if previous, collided := owner[dest]; collided {
				overwrites = append(overwrites, Overwrite{Path: dest, Winner: index, Loser: previous})

				level := slog.LevelInfo
				if isSensitive(dest) {
					level = slog.LevelWarn
				}
				logger.Log(context.Background(), level, "layer overwrites path",
					"path", dest, "winning_layer", index, "losing_layer", previous)
			}
			owner[dest] = index
			merged.entries[dest] = entry
		}
	}

	return merged, overwrites
}
