// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

// Package pathtree builds and merges composed path trees: validated
// mappings from absolute filesystem paths to file content, ready to
// be written into an image root.
//
// Within one tree, paths are unique — composing duplicate
// destinations is an error regardless of insertion order. Across
// trees, Merge applies a strict last-writer-wins order and reports
// every overwrite, so layer-ordering mistakes (a base layer clobbering
// a rendered credential file, or vice versa) are visible in logs and
// assertable in tests instead of silent.
package pathtree

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
)

// Entry is the content placed at one path: either a regular file
// (Content + Mode) or a symlink (SymlinkTarget). UID/GID default to
// root; the image assembler's post-placement step applies them.
type Entry struct {
	// Content holds regular-file bytes. nil Content with an empty
	// SymlinkTarget is a valid empty file.
	Content []byte

	// Mode is the permission bits for regular files. Zero means
	// 0o644. Ignored for symlinks.
	Mode fs.FileMode

	// SymlinkTarget, when non-empty, makes the entry a symlink.
	// Content must be nil.
	SymlinkTarget string

	// UID and GID are the owner applied at assembly time.
	UID int
	GID int
}

// IsSymlink reports whether the entry is a symlink.
func (e Entry) IsSymlink() bool { return e.SymlinkTarget != "" }

// FileMode returns the effective mode for regular files.
func (e Entry) FileMode() fs.FileMode {
	if e.Mode == 0 {
		return 0o644
	}
	return e.Mode
}

// DuplicatePathError reports two entries composed at the same
// destination path.
type DuplicatePathError struct {
	Path string
}

func (e *DuplicatePathError) Error() string {
	return fmt.Sprintf("duplicate destination path: %s", e.Path)
}

// Tree is a composed path tree. The zero value is not usable; create
// with NewTree.
type Tree struct {
	entries map[string]Entry
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{entries: make(map[string]Entry)}
}

// Add places entry at dest. dest must be an absolute, clean path;
// adding to an occupied path returns *DuplicatePathError.
func (t *Tree) Add(dest string, entry Entry) error {
	if !path.IsAbs(dest) {
		return fmt.Errorf("destination %q is not absolute", dest)
	}
	if cleaned := path.Clean(dest); cleaned != dest {
		return fmt.Errorf("destination %q is not a clean path (want %q)", dest, cleaned)
	}
	if entry.IsSymlink() && entry.Content != nil {
		return fmt.Errorf("entry at %q has both content and a symlink target", dest)
	}
	if _, exists := t.entries[dest]; exists {
		return &DuplicatePathError{Path: dest}
	}
	t.entries[dest] = entry
	return nil
}

// Entry returns the entry at dest.
func (t *Tree) Entry(dest string) (Entry, bool) {
	entry, ok := t.entries[dest]
	return entry, ok
}

// Paths returns all destination paths in sorted order. Iteration over
// a tree is always through this — deterministic order is what makes
// manifests and image IDs reproducible.
func (t *Tree) Paths() []string {
	paths := make([]string, 0, len(t.entries))
	for p := range t.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Len returns the number of entries.
func (t *Tree) Len() int { return len(t.entries) }
