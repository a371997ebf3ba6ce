// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package pathtree

import (
	"fmt"
	"path"
)

// File is one (destination path, entry) pair for Compose.
type File struct {
	Path  string
	Entry Entry
}

// Compose validates files into a tree. Destination paths must be
// unique — the same input set fails identically under any permutation.
func Compose(files []File) (*Tree, error) {
	tree := NewTree()
	for _, file := range files {
		if err := tree.Add(file.Path, file.Entry); err != nil {
			return nil, err
		}
	}
	return tree, nil
}

// Policy selects how PlaceVersioned lays out a versioned artifact.
type Policy int

const (
	// PolicyVersionedOnly creates only the version-qualified path
	// (name-version). Used for server-side binaries: multiple
	// versions coexist and the supervisor selects one explicitly,
	// so a default pointer would be a hazard.
	PolicyVersionedOnly Policy = iota

	// PolicyUnversioned creates the version-qualified path plus a
	// stable symlink under the bare name pointing at it. Used for
	// the client library consumed at runtime, where exactly one
	// version may be active.
	PolicyUnversioned
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case PolicyVersionedOnly:
		return "versioned-only"
	case PolicyUnversioned:
		return "unversioned"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// PlaceVersioned adds entry to tree at dir/name-version, and under
// PolicyUnversioned additionally adds the stable symlink dir/name →
// name-version. Both additions respect tree uniqueness.
func PlaceVersioned(tree *Tree, dir, name, version string, entry Entry, policy Policy) error {
	if version == "" {
		return fmt.Errorf("placing %s in %s: version is required", name, dir)
	}

	versionedName := name + "-" + version
	if err := tree.Add(path.Join(dir, versionedName), entry); err != nil {
		return err
	}

	if policy == PolicyUnversioned {
		link := Entry{SymlinkTarget: versionedName, UID: entry.UID, GID: entry.GID}
		if err := tree.Add(path.Join(dir, name), link); err != nil {
			return err
		}
	}
	return nil
}
