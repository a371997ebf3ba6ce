// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import "fmt"

// HashMismatchError reports that fetched or stored bytes do not match
// the expected content hash. It is terminal: the bytes are discarded
// and the operation is never retried with the same expectation, since
// the upstream content itself is wrong (or tampered with).
type HashMismatchError struct {
	// Source describes where the bytes came from: a URL for fetches,
	// a store path for cache reads.
	Source string
	Want   Hash
	Got    Hash
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("hash mismatch for %s: want %s, got %s", e.Source, e.Want, e.Got)
}

// NetworkError reports a transport-level fetch failure (connection
// refused, timeout, non-2xx status). Unlike a hash mismatch it is
// safe to retry — every retry re-verifies the hash from scratch.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
