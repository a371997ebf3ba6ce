// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

// Package artifact provides content-addressed handling of upstream
// build inputs: BLAKE3 hashing, hash-verified fetching, and a local
// compressed store keyed by the full (name, version, hash) identity.
//
// An artifact is immutable once fetched. The fetcher verifies the
// digest of every download against the expected hash before exposing
// a single byte downstream; a mismatch is a terminal error, never a
// retry. The store re-verifies on read, so a corrupted cache entry
// surfaces as an error rather than as corrupted build input.
package artifact
