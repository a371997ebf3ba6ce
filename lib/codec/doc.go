// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides deterministic CBOR encoding for forge's
// binary metadata surfaces: artifact store sidecars and image
// manifests. Determinism matters because image IDs are BLAKE3
// digests over encoded manifests — two builds that place identical
// content must produce identical IDs.
//
// Line-oriented run records (lib/runlog) deliberately use JSON
// instead: those exist to be grepped by CI tooling, not hashed.
package codec
