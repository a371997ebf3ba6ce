// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest. All artifact and manifest hashes
// are this size.
type Hash [32]byte

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Domain
// separation ensures the same input bytes produce different hashes in
// different contexts, so a manifest can never collide with the file
// content it describes. The byte values are the ASCII encoding of the
// domain name, zero-padded to 32 bytes — readable in hex dumps
// without sacrificing any cryptographic property.
type domainKey [32]byte

var (
	contentDomainKey = domainKey{
		'f', 'o', 'r', 'g', 'e', '.', 'a', 'r', 't', 'i', 'f', 'a', 'c', 't', '.',
		'c', 'o', 'n', 't', 'e', 'n', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	manifestDomainKey = domainKey{
		'f', 'o', 'r', 'g', 'e', '.', 'i', 'm', 'a', 'g', 'e', '.',
		'm', 'a', 'n', 'i', 'f', 'e', 's', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

func keyedHash(key domainKey, data []byte) Hash {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		// NewKeyed fails only on wrong key length, and domainKey is
		// 32 bytes by construction.
		panic("artifact: blake3 keyed hasher: " + err.Error())
	}
	hasher.Write(data)

	var digest Hash
	hasher.Digest().Read(digest[:])
	return digest
}

// HashContent computes the content-domain digest of artifact bytes.
// This is the hash recorded in version descriptors and verified by
// the fetcher and store.
func HashContent(data []byte) Hash {
	return keyedHash(contentDomainKey, data)
}

// HashManifest computes the manifest-domain digest of a canonically
// encoded image manifest. Image IDs are derived from this hash.
func HashManifest(data []byte) Hash {
	return keyedHash(manifestDomainKey, data)
}

// HashContentReader streams r through the content-domain hash,
// returning the digest and the number of bytes read. Memory usage is
// constant regardless of input size.
func HashContentReader(r io.Reader) (Hash, int64, error) {
	hasher, err := blake3.NewKeyed(contentDomainKey[:])
	if err != nil {
		panic("artifact: blake3 keyed hasher: " + err.Error())
	}

	n, err := io.Copy(hasher, r)
	if err != nil {
		return Hash{}, 0, err
	}

	var digest Hash
	hasher.Digest().Read(digest[:])
	return digest, n, nil
}

// String returns the hex encoding of the hash. This is the canonical
// format used in descriptors, store paths, and log output.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether the hash is the all-zero value, which is
// never a valid digest of real content.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// MarshalText implements encoding.TextMarshaler so hashes serialize
// as hex strings in JSON, CBOR, and YAML.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash parses a hex-encoded digest. Returns an error unless the
// input is exactly 64 hex characters.
func ParseHash(hexString string) (Hash, error) {
	var digest Hash
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return digest, fmt.Errorf("parsing hash: %w", err)
	}
	if len(decoded) != len(digest) {
		return digest, fmt.Errorf("hash is %d bytes, want %d", len(decoded), len(digest))
	}
	copy(digest[:], decoded)
	return digest, nil
}
