// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/meridiandb/forge/lib/codec"
)

// sidecar is the CBOR metadata written next to every stored blob.
// Encoded with lib/codec so the bytes are deterministic.
type sidecar struct {
	Name             string         `cbor:"name"`
	Version          string         `cbor:"version"`
	Hash             Hash           `cbor:"hash"`
	UncompressedSize int64          `cbor:"uncompressed_size"`
	Compression      CompressionTag `cbor:"compression"`
}

// StoreConfig configures a Store.
type StoreConfig struct {
	// Path is the store root directory, created if missing.
	Path string

	// Compression is the algorithm tried for new blobs. Blobs that
	// do not shrink are stored uncompressed. Default lz4.
	Compression CompressionTag

	// Logger for store operations. Defaults to slog.Default().
	Logger *slog.Logger
}

// Store is a local content-addressed artifact cache. Entries are
// keyed by the full (name, version, hash) identity, never by name
// alone — parallel version builds must not observe each other's
// artifacts. Writes publish atomically (temp file + rename), and
// reads re-verify the content digest.
//
// The store is safe for concurrent use; writes of the same entry are
// serialized and idempotent.
type Store struct {
	root        string
	compression CompressionTag
	logger      *slog.Logger

	// writeMu serializes Put operations. Puts are rare (once per
	// artifact per version) so a single lock is sufficient.
	writeMu sync.Mutex
}

// NewStore creates (or reopens) a store rooted at config.Path.
func NewStore(config StoreConfig) (*Store, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if err := os.MkdirAll(config.Path, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	compression := config.Compression
	if compression == CompressionNone {
		compression = CompressionLZ4
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{root: config.Path, compression: compression, logger: logger}, nil
}

// entryPath returns the blob path for a ref. The hash is the final
// path component, so distinct content never collides and identical
// content re-fetched for the same (name, version) lands on the same
// entry.
func (s *Store) entryPath(ref Ref) string {
	return filepath.Join(s.root, ref.Name, ref.Version, ref.Hash.String()+".blob")
}

// Has reports whether the store holds a verified entry for ref. Only
// presence is checked here; Get performs digest verification.
func (s *Store) Has(ref Ref) bool {
	_, err := os.Stat(s.entryPath(ref))
	return err == nil
}

// Put stores data under ref's identity. The data's digest must equal
// ref.Hash — the store never accepts bytes that disagree with their
// claimed identity. Storing an already-present entry is a no-op.
func (s *Store) Put(ref Ref, data []byte) error {
	if got := HashContent(data); got != ref.Hash {
		return &HashMismatchError{Source: "store put " + ref.Name, Want: ref.Hash, Got: got}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	blobPath := s.entryPath(ref)
	if _, err := os.Stat(blobPath); err == nil {
		// Immutable content: the existing entry is byte-identical by
		// construction (same hash), so there is nothing to do.
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(blobPath), 0o755); err != nil {
		return fmt.Errorf("creating store entry directory: %w", err)
	}

	tag := s.compression
	compressed, err := compress(data, tag)
	if errors.Is(err, errIncompressible) {
		tag = CompressionNone
		compressed = data
	} else if err != nil {
		return fmt.Errorf("compressing %s: %w", ref.Name, err)
	}

	meta, err := codec.Marshal(sidecar{
		Name:             ref.Name,
		Version:          ref.Version,
		Hash:             ref.Hash,
		UncompressedSize: int64(len(data)),
		Compression:      tag,
	})
	if err != nil {
		return fmt.Errorf("encoding sidecar for %s: %w", ref.Name, err)
	}

	// Write blob then sidecar, each atomically. The sidecar is the
	// commit record: Get refuses entries whose sidecar is missing,
	// so a crash between the two renames leaves a harmless orphan
	// blob, not a readable half-entry.
	if err := writeFileAtomic(blobPath, compressed); err != nil {
		return fmt.Errorf("writing blob for %s: %w", ref.Name, err)
	}
	if err := writeFileAtomic(blobPath+".meta", meta); err != nil {
		return fmt.Errorf("writing sidecar for %s: %w", ref.Name, err)
	}

	s.logger.Debug("stored artifact",
		"name", ref.Name, "version", ref.Version, "hash", ref.Hash,
		"compression", tag, "bytes", len(data), "stored_bytes", len(compressed))
	return nil
}

// Get returns the bytes stored under ref, decompressed and
// re-verified against ref.Hash. Returns fs.ErrNotExist (wrapped) if
// the entry is absent.
func (s *Store) Get(ref Ref) ([]byte, error) {
	blobPath := s.entryPath(ref)

	meta, err := os.ReadFile(blobPath + ".meta")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("artifact %s/%s %s: %w", ref.Name, ref.Version, ref.Hash, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("reading sidecar: %w", err)
	}
	var sc sidecar
	if err := codec.Unmarshal(meta, &sc); err != nil {
		return nil, fmt.Errorf("decoding sidecar for %s: %w", ref.Name, err)
	}

	compressed, err := os.ReadFile(blobPath)
	if err != nil {
		return nil, fmt.Errorf("reading blob: %w", err)
	}

	data, err := decompress(compressed, sc.Compression, int(sc.UncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("decompressing %s: %w", ref.Name, err)
	}

	if got := HashContent(data); got != ref.Hash {
		return nil, &HashMismatchError{Source: blobPath, Want: ref.Hash, Got: got}
	}
	return data, nil
}

// Ensure returns ref's bytes from the store, fetching and caching
// them on a miss. This is the single entry point build stages use:
// they never observe a partially-fetched or unverified artifact.
func (s *Store) Ensure(ctx context.Context, fetcher *Fetcher, ref Ref) ([]byte, error) {
	if s.Has(ref) {
		data, err := s.Get(ref)
		if err == nil {
			return data, nil
		}
		// A corrupt cache entry is not fatal: remove it and re-fetch,
		// so the repaired entry serves future calls from the store.
		s.logger.Warn("discarding corrupt store entry", "name", ref.Name, "version", ref.Version, "error", err)
		if err := s.remove(ref); err != nil {
			return nil, fmt.Errorf("removing corrupt entry for %s: %w", ref.Name, err)
		}
	}

	data, err := fetcher.Fetch(ctx, ref.URL, ref.Hash)
	if err != nil {
		return nil, err
	}
	if err := s.Put(ref, data); err != nil {
		return nil, err
	}
	return data, nil
}

// remove deletes ref's blob and sidecar. Put treats an existing blob
// as immutable, so a corrupt entry must be removed before re-fetched
// bytes can replace it. The sidecar goes first: Get refuses entries
// without one, so a crash mid-removal cannot leave a readable
// half-entry.
func (s *Store) remove(ref Ref) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	blobPath := s.entryPath(ref)
	for _, path := range []string{blobPath + ".meta", blobPath} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// writeFileAtomic writes data to path via a temporary file in the
// same directory followed by a rename.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
