// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

// Package image assembles composed path trees into a bootable
// filesystem image. Layers merge in strict last-writer-wins order,
// a post-placement step performs the operations static files cannot
// express (directory permission bits, ownership, init registration),
// and the result publishes atomically under a content-addressed
// image ID. A failed assembly publishes nothing.
package image

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/meridiandb/forge/lib/artifact"
	"github.com/meridiandb/forge/lib/codec"
	"github.com/meridiandb/forge/lib/pathtree"
)

// PostPlacementError reports a failed post-placement step. It is
// fatal for the image being assembled: the scratch directory is
// discarded and no partial image is published.
type PostPlacementError struct {
	Err error
}

func (e *PostPlacementError) Error() string {
	return fmt.Sprintf("post-placement step failed: %v", e.Err)
}

func (e *PostPlacementError) Unwrap() error { return e.Err }

// ManifestFile describes one placed path in the manifest.
type ManifestFile struct {
	Path    string        `cbor:"path"`
	Hash    artifact.Hash `cbor:"hash,omitempty"`
	Mode    uint32        `cbor:"mode"`
	UID     int           `cbor:"uid"`
	GID     int           `cbor:"gid"`
	Symlink string        `cbor:"symlink,omitempty"`
}

// Manifest is the canonical description of an assembled image. Its
// deterministic CBOR encoding is what the image ID hashes, so two
// assemblies that place identical content produce identical IDs.
type Manifest struct {
	InitCommand []string          `cbor:"init_command"`
	Environment map[string]string `cbor:"environment,omitempty"`
	AutoStart   []string          `cbor:"auto_start,omitempty"`
	Files       []ManifestFile    `cbor:"files"`
}

// Image is the published result of an assembly.
type Image struct {
	// ID is the manifest-domain digest of the canonical manifest.
	ID artifact.Hash

	// Path is the published image directory: Path/root is the
	// filesystem, Path/manifest.cbor the manifest.
	Path string

	Manifest Manifest

	// Overwrites is the layer-merge audit trail.
	Overwrites []pathtree.Overwrite
}

// Spec configures one assembly.
type Spec struct {
	// Layers merge in order; later layers win collisions.
	Layers []*pathtree.Tree

	// InitCommand is the image's single init entry point. Required.
	InitCommand []string

	// Environment is passed to init at boot.
	Environment map[string]string

	// AutoStart lists the service names the init system starts at
	// boot. Written to the registration file during assembly.
	AutoStart []string

	// PostPlacement runs once after the merged tree is written,
	// rooted at the image filesystem. Optional. A non-nil error
	// aborts the assembly.
	PostPlacement func(ctx context.Context, root string) error

	// OutputDir is where the finished image publishes. Required.
	OutputDir string

	// ScratchDir hosts the exclusive per-assembly working
	// directory. Required.
	ScratchDir string

	// Logger for assembly operations. Defaults to slog.Default().
	Logger *slog.Logger
}

// Assemble merges spec.Layers, writes them into a freshly acquired
// scratch root, runs the post-placement step, and publishes the
// result at OutputDir/<image-id>. On any failure the scratch
// directory is released and removed; no partial image is ever
// visible under OutputDir.
func Assemble(ctx context.Context, spec Spec) (_ *Image, err error) {
	if len(spec.InitCommand) == 0 {
		return nil, fmt.Errorf("image requires exactly one init command")
	}
	if spec.OutputDir == "" || spec.ScratchDir == "" {
		return nil, fmt.Errorf("output and scratch directories are required")
	}
	logger := spec.Logger
	if logger == nil {
		logger = slog.Default()
	}

	scratch, release, err := acquireScratch(spec.ScratchDir)
	if err != nil {
		return nil, err
	}
	published := false
	defer func() {
		release()
		if !published {
			os.RemoveAll(scratch)
		}
	}()

	merged, overwrites := pathtree.Merge(logger, spec.Layers...)

	// Register auto-start services as a file in the merged tree so
	// it participates in the manifest (and therefore the image ID).
	if len(spec.AutoStart) > 0 {
		registration := strings.Join(spec.AutoStart, "\n") + "\n"
		if err := merged.Add(autoStartPath, pathtree.Entry{Content: []byte(registration)}); err != nil {
			return nil, fmt.Errorf("registering auto-start services: %w", err)
		}
	}

	root := filepath.Join(scratch, "root")
	manifest, err := writeTree(root, merged, spec)
	if err != nil {
		return nil, err
	}

	if spec.PostPlacement != nil {
		if err := spec.PostPlacement(ctx, root); err != nil {
			return nil, &PostPlacementError{Err: err}
		}
	}

	encoded, err := codec.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(scratch, "manifest.cbor"), encoded, 0o644); err != nil {
		return nil, fmt.Errorf("writing manifest: %w", err)
	}

	id := artifact.HashManifest(encoded)
	target := filepath.Join(spec.OutputDir, id.String())

	if err := os.MkdirAll(spec.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	if _, statErr := os.Stat(target); statErr == nil {
		// Identical content already published: content addressing
		// makes this a no-op, not a conflict.
		logger.Info("image already published", "id", id)
	} else {
		published, err = publishScratch(scratch, target)
		if err != nil {
			return nil, err
		}
		if !published {
			logger.Info("image already published", "id", id)
		}
	}

	logger.Info("assembled image",
		"id", id, "files", len(manifest.Files), "overwrites", len(overwrites), "path", target)

	return &Image{ID: id, Path: target, Manifest: manifest, Overwrites: overwrites}, nil
}

// publishScratch moves the assembled scratch directory to target.
// Losing a rename race against a concurrent assembly of identical
// content is success, not an error: the target path is derived from
// the content, so whoever won published the same bytes. The caller
// removes the loser's scratch directory.
func publishScratch(scratch, target string) (bool, error) {
	err := os.Rename(scratch, target)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrExist) || errors.Is(err, unix.ENOTEMPTY):
		return false, nil
	default:
		return false, fmt.Errorf("publishing image: %w", err)
	}
}

// acquireScratch creates an exclusive scratch directory under base,
// guarded by a flock so two assemblies can never share one. The
// returned release function drops the lock; the caller removes the
// directory on failure paths.
func acquireScratch(base string) (string, func(), error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", nil, fmt.Errorf("creating scratch base: %w", err)
	}
	scratch, err := os.MkdirTemp(base, "assemble-*")
	if err != nil {
		return "", nil, fmt.Errorf("creating scratch directory: %w", err)
	}

	lockFd, err := unix.Open(scratch, unix.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		os.RemoveAll(scratch)
		return "", nil, fmt.Errorf("opening scratch directory: %w", err)
	}
	if err := unix.Flock(lockFd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		unix.Close(lockFd)
		os.RemoveAll(scratch)
		return "", nil, fmt.Errorf("locking scratch directory: %w", err)
	}

	release := func() {
		unix.Flock(lockFd, unix.LOCK_UN)
		unix.Close(lockFd)
	}
	return scratch, release, nil
}

// writeTree materializes the merged tree under root and returns the
// manifest describing it. Entries are written in sorted path order.
func writeTree(root string, merged *pathtree.Tree, spec Spec) (Manifest, error) {
	manifest := Manifest{
		InitCommand: spec.InitCommand,
		Environment: spec.Environment,
		AutoStart:   spec.AutoStart,
	}

	for _, dest := range merged.Paths() {
		entry, _ := merged.Entry(dest)
		target := filepath.Join(root, dest)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return Manifest{}, fmt.Errorf("creating %s: %w", filepath.Dir(dest), err)
		}

		file := ManifestFile{Path: dest, UID: entry.UID, GID: entry.GID}
		if entry.IsSymlink() {
			if err := os.Symlink(entry.SymlinkTarget, target); err != nil {
				return Manifest{}, fmt.Errorf("linking %s: %w", dest, err)
			}
			file.Symlink = entry.SymlinkTarget
		} else {
			if err := os.WriteFile(target, entry.Content, entry.FileMode()); err != nil {
				return Manifest{}, fmt.Errorf("writing %s: %w", dest, err)
			}
			file.Hash = artifact.HashContent(entry.Content)
			file.Mode = uint32(entry.FileMode())
		}

		// Ownership requires privilege; outside root-run builds the
		// uid/gid stay recorded in the manifest for the runtime to
		// apply.
		if os.Geteuid() == 0 && (entry.UID != 0 || entry.GID != 0) {
			if err := os.Lchown(target, entry.UID, entry.GID); err != nil {
				return Manifest{}, fmt.Errorf("chowning %s: %w", dest, err)
			}
		}

		manifest.Files = append(manifest.Files, file)
	}
	return manifest, nil
}
