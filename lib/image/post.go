// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package image

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// StandardPostPlacement returns the post-placement step shared by all
// versions: creating the runtime-writable directories that cannot be
// expressed as static files — the data directory with restrictive
// permission bits, the log directory, and the runtime socket
// directory — and fixing their ownership to the service account.
func StandardPostPlacement() func(ctx context.Context, root string) error {
	return func(ctx context.Context, root string) error {
		dirs := []struct {
			path string
			mode os.FileMode
		}{
			{DataDir, 0o700},
			{LogDir, 0o755},
			{"/run/meridian", 0o755},
		}

		for _, dir := range dirs {
			if err := ctx.Err(); err != nil {
				return err
			}
			target := filepath.Join(root, dir.path)
			if err := os.MkdirAll(target, dir.mode); err != nil {
				return fmt.Errorf("creating %s: %w", dir.path, err)
			}
			// MkdirAll honors umask; apply the mode explicitly.
			if err := os.Chmod(target, dir.mode); err != nil {
				return fmt.Errorf("setting mode on %s: %w", dir.path, err)
			}
			if os.Geteuid() == 0 {
				if err := os.Chown(target, ServiceUID, ServiceGID); err != nil {
					return fmt.Errorf("chowning %s: %w", dir.path, err)
				}
			}
		}
		return nil
	}
}
