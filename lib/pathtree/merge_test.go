// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package pathtree

import (
	"bytes"
	"log/slog"
	"testing"
)

func mustCompose(t *testing.T, files ...File) *Tree {
	t.Helper()
	tree, err := Compose(files)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	return tree
}

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestMergeOrderSensitive(t *testing.T) {
	t.Parallel()

	layerA := mustCompose(t, File{Path: "/etc/x", Entry: Entry{Content: []byte("from A")}})
	layerB := mustCompose(t, File{Path: "/etc/x", Entry: Entry{Content: []byte("from B")}})

	mergedAB, _ := Merge(discard(), layerA, layerB)
	entry, _ := mergedAB.Entry("/etc/x")
	if string(entry.Content) != "from B" {
		t.Errorf("[A, B] merge: /etc/x = %q, want %q", entry.Content, "from B")
	}

	mergedBA, _ := Merge(discard(), layerB, layerA)
	entry, _ = mergedBA.Entry("/etc/x")
	if string(entry.Content) != "from A" {
		t.Errorf("[B, A] merge: /etc/x = %q, want %q", entry.Content, "from A")
	}
}

func TestMergeAuditsOverwrites(t *testing.T) {
	t.Parallel()

	base := mustCompose(t,
		File{Path: "/etc/passwd", Entry: Entry{Content: []byte("root:x:0:0::/root:/bin/sh\n")}},
		File{Path: "/etc/hostname", Entry: Entry{Content: []byte("meridian\n")}},
	)
	service := mustCompose(t,
		File{Path: "/etc/passwd", Entry: Entry{Content: []byte("root + meridian account\n")}},
		File{Path: "/etc/meridian/monitor.conf", Entry: Entry{Content: []byte("conf")}},
	)

	merged, overwrites := Merge(discard(), base, service)

	if merged.Len() != 3 {
		t.Errorf("merged Len = %d, want 3", merged.Len())
	}
	if len(overwrites) != 1 {
		t.Fatalf("overwrites = %v, want exactly one", overwrites)
	}
	ow := overwrites[0]
	if ow.Path != "/etc/passwd" || ow.Winner != 1 || ow.Loser != 0 {
		t.Errorf("overwrite = %+v, want {/etc/passwd 1 0}", ow)
	}

	// Final ownership is assertable from the merged tree.
	entry, _ := merged.Entry("/etc/passwd")
	if string(entry.Content) != "root + meridian account\n" {
		t.Errorf("/etc/passwd owned by wrong layer: %q", entry.Content)
	}
}

func TestMergeLogsSensitiveOverwriteAtWarn(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	base := mustCompose(t, File{Path: "/etc/passwd", Entry: Entry{Content: []byte("a")}})
	over := mustCompose(t, File{Path: "/etc/passwd", Entry: Entry{Content: []byte("b")}})
	Merge(logger, base, over)

	if !bytes.Contains(buf.Bytes(), []byte("/etc/passwd")) {
		t.Error("sensitive overwrite not logged at warn level")
	}

	// Non-sensitive overwrites stay below warn.
	buf.Reset()
	base = mustCompose(t, File{Path: "/etc/hostname", Entry: Entry{Content: []byte("a")}})
	over = mustCompose(t, File{Path: "/etc/hostname", Entry: Entry{Content: []byte("b")}})
	Merge(logger, base, over)
	if buf.Len() != 0 {
		t.Errorf("non-sensitive overwrite logged at warn: %s", buf.String())
	}
}

func TestMergeThreeLayersLastWins(t *testing.T) {
	t.Parallel()

	layers := make([]*Tree, 3)
	for i, content := range []string{"first", "second", "third"} {
		layers[i] = mustCompose(t, File{Path: "/etc/x", Entry: Entry{Content: []byte(content)}})
	}

	merged, overwrites := Merge(discard(), layers...)
	entry, _ := merged.Entry("/etc/x")
	if string(entry.Content) != "third" {
		t.Errorf("/etc/x = %q, want %q", entry.Content, "third")
	}
	if len(overwrites) != 2 {
		t.Fatalf("overwrites = %v, want two", overwrites)
	}
	// The audit trail shows the full chain: 1 over 0, then 2 over 1.
	if overwrites[0].Winner != 1 || overwrites[0].Loser != 0 ||
		overwrites[1].Winner != 2 || overwrites[1].Loser != 1 {
		t.Errorf("audit chain = %+v", overwrites)
	}
}
