// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

// Package content provides the embedded forge content definitions:
// configuration/unit templates and the version descriptors of every
// supported server version. Descriptors are JSONC (JSON with comments
// and trailing commas) for human annotation; templates use ${NAME}
// placeholders rendered by lib/render.
//
// Files are embedded at compile time via go:embed, so a forge binary
// carries its full supported-version matrix and needs no content
// directory at runtime. forge-build can still point at an on-disk
// descriptor directory to build unreleased versions.
package content

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/meridiandb/forge/lib/matrix"
)

//go:embed versions/*.jsonc
var versionFiles embed.FS

//go:embed templates/*.tmpl
var templateFiles embed.FS

// Descriptors returns all embedded version descriptors, parsed and
// validated, sorted by version string. An error here indicates a bug
// in the embedded content, not a runtime condition.
func Descriptors() ([]matrix.VersionDescriptor, error) {
	entries, err := versionFiles.ReadDir("versions")
	if err != nil {
		return nil, fmt.Errorf("reading embedded version directory: %w", err)
	}

	var descriptors []matrix.VersionDescriptor
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".jsonc" {
			continue
		}

		data, err := versionFiles.ReadFile("versions/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading embedded descriptor %s: %w", entry.Name(), err)
		}
		descriptor, err := matrix.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("parsing embedded descriptor %s: %w", entry.Name(), err)
		}
		if issues := matrix.Validate(descriptor); len(issues) > 0 {
			return nil, fmt.Errorf("validating embedded descriptor %s: %s",
				entry.Name(), strings.Join(issues, "; "))
		}
		descriptors = append(descriptors, *descriptor)
	}

	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].Version < descriptors[j].Version
	})
	return descriptors, nil
}

// Templates returns all embedded templates keyed by name (filename
// without the .tmpl extension).
func Templates() (map[string][]byte, error) {
	entries, err := templateFiles.ReadDir("templates")
	if err != nil {
		return nil, fmt.Errorf("reading embedded template directory: %w", err)
	}

	templates := make(map[string][]byte, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".tmpl" {
			continue
		}
		data, err := templateFiles.ReadFile("templates/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading embedded template %s: %w", entry.Name(), err)
		}
		templates[strings.TrimSuffix(entry.Name(), ".tmpl")] = data
	}
	return templates, nil
}
