// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

// Package matrix drives the full build pipeline — fetch, patch,
// compose, assemble — once per supported server version. Each version
// is described by an immutable VersionDescriptor and built in
// complete isolation: artifacts are cached under version-and-hash
// keys, scratch directories are exclusive, and one version's failure
// never aborts or contaminates a sibling build.
package matrix

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/meridiandb/forge/lib/artifact"
)

// ArtifactSource is one upstream input declared by a descriptor.
type ArtifactSource struct {
	URL  string        `json:"url"`
	Hash artifact.Hash `json:"hash"`
}

// VersionDescriptor declares everything version-specific about one
// supported server version. Descriptors are authored as JSONC files,
// parsed once, and never mutated — every pipeline stage receives the
// descriptor as an explicit value, not ambient state.
type VersionDescriptor struct {
	// Version is the server version string, e.g. "7.1.12".
	Version string `json:"version"`

	// Artifacts are the four upstream inputs of a version build.
	Artifacts struct {
		ClientLibrary ArtifactSource `json:"client_library"`
		Server        ArtifactSource `json:"server"`
		Monitor       ArtifactSource `json:"monitor"`
		CLI           ArtifactSource `json:"cli"`
	} `json:"artifacts"`

	// TemplateParams are version-specific template parameters,
	// merged under the built-in parameters (VERSION, PORT, paths)
	// at render time.
	TemplateParams map[string]string `json:"template_params"`
}

// sources returns the artifact refs of a descriptor with their
// logical names and the descriptor's version filled in.
func (d *VersionDescriptor) sources() []artifact.Ref {
	return []artifact.Ref{
		{Name: "libmeridian_c.so", Version: d.Version, URL: d.Artifacts.ClientLibrary.URL, Hash: d.Artifacts.ClientLibrary.Hash},
		{Name: "meridiand", Version: d.Version, URL: d.Artifacts.Server.URL, Hash: d.Artifacts.Server.Hash},
		{Name: "meridian-monitor", Version: d.Version, URL: d.Artifacts.Monitor.URL, Hash: d.Artifacts.Monitor.Hash},
		{Name: "meridian-cli", Version: d.Version, URL: d.Artifacts.CLI.URL, Hash: d.Artifacts.CLI.Hash},
	}
}

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals the result into a VersionDescriptor.
func Parse(data []byte) (*VersionDescriptor, error) {
	stripped := jsonc.ToJSON(data)

	var descriptor VersionDescriptor
	if err := json.Unmarshal(stripped, &descriptor); err != nil {
		return nil, fmt.Errorf("parsing version descriptor: %w", err)
	}
	return &descriptor, nil
}

// ReadFile reads and parses a JSONC descriptor file.
func ReadFile(path string) (*VersionDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	descriptor, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return descriptor, nil
}

// ReadDir parses every .jsonc descriptor in dir, sorted by filename.
func ReadDir(dir string) ([]VersionDescriptor, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.jsonc"))
	if err != nil {
		return nil, fmt.Errorf("listing descriptors in %s: %w", dir, err)
	}

	var descriptors []VersionDescriptor
	for _, path := range matches {
		descriptor, err := ReadFile(path)
		if err != nil {
			return nil, err
		}
		if issues := Validate(descriptor); len(issues) > 0 {
			return nil, fmt.Errorf("validating %s: %s", path, strings.Join(issues, "; "))
		}
		descriptors = append(descriptors, *descriptor)
	}
	return descriptors, nil
}

// Validate performs structural checks on a descriptor and returns a
// list of human-readable issues. An empty list means valid.
func Validate(descriptor *VersionDescriptor) []string {
	var issues []string
	if descriptor.Version == "" {
		issues = append(issues, "version is required")
	}
	for _, source := range descriptor.sources() {
		if source.URL == "" {
			issues = append(issues, fmt.Sprintf("artifact %s: url is required", source.Name))
		}
		if source.Hash.IsZero() {
			issues = append(issues, fmt.Sprintf("artifact %s: hash is required", source.Name))
		}
	}
	return issues
}
