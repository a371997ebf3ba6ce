// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/meridiandb/forge/lib/artifact"
	"github.com/meridiandb/forge/lib/elfpatch"
	"github.com/meridiandb/forge/lib/image"
	"github.com/meridiandb/forge/lib/pathtree"
	"github.com/meridiandb/forge/lib/render"
	"github.com/meridiandb/forge/lib/runlog"
)

// Image filesystem layout. Binaries are version-qualified so multiple
// server versions coexist in one image store; the client library gets
// a stable symlink because exactly one version is active per image.
const (
	binDir = "/opt/meridian/bin"
	libDir = "/opt/meridian/lib"

	interpreterPath = "/lib64/ld-linux-x86-64.so.2"

	monitorConfPath = "/etc/meridian/monitor.conf"
	unitPath        = "/etc/meridian/system/meridian-monitor.service"
)

// Templates a driver must carry, keyed by logical name.
const (
	TemplateMonitorConf = "monitor.conf"
	TemplateClusterFile = "meridian.cluster"
	TemplateMonitorUnit = "meridian-monitor.service"
)

// Driver runs the per-version build pipeline. All fields except
// Patcher, Sink, Logger, and Parallelism are required.
type Driver struct {
	// Store caches verified artifacts across builds.
	Store *artifact.Store

	// Fetcher downloads artifacts missing from the store.
	Fetcher *artifact.Fetcher

	// Templates maps template name to template bytes. Usually the
	// embedded set from lib/content; tests inject their own.
	Templates map[string][]byte

	// Patcher rewrites binary loader metadata. Defaults to
	// elfpatch.Patch; tests substitute an identity function to build
	// from non-ELF fixture bytes.
	Patcher func(data []byte, cfg elfpatch.Config) ([]byte, error)

	// Sink, when non-nil, receives one image-build record per
	// version built.
	Sink *runlog.Sink

	Logger *slog.Logger

	// ScratchDir hosts exclusive per-assembly working directories.
	ScratchDir string

	// OutputDir is where finished images publish.
	OutputDir string

	// Parallelism bounds concurrent version builds in BuildAll.
	// Zero or negative means 1.
	Parallelism int
}

// BuildResult is the outcome of one version build. Exactly one of
// Image and Err is non-nil.
type BuildResult struct {
	Version string
	Image   *image.Image
	Err     error
	Elapsed time.Duration
}

func (d *Driver) validate() error {
	if d.Store == nil || d.Fetcher == nil {
		return fmt.Errorf("driver requires a store and a fetcher")
	}
	if d.OutputDir == "" || d.ScratchDir == "" {
		return fmt.Errorf("driver requires output and scratch directories")
	}
	for _, name := range []string{TemplateMonitorConf, TemplateClusterFile, TemplateMonitorUnit} {
		if _, ok := d.Templates[name]; !ok {
			return fmt.Errorf("driver is missing template %s", name)
		}
	}
	return nil
}

func (d *Driver) patcher() func([]byte, elfpatch.Config) ([]byte, error) {
	if d.Patcher != nil {
		return d.Patcher
	}
	return elfpatch.Patch
}

func (d *Driver) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Build runs the full pipeline for one version: ensure artifacts,
// patch loader metadata, render configuration, compose layers, and
// assemble the image. Nothing is published on error.
func (d *Driver) Build(ctx context.Context, descriptor *VersionDescriptor) (*image.Image, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	if issues := Validate(descriptor); len(issues) > 0 {
		return nil, fmt.Errorf("invalid descriptor for %q: %s", descriptor.Version, issues[0])
	}
	logger := d.logger().With("version", descriptor.Version)

	binaries, err := d.prepareBinaries(ctx, descriptor)
	if err != nil {
		return nil, err
	}

	params := d.renderParams(descriptor)
	configTree, err := d.renderConfigTree(params)
	if err != nil {
		return nil, fmt.Errorf("version %s: %w", descriptor.Version, err)
	}

	binaryTree, err := composeBinaries(descriptor.Version, binaries)
	if err != nil {
		return nil, fmt.Errorf("version %s: %w", descriptor.Version, err)
	}

	img, err := image.Assemble(ctx, image.Spec{
		Layers: []*pathtree.Tree{image.BaseLayer(), binaryTree, configTree},
		InitCommand: []string{
			binDir + "/meridian-monitor-" + descriptor.Version,
			"--conffile", monitorConfPath,
		},
		Environment: map[string]string{
			"MERIDIAN_CLUSTER_FILE": image.ClusterFilePath,
		},
		AutoStart:     []string{"meridian-monitor"},
		PostPlacement: image.StandardPostPlacement(),
		OutputDir:     d.OutputDir,
		ScratchDir:    d.ScratchDir,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("version %s: %w", descriptor.Version, err)
	}
	return img, nil
}

// prepareBinaries fetches the four artifacts and rewrites their
// loader metadata for the image's library layout. Executables get the
// fixed interpreter and run path; the client library, which is loaded
// rather than executed, gets the run path only.
func (d *Driver) prepareBinaries(ctx context.Context, descriptor *VersionDescriptor) (map[string][]byte, error) {
	patch := d.patcher()
	binaries := make(map[string][]byte, 4)

	for _, ref := range descriptor.sources() {
		data, err := d.Store.Ensure(ctx, d.Fetcher, ref)
		if err != nil {
			return nil, fmt.Errorf("version %s: artifact %s: %w", descriptor.Version, ref.Name, err)
		}

		cfg := elfpatch.Config{Interpreter: interpreterPath, RunPath: libDir}
		if ref.Name == "libmeridian_c.so" {
			cfg.Interpreter = ""
		}
		patched, err := patch(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("version %s: patching %s: %w", descriptor.Version, ref.Name, err)
		}
		binaries[ref.Name] = patched
	}
	return binaries, nil
}

// renderParams merges the descriptor's template parameters under the
// fixed boot-contract parameters. The boot contract always wins: a
// descriptor cannot move the cluster file or the listen port.
func (d *Driver) renderParams(descriptor *VersionDescriptor) map[string]string {
	params := make(map[string]string, len(descriptor.TemplateParams)+6)
	for name, value := range descriptor.TemplateParams {
		params[name] = value
	}
	params["VERSION"] = descriptor.Version
	params["PORT"] = fmt.Sprintf("%d", image.ListenPort)
	params["CLUSTER_FILE"] = image.ClusterFilePath
	params["DATA_DIR"] = image.DataDir
	params["LOG_DIR"] = image.LogDir
	params["SERVICE_USER"] = image.ServiceUser
	return params
}

func (d *Driver) renderConfigTree(params map[string]string) (*pathtree.Tree, error) {
	rendered := make(map[string][]byte, 3)
	for name, dest := range map[string]string{
		TemplateMonitorConf: monitorConfPath,
		TemplateClusterFile: image.ClusterFilePath,
		TemplateMonitorUnit: unitPath,
	} {
		out, err := render.Render(d.Templates[name], params)
		if err != nil {
			return nil, fmt.Errorf("rendering %s: %w", name, err)
		}
		rendered[dest] = out
	}

	return pathtree.Compose([]pathtree.File{
		{Path: monitorConfPath, Entry: pathtree.Entry{Content: rendered[monitorConfPath]}},
		// The server appends coordinator changes to the cluster file
		// at runtime, so it is owned by the service account.
		{Path: image.ClusterFilePath, Entry: pathtree.Entry{
			Content: rendered[image.ClusterFilePath],
			Mode:    0o644,
			UID:     image.ServiceUID,
			GID:     image.ServiceGID,
		}},
		{Path: unitPath, Entry: pathtree.Entry{Content: rendered[unitPath]}},
	})
}

func composeBinaries(version string, binaries map[string][]byte) (*pathtree.Tree, error) {
	tree := pathtree.NewTree()
	for _, name := range []string{"meridiand", "meridian-monitor", "meridian-cli"} {
		entry := pathtree.Entry{Content: binaries[name], Mode: 0o755}
		if err := pathtree.PlaceVersioned(tree, binDir, name, version, entry, pathtree.PolicyVersionedOnly); err != nil {
			return nil, err
		}
	}
	entry := pathtree.Entry{Content: binaries["libmeridian_c.so"], Mode: 0o755}
	if err := pathtree.PlaceVersioned(tree, libDir, "libmeridian_c.so", version, entry, pathtree.PolicyUnversioned); err != nil {
		return nil, err
	}
	return tree, nil
}

// BuildAll builds every descriptor, at most Parallelism at a time.
// Results are returned in descriptor order. A failed version never
// aborts its siblings; the caller inspects per-version Err fields.
func (d *Driver) BuildAll(ctx context.Context, descriptors []VersionDescriptor) []BuildResult {
	runID := uuid.NewString()
	results := make([]BuildResult, len(descriptors))

	limit := d.Parallelism
	if limit < 1 {
		limit = 1
	}

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(limit)
	for i := range descriptors {
		group.Go(func() error {
			descriptor := &descriptors[i]
			start := time.Now()
			img, err := d.Build(ctx, descriptor)
			results[i] = BuildResult{
				Version: descriptor.Version,
				Image:   img,
				Err:     err,
				Elapsed: time.Since(start),
			}
			d.record(runID, results[i])
			// Build errors stay in the result slice so sibling
			// versions keep building.
			return nil
		})
	}
	group.Wait()
	return results
}

func (d *Driver) record(runID string, result BuildResult) {
	if d.Sink == nil {
		return
	}
	record := runlog.Record{
		RunID:     runID,
		Kind:      runlog.KindImageBuild,
		Version:   result.Version,
		Outcome:   runlog.OutcomePass,
		ElapsedMS: result.Elapsed.Milliseconds(),
	}
	if result.Err != nil {
		record.Outcome = runlog.OutcomeFail
		record.Detail = result.Err.Error()
	}
	if err := d.Sink.Append(record); err != nil {
		d.logger().Warn("appending build record", "version", result.Version, "error", err)
	}
}
