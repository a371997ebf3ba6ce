// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

// forge-build assembles bootable MeridianDB runtime images, one per
// version descriptor. Artifacts are fetched into a verified local
// cache, patched for the image's loader layout, and composed with
// rendered configuration into a content-addressed image directory.
//
// Exits non-zero if any version fails to build; a failed version
// never prevents the others from completing.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/meridiandb/forge/lib/artifact"
	"github.com/meridiandb/forge/lib/config"
	"github.com/meridiandb/forge/lib/content"
	"github.com/meridiandb/forge/lib/matrix"
	"github.com/meridiandb/forge/lib/runlog"
	"github.com/meridiandb/forge/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		showVersion   bool
		configPath    string
		descriptorDir string
		outputDir     string
		scratchDir    string
		cacheDir      string
		parallelism   int
		recordPath    string
		only          []string
		logJSON       bool
	)
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.StringVar(&configPath, "config", "", "path to forge.yaml (default: $FORGE_CONFIG)")
	pflag.StringVar(&descriptorDir, "descriptors", "", "directory of .jsonc version descriptors (default: embedded matrix)")
	pflag.StringVar(&outputDir, "output", "", "image output directory (overrides config)")
	pflag.StringVar(&scratchDir, "scratch", "", "scratch directory (overrides config)")
	pflag.StringVar(&cacheDir, "cache", "", "artifact cache directory (overrides config)")
	pflag.IntVar(&parallelism, "parallel", 0, "concurrent version builds (overrides config)")
	pflag.StringVar(&recordPath, "records", "", "run record file (overrides config; empty disables)")
	pflag.StringSliceVar(&only, "only", nil, "build only these versions")
	pflag.BoolVar(&logJSON, "log-json", false, "emit logs as JSON")
	pflag.Parse()

	if showVersion {
		fmt.Printf("forge-build %s\n", version.Info())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if descriptorDir != "" {
		cfg.Build.DescriptorDir = descriptorDir
	}
	if outputDir != "" {
		cfg.Paths.Images = outputDir
	}
	if scratchDir != "" {
		cfg.Paths.Scratch = scratchDir
	}
	if cacheDir != "" {
		cfg.Paths.Cache = cacheDir
	}
	if parallelism > 0 {
		cfg.Build.Parallelism = parallelism
	}
	if recordPath != "" {
		cfg.Paths.RunLog = recordPath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logger := newLogger(logJSON)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	descriptors, err := loadDescriptors(cfg)
	if err != nil {
		return err
	}
	descriptors, err = filterVersions(descriptors, only)
	if err != nil {
		return err
	}
	templates, err := content.Templates()
	if err != nil {
		return err
	}

	compression, err := artifact.ParseCompressionTag(cfg.Build.Compression)
	if err != nil {
		return err
	}
	store, err := artifact.NewStore(artifact.StoreConfig{
		Path:        cfg.Paths.Cache,
		Compression: compression,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	var sink *runlog.Sink
	if cfg.Paths.RunLog != "" {
		var file *os.File
		sink, file, err = runlog.OpenFile(cfg.Paths.RunLog)
		if err != nil {
			return err
		}
		defer file.Close()
	}

	driver := &matrix.Driver{
		Store:       store,
		Fetcher:     artifact.NewFetcher(artifact.FetcherConfig{Logger: logger}),
		Templates:   templates,
		Sink:        sink,
		Logger:      logger,
		ScratchDir:  cfg.Paths.Scratch,
		OutputDir:   cfg.Paths.Images,
		Parallelism: cfg.Build.Parallelism,
	}

	results := driver.BuildAll(ctx, descriptors)
	fmt.Print(renderResults(results))

	for _, result := range results {
		if result.Err != nil {
			return fmt.Errorf("%d of %d versions failed", countFailed(results), len(results))
		}
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if os.Getenv("FORGE_CONFIG") != "" {
		return config.Load()
	}
	return config.Default(), nil
}

func loadDescriptors(cfg *config.Config) ([]matrix.VersionDescriptor, error) {
	if cfg.Build.DescriptorDir != "" {
		return matrix.ReadDir(cfg.Build.DescriptorDir)
	}
	return content.Descriptors()
}

// filterVersions restricts descriptors to the --only set. Asking for
// a version the matrix does not carry is an error, not a silent skip.
func filterVersions(descriptors []matrix.VersionDescriptor, only []string) ([]matrix.VersionDescriptor, error) {
	if len(only) == 0 {
		return descriptors, nil
	}
	byVersion := make(map[string]matrix.VersionDescriptor, len(descriptors))
	for _, descriptor := range descriptors {
		byVersion[descriptor.Version] = descriptor
	}

	var selected []matrix.VersionDescriptor
	for _, want := range only {
		descriptor, ok := byVersion[want]
		if !ok {
			return nil, fmt.Errorf("version %s is not in the descriptor matrix", want)
		}
		selected = append(selected, descriptor)
	}
	return selected, nil
}

func countFailed(results []matrix.BuildResult) int {
	failed := 0
	for _, result := range results {
		if result.Err != nil {
			failed++
		}
	}
	return failed
}
