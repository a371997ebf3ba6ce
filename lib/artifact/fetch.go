// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Ref identifies one upstream artifact: a logical name, the server
// version it belongs to, where to download it, and the expected
// content hash. Refs are declared in version descriptors and never
// mutated.
type Ref struct {
	// Name is the logical artifact name ("meridiand",
	// "libmeridian_c", ...). Used for store layout and logging.
	Name string `json:"name"`

	// Version is the server version this artifact belongs to. Part
	// of the store key — two versions of the same artifact never
	// share a cache entry, even if their names collide.
	Version string `json:"version"`

	// URL is the download location.
	URL string `json:"url"`

	// Hash is the expected content digest. Zero is invalid.
	Hash Hash `json:"hash"`
}

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	// Client is the HTTP client to use. Defaults to a client with a
	// 5-minute overall timeout.
	Client *http.Client

	// Retries is the number of additional attempts after a transport
	// failure. A hash mismatch is never retried. Zero means the
	// default of 2; negative disables retries.
	Retries int

	// RetryDelay is the pause between attempts. Zero means the
	// default of 2s.
	RetryDelay time.Duration

	// Logger for fetch operations. Defaults to slog.Default().
	Logger *slog.Logger
}

// Fetcher downloads artifacts and verifies their content hashes. No
// partial or unverified bytes are ever returned: the caller sees
// either the complete, hash-verified artifact or an error.
type Fetcher struct {
	client     *http.Client
	retries    int
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewFetcher creates a Fetcher.
func NewFetcher(config FetcherConfig) *Fetcher {
	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	retries := config.Retries
	switch {
	case retries == 0:
		retries = 2
	case retries < 0:
		retries = 0
	}
	delay := config.RetryDelay
	if delay == 0 {
		delay = 2 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{client: client, retries: retries, retryDelay: delay, logger: logger}
}

// Fetch downloads url and returns the body iff its content-domain
// BLAKE3 digest equals want. Transport failures are retried up to the
// configured count, and every attempt re-verifies the hash from
// scratch. A *HashMismatchError is terminal on first occurrence.
func (f *Fetcher) Fetch(ctx context.Context, url string, want Hash) ([]byte, error) {
	if want.IsZero() {
		return nil, fmt.Errorf("fetching %s: expected hash is unset", url)
	}

	var lastErr error
	for attempt := 0; attempt <= f.retries; attempt++ {
		if attempt > 0 {
			f.logger.Warn("retrying fetch", "url", url, "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.retryDelay):
			}
		}

		data, err := f.fetchOnce(ctx, url)
		if err != nil {
			lastErr = &NetworkError{URL: url, Err: err}
			continue
		}

		got := HashContent(data)
		if got != want {
			// Terminal: the upstream bytes are wrong, and retrying
			// cannot make them right.
			return nil, &HashMismatchError{Source: url, Want: want, Got: got}
		}

		f.logger.Info("fetched artifact", "url", url, "bytes", len(data), "hash", got)
		return data, nil
	}
	return nil, lastErr
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	response, err := f.client.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		// Drain a little of the body for the error message; upstream
		// mirrors often return a useful plain-text reason.
		snippet, _ := io.ReadAll(io.LimitReader(response.Body, 256))
		return nil, fmt.Errorf("unexpected status %s: %s", response.Status, bytes.TrimSpace(snippet))
	}

	return io.ReadAll(response.Body)
}
