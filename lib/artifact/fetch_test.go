// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testFetcher(t *testing.T, client *http.Client) *Fetcher {
	t.Helper()
	return NewFetcher(FetcherConfig{
		Client:     client,
		Retries:    2,
		RetryDelay: time.Millisecond,
		Logger:     slog.New(slog.DiscardHandler),
	})
}

func TestFetchVerified(t *testing.T) {
	t.Parallel()

	payload := []byte("upstream artifact payload")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer server.Close()

	fetcher := testFetcher(t, server.Client())
	got, err := fetcher.Fetch(context.Background(), server.URL, HashContent(payload))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("fetched %q, want %q", got, payload)
	}
}

func TestFetchTamperedBytes(t *testing.T) {
	t.Parallel()

	payload := []byte("original payload")
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write([]byte("tampered payload!"))
	}))
	defer server.Close()

	fetcher := testFetcher(t, server.Client())
	_, err := fetcher.Fetch(context.Background(), server.URL, HashContent(payload))

	var mismatch *HashMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("err = %v, want *HashMismatchError", err)
	}
	if mismatch.Want != HashContent(payload) {
		t.Errorf("mismatch.Want = %s, want %s", mismatch.Want, HashContent(payload))
	}
	// A hash mismatch must be terminal, never silently retried.
	if n := requests.Load(); n != 1 {
		t.Errorf("server saw %d requests after mismatch, want 1", n)
	}
}

func TestFetchRetriesTransportFailures(t *testing.T) {
	t.Parallel()

	payload := []byte("eventually available")
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) < 3 {
			http.Error(w, "upstream mirror flake", http.StatusBadGateway)
			return
		}
		w.Write(payload)
	}))
	defer server.Close()

	fetcher := testFetcher(t, server.Client())
	got, err := fetcher.Fetch(context.Background(), server.URL, HashContent(payload))
	if err != nil {
		t.Fatalf("Fetch after retries: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("fetched %q, want %q", got, payload)
	}
	if n := requests.Load(); n != 3 {
		t.Errorf("server saw %d requests, want 3", n)
	}
}

func TestFetchExhaustedRetriesReportsNetworkError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "permanently down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	fetcher := testFetcher(t, server.Client())
	_, err := fetcher.Fetch(context.Background(), server.URL, HashContent([]byte("never served")))

	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("err = %v, want *NetworkError", err)
	}
}

func TestFetchNegativeRetriesDisablesRetry(t *testing.T) {
	t.Parallel()

	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	fetcher := NewFetcher(FetcherConfig{
		Client:     server.Client(),
		Retries:    -1,
		RetryDelay: time.Millisecond,
		Logger:     slog.New(slog.DiscardHandler),
	})
	if _, err := fetcher.Fetch(context.Background(), server.URL, HashContent([]byte("never served"))); err == nil {
		t.Fatal("Fetch against a dead server succeeded")
	}
	if n := requests.Load(); n != 1 {
		t.Errorf("server saw %d requests with retries disabled, want 1", n)
	}
}

func TestFetchRejectsZeroHash(t *testing.T) {
	t.Parallel()

	fetcher := testFetcher(t, http.DefaultClient)
	if _, err := fetcher.Fetch(context.Background(), "http://unused.invalid/", Hash{}); err == nil {
		t.Error("Fetch with zero expected hash succeeded, want error")
	}
}
