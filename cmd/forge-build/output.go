// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/term"

	"github.com/meridiandb/forge/lib/matrix"
)

// timePrecision rounds elapsed times for display.
const timePrecision = 10 * time.Millisecond

func newLogger(logJSON bool) *slog.Logger {
	options := &slog.HandlerOptions{Level: slog.LevelInfo}
	if logJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, options))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, options))
}

// renderResults formats the per-version build outcomes: a styled
// table on a terminal, plain lines when piped.
func renderResults(results []matrix.BuildResult) string {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return renderTable(results)
	}
	return renderPlain(results)
}

func renderPlain(results []matrix.BuildResult) string {
	var b strings.Builder
	for _, result := range results {
		if result.Err != nil {
			fmt.Fprintf(&b, "%s\tfailed\t%v\n", result.Version, result.Err)
			continue
		}
		fmt.Fprintf(&b, "%s\tok\t%s\t%s\n", result.Version, result.Image.ID, result.Elapsed.Round(timePrecision))
	}
	return b.String()
}

func renderTable(results []matrix.BuildResult) string {
	okStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers("VERSION", "STATUS", "IMAGE", "ELAPSED").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 1 {
				if results[row].Err != nil {
					return failStyle
				}
				return okStyle
			}
			return lipgloss.NewStyle()
		})

	for _, result := range results {
		if result.Err != nil {
			tbl.Row(result.Version, "failed", truncate(result.Err.Error(), 60), result.Elapsed.Round(timePrecision).String())
			continue
		}
		tbl.Row(result.Version, "ok", result.Image.ID.String(), result.Elapsed.Round(timePrecision).String())
	}
	return tbl.String() + "\n"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
