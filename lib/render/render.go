// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

// Package render substitutes named parameters into configuration and
// unit templates. Templates reference parameters as ${NAME} — only
// the braced form is recognized, so bare $NAME survives for shell
// interpretation inside rendered scripts.
//
// Rendering is a pure function: identical (template, parameters)
// inputs produce byte-identical output, and a template referencing
// any unbound parameter fails with an error naming every missing key.
package render

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

// parameterPattern matches ${NAME} references. Parameter names must
// start with a letter or underscore and contain only letters, digits,
// and underscores.
var parameterPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// UnboundParameterError reports template placeholders with no value
// in the parameter map. Parameters is sorted and deduplicated, so the
// error message is deterministic regardless of placeholder order or
// map iteration.
type UnboundParameterError struct {
	Parameters []string
}

func (e *UnboundParameterError) Error() string {
	return "unbound template parameters: " + strings.Join(e.Parameters, ", ")
}

// Render replaces every ${NAME} in template with params[NAME].
// Substitution happens in a single left-to-right pass: values are
// never re-scanned for placeholders, so a parameter value containing
// "${" renders literally.
func Render(template []byte, params map[string]string) ([]byte, error) {
	var unbound []string

	rendered := parameterPattern.ReplaceAllFunc(template, func(match []byte) []byte {
		name := string(match[2 : len(match)-1])
		if value, ok := params[name]; ok {
			return []byte(value)
		}
		unbound = append(unbound, name)
		return match
	})

	if len(unbound) > 0 {
		sort.Strings(unbound)
		unbound = dedupe(unbound)
		return nil, &UnboundParameterError{Parameters: unbound}
	}
	return rendered, nil
}

// RenderString is Render for string inputs.
func RenderString(template string, params map[string]string) (string, error) {
	rendered, err := Render([]byte(template), params)
	if err != nil {
		return "", err
	}
	return string(rendered), nil
}

// RenderFile reads the template at path and renders it.
func RenderFile(path string, params map[string]string) ([]byte, error) {
	template, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading template %s: %w", path, err)
	}
	rendered, err := Render(template, params)
	if err != nil {
		return nil, fmt.Errorf("rendering %s: %w", path, err)
	}
	return rendered, nil
}

// Parameters returns the sorted, deduplicated set of parameter names
// a template references. Used to validate descriptors against their
// templates before any build work starts.
func Parameters(template []byte) []string {
	matches := parameterPattern.FindAllSubmatch(template, -1)
	names := make([]string, 0, len(matches))
	for _, match := range matches {
		names = append(names, string(match[1]))
	}
	sort.Strings(names)
	return dedupe(names)
}

// dedupe removes adjacent duplicates from a sorted slice.
func dedupe(sorted []string) []string {
	out := sorted[:0]
	for _, s := range sorted {
		if len(out) == 0 || out[len(out)-1] != s {
			out = append(out, s)
		}
	}
	return out
}
