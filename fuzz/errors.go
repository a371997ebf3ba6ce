// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package fuzz

import "fmt"

// ScriptedCheckError reports a failed step of the fixed gate check.
// It is fatal: no randomized iterations run after it.
type ScriptedCheckError struct {
	Step   int
	Op     Op
	Detail string
}

func (e *ScriptedCheckError) Error() string {
	return fmt.Sprintf("scripted check step %d (%s): %s", e.Step, e.Op.Kind, e.Detail)
}

// UnknownOpError reports an operation kind no implementation handles.
type UnknownOpError struct {
	Kind OpKind
}

func (e *UnknownOpError) Error() string {
	return fmt.Sprintf("unknown operation kind %s", e.Kind)
}
