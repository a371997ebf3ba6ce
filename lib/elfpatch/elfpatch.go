// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

// Package elfpatch rewrites the dynamic-linkage metadata of fetched
// ELF binaries so they resolve their interpreter and shared libraries
// from paths that exist inside the assembled image, rather than the
// environment the binary was built in.
//
// Patching is strictly in place: the interpreter string (PT_INTERP)
// and the DT_RUNPATH/DT_RPATH string are overwritten inside their
// existing slots, NUL-padded to the original length. Replacements
// that do not fit are rejected rather than relocated — growing a
// string table would invalidate every offset that follows it, and the
// image layouts forge targets always use paths shorter than the build
// environment's store paths.
//
// Patch is idempotent: patching an already-patched binary returns it
// unchanged, byte for byte.
package elfpatch

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
)

// Config specifies the target linkage paths.
type Config struct {
	// Interpreter is the target PT_INTERP value (e.g.
	// "/lib64/ld-linux-x86-64.so.2"). Empty leaves the interpreter
	// untouched; shared libraries have no PT_INTERP and must leave
	// this empty.
	Interpreter string

	// RunPath is the target DT_RUNPATH (or legacy DT_RPATH) value
	// (e.g. "/opt/meridian/lib"). Empty leaves the search path
	// untouched.
	RunPath string
}

// UnrecognizedFormatError reports input whose link metadata forge
// cannot interpret: not an ELF file, an unsupported class or byte
// order, or a binary missing the requested metadata entirely.
type UnrecognizedFormatError struct {
	Reason string
	Err    error
}

func (e *UnrecognizedFormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unrecognized binary format: %s: %v", e.Reason, e.Err)
	}
	return "unrecognized binary format: " + e.Reason
}

func (e *UnrecognizedFormatError) Unwrap() error { return e.Err }

// PatchError reports a recognized binary that cannot be rewritten to
// the requested configuration, most commonly a replacement string
// longer than the slot it must occupy.
type PatchError struct {
	Reason string
}

func (e *PatchError) Error() string { return "patching binary: " + e.Reason }

// Dynamic table tags handled here. debug/elf exports these as typed
// constants; the raw values are what we compare against when walking
// the table manually.
const (
	dtNull    = int64(elf.DT_NULL)
	dtRPath   = int64(elf.DT_RPATH)
	dtRunPath = int64(elf.DT_RUNPATH)
)

// Patch returns a copy of binary with its interpreter and library
// search path rewritten per cfg. If the binary already matches cfg,
// the input is returned unchanged (no copy), making Patch idempotent.
//
// Only 64-bit little-endian ELF is supported — the only format the
// upstream artifacts ship in.
func Patch(data []byte, cfg Config) ([]byte, error) {
	file, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, &UnrecognizedFormatError{Reason: "parsing ELF header", Err: err}
	}
	if file.Class != elf.ELFCLASS64 || file.Data != elf.ELFDATA2LSB {
		return nil, &UnrecognizedFormatError{
			Reason: fmt.Sprintf("unsupported class/encoding %v/%v", file.Class, file.Data),
		}
	}

	patched := data
	changed := false

	// ensureCopy makes the working slice independent of the caller's
	// bytes before the first in-place edit.
	ensureCopy := func() {
		if !changed {
			patched = bytes.Clone(data)
			changed = true
		}
	}

	if cfg.Interpreter != "" {
		slot, err := interpSlot(file, data)
		if err != nil {
			return nil, err
		}
		current := cString(data[slot.offset : slot.offset+slot.size])
		if current != cfg.Interpreter {
			if len(cfg.Interpreter)+1 > int(slot.size) {
				return nil, &PatchError{Reason: fmt.Sprintf(
					"interpreter %q (%d bytes) does not fit PT_INTERP slot of %d bytes",
					cfg.Interpreter, len(cfg.Interpreter)+1, slot.size)}
			}
			ensureCopy()
			writePadded(patched[slot.offset:slot.offset+slot.size], cfg.Interpreter)
		}
	}

	if cfg.RunPath != "" {
		slot, err := runPathSlot(file, data)
		if err != nil {
			return nil, err
		}
		current := cString(data[slot.offset : slot.offset+slot.size])
		if current != cfg.RunPath {
			if len(cfg.RunPath)+1 > int(slot.size) {
				return nil, &PatchError{Reason: fmt.Sprintf(
					"runpath %q (%d bytes) does not fit existing slot of %d bytes",
					cfg.RunPath, len(cfg.RunPath)+1, slot.size)}
			}
			ensureCopy()
			writePadded(patched[slot.offset:slot.offset+slot.size], cfg.RunPath)
		}
	}

	return patched, nil
}

// stringSlot locates a rewritable NUL-terminated string inside the
// file image: its byte offset and the slot size available for a
// replacement (existing string length plus terminator).
type stringSlot struct {
	offset uint64
	size   uint64
}

func interpSlot(file *elf.File, data []byte) (stringSlot, error) {
	for _, prog := range file.Progs {
		if prog.Type != elf.PT_INTERP {
			continue
		}
		if prog.Off+prog.Filesz > uint64(len(data)) || prog.Filesz == 0 {
			return stringSlot{}, &UnrecognizedFormatError{Reason: "PT_INTERP segment out of bounds"}
		}
		return stringSlot{offset: prog.Off, size: prog.Filesz}, nil
	}
	return stringSlot{}, &PatchError{Reason: "binary has no PT_INTERP segment (interpreter rewrite requested)"}
}

func runPathSlot(file *elf.File, data []byte) (stringSlot, error) {
	dynamic := file.Section(".dynamic")
	dynstr := file.Section(".dynstr")
	if dynamic == nil || dynstr == nil {
		return stringSlot{}, &UnrecognizedFormatError{Reason: "binary has no dynamic section (statically linked?)"}
	}
	if dynamic.Offset+dynamic.FileSize > uint64(len(data)) ||
		dynstr.Offset+dynstr.FileSize > uint64(len(data)) {
		return stringSlot{}, &UnrecognizedFormatError{Reason: "dynamic sections out of bounds"}
	}

	table := data[dynamic.Offset : dynamic.Offset+dynamic.FileSize]
	for len(table) >= 16 {
		tag := int64(binary.LittleEndian.Uint64(table[0:8]))
		value := binary.LittleEndian.Uint64(table[8:16])
		table = table[16:]

		if tag == dtNull {
			break
		}
		if tag != dtRunPath && tag != dtRPath {
			continue
		}
		if value >= dynstr.FileSize {
			return stringSlot{}, &UnrecognizedFormatError{Reason: "DT_RUNPATH offset outside .dynstr"}
		}

		offset := dynstr.Offset + value
		// Slot extends to the terminating NUL of the existing string.
		end := bytes.IndexByte(data[offset:dynstr.Offset+dynstr.FileSize], 0)
		if end < 0 {
			return stringSlot{}, &UnrecognizedFormatError{Reason: "unterminated string in .dynstr"}
		}
		return stringSlot{offset: offset, size: uint64(end) + 1}, nil
	}
	return stringSlot{}, &PatchError{Reason: "binary has no DT_RUNPATH or DT_RPATH entry to rewrite"}
}

// writePadded writes value into slot as a NUL-terminated string,
// padding the remainder with NULs.
func writePadded(slot []byte, value string) {
	copy(slot, value)
	for i := len(value); i < len(slot); i++ {
		slot[i] = 0
	}
}

// cString returns the string up to the first NUL.
func cString(data []byte) string {
	if i := bytes.IndexByte(data, 0); i >= 0 {
		return string(data[:i])
	}
	return string(data)
}
