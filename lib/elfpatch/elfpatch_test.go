// Copyright 2026 The Forge Authors
// SPDX-License-Identifier: Apache-2.0

package elfpatch

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

// buildTestELF constructs a minimal but structurally valid 64-bit
// little-endian ELF with a PT_INTERP segment (unless interp is empty)
// and a dynamic section carrying a DT_RUNPATH entry. The layout is
// fixed: header, program headers, interp slot, .dynstr, .dynamic,
// .shstrtab, section headers.
func buildTestELF(t *testing.T, interp, runpath string) []byte {
	t.Helper()

	const (
		interpOff  = 0x100
		dynstrOff  = 0x140
		dynstrSize = 0x80
		dynamicOff = 0x200
		shstrOff   = 0x240
		shdrOff    = 0x280
		fileSize   = shdrOff + 4*64
	)

	out := make([]byte, fileSize)
	le := binary.LittleEndian

	phnum := 1 // PT_DYNAMIC
	if interp != "" {
		phnum = 2
	}

	// ELF header.
	copy(out[0:], []byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0})
	le.PutUint16(out[16:], 3)  // e_type ET_DYN
	le.PutUint16(out[18:], 62) // e_machine EM_X86_64
	le.PutUint32(out[20:], 1)  // e_version
	le.PutUint64(out[32:], 64) // e_phoff
	le.PutUint64(out[40:], shdrOff)
	le.PutUint16(out[52:], 64) // e_ehsize
	le.PutUint16(out[54:], 56) // e_phentsize
	le.PutUint16(out[56:], uint16(phnum))
	le.PutUint16(out[58:], 64) // e_shentsize
	le.PutUint16(out[60:], 4)  // e_shnum
	le.PutUint16(out[62:], 3)  // e_shstrndx

	putPhdr := func(off int, ptype, flags uint32, offset, filesz, align uint64) {
		le.PutUint32(out[off:], ptype)
		le.PutUint32(out[off+4:], flags)
		le.PutUint64(out[off+8:], offset)
		le.PutUint64(out[off+16:], offset) // vaddr
		le.PutUint64(out[off+24:], offset) // paddr
		le.PutUint64(out[off+32:], filesz)
		le.PutUint64(out[off+40:], filesz) // memsz
		le.PutUint64(out[off+48:], align)
	}

	phdrAt := 64
	if interp != "" {
		copy(out[interpOff:], interp)
		putPhdr(phdrAt, 3 /* PT_INTERP */, 4, interpOff, uint64(len(interp))+1, 1)
		phdrAt += 56
	}
	putPhdr(phdrAt, 2 /* PT_DYNAMIC */, 6, dynamicOff, 48, 8)

	// .dynstr: index 0 is the empty string, the runpath starts at 1.
	copy(out[dynstrOff+1:], runpath)

	// .dynamic: DT_STRTAB, DT_RUNPATH, DT_NULL.
	le.PutUint64(out[dynamicOff:], 5) // DT_STRTAB
	le.PutUint64(out[dynamicOff+8:], dynstrOff)
	le.PutUint64(out[dynamicOff+16:], 29) // DT_RUNPATH
	le.PutUint64(out[dynamicOff+24:], 1)
	// Remaining entries stay zero (DT_NULL).

	// .shstrtab contents.
	shstr := []byte("\x00.dynstr\x00.dynamic\x00.shstrtab\x00")
	copy(out[shstrOff:], shstr)

	putShdr := func(index int, name, shtype uint32, flags, addr, offset, size uint64, link uint32, entsize uint64) {
		off := shdrOff + index*64
		le.PutUint32(out[off:], name)
		le.PutUint32(out[off+4:], shtype)
		le.PutUint64(out[off+8:], flags)
		le.PutUint64(out[off+16:], addr)
		le.PutUint64(out[off+24:], offset)
		le.PutUint64(out[off+32:], size)
		le.PutUint32(out[off+40:], link)
		le.PutUint64(out[off+48:], 1) // addralign
		le.PutUint64(out[off+56:], entsize)
	}

	// Section 0 stays all-zero (SHN_UNDEF).
	putShdr(1, 1, 3 /* STRTAB */, 2, dynstrOff, dynstrOff, dynstrSize, 0, 0)
	putShdr(2, 9, 6 /* DYNAMIC */, 3, dynamicOff, dynamicOff, 48, 1, 16)
	putShdr(3, 18, 3 /* STRTAB */, 0, 0, shstrOff, uint64(len(shstr)), 0, 0)

	return out
}

const (
	buildInterp  = "/build/toolchain/ld-linux-x86-64.so.2"
	buildRunPath = "/build/toolchain/lib64:/build/env/lib"

	targetInterp  = "/lib64/ld-linux-x86-64.so.2"
	targetRunPath = "/opt/meridian/lib"
)

func TestPatchRewritesLinkMetadata(t *testing.T) {
	t.Parallel()

	input := buildTestELF(t, buildInterp, buildRunPath)
	cfg := Config{Interpreter: targetInterp, RunPath: targetRunPath}

	patched, err := Patch(input, cfg)
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if len(patched) != len(input) {
		t.Fatalf("patched size %d, want %d (patching is in place)", len(patched), len(input))
	}
	if !bytes.Contains(patched, []byte(targetInterp+"\x00")) {
		t.Error("patched binary does not contain target interpreter")
	}
	if !bytes.Contains(patched, []byte(targetRunPath+"\x00")) {
		t.Error("patched binary does not contain target runpath")
	}
	if bytes.Contains(patched, []byte(buildRunPath)) {
		t.Error("patched binary still contains build-environment runpath")
	}
	// Input must not be modified.
	if !bytes.Equal(input, buildTestELF(t, buildInterp, buildRunPath)) {
		t.Error("Patch modified its input slice")
	}
}

func TestPatchIdempotent(t *testing.T) {
	t.Parallel()

	cfg := Config{Interpreter: targetInterp, RunPath: targetRunPath}
	input := buildTestELF(t, buildInterp, buildRunPath)

	once, err := Patch(input, cfg)
	if err != nil {
		t.Fatalf("first Patch: %v", err)
	}
	twice, err := Patch(once, cfg)
	if err != nil {
		t.Fatalf("second Patch: %v", err)
	}
	if !bytes.Equal(once, twice) {
		t.Error("patch(patch(x)) != patch(x)")
	}
}

func TestPatchSharedLibraryRunPathOnly(t *testing.T) {
	t.Parallel()

	// Shared libraries carry no PT_INTERP; only the runpath moves.
	input := buildTestELF(t, "", buildRunPath)
	patched, err := Patch(input, Config{RunPath: targetRunPath})
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if !bytes.Contains(patched, []byte(targetRunPath+"\x00")) {
		t.Error("patched library does not contain target runpath")
	}
}

func TestPatchRejectsNonELF(t *testing.T) {
	t.Parallel()

	_, err := Patch([]byte("#!/bin/sh\necho not an elf\n"), Config{RunPath: targetRunPath})
	var format *UnrecognizedFormatError
	if !errors.As(err, &format) {
		t.Fatalf("err = %v, want *UnrecognizedFormatError", err)
	}
}

func TestPatchRejectsOversizedReplacement(t *testing.T) {
	t.Parallel()

	input := buildTestELF(t, buildInterp, "/x")
	_, err := Patch(input, Config{RunPath: targetRunPath})
	var patchErr *PatchError
	if !errors.As(err, &patchErr) {
		t.Fatalf("err = %v, want *PatchError (slot too small)", err)
	}
}

func TestPatchMissingInterpSegment(t *testing.T) {
	t.Parallel()

	input := buildTestELF(t, "", buildRunPath)
	_, err := Patch(input, Config{Interpreter: targetInterp})
	var patchErr *PatchError
	if !errors.As(err, &patchErr) {
		t.Fatalf("err = %v, want *PatchError (no PT_INTERP)", err)
	}
}
