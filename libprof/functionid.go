// Copyright The Callscope Authors
// SPDX-License-Identifier: Apache-2.0

package libprof // import "github.com/callscope/callscope/libprof"

import (
	"fmt"

	"github.com/zeebo/xxh3"
)

// FunctionID is the stable identity of a function. It is built from source
// coordinates, never from a runtime address, so it compares equal across
// repeated calls, dynamic re-loading and separate runs of the same target.
type FunctionID struct {
	// Module is the import path / module path of the defining unit.
	Module string

	// Name is the qualified function name within Module.
	Name string

	// Line is the line of the function definition in its source file.
	Line uint32
}

// NewFunctionID creates a FunctionID from its source coordinates.
func NewFunctionID(module, name string, line uint32) FunctionID {
	return FunctionID{Module: module, Name: name, Line: line}
}

// Valid reports whether the identity carries a resolvable function.
// Memory events without attribution carry the zero FunctionID.
func (f FunctionID) Valid() bool {
	return f.Name != ""
}

// String returns the canonical display form, e.g. "pkg/mod.fn:42".
func (f FunctionID) String() string {
	return fmt.Sprintf("%s.%s:%d", f.Module, f.Name, f.Line)
}

// Hash returns a 64-bit hash of the identity, suitable as a cache key.
func (f FunctionID) Hash() uint64 {
	return xxh3.HashStringSeed(f.Name, xxh3.HashString(f.Module)) ^ uint64(f.Line)
}

// Hash32 returns a 32-bit hash of the identity.
func (f FunctionID) Hash32() uint32 {
	return uint32(f.Hash())
}
