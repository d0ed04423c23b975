// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ir defines the intermediate representation the kernelgen compilation
// pipeline rewrites: a Module owning a forest of Operations organized into
// Regions and Blocks, with explicit use-lists connecting operand references to
// the values that define them.
//
// The representation is deliberately small: operations are identified by a
// namespaced opcode string (e.g. "hl.add", "loop.parallel", "gpu.module")
// registered in a Context, instead of one Go type per operation. Passes match
// on opcodes and rewrite in place.
//
// Mutation goes through the Operation/Block methods so that use-lists stay
// consistent; Verify checks the module-wide invariant that every operand
// references a still-live value.
package ir

import (
	"sort"

	"github.com/gomlx/exceptions"
)

// Context holds the operation vocabularies (opsets) a module may use.
// A fresh Context is created by the loader for every compilation; it is
// never shared across concurrent pipelines.
type Context struct {
	opsets map[string][]string
	ops    map[string]struct{}
}

// NewContext returns a Context with all standard opsets registered.
func NewContext() *Context {
	ctx := &Context{
		opsets: make(map[string][]string),
		ops:    make(map[string]struct{}),
	}
	registerStandardOpSets(ctx)
	return ctx
}

// RegisterOpSet registers a named vocabulary of opcodes. Registering the same
// opset twice is an error (it indicates two components fighting over a name).
func (ctx *Context) RegisterOpSet(name string, opcodes []string) {
	if _, found := ctx.opsets[name]; found {
		exceptions.Panicf("opset %q registered twice", name)
	}
	ctx.opsets[name] = opcodes
	for _, opcode := range opcodes {
		ctx.ops[opcode] = struct{}{}
	}
}

// IsRegistered reports whether the given opcode belongs to any registered
// opset. The parser rejects unregistered opcodes, and the allowlist package
// uses this as its registry query.
func (ctx *Context) IsRegistered(opcode string) bool {
	_, found := ctx.ops[opcode]
	return found
}

// OpSetNames returns the sorted names of the registered opsets.
func (ctx *Context) OpSetNames() []string {
	names := make([]string, 0, len(ctx.opsets))
	for name := range ctx.opsets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
