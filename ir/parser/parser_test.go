// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package parser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/kernelgen/ir"
	"github.com/gomlx/kernelgen/ir/parser"
)

// roundTrip parses src, prints it, parses the print and checks the two prints
// agree. Printer output is the canonical form, so the first print may differ
// from src but must be a fixed point.
func roundTrip(t *testing.T, src string) *ir.Module {
	t.Helper()
	m, err := parser.Parse(src)
	require.NoError(t, err)
	require.NoError(t, m.Verify())
	text := m.String()
	m2, err := parser.Parse(text)
	require.NoError(t, err, "reparsing printed module:\n%s", text)
	assert.Equal(t, text, m2.String())
	return m
}

func TestParseSimpleFunc(t *testing.T) {
	m := roundTrip(t, `
module {
  func @add(%a: tensor<8xf32>, %b: tensor<8xf32>) {
    %0 = hl.add(%a, %b) : (tensor<8xf32>, tensor<8xf32>) -> (tensor<8xf32>)
    return(%0) : (tensor<8xf32>) -> ()
  }
}
`)
	funcs := m.Funcs()
	require.Len(t, funcs, 1)
	fn := funcs[0]
	name, found := fn.Attr("sym_name")
	require.True(t, found)
	assert.Equal(t, "add", name.Str())
	body := fn.Region(0).Entry()
	assert.Equal(t, 2, body.NumArgs())
	require.Equal(t, 2, body.NumOps())
	assert.Equal(t, ir.OpHLAdd, body.Op(0).OpCode())
	assert.Equal(t, ir.OpReturn, body.Terminator().OpCode())
}

func TestParseRegionsAndAttrs(t *testing.T) {
	m := roundTrip(t, `
module {
  func @fill(%out: buffer<4xf32>) {
    %c0 = arith.constant() {value = 0} : () -> (index)
    %c4 = arith.constant() {value = 4} : () -> (index)
    %c1 = arith.constant() {value = 1} : () -> (index)
    %v = arith.constant() {value = 0.5} : () -> (f32)
    loop.parallel(%c0, %c4, %c1) {dims = 1, gpu.mapping = "block_x"} : (index, index, index) -> () {
      ^bb0(%i: index):
        buf.store(%v, %out, %i) : (f32, buffer<4xf32>, index) -> ()
        loop.yield() : () -> ()
    }
    return() : () -> ()
  }
}
`)
	loops := m.FindAll(ir.OpLoopParallel)
	require.Len(t, loops, 1)
	loop := loops[0]
	assert.Equal(t, 1, ir.LoopDims(loop))
	mapping, found := loop.Attr(ir.MappingAttrName)
	require.True(t, found)
	assert.Equal(t, "block_x", mapping.Str())
	assert.Equal(t, ir.OpLoopYield, ir.LoopBody(loop).Terminator().OpCode())
}

func TestParseMultiBlockFunc(t *testing.T) {
	m := roundTrip(t, `
module {
  func @count(%n: index) {
    %c0 = arith.constant() {value = 0} : () -> (index)
    cf.br(%c0)[^bb1] : (index) -> ()
  ^bb1(%i: index):
    %cond = arith.cmpi(%i, %n) {pred = "slt"} : (index, index) -> (i1)
    cf.cond_br(%cond)[^bb2, ^bb3] : (i1) -> ()
  ^bb2():
    %c1 = arith.constant() {value = 1} : () -> (index)
    %next = arith.addi(%i, %c1) : (index, index) -> (index)
    cf.br(%next)[^bb1] : (index) -> ()
  ^bb3():
    return() : () -> ()
  }
}
`)
	fn := m.Funcs()[0]
	region := fn.Region(0)
	require.Equal(t, 4, region.NumBlocks())
	entryTerm := region.Entry().Terminator()
	require.Equal(t, ir.OpCFBr, entryTerm.OpCode())
	require.Equal(t, 1, entryTerm.NumSuccessors())
	assert.Same(t, region.Blocks()[1], entryTerm.Successor(0))
	condBr := region.Blocks()[1].Terminator()
	require.Equal(t, ir.OpCFCondBr, condBr.OpCode())
	require.Equal(t, 2, condBr.NumSuccessors())
	assert.Same(t, region.Blocks()[2], condBr.Successor(0))
	assert.Same(t, region.Blocks()[3], condBr.Successor(1))
}

func TestParseBytesAttr(t *testing.T) {
	m := roundTrip(t, `
module {
  gpu.module @k_module attributes {gpu.binary = bytes<4b474231ff00>} {
  }
}
`)
	gms := m.GPUModules()
	require.Len(t, gms, 1)
	blob, found := gms[0].Attr(ir.GPUBinaryAttrName)
	require.True(t, found)
	assert.Equal(t, []byte{0x4b, 0x47, 0x42, 0x31, 0xff, 0x00}, blob.Bytes())
}

func TestParseErrors(t *testing.T) {
	for _, tc := range []struct {
		name, src, want string
	}{
		{"not a module", `func @f() { return() : () -> () }`, "expected top-level \"module\""},
		{"unknown op", `module { func @f() { hl.frobnicate() : () -> () return() : () -> () } }`, "unknown operation"},
		{"undefined value", `module { func @f() { return(%x) : (index) -> () } }`, "undefined value"},
		{"type mismatch", `module { func @f(%a: f32) { %0 = arith.negf(%a) : (f64) -> (f64) return() : () -> () } }`, "operand #0"},
		{"undefined label", `module { func @f() { cf.br()[^nowhere] : () -> () } }`, "undefined block label"},
		{"truncated", `module { func @f() {`, "unexpected end of input"},
		{"trailing input", "module {\n} module {\n}", "trailing input"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parser.Parse(tc.src)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "parsing source failed")
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
