// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/kernelgen/ir"
	"github.com/gomlx/kernelgen/ir/parser"
	"github.com/gomlx/kernelgen/passes"
)

func parse(t *testing.T, src string) *ir.Module {
	t.Helper()
	m, err := parser.Parse(src)
	require.NoError(t, err)
	return m
}

func TestCanonicalizeIdentities(t *testing.T) {
	m := parse(t, `
module {
  func @f(%x: index) {
    %c0 = arith.constant() {value = 0} : () -> (index)
    %c1 = arith.constant() {value = 1} : () -> (index)
    %a = arith.addi(%x, %c0) : (index, index) -> (index)
    %b = arith.muli(%a, %c1) : (index, index) -> (index)
    return(%b) : (index) -> ()
  }
}
`)
	passes.Canonicalize(m)
	require.NoError(t, m.Verify())

	// x+0 and x*1 collapse to x and the now-dead constants are pruned.
	assert.Empty(t, m.FindAll(ir.OpArithAddI))
	assert.Empty(t, m.FindAll(ir.OpArithMulI))
	assert.Empty(t, m.FindAll(ir.OpArithConstant))
	fn := m.Funcs()[0]
	term := fn.Region(0).Entry().Terminator()
	assert.Same(t, fn.Region(0).Entry().Arg(0), term.Operand(0))
}

func TestCanonicalizeConstantFolding(t *testing.T) {
	m := parse(t, `
module {
  func @f() {
    %c8 = arith.constant() {value = 8} : () -> (index)
    %c3 = arith.constant() {value = 3} : () -> (index)
    %c4 = arith.constant() {value = 4} : () -> (index)
    %sum = arith.addi(%c8, %c3) : (index, index) -> (index)
    %q = arith.divi(%sum, %c4) : (index, index) -> (index)
    return(%q) : (index) -> ()
  }
}
`)
	passes.Canonicalize(m)
	require.NoError(t, m.Verify())

	consts := m.FindAll(ir.OpArithConstant)
	require.Len(t, consts, 1)
	value, found := consts[0].Attr("value")
	require.True(t, found)
	assert.Equal(t, int64(2), value.Int())
	assert.Empty(t, m.FindAll(ir.OpArithAddI))
	assert.Empty(t, m.FindAll(ir.OpArithDivI))
}

func TestCanonicalizeKeepsImpureOps(t *testing.T) {
	m := parse(t, `
module {
  func @f(%a: buffer<4xf32>) {
    %c0 = arith.constant() {value = 0} : () -> (index)
    %v = buf.load(%a, %c0) : (buffer<4xf32>, index) -> (f32)
    return() : () -> ()
  }
}
`)
	passes.Canonicalize(m)
	require.NoError(t, m.Verify())
	// The load result is unused but loads are not pure, so it stays, and so
	// does the constant it uses.
	assert.Len(t, m.FindAll(ir.OpBufLoad), 1)
	assert.Len(t, m.FindAll(ir.OpArithConstant), 1)
}

func TestCSE(t *testing.T) {
	m := parse(t, `
module {
  func @f(%x: index) {
    %c1 = arith.constant() {value = 1} : () -> (index)
    %a = arith.addi(%x, %c1) : (index, index) -> (index)
    %b = arith.addi(%x, %c1) : (index, index) -> (index)
    %s = arith.muli(%a, %b) : (index, index) -> (index)
    return(%s) : (index) -> ()
  }
}
`)
	passes.CSE(m)
	require.NoError(t, m.Verify())

	adds := m.FindAll(ir.OpArithAddI)
	require.Len(t, adds, 1)
	mul := m.FindAll(ir.OpArithMulI)[0]
	assert.Same(t, adds[0].Result(0), mul.Operand(0))
	assert.Same(t, adds[0].Result(0), mul.Operand(1))
}

func TestCSEHonorsAttrs(t *testing.T) {
	m := parse(t, `
module {
  func @f() {
    %c1 = arith.constant() {value = 1} : () -> (index)
    %c2 = arith.constant() {value = 2} : () -> (index)
    %s = arith.addi(%c1, %c2) : (index, index) -> (index)
    return(%s) : (index) -> ()
  }
}
`)
	passes.CSE(m)
	require.NoError(t, m.Verify())
	// Same opcode, different "value" attrs: both constants survive.
	assert.Len(t, m.FindAll(ir.OpArithConstant), 2)
}

func TestIsPure(t *testing.T) {
	m := parse(t, `
module {
  func @f(%a: buffer<4xf32>, %x: f32) {
    %c0 = arith.constant() {value = 0} : () -> (index)
    %v = buf.load(%a, %c0) : (buffer<4xf32>, index) -> (f32)
    buf.store(%x, %a, %c0) : (f32, buffer<4xf32>, index) -> ()
    %d = buf.dim(%a, %c0) : (buffer<4xf32>, index) -> (index)
    return() : () -> ()
  }
}
`)
	body := m.Funcs()[0].Region(0).Entry()
	assert.True(t, passes.IsPure(body.Op(0)))  // arith.constant
	assert.False(t, passes.IsPure(body.Op(1))) // buf.load
	assert.False(t, passes.IsPure(body.Op(2))) // buf.store
	assert.True(t, passes.IsPure(body.Op(3)))  // buf.dim
	assert.False(t, passes.IsPure(body.Terminator()))
}

func TestLowerToCFGFor(t *testing.T) {
	m := parse(t, `
module {
  func @f(%a: buffer<8xf32>, %x: f32) {
    %c0 = arith.constant() {value = 0} : () -> (index)
    %c8 = arith.constant() {value = 8} : () -> (index)
    %c1 = arith.constant() {value = 1} : () -> (index)
    loop.for(%c0, %c8, %c1) : (index, index, index) -> () {
      ^bb0(%i: index):
        buf.store(%x, %a, %i) : (f32, buffer<8xf32>, index) -> ()
        loop.yield() : () -> ()
    }
    return() : () -> ()
  }
}
`)
	fn := m.Funcs()[0]
	require.NoError(t, passes.LowerToCFG(fn))
	require.NoError(t, m.Verify())

	assert.Empty(t, m.FindAll(ir.OpLoopFor))
	assert.Empty(t, m.FindAll(ir.OpLoopYield))
	region := fn.Region(0)
	// Entry, header, body, continuation.
	require.Equal(t, 4, region.NumBlocks())

	entryBr := region.Entry().Terminator()
	require.Equal(t, ir.OpCFBr, entryBr.OpCode())
	header := entryBr.Successor(0)
	require.Equal(t, 1, header.NumArgs())
	condBr := header.Terminator()
	require.Equal(t, ir.OpCFCondBr, condBr.OpCode())
	require.Equal(t, 2, condBr.NumSuccessors())

	body := condBr.Successor(0)
	backBr := body.Terminator()
	require.Equal(t, ir.OpCFBr, backBr.OpCode())
	assert.Same(t, header, backBr.Successor(0))
	cont := condBr.Successor(1)
	assert.Equal(t, ir.OpReturn, cont.Terminator().OpCode())

	// The printed CFG must still parse.
	_, err := parser.Parse(m.String())
	require.NoError(t, err)
}

func TestLowerToCFGRejectsParallel(t *testing.T) {
	m := parse(t, `
module {
  func @f() {
    %c0 = arith.constant() {value = 0} : () -> (index)
    %c8 = arith.constant() {value = 8} : () -> (index)
    %c1 = arith.constant() {value = 1} : () -> (index)
    loop.parallel(%c0, %c8, %c1) {dims = 1} : (index, index, index) -> () {
      ^bb0(%i: index):
        loop.yield() : () -> ()
    }
    return() : () -> ()
  }
}
`)
	err := passes.LowerToCFG(m.Funcs()[0])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parallel loop")
}
