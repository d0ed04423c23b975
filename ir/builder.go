// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// Builder creates operations at an insertion point inside a block. It is the
// construction API shared by the parser and the rewriting passes.
type Builder struct {
	block  *Block
	before *Operation // insert before this op; nil appends at the end
	loc    Loc
}

// NewBuilder returns a builder appending at the end of the given block.
func NewBuilder(block *Block) *Builder {
	if block == nil {
		exceptions.Panicf("ir: NewBuilder with nil block")
	}
	return &Builder{block: block}
}

// SetInsertionPoint makes the builder insert just before the given operation.
// A nil before appends at the end of the block.
func (b *Builder) SetInsertionPoint(block *Block, before *Operation) {
	b.block = block
	b.before = before
}

// Block returns the block the builder currently inserts into.
func (b *Builder) Block() *Block { return b.block }

// SetLoc sets the source location stamped on subsequently created operations.
func (b *Builder) SetLoc(loc Loc) { b.loc = loc }

// Create builds an operation at the insertion point and returns it.
func (b *Builder) Create(opcode string, operands []*Value, resultTypes ...Type) *Operation {
	op := NewOp(opcode, operands, resultTypes...)
	op.SetLoc(b.loc)
	if b.before != nil {
		b.block.InsertBefore(b.before, op)
	} else {
		b.block.Append(op)
	}
	return op
}

// Insert places an already-built, detached operation at the insertion point.
func (b *Builder) Insert(op *Operation) *Operation {
	if b.before != nil {
		b.block.InsertBefore(b.before, op)
	} else {
		b.block.Append(op)
	}
	return op
}

// ConstIndex creates an arith.constant of index type.
func (b *Builder) ConstIndex(v int64) *Value {
	op := b.Create(OpArithConstant, nil, Index())
	op.SetAttr("value", IntAttr(v))
	return op.Result(0)
}

// ConstFloat creates an arith.constant scalar of the given dtype.
func (b *Builder) ConstFloat(dtype dtypes.DType, v float64) *Value {
	op := b.Create(OpArithConstant, nil, Scalar(dtype))
	op.SetAttr("value", FloatAttr(v))
	return op.Result(0)
}

// ConstInt creates an arith.constant scalar integer of the given dtype.
func (b *Builder) ConstInt(dtype dtypes.DType, v int64) *Value {
	op := b.Create(OpArithConstant, nil, Scalar(dtype))
	op.SetAttr("value", IntAttr(v))
	return op.Result(0)
}

// Binary creates a two-operand, one-result operation with the result typed
// like the left operand.
func (b *Builder) Binary(opcode string, lhs, rhs *Value) *Value {
	return b.Create(opcode, []*Value{lhs, rhs}, lhs.Type()).Result(0)
}

// Unary creates a one-operand, one-result operation preserving the type.
func (b *Builder) Unary(opcode string, operand *Value) *Value {
	return b.Create(opcode, []*Value{operand}, operand.Type()).Result(0)
}
