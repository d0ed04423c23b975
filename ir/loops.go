// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"github.com/gomlx/exceptions"
)

// Accessors for the structured loop operations.
//
// A loop.parallel over N independent induction dimensions carries 3N operands
// laid out as [lb0..lbN-1, ub0..ubN-1, step0..stepN-1] plus a "dims" integer
// attribute; its body is a single block with N index arguments. A loop.for is
// the 1-dimensional sequential variant with operands [lb, ub, step].

// LoopDims returns the number of induction dimensions of a loop.parallel.
func LoopDims(op *Operation) int {
	if op.OpCode() != OpLoopParallel {
		exceptions.Panicf("ir: LoopDims on %q", op.OpCode())
	}
	a, found := op.Attr("dims")
	if !found {
		exceptions.Panicf("ir: loop.parallel without \"dims\" attribute")
	}
	return int(a.Int())
}

// LoopLowerBounds returns the lower-bound operands of a loop.parallel.
func LoopLowerBounds(op *Operation) []*Value {
	n := LoopDims(op)
	return op.Operands()[0:n]
}

// LoopUpperBounds returns the upper-bound operands of a loop.parallel.
func LoopUpperBounds(op *Operation) []*Value {
	n := LoopDims(op)
	return op.Operands()[n : 2*n]
}

// LoopSteps returns the step operands of a loop.parallel.
func LoopSteps(op *Operation) []*Value {
	n := LoopDims(op)
	return op.Operands()[2*n : 3*n]
}

// LoopBody returns the single body block of a loop operation.
func LoopBody(op *Operation) *Block {
	return op.Region(0).Entry()
}

// MakeParallelLoop creates a loop.parallel with the given bounds at the
// builder's insertion point. The body block is created with one index
// argument per dimension and is left empty (no terminator).
func MakeParallelLoop(b *Builder, lbs, ubs, steps []*Value) *Operation {
	if len(lbs) == 0 || len(lbs) != len(ubs) || len(lbs) != len(steps) {
		exceptions.Panicf("ir: MakeParallelLoop with mismatched bounds %d/%d/%d",
			len(lbs), len(ubs), len(steps))
	}
	operands := make([]*Value, 0, 3*len(lbs))
	operands = append(operands, lbs...)
	operands = append(operands, ubs...)
	operands = append(operands, steps...)
	op := b.Create(OpLoopParallel, operands)
	op.SetAttr("dims", IntAttr(int64(len(lbs))))
	body := op.AddRegion().AddBlock()
	for range lbs {
		body.AddArg(Index())
	}
	return op
}

// MakeForLoop creates a loop.for with the given bounds; the body block has
// one index argument and is left empty.
func MakeForLoop(b *Builder, lb, ub, step *Value) *Operation {
	op := b.Create(OpLoopFor, []*Value{lb, ub, step})
	body := op.AddRegion().AddBlock()
	body.AddArg(Index())
	return op
}
