// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"github.com/pkg/errors"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kernelgen/ir"
)

// LowerToCFG flattens the structured control flow of a function body into a
// multi-block CFG of cf.br/cf.cond_br, outermost constructs first: lowering
// moves a construct's body ops into new blocks of the function region, where
// any nested constructs surface for the next round. Parallel loops must have
// been rewritten to loop.for before this runs.
func LowerToCFG(fn *ir.Operation) error {
	for {
		op := firstStructured(fn.Region(0))
		if op == nil {
			return nil
		}
		switch op.OpCode() {
		case ir.OpLoopFor:
			lowerFor(op)
		case ir.OpLoopIf:
			lowerIf(op)
		case ir.OpLoopParallel:
			return errors.Errorf("parallel loop not lowered before CFG conversion")
		}
	}
}

func firstStructured(region *ir.Region) *ir.Operation {
	for _, block := range region.Blocks() {
		for _, op := range block.Ops() {
			if op.Is(ir.OpLoopFor, ir.OpLoopIf, ir.OpLoopParallel) {
				return op
			}
		}
	}
	return nil
}

// lowerFor expands
//
//	loop.for %lb to %ub step %s { body }
//
// into the canonical three-block form: a header testing the induction
// variable, the body branching back with the incremented value, and a
// continuation holding everything after the loop.
func lowerFor(op *ir.Operation) {
	block := op.Block()
	region := block.Region()
	lb, ub, step := op.Operand(0), op.Operand(1), op.Operand(2)

	header := region.AddBlock()
	iv := header.AddArg(ir.Index())
	bodyBlock := region.AddBlock()
	cont := region.AddBlock()
	moveOpsAfter(block, op, cont)

	entryBr := ir.NewOp(ir.OpCFBr, []*ir.Value{lb})
	entryBr.AddSuccessor(header)
	block.Append(entryBr)

	hb := ir.NewBuilder(header)
	cond := hb.Create(ir.OpArithCmpI, []*ir.Value{iv, ub}, ir.Scalar(dtypes.Bool))
	cond.SetAttr("pred", ir.StringAttr("slt"))
	headerBr := hb.Create(ir.OpCFCondBr, []*ir.Value{cond.Result(0)})
	headerBr.AddSuccessor(bodyBlock)
	headerBr.AddSuccessor(cont)

	srcBody := ir.LoopBody(op)
	srcBody.Arg(0).ReplaceAllUsesWith(iv)
	moveAllOps(srcBody, bodyBlock)

	yield := bodyBlock.Terminator()
	bb := ir.NewBuilder(bodyBlock)
	bb.SetInsertionPoint(bodyBlock, yield)
	ivNext := bb.Binary(ir.OpArithAddI, iv, step)
	backBr := bb.Create(ir.OpCFBr, []*ir.Value{ivNext})
	backBr.AddSuccessor(header)
	yield.Erase()

	op.Erase()
}

// lowerIf expands loop.if into a conditional branch over one or two branch
// blocks that rejoin at a continuation.
func lowerIf(op *ir.Operation) {
	block := op.Block()
	region := block.Region()

	thenBlock := region.AddBlock()
	var elseBlock *ir.Block
	if op.NumRegions() > 1 {
		elseBlock = region.AddBlock()
	}
	cont := region.AddBlock()
	moveOpsAfter(block, op, cont)

	condBr := ir.NewOp(ir.OpCFCondBr, []*ir.Value{op.Operand(0)})
	condBr.AddSuccessor(thenBlock)
	if elseBlock != nil {
		condBr.AddSuccessor(elseBlock)
	} else {
		condBr.AddSuccessor(cont)
	}
	block.Append(condBr)

	inlineBranch(op.Region(0).Entry(), thenBlock, cont)
	if elseBlock != nil {
		inlineBranch(op.Region(1).Entry(), elseBlock, cont)
	}
	op.Erase()
}

// inlineBranch moves a branch region's ops into dst, replacing the
// loop.yield terminator with a jump to the continuation.
func inlineBranch(src, dst, cont *ir.Block) {
	moveAllOps(src, dst)
	if term := dst.Terminator(); term != nil && term.OpCode() == ir.OpLoopYield {
		term.Erase()
	}
	br := ir.NewOp(ir.OpCFBr, nil)
	br.AddSuccessor(cont)
	dst.Append(br)
}

// moveOpsAfter moves every op after mark from src to the end of dst,
// preserving order.
func moveOpsAfter(src *ir.Block, mark *ir.Operation, dst *ir.Block) {
	var trailing []*ir.Operation
	seen := false
	for _, op := range src.Ops() {
		if seen {
			trailing = append(trailing, op)
		}
		if op == mark {
			seen = true
		}
	}
	for _, op := range trailing {
		op.Unlink()
		dst.Append(op)
	}
}

func moveAllOps(src, dst *ir.Block) {
	ops := make([]*ir.Operation, len(src.Ops()))
	copy(ops, src.Ops())
	for _, op := range ops {
		op.Unlink()
		dst.Append(op)
	}
}
