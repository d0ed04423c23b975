// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package looptransform rewrites the parallel loop nests produced by
// high-level lowering into the shape device mapping expects:
//
//   - Collapse turns every multi-dimensional loop.parallel into an equivalent
//     one-dimensional loop whose index is delinearized inside the body.
//   - Tile splits every innermost loop.parallel into an outer tiled loop and
//     an inner intra-tile loop, optionally twice when unroll factors are
//     given, so that the inner-most level can later be fully unrolled by the
//     device backend.
//
// Both rewrites are purely structural and cannot fail on valid input.
package looptransform

import (
	"github.com/gomlx/kernelgen/ir"
	"github.com/gomlx/kernelgen/passes"
)

// Run applies Collapse then Tile to every function, followed by a cleanup
// round, mirroring the stage ordering of the pipeline.
func Run(m *ir.Module, tileSizes, unrollFactors []int64) {
	Collapse(m)
	Tile(m, tileSizes, unrollFactors)
	passes.Canonicalize(m)
	passes.CSE(m)
}

// Collapse rewrites every loop.parallel with more than one induction
// dimension into a single-dimension loop over the product of the trip counts,
// recovering the original indices by division/remainder inside the body.
// One-dimensional loops are untouched.
func Collapse(m *ir.Module) {
	for _, fn := range m.Funcs() {
		var loops []*ir.Operation
		fn.Walk(func(op *ir.Operation) {
			if op.OpCode() == ir.OpLoopParallel && ir.LoopDims(op) > 1 {
				loops = append(loops, op)
			}
		})
		for _, loop := range loops {
			collapseLoop(loop)
		}
	}
}

func collapseLoop(loop *ir.Operation) {
	n := ir.LoopDims(loop)
	lbs, ubs, steps := ir.LoopLowerBounds(loop), ir.LoopUpperBounds(loop), ir.LoopSteps(loop)

	b := ir.NewBuilder(loop.Block())
	b.SetInsertionPoint(loop.Block(), loop)
	b.SetLoc(loop.Loc())

	// Trip count per dimension and the collapsed total.
	trips := make([]*ir.Value, n)
	for i := 0; i < n; i++ {
		span := b.Binary(ir.OpArithSubI, ubs[i], lbs[i])
		trips[i] = b.Binary(ir.OpArithDivI, span, steps[i])
	}
	total := trips[0]
	for i := 1; i < n; i++ {
		total = b.Binary(ir.OpArithMulI, total, trips[i])
	}
	zero := b.ConstIndex(0)
	one := b.ConstIndex(1)

	collapsed := ir.MakeParallelLoop(b, []*ir.Value{zero}, []*ir.Value{total}, []*ir.Value{one})
	collapsed.SetLoc(loop.Loc())
	body := ir.LoopBody(collapsed)
	ib := ir.NewBuilder(body)
	ib.SetLoc(loop.Loc())

	// Delinearize: last dimension varies fastest.
	indices := make([]*ir.Value, n)
	rem := body.Arg(0)
	for i := n - 1; i >= 1; i-- {
		indices[i] = ib.Binary(ir.OpArithRemI, rem, trips[i])
		rem = ib.Binary(ir.OpArithDivI, rem, trips[i])
	}
	indices[0] = rem
	for i := 0; i < n; i++ {
		scaled := ib.Binary(ir.OpArithMulI, indices[i], steps[i])
		indices[i] = ib.Binary(ir.OpArithAddI, lbs[i], scaled)
	}

	moveBody(loop, body, indices)
	loop.Erase()
}

// Tile tiles every innermost loop.parallel of every function. The effective
// outer tile is tileSizes[i]*unrollFactors[i] when unroll factors are given
// (so that the requested tiling survives the later unrolling), followed by a
// second tiling of the intra-tile loop with the unroll factors directly.
// Loops nested inside a shape.assuming scope are tiled with the base tile
// sizes only: unrolling under a still-unverified shape constraint is unsafe.
func Tile(m *ir.Module, tileSizes, unrollFactors []int64) {
	if len(tileSizes) == 0 {
		return
	}
	outerTile := make([]int64, len(tileSizes))
	copy(outerTile, tileSizes)
	var innerTile []int64
	if len(unrollFactors) == len(tileSizes) && len(unrollFactors) > 0 {
		innerTile = unrollFactors
		for i, factor := range unrollFactors {
			outerTile[i] *= factor
		}
	}

	for _, fn := range m.Funcs() {
		for _, loop := range InnermostParallelLoops(fn) {
			if loop.ParentOfCode(ir.OpShapeAssuming) != nil {
				tileLoop(loop, tileSizes)
				continue
			}
			_, inner := tileLoop(loop, outerTile)
			if len(innerTile) > 0 {
				tileLoop(inner, innerTile)
			}
		}
	}
}

// InnermostParallelLoops returns the loop.parallel operations under fn that
// contain no further loop.parallel.
func InnermostParallelLoops(fn *ir.Operation) []*ir.Operation {
	var all []*ir.Operation
	fn.Walk(func(op *ir.Operation) {
		if op.OpCode() == ir.OpLoopParallel {
			all = append(all, op)
		}
	})
	var innermost []*ir.Operation
	for _, loop := range all {
		nested := false
		loop.Walk(func(op *ir.Operation) {
			if op != loop && op.OpCode() == ir.OpLoopParallel {
				nested = true
			}
		})
		if !nested {
			innermost = append(innermost, loop)
		}
	}
	return innermost
}

// tileLoop splits loop into an outer loop stepping by tile-size*step and an
// inner loop covering one tile, with a min-bound on the inner trip count for
// the partial last tile. Returns the (outer, inner) pair.
func tileLoop(loop *ir.Operation, sizes []int64) (outer, inner *ir.Operation) {
	n := ir.LoopDims(loop)
	lbs, ubs, steps := ir.LoopLowerBounds(loop), ir.LoopUpperBounds(loop), ir.LoopSteps(loop)

	b := ir.NewBuilder(loop.Block())
	b.SetInsertionPoint(loop.Block(), loop)
	b.SetLoc(loop.Loc())

	sizeAt := func(i int) int64 {
		if i < len(sizes) {
			return sizes[i]
		}
		return 1
	}
	outerSteps := make([]*ir.Value, n)
	for i := 0; i < n; i++ {
		outerSteps[i] = b.Binary(ir.OpArithMulI, steps[i], b.ConstIndex(sizeAt(i)))
	}
	outer = ir.MakeParallelLoop(b, lbs, ubs, outerSteps)
	outer.SetLoc(loop.Loc())
	outerBody := ir.LoopBody(outer)
	ob := ir.NewBuilder(outerBody)
	ob.SetLoc(loop.Loc())

	// Inner bounds: 0 .. min(tile*step, ub - iv) by the original step, so the
	// partial tile at the upper edge stays in range.
	innerLBs := make([]*ir.Value, n)
	innerUBs := make([]*ir.Value, n)
	innerSteps := make([]*ir.Value, n)
	for i := 0; i < n; i++ {
		innerLBs[i] = ob.ConstIndex(0)
		remaining := ob.Binary(ir.OpArithSubI, ubs[i], outerBody.Arg(i))
		innerUBs[i] = ob.Binary(ir.OpArithMinI, outerSteps[i], remaining)
		innerSteps[i] = steps[i]
	}
	inner = ir.MakeParallelLoop(ob, innerLBs, innerUBs, innerSteps)
	inner.SetLoc(loop.Loc())
	innerBody := ir.LoopBody(inner)
	ib := ir.NewBuilder(innerBody)
	ib.SetLoc(loop.Loc())

	indices := make([]*ir.Value, n)
	for i := 0; i < n; i++ {
		indices[i] = ib.Binary(ir.OpArithAddI, outerBody.Arg(i), innerBody.Arg(i))
	}
	moveBody(loop, innerBody, indices)
	ob.Create(ir.OpLoopYield, nil)
	loop.Erase()
	return outer, inner
}

// moveBody replaces the source loop's induction arguments with the given
// values and moves its body operations (terminator included) to the end of
// dst.
func moveBody(src *ir.Operation, dst *ir.Block, argReplacements []*ir.Value) {
	srcBody := ir.LoopBody(src)
	for i, arg := range srcBody.Args() {
		arg.ReplaceAllUsesWith(argReplacements[i])
	}
	ops := make([]*ir.Operation, len(srcBody.Ops()))
	copy(ops, srcBody.Ops())
	for _, op := range ops {
		op.Unlink()
		dst.Append(op)
	}
}

// Nest returns the chain of loop.parallel operations starting at the first
// one under fn, following the first nested parallel loop at each level,
// outermost first. Tests use it to inspect the bounds the tiling produced.
func Nest(fn *ir.Operation) []*ir.Operation {
	var chain []*ir.Operation
	current := firstParallel(fn, nil)
	for current != nil {
		chain = append(chain, current)
		current = firstParallel(current, current)
	}
	return chain
}

func firstParallel(root, skip *ir.Operation) *ir.Operation {
	var found *ir.Operation
	root.Walk(func(op *ir.Operation) {
		if found == nil && op != skip && op.OpCode() == ir.OpLoopParallel {
			found = op
		}
	})
	return found
}

// ConstStep returns the constant step of the given dimension of a
// loop.parallel, if the step folds to an arith.constant.
func ConstStep(loop *ir.Operation, dim int) (int64, bool) {
	step := ir.LoopSteps(loop)[dim]
	def := step.Def()
	if def == nil || def.OpCode() != ir.OpArithConstant {
		return 0, false
	}
	a, found := def.Attr("value")
	if !found {
		return 0, false
	}
	return a.Int(), true
}
