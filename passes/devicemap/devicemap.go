// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package devicemap implements the device mapping stage: it decides which
// parts of the loop program run on the device, outlines them into gpu.module
// kernels and rewrites the host side to launch them.
//
// Sub-passes, in order:
//
//   - buffer rewrites: buf.reshape expansion, copy removal, dead cast
//     pruning, allocation hoisting;
//   - shape-constraint discharge: shape.assuming regions are inlined and the
//     constraints become rt.assert checks on the host;
//   - grid mapping and outlining (skipped on the CPU-only path): the two
//     outer levels of every tiled loop nest map to the block and thread axes,
//     deeper levels stay sequential inside the kernel;
//   - device-only arithmetic rewrites (tanh approximation);
//   - structural cleanup: remaining loop.parallel become loop.for, min-bound
//     trip counts are specialized into a static and a dynamic copy;
//   - allocation lowering: small static buffers go to the stack, the rest
//     become rt.alloc with a host or device placement.
//
// Buffer deallocation is intentionally not inserted, see DESIGN.md.
package devicemap

import (
	"k8s.io/klog/v2"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kernelgen/ir"
	"github.com/gomlx/kernelgen/passes"
)

// Run maps the module onto the device in place. With cpuOnly the mapping and
// outlining steps are skipped and every loop stays on the host. With
// embedDebugPrints an rt.print of every buffer argument is inserted before
// each kernel launch.
func Run(m *ir.Module, cpuOnly, embedDebugPrints bool) error {
	expandReshapes(m)
	removeCopies(m)
	pruneDeadCasts(m)
	hoistAllocs(m)
	if err := dischargeShapeConstraints(m); err != nil {
		return err
	}

	if !cpuOnly {
		mapLoops(m)
		if err := outlineKernels(m); err != nil {
			return err
		}
		if n := len(m.GPUModules()); n != 1 {
			klog.Warningf("expected exactly one kernel module, got %d", n)
		}
		approximateTanh(m)
	}

	convertParallelToFor(m)
	specializeMinBounds(m)
	lowerAllocations(m)
	if embedDebugPrints && !cpuOnly {
		insertDebugPrints(m)
	}

	passes.Canonicalize(m)
	passes.CSE(m)
	pruneDeadCasts(m)
	return nil
}

// mapLoops annotates every loop.parallel with the device axis it maps to:
// the outermost level of a nest becomes the block axis, the next level the
// thread axis, anything deeper stays sequential.
func mapLoops(m *ir.Module) {
	for _, fn := range m.Funcs() {
		fn.Walk(func(op *ir.Operation) {
			if op.OpCode() != ir.OpLoopParallel {
				return
			}
			depth := 0
			for p := op.ParentOp(); p != nil; p = p.ParentOp() {
				if p.OpCode() == ir.OpLoopParallel {
					depth++
				}
			}
			var axis string
			switch depth {
			case 0:
				axis = "block_x"
			case 1:
				axis = "thread_x"
			default:
				axis = "seq"
			}
			op.SetAttr(ir.MappingAttrName, ir.StringAttr(axis))
		})
	}
}

// convertParallelToFor rewrites every remaining loop.parallel (host loops and
// sequential intra-kernel levels) into the equivalent loop.for. All parallel
// loops are one-dimensional at this point, collapse ran earlier.
func convertParallelToFor(m *ir.Module) {
	var loops []*ir.Operation
	m.Walk(func(op *ir.Operation) {
		if op.OpCode() == ir.OpLoopParallel {
			loops = append(loops, op)
		}
	})
	for _, loop := range loops {
		b := ir.NewBuilder(loop.Block())
		b.SetInsertionPoint(loop.Block(), loop)
		b.SetLoc(loop.Loc())
		lb := ir.LoopLowerBounds(loop)[0]
		ub := ir.LoopUpperBounds(loop)[0]
		step := ir.LoopSteps(loop)[0]
		forLoop := ir.MakeForLoop(b, lb, ub, step)
		forLoop.SetLoc(loop.Loc())
		if a, found := loop.Attr(ir.MappingAttrName); found {
			forLoop.SetAttr(ir.MappingAttrName, a)
		}
		body := ir.LoopBody(forLoop)
		moveBody(loop, body, []*ir.Value{body.Arg(0)})
		loop.Erase()
	}
}

// specializeMinBounds splits every loop.for whose upper bound is an
// arith.mini into a loop.if choosing between two copies of the loop, one per
// bound operand. In the common case one side is a constant tile size, so the
// taken copy has a static trip count the backend can fully unroll.
func specializeMinBounds(m *ir.Module) {
	for {
		loop := findMinBoundLoop(m)
		if loop == nil {
			return
		}
		specializeLoop(loop)
	}
}

func findMinBoundLoop(m *ir.Module) *ir.Operation {
	var found *ir.Operation
	m.Walk(func(op *ir.Operation) {
		if found != nil || op.OpCode() != ir.OpLoopFor {
			return
		}
		ub := op.Operand(1).Def()
		if ub != nil && ub.OpCode() == ir.OpArithMinI {
			found = op
		}
	})
	return found
}

func specializeLoop(loop *ir.Operation) {
	minOp := loop.Operand(1).Def()
	x, y := minOp.Operand(0), minOp.Operand(1)

	b := ir.NewBuilder(loop.Block())
	b.SetInsertionPoint(loop.Block(), loop)
	b.SetLoc(loop.Loc())
	cond := b.Create(ir.OpArithCmpI, []*ir.Value{x, y}, ir.Scalar(dtypes.Bool))
	cond.SetAttr("pred", ir.StringAttr("sle"))
	ifOp := b.Create(ir.OpLoopIf, []*ir.Value{cond.Result(0)})

	for _, bound := range []*ir.Value{x, y} {
		branch := ifOp.AddRegion().AddBlock()
		mapping := map[*ir.Value]*ir.Value{loop.Operand(1): bound}
		branch.Append(loop.Clone(mapping))
		bb := ir.NewBuilder(branch)
		bb.SetLoc(loop.Loc())
		bb.Create(ir.OpLoopYield, nil)
	}
	loop.Erase()
}

// approximateTanh replaces arith.tanh inside kernel modules with the rational
// approximation x*(27+x^2)/(27+9*x^2), accurate enough for the device and
// free of a libm dependency there.
func approximateTanh(m *ir.Module) {
	for _, gm := range m.GPUModules() {
		var worklist []*ir.Operation
		gm.Walk(func(op *ir.Operation) {
			if op.OpCode() == ir.OpArithTanh {
				worklist = append(worklist, op)
			}
		})
		for _, op := range worklist {
			x := op.Operand(0)
			dtype := x.Type().DType
			b := ir.NewBuilder(op.Block())
			b.SetInsertionPoint(op.Block(), op)
			b.SetLoc(op.Loc())
			x2 := b.Binary(ir.OpArithMulF, x, x)
			num := b.Binary(ir.OpArithMulF, x, b.Binary(ir.OpArithAddF, b.ConstFloat(dtype, 27), x2))
			den := b.Binary(ir.OpArithAddF, b.ConstFloat(dtype, 27),
				b.Binary(ir.OpArithMulF, b.ConstFloat(dtype, 9), x2))
			op.ReplaceAllUsesWith(b.Binary(ir.OpArithDivF, num, den))
			op.Erase()
		}
	}
}

// moveBody replaces the source loop's induction arguments and moves its body
// operations, terminator included, to the end of dst.
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
