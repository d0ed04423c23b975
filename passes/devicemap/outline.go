// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package devicemap

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kernelgen/ir"
)

// outlineKernels extracts every block-mapped loop nest into its own
// gpu.module holding a single gpu.func, and replaces the nest on the host
// with a gpu.launch. The block loop's iteration space becomes the grid, the
// thread loop's becomes the block, and the thread loop's dynamic trip count
// turns into an in-kernel bounds guard for the partial tile.
func outlineKernels(m *ir.Module) error {
	for _, fn := range m.Funcs() {
		name := "main"
		if a, found := fn.Attr("sym_name"); found {
			name = a.Str()
		}
		var roots []*ir.Operation
		fn.Walk(func(op *ir.Operation) {
			if op.OpCode() != ir.OpLoopParallel {
				return
			}
			if a, found := op.Attr(ir.MappingAttrName); found && a.Str() == "block_x" {
				roots = append(roots, op)
			}
		})
		for i, root := range roots {
			kernelName := fmt.Sprintf("%s_kernel_%d", name, i)
			if err := outlineOne(m, root, kernelName); err != nil {
				return errors.WithMessagef(err, "outlining %s", kernelName)
			}
		}
	}
	return nil
}

func outlineOne(m *ir.Module, blockLoop *ir.Operation, kernelName string) error {
	threadLoop := findThreadLoop(blockLoop)
	if threadLoop == nil {
		return errors.Errorf("block-mapped loop has no thread level")
	}
	captures := collectCaptures(blockLoop)

	// Host-side launch geometry: gridX covers the block loop's iteration
	// space, blockX the thread loop's tile, both rounded up.
	lb := ir.LoopLowerBounds(blockLoop)[0]
	ub := ir.LoopUpperBounds(blockLoop)[0]
	step := ir.LoopSteps(blockLoop)[0]

	hb := ir.NewBuilder(blockLoop.Block())
	hb.SetInsertionPoint(blockLoop.Block(), blockLoop)
	hb.SetLoc(blockLoop.Loc())
	one := hb.ConstIndex(1)
	gridX := ceilDiv(hb, hb.Binary(ir.OpArithSubI, ub, lb), step, one)
	threadStep, err := hostClone(ir.LoopSteps(threadLoop)[0], blockLoop, hb, map[*ir.Value]*ir.Value{})
	if err != nil {
		return err
	}
	blockX := ceilDiv(hb, step, threadStep, one)

	// The kernel shell: one gpu.module per nest, so each kernel can be
	// compiled and cached independently.
	mb := ir.NewBuilder(m.Body())
	mb.SetLoc(blockLoop.Loc())
	gm := mb.Create(ir.OpGPUModule, nil)
	gm.SetAttr("sym_name", ir.StringAttr(kernelName+"_module"))
	gmBody := gm.AddRegion().AddBlock()

	fb := ir.NewBuilder(gmBody)
	fb.SetLoc(blockLoop.Loc())
	kfn := fb.Create(ir.OpGPUFunc, nil)
	kfn.SetAttr("sym_name", ir.StringAttr(kernelName))
	kfn.SetAttr(ir.KernelAttrName, ir.BoolAttr(true))
	entry := kfn.AddRegion().AddBlock()
	vmap := make(map[*ir.Value]*ir.Value, len(captures))
	for _, capture := range captures {
		vmap[capture] = entry.AddArg(capture.Type())
	}

	kb := ir.NewBuilder(entry)
	kb.SetLoc(blockLoop.Loc())
	bid := kb.Create(ir.OpGPUBlockID, nil, ir.Index())
	bid.SetAttr("dim", ir.StringAttr("x"))
	blockIv := kb.Binary(ir.OpArithAddI, lb, kb.Binary(ir.OpArithMulI, bid.Result(0), step))
	moveBody(blockLoop, entry, []*ir.Value{blockIv})

	// The thread loop becomes a guarded straight-line body: threads beyond
	// the partial last tile fall through to the return.
	tb := ir.NewBuilder(threadLoop.Block())
	tb.SetInsertionPoint(threadLoop.Block(), threadLoop)
	tb.SetLoc(threadLoop.Loc())
	tid := tb.Create(ir.OpGPUThreadID, nil, ir.Index())
	tid.SetAttr("dim", ir.StringAttr("x"))
	threadIv := tb.Binary(ir.OpArithAddI, ir.LoopLowerBounds(threadLoop)[0],
		tb.Binary(ir.OpArithMulI, tid.Result(0), ir.LoopSteps(threadLoop)[0]))
	guard := tb.Create(ir.OpArithCmpI,
		[]*ir.Value{threadIv, ir.LoopUpperBounds(threadLoop)[0]}, ir.Scalar(dtypes.Bool))
	guard.SetAttr("pred", ir.StringAttr("slt"))
	ifOp := tb.Create(ir.OpLoopIf, []*ir.Value{guard.Result(0)})
	moveBody(threadLoop, ifOp.AddRegion().AddBlock(), []*ir.Value{threadIv})
	threadLoop.Erase()

	// The block loop's yield has no meaning inside the kernel.
	if term := entry.Terminator(); term != nil && term.OpCode() == ir.OpLoopYield {
		term.Erase()
	}
	kb.Create(ir.OpGPUReturn, nil)

	// Rewrite every captured host value to the corresponding kernel argument.
	kfn.Walk(func(op *ir.Operation) {
		for i, operand := range op.Operands() {
			if arg, found := vmap[operand]; found {
				op.SetOperand(i, arg)
			}
		}
	})

	launch := hb.Create(ir.OpGPULaunch, append([]*ir.Value{gridX, blockX}, captures...))
	launch.SetAttr(ir.KernelAttrName, ir.StringAttr(kernelName))
	blockLoop.Erase()
	return nil
}

// findThreadLoop returns the thread-mapped loop directly nested in the block
// loop's body.
func findThreadLoop(blockLoop *ir.Operation) *ir.Operation {
	for _, op := range ir.LoopBody(blockLoop).Ops() {
		if op.OpCode() != ir.OpLoopParallel {
			continue
		}
		if a, found := op.Attr(ir.MappingAttrName); found && a.Str() == "thread_x" {
			return op
		}
	}
	return nil
}

// collectCaptures returns, in first-use order, the values the nest reads but
// does not define. They become the kernel's arguments.
func collectCaptures(root *ir.Operation) []*ir.Value {
	var captures []*ir.Value
	seen := make(map[*ir.Value]bool)
	root.Walk(func(op *ir.Operation) {
		for _, operand := range op.Operands() {
			if seen[operand] || definedInside(operand, root) {
				continue
			}
			seen[operand] = true
			captures = append(captures, operand)
		}
	})
	return captures
}

// ceilDiv emits (num + den - 1) / den.
func ceilDiv(b *ir.Builder, num, den, one *ir.Value) *ir.Value {
	rounded := b.Binary(ir.OpArithAddI, num, b.Binary(ir.OpArithSubI, den, one))
	return b.Binary(ir.OpArithDivI, rounded, den)
}

// hostClone rebuilds the pure scalar computation of v at the builder's
// host-side insertion point, so launch geometry derived from values computed
// inside the nest stays available after outlining.
func hostClone(v *ir.Value, root *ir.Operation, b *ir.Builder, memo map[*ir.Value]*ir.Value) (*ir.Value, error) {
	if !definedInside(v, root) {
		return v, nil
	}
	if cloned, found := memo[v]; found {
		return cloned, nil
	}
	def := v.Def()
	if def == nil {
		return nil, errors.Errorf("launch geometry depends on a loop induction variable")
	}
	mapping := make(map[*ir.Value]*ir.Value, def.NumOperands())
	for _, operand := range def.Operands() {
		cloned, err := hostClone(operand, root, b, memo)
		if err != nil {
			return nil, err
		}
		mapping[operand] = cloned
	}
	cloned := b.Insert(def.Clone(mapping))
	for i, result := range def.Results() {
		memo[result] = cloned.Result(i)
	}
	return memo[v], nil
}
