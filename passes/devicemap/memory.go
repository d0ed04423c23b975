// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package devicemap

import (
	"github.com/pkg/errors"

	"github.com/gomlx/kernelgen/ir"
)

// stackAllocLimit is the largest static buffer size, in bytes, promoted to a
// stack allocation instead of a runtime one.
const stackAllocLimit = 64

// expandReshapes splits every buf.reshape into the rank-directed form the
// later stages understand: rank-increasing reshapes become buf.expand_shape,
// the rest buf.collapse_shape.
func expandReshapes(m *ir.Module) {
	var worklist []*ir.Operation
	m.Walk(func(op *ir.Operation) {
		if op.OpCode() == ir.OpBufReshape {
			worklist = append(worklist, op)
		}
	})
	for _, op := range worklist {
		opcode := ir.OpBufCollapseShape
		if op.Result(0).Type().Rank() > op.Operand(0).Type().Rank() {
			opcode = ir.OpBufExpandShape
		}
		b := ir.NewBuilder(op.Block())
		b.SetInsertionPoint(op.Block(), op)
		b.SetLoc(op.Loc())
		replacement := b.Create(opcode, op.Operands(), op.Result(0).Type())
		op.ReplaceAllUsesWith(replacement.Result(0))
		op.Erase()
	}
}

// removeCopies folds buf.copy operations whose destination is a private
// allocation written only by the copy: every read of the destination can read
// the source directly, and the allocation disappears.
func removeCopies(m *ir.Module) {
	var worklist []*ir.Operation
	m.Walk(func(op *ir.Operation) {
		if op.OpCode() == ir.OpBufCopy {
			worklist = append(worklist, op)
		}
	})
	for _, op := range worklist {
		src, dst := op.Operand(0), op.Operand(1)
		alloc := dst.Def()
		if alloc == nil || alloc.OpCode() != ir.OpBufAlloc {
			continue
		}
		if writtenOutside(dst, op) {
			continue
		}
		op.Erase()
		dst.ReplaceAllUsesWith(src)
		alloc.Erase()
	}
}

// writtenOutside reports whether buf is the destination of any write other
// than except.
func writtenOutside(buf *ir.Value, except *ir.Operation) bool {
	for _, user := range buf.Users() {
		if user == except {
			continue
		}
		switch user.OpCode() {
		case ir.OpBufStore:
			if user.Operand(1) == buf {
				return true
			}
		case ir.OpBufCopy:
			if user.Operand(1) == buf {
				return true
			}
		}
	}
	return false
}

// pruneDeadCasts erases unused buf.to_buffer casts, the leftovers of
// bufferization.
func pruneDeadCasts(m *ir.Module) {
	var worklist []*ir.Operation
	m.Walk(func(op *ir.Operation) {
		if op.OpCode() == ir.OpBufToBuffer && op.Result(0).NumUses() == 0 {
			worklist = append(worklist, op)
		}
	})
	for _, op := range worklist {
		op.Erase()
	}
}

// hoistAllocs moves buf.alloc operations out of loops and conditionals as
// long as their dynamic-size operands are available outside, so a loop body
// does not allocate on every iteration.
func hoistAllocs(m *ir.Module) {
	var worklist []*ir.Operation
	m.Walk(func(op *ir.Operation) {
		if op.OpCode() == ir.OpBufAlloc {
			worklist = append(worklist, op)
		}
	})
	for _, op := range worklist {
		for {
			parent := op.ParentOp()
			if parent == nil || !parent.Is(ir.OpLoopParallel, ir.OpLoopFor, ir.OpLoopIf, ir.OpShapeAssuming) {
				break
			}
			if !operandsAvailableOutside(op, parent) {
				break
			}
			op.Unlink()
			parent.Block().InsertBefore(parent, op)
		}
	}
}

func operandsAvailableOutside(op, enclosing *ir.Operation) bool {
	for _, operand := range op.Operands() {
		if definedInside(operand, enclosing) {
			return false
		}
	}
	return true
}

// definedInside reports whether v is defined by an operation or block nested
// anywhere under root.
func definedInside(v *ir.Value, root *ir.Operation) bool {
	var from *ir.Operation
	if def := v.Def(); def != nil {
		from = def
	} else if owner := v.OwnerBlock(); owner != nil {
		from = owner.Region().Owner()
	}
	for p := from; p != nil; p = p.ParentOp() {
		if p == root {
			return true
		}
	}
	return false
}

// dischargeShapeConstraints removes the shape.assuming scaffolding: each
// region is inlined at its use site and the constraint witnesses become
// rt.assert checks the host runtime evaluates before any kernel runs.
func dischargeShapeConstraints(m *ir.Module) error {
	var assumings []*ir.Operation
	m.Walk(func(op *ir.Operation) {
		if op.OpCode() == ir.OpShapeAssuming {
			assumings = append(assumings, op)
		}
	})
	for _, op := range assumings {
		body := op.Region(0).Entry()
		yield := body.Terminator()
		if yield == nil || yield.OpCode() != ir.OpShapeAssumingYield {
			return errors.Errorf("shape.assuming without a yield terminator")
		}
		op.ReplaceAllUsesWith(yield.Operands()...)
		yield.Erase()
		ops := make([]*ir.Operation, len(body.Ops()))
		copy(ops, body.Ops())
		for _, inner := range ops {
			inner.Unlink()
			op.Block().InsertBefore(op, inner)
		}
		op.Erase()
	}

	var constraints []*ir.Operation
	m.Walk(func(op *ir.Operation) {
		if op.OpCode() == ir.OpShapeCstrEq {
			constraints = append(constraints, op)
		}
	})
	for _, op := range constraints {
		if op.Result(0).NumUses() != 0 {
			return errors.Errorf("shape constraint witness still in use after inlining")
		}
		b := ir.NewBuilder(op.Block())
		b.SetInsertionPoint(op.Block(), op)
		b.SetLoc(op.Loc())
		check := b.Create(ir.OpRTAssert, op.Operands())
		check.SetAttr("msg", ir.StringAttr("operand shapes must match"))
		op.Erase()
	}
	return nil
}

// lowerAllocations rewrites host-side buf.alloc into its final form: small
// static buffers become stack allocations, everything else an rt.alloc tagged
// with the placement the runtime allocator needs.
func lowerAllocations(m *ir.Module) {
	for _, fn := range m.Funcs() {
		var worklist []*ir.Operation
		fn.Walk(func(op *ir.Operation) {
			if op.OpCode() == ir.OpBufAlloc {
				worklist = append(worklist, op)
			}
		})
		for _, op := range worklist {
			b := ir.NewBuilder(op.Block())
			b.SetInsertionPoint(op.Block(), op)
			b.SetLoc(op.Loc())

			size, static := op.Result(0).Type().SizeBytes()
			var replacement *ir.Operation
			if static && size <= stackAllocLimit && !escapes(op.Result(0)) {
				replacement = b.Create(ir.OpBufAlloca, nil, op.Result(0).Type())
				replacement.SetAttr(ir.StackAttrName, ir.BoolAttr(true))
			} else {
				replacement = b.Create(ir.OpRTAlloc, op.Operands(), op.Result(0).Type())
				replacement.SetAttr(ir.PlacementAttrName, ir.StringAttr(placementFor(op.Result(0))))
			}
			if a, found := op.Attr(ir.ReuseInputAttrName); found {
				replacement.SetAttr(ir.ReuseInputAttrName, a)
			}
			op.ReplaceAllUsesWith(replacement.Result(0))
			op.Erase()
		}
	}
}

// escapes reports whether the buffer outlives the function frame and
// therefore must not live on the stack.
func escapes(buf *ir.Value) bool {
	for _, user := range buf.Users() {
		if user.OpCode() == ir.OpReturn {
			return true
		}
	}
	return false
}

// placementFor picks the allocator arena for a buffer: metadata buffers read
// only by host-side checks stay on the host, computation buffers go to the
// device.
func placementFor(buf *ir.Value) string {
	users := buf.Users()
	if len(users) == 0 {
		return "host"
	}
	for _, user := range users {
		switch user.OpCode() {
		case ir.OpRTAssert, ir.OpRTPrint, ir.OpBufDim, ir.OpShapeOf:
		default:
			return "device"
		}
	}
	return "host"
}

// insertDebugPrints emits an rt.print of every buffer argument right before
// each kernel launch, so a failing kernel can be diagnosed from the host log.
func insertDebugPrints(m *ir.Module) {
	var launches []*ir.Operation
	m.Walk(func(op *ir.Operation) {
		if op.OpCode() == ir.OpGPULaunch {
			launches = append(launches, op)
		}
	})
	for _, launch := range launches {
		b := ir.NewBuilder(launch.Block())
		b.SetInsertionPoint(launch.Block(), launch)
		b.SetLoc(launch.Loc())
		for _, operand := range launch.Operands() {
			if operand.Type().Kind != ir.KindBuffer {
				continue
			}
			p := b.Create(ir.OpRTPrint, []*ir.Value{operand})
			p.SetAttr("msg", ir.StringAttr("kernel argument"))
		}
	}
}
