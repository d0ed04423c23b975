// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hllower

import (
	"strings"

	"github.com/gomlx/kernelgen/ir"
	"github.com/pkg/errors"
)

// bufferize gives the module explicit memory semantics: function arguments
// switch from tensor to buffer types, hl.map becomes a buf.alloc plus a
// loop.parallel nest of loads, scalar arithmetic and stores, and hl.const
// becomes a buffer fill. Shape operations survive untouched, they now take
// buffers. Deallocation is deliberately not inserted here, see DESIGN.md.
func bufferize(m *ir.Module) error {
	for _, fn := range m.Funcs() {
		entry := fn.Region(0).Entry()
		for _, arg := range entry.Args() {
			if arg.Type().Kind == ir.KindTensor {
				arg.SetType(arg.Type().ToBuffer())
			}
		}
	}

	var worklist []*ir.Operation
	m.Walk(func(op *ir.Operation) {
		if op.Is(ir.OpHLMap, ir.OpHLConst) {
			worklist = append(worklist, op)
		}
	})
	// Walk order is program order within a block, so a map's buffer operands
	// are already rewritten when the map itself is reached.
	for _, op := range worklist {
		var err error
		switch op.OpCode() {
		case ir.OpHLMap:
			err = bufferizeMap(op)
		case ir.OpHLConst:
			err = bufferizeConst(op)
		}
		if err != nil {
			return err
		}
	}

	var leftover error
	m.Walk(func(op *ir.Operation) {
		if leftover == nil && strings.HasPrefix(op.OpCode(), "hl.") {
			leftover = errors.Errorf("cannot bufferize %q", op.OpCode())
		}
	})
	return leftover
}

// allocFor creates a buf.alloc of the buffer form of t, with one buf.dim
// operand per dynamic dimension taken from ref.
func allocFor(b *ir.Builder, t ir.Type, ref *ir.Value) *ir.Value {
	bufType := t.ToBuffer()
	var dynDims []*ir.Value
	for i, dim := range bufType.Dims {
		if dim == ir.DynamicDim {
			dimOp := b.Create(ir.OpBufDim, []*ir.Value{ref, b.ConstIndex(int64(i))}, ir.Index())
			dynDims = append(dynDims, dimOp.Result(0))
		}
	}
	return b.Create(ir.OpBufAlloc, dynDims, bufType).Result(0)
}

// extents returns one index value per dimension of buf, constants where the
// type is static and buf.dim otherwise.
func extents(b *ir.Builder, buf *ir.Value) []*ir.Value {
	t := buf.Type()
	out := make([]*ir.Value, t.Rank())
	for i, dim := range t.Dims {
		if dim == ir.DynamicDim {
			dimOp := b.Create(ir.OpBufDim, []*ir.Value{buf, b.ConstIndex(int64(i))}, ir.Index())
			out[i] = dimOp.Result(0)
		} else {
			out[i] = b.ConstIndex(int64(dim))
		}
	}
	return out
}

func bufferizeMap(op *ir.Operation) error {
	for _, operand := range op.Operands() {
		if operand.Type().Kind != ir.KindBuffer {
			return errors.Errorf("cannot bufferize %q: operand %s is not a buffer",
				op.OpCode(), operand.Type())
		}
	}
	resultType := op.Result(0).Type()
	b := ir.NewBuilder(op.Block())
	b.SetInsertionPoint(op.Block(), op)
	b.SetLoc(op.Loc())

	out := allocFor(b, resultType, op.Operand(0))
	rank := resultType.Rank()

	body := op.Block()
	var indices []*ir.Value
	var ib *ir.Builder
	if rank > 0 {
		ubs := extents(b, op.Operand(0))
		lbs := make([]*ir.Value, rank)
		steps := make([]*ir.Value, rank)
		for i := 0; i < rank; i++ {
			lbs[i] = b.ConstIndex(0)
			steps[i] = b.ConstIndex(1)
		}
		loop := ir.MakeParallelLoop(b, lbs, ubs, steps)
		loop.SetLoc(op.Loc())
		body = ir.LoopBody(loop)
		indices = body.Args()
		ib = ir.NewBuilder(body)
	} else {
		ib = b
	}
	ib.SetLoc(op.Loc())

	mapBody := op.Region(0).Entry()
	for i, arg := range mapBody.Args() {
		operands := append([]*ir.Value{op.Operand(i)}, indices...)
		loaded := ib.Create(ir.OpBufLoad, operands, ir.Scalar(op.Operand(i).Type().DType))
		arg.ReplaceAllUsesWith(loaded.Result(0))
	}
	yield := mapBody.Terminator()
	computed := yield.Operand(0)
	yield.Erase()
	moveOps(mapBody, body)
	ib.Create(ir.OpBufStore, append([]*ir.Value{computed, out}, indices...))
	if rank > 0 {
		ib.Create(ir.OpLoopYield, nil)
	}

	// Leftover value-to-memory cast, pruned by device mapping when dead.
	b.Create(ir.OpBufToBuffer, []*ir.Value{out}, out.Type())

	op.ReplaceAllUsesWith(out)
	op.Erase()
	return nil
}

func bufferizeConst(op *ir.Operation) error {
	resultType := op.Result(0).Type()
	if !resultType.IsStatic() {
		return errors.Errorf("cannot bufferize %q with dynamic shape %s",
			op.OpCode(), resultType)
	}
	a, found := op.Attr("value")
	if !found {
		return errors.Errorf("cannot bufferize %q without a value", op.OpCode())
	}
	b := ir.NewBuilder(op.Block())
	b.SetInsertionPoint(op.Block(), op)
	b.SetLoc(op.Loc())

	out := b.Create(ir.OpBufAlloc, nil, resultType.ToBuffer()).Result(0)
	var fill *ir.Value
	if a.Kind() == ir.AttrFloat {
		fill = b.ConstFloat(resultType.DType, a.Float())
	} else {
		fill = b.ConstInt(resultType.DType, a.Int())
	}

	rank := resultType.Rank()
	if rank == 0 {
		b.Create(ir.OpBufStore, []*ir.Value{fill, out})
	} else {
		lbs := make([]*ir.Value, rank)
		ubs := make([]*ir.Value, rank)
		steps := make([]*ir.Value, rank)
		for i, dim := range resultType.Dims {
			lbs[i] = b.ConstIndex(0)
			ubs[i] = b.ConstIndex(int64(dim))
			steps[i] = b.ConstIndex(1)
		}
		loop := ir.MakeParallelLoop(b, lbs, ubs, steps)
		loop.SetLoc(op.Loc())
		body := ir.LoopBody(loop)
		ib := ir.NewBuilder(body)
		ib.SetLoc(op.Loc())
		ib.Create(ir.OpBufStore, append([]*ir.Value{fill, out}, body.Args()...))
		ib.Create(ir.OpLoopYield, nil)
	}

	b.Create(ir.OpBufToBuffer, []*ir.Value{out}, out.Type())
	op.ReplaceAllUsesWith(out)
	op.Erase()
	return nil
}

// markBufferReuse tags output allocations that may alias one of the function's
// input buffers: the alloc is stored to by a loop nest that also loads from an
// input of provably identical static byte size. The runtime may then serve the
// allocation by handing back the input's memory when the caller permits it.
func markBufferReuse(m *ir.Module) {
	for _, fn := range m.Funcs() {
		entry := fn.Region(0).Entry()
		argIndex := make(map[*ir.Value]int, entry.NumArgs())
		for i, arg := range entry.Args() {
			argIndex[arg] = i
		}
		fn.Walk(func(op *ir.Operation) {
			if op.OpCode() != ir.OpBufAlloc {
				return
			}
			size, static := op.Result(0).Type().SizeBytes()
			if !static {
				return
			}
			loop := storingLoop(op.Result(0))
			if loop == nil {
				return
			}
			best := -1
			loop.Walk(func(inner *ir.Operation) {
				if inner.OpCode() != ir.OpBufLoad {
					return
				}
				idx, isArg := argIndex[inner.Operand(0)]
				if !isArg {
					return
				}
				argSize, argStatic := inner.Operand(0).Type().SizeBytes()
				if argStatic && argSize == size && (best < 0 || idx < best) {
					best = idx
				}
			})
			if best >= 0 {
				op.SetAttr(ir.ReuseInputAttrName, ir.IntAttr(int64(best)))
			}
		})
	}
}

// storingLoop returns the loop.parallel whose body stores into buf, or nil
// when no single storing loop exists.
func storingLoop(buf *ir.Value) *ir.Operation {
	var loop *ir.Operation
	for _, user := range buf.Users() {
		if user.OpCode() != ir.OpBufStore || user.Operand(1) != buf {
			continue
		}
		parent := user.ParentOfCode(ir.OpLoopParallel)
		if parent == nil || (loop != nil && loop != parent) {
			return nil
		}
		loop = parent
	}
	return loop
}
