// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package hllower implements the high-level lowering stage: it legalizes the
// "hl" tensor vocabulary down to buffer-semantics loop nests.
//
// Sub-steps, with canonicalization and CSE between them:
//
//  1. legalize sugar operations (hl.square, trivial hl.cast) to primitives;
//  2. convert elementwise operations to hl.map and fuse producer/consumer
//     chains so intermediate results never touch memory;
//  3. partial bufferization: hl.map becomes buf.alloc plus a loop.parallel
//     nest of loads, scalar arithmetic and stores, function signatures switch
//     from tensors to buffers, and shape operations are left untouched;
//  4. buffer-reuse analysis marking output allocations that may alias an
//     input of provably equal size.
package hllower

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kernelgen/ir"
	"github.com/gomlx/kernelgen/passes"
	"github.com/pkg/errors"
)

// Run lowers every function of the module in place.
func Run(m *ir.Module) error {
	for _, fn := range m.Funcs() {
		passes.ApplyGreedily(fn, []passes.Pattern{legalizeSquare{}, legalizeIdentityCast{}})
	}
	passes.Canonicalize(m)
	passes.CSE(m)

	if err := convertElementwiseToMap(m); err != nil {
		return err
	}
	fuseMaps(m)
	passes.Canonicalize(m)
	passes.CSE(m)

	if err := bufferize(m); err != nil {
		return err
	}
	passes.Canonicalize(m)
	passes.CSE(m)

	markBufferReuse(m)
	passes.Canonicalize(m)
	passes.CSE(m)
	return nil
}

// legalizeSquare rewrites hl.square(x) to hl.mul(x, x).
type legalizeSquare struct{}

func (legalizeSquare) MatchAndRewrite(op *ir.Operation, b *ir.Builder) bool {
	if op.OpCode() != ir.OpHLSquare {
		return false
	}
	x := op.Operand(0)
	mul := b.Create(ir.OpHLMul, []*ir.Value{x, x}, op.Result(0).Type())
	op.ReplaceAllUsesWith(mul.Result(0))
	op.Erase()
	return true
}

// legalizeIdentityCast folds hl.cast between identical element types.
type legalizeIdentityCast struct{}

func (legalizeIdentityCast) MatchAndRewrite(op *ir.Operation, b *ir.Builder) bool {
	if op.OpCode() != ir.OpHLCast {
		return false
	}
	if op.Operand(0).Type().DType != op.Result(0).Type().DType {
		return false
	}
	op.ReplaceAllUsesWith(op.Operand(0))
	op.Erase()
	return true
}

// scalarOpFor returns the arith opcode computing the given elementwise hl
// operation on scalars of the given dtype, or "" when unsupported.
func scalarOpFor(opcode string, dtype dtypes.DType) string {
	if dtype.IsFloat() {
		switch opcode {
		case ir.OpHLAdd:
			return ir.OpArithAddF
		case ir.OpHLSub:
			return ir.OpArithSubF
		case ir.OpHLMul:
			return ir.OpArithMulF
		case ir.OpHLDiv:
			return ir.OpArithDivF
		case ir.OpHLMax:
			return ir.OpArithMaxF
		case ir.OpHLMin:
			return ir.OpArithMinF
		case ir.OpHLAbs:
			return ir.OpArithAbsF
		case ir.OpHLNeg:
			return ir.OpArithNegF
		case ir.OpHLExp:
			return ir.OpArithExpF
		case ir.OpHLTanh:
			return ir.OpArithTanh
		}
		return ""
	}
	switch opcode {
	case ir.OpHLAdd:
		return ir.OpArithAddI
	case ir.OpHLSub:
		return ir.OpArithSubI
	case ir.OpHLMul:
		return ir.OpArithMulI
	case ir.OpHLDiv:
		return ir.OpArithDivI
	case ir.OpHLMax:
		return ir.OpArithMaxI
	case ir.OpHLMin:
		return ir.OpArithMinI
	}
	return ""
}

// scalarCastFor returns the arith conversion opcode for hl.cast.
func scalarCastFor(from, to dtypes.DType) string {
	switch {
	case from.IsFloat() && to.IsInt():
		return ir.OpArithFPToSI
	case from.IsInt() && to.IsFloat():
		return ir.OpArithSIToFP
	case from.IsInt() && to.IsInt() && to.Size() < from.Size():
		return ir.OpArithTruncI
	case from.IsInt() && to.IsInt():
		return ir.OpArithExtSI
	}
	return ""
}

// convertElementwiseToMap rewrites every elementwise hl operation into an
// hl.map whose body computes one scalar element.
func convertElementwiseToMap(m *ir.Module) error {
	var worklist []*ir.Operation
	m.Walk(func(op *ir.Operation) {
		switch op.OpCode() {
		case ir.OpHLAdd, ir.OpHLSub, ir.OpHLMul, ir.OpHLDiv, ir.OpHLMax,
			ir.OpHLMin, ir.OpHLAbs, ir.OpHLNeg, ir.OpHLExp, ir.OpHLTanh,
			ir.OpHLCast:
			worklist = append(worklist, op)
		}
	})
	for _, op := range worklist {
		resultType := op.Result(0).Type()
		b := ir.NewBuilder(op.Block())
		b.SetInsertionPoint(op.Block(), op)
		b.SetLoc(op.Loc())
		mapOp := b.Create(ir.OpHLMap, op.Operands(), resultType)
		body := mapOp.AddRegion().AddBlock()
		scalars := make([]*ir.Value, op.NumOperands())
		for i, operand := range op.Operands() {
			scalars[i] = body.AddArg(ir.Scalar(operand.Type().DType))
		}
		ib := ir.NewBuilder(body)
		ib.SetLoc(op.Loc())
		var result *ir.Value
		if op.OpCode() == ir.OpHLCast {
			castOp := scalarCastFor(op.Operand(0).Type().DType, resultType.DType)
			if castOp == "" {
				return errors.Errorf("unsupported cast %s to %s",
					op.Operand(0).Type(), resultType)
			}
			result = ib.Create(castOp, scalars[:1], ir.Scalar(resultType.DType)).Result(0)
		} else {
			scalarOp := scalarOpFor(op.OpCode(), resultType.DType)
			if scalarOp == "" {
				return errors.Errorf("no scalar form for %q on %s", op.OpCode(), resultType)
			}
			result = ib.Create(scalarOp, scalars, ir.Scalar(resultType.DType)).Result(0)
		}
		ib.Create(ir.OpHLYield, []*ir.Value{result})
		op.ReplaceAllUsesWith(mapOp.Result(0))
		op.Erase()
	}
	return nil
}

// fuseMaps inlines hl.map producers into their sole consumer until no such
// pair remains, reducing intermediate-buffer traffic after bufferization.
func fuseMaps(m *ir.Module) {
	for {
		producer, consumer, operandIdx := findFusionPair(m)
		if producer == nil {
			return
		}
		fusePair(producer, consumer, operandIdx)
	}
}

func findFusionPair(m *ir.Module) (producer, consumer *ir.Operation, operandIdx int) {
	m.Walk(func(op *ir.Operation) {
		if producer != nil || op.OpCode() != ir.OpHLMap {
			return
		}
		result := op.Result(0)
		if !result.HasOneUse() {
			return
		}
		user := result.SoleUser()
		if user == nil || user.OpCode() != ir.OpHLMap || user.Block() != op.Block() {
			return
		}
		for i, operand := range user.Operands() {
			if operand == result {
				producer, consumer, operandIdx = op, user, i
				return
			}
		}
	})
	return
}

func fusePair(producer, consumer *ir.Operation, operandIdx int) {
	var operands []*ir.Value
	operands = append(operands, producer.Operands()...)
	for i, operand := range consumer.Operands() {
		if i != operandIdx {
			operands = append(operands, operand)
		}
	}
	b := ir.NewBuilder(consumer.Block())
	b.SetInsertionPoint(consumer.Block(), consumer)
	b.SetLoc(consumer.Loc())
	fused := b.Create(ir.OpHLMap, operands, consumer.Result(0).Type())
	body := fused.AddRegion().AddBlock()
	for _, operand := range operands {
		body.AddArg(ir.Scalar(operand.Type().DType))
	}

	// Splice the producer body (minus its yield) and remap its arguments.
	producerBody := producer.Region(0).Entry()
	for i, arg := range producerBody.Args() {
		arg.ReplaceAllUsesWith(body.Arg(i))
	}
	producerYield := producerBody.Terminator()
	producedScalar := producerYield.Operand(0)
	producerYield.Erase()
	moveOps(producerBody, body)

	// Then the consumer body, with the fused operand fed by the producer's
	// scalar result.
	consumerBody := consumer.Region(0).Entry()
	argOffset := producer.NumOperands()
	for i, arg := range consumerBody.Args() {
		switch {
		case i == operandIdx:
			arg.ReplaceAllUsesWith(producedScalar)
		case i < operandIdx:
			arg.ReplaceAllUsesWith(body.Arg(argOffset + i))
		default:
			arg.ReplaceAllUsesWith(body.Arg(argOffset + i - 1))
		}
	}
	moveOps(consumerBody, body)

	consumer.ReplaceAllUsesWith(fused.Result(0))
	consumer.Erase()
	producer.Erase()
}

func moveOps(from, to *ir.Block) {
	ops := make([]*ir.Operation, len(from.Ops()))
	copy(ops, from.Ops())
	for _, op := range ops {
		op.Unlink()
		to.Append(op)
	}
}
