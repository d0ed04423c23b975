// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"github.com/gomlx/kernelgen/ir"
)

// Canonicalize simplifies the module to a fixed point: integer constant
// folding, arithmetic identities, and erasure of pure operations without
// users. It is run between most stage sub-steps so that later rewrites see
// loop bounds and index computations in their simplest form.
func Canonicalize(m *ir.Module) {
	for changed := true; changed; {
		changed = foldOnce(m)
		if eraseDeadOnce(m) {
			changed = true
		}
	}
}

// constInt returns the integer payload of an arith.constant defining v.
func constInt(v *ir.Value) (int64, bool) {
	def := v.Def()
	if def == nil || def.OpCode() != ir.OpArithConstant {
		return 0, false
	}
	a, found := def.Attr("value")
	if !found || a.Kind() != ir.AttrInt {
		return 0, false
	}
	return a.Int(), true
}

func foldOnce(m *ir.Module) bool {
	var candidates []*ir.Operation
	m.Walk(func(op *ir.Operation) {
		switch op.OpCode() {
		case ir.OpArithAddI, ir.OpArithSubI, ir.OpArithMulI, ir.OpArithDivI,
			ir.OpArithRemI, ir.OpArithMinI, ir.OpArithMaxI,
			ir.OpArithAddF, ir.OpArithMulF:
			candidates = append(candidates, op)
		}
	})
	changed := false
	for _, op := range candidates {
		if op.Erased() {
			continue
		}
		if foldOp(op) {
			changed = true
		}
	}
	return changed
}

func foldOp(op *ir.Operation) bool {
	lhs, rhs := op.Operand(0), op.Operand(1)
	lhsC, lhsOk := constInt(lhs)
	rhsC, rhsOk := constInt(rhs)

	// Identities first: they also apply to floats and partially-constant
	// integer expressions.
	switch op.OpCode() {
	case ir.OpArithAddI, ir.OpArithAddF:
		if rhsOk && rhsC == 0 {
			op.ReplaceAllUsesWith(lhs)
			op.Erase()
			return true
		}
	case ir.OpArithMulI, ir.OpArithMulF:
		if rhsOk && rhsC == 1 {
			op.ReplaceAllUsesWith(lhs)
			op.Erase()
			return true
		}
		if rhsOk && rhsC == 0 && op.OpCode() == ir.OpArithMulI {
			op.ReplaceAllUsesWith(rhs)
			op.Erase()
			return true
		}
	}

	if !lhsOk || !rhsOk {
		return false
	}
	var folded int64
	switch op.OpCode() {
	case ir.OpArithAddI:
		folded = lhsC + rhsC
	case ir.OpArithSubI:
		folded = lhsC - rhsC
	case ir.OpArithMulI:
		folded = lhsC * rhsC
	case ir.OpArithDivI:
		if rhsC == 0 {
			return false
		}
		folded = lhsC / rhsC
	case ir.OpArithRemI:
		if rhsC == 0 {
			return false
		}
		folded = lhsC % rhsC
	case ir.OpArithMinI:
		folded = min(lhsC, rhsC)
	case ir.OpArithMaxI:
		folded = max(lhsC, rhsC)
	default:
		return false
	}
	b := ir.NewBuilder(op.Block())
	b.SetInsertionPoint(op.Block(), op)
	b.SetLoc(op.Loc())
	cst := b.Create(ir.OpArithConstant, nil, op.Result(0).Type())
	cst.SetAttr("value", ir.IntAttr(folded))
	op.ReplaceAllUsesWith(cst.Result(0))
	op.Erase()
	return true
}

func eraseDeadOnce(m *ir.Module) bool {
	var dead []*ir.Operation
	m.Walk(func(op *ir.Operation) {
		if !IsPure(op) {
			return
		}
		for _, result := range op.Results() {
			if result.NumUses() > 0 {
				return
			}
		}
		dead = append(dead, op)
	})
	changed := false
	// Reverse order: users come after definitions within a block, so erasing
	// back-to-front releases uses before their definitions are visited.
	for i := len(dead) - 1; i >= 0; i-- {
		op := dead[i]
		if op.Erased() {
			continue
		}
		stillUsed := false
		for _, result := range op.Results() {
			if result.NumUses() > 0 {
				stillUsed = true
				break
			}
		}
		if stillUsed {
			continue
		}
		op.Erase()
		changed = true
	}
	return changed
}
