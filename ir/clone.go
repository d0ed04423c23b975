// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

// Clone deep-copies the operation and everything nested in its regions,
// returning a detached copy. Operands are remapped through mapping when
// present (values defined outside the cloned subtree default to themselves);
// mapping is extended in place with the subtree's own definitions, so callers
// can look up cloned results afterwards.
func (op *Operation) Clone(mapping map[*Value]*Value) *Operation {
	if mapping == nil {
		mapping = make(map[*Value]*Value)
	}
	return op.clone(mapping, make(map[*Block]*Block))
}

// Clone deep-copies the whole module. The copy shares the Context, which is
// immutable after construction.
func (m *Module) Clone() *Module {
	return &Module{ctx: m.ctx, op: m.op.Clone(nil)}
}

// clone shares the value and block maps across the whole subtree, so branch
// terminators deep inside a region still resolve their successor blocks to
// the cloned ones.
func (op *Operation) clone(mapping map[*Value]*Value, blockMap map[*Block]*Block) *Operation {
	operands := make([]*Value, len(op.operands))
	for i, operand := range op.operands {
		if mapped, found := mapping[operand]; found {
			operands[i] = mapped
		} else {
			operands[i] = operand
		}
	}
	resultTypes := make([]Type, len(op.results))
	for i, result := range op.results {
		resultTypes[i] = result.typ
	}
	cloned := NewOp(op.opcode, operands, resultTypes...)
	cloned.loc = op.loc
	for name, a := range op.attrs {
		cloned.SetAttr(name, a)
	}
	for i, result := range op.results {
		mapping[result] = cloned.results[i]
	}
	for _, r := range op.regions {
		clonedRegion := cloned.AddRegion()
		// Blocks first, so forward branch references resolve.
		for _, b := range r.blocks {
			clonedBlock := clonedRegion.AddBlock()
			blockMap[b] = clonedBlock
			for _, arg := range b.args {
				mapping[arg] = clonedBlock.AddArg(arg.typ)
			}
		}
		for _, b := range r.blocks {
			clonedBlock := blockMap[b]
			for _, inner := range b.ops {
				clonedBlock.Append(inner.clone(mapping, blockMap))
			}
		}
	}
	for _, succ := range op.succs {
		if clonedSucc, found := blockMap[succ]; found {
			cloned.AddSuccessor(clonedSucc)
		} else {
			cloned.AddSuccessor(succ)
		}
	}
	return cloned
}
