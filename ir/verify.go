// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"github.com/pkg/errors"
)

// Verify checks the module-wide structural invariants:
//
//   - every operand references a value that is still live in this module
//     (result of an attached operation or a block argument);
//   - use-lists agree with the operand lists;
//   - no erased operation is still attached;
//   - successor blocks of cf terminators belong to the same region.
//
// Stages run Verify after rewriting in tests; the pipeline driver relies on
// the stages themselves never leaving a dangling reference.
func (m *Module) Verify() error {
	live := make(map[*Value]struct{})
	var collect func(op *Operation)
	collect = func(op *Operation) {
		for _, result := range op.results {
			live[result] = struct{}{}
		}
		for _, r := range op.regions {
			for _, b := range r.blocks {
				for _, arg := range b.args {
					live[arg] = struct{}{}
				}
				for _, inner := range b.ops {
					collect(inner)
				}
			}
		}
	}
	collect(m.op)

	var err error
	var check func(op *Operation)
	check = func(op *Operation) {
		if err != nil {
			return
		}
		if op.erased {
			err = errors.Errorf("erased operation %q is still attached", op.opcode)
			return
		}
		for i, operand := range op.operands {
			if _, found := live[operand]; !found {
				err = errors.Errorf("operand #%d of %q references a dead value", i, op.opcode)
				return
			}
			if !operand.UsedBy(op) {
				err = errors.Errorf("use-list of operand #%d of %q lost the use", i, op.opcode)
				return
			}
		}
		for i, succ := range op.succs {
			if op.block == nil || succ.region != op.block.region {
				err = errors.Errorf("successor #%d of %q is outside the terminator's region", i, op.opcode)
				return
			}
		}
		for _, r := range op.regions {
			if r.owner != op {
				err = errors.Errorf("region of %q has a stale owner link", op.opcode)
				return
			}
			for _, b := range r.blocks {
				if b.region != r {
					err = errors.Errorf("block in %q has a stale region link", op.opcode)
					return
				}
				for _, inner := range b.ops {
					if inner.block != b {
						err = errors.Errorf("operation %q has a stale block link", inner.opcode)
						return
					}
					check(inner)
				}
			}
		}
	}
	check(m.op)
	return err
}
