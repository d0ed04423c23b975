// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package lllower implements low-level lowering of the kernel modules: the
// structured loop.for/loop.if control flow becomes a multi-block CFG of
// cf.br/cf.cond_br, the selected backend converts the portable operations to
// its own vocabulary, and all source locations are stripped so device code
// never carries debug information. The host side is untouched until host
// finalization. The kernel-module count diagnostic is logged by device
// mapping, where the modules are created.
package lllower

import (
	"github.com/pkg/errors"

	"github.com/gomlx/kernelgen/codegen"
	"github.com/gomlx/kernelgen/ir"
	"github.com/gomlx/kernelgen/passes"
)

// Run lowers every kernel module of m in place.
func Run(m *ir.Module, backend codegen.Backend) error {
	for _, gm := range m.GPUModules() {
		var kernels []*ir.Operation
		gm.Walk(func(op *ir.Operation) {
			if op.OpCode() == ir.OpGPUFunc {
				kernels = append(kernels, op)
			}
		})
		for _, fn := range kernels {
			if err := passes.LowerToCFG(fn); err != nil {
				return err
			}
		}
		if err := backend.LowerToDeviceIR(gm); err != nil {
			return errors.WithMessage(err, "converting to backend vocabulary")
		}
		gm.Walk(func(op *ir.Operation) {
			op.SetLoc(ir.Loc{})
		})
	}
	return nil
}
