// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package legalize applies backend-family specific rewrites to the kernel
// modules before low-level lowering. Families without quirks are a no-op.
package legalize

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kernelgen/ir"
	"github.com/gomlx/kernelgen/passes"
)

// AMDGPUFamily names the backend family that needs legalization.
const AMDGPUFamily = "amdgpu"

// Run legalizes every kernel module for the given backend family.
func Run(m *ir.Module, family string) error {
	if family != AMDGPUFamily {
		return nil
	}
	for _, gm := range m.GPUModules() {
		passes.ApplyGreedily(gm, []passes.Pattern{f16ToBoolConversion{}})
	}
	return nil
}

// f16ToBoolConversion splits arith.fptosi from f16 straight to i1, which the
// AMD code generator rejects, into a conversion to i16 followed by a
// truncation.
type f16ToBoolConversion struct{}

func (f16ToBoolConversion) MatchAndRewrite(op *ir.Operation, b *ir.Builder) bool {
	if op.OpCode() != ir.OpArithFPToSI {
		return false
	}
	if op.Operand(0).Type().DType != dtypes.Float16 || op.Result(0).Type().DType != dtypes.Bool {
		return false
	}
	wide := b.Create(ir.OpArithFPToSI, op.Operands(), ir.Scalar(dtypes.Int16))
	narrow := b.Create(ir.OpArithTruncI, []*ir.Value{wide.Result(0)}, ir.Scalar(dtypes.Bool))
	op.ReplaceAllUsesWith(narrow.Result(0))
	op.Erase()
	return true
}
