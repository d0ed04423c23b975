// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package legalize_test

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/kernelgen/ir"
	"github.com/gomlx/kernelgen/ir/parser"
	"github.com/gomlx/kernelgen/passes/legalize"
)

const f16Kernel = `
module {
  gpu.module @k_module {
    gpu.func @k(%x: f16) {
      %b = arith.fptosi(%x) : (f16) -> (i1)
      %s = arith.select(%b, %x, %x) : (i1, f16, f16) -> (f16)
      gpu.return() : () -> ()
    }
  }
}
`

func TestRunSplitsF16ToBoolOnAMDGPU(t *testing.T) {
	m, err := parser.Parse(f16Kernel)
	require.NoError(t, err)
	require.NoError(t, legalize.Run(m, legalize.AMDGPUFamily))
	require.NoError(t, m.Verify())

	conversions := m.FindAll(ir.OpArithFPToSI)
	require.Len(t, conversions, 1)
	assert.Equal(t, dtypes.Int16, conversions[0].Result(0).Type().DType)

	truncs := m.FindAll(ir.OpArithTruncI)
	require.Len(t, truncs, 1)
	assert.Equal(t, dtypes.Bool, truncs[0].Result(0).Type().DType)

	// The select now consumes the narrowed value.
	sel := m.FindAll(ir.OpArithSelect)[0]
	assert.Same(t, truncs[0].Result(0), sel.Operand(0))
}

func TestRunIsANoOpForNVGPU(t *testing.T) {
	m, err := parser.Parse(f16Kernel)
	require.NoError(t, err)
	before := m.String()
	require.NoError(t, legalize.Run(m, "nvgpu"))
	assert.Equal(t, before, m.String())
}
