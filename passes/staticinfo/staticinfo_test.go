// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package staticinfo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/kernelgen/ir"
	"github.com/gomlx/kernelgen/ir/parser"
	"github.com/gomlx/kernelgen/passes/staticinfo"
)

func TestRunAmendsKernelSignature(t *testing.T) {
	m, err := parser.Parse(`
module {
  func @f(%a: buffer<8xf32>, %b: buffer<8xf32>) {
    %g = arith.constant() {value = 2} : () -> (index)
    %t = arith.constant() {value = 4} : () -> (index)
    %out = rt.alloc() {rt.placement = "device"} : () -> (buffer<?xf32>)
    gpu.launch(%g, %t, %a, %b, %out) {kernel = "k"} : (index, index, buffer<8xf32>, buffer<8xf32>, buffer<?xf32>) -> ()
    return(%out) : (buffer<?xf32>) -> ()
  }
  gpu.module @k_module {
    gpu.func @k(%x: buffer<8xf32>, %y: buffer<8xf32>, %o: buffer<?xf32>) {
      gpu.return() : () -> ()
    }
  }
}
`)
	require.NoError(t, err)
	require.NoError(t, staticinfo.Run(m))

	kfn := m.FindAll(ir.OpGPUFunc)[0]

	rank, found := kfn.Attr("arg0.known_rank")
	require.True(t, found)
	assert.Equal(t, int64(1), rank.Int())
	dims, found := kfn.Attr("arg0.known_dims")
	require.True(t, found)
	assert.Equal(t, []int64{8}, dims.Ints())
	align, found := kfn.Attr("arg0.abi.align")
	require.True(t, found)
	assert.Equal(t, int64(16), align.Int())

	// The dynamic output records its rank with an unknown extent.
	dims, found = kfn.Attr("arg2.known_dims")
	require.True(t, found)
	assert.Equal(t, []int64{-1}, dims.Ints())

	// Only the fresh allocation is provably alias-free.
	assert.False(t, kfn.HasAttr("arg0.abi.noalias"))
	assert.False(t, kfn.HasAttr("arg1.abi.noalias"))
	noalias, found := kfn.Attr("arg2.abi.noalias")
	require.True(t, found)
	assert.True(t, noalias.Bool())

	// Both inputs share a static shape; the output's is dynamic and stays in
	// its own group.
	groups, found := kfn.Attr("abi.shape_groups")
	require.True(t, found)
	assert.Equal(t, []int64{0, 0, 2}, groups.Ints())
}

func TestRunNoReuseNoAlias(t *testing.T) {
	m, err := parser.Parse(`
module {
  func @f(%a: buffer<8xf32>) {
    %g = arith.constant() {value = 1} : () -> (index)
    %out = rt.alloc() {reuse_input = 0, rt.placement = "device"} : () -> (buffer<8xf32>)
    gpu.launch(%g, %g, %a, %out) {kernel = "k"} : (index, index, buffer<8xf32>, buffer<8xf32>) -> ()
    return(%out) : (buffer<8xf32>) -> ()
  }
  gpu.module @k_module {
    gpu.func @k(%x: buffer<8xf32>, %o: buffer<8xf32>) {
      gpu.return() : () -> ()
    }
  }
}
`)
	require.NoError(t, err)
	require.NoError(t, staticinfo.Run(m))
	kfn := m.FindAll(ir.OpGPUFunc)[0]
	// An allocation marked for input reuse may alias that input.
	assert.False(t, kfn.HasAttr("arg1.abi.noalias"))
}

func TestRunRejectsArgumentMismatch(t *testing.T) {
	m, err := parser.Parse(`
module {
  func @f(%a: buffer<8xf32>) {
    %g = arith.constant() {value = 1} : () -> (index)
    gpu.launch(%g, %g, %a) {kernel = "k"} : (index, index, buffer<8xf32>) -> ()
    return() : () -> ()
  }
  gpu.module @k_module {
    gpu.func @k(%x: buffer<8xf32>, %o: buffer<8xf32>) {
      gpu.return() : () -> ()
    }
  }
}
`)
	require.NoError(t, err)
	err = staticinfo.Run(m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "passes 1 arguments, kernel takes 2")
}
