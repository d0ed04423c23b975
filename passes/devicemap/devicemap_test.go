// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package devicemap_test

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"

	"github.com/gomlx/kernelgen/ir"
	"github.com/gomlx/kernelgen/ir/parser"
	"github.com/gomlx/kernelgen/passes/devicemap"
	"github.com/gomlx/kernelgen/passes/hllower"
	"github.com/gomlx/kernelgen/passes/looptransform"
)

const addSource = `
module {
  func @f(%a: tensor<8xf32>, %b: tensor<8xf32>) {
    %0 = hl.add(%a, %b) : (tensor<8xf32>, tensor<8xf32>) -> (tensor<8xf32>)
    return(%0) : (tensor<8xf32>) -> ()
  }
}
`

// lowerToLoops runs the two stages in front of device mapping.
func lowerToLoops(t *testing.T, src string, tiles []int64) *ir.Module {
	t.Helper()
	m, err := parser.Parse(src)
	require.NoError(t, err)
	require.NoError(t, hllower.Run(m))
	looptransform.Run(m, tiles, nil)
	require.NoError(t, m.Verify())
	return m
}

// captureWarnings redirects klog to a buffer for the duration of the test.
func captureWarnings(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	klog.LogToStderr(false)
	klog.SetOutput(&buf)
	t.Cleanup(func() {
		klog.Flush()
		klog.SetOutput(os.Stderr)
		klog.LogToStderr(true)
	})
	return &buf
}

func constValue(t *testing.T, v *ir.Value) int64 {
	t.Helper()
	def := v.Def()
	require.NotNil(t, def)
	require.Equal(t, ir.OpArithConstant, def.OpCode())
	a, found := def.Attr("value")
	require.True(t, found)
	return a.Int()
}

func TestRunOutlinesSingleKernel(t *testing.T) {
	m := lowerToLoops(t, addSource, []int64{4})
	require.NoError(t, devicemap.Run(m, false, false))
	require.NoError(t, m.Verify())

	gms := m.GPUModules()
	require.Len(t, gms, 1)
	name, _ := gms[0].Attr("sym_name")
	assert.Equal(t, "f_kernel_0_module", name.Str())

	kfns := m.FindAll(ir.OpGPUFunc)
	require.Len(t, kfns, 1)
	kname, _ := kfns[0].Attr("sym_name")
	assert.Equal(t, "f_kernel_0", kname.Str())
	isKernel, found := kfns[0].Attr(ir.KernelAttrName)
	require.True(t, found)
	assert.True(t, isKernel.Bool())

	// The kernel derives its indices from the device axes and guards the
	// partial tile.
	assert.Len(t, m.FindAll(ir.OpGPUBlockID), 1)
	assert.Len(t, m.FindAll(ir.OpGPUThreadID), 1)
	assert.Len(t, m.FindAll(ir.OpLoopIf), 1)
	assert.Len(t, m.FindAll(ir.OpGPUReturn), 1)

	// No structured parallel loop survives on either side.
	assert.Empty(t, m.FindAll(ir.OpLoopParallel))

	launches := m.FindAll(ir.OpGPULaunch)
	require.Len(t, launches, 1)
	launch := launches[0]
	target, found := launch.Attr(ir.KernelAttrName)
	require.True(t, found)
	assert.Equal(t, "f_kernel_0", target.Str())
	// 8 elements tiled by 4: grid of 2 blocks, 4 threads each, all folded to
	// constants on the host.
	assert.Equal(t, int64(2), constValue(t, launch.Operand(0)))
	assert.Equal(t, int64(4), constValue(t, launch.Operand(1)))
}

func TestRunLowersOutputAllocation(t *testing.T) {
	m := lowerToLoops(t, addSource, []int64{4})
	require.NoError(t, devicemap.Run(m, false, false))

	allocs := m.FindAll(ir.OpRTAlloc)
	require.Len(t, allocs, 1)
	placement, found := allocs[0].Attr(ir.PlacementAttrName)
	require.True(t, found)
	assert.Equal(t, "device", placement.Str())
	reuse, found := allocs[0].Attr(ir.ReuseInputAttrName)
	require.True(t, found)
	assert.Equal(t, int64(0), reuse.Int())
	// The output escapes through return, so it is never stack-promoted even
	// though it is only 32 bytes.
	assert.Empty(t, m.FindAll(ir.OpBufAlloca))
}

func TestRunCPUOnly(t *testing.T) {
	m := lowerToLoops(t, addSource, []int64{4})
	require.NoError(t, devicemap.Run(m, true, false))
	require.NoError(t, m.Verify())

	assert.Empty(t, m.GPUModules())
	assert.Empty(t, m.FindAll(ir.OpGPULaunch))
	assert.Empty(t, m.FindAll(ir.OpLoopParallel))
	assert.NotEmpty(t, m.FindAll(ir.OpLoopFor))
}

func TestRunSpecializesMinBounds(t *testing.T) {
	m := lowerToLoops(t, addSource, []int64{4})
	require.NoError(t, devicemap.Run(m, true, false))

	// The tiled inner loop's min-bound splits into a static and a dynamic
	// copy under a loop.if; with the outer loop that makes three loop.for.
	assert.Len(t, m.FindAll(ir.OpLoopIf), 1)
	assert.Len(t, m.FindAll(ir.OpLoopFor), 3)
	assert.Empty(t, m.FindAll(ir.OpArithMinI))
}

func TestRunWarnsButSucceedsOnTwoKernels(t *testing.T) {
	m := lowerToLoops(t, `
module {
  func @f(%a: tensor<8xf32>, %b: tensor<8xf32>) {
    %0 = hl.add(%a, %b) : (tensor<8xf32>, tensor<8xf32>) -> (tensor<8xf32>)
    return(%0) : (tensor<8xf32>) -> ()
  }
  func @g(%a: tensor<8xf32>) {
    %0 = hl.neg(%a) : (tensor<8xf32>) -> (tensor<8xf32>)
    return(%0) : (tensor<8xf32>) -> ()
  }
}
`, []int64{4})
	// Two independent nests produce two kernel modules; that only warns.
	warnings := captureWarnings(t)
	require.NoError(t, devicemap.Run(m, false, false))
	require.NoError(t, m.Verify())
	assert.Len(t, m.GPUModules(), 2)
	assert.Len(t, m.FindAll(ir.OpGPULaunch), 2)
	klog.Flush()
	assert.Contains(t, warnings.String(), "expected exactly one kernel module, got 2")
}

func TestRunStackPromotesSmallLocals(t *testing.T) {
	m := lowerToLoops(t, `
module {
  func @f(%a: tensor<4xf32>) {
    %0 = hl.neg(%a) : (tensor<4xf32>) -> (tensor<4xf32>)
    rt.print(%0) {msg = "result"} : (tensor<4xf32>) -> ()
    return() : () -> ()
  }
}
`, nil)
	require.NoError(t, devicemap.Run(m, true, false))
	require.NoError(t, m.Verify())

	allocas := m.FindAll(ir.OpBufAlloca)
	require.Len(t, allocas, 1)
	onStack, found := allocas[0].Attr(ir.StackAttrName)
	require.True(t, found)
	assert.True(t, onStack.Bool())
	assert.Empty(t, m.FindAll(ir.OpRTAlloc))
}

func TestRunDischargesShapeConstraints(t *testing.T) {
	m, err := parser.Parse(`
module {
  func @f(%a: buffer<?xf32>, %b: buffer<?xf32>, %x: f32) {
    %w = shape.cstr_eq(%a, %b) : (buffer<?xf32>, buffer<?xf32>) -> (none)
    shape.assuming(%w) : (none) -> () {
      ^bb0():
        %c0 = arith.constant() {value = 0} : () -> (index)
        %n = buf.dim(%a, %c0) : (buffer<?xf32>, index) -> (index)
        %c1 = arith.constant() {value = 1} : () -> (index)
        loop.parallel(%c0, %n, %c1) {dims = 1} : (index, index, index) -> () {
          ^bb0(%i: index):
            buf.store(%x, %a, %i) : (f32, buffer<?xf32>, index) -> ()
            loop.yield() : () -> ()
        }
        shape.assuming_yield() : () -> ()
    }
    return() : () -> ()
  }
}
`)
	require.NoError(t, err)
	require.NoError(t, devicemap.Run(m, true, false))
	require.NoError(t, m.Verify())

	assert.Empty(t, m.FindAll(ir.OpShapeAssuming))
	assert.Empty(t, m.FindAll(ir.OpShapeCstrEq))
	asserts := m.FindAll(ir.OpRTAssert)
	require.Len(t, asserts, 1)
	msg, found := asserts[0].Attr("msg")
	require.True(t, found)
	assert.Equal(t, "operand shapes must match", msg.Str())
}

func TestRunEmbedsDebugPrints(t *testing.T) {
	m := lowerToLoops(t, addSource, []int64{4})
	require.NoError(t, devicemap.Run(m, false, true))
	require.NoError(t, m.Verify())

	prints := m.FindAll(ir.OpRTPrint)
	// One print per buffer argument of the launch: the two inputs and the
	// output allocation.
	require.Len(t, prints, 3)
	for _, p := range prints {
		msg, found := p.Attr("msg")
		require.True(t, found)
		assert.Equal(t, "kernel argument", msg.Str())
	}
}
