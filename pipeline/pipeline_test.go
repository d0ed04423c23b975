// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pipeline_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/kernelgen/codegen"
	"github.com/gomlx/kernelgen/ir"
	"github.com/gomlx/kernelgen/pipeline"
)

const addSource = `
module {
  func @f(%a: tensor<8xf32>, %b: tensor<8xf32>) {
    %0 = hl.add(%a, %b) : (tensor<8xf32>, tensor<8xf32>) -> (tensor<8xf32>)
    return(%0) : (tensor<8xf32>) -> ()
  }
}
`

func TestCompile(t *testing.T) {
	m, err := pipeline.Compile(&pipeline.Config{
		Source:    addSource,
		Backend:   "nvgpu",
		TileSizes: []int64{4},
	})
	require.NoError(t, err)
	require.NoError(t, m.Verify())

	// The finished program is fully lowered: no tensor ops, no structured
	// loops on the host, no unresolved launches.
	assert.Empty(t, m.FindAll(ir.OpHLAdd))
	assert.Empty(t, m.FindAll(ir.OpLoopParallel))
	assert.Empty(t, m.FindAll(ir.OpGPULaunch))

	launches := m.FindAll(ir.OpRTLaunch)
	require.Len(t, launches, 1)
	blob, found := launches[0].Attr(ir.GPUBinaryAttrName)
	require.True(t, found)
	img, err := codegen.ParseImage(blob.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "sm_75", img.Arch)

	// The kernel signature carries the statically known shapes. The first
	// buffer argument follows the four captured index bounds.
	kfns := m.FindAll(ir.OpGPUFunc)
	require.Len(t, kfns, 1)
	dims, found := kfns[0].Attr("arg4.known_dims")
	require.True(t, found)
	assert.Equal(t, []int64{8}, dims.Ints())
}

func TestCompileIsDeterministic(t *testing.T) {
	cfg := func() *pipeline.Config {
		return &pipeline.Config{Source: addSource, Backend: "nvgpu", TileSizes: []int64{4}}
	}
	m1, err := pipeline.Compile(cfg())
	require.NoError(t, err)
	m2, err := pipeline.Compile(cfg())
	require.NoError(t, err)
	assert.Equal(t, m1.String(), m2.String())
}

func TestCompileCPUOnly(t *testing.T) {
	m, err := pipeline.Compile(&pipeline.Config{
		Source:    addSource,
		CPUOnly:   true,
		TileSizes: []int64{4},
	})
	require.NoError(t, err)
	require.NoError(t, m.Verify())

	assert.Empty(t, m.GPUModules())
	assert.Empty(t, m.FindAll(ir.OpRTLaunch))
	// The loop program is lowered to a CFG on the host.
	assert.Empty(t, m.FindAll(ir.OpLoopFor))
	assert.NotEmpty(t, m.FindAll(ir.OpCFBr))
}

func TestCompileObserver(t *testing.T) {
	var stages []string
	cfg := &pipeline.Config{
		Source:  addSource,
		CPUOnly: true,
		Observer: func(stage string, elapsed time.Duration) {
			stages = append(stages, stage)
		},
	}
	_, err := pipeline.Compile(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"loader",
		"high-level lowering",
		"loop transform",
		"device mapping",
		"host finalization",
	}, stages)
	assert.Equal(t, pipeline.NumStages(cfg), len(stages))
}

func TestNumStages(t *testing.T) {
	full := pipeline.NumStages(&pipeline.Config{})
	cpu := pipeline.NumStages(&pipeline.Config{CPUOnly: true})
	assert.Equal(t, 1+len(pipeline.Stages()), full)
	assert.Less(t, cpu, full)
}

func TestCompileRejectsMalformedSource(t *testing.T) {
	_, err := pipeline.Compile(&pipeline.Config{Source: "not a program", CPUOnly: true})
	require.Error(t, err)
	assert.True(t, pipeline.IsInternalError(err))
	assert.Contains(t, err.Error(), "parsing source failed")
}

func TestCompileRejectsUnknownBackend(t *testing.T) {
	_, err := pipeline.Compile(&pipeline.Config{Source: addSource, Backend: "tpu"})
	require.Error(t, err)
	assert.True(t, pipeline.IsInternalError(err))
	assert.Contains(t, err.Error(), "not compiled in")
}

func TestIsInternalError(t *testing.T) {
	assert.False(t, pipeline.IsInternalError(nil))
	assert.False(t, pipeline.IsInternalError(assert.AnError))
}

func TestCompileEmitAssembly(t *testing.T) {
	m, err := pipeline.Compile(&pipeline.Config{
		Source:       addSource,
		Backend:      "nvgpu",
		TileSizes:    []int64{4},
		EmitAssembly: true,
	})
	require.NoError(t, err)
	listing, found := m.GPUModules()[0].Attr("gpu.asm")
	require.True(t, found)
	assert.Contains(t, listing.Str(), ".kernel f_kernel_0")
}
