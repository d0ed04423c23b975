// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package codegen_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/kernelgen/codegen"
	"github.com/gomlx/kernelgen/ir"
	"github.com/gomlx/kernelgen/ir/parser"
)

const kernelSource = `
module {
  gpu.module @k_module {
    gpu.func @k(%out: buffer<4xf32>) {
      %c0 = arith.constant() {value = 0} : () -> (index)
      %v = arith.constant() {value = 1.5} : () -> (f32)
      buf.store(%v, %out, %c0) : (f32, buffer<4xf32>, index) -> ()
      gpu.return() : () -> ()
    }
  }
}
`

// loweredModule parses the fixture and converts it to the backend vocabulary.
func loweredModule(t *testing.T, backend codegen.Backend) *ir.Module {
	t.Helper()
	m, err := parser.Parse(kernelSource)
	require.NoError(t, err)
	require.NoError(t, backend.LowerToDeviceIR(m.GPUModules()[0]))
	return m
}

func TestRegistry(t *testing.T) {
	t.Setenv(codegen.BackendEnvVar, "")
	assert.Equal(t, []string{"amdgpu", "nvgpu"}, codegen.Names())

	backend, err := codegen.New("")
	require.NoError(t, err)
	assert.Equal(t, "nvgpu", backend.Name())
	assert.Equal(t, "sm_75", backend.DefaultArchitecture())

	backend, err = codegen.New("amdgpu")
	require.NoError(t, err)
	assert.Equal(t, "gfx90a", backend.DefaultArchitecture())

	_, err = codegen.New("tpu")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not compiled in")
}

func TestRegistrySelectsFromEnvironment(t *testing.T) {
	t.Setenv(codegen.BackendEnvVar, "amdgpu")
	backend, err := codegen.New("")
	require.NoError(t, err)
	assert.Equal(t, "amdgpu", backend.Name())
}

func TestLowerToDeviceIR(t *testing.T) {
	backend, err := codegen.New("nvgpu")
	require.NoError(t, err)
	m := loweredModule(t, backend)

	assert.Empty(t, m.FindAll(ir.OpArithConstant))
	assert.Len(t, m.FindAll(ir.OpNVIRMov), 2)
	assert.Len(t, m.FindAll(ir.OpNVIRSt), 1)
	assert.Len(t, m.FindAll(ir.OpNVIRRet), 1)
	require.NoError(t, m.Verify())
}

func TestLowerToDeviceIRRejectsForeignOps(t *testing.T) {
	m, err := parser.Parse(`
module {
  gpu.module @k_module {
    gpu.func @k(%x: buffer<4xf32>) {
      rt.print(%x) {msg = "dbg"} : (buffer<4xf32>) -> ()
      gpu.return() : () -> ()
    }
  }
}
`)
	require.NoError(t, err)
	backend, err := codegen.New("nvgpu")
	require.NoError(t, err)
	err = backend.LowerToDeviceIR(m.GPUModules()[0])
	require.Error(t, err)
	assert.Contains(t, err.Error(), `cannot lower "rt.print"`)
}

func TestRunAttachesImage(t *testing.T) {
	backend, err := codegen.New("nvgpu")
	require.NoError(t, err)
	m := loweredModule(t, backend)
	require.NoError(t, codegen.Run(m, backend, nil, codegen.Options{}))

	blob, found := m.GPUModules()[0].Attr(ir.GPUBinaryAttrName)
	require.True(t, found)
	img, err := codegen.ParseImage(blob.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "sm_75", img.Arch)
	assert.False(t, img.FlushToZero)
	assert.NotEmpty(t, img.Code)
	assert.NotEqual(t, [16]byte{}, [16]byte(img.BuildID))
}

func TestRunIsDeterministic(t *testing.T) {
	backend, err := codegen.New("nvgpu")
	require.NoError(t, err)

	var blobs [][]byte
	for i := 0; i < 2; i++ {
		m := loweredModule(t, backend)
		require.NoError(t, codegen.Run(m, backend, nil, codegen.Options{}))
		a, _ := m.GPUModules()[0].Attr(ir.GPUBinaryAttrName)
		blobs = append(blobs, a.Bytes())
	}
	assert.Equal(t, blobs[0], blobs[1])
}

func TestRunFlushToZero(t *testing.T) {
	backend, err := codegen.New("nvgpu")
	require.NoError(t, err)
	m := loweredModule(t, backend)
	require.NoError(t, codegen.Run(m, backend, nil, codegen.Options{FlushToZero: true}))
	a, _ := m.GPUModules()[0].Attr(ir.GPUBinaryAttrName)
	img, err := codegen.ParseImage(a.Bytes())
	require.NoError(t, err)
	assert.True(t, img.FlushToZero)
}

func TestRunBundlesMultipleArchitectures(t *testing.T) {
	backend, err := codegen.New("nvgpu")
	require.NoError(t, err)
	m := loweredModule(t, backend)
	require.NoError(t, codegen.Run(m, backend, []string{"sm_75", "sm_90"}, codegen.Options{}))

	a, _ := m.GPUModules()[0].Attr(ir.GPUBinaryAttrName)
	// A bundle is not a bare image.
	_, err = codegen.ParseImage(a.Bytes())
	require.Error(t, err)
	images, err := codegen.ParseBundle(a.Bytes())
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, "sm_75", images[0].Arch)
	assert.Equal(t, "sm_90", images[1].Arch)
	// Same code section, so the same content-derived build id.
	assert.Equal(t, images[0].BuildID, images[1].BuildID)
}

func TestRunFatbinForcesBundle(t *testing.T) {
	backend, err := codegen.New("nvgpu")
	require.NoError(t, err)
	m := loweredModule(t, backend)
	require.NoError(t, codegen.Run(m, backend, nil, codegen.Options{Fatbin: true}))
	a, _ := m.GPUModules()[0].Attr(ir.GPUBinaryAttrName)
	images, err := codegen.ParseBundle(a.Bytes())
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, "sm_75", images[0].Arch)
}

func TestParseBundleAcceptsBareImage(t *testing.T) {
	backend, err := codegen.New("nvgpu")
	require.NoError(t, err)
	m := loweredModule(t, backend)
	require.NoError(t, codegen.Run(m, backend, nil, codegen.Options{}))
	a, _ := m.GPUModules()[0].Attr(ir.GPUBinaryAttrName)
	images, err := codegen.ParseBundle(a.Bytes())
	require.NoError(t, err)
	require.Len(t, images, 1)
}

func TestParseImageRejectsGarbage(t *testing.T) {
	_, err := codegen.ParseImage([]byte("not an image"))
	require.Error(t, err)
	_, err = codegen.ParseBundle([]byte("not a bundle"))
	require.Error(t, err)
	// Truncation after the magic is diagnosed, not ignored.
	_, err = codegen.ParseImage([]byte("KGB1"))
	require.Error(t, err)
}

func TestRunEmitAssembly(t *testing.T) {
	backend, err := codegen.New("nvgpu")
	require.NoError(t, err)
	m := loweredModule(t, backend)
	require.NoError(t, codegen.Run(m, backend, nil, codegen.Options{EmitAssembly: true}))

	listing, found := m.GPUModules()[0].Attr("gpu.asm")
	require.True(t, found)
	assert.Contains(t, listing.Str(), ".kernel k")
	assert.Contains(t, listing.Str(), "nvir.mov")
	assert.Contains(t, listing.Str(), "nvir.st")
}

func TestAMDGPUCompile(t *testing.T) {
	backend, err := codegen.New("amdgpu")
	require.NoError(t, err)
	m := loweredModule(t, backend)
	assert.Len(t, m.FindAll(ir.OpAMDIRMov), 2)
	require.NoError(t, codegen.Run(m, backend, nil, codegen.Options{}))
	a, _ := m.GPUModules()[0].Attr(ir.GPUBinaryAttrName)
	img, err := codegen.ParseImage(a.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "gfx90a", img.Arch)
}

func TestCompileRejectsUnloweredModule(t *testing.T) {
	m, err := parser.Parse(kernelSource)
	require.NoError(t, err)
	backend, err := codegen.New("nvgpu")
	require.NoError(t, err)
	_, err = backend.Compile(m.GPUModules()[0], "sm_75", codegen.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected op")
}
