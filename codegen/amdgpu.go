// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package codegen

import (
	"github.com/pkg/errors"

	"github.com/gomlx/kernelgen/ir"
)

// amdgpu is the AMD backend: kernels lower to the amdir vocabulary and
// compile to images targeting a gfx* architecture. Backend legalization runs
// for this family before low-level lowering.
type amdgpu struct{}

func init() {
	Register("amdgpu", func() Backend { return amdgpu{} })
}

var amdgpuISA = &isaSpec{
	name: "amdgpu",
	opcodes: []string{
		ir.OpAMDIRWorkitemID, ir.OpAMDIRWorkgroupID, ir.OpAMDIRGridDim,
		ir.OpAMDIRGroupDim, ir.OpAMDIRMov, ir.OpAMDIRLd, ir.OpAMDIRSt,
		ir.OpAMDIRAdd, ir.OpAMDIRSub, ir.OpAMDIRMul, ir.OpAMDIRDiv,
		ir.OpAMDIRRem, ir.OpAMDIRMin, ir.OpAMDIRMax, ir.OpAMDIRNeg,
		ir.OpAMDIRAbs, ir.OpAMDIRExp, ir.OpAMDIRTanh, ir.OpAMDIRCmp,
		ir.OpAMDIRCndmask, ir.OpAMDIRCvt, ir.OpAMDIRBarrier, ir.OpAMDIREndpgm,
		ir.OpCFBr, ir.OpCFCondBr,
	},
	convert: map[string]string{
		ir.OpArithConstant:  ir.OpAMDIRMov,
		ir.OpArithAddI:      ir.OpAMDIRAdd,
		ir.OpArithAddF:      ir.OpAMDIRAdd,
		ir.OpArithSubI:      ir.OpAMDIRSub,
		ir.OpArithSubF:      ir.OpAMDIRSub,
		ir.OpArithMulI:      ir.OpAMDIRMul,
		ir.OpArithMulF:      ir.OpAMDIRMul,
		ir.OpArithDivI:      ir.OpAMDIRDiv,
		ir.OpArithDivF:      ir.OpAMDIRDiv,
		ir.OpArithRemI:      ir.OpAMDIRRem,
		ir.OpArithMinI:      ir.OpAMDIRMin,
		ir.OpArithMinF:      ir.OpAMDIRMin,
		ir.OpArithMaxI:      ir.OpAMDIRMax,
		ir.OpArithMaxF:      ir.OpAMDIRMax,
		ir.OpArithNegF:      ir.OpAMDIRNeg,
		ir.OpArithAbsF:      ir.OpAMDIRAbs,
		ir.OpArithExpF:      ir.OpAMDIRExp,
		ir.OpArithTanh:      ir.OpAMDIRTanh,
		ir.OpArithCmpI:      ir.OpAMDIRCmp,
		ir.OpArithCmpF:      ir.OpAMDIRCmp,
		ir.OpArithSelect:    ir.OpAMDIRCndmask,
		ir.OpArithFPToSI:    ir.OpAMDIRCvt,
		ir.OpArithSIToFP:    ir.OpAMDIRCvt,
		ir.OpArithTruncI:    ir.OpAMDIRCvt,
		ir.OpArithExtSI:     ir.OpAMDIRCvt,
		ir.OpArithIndexCast: ir.OpAMDIRCvt,
		ir.OpBufLoad:        ir.OpAMDIRLd,
		ir.OpBufStore:       ir.OpAMDIRSt,
		ir.OpGPUThreadID:    ir.OpAMDIRWorkitemID,
		ir.OpGPUBlockID:     ir.OpAMDIRWorkgroupID,
		ir.OpGPUBlockDim:    ir.OpAMDIRGroupDim,
		ir.OpGPUGridDim:     ir.OpAMDIRGridDim,
		ir.OpGPUBarrier:     ir.OpAMDIRBarrier,
		ir.OpGPUReturn:      ir.OpAMDIREndpgm,
	},
}

func (amdgpu) Name() string                { return "amdgpu" }
func (amdgpu) DefaultArchitecture() string { return "gfx90a" }

func (amdgpu) LowerToDeviceIR(gm *ir.Operation) error {
	return convertOps(gm, amdgpuISA)
}

func (amdgpu) Compile(gm *ir.Operation, arch string, opts Options) ([]byte, error) {
	code, err := assembleModule(gm, amdgpuISA)
	if err != nil {
		return nil, errors.WithMessagef(err, "assembling for %s", arch)
	}
	return writeImage(arch, opts.FlushToZero, code), nil
}

func (amdgpu) Assembly(gm *ir.Operation, arch string) (string, error) {
	return listModule(gm, amdgpuISA, arch)
}
