// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package codegen

import (
	"github.com/pkg/errors"

	"github.com/gomlx/kernelgen/ir"
)

// nvgpu is the NVIDIA backend: kernels lower to the nvir vocabulary and
// compile to images targeting an sm_* architecture.
type nvgpu struct{}

func init() {
	Register("nvgpu", func() Backend { return nvgpu{} })
}

var nvgpuISA = &isaSpec{
	name: "nvgpu",
	opcodes: []string{
		ir.OpNVIRTid, ir.OpNVIRCtaid, ir.OpNVIRNtid, ir.OpNVIRNctaid,
		ir.OpNVIRMov, ir.OpNVIRLd, ir.OpNVIRSt, ir.OpNVIRAdd, ir.OpNVIRSub,
		ir.OpNVIRMul, ir.OpNVIRDiv, ir.OpNVIRRem, ir.OpNVIRMin, ir.OpNVIRMax,
		ir.OpNVIRNeg, ir.OpNVIRAbs, ir.OpNVIREx2, ir.OpNVIRTanh, ir.OpNVIRSetp,
		ir.OpNVIRSelp, ir.OpNVIRCvt, ir.OpNVIRBar, ir.OpNVIRRet,
		ir.OpCFBr, ir.OpCFCondBr,
	},
	convert: map[string]string{
		ir.OpArithConstant:  ir.OpNVIRMov,
		ir.OpArithAddI:      ir.OpNVIRAdd,
		ir.OpArithAddF:      ir.OpNVIRAdd,
		ir.OpArithSubI:      ir.OpNVIRSub,
		ir.OpArithSubF:      ir.OpNVIRSub,
		ir.OpArithMulI:      ir.OpNVIRMul,
		ir.OpArithMulF:      ir.OpNVIRMul,
		ir.OpArithDivI:      ir.OpNVIRDiv,
		ir.OpArithDivF:      ir.OpNVIRDiv,
		ir.OpArithRemI:      ir.OpNVIRRem,
		ir.OpArithMinI:      ir.OpNVIRMin,
		ir.OpArithMinF:      ir.OpNVIRMin,
		ir.OpArithMaxI:      ir.OpNVIRMax,
		ir.OpArithMaxF:      ir.OpNVIRMax,
		ir.OpArithNegF:      ir.OpNVIRNeg,
		ir.OpArithAbsF:      ir.OpNVIRAbs,
		ir.OpArithExpF:      ir.OpNVIREx2,
		ir.OpArithTanh:      ir.OpNVIRTanh,
		ir.OpArithCmpI:      ir.OpNVIRSetp,
		ir.OpArithCmpF:      ir.OpNVIRSetp,
		ir.OpArithSelect:    ir.OpNVIRSelp,
		ir.OpArithFPToSI:    ir.OpNVIRCvt,
		ir.OpArithSIToFP:    ir.OpNVIRCvt,
		ir.OpArithTruncI:    ir.OpNVIRCvt,
		ir.OpArithExtSI:     ir.OpNVIRCvt,
		ir.OpArithIndexCast: ir.OpNVIRCvt,
		ir.OpBufLoad:        ir.OpNVIRLd,
		ir.OpBufStore:       ir.OpNVIRSt,
		ir.OpGPUThreadID:    ir.OpNVIRTid,
		ir.OpGPUBlockID:     ir.OpNVIRCtaid,
		ir.OpGPUBlockDim:    ir.OpNVIRNtid,
		ir.OpGPUGridDim:     ir.OpNVIRNctaid,
		ir.OpGPUBarrier:     ir.OpNVIRBar,
		ir.OpGPUReturn:      ir.OpNVIRRet,
	},
}

func (nvgpu) Name() string                { return "nvgpu" }
func (nvgpu) DefaultArchitecture() string { return "sm_75" }

func (nvgpu) LowerToDeviceIR(gm *ir.Operation) error {
	return convertOps(gm, nvgpuISA)
}

func (nvgpu) Compile(gm *ir.Operation, arch string, opts Options) ([]byte, error) {
	code, err := assembleModule(gm, nvgpuISA)
	if err != nil {
		return nil, errors.WithMessagef(err, "assembling for %s", arch)
	}
	return writeImage(arch, opts.FlushToZero, code), nil
}

func (nvgpu) Assembly(gm *ir.Operation, arch string) (string, error) {
	return listModule(gm, nvgpuISA, arch)
}
