// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

// Opcodes of the standard opsets. The namespace prefix identifies the opset:
//
//   - "hl": high-level tensor operations, the form the loader produces.
//   - "shape": shape computation and runtime shape constraints.
//   - "loop": structured control flow (parallel loops, for, if).
//   - "buf": explicit buffer operations introduced by bufferization.
//   - "arith": scalar arithmetic on buffer elements and indices.
//   - "rt": host runtime hooks (allocation, asserts, kernel launch).
//   - "gpu": device mapping and the outlined kernel module.
//   - "cf": primitive branches, introduced by low-level lowering.
//   - "nvir"/"amdir": backend-specific low-level forms, mutually exclusive.
const (
	OpModule = "module"
	OpFunc   = "func"
	OpReturn = "return"

	OpHLConst  = "hl.const"
	OpHLAdd    = "hl.add"
	OpHLSub    = "hl.sub"
	OpHLMul    = "hl.mul"
	OpHLDiv    = "hl.div"
	OpHLMax    = "hl.max"
	OpHLMin    = "hl.min"
	OpHLAbs    = "hl.abs"
	OpHLNeg    = "hl.neg"
	OpHLExp    = "hl.exp"
	OpHLTanh   = "hl.tanh"
	OpHLSquare = "hl.square"
	OpHLCast   = "hl.cast"
	OpHLMap    = "hl.map"
	OpHLYield  = "hl.yield"

	OpShapeOf            = "shape.of"
	OpShapeAssuming      = "shape.assuming"
	OpShapeAssumingYield = "shape.assuming_yield"
	OpShapeCstrEq        = "shape.cstr_eq"
	OpShapeBroadcast     = "shape.broadcast"

	OpLoopParallel = "loop.parallel"
	OpLoopFor      = "loop.for"
	OpLoopIf       = "loop.if"
	OpLoopYield    = "loop.yield"

	OpBufAlloc         = "buf.alloc"
	OpBufAlloca        = "buf.alloca"
	OpBufDealloc       = "buf.dealloc"
	OpBufLoad          = "buf.load"
	OpBufStore         = "buf.store"
	OpBufCopy          = "buf.copy"
	OpBufToBuffer      = "buf.to_buffer"
	OpBufReshape       = "buf.reshape"
	OpBufExpandShape   = "buf.expand_shape"
	OpBufCollapseShape = "buf.collapse_shape"
	OpBufDim           = "buf.dim"

	OpArithConstant  = "arith.constant"
	OpArithAddF      = "arith.addf"
	OpArithSubF      = "arith.subf"
	OpArithMulF      = "arith.mulf"
	OpArithDivF      = "arith.divf"
	OpArithMaxF      = "arith.maxf"
	OpArithMinF      = "arith.minf"
	OpArithNegF      = "arith.negf"
	OpArithAbsF      = "arith.absf"
	OpArithExpF      = "arith.expf"
	OpArithTanh      = "arith.tanh"
	OpArithCmpF      = "arith.cmpf"
	OpArithCmpI      = "arith.cmpi"
	OpArithFPToSI    = "arith.fptosi"
	OpArithSIToFP    = "arith.sitofp"
	OpArithTruncI    = "arith.trunci"
	OpArithExtSI     = "arith.extsi"
	OpArithAddI      = "arith.addi"
	OpArithSubI      = "arith.subi"
	OpArithMulI      = "arith.muli"
	OpArithDivI      = "arith.divi"
	OpArithRemI      = "arith.remi"
	OpArithMinI      = "arith.mini"
	OpArithMaxI      = "arith.maxi"
	OpArithSelect    = "arith.select"
	OpArithIndexCast = "arith.index_cast"

	OpRTAlloc   = "rt.alloc"
	OpRTDealloc = "rt.dealloc"
	OpRTAssert  = "rt.assert"
	OpRTPrint   = "rt.print"
	OpRTLaunch  = "rt.launch"

	OpGPULaunch   = "gpu.launch"
	OpGPUModule   = "gpu.module"
	OpGPUFunc     = "gpu.func"
	OpGPUBlockID  = "gpu.block_id"
	OpGPUThreadID = "gpu.thread_id"
	OpGPUGridDim  = "gpu.grid_dim"
	OpGPUBlockDim = "gpu.block_dim"
	OpGPUBarrier  = "gpu.barrier"
	OpGPUReturn   = "gpu.return"

	OpCFBr     = "cf.br"
	OpCFCondBr = "cf.cond_br"
)

// NVIR and AMDIR opcodes, the two backend-specific low-level vocabularies.
// Exactly one of them appears in a kernel module after low-level lowering.
const (
	OpNVIRTid    = "nvir.tid"
	OpNVIRCtaid  = "nvir.ctaid"
	OpNVIRNtid   = "nvir.ntid"
	OpNVIRNctaid = "nvir.nctaid"
	OpNVIRMov    = "nvir.mov"
	OpNVIRLd     = "nvir.ld"
	OpNVIRSt     = "nvir.st"
	OpNVIRAdd    = "nvir.add"
	OpNVIRSub    = "nvir.sub"
	OpNVIRMul    = "nvir.mul"
	OpNVIRDiv    = "nvir.div"
	OpNVIRRem    = "nvir.rem"
	OpNVIRMin    = "nvir.min"
	OpNVIRMax    = "nvir.max"
	OpNVIRNeg    = "nvir.neg"
	OpNVIRAbs    = "nvir.abs"
	OpNVIREx2    = "nvir.ex2"
	OpNVIRTanh   = "nvir.tanh"
	OpNVIRSetp   = "nvir.setp"
	OpNVIRSelp   = "nvir.selp"
	OpNVIRCvt    = "nvir.cvt"
	OpNVIRBar    = "nvir.bar"
	OpNVIRRet    = "nvir.ret"

	OpAMDIRWorkitemID  = "amdir.workitem_id"
	OpAMDIRWorkgroupID = "amdir.workgroup_id"
	OpAMDIRGridDim     = "amdir.grid_dim"
	OpAMDIRGroupDim    = "amdir.group_dim"
	OpAMDIRMov         = "amdir.mov"
	OpAMDIRLd          = "amdir.ld"
	OpAMDIRSt          = "amdir.st"
	OpAMDIRAdd         = "amdir.add"
	OpAMDIRSub         = "amdir.sub"
	OpAMDIRMul         = "amdir.mul"
	OpAMDIRDiv         = "amdir.div"
	OpAMDIRRem         = "amdir.rem"
	OpAMDIRMin         = "amdir.min"
	OpAMDIRMax         = "amdir.max"
	OpAMDIRNeg         = "amdir.neg"
	OpAMDIRAbs         = "amdir.abs"
	OpAMDIRExp         = "amdir.exp"
	OpAMDIRTanh        = "amdir.tanh"
	OpAMDIRCmp         = "amdir.cmp"
	OpAMDIRCndmask     = "amdir.cndmask"
	OpAMDIRCvt         = "amdir.cvt"
	OpAMDIRBarrier     = "amdir.barrier"
	OpAMDIREndpgm      = "amdir.endpgm"
)

// Well-known attribute names used across the pipeline.
const (
	// GPUBinaryAttrName keys the compiled device code blob on a gpu.module.
	// Created once by device code generation, read by host finalization.
	GPUBinaryAttrName = "gpu.binary"

	// KernelAttrName names the kernel symbol a gpu.launch / rt.launch targets.
	KernelAttrName = "kernel"

	// PlacementAttrName marks a buf.alloc for the runtime allocator:
	// "device" for computation buffers, "host" for shape/metadata buffers.
	PlacementAttrName = "rt.placement"

	// MappingAttrName on a loop.parallel records the device axes its
	// induction dimensions were assigned to by device mapping.
	MappingAttrName = "gpu.mapping"

	// ReuseInputAttrName marks an operation whose output buffer may alias
	// the given operand index, as proven by buffer-reuse analysis.
	ReuseInputAttrName = "reuse_input"

	// StackAttrName marks a small constant-size buf.alloc promoted to
	// stack allocation.
	StackAttrName = "rt.stack"
)

func registerStandardOpSets(ctx *Context) {
	ctx.RegisterOpSet("core", []string{OpModule, OpFunc, OpReturn})
	ctx.RegisterOpSet("hl", []string{
		OpHLConst, OpHLAdd, OpHLSub, OpHLMul, OpHLDiv, OpHLMax, OpHLMin,
		OpHLAbs, OpHLNeg, OpHLExp, OpHLTanh, OpHLSquare, OpHLCast, OpHLMap,
		OpHLYield,
	})
	ctx.RegisterOpSet("shape", []string{
		OpShapeOf, OpShapeAssuming, OpShapeAssumingYield, OpShapeCstrEq,
		OpShapeBroadcast,
	})
	ctx.RegisterOpSet("loop", []string{
		OpLoopParallel, OpLoopFor, OpLoopIf, OpLoopYield,
	})
	ctx.RegisterOpSet("buf", []string{
		OpBufAlloc, OpBufAlloca, OpBufDealloc, OpBufLoad, OpBufStore,
		OpBufCopy, OpBufToBuffer, OpBufReshape, OpBufExpandShape,
		OpBufCollapseShape, OpBufDim,
	})
	ctx.RegisterOpSet("arith", []string{
		OpArithConstant, OpArithAddF, OpArithSubF, OpArithMulF, OpArithDivF,
		OpArithMaxF, OpArithMinF, OpArithNegF, OpArithAbsF, OpArithExpF,
		OpArithTanh, OpArithCmpF, OpArithCmpI, OpArithFPToSI, OpArithSIToFP,
		OpArithTruncI, OpArithExtSI, OpArithAddI, OpArithSubI, OpArithMulI,
		OpArithDivI, OpArithRemI, OpArithMinI, OpArithMaxI, OpArithSelect,
		OpArithIndexCast,
	})
	ctx.RegisterOpSet("rt", []string{
		OpRTAlloc, OpRTDealloc, OpRTAssert, OpRTPrint, OpRTLaunch,
	})
	ctx.RegisterOpSet("gpu", []string{
		OpGPULaunch, OpGPUModule, OpGPUFunc, OpGPUBlockID, OpGPUThreadID,
		OpGPUGridDim, OpGPUBlockDim, OpGPUBarrier, OpGPUReturn,
	})
	ctx.RegisterOpSet("cf", []string{OpCFBr, OpCFCondBr})
	ctx.RegisterOpSet("nvir", []string{
		OpNVIRTid, OpNVIRCtaid, OpNVIRNtid, OpNVIRNctaid, OpNVIRMov,
		OpNVIRLd, OpNVIRSt, OpNVIRAdd, OpNVIRSub, OpNVIRMul, OpNVIRDiv,
		OpNVIRRem, OpNVIRMin, OpNVIRMax, OpNVIRNeg, OpNVIRAbs, OpNVIREx2,
		OpNVIRTanh, OpNVIRSetp, OpNVIRSelp, OpNVIRCvt, OpNVIRBar, OpNVIRRet,
	})
	ctx.RegisterOpSet("amdir", []string{
		OpAMDIRWorkitemID, OpAMDIRWorkgroupID, OpAMDIRGridDim, OpAMDIRGroupDim,
		OpAMDIRMov, OpAMDIRLd, OpAMDIRSt, OpAMDIRAdd, OpAMDIRSub, OpAMDIRMul,
		OpAMDIRDiv, OpAMDIRRem, OpAMDIRMin, OpAMDIRMax, OpAMDIRNeg, OpAMDIRAbs,
		OpAMDIRExp, OpAMDIRTanh, OpAMDIRCmp, OpAMDIRCndmask, OpAMDIRCvt,
		OpAMDIRBarrier, OpAMDIREndpgm,
	})
}
