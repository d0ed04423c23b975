// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package allowlist answers whether an operation identifier is permitted in
// source programs handed to the compiler. Front ends consult it before
// emitting the textual form; the pipeline itself never does, it trusts the
// Context's registered vocabularies.
//
// The membership tables are built once at package initialization and never
// mutated afterwards, so the checks are safe from any goroutine without
// locking.
package allowlist

import (
	"github.com/gomlx/kernelgen/ir"
)

// allowed holds the identifiers unconditionally accepted in source programs:
// the high-level tensor vocabulary, the shape constraint vocabulary and the
// structural framing operations.
var allowed = makeSet(
	ir.OpModule, ir.OpFunc, ir.OpReturn,

	ir.OpHLConst, ir.OpHLAdd, ir.OpHLSub, ir.OpHLMul, ir.OpHLDiv,
	ir.OpHLMax, ir.OpHLMin, ir.OpHLAbs, ir.OpHLNeg, ir.OpHLExp,
	ir.OpHLTanh, ir.OpHLSquare, ir.OpHLCast, ir.OpHLMap, ir.OpHLYield,

	ir.OpShapeOf, ir.OpShapeAssuming, ir.OpShapeAssumingYield,
	ir.OpShapeCstrEq, ir.OpShapeBroadcast,
)

// textOps are host-side diagnostic identifiers permitted only when the
// consulting front end's Context actually registered them.
var textOps = makeSet(
	ir.OpRTPrint, ir.OpRTAssert,
)

// pieceOps are pieces of the lowered program (loops, buffers, scalar and
// device operations) that a front end may emit directly, bypassing
// high-level lowering, again only when registered.
var pieceOps = makeSet(
	ir.OpLoopParallel, ir.OpLoopFor, ir.OpLoopIf, ir.OpLoopYield,
	ir.OpBufAlloc, ir.OpBufLoad, ir.OpBufStore, ir.OpBufDim,
	ir.OpArithConstant, ir.OpArithAddI, ir.OpArithSubI, ir.OpArithMulI,
	ir.OpArithAddF, ir.OpArithSubF, ir.OpArithMulF, ir.OpArithDivF,
)

func makeSet(names ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

// IsAllowed reports whether the identifier is unconditionally permitted in
// source programs.
func IsAllowed(name string) bool {
	_, found := allowed[name]
	return found
}

// IsAllowedTextOp reports whether the identifier is a diagnostic operation
// permitted for a front end using ctx. Membership alone is not enough: the
// context must have the operation registered at query time.
func IsAllowedTextOp(name string, ctx *ir.Context) bool {
	if _, found := textOps[name]; !found {
		return false
	}
	return ctx.IsRegistered(name)
}

// IsAllowedPieceOp reports whether the identifier is a lowered-program piece
// permitted for a front end using ctx, subject to the same registration
// requirement as IsAllowedTextOp.
func IsAllowedPieceOp(name string, ctx *ir.Context) bool {
	if _, found := pieceOps[name]; !found {
		return false
	}
	return ctx.IsRegistered(name)
}
