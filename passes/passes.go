// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package passes holds the rewriting infrastructure shared by the pipeline
// stages: canonicalization (constant folding + dead-code elimination), common
// sub-expression elimination, and a greedy fixed-point pattern driver.
//
// The stage-specific transformations live in the sub-packages (hllower,
// looptransform, devicemap, legalize, lllower, staticinfo, hostlower).
package passes

import (
	"strings"

	"github.com/gomlx/kernelgen/ir"
)

// IsPure reports whether an operation has no side effects and may be erased
// when unused or deduplicated by CSE. Memory reads and writes, runtime hooks,
// control flow and region-carrying operations are all impure.
func IsPure(op *ir.Operation) bool {
	if op.NumRegions() > 0 || op.NumSuccessors() > 0 {
		return false
	}
	opcode := op.OpCode()
	switch {
	case strings.HasPrefix(opcode, "arith."):
		return true
	case opcode == ir.OpShapeOf, opcode == ir.OpShapeBroadcast, opcode == ir.OpBufDim:
		return true
	case strings.HasPrefix(opcode, "hl.") && opcode != ir.OpHLYield:
		return true
	default:
		return false
	}
}
