// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"github.com/gomlx/kernelgen/ir"
	"k8s.io/klog/v2"
)

// Pattern is a single rewrite rule applied by ApplyGreedily. MatchAndRewrite
// returns true if it rewrote op; the builder inserts just before op.
type Pattern interface {
	MatchAndRewrite(op *ir.Operation, b *ir.Builder) bool
}

// maxGreedyIterations caps the fixed-point loop; patterns that keep matching
// their own output would otherwise never terminate.
const maxGreedyIterations = 64

// ApplyGreedily applies the patterns to every operation under root until no
// pattern matches anymore. Non-matching patterns are no-ops.
func ApplyGreedily(root *ir.Operation, patterns []Pattern) {
	for iter := 0; iter < maxGreedyIterations; iter++ {
		var candidates []*ir.Operation
		root.Walk(func(op *ir.Operation) {
			candidates = append(candidates, op)
		})
		changed := false
		for _, op := range candidates {
			if op.Erased() || op.Block() == nil {
				continue
			}
			b := ir.NewBuilder(op.Block())
			b.SetInsertionPoint(op.Block(), op)
			b.SetLoc(op.Loc())
			for _, pattern := range patterns {
				if pattern.MatchAndRewrite(op, b) {
					changed = true
					break
				}
			}
		}
		if !changed {
			return
		}
	}
	klog.Warningf("greedy pattern driver on %q did not reach a fixed point after %d iterations",
		root.OpCode(), maxGreedyIterations)
}
