// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"fmt"
	"strings"

	"github.com/gomlx/kernelgen/ir"
)

// CSE deduplicates pure operations with identical opcode, operands and
// attributes within each block, rerouting users to the first occurrence.
// Memory operations are never deduplicated: the pass runs before and after
// bufferization and must not merge loads across stores.
func CSE(m *ir.Module) {
	var blocks []*ir.Block
	m.Walk(func(op *ir.Operation) {
		for _, r := range op.Regions() {
			blocks = append(blocks, r.Blocks()...)
		}
	})
	for _, b := range blocks {
		cseBlock(b)
	}
}

func cseBlock(b *ir.Block) {
	seen := make(map[string]*ir.Operation)
	var duplicates []*ir.Operation
	for _, op := range b.Ops() {
		if !IsPure(op) {
			continue
		}
		key := cseKey(op)
		if first, found := seen[key]; found {
			op.ReplaceAllUsesWith(first.Results()...)
			duplicates = append(duplicates, op)
			continue
		}
		seen[key] = op
	}
	for _, op := range duplicates {
		op.Erase()
	}
}

func cseKey(op *ir.Operation) string {
	var sb strings.Builder
	sb.WriteString(op.OpCode())
	for _, operand := range op.Operands() {
		fmt.Fprintf(&sb, "|%p", operand)
	}
	for _, name := range op.AttrNames() {
		a, _ := op.Attr(name)
		fmt.Fprintf(&sb, "|%s=%s", name, a.String())
	}
	for _, result := range op.Results() {
		fmt.Fprintf(&sb, "|%s", result.Type())
	}
	return sb.String()
}
