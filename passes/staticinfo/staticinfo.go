// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package staticinfo implements the static-knowledge amendment stage: facts
// the host side has already proven about a kernel's arguments are recorded as
// attributes on the gpu.func signature, where the device code generator can
// exploit them. The stage is strictly additive, it never rewrites kernel code.
//
// Recorded facts, per argument index i:
//
//	argi.known_rank:  buffer rank
//	argi.known_dims:  static extents, -1 where dynamic
//	argi.abi.align:   guaranteed allocation alignment in bytes
//	argi.abi.noalias: the buffer provably aliases no other argument
//
// plus one abi.shape_groups attribute grouping arguments with provably equal
// static shapes (element j holds the lowest argument index sharing j's shape).
package staticinfo

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/gomlx/kernelgen/internal/xslices"
	"github.com/gomlx/kernelgen/ir"
)

// runtimeAlign is the alignment the runtime allocator guarantees for every
// device and host buffer it hands out.
const runtimeAlign = 16

// Run amends every kernel signature of m.
func Run(m *ir.Module) error {
	kernels, err := kernelsBySymbol(m)
	if err != nil {
		return err
	}
	var failure error
	m.Walk(func(op *ir.Operation) {
		if failure != nil || op.OpCode() != ir.OpGPULaunch {
			return
		}
		if err := amendFromLaunch(op, kernels); err != nil {
			failure = err
		}
	})
	return failure
}

// kernelsBySymbol indexes every gpu.func by its symbol name.
func kernelsBySymbol(m *ir.Module) (map[string]*ir.Operation, error) {
	kernels := make(map[string]*ir.Operation)
	for _, gm := range m.GPUModules() {
		var err error
		gm.Walk(func(op *ir.Operation) {
			if err != nil || op.OpCode() != ir.OpGPUFunc {
				return
			}
			name, found := op.Attr("sym_name")
			if !found {
				err = errors.Errorf("kernel function without a symbol name")
				return
			}
			kernels[name.Str()] = op
		})
		if err != nil {
			return nil, err
		}
	}
	return kernels, nil
}

// amendFromLaunch transfers what the host knows about one launch's arguments
// onto the launched kernel's signature.
func amendFromLaunch(launch *ir.Operation, kernels map[string]*ir.Operation) error {
	symbol, found := launch.Attr(ir.KernelAttrName)
	if !found {
		return errors.Errorf("kernel launch without a kernel symbol")
	}
	kfn, found := kernels[symbol.Str()]
	if !found {
		return errors.Errorf("launch references unknown kernel %q", symbol.Str())
	}

	// Launch operands are [gridX, blockX, kernel arguments...].
	args := launch.Operands()[2:]
	params := kfn.Region(0).Entry().Args()
	if len(args) != len(params) {
		return errors.Errorf("launch of %q passes %d arguments, kernel takes %d",
			symbol.Str(), len(args), len(params))
	}

	groups := make([]int64, len(args))
	for i, arg := range args {
		groups[i] = int64(i)
		if arg.Type().Kind != ir.KindBuffer {
			continue
		}
		prefix := fmt.Sprintf("arg%d.", i)
		kfn.SetAttr(prefix+"known_rank", ir.IntAttr(int64(arg.Type().Rank())))
		dims := xslices.Map(arg.Type().Dims, func(d int) int64 { return int64(d) })
		kfn.SetAttr(prefix+"known_dims", ir.IntSliceAttr(dims...))
		kfn.SetAttr(prefix+"abi.align", ir.IntAttr(runtimeAlign))
		if noAlias(arg, args) {
			kfn.SetAttr(prefix+"abi.noalias", ir.BoolAttr(true))
		}
		for j := 0; j < i; j++ {
			if args[j].Type().Kind == ir.KindBuffer &&
				args[j].Type().IsStatic() && args[j].Type().Equal(arg.Type()) {
				groups[i] = groups[j]
				break
			}
		}
	}
	kfn.SetAttr("abi.shape_groups", ir.IntSliceAttr(groups...))
	return nil
}

// noAlias reports whether the buffer is a fresh allocation that cannot share
// memory with any other launch argument. An allocation marked for input reuse
// may alias the reused input, so it does not qualify.
func noAlias(buf *ir.Value, all []*ir.Value) bool {
	def := buf.Def()
	if def == nil || !def.Is(ir.OpRTAlloc, ir.OpBufAlloca) {
		return false
	}
	if def.HasAttr(ir.ReuseInputAttrName) {
		return false
	}
	for _, other := range all {
		if other == buf {
			continue
		}
		if other.Def() == def {
			return false
		}
	}
	return true
}
