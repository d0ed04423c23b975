// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package hostlower implements host finalization, the last stage on both
// paths: every gpu.launch becomes an rt.launch carrying the compiled binary
// of the kernel it targets, the host functions' structured loops lower to a
// CFG, and a final canonicalization round cleans up.
package hostlower

import (
	"github.com/pkg/errors"

	"github.com/gomlx/kernelgen/ir"
	"github.com/gomlx/kernelgen/passes"
)

// Run finalizes the host side of m in place.
func Run(m *ir.Module) error {
	if err := resolveLaunches(m); err != nil {
		return err
	}
	for _, fn := range m.Funcs() {
		if err := passes.LowerToCFG(fn); err != nil {
			return err
		}
	}
	passes.Canonicalize(m)
	passes.CSE(m)
	return nil
}

// resolveLaunches rewrites every gpu.launch into an rt.launch that carries
// both the kernel symbol and the compiled binary of the kernel module
// defining it, so the finished program no longer depends on compile-time
// symbol resolution.
func resolveLaunches(m *ir.Module) error {
	binaries, err := binariesBySymbol(m)
	if err != nil {
		return err
	}
	var worklist []*ir.Operation
	m.Walk(func(op *ir.Operation) {
		if op.OpCode() == ir.OpGPULaunch {
			worklist = append(worklist, op)
		}
	})
	for _, op := range worklist {
		symbol, found := op.Attr(ir.KernelAttrName)
		if !found {
			return errors.Errorf("kernel launch without a kernel symbol")
		}
		blob, compiled := binaries[symbol.Str()]
		if !compiled {
			return errors.Errorf("kernel %q has no compiled binary", symbol.Str())
		}
		b := ir.NewBuilder(op.Block())
		b.SetInsertionPoint(op.Block(), op)
		b.SetLoc(op.Loc())
		launch := b.Create(ir.OpRTLaunch, op.Operands())
		launch.SetAttr(ir.KernelAttrName, symbol)
		launch.SetAttr(ir.GPUBinaryAttrName, ir.BytesAttr(blob))
		op.Erase()
	}
	return nil
}

// binariesBySymbol maps each kernel symbol to the binary attached to its
// kernel module.
func binariesBySymbol(m *ir.Module) (map[string][]byte, error) {
	binaries := make(map[string][]byte)
	for _, gm := range m.GPUModules() {
		binary, found := gm.Attr(ir.GPUBinaryAttrName)
		if !found {
			name, _ := gm.Attr("sym_name")
			return nil, errors.Errorf("kernel module %q was not compiled", name.Str())
		}
		var err error
		gm.Walk(func(op *ir.Operation) {
			if err != nil || op.OpCode() != ir.OpGPUFunc {
				return
			}
			symbol, found := op.Attr("sym_name")
			if !found {
				err = errors.Errorf("kernel function without a symbol name")
				return
			}
			binaries[symbol.Str()] = binary.Bytes()
		})
		if err != nil {
			return nil, err
		}
	}
	return binaries, nil
}
