// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package codegen

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/gomlx/kernelgen/ir"
)

// isaSpec describes one backend's low-level vocabulary: the opcode table
// fixes the byte encoding, the conversion table maps the portable operations
// onto it.
type isaSpec struct {
	name    string
	opcodes []string          // index is the encoded opcode byte
	convert map[string]string // portable opcode -> low-level opcode
}

func (isa *isaSpec) opcodeByte(opcode string) (byte, bool) {
	for i, candidate := range isa.opcodes {
		if candidate == opcode {
			return byte(i), true
		}
	}
	return 0, false
}

// Markers separating functions and blocks in the code section.
const (
	markFunc  = 0xF0
	markBlock = 0xF1
)

// assembleModule encodes the lowered kernel functions of gm into the code
// section of a binary image. The encoding is positional and deterministic:
// values are numbered in definition order, blocks by their index.
func assembleModule(gm *ir.Operation, isa *isaSpec) ([]byte, error) {
	var buf bytes.Buffer
	var failure error
	gm.Walk(func(fn *ir.Operation) {
		if failure != nil || fn.OpCode() != ir.OpGPUFunc {
			return
		}
		buf.WriteByte(markFunc)
		name, _ := fn.Attr("sym_name")
		writeBytes(&buf, []byte(name.Str()))
		if err := assembleFunc(&buf, fn, isa); err != nil {
			failure = errors.WithMessagef(err, "kernel %s", name.Str())
		}
	})
	return buf.Bytes(), failure
}

func assembleFunc(buf *bytes.Buffer, fn *ir.Operation, isa *isaSpec) error {
	ids, blockIndex := numberValues(fn)
	for bi, block := range fn.Region(0).Blocks() {
		buf.WriteByte(markBlock)
		writeUvarint(buf, uint64(bi))
		for _, op := range block.Ops() {
			code, known := isa.opcodeByte(op.OpCode())
			if !known {
				return errors.Errorf("unexpected op %q in lowered kernel", op.OpCode())
			}
			buf.WriteByte(code)
			writeUvarint(buf, uint64(op.NumOperands()))
			for _, operand := range op.Operands() {
				writeUvarint(buf, uint64(ids[operand]))
			}
			writeUvarint(buf, uint64(op.NumSuccessors()))
			for _, succ := range op.Successors() {
				writeUvarint(buf, uint64(blockIndex[succ]))
			}
			if err := encodeAttrs(buf, op); err != nil {
				return err
			}
		}
	}
	return nil
}

// numberValues assigns dense ids to every value defined under fn, block
// arguments first within each block, and indexes the CFG blocks.
func numberValues(fn *ir.Operation) (map[*ir.Value]int, map[*ir.Block]int) {
	ids := make(map[*ir.Value]int)
	blockIndex := make(map[*ir.Block]int)
	next := 0
	for bi, block := range fn.Region(0).Blocks() {
		blockIndex[block] = bi
		for _, arg := range block.Args() {
			ids[arg] = next
			next++
		}
		for _, op := range block.Ops() {
			for _, result := range op.Results() {
				ids[result] = next
				next++
			}
		}
	}
	return ids, blockIndex
}

// encodeAttrs writes the operation's attributes in sorted-name order. The
// "value" immediate of a move is encoded in the destination's bit width, f16
// through the IEEE half encoding; everything else round-trips as text.
func encodeAttrs(buf *bytes.Buffer, op *ir.Operation) error {
	names := op.AttrNames()
	writeUvarint(buf, uint64(len(names)))
	for _, name := range names {
		a, _ := op.Attr(name)
		writeBytes(buf, []byte(name))
		if name == "value" && a.Kind() == ir.AttrFloat && op.NumResults() == 1 {
			if err := encodeFloatImmediate(buf, op.Result(0).Type().DType, a.Float()); err != nil {
				return err
			}
			continue
		}
		writeBytes(buf, []byte(a.String()))
	}
	return nil
}

func encodeFloatImmediate(buf *bytes.Buffer, dtype dtypes.DType, v float64) error {
	switch dtype {
	case dtypes.Float16:
		writeBytes(buf, []byte{0x02})
		writeUvarint(buf, uint64(float16.Fromfloat32(float32(v)).Bits()))
	case dtypes.Float32:
		writeBytes(buf, []byte{0x04})
		writeUvarint(buf, uint64(math.Float32bits(float32(v))))
	case dtypes.Float64:
		writeBytes(buf, []byte{0x08})
		writeUvarint(buf, math.Float64bits(v))
	default:
		return errors.Errorf("float immediate of unsupported type %s", dtype)
	}
	return nil
}

// listModule renders a readable listing of the lowered kernel module, one
// instruction per line with the same value numbering the encoder uses.
func listModule(gm *ir.Operation, isa *isaSpec, arch string) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "// %s %s\n", isa.name, arch)
	var failure error
	gm.Walk(func(fn *ir.Operation) {
		if failure != nil || fn.OpCode() != ir.OpGPUFunc {
			return
		}
		name, _ := fn.Attr("sym_name")
		fmt.Fprintf(&sb, ".kernel %s\n", name.Str())
		ids, blockIndex := numberValues(fn)
		for bi, block := range fn.Region(0).Blocks() {
			fmt.Fprintf(&sb, "^bb%d:\n", bi)
			for _, op := range block.Ops() {
				if _, known := isa.opcodeByte(op.OpCode()); !known {
					failure = errors.Errorf("unexpected op %q in lowered kernel", op.OpCode())
					return
				}
				sb.WriteString("  ")
				if op.NumResults() == 1 {
					fmt.Fprintf(&sb, "%%%d = ", ids[op.Result(0)])
				}
				sb.WriteString(op.OpCode())
				for i, operand := range op.Operands() {
					if i > 0 {
						sb.WriteString(",")
					}
					fmt.Fprintf(&sb, " %%%d", ids[operand])
				}
				for _, succ := range op.Successors() {
					fmt.Fprintf(&sb, " ^bb%d", blockIndex[succ])
				}
				for _, attrName := range op.AttrNames() {
					a, _ := op.Attr(attrName)
					fmt.Fprintf(&sb, " ; %s = %s", attrName, a.String())
				}
				sb.WriteString("\n")
			}
		}
	})
	if failure != nil {
		return "", failure
	}
	return sb.String(), nil
}

// convertOps rewrites every portable operation under gm to the isa's
// low-level vocabulary in place, preserving operands, result types and
// attributes. CFG branches are shared across backends and stay as they are.
func convertOps(gm *ir.Operation, isa *isaSpec) error {
	var worklist []*ir.Operation
	gm.Walk(func(op *ir.Operation) {
		if _, portable := isa.convert[op.OpCode()]; portable {
			worklist = append(worklist, op)
		}
	})
	for _, op := range worklist {
		replacement := ir.NewOp(isa.convert[op.OpCode()], op.Operands(), resultTypes(op)...)
		for _, name := range op.AttrNames() {
			a, _ := op.Attr(name)
			replacement.SetAttr(name, a)
		}
		for _, succ := range op.Successors() {
			replacement.AddSuccessor(succ)
		}
		op.Block().InsertBefore(op, replacement)
		op.ReplaceAllUsesWith(replacement.Results()...)
		op.Erase()
	}

	var leftover error
	gm.Walk(func(op *ir.Operation) {
		if leftover != nil {
			return
		}
		if _, known := isa.opcodeByte(op.OpCode()); !known &&
			!op.Is(ir.OpGPUModule, ir.OpGPUFunc) {
			leftover = errors.Errorf("cannot lower %q to %s", op.OpCode(), isa.name)
		}
	})
	return leftover
}

func resultTypes(op *ir.Operation) []ir.Type {
	types := make([]ir.Type, op.NumResults())
	for i, result := range op.Results() {
		types[i] = result.Type()
	}
	return types
}
