// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"fmt"
	"strings"
)

// String renders the module in the deterministic textual form accepted by
// ir/parser. Two structurally identical modules print identically, which is
// what the pipeline's determinism tests compare.
func (m *Module) String() string {
	p := &printer{names: make(map[*Value]string)}
	p.printOp(m.op, nil)
	return p.sb.String()
}

// String renders a single operation subtree; mainly for debugging and tests.
func (op *Operation) String() string {
	p := &printer{names: make(map[*Value]string)}
	// Operands defined outside the subtree get placeholder names.
	for _, operand := range op.operands {
		p.nameOf(operand)
	}
	p.printOp(op, nil)
	return p.sb.String()
}

type printer struct {
	sb     strings.Builder
	names  map[*Value]string
	nextID int
	indent int
}

func (p *printer) nameOf(v *Value) string {
	name, found := p.names[v]
	if !found {
		name = fmt.Sprintf("%%%d", p.nextID)
		p.nextID++
		p.names[v] = name
	}
	return name
}

func (p *printer) line(format string, args ...any) {
	p.sb.WriteString(strings.Repeat("  ", p.indent))
	fmt.Fprintf(&p.sb, format, args...)
	p.sb.WriteString("\n")
}

func symName(op *Operation) string {
	if a, found := op.Attr("sym_name"); found {
		return a.Str()
	}
	return "unnamed"
}

// attrDict renders the sorted attribute dictionary, skipping the given names.
func attrDict(op *Operation, skip ...string) string {
	names := op.AttrNames()
	parts := make([]string, 0, len(names))
	for _, name := range names {
		skipped := false
		for _, s := range skip {
			if name == s {
				skipped = true
				break
			}
		}
		if skipped {
			continue
		}
		a, _ := op.Attr(name)
		parts = append(parts, fmt.Sprintf("%s = %s", name, a.String()))
	}
	if len(parts) == 0 {
		return ""
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (p *printer) printOp(op *Operation, blockLabels map[*Block]string) {
	switch op.OpCode() {
	case OpModule:
		p.line("module {")
		p.indent++
		for _, inner := range op.Region(0).Entry().Ops() {
			p.printOp(inner, nil)
		}
		p.indent--
		p.line("}")

	case OpFunc, OpGPUFunc:
		p.printFunc(op)

	case OpGPUModule:
		header := fmt.Sprintf("gpu.module @%s", symName(op))
		if dict := attrDict(op, "sym_name"); dict != "" {
			header += " attributes " + dict
		}
		p.line("%s {", header)
		p.indent++
		for _, inner := range op.Region(0).Entry().Ops() {
			p.printOp(inner, nil)
		}
		p.indent--
		p.line("}")

	default:
		p.printGeneric(op, blockLabels)
	}
}

func (p *printer) printFunc(op *Operation) {
	region := op.Region(0)
	body := region.Entry()
	params := make([]string, body.NumArgs())
	for i, arg := range body.Args() {
		params[i] = fmt.Sprintf("%s: %s", p.nameOf(arg), arg.Type())
	}
	header := fmt.Sprintf("%s @%s(%s)", op.OpCode(), symName(op), strings.Join(params, ", "))
	// The signature's result list mirrors the return terminator's operand
	// types, wherever in the CFG the return ended up.
	if resultTypes := returnTypes(region); len(resultTypes) > 0 {
		header += " -> (" + strings.Join(resultTypes, ", ") + ")"
	}
	if dict := attrDict(op, "sym_name"); dict != "" {
		header += " attributes " + dict
	}
	p.line("%s {", header)
	labels := make(map[*Block]string, region.NumBlocks())
	for i, b := range region.Blocks() {
		labels[b] = fmt.Sprintf("^bb%d", i)
	}
	p.indent++
	for bi, b := range region.Blocks() {
		if bi > 0 {
			args := make([]string, b.NumArgs())
			for i, arg := range b.Args() {
				args[i] = fmt.Sprintf("%s: %s", p.nameOf(arg), arg.Type())
			}
			p.indent--
			p.line("%s(%s):", labels[b], strings.Join(args, ", "))
			p.indent++
		}
		for _, inner := range b.Ops() {
			p.printOp(inner, labels)
		}
	}
	p.indent--
	p.line("}")
}

func returnTypes(region *Region) []string {
	for _, b := range region.Blocks() {
		if term := b.Terminator(); term != nil && term.Is(OpReturn) && term.NumOperands() > 0 {
			types := make([]string, term.NumOperands())
			for i, operand := range term.Operands() {
				types[i] = operand.Type().String()
			}
			return types
		}
	}
	return nil
}

func (p *printer) printGeneric(op *Operation, blockLabels map[*Block]string) {
	var sb strings.Builder
	if op.NumResults() > 0 {
		names := make([]string, op.NumResults())
		for i, result := range op.Results() {
			names[i] = p.nameOf(result)
		}
		sb.WriteString(strings.Join(names, ", "))
		sb.WriteString(" = ")
	}
	sb.WriteString(op.OpCode())
	sb.WriteString("(")
	for i, operand := range op.Operands() {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(p.nameOf(operand))
	}
	sb.WriteString(")")
	if op.NumSuccessors() > 0 {
		labels := make([]string, op.NumSuccessors())
		for i, succ := range op.Successors() {
			labels[i] = blockLabels[succ]
		}
		sb.WriteString("[" + strings.Join(labels, ", ") + "]")
	}
	if dict := attrDict(op); dict != "" {
		sb.WriteString(" " + dict)
	}
	operandTypes := make([]string, op.NumOperands())
	for i, operand := range op.Operands() {
		operandTypes[i] = operand.Type().String()
	}
	resultTypes := make([]string, op.NumResults())
	for i, result := range op.Results() {
		resultTypes[i] = result.Type().String()
	}
	sb.WriteString(fmt.Sprintf(" : (%s) -> (%s)",
		strings.Join(operandTypes, ", "), strings.Join(resultTypes, ", ")))

	if op.NumRegions() == 0 {
		p.line("%s", sb.String())
		return
	}
	p.line("%s {", sb.String())
	for ri, r := range op.Regions() {
		if ri > 0 {
			p.line("}, {")
		}
		labels := make(map[*Block]string, r.NumBlocks())
		for i, b := range r.Blocks() {
			labels[b] = fmt.Sprintf("^bb%d", i)
		}
		p.indent++
		for _, b := range r.Blocks() {
			args := make([]string, b.NumArgs())
			for i, arg := range b.Args() {
				args[i] = fmt.Sprintf("%s: %s", p.nameOf(arg), arg.Type())
			}
			p.line("%s(%s):", labels[b], strings.Join(args, ", "))
			p.indent++
			for _, inner := range b.Ops() {
				p.printOp(inner, labels)
			}
			p.indent--
		}
		p.indent--
	}
	p.line("}")
}
