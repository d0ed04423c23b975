// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package parser implements the loader stage: it parses the textual program
// form into an ir.Module inside a freshly configured ir.Context.
//
// The grammar is a single generic statement form shared by all operations,
//
//	%r0, %r1 = opcode(%a, %b)[^bb1] {attr = value} : (types) -> (types) { regions }
//
// plus sugared forms for "module", "func", "gpu.func" and "gpu.module".
// Malformed source text is the only user-input failure of the whole pipeline;
// every operation must belong to a vocabulary registered in the Context.
package parser

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/gomlx/kernelgen/ir"
	"github.com/pkg/errors"
)

// Parse parses source text into a module inside a fresh context with all
// standard opsets registered.
func Parse(src string) (*ir.Module, error) {
	return ParseWithContext(ir.NewContext(), src)
}

// ParseWithContext parses source text into a module bound to the given
// context.
func ParseWithContext(ctx *ir.Context, src string) (*ir.Module, error) {
	p := &parser{ctx: ctx, lx: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	module, err := p.parseModule()
	if err != nil {
		return nil, errors.WithMessage(err, "parsing source failed")
	}
	return module, nil
}

type succFixup struct {
	op     *ir.Operation
	labels []string
	line   int
	col    int
}

type regionCtx struct {
	labels map[string]*ir.Block
	fixups []succFixup
}

type parser struct {
	ctx     *ir.Context
	lx      *lexer
	tok     token
	scopes  []map[string]*ir.Value
	regions []*regionCtx
}

func (p *parser) advance() error {
	tok, err := p.lx.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) errorf(format string, args ...any) error {
	return errors.Errorf("%d:%d: "+format, append([]any{p.tok.line, p.tok.col}, args...)...)
}

func (p *parser) isPunct(text string) bool {
	return p.tok.kind == tokPunct && p.tok.text == text
}

func (p *parser) expectPunct(text string) error {
	if !p.isPunct(text) {
		return p.errorf("expected %q, got %q", text, p.tok.text)
	}
	return p.advance()
}

func (p *parser) pushScope() {
	p.scopes = append(p.scopes, make(map[string]*ir.Value))
}

func (p *parser) popScope() {
	p.scopes = p.scopes[:len(p.scopes)-1]
}

func (p *parser) define(name string, v *ir.Value) {
	p.scopes[len(p.scopes)-1][name] = v
}

func (p *parser) lookup(name string) *ir.Value {
	for i := len(p.scopes) - 1; i >= 0; i-- {
		if v, found := p.scopes[i][name]; found {
			return v
		}
	}
	return nil
}

func (p *parser) parseModule() (*ir.Module, error) {
	if p.tok.kind != tokIdent || p.tok.text != ir.OpModule {
		return nil, p.errorf("expected top-level \"module\", got %q", p.tok.text)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	module := ir.NewModule(p.ctx)
	p.pushScope()
	defer p.popScope()
	for !p.isPunct("}") {
		if p.tok.kind == tokEOF {
			return nil, p.errorf("unexpected end of input inside module")
		}
		if err := p.parseOpInto(module.Body()); err != nil {
			return nil, err
		}
	}
	if err := p.advance(); err != nil { // consume "}"
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, p.errorf("trailing input after module: %q", p.tok.text)
	}
	return module, nil
}

func (p *parser) parseOpInto(block *ir.Block) error {
	switch p.tok.kind {
	case tokValueID:
		var results []string
		for {
			results = append(results, p.tok.text)
			if err := p.advance(); err != nil {
				return err
			}
			if !p.isPunct(",") {
				break
			}
			if err := p.advance(); err != nil {
				return err
			}
			if p.tok.kind != tokValueID {
				return p.errorf("expected result name after \",\"")
			}
		}
		if err := p.expectPunct("="); err != nil {
			return err
		}
		return p.parseGeneric(block, results)
	case tokIdent:
		switch p.tok.text {
		case ir.OpFunc, ir.OpGPUFunc:
			return p.parseFunc(block, p.tok.text)
		case ir.OpGPUModule:
			return p.parseGPUModule(block)
		default:
			return p.parseGeneric(block, nil)
		}
	default:
		return p.errorf("expected operation, got %q", p.tok.text)
	}
}

func (p *parser) parseFunc(block *ir.Block, opcode string) error {
	loc := ir.Loc{Line: p.tok.line, Col: p.tok.col}
	if err := p.advance(); err != nil {
		return err
	}
	if p.tok.kind != tokSymbol {
		return p.errorf("expected @name after %q", opcode)
	}
	name := p.tok.text
	if err := p.advance(); err != nil {
		return err
	}

	op := ir.NewOp(opcode, nil)
	op.SetLoc(loc)
	op.SetAttr("sym_name", ir.StringAttr(name))
	body := op.AddRegion().AddBlock()
	block.Append(op)

	p.pushScope()
	defer p.popScope()

	if err := p.expectPunct("("); err != nil {
		return err
	}
	for !p.isPunct(")") {
		if p.tok.kind != tokValueID {
			return p.errorf("expected %%param in signature of @%s", name)
		}
		paramName := p.tok.text
		if err := p.advance(); err != nil {
			return err
		}
		if err := p.expectPunct(":"); err != nil {
			return err
		}
		t, err := p.parseType()
		if err != nil {
			return err
		}
		p.define(paramName, body.AddArg(t))
		if p.isPunct(",") {
			if err := p.advance(); err != nil {
				return err
			}
		}
	}
	if err := p.advance(); err != nil { // consume ")"
		return err
	}

	// Declared results are informational; the terminator carries the types.
	if p.isPunct("->") {
		if err := p.advance(); err != nil {
			return err
		}
		if _, err := p.parseTypeList(); err != nil {
			return err
		}
	}
	if p.tok.kind == tokIdent && p.tok.text == "attributes" {
		if err := p.advance(); err != nil {
			return err
		}
		if err := p.parseAttrDict(op); err != nil {
			return err
		}
	}
	if err := p.expectPunct("{"); err != nil {
		return err
	}

	// The body may be a single implicit block or, after CFG lowering, the
	// entry block followed by labeled blocks.
	rc := &regionCtx{labels: make(map[string]*ir.Block)}
	p.regions = append(p.regions, rc)
	defer func() { p.regions = p.regions[:len(p.regions)-1] }()
	region := op.Region(0)
	current := body
	for !p.isPunct("}") {
		if p.tok.kind == tokEOF {
			return p.errorf("unexpected end of input inside @%s", name)
		}
		if p.tok.kind == tokLabel {
			label := p.tok.text
			if _, dup := rc.labels[label]; dup {
				return p.errorf("duplicate block label ^%s", label)
			}
			if err := p.advance(); err != nil {
				return err
			}
			current = region.AddBlock()
			rc.labels[label] = current
			if err := p.parseBlockArgs(current, label); err != nil {
				return err
			}
			continue
		}
		if err := p.parseOpInto(current); err != nil {
			return err
		}
	}
	if err := p.advance(); err != nil { // consume "}"
		return err
	}
	return p.resolveFixups(rc)
}

// parseBlockArgs parses "(%a: T, %b: U):" after a block label.
func (p *parser) parseBlockArgs(block *ir.Block, label string) error {
	if err := p.expectPunct("("); err != nil {
		return err
	}
	for !p.isPunct(")") {
		if p.tok.kind != tokValueID {
			return p.errorf("expected %%arg in block ^%s", label)
		}
		argName := p.tok.text
		if err := p.advance(); err != nil {
			return err
		}
		if err := p.expectPunct(":"); err != nil {
			return err
		}
		t, err := p.parseType()
		if err != nil {
			return err
		}
		p.define(argName, block.AddArg(t))
		if p.isPunct(",") {
			if err := p.advance(); err != nil {
				return err
			}
		}
	}
	if err := p.advance(); err != nil { // consume ")"
		return err
	}
	return p.expectPunct(":")
}

// resolveFixups binds the successor labels recorded while parsing a region's
// operations to the blocks they name.
func (p *parser) resolveFixups(rc *regionCtx) error {
	for _, fixup := range rc.fixups {
		for _, label := range fixup.labels {
			b, found := rc.labels[label]
			if !found {
				return errors.Errorf("%d:%d: undefined block label ^%s", fixup.line, fixup.col, label)
			}
			fixup.op.AddSuccessor(b)
		}
	}
	return nil
}

func (p *parser) parseGPUModule(block *ir.Block) error {
	loc := ir.Loc{Line: p.tok.line, Col: p.tok.col}
	if err := p.advance(); err != nil {
		return err
	}
	if p.tok.kind != tokSymbol {
		return p.errorf("expected @name after gpu.module")
	}
	name := p.tok.text
	if err := p.advance(); err != nil {
		return err
	}
	op := ir.NewOp(ir.OpGPUModule, nil)
	op.SetLoc(loc)
	op.SetAttr("sym_name", ir.StringAttr(name))
	body := op.AddRegion().AddBlock()
	block.Append(op)

	if p.tok.kind == tokIdent && p.tok.text == "attributes" {
		if err := p.advance(); err != nil {
			return err
		}
		if err := p.parseAttrDict(op); err != nil {
			return err
		}
	}
	if err := p.expectPunct("{"); err != nil {
		return err
	}
	p.pushScope()
	defer p.popScope()
	for !p.isPunct("}") {
		if p.tok.kind == tokEOF {
			return p.errorf("unexpected end of input inside gpu.module @%s", name)
		}
		if err := p.parseOpInto(body); err != nil {
			return err
		}
	}
	return p.advance() // consume "}"
}

func (p *parser) parseGeneric(block *ir.Block, results []string) error {
	if p.tok.kind != tokIdent {
		return p.errorf("expected opcode, got %q", p.tok.text)
	}
	opcode := p.tok.text
	loc := ir.Loc{Line: p.tok.line, Col: p.tok.col}
	if !p.ctx.IsRegistered(opcode) {
		return p.errorf("unknown operation %q", opcode)
	}
	if err := p.advance(); err != nil {
		return err
	}

	if err := p.expectPunct("("); err != nil {
		return err
	}
	var operands []*ir.Value
	for !p.isPunct(")") {
		if p.tok.kind != tokValueID {
			return p.errorf("expected %%operand for %q", opcode)
		}
		v := p.lookup(p.tok.text)
		if v == nil {
			return p.errorf("use of undefined value %%%s", p.tok.text)
		}
		operands = append(operands, v)
		if err := p.advance(); err != nil {
			return err
		}
		if p.isPunct(",") {
			if err := p.advance(); err != nil {
				return err
			}
		}
	}
	if err := p.advance(); err != nil { // consume ")"
		return err
	}

	var succLabels []string
	if p.isPunct("[") {
		if err := p.advance(); err != nil {
			return err
		}
		for !p.isPunct("]") {
			if p.tok.kind != tokLabel {
				return p.errorf("expected ^label successor for %q", opcode)
			}
			succLabels = append(succLabels, p.tok.text)
			if err := p.advance(); err != nil {
				return err
			}
			if p.isPunct(",") {
				if err := p.advance(); err != nil {
					return err
				}
			}
		}
		if err := p.advance(); err != nil { // consume "]"
			return err
		}
	}

	pendingAttrs := map[string]ir.Attr{}
	if p.isPunct("{") {
		tmp := ir.NewOp(opcode, nil)
		if err := p.parseAttrDict(tmp); err != nil {
			return err
		}
		for _, name := range tmp.AttrNames() {
			a, _ := tmp.Attr(name)
			pendingAttrs[name] = a
		}
	}

	if err := p.expectPunct(":"); err != nil {
		return err
	}
	operandTypes, err := p.parseTypeList()
	if err != nil {
		return err
	}
	if err := p.expectPunct("->"); err != nil {
		return err
	}
	resultTypes, err := p.parseTypeList()
	if err != nil {
		return err
	}
	if len(operandTypes) != len(operands) {
		return p.errorf("%q has %d operands but %d operand types", opcode, len(operands), len(operandTypes))
	}
	for i, t := range operandTypes {
		if !operands[i].Type().Equal(t) {
			return p.errorf("operand #%d of %q is %s, declared as %s",
				i, opcode, operands[i].Type(), t)
		}
	}
	if len(results) > 0 && len(results) != len(resultTypes) {
		return p.errorf("%q defines %d results but %d result types", opcode, len(results), len(resultTypes))
	}

	op := ir.NewOp(opcode, operands, resultTypes...)
	op.SetLoc(loc)
	for name, a := range pendingAttrs {
		op.SetAttr(name, a)
	}
	block.Append(op)
	for i, name := range results {
		p.define(name, op.Result(i))
	}

	if len(succLabels) > 0 {
		if len(p.regions) == 0 {
			return p.errorf("%q has successors outside a multi-block region", opcode)
		}
		rc := p.regions[len(p.regions)-1]
		rc.fixups = append(rc.fixups, succFixup{op: op, labels: succLabels, line: loc.Line, col: loc.Col})
	}

	// Trailing regions.
	for p.isPunct("{") {
		if err := p.parseRegion(op); err != nil {
			return err
		}
	}
	return nil
}

// parseRegion parses "{ ^bb0(...): ops... ^bb1(...): ops... }" into a new
// region of op. The current token must be "{".
func (p *parser) parseRegion(op *ir.Operation) error {
	if err := p.advance(); err != nil { // consume "{"
		return err
	}
	r := op.AddRegion()
	rc := &regionCtx{labels: make(map[string]*ir.Block)}
	p.regions = append(p.regions, rc)
	p.pushScope()
	defer func() {
		p.popScope()
		p.regions = p.regions[:len(p.regions)-1]
	}()

	var current *ir.Block
	for !p.isPunct("}") {
		if p.tok.kind == tokEOF {
			return p.errorf("unexpected end of input inside region of %q", op.OpCode())
		}
		if p.tok.kind == tokLabel {
			label := p.tok.text
			if _, dup := rc.labels[label]; dup {
				return p.errorf("duplicate block label ^%s", label)
			}
			if err := p.advance(); err != nil {
				return err
			}
			current = r.AddBlock()
			rc.labels[label] = current
			if err := p.parseBlockArgs(current, label); err != nil {
				return err
			}
			continue
		}
		if current == nil {
			return p.errorf("region of %q must start with a ^block label", op.OpCode())
		}
		if err := p.parseOpInto(current); err != nil {
			return err
		}
	}
	if err := p.advance(); err != nil { // consume "}"
		return err
	}
	return p.resolveFixups(rc)
}

func (p *parser) parseAttrDict(op *ir.Operation) error {
	if err := p.expectPunct("{"); err != nil {
		return err
	}
	for !p.isPunct("}") {
		if p.tok.kind != tokIdent {
			return p.errorf("expected attribute name, got %q", p.tok.text)
		}
		name := p.tok.text
		if err := p.advance(); err != nil {
			return err
		}
		if err := p.expectPunct("="); err != nil {
			return err
		}
		a, err := p.parseAttrValue()
		if err != nil {
			return err
		}
		op.SetAttr(name, a)
		if p.isPunct(",") {
			if err := p.advance(); err != nil {
				return err
			}
		}
	}
	return p.advance() // consume "}"
}

func (p *parser) parseAttrValue() (ir.Attr, error) {
	switch p.tok.kind {
	case tokInt:
		v, err := strconv.ParseInt(p.tok.text, 10, 64)
		if err != nil {
			return ir.Attr{}, p.errorf("bad integer %q", p.tok.text)
		}
		return ir.IntAttr(v), p.advance()
	case tokFloat:
		v, err := strconv.ParseFloat(p.tok.text, 64)
		if err != nil {
			return ir.Attr{}, p.errorf("bad float %q", p.tok.text)
		}
		return ir.FloatAttr(v), p.advance()
	case tokString:
		return ir.StringAttr(p.tok.text), p.advance()
	case tokPunct:
		if p.tok.text != "[" {
			return ir.Attr{}, p.errorf("unexpected %q in attribute value", p.tok.text)
		}
		if err := p.advance(); err != nil {
			return ir.Attr{}, err
		}
		var ints []int64
		var strs []string
		for !p.isPunct("]") {
			switch p.tok.kind {
			case tokInt:
				v, err := strconv.ParseInt(p.tok.text, 10, 64)
				if err != nil {
					return ir.Attr{}, p.errorf("bad integer %q", p.tok.text)
				}
				ints = append(ints, v)
			case tokString:
				strs = append(strs, p.tok.text)
			default:
				return ir.Attr{}, p.errorf("unsupported list element %q", p.tok.text)
			}
			if err := p.advance(); err != nil {
				return ir.Attr{}, err
			}
			if p.isPunct(",") {
				if err := p.advance(); err != nil {
					return ir.Attr{}, err
				}
			}
		}
		if err := p.advance(); err != nil { // consume "]"
			return ir.Attr{}, err
		}
		if len(strs) > 0 {
			if len(ints) > 0 {
				return ir.Attr{}, p.errorf("mixed integer/string list attribute")
			}
			return ir.StringSliceAttr(strs...), nil
		}
		return ir.IntSliceAttr(ints...), nil
	case tokIdent:
		switch p.tok.text {
		case "true":
			return ir.BoolAttr(true), p.advance()
		case "false":
			return ir.BoolAttr(false), p.advance()
		case "bytes":
			if err := p.advance(); err != nil {
				return ir.Attr{}, err
			}
			if !p.isPunct("<") {
				return ir.Attr{}, p.errorf("expected \"<\" after bytes")
			}
			payload, err := p.lx.rawUntil('>')
			if err != nil {
				return ir.Attr{}, err
			}
			blob, err := hex.DecodeString(payload)
			if err != nil {
				return ir.Attr{}, p.errorf("bad bytes payload: %v", err)
			}
			if err := p.advance(); err != nil {
				return ir.Attr{}, err
			}
			return ir.BytesAttr(blob), nil
		default:
			t, err := p.parseType()
			if err != nil {
				return ir.Attr{}, err
			}
			return ir.TypeAttr(t), nil
		}
	default:
		return ir.Attr{}, p.errorf("unsupported attribute value %q", p.tok.text)
	}
}

func (p *parser) parseTypeList() ([]ir.Type, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var list []ir.Type
	for !p.isPunct(")") {
		t, err := p.parseType()
		if err != nil {
			return nil, err
		}
		list = append(list, t)
		if p.isPunct(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	return list, p.advance() // consume ")"
}

func (p *parser) parseType() (ir.Type, error) {
	if p.tok.kind != tokIdent {
		return ir.Type{}, p.errorf("expected type, got %q", p.tok.text)
	}
	name := p.tok.text
	switch name {
	case "index":
		return ir.Index(), p.advance()
	case "none":
		return ir.None(), p.advance()
	case "tensor", "buffer":
		// The "<dims x dtype>" payload is scanned raw: "4x8xf32", "?xf32".
		if p.lx.pos >= len(p.lx.src) || p.lx.src[p.lx.pos] != '<' {
			return ir.Type{}, p.errorf("expected \"<\" after %q", name)
		}
		p.lx.advance()
		payload, err := p.lx.rawUntil('>')
		if err != nil {
			return ir.Type{}, err
		}
		t, err := parseShapedPayload(name, payload)
		if err != nil {
			return ir.Type{}, p.errorf("%v", err)
		}
		return t, p.advance()
	default:
		dtype, err := ir.DTypeByName(name)
		if err != nil {
			return ir.Type{}, p.errorf("expected type, got %q", name)
		}
		return ir.Scalar(dtype), p.advance()
	}
}

func parseShapedPayload(kind, payload string) (ir.Type, error) {
	parts := strings.Split(payload, "x")
	dtype, err := ir.DTypeByName(parts[len(parts)-1])
	if err != nil {
		return ir.Type{}, errors.Errorf("bad element type in %s<%s>", kind, payload)
	}
	dims := make([]int, len(parts)-1)
	for i, part := range parts[:len(parts)-1] {
		if part == "?" {
			dims[i] = ir.DynamicDim
			continue
		}
		dim, err := strconv.Atoi(part)
		if err != nil || dim < 0 {
			return ir.Type{}, errors.Errorf("bad dimension %q in %s<%s>", part, kind, payload)
		}
		dims[i] = dim
	}
	if kind == "tensor" {
		return ir.Tensor(dtype, dims...), nil
	}
	return ir.Buffer(dtype, dims...), nil
}
