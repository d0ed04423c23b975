// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"slices"

	"github.com/gomlx/exceptions"
)

// Loc is a source location. The zero Loc means "no location"; low-level
// lowering strips locations from kernels so device code never carries debug
// information.
type Loc struct {
	Line, Col int
}

// IsValid reports whether the location carries information.
func (l Loc) IsValid() bool { return l.Line > 0 }

// Value is an SSA value: either the result of an Operation or an argument of
// a Block (function parameters, loop induction variables, branch arguments).
// Use-lists are maintained by the Operation mutators; they back the
// no-dangling-operand invariant checked by Module.Verify.
type Value struct {
	typ   Type
	def   *Operation // defining operation; nil for block arguments
	owner *Block     // owning block; nil for operation results
	index int
	uses  map[*Operation]int // user operation -> number of operand slots
}

// Type returns the value's type.
func (v *Value) Type() Type { return v.typ }

// SetType changes the value's type. Used by conversion passes (e.g.
// bufferization rewriting tensor-typed function arguments to buffers).
func (v *Value) SetType(t Type) { v.typ = t }

// Def returns the defining operation, or nil for a block argument.
func (v *Value) Def() *Operation { return v.def }

// OwnerBlock returns the owning block for a block argument, or nil.
func (v *Value) OwnerBlock() *Block { return v.owner }

// Index returns the result index (or argument index) of the value.
func (v *Value) Index() int { return v.index }

// NumUses returns the number of operand slots referencing the value.
func (v *Value) NumUses() int {
	n := 0
	for _, c := range v.uses {
		n += c
	}
	return n
}

// HasOneUse reports whether exactly one operand slot references the value.
func (v *Value) HasOneUse() bool { return v.NumUses() == 1 }

// SoleUser returns the only operation using this value, or nil if the value
// has zero users or users in more than one operation.
func (v *Value) SoleUser() *Operation {
	if len(v.uses) != 1 {
		return nil
	}
	for op := range v.uses {
		return op
	}
	return nil
}

// Users returns the distinct operations referencing the value, in no
// particular order.
func (v *Value) Users() []*Operation {
	users := make([]*Operation, 0, len(v.uses))
	for op := range v.uses {
		users = append(users, op)
	}
	return users
}

// UsedBy reports whether op references the value in any operand slot.
func (v *Value) UsedBy(op *Operation) bool {
	_, found := v.uses[op]
	return found
}

// ReplaceAllUsesWith rewrites every operand slot referencing v to reference
// newV instead.
func (v *Value) ReplaceAllUsesWith(newV *Value) {
	if v == newV {
		return
	}
	users := make([]*Operation, 0, len(v.uses))
	for op := range v.uses {
		users = append(users, op)
	}
	for _, op := range users {
		for i, operand := range op.operands {
			if operand == v {
				op.SetOperand(i, newV)
			}
		}
	}
}

func (v *Value) addUse(op *Operation) {
	if v.uses == nil {
		v.uses = make(map[*Operation]int)
	}
	v.uses[op]++
}

func (v *Value) dropUse(op *Operation) {
	c, found := v.uses[op]
	if !found {
		exceptions.Panicf("ir: dropping a use of %q that was never recorded", op.opcode)
	}
	if c == 1 {
		delete(v.uses, op)
	} else {
		v.uses[op] = c - 1
	}
}

// Operation is a typed IR node: a namespaced opcode, operand references,
// typed results, named attributes and nested regions. Operations are the unit
// of rewriting; passes replace, erase or insert them but must never leave a
// dangling operand reference.
type Operation struct {
	opcode   string
	operands []*Value
	results  []*Value
	attrs    map[string]Attr
	regions  []*Region
	succs    []*Block // successor blocks, only for cf terminators
	block    *Block   // parent block; nil while detached
	loc      Loc
	erased   bool
}

// NewOp creates a detached operation with the given operands and result
// types. Attach it with Block.Append or Block.InsertBefore.
func NewOp(opcode string, operands []*Value, resultTypes ...Type) *Operation {
	op := &Operation{opcode: opcode}
	op.operands = slices.Clone(operands)
	for _, operand := range op.operands {
		if operand == nil {
			exceptions.Panicf("ir: nil operand creating %q", opcode)
		}
		operand.addUse(op)
	}
	op.results = make([]*Value, len(resultTypes))
	for i, t := range resultTypes {
		op.results[i] = &Value{typ: t, def: op, index: i}
	}
	return op
}

// OpCode returns the operation's namespaced opcode, e.g. "loop.parallel".
func (op *Operation) OpCode() string { return op.opcode }

// Is reports whether the operation's opcode is any of the given ones.
func (op *Operation) Is(opcodes ...string) bool {
	return slices.Contains(opcodes, op.opcode)
}

// NumOperands returns the number of operands.
func (op *Operation) NumOperands() int { return len(op.operands) }

// Operand returns the i-th operand.
func (op *Operation) Operand(i int) *Value { return op.operands[i] }

// Operands returns the operand slice. Callers must not mutate it directly;
// use SetOperand so that use-lists stay consistent.
func (op *Operation) Operands() []*Value { return op.operands }

// SetOperand replaces the i-th operand.
func (op *Operation) SetOperand(i int, v *Value) {
	if v == nil {
		exceptions.Panicf("ir: setting nil operand #%d on %q", i, op.opcode)
	}
	old := op.operands[i]
	if old == v {
		return
	}
	old.dropUse(op)
	op.operands[i] = v
	v.addUse(op)
}

// NumResults returns the number of results.
func (op *Operation) NumResults() int { return len(op.results) }

// Result returns the i-th result value.
func (op *Operation) Result(i int) *Value { return op.results[i] }

// Results returns the result values.
func (op *Operation) Results() []*Value { return op.results }

// Attr returns the named attribute, if set.
func (op *Operation) Attr(name string) (Attr, bool) {
	a, found := op.attrs[name]
	return a, found
}

// HasAttr reports whether the named attribute is set.
func (op *Operation) HasAttr(name string) bool {
	_, found := op.attrs[name]
	return found
}

// SetAttr sets a named attribute, replacing any previous value.
func (op *Operation) SetAttr(name string, a Attr) {
	if op.attrs == nil {
		op.attrs = make(map[string]Attr)
	}
	op.attrs[name] = a
}

// DelAttr removes a named attribute.
func (op *Operation) DelAttr(name string) { delete(op.attrs, name) }

// AttrNames returns the attribute names in sorted order.
func (op *Operation) AttrNames() []string {
	names := make([]string, 0, len(op.attrs))
	for name := range op.attrs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// NumRegions returns the number of nested regions.
func (op *Operation) NumRegions() int { return len(op.regions) }

// Region returns the i-th nested region.
func (op *Operation) Region(i int) *Region { return op.regions[i] }

// Regions returns the nested regions.
func (op *Operation) Regions() []*Region { return op.regions }

// AddRegion appends a new empty region to the operation and returns it.
func (op *Operation) AddRegion() *Region {
	r := &Region{owner: op}
	op.regions = append(op.regions, r)
	return r
}

// AddSuccessor appends a successor block reference. Only the cf terminators
// (cf.br, cf.cond_br) carry successors; for cf.br the operands are passed
// positionally as the successor's block arguments.
func (op *Operation) AddSuccessor(b *Block) {
	op.succs = append(op.succs, b)
}

// NumSuccessors returns the number of successor blocks.
func (op *Operation) NumSuccessors() int { return len(op.succs) }

// Successor returns the i-th successor block.
func (op *Operation) Successor(i int) *Block { return op.succs[i] }

// Successors returns the successor blocks.
func (op *Operation) Successors() []*Block { return op.succs }

// Loc returns the operation's source location.
func (op *Operation) Loc() Loc { return op.loc }

// SetLoc sets the operation's source location.
func (op *Operation) SetLoc(loc Loc) { op.loc = loc }

// Block returns the block the operation currently lives in, or nil if
// detached.
func (op *Operation) Block() *Block { return op.block }

// ParentOp returns the operation owning the region that contains this
// operation, or nil at the module root.
func (op *Operation) ParentOp() *Operation {
	if op.block == nil || op.block.region == nil {
		return nil
	}
	return op.block.region.owner
}

// ParentOfCode walks up the region tree and returns the closest ancestor
// operation with the given opcode, or nil.
func (op *Operation) ParentOfCode(opcode string) *Operation {
	for parent := op.ParentOp(); parent != nil; parent = parent.ParentOp() {
		if parent.opcode == opcode {
			return parent
		}
	}
	return nil
}

// Unlink detaches the operation from its block without touching operand
// use-lists. Used when moving operations between blocks.
func (op *Operation) Unlink() {
	if op.block != nil {
		op.block.remove(op)
		op.block = nil
	}
}

// Erase removes the operation from its block, recursively erases everything
// nested in its regions, and releases its operand uses. It panics if any of
// its results still has users: erase users first or reroute them with
// ReplaceAllUsesWith.
func (op *Operation) Erase() {
	if op.erased {
		exceptions.Panicf("ir: double-erase of %q", op.opcode)
	}
	for _, result := range op.results {
		if result.NumUses() > 0 {
			exceptions.Panicf("ir: erasing %q whose result #%d still has %d uses",
				op.opcode, result.index, result.NumUses())
		}
	}
	// Nested operations use values from enclosing scopes; erase bottom-up so
	// every such use is released before the defining value goes away.
	for _, r := range op.regions {
		for bi := len(r.blocks) - 1; bi >= 0; bi-- {
			b := r.blocks[bi]
			for i := len(b.ops) - 1; i >= 0; i-- {
				b.ops[i].Erase()
			}
		}
	}
	op.regions = nil
	op.succs = nil
	op.Unlink()
	for _, operand := range op.operands {
		operand.dropUse(op)
	}
	op.operands = nil
	op.erased = true
}

// Erased reports whether the operation was erased.
func (op *Operation) Erased() bool { return op.erased }

// ReplaceAllUsesWith reroutes all uses of the operation's results to the
// given values, which must match in number.
func (op *Operation) ReplaceAllUsesWith(newValues ...*Value) {
	if len(newValues) != len(op.results) {
		exceptions.Panicf("ir: replacing %d results of %q with %d values",
			len(op.results), op.opcode, len(newValues))
	}
	for i, result := range op.results {
		result.ReplaceAllUsesWith(newValues[i])
	}
}

// Walk visits the operation and then, pre-order, every operation nested in
// its regions. Mutating the tree during the walk is not supported; collect
// first, then rewrite.
func (op *Operation) Walk(fn func(*Operation)) {
	fn(op)
	for _, r := range op.regions {
		r.Walk(fn)
	}
}

// Block is an ordered list of operations plus the block arguments that
// represent values flowing into it (function parameters, loop induction
// variables, CFG branch arguments).
type Block struct {
	args   []*Value
	ops    []*Operation
	region *Region
}

// AddArg appends a new block argument of the given type.
func (b *Block) AddArg(t Type) *Value {
	arg := &Value{typ: t, owner: b, index: len(b.args)}
	b.args = append(b.args, arg)
	return arg
}

// NumArgs returns the number of block arguments.
func (b *Block) NumArgs() int { return len(b.args) }

// Arg returns the i-th block argument.
func (b *Block) Arg(i int) *Value { return b.args[i] }

// Args returns the block arguments.
func (b *Block) Args() []*Value { return b.args }

// NumOps returns the number of operations in the block.
func (b *Block) NumOps() int { return len(b.ops) }

// Op returns the i-th operation.
func (b *Block) Op(i int) *Operation { return b.ops[i] }

// Ops returns the operation list. Callers must not reorder it directly.
func (b *Block) Ops() []*Operation { return b.ops }

// Terminator returns the last operation of the block, or nil when empty.
func (b *Block) Terminator() *Operation {
	if len(b.ops) == 0 {
		return nil
	}
	return b.ops[len(b.ops)-1]
}

// Region returns the region owning the block.
func (b *Block) Region() *Region { return b.region }

// Append attaches a detached operation at the end of the block.
func (b *Block) Append(op *Operation) {
	if op.block != nil {
		exceptions.Panicf("ir: appending %q that is still attached", op.opcode)
	}
	op.block = b
	b.ops = append(b.ops, op)
}

// InsertBefore attaches a detached operation just before mark, which must be
// in this block.
func (b *Block) InsertBefore(mark, op *Operation) {
	if op.block != nil {
		exceptions.Panicf("ir: inserting %q that is still attached", op.opcode)
	}
	i := b.indexOf(mark)
	op.block = b
	b.ops = slices.Insert(b.ops, i, op)
}

// InsertAfter attaches a detached operation just after mark.
func (b *Block) InsertAfter(mark, op *Operation) {
	if op.block != nil {
		exceptions.Panicf("ir: inserting %q that is still attached", op.opcode)
	}
	i := b.indexOf(mark)
	op.block = b
	b.ops = slices.Insert(b.ops, i+1, op)
}

func (b *Block) indexOf(op *Operation) int {
	i := slices.Index(b.ops, op)
	if i < 0 {
		exceptions.Panicf("ir: operation %q is not in this block", op.opcode)
	}
	return i
}

func (b *Block) remove(op *Operation) {
	i := b.indexOf(op)
	b.ops = slices.Delete(b.ops, i, i+1)
}

// Region is an ordered, nested scope: a list of blocks owned by an operation.
// Structured stages use single-block regions; low-level lowering introduces
// multi-block CFG regions.
type Region struct {
	blocks []*Block
	owner  *Operation
}

// Owner returns the operation owning the region, or nil for a module root.
func (r *Region) Owner() *Operation { return r.owner }

// AddBlock appends a new empty block and returns it.
func (r *Region) AddBlock() *Block {
	b := &Block{region: r}
	r.blocks = append(r.blocks, b)
	return b
}

// Entry returns the first block, or nil when the region is empty.
func (r *Region) Entry() *Block {
	if len(r.blocks) == 0 {
		return nil
	}
	return r.blocks[0]
}

// Blocks returns the block list.
func (r *Region) Blocks() []*Block { return r.blocks }

// NumBlocks returns the number of blocks.
func (r *Region) NumBlocks() int { return len(r.blocks) }

// Walk visits, pre-order, every operation in the region.
func (r *Region) Walk(fn func(*Operation)) {
	for _, b := range r.blocks {
		for _, op := range b.ops {
			op.Walk(fn)
		}
	}
}

// Module is the root container of the IR: a single "module" operation whose
// one region holds the host functions and, after device mapping on the GPU
// path, the outlined gpu.module. A Module is exclusively owned by the
// pipeline driver for the pipeline's duration and is mutated in place.
type Module struct {
	ctx *Context
	op  *Operation
}

// NewModule returns an empty module bound to the given context.
func NewModule(ctx *Context) *Module {
	op := NewOp(OpModule, nil)
	op.AddRegion().AddBlock()
	return &Module{ctx: ctx, op: op}
}

// Context returns the context the module was created in.
func (m *Module) Context() *Context { return m.ctx }

// Op returns the root "module" operation.
func (m *Module) Op() *Operation { return m.op }

// Body returns the module's top-level block.
func (m *Module) Body() *Block { return m.op.Region(0).Entry() }

// Walk visits every operation in the module, the root included.
func (m *Module) Walk(fn func(*Operation)) { m.op.Walk(fn) }

// Funcs returns the host functions in module order.
func (m *Module) Funcs() []*Operation {
	return m.topLevel(OpFunc)
}

// GPUModules returns the kernel modules in module order. After device mapping
// on the GPU path there should be exactly one; other counts are a diagnosed,
// non-fatal condition (see passes/devicemap).
func (m *Module) GPUModules() []*Operation {
	return m.topLevel(OpGPUModule)
}

func (m *Module) topLevel(opcode string) []*Operation {
	var ops []*Operation
	for _, op := range m.Body().Ops() {
		if op.opcode == opcode {
			ops = append(ops, op)
		}
	}
	return ops
}

// FindAll returns every operation in the module with the given opcode, in
// walk order.
func (m *Module) FindAll(opcode string) []*Operation {
	var ops []*Operation
	m.Walk(func(op *Operation) {
		if op.opcode == opcode {
			ops = append(ops, op)
		}
	})
	return ops
}
