// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir_test

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/kernelgen/ir"
)

func TestContextRegistration(t *testing.T) {
	ctx := ir.NewContext()
	assert.True(t, ctx.IsRegistered(ir.OpHLAdd))
	assert.True(t, ctx.IsRegistered(ir.OpLoopParallel))
	assert.True(t, ctx.IsRegistered(ir.OpNVIRMov))
	assert.False(t, ctx.IsRegistered("hl.bogus"))

	names := ctx.OpSetNames()
	assert.Contains(t, names, "hl")
	assert.Contains(t, names, "arith")
	assert.Contains(t, names, "gpu")
	assert.IsIncreasing(t, names)

	require.Panics(t, func() { ctx.RegisterOpSet("hl", []string{"hl.extra"}) })
}

func TestUseLists(t *testing.T) {
	m := ir.NewModule(ir.NewContext())
	b := ir.NewBuilder(m.Body())
	x := b.ConstIndex(1)
	y := b.ConstIndex(2)
	sum := b.Binary(ir.OpArithAddI, x, y)

	assert.Equal(t, 1, x.NumUses())
	assert.True(t, x.HasOneUse())
	assert.Same(t, sum.Def(), x.SoleUser())
	assert.True(t, x.UsedBy(sum.Def()))

	y.ReplaceAllUsesWith(x)
	assert.Equal(t, 2, x.NumUses())
	assert.Equal(t, 0, y.NumUses())
	// Both operand slots now point at x, so there is still a single user.
	assert.Same(t, sum.Def(), x.SoleUser())
	assert.Len(t, x.Users(), 1)

	// Erasing a definition that still has users must be rejected.
	require.Panics(t, func() { x.Def().Erase() })

	sum.Def().Erase()
	assert.Equal(t, 0, x.NumUses())
	x.Def().Erase()
	require.NoError(t, m.Verify())
}

func TestVerifyCatchesDanglingOperand(t *testing.T) {
	m := ir.NewModule(ir.NewContext())
	b := ir.NewBuilder(m.Body())
	x := b.ConstIndex(3)
	b.Unary(ir.OpArithNegF, x)
	require.NoError(t, m.Verify())

	// Detaching the definition without rerouting its users leaves the unary
	// operand dangling.
	x.Def().Unlink()
	err := m.Verify()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dead value")
}

func TestBuilderInsertionPoint(t *testing.T) {
	m := ir.NewModule(ir.NewContext())
	b := ir.NewBuilder(m.Body())
	first := b.ConstIndex(0)
	last := b.ConstIndex(9)

	b.SetInsertionPoint(m.Body(), last.Def())
	mid := b.ConstIndex(5)

	ops := m.Body().Ops()
	require.Len(t, ops, 3)
	assert.Same(t, first.Def(), ops[0])
	assert.Same(t, mid.Def(), ops[1])
	assert.Same(t, last.Def(), ops[2])
}

func TestParallelLoopAccessors(t *testing.T) {
	m := ir.NewModule(ir.NewContext())
	b := ir.NewBuilder(m.Body())
	lb := b.ConstIndex(0)
	ub := b.ConstIndex(128)
	step := b.ConstIndex(1)
	loop := ir.MakeParallelLoop(b, []*ir.Value{lb}, []*ir.Value{ub}, []*ir.Value{step})

	assert.Equal(t, 1, ir.LoopDims(loop))
	assert.Same(t, lb, ir.LoopLowerBounds(loop)[0])
	assert.Same(t, ub, ir.LoopUpperBounds(loop)[0])
	assert.Same(t, step, ir.LoopSteps(loop)[0])
	require.Equal(t, 1, ir.LoopBody(loop).NumArgs())
	assert.True(t, ir.LoopBody(loop).Arg(0).Type().Equal(ir.Index()))

	require.Panics(t, func() { ir.LoopDims(lb.Def()) })
}

func TestTypes(t *testing.T) {
	tensor := ir.Tensor(dtypes.Float32, 4, 8)
	assert.Equal(t, "tensor<4x8xf32>", tensor.String())
	assert.Equal(t, 2, tensor.Rank())
	assert.True(t, tensor.IsStatic())
	size, ok := tensor.SizeBytes()
	require.True(t, ok)
	assert.Equal(t, 128, size)

	dyn := ir.Buffer(dtypes.Float32, ir.DynamicDim, 8)
	assert.Equal(t, "buffer<?x8xf32>", dyn.String())
	assert.False(t, dyn.IsStatic())
	_, ok = dyn.SizeBytes()
	assert.False(t, ok)

	assert.True(t, tensor.ToBuffer().Equal(ir.Buffer(dtypes.Float32, 4, 8)))
	assert.False(t, tensor.Equal(tensor.ToBuffer()))
	assert.Equal(t, "index", ir.Index().String())
	assert.Equal(t, "f16", ir.Scalar(dtypes.Float16).String())
}

func TestTypeKindEnumer(t *testing.T) {
	assert.Equal(t, "Buffer", ir.KindBuffer.String())
	kind, err := ir.TypeKindString("tensor")
	require.NoError(t, err)
	assert.Equal(t, ir.KindTensor, kind)
	_, err = ir.TypeKindString("widget")
	assert.Error(t, err)
	assert.True(t, ir.KindIndex.IsATypeKind())
}

func TestAttrs(t *testing.T) {
	assert.Equal(t, "42", ir.IntAttr(42).String())
	assert.Equal(t, "[1, 2, 3]", ir.IntSliceAttr(1, 2, 3).String())
	assert.Equal(t, "0.5", ir.FloatAttr(0.5).String())
	assert.Equal(t, `"block_x"`, ir.StringAttr("block_x").String())
	assert.Equal(t, "true", ir.BoolAttr(true).String())
	assert.Equal(t, "bytes<00ff>", ir.BytesAttr([]byte{0x00, 0xff}).String())
	assert.Equal(t, "f32", ir.TypeAttr(ir.Scalar(dtypes.Float32)).String())

	op := ir.NewOp(ir.OpArithConstant, nil, ir.Index())
	op.SetAttr("value", ir.IntAttr(7))
	op.SetAttr("aligned", ir.BoolAttr(true))
	assert.Equal(t, []string{"aligned", "value"}, op.AttrNames())
	a, found := op.Attr("value")
	require.True(t, found)
	assert.Equal(t, int64(7), a.Int())
	op.DelAttr("aligned")
	assert.False(t, op.HasAttr("aligned"))
}
