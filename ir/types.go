// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"fmt"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// TypeKind discriminates the Type variants.
type TypeKind int

const (
	// KindInvalid is the zero Type.
	KindInvalid TypeKind = iota

	// KindTensor is a value-semantics tensor, the high-level form.
	KindTensor

	// KindBuffer is an explicit memory buffer, introduced by bufferization.
	KindBuffer

	// KindScalar is a single element of the given dtype.
	KindScalar

	// KindIndex is the platform index type used for loop induction
	// variables and buffer subscripts.
	KindIndex

	// KindNone is the empty result type of side-effecting operations.
	KindNone
)

//go:generate go tool enumer -type TypeKind -trimprefix=Kind -output=gen_typekind_enumer.go types.go

// DynamicDim marks a dimension whose extent is only known at runtime.
const DynamicDim = -1

// Type describes the value produced by an operation result or block argument.
// Types are immutable and compared by value.
type Type struct {
	Kind  TypeKind
	DType dtypes.DType
	Dims  []int
}

// Tensor returns a tensor type of the given dtype and dimensions.
func Tensor(dtype dtypes.DType, dims ...int) Type {
	return Type{Kind: KindTensor, DType: dtype, Dims: dims}
}

// Buffer returns a buffer type of the given dtype and dimensions.
func Buffer(dtype dtypes.DType, dims ...int) Type {
	return Type{Kind: KindBuffer, DType: dtype, Dims: dims}
}

// Scalar returns a scalar type of the given dtype.
func Scalar(dtype dtypes.DType) Type {
	return Type{Kind: KindScalar, DType: dtype}
}

// Index returns the index type.
func Index() Type { return Type{Kind: KindIndex} }

// None returns the empty type.
func None() Type { return Type{Kind: KindNone} }

// IsValid reports whether the type is not the zero value.
func (t Type) IsValid() bool { return t.Kind != KindInvalid }

// Rank returns the number of dimensions. Scalars and index have rank 0.
func (t Type) Rank() int { return len(t.Dims) }

// IsStatic reports whether every dimension extent is known at compile time.
func (t Type) IsStatic() bool {
	for _, dim := range t.Dims {
		if dim == DynamicDim {
			return false
		}
	}
	return true
}

// NumElements returns the static element count, or (0, false) if any
// dimension is dynamic.
func (t Type) NumElements() (int, bool) {
	n := 1
	for _, dim := range t.Dims {
		if dim == DynamicDim {
			return 0, false
		}
		n *= dim
	}
	return n, true
}

// SizeBytes returns the static byte size, or (0, false) if dynamic.
func (t Type) SizeBytes() (int, bool) {
	n, ok := t.NumElements()
	if !ok {
		return 0, false
	}
	return n * t.DType.Size(), true
}

// ToBuffer converts a tensor type to the buffer type of the same shape.
func (t Type) ToBuffer() Type {
	return Type{Kind: KindBuffer, DType: t.DType, Dims: t.Dims}
}

// Equal reports whether two types are identical.
func (t Type) Equal(o Type) bool {
	if t.Kind != o.Kind || t.DType != o.DType || len(t.Dims) != len(o.Dims) {
		return false
	}
	for i, dim := range t.Dims {
		if o.Dims[i] != dim {
			return false
		}
	}
	return true
}

// String returns the textual form accepted by the parser, e.g.
// "tensor<4x8xf32>", "buffer<?xf32>", "f32", "index".
func (t Type) String() string {
	switch t.Kind {
	case KindTensor, KindBuffer:
		var sb strings.Builder
		if t.Kind == KindTensor {
			sb.WriteString("tensor<")
		} else {
			sb.WriteString("buffer<")
		}
		for _, dim := range t.Dims {
			if dim == DynamicDim {
				sb.WriteString("?x")
			} else {
				fmt.Fprintf(&sb, "%dx", dim)
			}
		}
		sb.WriteString(dtypeName(t.DType))
		sb.WriteString(">")
		return sb.String()
	case KindScalar:
		return dtypeName(t.DType)
	case KindIndex:
		return "index"
	case KindNone:
		return "none"
	default:
		return "<<invalid>>"
	}
}

// dtypeNames maps the textual dtype spellings to gopjrt dtypes.
var dtypeNames = map[string]dtypes.DType{
	"f16": dtypes.Float16,
	"f32": dtypes.Float32,
	"f64": dtypes.Float64,
	"i1":  dtypes.Bool,
	"i8":  dtypes.Int8,
	"i16": dtypes.Int16,
	"i32": dtypes.Int32,
	"i64": dtypes.Int64,
	"u8":  dtypes.Uint8,
	"u16": dtypes.Uint16,
	"u32": dtypes.Uint32,
	"u64": dtypes.Uint64,
}

func dtypeName(dtype dtypes.DType) string {
	for name, d := range dtypeNames {
		if d == dtype {
			return name
		}
	}
	return dtype.String()
}

// DTypeByName resolves a textual dtype spelling ("f32", "i1", ...).
func DTypeByName(name string) (dtypes.DType, error) {
	dtype, found := dtypeNames[name]
	if !found {
		return dtypes.InvalidDType, errors.Errorf("unknown element type %q", name)
	}
	return dtype, nil
}
