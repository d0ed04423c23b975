// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// AttrKind discriminates the Attr variants.
type AttrKind int

const (
	AttrInvalid AttrKind = iota
	AttrInt
	AttrIntSlice
	AttrFloat
	AttrString
	AttrStringSlice
	AttrBool
	AttrBytes
	AttrType
)

// Attr is a named constant attached to an operation. Attrs are immutable
// values; replacing an attribute means setting a new one under the same name.
type Attr struct {
	kind  AttrKind
	i     int64
	is    []int64
	f     float64
	s     string
	ss    []string
	b     bool
	bytes []byte
	typ   Type
}

// IntAttr returns an integer attribute.
func IntAttr(v int64) Attr { return Attr{kind: AttrInt, i: v} }

// IntSliceAttr returns an integer sequence attribute.
func IntSliceAttr(v ...int64) Attr { return Attr{kind: AttrIntSlice, is: v} }

// FloatAttr returns a float attribute.
func FloatAttr(v float64) Attr { return Attr{kind: AttrFloat, f: v} }

// StringAttr returns a string attribute.
func StringAttr(v string) Attr { return Attr{kind: AttrString, s: v} }

// StringSliceAttr returns a string sequence attribute.
func StringSliceAttr(v ...string) Attr { return Attr{kind: AttrStringSlice, ss: v} }

// BoolAttr returns a boolean attribute.
func BoolAttr(v bool) Attr { return Attr{kind: AttrBool, b: v} }

// BytesAttr returns an opaque byte-blob attribute. The blob is attached as
// given and never copied or mutated afterwards.
func BytesAttr(v []byte) Attr { return Attr{kind: AttrBytes, bytes: v} }

// TypeAttr returns a type attribute.
func TypeAttr(t Type) Attr { return Attr{kind: AttrType, typ: t} }

// Kind returns the attribute's kind.
func (a Attr) Kind() AttrKind { return a.kind }

// Int returns the integer payload (zero if not an int attribute).
func (a Attr) Int() int64 { return a.i }

// Ints returns the integer-sequence payload.
func (a Attr) Ints() []int64 { return a.is }

// Float returns the float payload.
func (a Attr) Float() float64 { return a.f }

// Str returns the string payload.
func (a Attr) Str() string { return a.s }

// Strs returns the string-sequence payload.
func (a Attr) Strs() []string { return a.ss }

// Bool returns the boolean payload.
func (a Attr) Bool() bool { return a.b }

// Bytes returns the byte-blob payload.
func (a Attr) Bytes() []byte { return a.bytes }

// Type returns the type payload.
func (a Attr) Type() Type { return a.typ }

// String renders the attribute in the textual form accepted by the parser.
func (a Attr) String() string {
	switch a.kind {
	case AttrInt:
		return strconv.FormatInt(a.i, 10)
	case AttrIntSlice:
		parts := make([]string, len(a.is))
		for i, v := range a.is {
			parts[i] = strconv.FormatInt(v, 10)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case AttrFloat:
		return strconv.FormatFloat(a.f, 'g', -1, 64)
	case AttrString:
		return strconv.Quote(a.s)
	case AttrStringSlice:
		parts := make([]string, len(a.ss))
		for i, v := range a.ss {
			parts[i] = strconv.Quote(v)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case AttrBool:
		return strconv.FormatBool(a.b)
	case AttrBytes:
		return fmt.Sprintf("bytes<%s>", hex.EncodeToString(a.bytes))
	case AttrType:
		return a.typ.String()
	default:
		return "<<invalid>>"
	}
}
