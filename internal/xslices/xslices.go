// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xslices provides the small generic slice/map helpers used across
// the compiler.
package xslices

import (
	"sort"

	"golang.org/x/exp/constraints"
)

// Map applies fn to every element and returns the resulting slice.
func Map[In, Out any](in []In, fn func(In) Out) []Out {
	out := make([]Out, len(in))
	for i, v := range in {
		out[i] = fn(v)
	}
	return out
}

// SortedKeys returns the map's keys in increasing order; it keeps map-driven
// code deterministic.
func SortedKeys[K constraints.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
