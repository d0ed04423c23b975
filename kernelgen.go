// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package kernelgen is an ahead-of-time compiler turning a textual tensor
// computation into a host loop program, optionally with embedded GPU kernel
// binaries. This package is the facade; see pipeline for the stage list and
// ir for the program representation.
//
// Minimal use:
//
//	m, err := kernelgen.Compile(&kernelgen.Config{
//		Source:    src,
//		TileSizes: []int64{256},
//	})
package kernelgen

import (
	"github.com/gomlx/kernelgen/ir"
	"github.com/gomlx/kernelgen/pipeline"
)

// Config configures one compilation. See pipeline.Config for the fields.
type Config = pipeline.Config

// Compile runs the full pipeline on cfg.Source and returns the finished
// module, or nil and an error satisfying pipeline.IsInternalError.
func Compile(cfg *Config) (*ir.Module, error) {
	return pipeline.Compile(cfg)
}
