// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package pipeline drives the compilation stages: it parses the source text,
// folds the module through the stage list stopping at the first failure, and
// returns either the finished module or an error. A Module is owned by one
// Compile call and mutated in place; stages never run concurrently within a
// compilation, while separate compilations are independent and may run in
// parallel.
package pipeline

import (
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/kernelgen/codegen"
	"github.com/gomlx/kernelgen/ir"
	"github.com/gomlx/kernelgen/ir/parser"
	"github.com/gomlx/kernelgen/passes/devicemap"
	"github.com/gomlx/kernelgen/passes/hllower"
	"github.com/gomlx/kernelgen/passes/hostlower"
	"github.com/gomlx/kernelgen/passes/legalize"
	"github.com/gomlx/kernelgen/passes/lllower"
	"github.com/gomlx/kernelgen/passes/looptransform"
	"github.com/gomlx/kernelgen/passes/staticinfo"
)

// Config selects what to compile and how. The zero value compiles for the
// default backend and its default architecture, without tiling.
type Config struct {
	// Source is the textual program to compile.
	Source string

	// Backend names the device code backend ("nvgpu", "amdgpu"). Empty
	// selects the KERNELGEN_BACKEND environment variable, then "nvgpu".
	// Ignored with CPUOnly.
	Backend string

	// Architectures lists the device architectures to generate code for.
	// Empty means the backend's default. More than one produces a bundle.
	Architectures []string

	// TileSizes tiles every innermost parallel loop; empty disables tiling.
	TileSizes []int64

	// UnrollFactors adds a second tiling level for the backend to unroll.
	// Used only when it has the same length as TileSizes.
	UnrollFactors []int64

	// CPUOnly compiles the host loop program only: no device mapping, no
	// kernels, no binary blobs.
	CPUOnly bool

	// FlushToZero makes device denormal results flush to zero.
	FlushToZero bool

	// Fatbin forces the multi-architecture bundle container even for a
	// single architecture.
	Fatbin bool

	// EmitAssembly attaches a readable device-code listing to each kernel
	// module under "gpu.asm".
	EmitAssembly bool

	// EmbedDebugPrints inserts rt.print of every kernel buffer argument
	// before each launch.
	EmbedDebugPrints bool

	// Observer, when set, is called after every completed stage. The CLI
	// uses it to drive its progress display.
	Observer func(stage string, elapsed time.Duration)

	backend codegen.Backend
}

// Stage is one step of the pipeline. Run mutates the module in place and
// returns an error only on failure; Message is the stable prefix the failure
// is wrapped with.
type Stage struct {
	Name       string
	Message    string
	DeviceOnly bool
	Run        func(m *ir.Module, cfg *Config) error
}

// Stages returns the pipeline's stage list after the loader. The list is
// rebuilt per call so a caller may filter or instrument it.
func Stages() []Stage {
	return []Stage{
		{
			Name:    "high-level lowering",
			Message: "lowering to loops failed",
			Run: func(m *ir.Module, cfg *Config) error {
				return hllower.Run(m)
			},
		},
		{
			Name:    "loop transform",
			Message: "lowering to loops failed",
			Run: func(m *ir.Module, cfg *Config) error {
				looptransform.Run(m, cfg.TileSizes, cfg.UnrollFactors)
				return nil
			},
		},
		{
			Name:    "device mapping",
			Message: "lowering to device kernels failed",
			Run: func(m *ir.Module, cfg *Config) error {
				return devicemap.Run(m, cfg.CPUOnly, cfg.EmbedDebugPrints)
			},
		},
		{
			Name:       "backend legalization",
			Message:    "backend-specific transform failed",
			DeviceOnly: true,
			Run: func(m *ir.Module, cfg *Config) error {
				return legalize.Run(m, cfg.backend.Name())
			},
		},
		{
			Name:       "low-level lowering",
			Message:    "lowering to low-level device IR failed",
			DeviceOnly: true,
			Run: func(m *ir.Module, cfg *Config) error {
				return lllower.Run(m, cfg.backend)
			},
		},
		{
			Name:       "static knowledge",
			Message:    "amending low-level IR with static knowledge failed",
			DeviceOnly: true,
			Run: func(m *ir.Module, cfg *Config) error {
				return staticinfo.Run(m)
			},
		},
		{
			Name:       "device code generation",
			Message:    "generating device code failed",
			DeviceOnly: true,
			Run: func(m *ir.Module, cfg *Config) error {
				return codegen.Run(m, cfg.backend, cfg.Architectures, codegen.Options{
					FlushToZero:  cfg.FlushToZero,
					Fatbin:       cfg.Fatbin,
					EmitAssembly: cfg.EmitAssembly,
				})
			},
		},
		{
			Name:    "host finalization",
			Message: "final lowering of host side failed",
			Run: func(m *ir.Module, cfg *Config) error {
				return hostlower.Run(m)
			},
		},
	}
}

// NumStages returns how many stages, loader included, a compilation with
// this configuration runs. Used to size progress displays.
func NumStages(cfg *Config) int {
	n := 1
	for _, stage := range Stages() {
		if stage.DeviceOnly && cfg.CPUOnly {
			continue
		}
		n++
	}
	return n
}

// Compile runs the whole pipeline. It returns the finished module, or nil
// and an InternalError describing the first failing stage. There is no
// partial output.
func Compile(cfg *Config) (*ir.Module, error) {
	if !cfg.CPUOnly {
		backend, err := codegen.New(cfg.Backend)
		if err != nil {
			return nil, internal(err)
		}
		cfg.backend = backend
	}

	start := time.Now()
	m, err := parser.Parse(cfg.Source)
	if err != nil {
		return nil, internal(err)
	}
	observe(cfg, "loader", start)

	for _, stage := range Stages() {
		if stage.DeviceOnly && cfg.CPUOnly {
			continue
		}
		start = time.Now()
		if err := stage.Run(m, cfg); err != nil {
			return nil, internal(errors.WithMessage(err, stage.Message))
		}
		if klog.V(2).Enabled() {
			if err := m.Verify(); err != nil {
				return nil, internal(errors.WithMessagef(err, "%s: invalid module after stage", stage.Name))
			}
		}
		observe(cfg, stage.Name, start)
	}
	return m, nil
}

func observe(cfg *Config, stage string, start time.Time) {
	elapsed := time.Since(start)
	klog.V(1).Infof("pipeline: %s took %s", stage, elapsed)
	if cfg.Observer != nil {
		cfg.Observer(stage, elapsed)
	}
}

// InternalError marks any compilation failure: malformed source on the
// loader, or an internal invariant violation in a later stage.
type InternalError struct {
	err error
}

func (e *InternalError) Error() string { return e.err.Error() }

// Unwrap exposes the wrapped stage error.
func (e *InternalError) Unwrap() error { return e.err }

// IsInternalError reports whether err is (or wraps) a compilation failure.
func IsInternalError(err error) bool {
	var ie *InternalError
	return errors.As(err, &ie)
}

func internal(err error) error {
	return &InternalError{err: err}
}
