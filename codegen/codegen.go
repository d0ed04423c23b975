// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package codegen implements device code generation: a Backend strategy per
// GPU vendor turns each kernel module's low-level IR into a binary image,
// optionally bundled across several target architectures, and attaches it to
// the kernel module under the "gpu.binary" attribute.
//
// Backends register themselves at init time, mirroring how inference engines
// are selected elsewhere in the GoMLX ecosystem: the KERNELGEN_BACKEND
// environment variable picks the default, and compiling without any backend
// available is an error rather than a silent CPU fallback.
package codegen

import (
	"os"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/kernelgen/internal/xslices"
	"github.com/gomlx/kernelgen/ir"
)

// Options controls code generation for one compilation.
type Options struct {
	// FlushToZero makes denormal float results flush to zero on the device;
	// recorded in the image header for the runtime's module loader.
	FlushToZero bool

	// Fatbin forces the bundle container even for a single architecture.
	Fatbin bool

	// EmitAssembly additionally attaches a readable listing of each kernel
	// module under the "gpu.asm" attribute.
	EmitAssembly bool
}

// Backend is the strategy for one GPU vendor family. Implementations are
// stateless; one instance serves any number of compilations.
type Backend interface {
	// Name identifies the backend family ("nvgpu", "amdgpu"); it is the
	// registry key and the value matched by backend legalization.
	Name() string

	// DefaultArchitecture is the architecture compiled for when the caller
	// names none.
	DefaultArchitecture() string

	// LowerToDeviceIR converts the portable operations inside a kernel
	// module to the backend's low-level vocabulary. Called by the low-level
	// lowering stage.
	LowerToDeviceIR(gm *ir.Operation) error

	// Compile assembles a lowered kernel module into a binary image for one
	// architecture.
	Compile(gm *ir.Operation, arch string, opts Options) ([]byte, error)

	// Assembly returns a readable listing of a lowered kernel module.
	Assembly(gm *ir.Operation, arch string) (string, error)
}

// BackendEnvVar names the environment variable selecting the default backend.
const BackendEnvVar = "KERNELGEN_BACKEND"

var backends = map[string]func() Backend{}

// Register makes a backend constructor available under its name. It panics
// if the name is already taken; backends register from init functions.
func Register(name string, ctor func() Backend) {
	if _, found := backends[name]; found {
		exceptions.Panicf("codegen: backend %q registered twice", name)
	}
	backends[name] = ctor
}

// Names returns the registered backend names in sorted order.
func Names() []string {
	return xslices.SortedKeys(backends)
}

// New returns the backend registered under name. An empty name selects the
// BackendEnvVar value, falling back to "nvgpu".
func New(name string) (Backend, error) {
	if len(backends) == 0 {
		return nil, errors.Errorf("no device code backend compiled in")
	}
	if name == "" {
		name = os.Getenv(BackendEnvVar)
	}
	if name == "" {
		name = "nvgpu"
	}
	ctor, found := backends[name]
	if !found {
		return nil, errors.Errorf("backend %q is not compiled in, available: %v", name, Names())
	}
	return ctor(), nil
}

// Run generates device code for every kernel module of m: one image per
// target architecture, bundled when there are several, attached under
// "gpu.binary".
func Run(m *ir.Module, backend Backend, architectures []string, opts Options) error {
	stripDebugInfo(m)
	if len(architectures) == 0 {
		architectures = []string{backend.DefaultArchitecture()}
	}
	for _, gm := range m.GPUModules() {
		images := make([][]byte, 0, len(architectures))
		for _, arch := range architectures {
			image, err := backend.Compile(gm, arch, opts)
			if err != nil {
				return errors.WithMessagef(err, "compiling for %s", arch)
			}
			images = append(images, image)
		}
		blob := images[0]
		if len(images) > 1 || opts.Fatbin {
			blob = bundleImages(images)
		}
		gm.SetAttr(ir.GPUBinaryAttrName, ir.BytesAttr(blob))
		if name, found := gm.Attr("sym_name"); found {
			klog.V(1).Infof("codegen: %s: %s of device code for %v",
				name.Str(), humanize.Bytes(uint64(len(blob))), architectures)
		}
		if opts.EmitAssembly {
			listing, err := backend.Assembly(gm, architectures[0])
			if err != nil {
				return err
			}
			gm.SetAttr("gpu.asm", ir.StringAttr(listing))
		}
	}
	return nil
}

// stripDebugInfo drops source locations from kernel modules. Low-level
// lowering already did this; code generation repeats it so a binary can never
// embed host source positions regardless of which passes ran before.
func stripDebugInfo(m *ir.Module) {
	for _, gm := range m.GPUModules() {
		gm.Walk(func(op *ir.Operation) {
			op.SetLoc(ir.Loc{})
		})
	}
}
