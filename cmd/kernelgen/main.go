// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// kernelgen compiles a textual tensor program into a host loop program with
// embedded GPU kernel binaries.
//
//	kernelgen -input add.kg -tile 256 -unroll 4 -archs sm_75,sm_90 -o add.out
//
// With -cpu the program is lowered to host loops only. The selected backend
// defaults to $KERNELGEN_BACKEND, then "nvgpu".
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/must"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/gomlx/kernelgen"
	"github.com/gomlx/kernelgen/codegen"
	"github.com/gomlx/kernelgen/ir"
	"github.com/gomlx/kernelgen/pipeline"
)

var (
	flagInput   = flag.String("input", "-", "Source file to compile, \"-\" for stdin.")
	flagOutput  = flag.String("o", "", "Output file for the compiled module, empty for stdout.")
	flagBackend = flag.String("backend", "", fmt.Sprintf(
		"Device code backend, one of %v. Defaults to $%s, then \"nvgpu\".",
		codegen.Names(), codegen.BackendEnvVar))
	flagArchs       = flag.String("archs", "", "Comma-separated target architectures, empty for the backend default.")
	flagTile        = flag.String("tile", "", "Comma-separated tile sizes for the innermost loops.")
	flagUnroll      = flag.String("unroll", "", "Comma-separated unroll factors, must match -tile in length.")
	flagCPU         = flag.Bool("cpu", false, "Compile a CPU-only loop program, no kernels.")
	flagFatbin      = flag.Bool("fatbin", false, "Always emit the multi-architecture bundle container.")
	flagAsm         = flag.Bool("asm", false, "Attach a readable device-code listing to each kernel module.")
	flagFTZ         = flag.Bool("ftz", false, "Flush denormal device results to zero.")
	flagDebugPrints = flag.Bool("debug_prints", false, "Print kernel buffer arguments before each launch.")
	flagQuiet       = flag.Bool("quiet", false, "No progress bar and no summary.")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	detailStyle  = lipgloss.NewStyle().Faint(true)
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	cfg := &kernelgen.Config{
		Source:           readSource(),
		Backend:          *flagBackend,
		TileSizes:        parseInt64List("tile", *flagTile),
		UnrollFactors:    parseInt64List("unroll", *flagUnroll),
		CPUOnly:          *flagCPU,
		Fatbin:           *flagFatbin,
		EmitAssembly:     *flagAsm,
		FlushToZero:      *flagFTZ,
		EmbedDebugPrints: *flagDebugPrints,
	}
	if *flagArchs != "" {
		cfg.Architectures = strings.Split(*flagArchs, ",")
	}

	var bar *progressbar.ProgressBar
	if !*flagQuiet {
		bar = progressbar.NewOptions(pipeline.NumStages(cfg),
			progressbar.OptionSetDescription("compiling"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionClearOnFinish())
		cfg.Observer = func(stage string, _ time.Duration) {
			bar.Describe(stage)
			_ = bar.Add(1)
		}
	}

	start := time.Now()
	m, err := kernelgen.Compile(cfg)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("compilation failed: ")+err.Error())
		os.Exit(1)
	}

	text := m.String()
	if *flagOutput == "" {
		fmt.Print(text)
	} else {
		must.M(os.WriteFile(*flagOutput, []byte(text), 0644))
	}
	if !*flagQuiet {
		printSummary(m, time.Since(start))
	}
}

func readSource() string {
	if *flagInput == "-" {
		return string(must.M1(io.ReadAll(os.Stdin)))
	}
	return string(must.M1(os.ReadFile(*flagInput)))
}

func parseInt64List(name, s string) []int64 {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || v <= 0 {
			fmt.Fprintf(os.Stderr, "-%s must be a comma-separated list of positive integers, got %q\n", name, s)
			os.Exit(2)
		}
		out[i] = v
	}
	return out
}

func printSummary(m *ir.Module, elapsed time.Duration) {
	fmt.Fprintln(os.Stderr, titleStyle.Render("kernelgen")+" "+
		successStyle.Render("ok")+" "+detailStyle.Render(elapsed.Round(time.Millisecond).String()))
	kernelModules := m.GPUModules()
	if len(kernelModules) == 0 {
		fmt.Fprintln(os.Stderr, detailStyle.Render("  host-only loop program, no kernels"))
		return
	}
	for _, gm := range kernelModules {
		name := "unnamed"
		if a, found := gm.Attr("sym_name"); found {
			name = a.Str()
		}
		size := "not compiled"
		if a, found := gm.Attr(ir.GPUBinaryAttrName); found {
			size = humanize.Bytes(uint64(len(a.Bytes())))
		}
		fmt.Fprintf(os.Stderr, "  %s %s\n", name, detailStyle.Render(size))
	}
}
