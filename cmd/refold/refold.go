package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/refold/refold"
	"github.com/refold/refold/cfg"
	"github.com/refold/refold/loopunroll"
	"github.com/refold/refold/mc/golangasm"
)

func main() {
	os.Exit(doMain(os.Args[1:], os.Stdout, os.Stderr))
}

// doMain is separated out for the purpose of unit testing.
func doMain(args []string, stdOut, stdErr io.Writer) int {
	flags := flag.NewFlagSet("refold", flag.ContinueOnError)
	flags.SetOutput(stdErr)

	loopFold := flags.Bool("loop-fold", false, "Enable the loop folding optimization.")
	printLoopInstructions := flags.Bool("print-loop-instructions", false, "Print loop instructions.")
	serializeLoopFile := flags.String("specify-serialize-loop-file-name", "", "Write the analyzed loops as JSON to this file.")
	loopUnroll := flags.Bool("loop-unroll", false, "Enable the loop unroll optimization.")
	loopUnrollProfile := flags.String("loop-unroll-profile", "", "Per-loop execution counts, one per line.")
	printProfilerLoop := flags.Bool("print-profiler-loop", false, "Print the profile classification of each loop.")
	serializeProfilerLoopFile := flags.String("specify-serialize-profiler-loop-file-name", "", "Write the profiled loops as JSON to this file.")
	removeSuffixTree := flags.Bool("remove-suffix-tree", false, "Enable the group continuity gate.")
	removeSubDDG := flags.Bool("remove-sub-ddg", false, "Enable the dependency closure gate.")
	printEncodedLoops := flags.Bool("print-encoded-loops", false, "Assemble rewritten loop bodies and print their machine code.")
	strictSymbolCompare := flags.Bool("strict-symbol-compare", false, "Compare the symbol names of both operands in addressing-mode equality.")
	debug := flags.Bool("debug", false, "Print analysis traces.")

	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() != 1 {
		fmt.Fprintln(stdErr, "usage: refold [flags] <instruction listing>")
		flags.PrintDefaults()
		return 1
	}

	f, err := os.Open(flags.Arg(0))
	if err != nil {
		fmt.Fprintf(stdErr, "error opening %s: %v\n", flags.Arg(0), err)
		return 1
	}
	defer f.Close()
	program, err := parseListing(f)
	if err != nil {
		fmt.Fprintf(stdErr, "error parsing %s: %v\n", flags.Arg(0), err)
		return 1
	}

	config := refold.NewConfig().
		WithLoopFold(*loopFold).
		WithLoopUnroll(*loopUnroll).
		WithPrintLoopInstructions(*printLoopInstructions).
		WithPrintProfilerLoop(*printProfilerLoop).
		WithRemoveSuffixTree(*removeSuffixTree).
		WithRemoveSubDDG(*removeSubDDG).
		WithStrictSymbolCompare(*strictSymbolCompare).
		WithOutput(stdOut)
	if *debug {
		config = config.WithDebug(stdErr)
	}

	if *loopUnrollProfile != "" {
		pf, err := os.Open(*loopUnrollProfile)
		if err != nil {
			fmt.Fprintf(stdErr, "error opening profile %s: %v\n", *loopUnrollProfile, err)
			return 1
		}
		profile, err := loopunroll.ParseProfile(pf)
		pf.Close()
		if err != nil {
			fmt.Fprintf(stdErr, "error parsing profile: %v\n", err)
			return 1
		}
		config = config.WithProfile(profile)
	}

	report := refold.NewOptimizer(config).RunOnProgram(program)
	fmt.Fprintf(stdOut, "folded %d loops, unrolled %d loops\n",
		report.FoldedLoops, report.UnrolledLoops)

	if *printEncodedLoops {
		for _, record := range report.Loops {
			if !record.Folded && !record.Unrolled {
				continue
			}
			block := blockOf(program, record.Function, record.Label)
			if block == nil {
				continue
			}
			enc, err := golangasm.NewEncoder()
			if err != nil {
				fmt.Fprintf(stdErr, "error creating encoder: %v\n", err)
				return 1
			}
			code, err := enc.EncodeBlock(block)
			if err != nil {
				fmt.Fprintf(stdErr, "error encoding %s/%s: %v\n", record.Function, record.Label, err)
				return 1
			}
			fmt.Fprintf(stdOut, "%s/%s: % x\n", record.Function, record.Label, code)
		}
	}

	if *serializeLoopFile != "" {
		if err := writeJSON(*serializeLoopFile, report.Loops); err != nil {
			fmt.Fprintf(stdErr, "error writing %s: %v\n", *serializeLoopFile, err)
			return 1
		}
	}
	if *serializeProfilerLoopFile != "" {
		profiled := make([]refold.LoopRecord, 0, len(report.Loops))
		for _, l := range report.Loops {
			if l.Count > 0 {
				profiled = append(profiled, l)
			}
		}
		if err := writeJSON(*serializeProfilerLoopFile, profiled); err != nil {
			fmt.Fprintf(stdErr, "error writing %s: %v\n", *serializeProfilerLoopFile, err)
			return 1
		}
	}
	return 0
}

func blockOf(program *cfg.Program, function, label string) *cfg.BasicBlock {
	for _, f := range program.Functions {
		if f.Name == function {
			return f.BlockByLabel(label)
		}
	}
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
