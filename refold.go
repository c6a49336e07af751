// Package refold is a post-link optimizer core for x86-64 machine code.
// Its main pass detects fully unrolled single-block loops and re-rolls
// them into a compact single-iteration body; the symmetric unroll pass
// expands hot loops selected by an execution profile.
package refold

import (
	"fmt"

	"github.com/refold/refold/cfg"
	"github.com/refold/refold/loopfold"
	"github.com/refold/refold/loopunroll"
	"github.com/refold/refold/mc"
	"github.com/refold/refold/mc/amd64"
)

// LoopRecord describes one analyzed loop for serialization.
type LoopRecord struct {
	Function     string   `json:"function"`
	Label        string   `json:"label"`
	Folded       bool     `json:"folded"`
	Unrolled     bool     `json:"unrolled,omitempty"`
	Factor       int64    `json:"factor,omitempty"`
	Step         int64    `json:"step,omitempty"`
	Start        int64    `json:"start,omitempty"`
	Count        uint64   `json:"count,omitempty"`
	Instructions []string `json:"instructions"`
}

// Report is the outcome of one optimizer run.
type Report struct {
	FoldedLoops   int
	UnrolledLoops int
	Loops         []LoopRecord
}

// Optimizer drives the passes over a program. A single optimizer must not
// be shared across goroutines; run one per function partition instead.
type Optimizer struct {
	config   *Config
	arch     mc.Arch
	analyzer *loopfold.Analyzer
	unroller *loopunroll.Unroller
}

// NewOptimizer returns an optimizer for the given configuration.
func NewOptimizer(config *Config) *Optimizer {
	arch := amd64.NewArch()
	analyzer := loopfold.NewAnalyzer(arch, loopfold.Options{
		StrictSymbolCompare: config.strictSymbolCompare,
		RemoveSuffixTree:    config.removeSuffixTree,
		RemoveSubDDG:        config.removeSubDDG,
		Debug:               config.debug,
	})
	return &Optimizer{
		config:   config,
		arch:     arch,
		analyzer: analyzer,
		unroller: loopunroll.NewUnroller(arch, analyzer, config.debug),
	}
}

// RunOnProgram runs the enabled passes over every function and returns
// the per-loop outcomes. Rejected loops are reported unchanged.
func (o *Optimizer) RunOnProgram(p *cfg.Program) *Report {
	report := &Report{}
	for _, f := range p.Functions {
		o.runOnFunction(f, report)
	}
	return report
}

func (o *Optimizer) runOnFunction(f *cfg.Function, report *Report) {
	var thresholds loopunroll.Thresholds
	if o.config.profile != nil {
		thresholds = o.config.profile.Thresholds(false)
	}

	for _, loop := range cfg.LoopsOf(f, o.arch) {
		body := loop.Body()
		if body == nil {
			continue
		}
		if o.config.printLoopInstructions {
			fmt.Fprintf(o.config.out, "loop %s in %s:\n", body.Label, f.Name)
			for i := 0; i < body.Size(); i++ {
				fmt.Fprintf(o.config.out, "  %s\n", o.arch.InstString(body.At(i)))
			}
		}

		record := LoopRecord{Function: f.Name, Label: body.Label}
		snap := body.Snapshot()

		if o.config.loopFold {
			var factor loopfold.UnrollInfo
			if reg, ok := o.analyzer.FindInductionRegister(loop); ok {
				factor, _ = o.analyzer.UnrollFactor(loop, reg, nil)
			}
			if o.analyzer.Fold(loop) {
				report.FoldedLoops++
				record.Folded = true
				record.Factor = factor.Factor
				record.Step = factor.Step
				record.Start = factor.Start
				fmt.Fprintf(o.config.out, "folded loop %s in %s (factor %d)\n",
					body.Label, f.Name, factor.Factor)
			}
		}

		if o.config.loopUnroll {
			count := o.loopCount(f, loop)
			record.Count = count
			factor := int64(2)
			if o.config.profile != nil {
				factor = thresholds.FactorFor(count)
			}
			if o.config.printProfilerLoop {
				fmt.Fprintf(o.config.out, "loop %s in %s: count %d factor %d\n",
					body.Label, f.Name, count, factor)
			}
			if factor >= 2 && o.unroller.Unroll(loop, factor) {
				report.UnrolledLoops++
				record.Unrolled = true
				fmt.Fprintf(o.config.out, "unrolled loop %s in %s (factor %d)\n",
					body.Label, f.Name, factor)
			}
		}

		if !record.Folded && !record.Unrolled {
			body.Restore(snap)
		}
		for i := 0; i < body.Size(); i++ {
			record.Instructions = append(record.Instructions, o.arch.InstString(body.At(i)))
		}
		report.Loops = append(report.Loops, record)
	}
}

// loopCount derives a loop's execution count, preferring the profile edge
// counts over the recovered iteration bounds.
func (o *Optimizer) loopCount(f *cfg.Function, l *cfg.Loop) uint64 {
	if l.TotalBackEdgeCount > 0 {
		return l.TotalBackEdgeCount
	}
	if !l.IsBoundValid() {
		o.analyzer.IterationAnalysis(f, l)
	}
	return o.analyzer.UnrollCount(l)
}
