// Package loopfold detects fully unrolled single-block loops in decoded
// x86-64 code and re-rolls them into a single-iteration body.
//
// The analysis recovers the loop induction register and the unroll factor
// from the arithmetic progression of memory displacements, partitions the
// body instructions into per-replica groups along a register def/use
// chain, and, when a battery of structural checks holds, rewrites the
// block with the canonical group plus a scaled-down induction update.
package loopfold

import (
	"io"

	"github.com/refold/refold/cfg"
	"github.com/refold/refold/mc"
)

// Options control the optional correctness gates and diagnostics.
type Options struct {
	// StrictSymbolCompare makes the addressing-mode equality compare the
	// symbol names of both operands instead of reproducing the historical
	// behavior of reading both from the first.
	StrictSymbolCompare bool
	// RemoveSuffixTree enables the group-continuity gate.
	RemoveSuffixTree bool
	// RemoveSubDDG enables the dependency-closure gate.
	RemoveSubDDG bool
	// Debug receives analysis traces; nil discards them.
	Debug io.Writer
}

// Analyzer holds the architecture services and policy for one pass
// invocation. It is not safe for concurrent use: the register-copy map is
// shared across the loops of a function.
type Analyzer struct {
	arch             mc.Arch
	strictSymbols    bool
	removeSuffixTree bool
	removeSubDDG     bool
	regMap           map[mc.Register]mc.Register
	out              io.Writer
}

// NewAnalyzer returns an analyzer over the given architecture.
func NewAnalyzer(arch mc.Arch, opts Options) *Analyzer {
	out := opts.Debug
	if out == nil {
		out = io.Discard
	}
	return &Analyzer{
		arch:             arch,
		strictSymbols:    opts.StrictSymbolCompare,
		removeSuffixTree: opts.RemoveSuffixTree,
		removeSubDDG:     opts.RemoveSubDDG,
		regMap:           map[mc.Register]mc.Register{},
		out:              out,
	}
}

// Fold attempts to re-roll l and reports whether its body was rewritten.
// On failure the block is left unchanged.
func (a *Analyzer) Fold(l *cfg.Loop) bool {
	body := l.Body()
	if body == nil || body.Size() < 2 {
		return false
	}
	term := body.Terminator()
	if term == nil || !a.arch.IsBranch(term) {
		return false
	}
	if target, ok := a.arch.TargetLabel(term); !ok || target != body.Label {
		return false
	}

	snap := body.Snapshot()
	reg, ok := a.FindInductionRegister(l)
	if !ok {
		body.Restore(snap)
		return false
	}
	l.InductionReg = reg

	info, ok := a.UnrollFactor(l, reg, nil)
	if !ok || info.Factor < 2 {
		body.Restore(snap)
		return false
	}

	folded, ok := a.CorrelationAnalysis(l, reg, info.Factor, info.Step, info.Start)
	if !ok {
		body.Restore(snap)
		return false
	}

	body.Clear()
	body.Append(folded...)
	l.Stride = info.Step
	return true
}
