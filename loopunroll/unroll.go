// Package loopunroll replicates single-block loop bodies, the symmetric
// operation to loop folding. It reuses the induction analysis primitives:
// induction-register detection, iteration bounds and the update-dispatch
// helper that moves the induction update next to the loop tail.
package loopunroll

import (
	"fmt"
	"io"

	"github.com/refold/refold/cfg"
	"github.com/refold/refold/loopfold"
	"github.com/refold/refold/mc"
)

// Unroller expands loop bodies in place.
type Unroller struct {
	arch     mc.Arch
	analyzer *loopfold.Analyzer
	out      io.Writer
}

// NewUnroller returns an unroller sharing the given induction analyzer.
func NewUnroller(arch mc.Arch, analyzer *loopfold.Analyzer, debug io.Writer) *Unroller {
	if debug == nil {
		debug = io.Discard
	}
	return &Unroller{arch: arch, analyzer: analyzer, out: debug}
}

// Unroll replicates the loop body factor times, patching the memory
// displacements of each replica by its round offset and scaling the
// induction update. The trip count, when known, must divide evenly.
func (u *Unroller) Unroll(l *cfg.Loop, factor int64) bool {
	if factor < 2 {
		return false
	}
	body := l.Body()
	if body == nil || body.Size() < 2 {
		return false
	}
	term := body.Terminator()
	if term == nil || !u.arch.IsBranch(term) {
		return false
	}
	if target, ok := u.arch.TargetLabel(term); !ok || target != body.Label {
		return false
	}
	if !u.analyzer.CheckInductionReg(l) {
		return false
	}
	reg := l.InductionReg
	stride := l.Stride
	if stride == 0 {
		return false
	}
	if trips := u.analyzer.UnrollCount(l); trips > 0 && trips%uint64(factor) != 0 {
		fmt.Fprintf(u.out, "trip count %d not divisible by %d\n", trips, factor)
		return false
	}

	if _, ok := u.analyzer.DispatchLoopUpdateInst(l, reg); !ok {
		return false
	}

	// After dispatching, the update is adjacent to the compare/branch
	// tail; everything before it is the replicable body.
	updateIdx := -1
	for i := body.Size() - 1; i >= 0; i-- {
		inst := body.At(i)
		if u.arch.IsAddImm(inst) && len(inst.Operands) == 3 &&
			inst.Operands[1].IsReg() && inst.Operands[1].Reg == reg {
			updateIdx = i
			break
		}
	}
	if updateIdx < 0 {
		return false
	}

	iterRegs := u.arch.Aliases(reg, false)
	prefix := make([]mc.Inst, updateIdx)
	for i := 0; i < updateIdx; i++ {
		prefix[i] = body.At(i).Clone()
	}

	out := make([]mc.Inst, 0, body.Size()+int(factor-1)*updateIdx)
	out = append(out, prefix...)
	for k := int64(1); k < factor; k++ {
		for i := range prefix {
			c := prefix[i].Clone()
			if m, ok := u.arch.EvaluateMemoryOperand(&c); ok &&
				(iterRegs.Has(m.BaseReg) || iterRegs.Has(m.IndexReg)) {
				u.arch.AddToDisp(&c, k*stride)
			}
			out = append(out, c)
		}
	}
	for i := updateIdx; i < body.Size(); i++ {
		c := body.At(i).Clone()
		if i == updateIdx {
			c.Operands[2].Imm *= factor
		}
		out = append(out, c)
	}

	body.Clear()
	body.Append(out...)
	return true
}
