package loopfold

import (
	"github.com/refold/refold/cfg"
	"github.com/refold/refold/mc"
)

// IterationAnalysis recovers the iteration bounds of l: the stride from
// the induction update, the end bound from the compare feeding the back
// branch, and the begin value from the initialization preceding the loop
// in f. Bounds are only valid once both setters have run.
func (a *Analyzer) IterationAnalysis(f *cfg.Function, l *cfg.Loop) bool {
	if !a.CheckInductionReg(l) {
		return false
	}
	if !a.CheckCmpInstruction(l) {
		return false
	}
	return a.findIterationBegin(f, l)
}

// CheckInductionReg ensures the loop's induction register and stride are
// known, and records every plain register copy of the body in the
// analyzer's register map so the compare can be matched through a copy of
// the induction register.
func (a *Analyzer) CheckInductionReg(l *cfg.Loop) bool {
	body := l.Body()
	if body == nil || body.Size() < 2 {
		return false
	}
	if l.InductionReg == mc.NilRegister {
		reg, ok := a.FindInductionRegister(l)
		if !ok {
			// A rolled loop has no repeated memory pattern; fall back to
			// the last immediate update whose register the first body
			// instruction reads.
			reg, ok = a.findUpdateRegister(body)
		}
		if !ok {
			return false
		}
		l.InductionReg = reg
	}

	found := false
	for i := body.Size() - 1; i >= 0; i-- {
		inst := body.At(i)
		if (a.arch.IsAddImm(inst) || a.arch.IsSubImm(inst)) &&
			len(inst.Operands) == 3 && inst.Operands[1].IsReg() &&
			inst.Operands[1].Reg == l.InductionReg {
			l.Stride = inst.Operands[2].Imm
			if a.arch.IsSubImm(inst) {
				l.Stride = -l.Stride
			}
			found = true
			break
		}
	}
	if !found {
		return false
	}

	// Track plain register copies so a compare against a copy of the
	// induction register still resolves.
	for i := 0; i < body.Size(); i++ {
		inst := body.At(i)
		if a.arch.IsRegCopy(inst) {
			a.regMap[inst.Operands[0].Reg] = inst.Operands[1].Reg
		}
	}
	return true
}

// CheckCmpInstruction locates the compare before the back branch and, when
// one side is the induction register (directly or through a recorded
// copy) and the other an immediate, records the iteration end bound.
func (a *Analyzer) CheckCmpInstruction(l *cfg.Loop) bool {
	body := l.Body()
	if body == nil || body.Size() < 2 {
		return false
	}
	cmp := body.At(body.Size() - 2)
	if !a.arch.IsCompare(cmp) || len(cmp.Operands) != 2 {
		return false
	}
	first, second := cmp.Operands[0], cmp.Operands[1]
	switch {
	case first.IsReg() && second.IsImm():
		if !a.matchesInduction(first.Reg, l.InductionReg) {
			return false
		}
		l.SetIterationEnd(second.Imm)
	case first.IsImm() && second.IsReg():
		if !a.matchesInduction(second.Reg, l.InductionReg) {
			return false
		}
		l.SetIterationEnd(first.Imm)
	default:
		return false
	}
	return true
}

// findUpdateRegister scans backwards for an immediate add or subtract
// whose destination register is read by the first instruction of the
// body.
func (a *Analyzer) findUpdateRegister(body *cfg.BasicBlock) (mc.Register, bool) {
	firstSrc := a.arch.SrcRegs(body.At(0))
	for i := body.Size() - 1; i >= 0; i-- {
		inst := body.At(i)
		if !a.arch.IsAddImm(inst) && !a.arch.IsSubImm(inst) {
			continue
		}
		a.arch.NormalizeUpdateInst(inst)
		if len(inst.Operands) == 0 || !inst.Operands[0].IsReg() {
			continue
		}
		reg := inst.Operands[0].Reg
		if a.arch.Aliases(reg, true).Intersects(firstSrc) {
			return reg, true
		}
	}
	return mc.NilRegister, false
}

func (a *Analyzer) matchesInduction(reg, induction mc.Register) bool {
	if a.arch.Aliases(induction, false).Has(reg) {
		return true
	}
	if mapped, ok := a.regMap[reg]; ok && a.arch.Aliases(induction, false).Has(mapped) {
		return true
	}
	return false
}

// findIterationBegin scans the block preceding the loop for the induction
// register's initialization.
func (a *Analyzer) findIterationBegin(f *cfg.Function, l *cfg.Loop) bool {
	body := l.Body()
	if body == nil {
		return false
	}
	var prev *cfg.BasicBlock
	for _, b := range f.Blocks {
		if b == body {
			break
		}
		prev = b
	}
	if prev == nil {
		return false
	}
	inductionRegs := a.arch.Aliases(l.InductionReg, false)
	for i := prev.Size() - 1; i >= 0; i-- {
		inst := prev.At(i)
		if len(inst.Operands) == 2 && inst.Operands[0].IsReg() &&
			inductionRegs.Has(inst.Operands[0].Reg) && inst.Operands[1].IsImm() &&
			!a.arch.IsCompare(inst) {
			l.SetIterationBegin(inst.Operands[1].Imm)
			return true
		}
		if a.arch.IsRegZeroing(inst) && inductionRegs.Has(inst.Operands[0].Reg) {
			l.SetIterationBegin(0)
			return true
		}
	}
	return false
}

// UnrollCount returns the trip count of the loop: from the recorded bounds
// when both are valid, otherwise from the profile edge counts.
func (a *Analyzer) UnrollCount(l *cfg.Loop) uint64 {
	if l.IsBoundValid() && l.Stride != 0 {
		begin, _ := l.IterationBegin()
		end, _ := l.IterationEnd()
		return uint64(absInt64((end - begin) / l.Stride))
	}
	if l.EntryCount > 0 {
		return l.TotalBackEdgeCount / l.EntryCount
	}
	return 0
}
