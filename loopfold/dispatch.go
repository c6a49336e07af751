package loopfold

import (
	"github.com/refold/refold/cfg"
	"github.com/refold/refold/mc"
)

// DispatchLoopUpdateInst moves the induction update of iterReg next to the
// compare/branch tail of the loop body. While the update travels past an
// instruction whose memory base is iterReg, that displacement is patched
// by the update step to keep the addressing equivalent. Returns the
// position the update was erased from (the body size when the update
// already sits next to the tail) and true. Returns false when the body has
// no branch to its own label or the update's operands are not
// (reg, iterReg, imm); panics when no immediate add writing iterReg
// precedes the tail.
func (a *Analyzer) DispatchLoopUpdateInst(l *cfg.Loop, iterReg mc.Register) (int, bool) {
	body := l.Body()
	if body == nil {
		panic("loop should have only one block")
	}
	term := body.Terminator()
	if term == nil || !a.arch.IsBranch(term) {
		panic("last instruction should be branch")
	}

	goalRegs := a.arch.Aliases(iterReg, true)
	updatePos := body.Size()

	labelIndex := 1
	for i := body.Size() - 1; i >= 0; i-- {
		inst := body.At(i)
		if a.arch.IsBranch(inst) {
			if target, ok := a.arch.TargetLabel(inst); ok && target == body.Label {
				break
			}
		}
		labelIndex++
	}
	if labelIndex > body.Size() {
		return updatePos, false
	}

	cmpInstIndex := 2 // add, br
	if idx := body.Size() - labelIndex - 1; idx >= 0 && a.arch.IsCompare(body.At(idx)) {
		cmpInstIndex = 3 // add, cmp, br
	}

	var updInst mc.Inst
	var instStep int64
	foundInst := false
	noNeedDispatch := false

	for i := 0; i < body.Size()-labelIndex+1; i++ {
		if i+cmpInstIndex-1 == body.Size()-labelIndex+1 {
			if !foundInst {
				panic("no update instruction found")
			}
			// Re-insert the update right before the compare/branch tail;
			// when an immediate add already sits there, go before it.
			if noNeedDispatch {
				break
			}
			if a.arch.IsAddImm(body.At(i - 1)) {
				body.Insert(i-1, updInst)
			} else {
				body.Insert(i, updInst)
			}
			break
		}
		if !foundInst {
			inst := body.At(i)
			if !a.arch.IsAddImm(inst) {
				continue
			}
			a.arch.NormalizeUpdateInst(inst)
			written := a.arch.WrittenRegs(inst)
			if !written.Intersects(goalRegs) {
				continue
			}
			stepOperand := inst.Operands[2]
			iterOperand := inst.Operands[1]
			if !stepOperand.IsImm() || !iterOperand.IsReg() || iterOperand.Reg != iterReg {
				return updatePos, false
			}
			instStep = stepOperand.Imm
			updInst = inst.Clone()
			if i+1 < body.Size() &&
				(a.arch.IsCompare(body.At(i+1)) || a.arch.IsBranch(body.At(i+1))) {
				noNeedDispatch = true
			} else {
				updatePos = body.Erase(i)
				i--
			}
			foundInst = true
		} else {
			inst := body.At(i)
			if m, ok := a.arch.EvaluateMemoryOperand(inst); ok && m.BaseReg == iterReg {
				a.arch.AddToDisp(inst, instStep)
			}
		}
	}
	return updatePos, foundInst
}
