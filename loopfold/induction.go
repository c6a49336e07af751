package loopfold

import (
	"fmt"
	"sort"

	"github.com/refold/refold/cfg"
	"github.com/refold/refold/mc"
)

// UnrollInfo is the repetition pattern of one addressing mode: the body
// contains Factor accesses at Start, Start+Step, ... through the seed
// memory operand MemOp.
type UnrollInfo struct {
	Factor int64
	Step   int64
	Start  int64
	MemOp  mc.MemoryOperand
}

// FindInductionRegister returns the register indexing the unrolled body.
//
// Compare operands are unreliable on x86, so the induction register is
// found as the destination of an immediate add or subtract that also
// appears as base or index in at least two memory references sharing the
// same addressing structure and opcode.
func (a *Analyzer) FindInductionRegister(l *cfg.Loop) (mc.Register, bool) {
	body := l.Body()
	if body == nil {
		panic("loop should have only one block")
	}
	// Some loops only have a jump instruction. Skip them.
	if body.Size() < 2 {
		return mc.NilRegister, false
	}

	for i := body.Size() - 1; i >= 0; i-- {
		inst := body.At(i)
		if !a.arch.IsAddImm(inst) && !a.arch.IsSubImm(inst) {
			continue
		}
		a.arch.NormalizeUpdateInst(inst)
		if len(inst.Operands) == 0 || !inst.Operands[0].IsReg() {
			continue
		}
		candidate := inst.Operands[0].Reg
		if a.isIteratorRegister(body, candidate) {
			return candidate, true
		}
	}
	return mc.NilRegister, false
}

// isIteratorRegister reports whether reg appears as base (or index) of two
// memory references with the same addressing mode modulo displacement and
// the same opcode, at the same position both times.
func (a *Analyzer) isIteratorRegister(body *cfg.BasicBlock, reg mc.Register) bool {
	regs := a.arch.Aliases(reg, false)
	var found mc.MemoryOperand
	var unrollOpcode mc.Instruction
	foundOnce := false
	baseOrIndex := 0 // -1 base, 1 index, 0 unknown

	for i := 0; i < body.Size(); i++ {
		inst := body.At(i)
		m, ok := a.arch.EvaluateMemoryOperand(inst)
		if !ok {
			continue
		}
		for r := 0; r < a.arch.NumRegs(); r++ {
			rr := mc.Register(r)
			if !regs.Has(rr) {
				continue
			}
			if rr == m.BaseReg && baseOrIndex <= 0 {
				if !foundOnce {
					foundOnce = true
					baseOrIndex = -1
					found = m
					unrollOpcode = inst.Opcode
				} else if found.EqualModDisp(m, a.strictSymbols) {
					if inst.Opcode != unrollOpcode {
						break
					}
					return true
				}
				break
			}
			if rr == m.IndexReg && baseOrIndex >= 0 {
				if !foundOnce {
					foundOnce = true
					baseOrIndex = 1
					found = m
					unrollOpcode = inst.Opcode
				} else if found.EqualModDisp(m, a.strictSymbols) {
					if inst.Opcode != unrollOpcode {
						break
					}
					return true
				}
				break
			}
		}
	}
	return false
}

// UnrollFactor collects the displacements of every memory reference that
// uses iterReg at the same position and with the same opcode as the first
// seed operand, skipping operands structurally equal to an entry of
// exclude. The displacements must form an arithmetic progression with a
// non-zero step and at least two members.
func (a *Analyzer) UnrollFactor(l *cfg.Loop, iterReg mc.Register, exclude []mc.MemoryOperand) (UnrollInfo, bool) {
	info := UnrollInfo{Factor: 1}
	body := l.Body()
	if body == nil {
		panic("loop should have only one block")
	}

	iterRegs := a.arch.Aliases(iterReg, false)
	baseOrIndex := 0
	var dispValues []int64
	var unrollOpcode mc.Instruction
	var found mc.MemoryOperand

	for i := 0; i < body.Size(); i++ {
		inst := body.At(i)
		m, ok := a.arch.EvaluateMemoryOperand(inst)
		if !ok {
			continue
		}
		skip := false
		for _, ex := range exclude {
			if ex.EqualModDisp(m, a.strictSymbols) && ex.UnrollOpcode == inst.Opcode {
				skip = true
			}
		}
		if skip {
			continue
		}
		for r := 0; r < a.arch.NumRegs(); r++ {
			rr := mc.Register(r)
			if !iterRegs.Has(rr) {
				continue
			}
			if rr == m.BaseReg && baseOrIndex <= 0 {
				offset := m.EffectiveDisp()
				if len(dispValues) == 0 {
					// The first operand is the seed; all later ones must
					// match it except for the displacement.
					dispValues = append(dispValues, offset)
					unrollOpcode = inst.Opcode
					baseOrIndex = -1
					found = m
					info.MemOp = m
					info.MemOp.UnrollOpcode = unrollOpcode
					fmt.Fprintf(a.out, "seed memory operand: %s\n", a.arch.InstString(inst))
				} else if found.EqualModDisp(m, a.strictSymbols) && inst.Opcode == unrollOpcode &&
					!containsInt64(dispValues, offset) {
					dispValues = append(dispValues, offset)
				}
				break
			}
			if rr == m.IndexReg && baseOrIndex >= 0 {
				offset := m.EffectiveDisp()
				if len(dispValues) == 0 {
					dispValues = append(dispValues, offset)
					unrollOpcode = inst.Opcode
					baseOrIndex = 1
					found = m
					info.MemOp = m
					info.MemOp.UnrollOpcode = unrollOpcode
					fmt.Fprintf(a.out, "seed memory operand: %s\n", a.arch.InstString(inst))
				} else if found.EqualModDisp(m, a.strictSymbols) && inst.Opcode == unrollOpcode &&
					!containsInt64(dispValues, offset) {
					dispValues = append(dispValues, offset)
				}
				break
			}
		}
	}

	if len(dispValues) == 0 {
		return info, false
	}
	sort.Slice(dispValues, func(i, j int) bool { return dispValues[i] < dispValues[j] })
	if len(dispValues) < 2 {
		return info, false
	}
	step := dispValues[1] - dispValues[0]
	for i := 2; i < len(dispValues); i++ {
		if dispValues[i] != dispValues[i-1]+step {
			return info, false
		}
	}
	if step == 0 {
		return info, false
	}
	info.Factor = int64(len(dispValues))
	info.Step = step
	info.Start = dispValues[0]
	return info, true
}

func containsInt64(vs []int64, v int64) bool {
	for _, x := range vs {
		if x == v {
			return true
		}
	}
	return false
}

func containsInt(vs []int, v int) bool {
	for _, x := range vs {
		if x == v {
			return true
		}
	}
	return false
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
