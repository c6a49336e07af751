// Package amd64 implements the mc.Arch services for x86-64: register
// aliasing, per-instruction register effects, the memory-operand evaluator
// and the displacement arithmetic helper.
//
// Operand conventions for decoded instructions:
//   - loads:             [dstReg, mem]
//   - stores:            [mem, srcReg]
//   - reg-reg moves:     [dstReg, srcReg]
//   - integer ALU imm:   [dstReg, srcReg, imm]   (two-address, dst == src)
//   - accumulator add:   [imm]                   (ADDQA)
//   - three-operand ALU: [dstReg, src1, src2/mem]
//   - inc/dec/shifts:    [dstReg] or [dstReg, imm]
//   - compares:          [a, b] with reg/imm/mem on either side
//   - branches:          [label]
package amd64

import (
	"fmt"
	"strings"

	"github.com/refold/refold/mc"
)

type arch struct{}

// NewArch returns the x86-64 implementation of mc.Arch.
func NewArch() mc.Arch { return arch{} }

// NumRegs implements mc.Arch.NumRegs.
func (arch) NumRegs() int { return NumRegs }

type gprClass struct {
	family int
	width  int
	high   bool
}

func classifyGPR(r mc.Register) (gprClass, bool) {
	switch {
	case r >= REG_RAX && r <= REG_R15:
		return gprClass{int(r - REG_RAX), 64, false}, true
	case r >= REG_EAX && r <= REG_R15D:
		return gprClass{int(r - REG_EAX), 32, false}, true
	case r >= REG_AX && r <= REG_R15W:
		return gprClass{int(r - REG_AX), 16, false}, true
	case r >= REG_AL && r <= REG_R15B:
		return gprClass{int(r - REG_AL), 8, false}, true
	case r >= REG_AH && r <= REG_BH:
		return gprClass{int(r - REG_AH), 8, true}, true
	}
	return gprClass{}, false
}

func gprAt(family, width int, high bool) mc.Register {
	if high {
		return REG_AH + mc.Register(family)
	}
	switch width {
	case 64:
		return REG_RAX + mc.Register(family)
	case 32:
		return REG_EAX + mc.Register(family)
	case 16:
		return REG_AX + mc.Register(family)
	default:
		return REG_AL + mc.Register(family)
	}
}

// overlaps reports whether two registers of the same family share bits.
// The low and high byte registers are the only disjoint pair.
func overlaps(a, b gprClass) bool {
	if a.family != b.family {
		return false
	}
	return !(a.width == 8 && b.width == 8 && a.high != b.high)
}

// Aliases implements mc.Arch.Aliases.
func (a arch) Aliases(r mc.Register, onlySmaller bool) mc.RegSet {
	s := mc.NewRegSet(NumRegs)
	g, ok := classifyGPR(r)
	if !ok {
		// SSE, segment, RIP and EFLAGS registers alias only themselves.
		if r != mc.NilRegister {
			s.Set(r)
		}
		return s
	}
	for _, width := range []int{64, 32, 16, 8} {
		cand := gprClass{g.family, width, false}
		if overlaps(g, cand) && (!onlySmaller || width <= g.width) {
			s.Set(gprAt(g.family, width, false))
		}
	}
	if g.family < 4 {
		cand := gprClass{g.family, 8, true}
		if overlaps(g, cand) && (!onlySmaller || 8 <= g.width) {
			s.Set(gprAt(g.family, 8, true))
		}
	}
	return s
}

func isIntALU(op mc.Instruction) bool {
	switch op {
	case ADDL, ADDQ, ADDQA, SUBL, SUBQ, ANDL, ANDQ, ORL, ORQ, XORL, XORQ,
		INCQ, DECQ, IMULQ, SHLQ, SHRQ:
		return true
	}
	return false
}

func isSingleOperandRMW(op mc.Instruction) bool {
	switch op {
	case INCQ, DECQ, SHLQ, SHRQ:
		return true
	}
	return false
}

// WrittenRegs implements mc.Arch.WrittenRegs.
func (a arch) WrittenRegs(i *mc.Inst) mc.RegSet {
	s := mc.NewRegSet(NumRegs)
	switch {
	case a.IsBranch(i):
		return s
	case a.IsCompare(i):
		s.Set(REG_EFLAGS)
		return s
	}
	if i.Opcode == ADDQA {
		s.Or(a.Aliases(REG_RAX, false))
		s.Set(REG_EFLAGS)
		return s
	}
	if len(i.Operands) > 0 && i.Operands[0].IsReg() {
		s.Or(a.Aliases(i.Operands[0].Reg, false))
	}
	if isIntALU(i.Opcode) {
		s.Set(REG_EFLAGS)
	}
	return s
}

// SrcRegs implements mc.Arch.SrcRegs.
func (a arch) SrcRegs(i *mc.Inst) mc.RegSet {
	s := mc.NewRegSet(NumRegs)
	switch {
	case a.IsCondBranch(i):
		s.Set(REG_EFLAGS)
		return s
	case i.Opcode == JMP:
		return s
	case i.Opcode == ADDQA:
		s.Set(REG_RAX)
		return s
	}
	// Operand 0 is normally the destination; it is read as well only by
	// compares, stores and the single-operand read-modify-write forms.
	firstRead := 1
	if a.IsCompare(i) || isSingleOperandRMW(i.Opcode) ||
		(len(i.Operands) > 0 && i.Operands[0].IsMem()) {
		firstRead = 0
	}
	for idx, op := range i.Operands {
		switch {
		case op.IsMem():
			if op.Mem.BaseReg != mc.NilRegister {
				s.Set(op.Mem.BaseReg)
			}
			if op.Mem.IndexReg != mc.NilRegister {
				s.Set(op.Mem.IndexReg)
			}
			if op.Mem.SegReg != mc.NilRegister {
				s.Set(op.Mem.SegReg)
			}
		case op.IsReg() && idx >= firstRead:
			s.Set(op.Reg)
		}
	}
	return s
}

// IsBranch implements mc.Arch.IsBranch.
func (a arch) IsBranch(i *mc.Inst) bool {
	return i.Opcode == JMP || a.IsCondBranch(i)
}

// IsCondBranch implements mc.Arch.IsCondBranch.
func (arch) IsCondBranch(i *mc.Inst) bool {
	switch i.Opcode {
	case JEQ, JNE, JLT, JGE, JGT, JLE, JHI, JLS, JCC, JCS, JMI, JPL:
		return true
	}
	return false
}

// IsCompare implements mc.Arch.IsCompare.
func (arch) IsCompare(i *mc.Inst) bool {
	switch i.Opcode {
	case CMPB, CMPL, CMPQ, TESTL, TESTQ:
		return true
	}
	return false
}

// IsAddImm implements mc.Arch.IsAddImm.
func (arch) IsAddImm(i *mc.Inst) bool {
	switch i.Opcode {
	case ADDQA:
		return len(i.Operands) == 1 && i.Operands[0].IsImm()
	case ADDL, ADDQ:
		return len(i.Operands) == 3 && i.Operands[2].IsImm()
	}
	return false
}

// IsSubImm implements mc.Arch.IsSubImm.
func (arch) IsSubImm(i *mc.Inst) bool {
	switch i.Opcode {
	case SUBL, SUBQ:
		return len(i.Operands) == 3 && i.Operands[2].IsImm()
	}
	return false
}

// TargetLabel implements mc.Arch.TargetLabel.
func (arch) TargetLabel(i *mc.Inst) (string, bool) {
	for _, op := range i.Operands {
		if op.Kind == mc.OperandLabel {
			return op.Label, true
		}
	}
	return "", false
}

// EvaluateMemoryOperand implements mc.Arch.EvaluateMemoryOperand.
func (arch) EvaluateMemoryOperand(i *mc.Inst) (mc.MemoryOperand, bool) {
	for _, op := range i.Operands {
		if op.IsMem() {
			return op.Mem, true
		}
	}
	return mc.MemoryOperand{}, false
}

// AddToDisp implements mc.Arch.AddToDisp.
func (arch) AddToDisp(i *mc.Inst, delta int64) bool {
	for idx := range i.Operands {
		if !i.Operands[idx].IsMem() {
			continue
		}
		m := &i.Operands[idx].Mem
		switch e := m.DispExpr.(type) {
		case nil:
			m.Disp += delta
		case mc.Constant:
			m.Disp += delta
		case mc.SymbolRef:
			m.DispExpr = mc.Binary{LHS: e, RHS: mc.Constant(delta)}
		case mc.Binary:
			if c, ok := e.RHS.(mc.Constant); ok {
				e.RHS = mc.Constant(int64(c) + delta)
				m.DispExpr = e
			} else {
				m.Disp += delta
			}
		}
		return true
	}
	return false
}

// NormalizeUpdateInst implements mc.Arch.NormalizeUpdateInst.
func (arch) NormalizeUpdateInst(i *mc.Inst) {
	if i.Opcode != ADDQA || len(i.Operands) != 1 {
		return
	}
	imm := i.Operands[0]
	i.Clear()
	i.Opcode = ADDQ
	i.AddOperand(mc.RegOperand(REG_RAX))
	i.AddOperand(mc.RegOperand(REG_RAX))
	i.AddOperand(imm)
}

// IsZeroIdiom implements mc.Arch.IsZeroIdiom.
func (arch) IsZeroIdiom(i *mc.Inst) bool {
	if i.Opcode != XORPS || len(i.Operands) != 3 {
		return false
	}
	return i.Operands[1].IsReg() && i.Operands[2].IsReg() &&
		i.Operands[1].Reg == i.Operands[2].Reg
}

// IsRegCopy implements mc.Arch.IsRegCopy.
func (arch) IsRegCopy(i *mc.Inst) bool {
	switch i.Opcode {
	case MOVB, MOVW, MOVL, MOVQ:
		return len(i.Operands) == 2 && i.Operands[0].IsReg() && i.Operands[1].IsReg()
	}
	return false
}

// IsRegZeroing implements mc.Arch.IsRegZeroing.
func (arch) IsRegZeroing(i *mc.Inst) bool {
	switch i.Opcode {
	case XORL, XORQ:
		return len(i.Operands) == 3 && i.Operands[1].IsReg() && i.Operands[2].IsReg() &&
			i.Operands[1].Reg == i.Operands[2].Reg
	}
	return false
}

// IsSwapCheckOpcode implements mc.Arch.IsSwapCheckOpcode.
func (arch) IsSwapCheckOpcode(op mc.Instruction) bool {
	switch op {
	case PADDD, PADDQ, ADDSD, ADDPD:
		return true
	}
	return false
}

// RegisterName implements mc.Arch.RegisterName.
func (arch) RegisterName(r mc.Register) string { return RegisterName(r) }

// InstructionName implements mc.Arch.InstructionName.
func (arch) InstructionName(op mc.Instruction) string { return InstructionName(op) }

// InstString implements mc.Arch.InstString.
//
// The format is close to AT&T syntax with memory locations embraced by
// '[]', e.g. "MOVL [RBX + 0x8], EAX".
func (a arch) InstString(i *mc.Inst) string {
	var sb strings.Builder
	sb.WriteString(InstructionName(i.Opcode))
	for idx, op := range i.Operands {
		if idx == 0 {
			sb.WriteByte(' ')
		} else {
			sb.WriteString(", ")
		}
		switch op.Kind {
		case mc.OperandReg:
			sb.WriteString(RegisterName(op.Reg))
		case mc.OperandImm:
			fmt.Fprintf(&sb, "0x%x", op.Imm)
		case mc.OperandLabel:
			sb.WriteString(op.Label)
		case mc.OperandMem:
			sb.WriteString(formatMem(op.Mem))
		}
	}
	return sb.String()
}

func formatMem(m mc.MemoryOperand) string {
	var sb strings.Builder
	sb.WriteByte('[')
	sb.WriteString(RegisterName(m.BaseReg))
	if sym := mc.SymbolOf(m.DispExpr); sym != "" {
		sb.WriteString(" + ")
		sb.WriteString(sym)
	}
	fmt.Fprintf(&sb, " + 0x%x", m.EffectiveDisp())
	if m.IndexReg != mc.NilRegister {
		fmt.Fprintf(&sb, " + %s*0x%x", RegisterName(m.IndexReg), m.Scale)
	}
	sb.WriteByte(']')
	return sb.String()
}
