// Package golangasm lowers rewritten basic blocks back to machine code
// through the golang-asm library, mapping the abstract opcode and register
// constants onto obj.Prog nodes.
package golangasm

import (
	"fmt"

	goasm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/refold/refold/cfg"
	"github.com/refold/refold/mc"
	"github.com/refold/refold/mc/amd64"
)

// Encoder assembles one block at a time; it is not safe for concurrent
// use.
type Encoder struct {
	b *goasm.Builder
}

// NewEncoder returns an encoder backed by a fresh assembly builder.
func NewEncoder() (*Encoder, error) {
	b, err := goasm.NewBuilder("amd64", 1024)
	if err != nil {
		return nil, fmt.Errorf("failed to create an assembly builder: %w", err)
	}
	return &Encoder{b: b}, nil
}

// EncodeBlock assembles the block's instructions. Branches may only
// target the block's own label; anything else is unresolvable here.
func (e *Encoder) EncodeBlock(block *cfg.BasicBlock) ([]byte, error) {
	var first *obj.Prog
	var branches []*obj.Prog
	for i := 0; i < block.Size(); i++ {
		inst := block.At(i)
		p, err := e.lower(inst)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		if first == nil {
			first = p
		}
		if target, ok := targetLabel(inst); ok {
			if target != block.Label {
				return nil, fmt.Errorf("instruction %d: unresolved branch target %q", i, target)
			}
			branches = append(branches, p)
		}
		e.b.AddInstruction(p)
	}
	for _, p := range branches {
		p.To.Type = obj.TYPE_BRANCH
		p.To.SetTarget(first)
	}
	return e.b.Assemble(), nil
}

func targetLabel(inst *mc.Inst) (string, bool) {
	for _, op := range inst.Operands {
		if op.Kind == mc.OperandLabel {
			return op.Label, true
		}
	}
	return "", false
}

// lower translates one decoded instruction to an obj.Prog. The operand
// order is destination first, so golang-asm's From receives the last
// source operand and To the destination.
func (e *Encoder) lower(inst *mc.Inst) (*obj.Prog, error) {
	as, ok := castAsGolangAsmInstruction[inst.Opcode]
	if !ok {
		return nil, fmt.Errorf("no golang-asm lowering for %s", amd64.InstructionName(inst.Opcode))
	}
	p := e.b.NewProg()
	p.As = as

	ops := inst.Operands
	switch {
	case len(ops) == 0:
		// stand-alone
	case len(ops) == 1 && ops[0].Kind == mc.OperandLabel:
		// target assigned by the caller
	case len(ops) == 1 && ops[0].IsImm():
		// accumulator-shorthand add
		setConst(&p.From, ops[0].Imm)
		setReg(&p.To, amd64.REG_RAX)
	case len(ops) == 1 && ops[0].IsReg():
		setReg(&p.To, ops[0].Reg)
	case inst.Opcode == amd64.CMPB || inst.Opcode == amd64.CMPL ||
		inst.Opcode == amd64.CMPQ || inst.Opcode == amd64.TESTL ||
		inst.Opcode == amd64.TESTQ:
		if err := setOperand(&p.From, ops[0]); err != nil {
			return nil, err
		}
		if err := setOperand(&p.To, ops[1]); err != nil {
			return nil, err
		}
	case len(ops) == 2 && ops[0].IsMem():
		// store
		if err := setOperand(&p.From, ops[1]); err != nil {
			return nil, err
		}
		if err := setOperand(&p.To, ops[0]); err != nil {
			return nil, err
		}
	case len(ops) == 2:
		if err := setOperand(&p.From, ops[1]); err != nil {
			return nil, err
		}
		if err := setOperand(&p.To, ops[0]); err != nil {
			return nil, err
		}
	case len(ops) == 3:
		// Two-address form: the middle operand duplicates the
		// destination; golang-asm takes source and destination only.
		if err := setOperand(&p.From, ops[2]); err != nil {
			return nil, err
		}
		if err := setOperand(&p.To, ops[0]); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported operand count %d", len(ops))
	}
	return p, nil
}

func setOperand(a *obj.Addr, op mc.Operand) error {
	switch op.Kind {
	case mc.OperandReg:
		setReg(a, op.Reg)
	case mc.OperandImm:
		setConst(a, op.Imm)
	case mc.OperandMem:
		a.Type = obj.TYPE_MEM
		a.Reg = castAsGolangAsmRegister[op.Mem.BaseReg]
		a.Offset = op.Mem.EffectiveDisp()
		if op.Mem.IndexReg != mc.NilRegister {
			a.Index = castAsGolangAsmRegister[op.Mem.IndexReg]
			a.Scale = int16(op.Mem.Scale)
		}
	default:
		return fmt.Errorf("unsupported operand kind %d", op.Kind)
	}
	return nil
}

func setReg(a *obj.Addr, r mc.Register) {
	a.Type = obj.TYPE_REG
	a.Reg = castAsGolangAsmRegister[r]
}

func setConst(a *obj.Addr, v int64) {
	a.Type = obj.TYPE_CONST
	a.Offset = v
}

var castAsGolangAsmRegister = [...]int16{
	amd64.REG_RAX: x86.REG_AX,
	amd64.REG_RCX: x86.REG_CX,
	amd64.REG_RDX: x86.REG_DX,
	amd64.REG_RBX: x86.REG_BX,
	amd64.REG_RSP: x86.REG_SP,
	amd64.REG_RBP: x86.REG_BP,
	amd64.REG_RSI: x86.REG_SI,
	amd64.REG_RDI: x86.REG_DI,
	amd64.REG_R8:  x86.REG_R8,
	amd64.REG_R9:  x86.REG_R9,
	amd64.REG_R10: x86.REG_R10,
	amd64.REG_R11: x86.REG_R11,
	amd64.REG_R12: x86.REG_R12,
	amd64.REG_R13: x86.REG_R13,
	amd64.REG_R14: x86.REG_R14,
	amd64.REG_R15: x86.REG_R15,

	amd64.REG_EAX:  x86.REG_AX,
	amd64.REG_ECX:  x86.REG_CX,
	amd64.REG_EDX:  x86.REG_DX,
	amd64.REG_EBX:  x86.REG_BX,
	amd64.REG_ESP:  x86.REG_SP,
	amd64.REG_EBP:  x86.REG_BP,
	amd64.REG_ESI:  x86.REG_SI,
	amd64.REG_EDI:  x86.REG_DI,
	amd64.REG_R8D:  x86.REG_R8,
	amd64.REG_R9D:  x86.REG_R9,
	amd64.REG_R10D: x86.REG_R10,
	amd64.REG_R11D: x86.REG_R11,
	amd64.REG_R12D: x86.REG_R12,
	amd64.REG_R13D: x86.REG_R13,
	amd64.REG_R14D: x86.REG_R14,
	amd64.REG_R15D: x86.REG_R15,

	amd64.REG_AX:   x86.REG_AX,
	amd64.REG_CX:   x86.REG_CX,
	amd64.REG_DX:   x86.REG_DX,
	amd64.REG_BX:   x86.REG_BX,
	amd64.REG_SP:   x86.REG_SP,
	amd64.REG_BP:   x86.REG_BP,
	amd64.REG_SI:   x86.REG_SI,
	amd64.REG_DI:   x86.REG_DI,
	amd64.REG_R8W:  x86.REG_R8,
	amd64.REG_R9W:  x86.REG_R9,
	amd64.REG_R10W: x86.REG_R10,
	amd64.REG_R11W: x86.REG_R11,
	amd64.REG_R12W: x86.REG_R12,
	amd64.REG_R13W: x86.REG_R13,
	amd64.REG_R14W: x86.REG_R14,
	amd64.REG_R15W: x86.REG_R15,

	amd64.REG_AL:   x86.REG_AL,
	amd64.REG_CL:   x86.REG_CL,
	amd64.REG_DL:   x86.REG_DL,
	amd64.REG_BL:   x86.REG_BL,
	amd64.REG_SPL:  x86.REG_SPB,
	amd64.REG_BPL:  x86.REG_BPB,
	amd64.REG_SIL:  x86.REG_SIB,
	amd64.REG_DIL:  x86.REG_DIB,
	amd64.REG_R8B:  x86.REG_R8B,
	amd64.REG_R9B:  x86.REG_R9B,
	amd64.REG_R10B: x86.REG_R10B,
	amd64.REG_R11B: x86.REG_R11B,
	amd64.REG_R12B: x86.REG_R12B,
	amd64.REG_R13B: x86.REG_R13B,
	amd64.REG_R14B: x86.REG_R14B,
	amd64.REG_R15B: x86.REG_R15B,

	amd64.REG_AH: x86.REG_AH,
	amd64.REG_CH: x86.REG_CH,
	amd64.REG_DH: x86.REG_DH,
	amd64.REG_BH: x86.REG_BH,

	amd64.REG_X0:  x86.REG_X0,
	amd64.REG_X1:  x86.REG_X1,
	amd64.REG_X2:  x86.REG_X2,
	amd64.REG_X3:  x86.REG_X3,
	amd64.REG_X4:  x86.REG_X4,
	amd64.REG_X5:  x86.REG_X5,
	amd64.REG_X6:  x86.REG_X6,
	amd64.REG_X7:  x86.REG_X7,
	amd64.REG_X8:  x86.REG_X8,
	amd64.REG_X9:  x86.REG_X9,
	amd64.REG_X10: x86.REG_X10,
	amd64.REG_X11: x86.REG_X11,
	amd64.REG_X12: x86.REG_X12,
	amd64.REG_X13: x86.REG_X13,
	amd64.REG_X14: x86.REG_X14,
	amd64.REG_X15: x86.REG_X15,
}

var castAsGolangAsmInstruction = map[mc.Instruction]obj.As{
	amd64.NOP:    obj.ANOP,
	amd64.RET:    obj.ARET,
	amd64.JMP:    obj.AJMP,
	amd64.UD2:    x86.AUD2,
	amd64.MOVB:   x86.AMOVB,
	amd64.MOVW:   x86.AMOVW,
	amd64.MOVL:   x86.AMOVL,
	amd64.MOVQ:   x86.AMOVQ,
	amd64.LEAL:   x86.ALEAL,
	amd64.LEAQ:   x86.ALEAQ,
	amd64.ADDL:   x86.AADDL,
	amd64.ADDQ:   x86.AADDQ,
	amd64.ADDQA:  x86.AADDQ,
	amd64.SUBL:   x86.ASUBL,
	amd64.SUBQ:   x86.ASUBQ,
	amd64.ANDL:   x86.AANDL,
	amd64.ANDQ:   x86.AANDQ,
	amd64.ORL:    x86.AORL,
	amd64.ORQ:    x86.AORQ,
	amd64.XORL:   x86.AXORL,
	amd64.XORQ:   x86.AXORQ,
	amd64.INCQ:   x86.AINCQ,
	amd64.DECQ:   x86.ADECQ,
	amd64.IMULQ:  x86.AIMULQ,
	amd64.SHLQ:   x86.ASHLQ,
	amd64.SHRQ:   x86.ASHRQ,
	amd64.CMPB:   x86.ACMPB,
	amd64.CMPL:   x86.ACMPL,
	amd64.CMPQ:   x86.ACMPQ,
	amd64.TESTL:  x86.ATESTL,
	amd64.TESTQ:  x86.ATESTQ,
	amd64.JEQ:    x86.AJEQ,
	amd64.JNE:    x86.AJNE,
	amd64.JLT:    x86.AJLT,
	amd64.JGE:    x86.AJGE,
	amd64.JGT:    x86.AJGT,
	amd64.JLE:    x86.AJLE,
	amd64.JHI:    x86.AJHI,
	amd64.JLS:    x86.AJLS,
	amd64.JCC:    x86.AJCC,
	amd64.JCS:    x86.AJCS,
	amd64.JMI:    x86.AJMI,
	amd64.JPL:    x86.AJPL,
	amd64.MOVSS:  x86.AMOVSS,
	amd64.MOVSD:  x86.AMOVSD,
	amd64.MOVUPS: x86.AMOVUPS,
	amd64.MOVAPS: x86.AMOVAPS,
	amd64.MOVDQU: x86.AMOVOU,
	amd64.MOVDQA: x86.AMOVO,
	amd64.ADDSS:  x86.AADDSS,
	amd64.ADDSD:  x86.AADDSD,
	amd64.ADDPS:  x86.AADDPS,
	amd64.ADDPD:  x86.AADDPD,
	amd64.SUBSD:  x86.ASUBSD,
	amd64.MULSD:  x86.AMULSD,
	amd64.DIVSD:  x86.ADIVSD,
	amd64.PADDD:  x86.APADDL,
	amd64.PADDQ:  x86.APADDQ,
	amd64.PSUBD:  x86.APSUBL,
	amd64.PXOR:   x86.APXOR,
	amd64.XORPS:  x86.AXORPS,
	amd64.XORPD:  x86.AXORPD,
}
