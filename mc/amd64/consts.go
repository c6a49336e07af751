package amd64

import "github.com/refold/refold/mc"

// AMD64 instructions used by the loop analyses.
// https://www.felixcloutier.com/x86/index.html
//
// Note: we do not define all of amd64 here, only the opcodes the rewriter
// and its tests need to recognize. Naming follows the Go assembler:
// https://go.dev/doc/asm
const (
	NONE mc.Instruction = iota
	NOP
	RET
	UD2
	MOVB
	MOVW
	MOVL
	MOVQ
	LEAL
	LEAQ
	ADDL
	ADDQ
	// ADDQA is the imm32-to-RAX shorthand encoding of ADDQ. It carries a
	// single immediate operand; NormalizeUpdateInst rewrites it into the
	// canonical three-operand ADDQ on RAX.
	ADDQA
	SUBL
	SUBQ
	ANDL
	ANDQ
	ORL
	ORQ
	XORL
	XORQ
	INCQ
	DECQ
	IMULQ
	SHLQ
	SHRQ
	CMPB
	CMPL
	CMPQ
	TESTL
	TESTQ
	JMP
	JEQ
	JNE
	JLT
	JGE
	JGT
	JLE
	JHI
	JLS
	JCC
	JCS
	JMI
	JPL
	MOVSS
	MOVSD
	MOVUPS
	MOVAPS
	MOVDQU
	MOVDQA
	ADDSS
	ADDSD
	ADDPS
	ADDPD
	SUBSD
	MULSD
	DIVSD
	PADDD
	PADDQ
	PSUBD
	PXOR
	XORPS
	XORPD

	instructionEnd
)

// AMD64 registers. Each general-purpose family appears at every access
// width so that register aliasing can be modeled the way the analyses
// need it (writing EAX clobbers RAX, and so on).
const (
	// 64-bit general-purpose registers.
	REG_RAX mc.Register = mc.NilRegister + 1 + iota
	REG_RCX
	REG_RDX
	REG_RBX
	REG_RSP
	REG_RBP
	REG_RSI
	REG_RDI
	REG_R8
	REG_R9
	REG_R10
	REG_R11
	REG_R12
	REG_R13
	REG_R14
	REG_R15

	// 32-bit aliases.
	REG_EAX
	REG_ECX
	REG_EDX
	REG_EBX
	REG_ESP
	REG_EBP
	REG_ESI
	REG_EDI
	REG_R8D
	REG_R9D
	REG_R10D
	REG_R11D
	REG_R12D
	REG_R13D
	REG_R14D
	REG_R15D

	// 16-bit aliases.
	REG_AX
	REG_CX
	REG_DX
	REG_BX
	REG_SP
	REG_BP
	REG_SI
	REG_DI
	REG_R8W
	REG_R9W
	REG_R10W
	REG_R11W
	REG_R12W
	REG_R13W
	REG_R14W
	REG_R15W

	// 8-bit low aliases.
	REG_AL
	REG_CL
	REG_DL
	REG_BL
	REG_SPL
	REG_BPL
	REG_SIL
	REG_DIL
	REG_R8B
	REG_R9B
	REG_R10B
	REG_R11B
	REG_R12B
	REG_R13B
	REG_R14B
	REG_R15B

	// 8-bit high aliases of the first four families.
	REG_AH
	REG_CH
	REG_DH
	REG_BH

	// SSE registers.
	REG_X0
	REG_X1
	REG_X2
	REG_X3
	REG_X4
	REG_X5
	REG_X6
	REG_X7
	REG_X8
	REG_X9
	REG_X10
	REG_X11
	REG_X12
	REG_X13
	REG_X14
	REG_X15

	// Segment registers.
	REG_ES
	REG_CS
	REG_SS
	REG_DS
	REG_FS
	REG_GS

	REG_RIP
	REG_EFLAGS

	registerEnd
)

// NumRegs is the width of all register bitsets for this architecture.
const NumRegs = int(registerEnd)

var instructionNames = [...]string{
	NONE:   "NONE",
	NOP:    "NOP",
	RET:    "RET",
	UD2:    "UD2",
	MOVB:   "MOVB",
	MOVW:   "MOVW",
	MOVL:   "MOVL",
	MOVQ:   "MOVQ",
	LEAL:   "LEAL",
	LEAQ:   "LEAQ",
	ADDL:   "ADDL",
	ADDQ:   "ADDQ",
	ADDQA:  "ADDQA",
	SUBL:   "SUBL",
	SUBQ:   "SUBQ",
	ANDL:   "ANDL",
	ANDQ:   "ANDQ",
	ORL:    "ORL",
	ORQ:    "ORQ",
	XORL:   "XORL",
	XORQ:   "XORQ",
	INCQ:   "INCQ",
	DECQ:   "DECQ",
	IMULQ:  "IMULQ",
	SHLQ:   "SHLQ",
	SHRQ:   "SHRQ",
	CMPB:   "CMPB",
	CMPL:   "CMPL",
	CMPQ:   "CMPQ",
	TESTL:  "TESTL",
	TESTQ:  "TESTQ",
	JMP:    "JMP",
	JEQ:    "JEQ",
	JNE:    "JNE",
	JLT:    "JLT",
	JGE:    "JGE",
	JGT:    "JGT",
	JLE:    "JLE",
	JHI:    "JHI",
	JLS:    "JLS",
	JCC:    "JCC",
	JCS:    "JCS",
	JMI:    "JMI",
	JPL:    "JPL",
	MOVSS:  "MOVSS",
	MOVSD:  "MOVSD",
	MOVUPS: "MOVUPS",
	MOVAPS: "MOVAPS",
	MOVDQU: "MOVDQU",
	MOVDQA: "MOVDQA",
	ADDSS:  "ADDSS",
	ADDSD:  "ADDSD",
	ADDPS:  "ADDPS",
	ADDPD:  "ADDPD",
	SUBSD:  "SUBSD",
	MULSD:  "MULSD",
	DIVSD:  "DIVSD",
	PADDD:  "PADDD",
	PADDQ:  "PADDQ",
	PSUBD:  "PSUBD",
	PXOR:   "PXOR",
	XORPS:  "XORPS",
	XORPD:  "XORPD",
}

var registerNames = [...]string{
	REG_RAX: "RAX", REG_RCX: "RCX", REG_RDX: "RDX", REG_RBX: "RBX",
	REG_RSP: "RSP", REG_RBP: "RBP", REG_RSI: "RSI", REG_RDI: "RDI",
	REG_R8: "R8", REG_R9: "R9", REG_R10: "R10", REG_R11: "R11",
	REG_R12: "R12", REG_R13: "R13", REG_R14: "R14", REG_R15: "R15",
	REG_EAX: "EAX", REG_ECX: "ECX", REG_EDX: "EDX", REG_EBX: "EBX",
	REG_ESP: "ESP", REG_EBP: "EBP", REG_ESI: "ESI", REG_EDI: "EDI",
	REG_R8D: "R8D", REG_R9D: "R9D", REG_R10D: "R10D", REG_R11D: "R11D",
	REG_R12D: "R12D", REG_R13D: "R13D", REG_R14D: "R14D", REG_R15D: "R15D",
	REG_AX: "AX", REG_CX: "CX", REG_DX: "DX", REG_BX: "BX",
	REG_SP: "SP", REG_BP: "BP", REG_SI: "SI", REG_DI: "DI",
	REG_R8W: "R8W", REG_R9W: "R9W", REG_R10W: "R10W", REG_R11W: "R11W",
	REG_R12W: "R12W", REG_R13W: "R13W", REG_R14W: "R14W", REG_R15W: "R15W",
	REG_AL: "AL", REG_CL: "CL", REG_DL: "DL", REG_BL: "BL",
	REG_SPL: "SPL", REG_BPL: "BPL", REG_SIL: "SIL", REG_DIL: "DIL",
	REG_R8B: "R8B", REG_R9B: "R9B", REG_R10B: "R10B", REG_R11B: "R11B",
	REG_R12B: "R12B", REG_R13B: "R13B", REG_R14B: "R14B", REG_R15B: "R15B",
	REG_AH: "AH", REG_CH: "CH", REG_DH: "DH", REG_BH: "BH",
	REG_X0: "X0", REG_X1: "X1", REG_X2: "X2", REG_X3: "X3",
	REG_X4: "X4", REG_X5: "X5", REG_X6: "X6", REG_X7: "X7",
	REG_X8: "X8", REG_X9: "X9", REG_X10: "X10", REG_X11: "X11",
	REG_X12: "X12", REG_X13: "X13", REG_X14: "X14", REG_X15: "X15",
	REG_ES: "ES", REG_CS: "CS", REG_SS: "SS", REG_DS: "DS",
	REG_FS: "FS", REG_GS: "GS",
	REG_RIP: "RIP", REG_EFLAGS: "EFLAGS",
}

// InstructionName returns the mnemonic of op.
func InstructionName(op mc.Instruction) string {
	if int(op) < len(instructionNames) && instructionNames[op] != "" {
		return instructionNames[op]
	}
	return "UNKNOWN"
}

// RegisterName returns the assembler name of r.
func RegisterName(r mc.Register) string {
	if int(r) < len(registerNames) && registerNames[r] != "" {
		return registerNames[r]
	}
	return "nil"
}

var (
	instructionsByName map[string]mc.Instruction
	registersByName    map[string]mc.Register
)

func init() {
	instructionsByName = make(map[string]mc.Instruction, len(instructionNames))
	for op, name := range instructionNames {
		if name != "" {
			instructionsByName[name] = mc.Instruction(op)
		}
	}
	registersByName = make(map[string]mc.Register, len(registerNames))
	for r, name := range registerNames {
		if name != "" {
			registersByName[name] = mc.Register(r)
		}
	}
}

// InstructionByName returns the opcode with the given mnemonic.
func InstructionByName(name string) (mc.Instruction, bool) {
	op, ok := instructionsByName[name]
	return op, ok
}

// RegisterByName returns the register with the given assembler name.
func RegisterByName(name string) (mc.Register, bool) {
	r, ok := registersByName[name]
	return r, ok
}
