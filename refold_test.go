package refold

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/refold/refold/cfg"
	"github.com/refold/refold/loopunroll"
	"github.com/refold/refold/mc"
	"github.com/refold/refold/mc/amd64"
)

func unrolledFunction() *cfg.Function {
	body := cfg.NewBasicBlock("loop",
		mc.NewInst(amd64.MOVL, mc.RegOperand(amd64.REG_EAX), mc.MemOperand(mc.MemoryOperand{BaseReg: amd64.REG_RBX, Scale: 1, Disp: 0})),
		mc.NewInst(amd64.MOVL, mc.RegOperand(amd64.REG_ECX), mc.MemOperand(mc.MemoryOperand{BaseReg: amd64.REG_RBX, Scale: 1, Disp: 8})),
		mc.NewInst(amd64.MOVL, mc.RegOperand(amd64.REG_EDX), mc.MemOperand(mc.MemoryOperand{BaseReg: amd64.REG_RBX, Scale: 1, Disp: 16})),
		mc.NewInst(amd64.MOVL, mc.RegOperand(amd64.REG_ESI), mc.MemOperand(mc.MemoryOperand{BaseReg: amd64.REG_RBX, Scale: 1, Disp: 24})),
		mc.NewInst(amd64.ADDQ, mc.RegOperand(amd64.REG_RBX), mc.RegOperand(amd64.REG_RBX), mc.ImmOperand(32)),
		mc.NewInst(amd64.CMPQ, mc.RegOperand(amd64.REG_RBX), mc.RegOperand(amd64.REG_R12)),
		mc.NewInst(amd64.JNE, mc.LabelOperand("loop")),
	)
	return cfg.NewFunction("sum", cfg.NewBasicBlock("entry"), body)
}

func TestOptimizer_FoldPass(t *testing.T) {
	var out bytes.Buffer
	f := unrolledFunction()
	program := &cfg.Program{Functions: []*cfg.Function{f}}

	opt := NewOptimizer(NewConfig().WithLoopFold(true).WithOutput(&out))
	report := opt.RunOnProgram(program)

	require.Equal(t, 1, report.FoldedLoops)
	require.Len(t, report.Loops, 1)
	record := report.Loops[0]
	require.True(t, record.Folded)
	require.Equal(t, "sum", record.Function)
	require.Equal(t, "loop", record.Label)
	require.Equal(t, int64(4), record.Factor)
	require.Equal(t, int64(8), record.Step)
	require.Len(t, record.Instructions, 4)
	require.Contains(t, out.String(), "folded loop loop in sum (factor 4)")

	body := f.BlockByLabel("loop")
	require.Equal(t, 4, body.Size())
	require.Equal(t, int64(8), body.At(1).Operands[2].Imm)
}

func TestOptimizer_DisabledPassesLeaveLoopsAlone(t *testing.T) {
	f := unrolledFunction()
	program := &cfg.Program{Functions: []*cfg.Function{f}}

	report := NewOptimizer(NewConfig()).RunOnProgram(program)
	require.Zero(t, report.FoldedLoops)
	require.Zero(t, report.UnrolledLoops)
	require.Equal(t, 7, f.BlockByLabel("loop").Size())
	// Loops are still reported for serialization.
	require.Len(t, report.Loops, 1)
	require.False(t, report.Loops[0].Folded)
}

func TestOptimizer_PrintLoopInstructions(t *testing.T) {
	var out bytes.Buffer
	program := &cfg.Program{Functions: []*cfg.Function{unrolledFunction()}}
	NewOptimizer(NewConfig().WithPrintLoopInstructions(true).WithOutput(&out)).RunOnProgram(program)

	require.Contains(t, out.String(), "loop loop in sum:")
	require.Contains(t, out.String(), "MOVL EAX, [RBX + 0x0]")
	require.Contains(t, out.String(), "JNE loop")
}

func TestOptimizer_UnrollPassDefaultFactor(t *testing.T) {
	body := cfg.NewBasicBlock("loop",
		mc.NewInst(amd64.MOVL, mc.RegOperand(amd64.REG_EAX), mc.MemOperand(mc.MemoryOperand{BaseReg: amd64.REG_RBX, Scale: 1, Disp: 0})),
		mc.NewInst(amd64.ADDQ, mc.RegOperand(amd64.REG_RBX), mc.RegOperand(amd64.REG_RBX), mc.ImmOperand(4)),
		mc.NewInst(amd64.CMPQ, mc.RegOperand(amd64.REG_RBX), mc.RegOperand(amd64.REG_R12)),
		mc.NewInst(amd64.JNE, mc.LabelOperand("loop")),
	)
	f := cfg.NewFunction("walk", body)
	program := &cfg.Program{Functions: []*cfg.Function{f}}

	var out bytes.Buffer
	config := NewConfig().
		WithLoopUnroll(true).
		WithPrintProfilerLoop(true).
		WithOutput(&out)
	report := NewOptimizer(config).RunOnProgram(program)

	require.Equal(t, 1, report.UnrolledLoops)
	require.True(t, report.Loops[0].Unrolled)
	// Factor two: the body doubled minus the shared tail.
	require.Equal(t, 5, body.Size())
	require.True(t, strings.Contains(out.String(), "unrolled loop loop in walk (factor 2)"))
}

func TestOptimizer_ProfileThresholdsGateUnrolling(t *testing.T) {
	body := cfg.NewBasicBlock("loop",
		mc.NewInst(amd64.MOVL, mc.RegOperand(amd64.REG_EAX), mc.MemOperand(mc.MemoryOperand{BaseReg: amd64.REG_RBX, Scale: 1, Disp: 0})),
		mc.NewInst(amd64.ADDQ, mc.RegOperand(amd64.REG_RBX), mc.RegOperand(amd64.REG_RBX), mc.ImmOperand(4)),
		mc.NewInst(amd64.CMPQ, mc.RegOperand(amd64.REG_RBX), mc.RegOperand(amd64.REG_R12)),
		mc.NewInst(amd64.JNE, mc.LabelOperand("loop")),
	)
	f := cfg.NewFunction("cold", body)
	program := &cfg.Program{Functions: []*cfg.Function{f}}

	// A cold loop under a profile with much hotter entries stays rolled.
	profile := &loopunroll.Profile{Counts: []uint64{1, 10, 1000, 100000, 10000000, 1000000000}}
	config := NewConfig().WithLoopUnroll(true).WithProfile(profile)
	report := NewOptimizer(config).RunOnProgram(program)

	require.Zero(t, report.UnrolledLoops)
	require.Equal(t, 4, body.Size())
}
