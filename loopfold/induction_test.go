package loopfold

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/refold/refold/mc"
	"github.com/refold/refold/mc/amd64"
)

func TestFindInductionRegister(t *testing.T) {
	t.Run("base register", func(t *testing.T) {
		l := loopOf(
			ins(amd64.MOVL, reg(amd64.REG_EAX), mem(amd64.REG_RBX, 0)),
			ins(amd64.MOVL, reg(amd64.REG_ECX), mem(amd64.REG_RBX, 8)),
			ins(amd64.ADDQ, reg(amd64.REG_RBX), reg(amd64.REG_RBX), imm(16)),
			ins(amd64.CMPQ, reg(amd64.REG_RBX), reg(amd64.REG_R12)),
			ins(amd64.JNE, lbl("loop")),
		)
		a := newTestAnalyzer(Options{})
		r, ok := a.FindInductionRegister(l)
		require.True(t, ok)
		require.Equal(t, amd64.REG_RBX, r)
	})

	t.Run("index register", func(t *testing.T) {
		l := loopOf(
			ins(amd64.MOVL, reg(amd64.REG_EAX), memIdx(amd64.REG_RBX, amd64.REG_RAX, 4, 0)),
			ins(amd64.MOVL, reg(amd64.REG_ECX), memIdx(amd64.REG_RBX, amd64.REG_RAX, 4, 8)),
			ins(amd64.ADDQ, reg(amd64.REG_RAX), reg(amd64.REG_RAX), imm(8)),
			ins(amd64.CMPQ, reg(amd64.REG_RAX), reg(amd64.REG_R12)),
			ins(amd64.JNE, lbl("loop")),
		)
		a := newTestAnalyzer(Options{})
		r, ok := a.FindInductionRegister(l)
		require.True(t, ok)
		require.Equal(t, amd64.REG_RAX, r)
	})

	t.Run("skips update registers without memory pattern", func(t *testing.T) {
		// RDI is updated last but never indexes memory; the scan falls
		// through to RBX.
		l := loopOf(
			ins(amd64.MOVL, reg(amd64.REG_EAX), mem(amd64.REG_RBX, 0)),
			ins(amd64.MOVL, reg(amd64.REG_ECX), mem(amd64.REG_RBX, 8)),
			ins(amd64.ADDQ, reg(amd64.REG_RBX), reg(amd64.REG_RBX), imm(16)),
			ins(amd64.ADDQ, reg(amd64.REG_RDI), reg(amd64.REG_RDI), imm(1)),
			ins(amd64.CMPQ, reg(amd64.REG_RDI), reg(amd64.REG_R12)),
			ins(amd64.JNE, lbl("loop")),
		)
		a := newTestAnalyzer(Options{})
		r, ok := a.FindInductionRegister(l)
		require.True(t, ok)
		require.Equal(t, amd64.REG_RBX, r)
	})

	t.Run("different opcode at second access", func(t *testing.T) {
		// Same addressing mode but a different opcode is not a repetition.
		l := loopOf(
			ins(amd64.MOVL, reg(amd64.REG_EAX), mem(amd64.REG_RBX, 0)),
			ins(amd64.MOVSD, reg(amd64.REG_X0), reg(amd64.REG_X0), mem(amd64.REG_RBX, 8)),
			ins(amd64.ADDQ, reg(amd64.REG_RBX), reg(amd64.REG_RBX), imm(16)),
			ins(amd64.CMPQ, reg(amd64.REG_RBX), reg(amd64.REG_R12)),
			ins(amd64.JNE, lbl("loop")),
		)
		a := newTestAnalyzer(Options{})
		_, ok := a.FindInductionRegister(l)
		require.False(t, ok)
	})

	t.Run("too small", func(t *testing.T) {
		l := loopOf(ins(amd64.JNE, lbl("loop")))
		a := newTestAnalyzer(Options{})
		_, ok := a.FindInductionRegister(l)
		require.False(t, ok)
	})
}

func TestUnrollFactor(t *testing.T) {
	a := newTestAnalyzer(Options{})

	t.Run("arithmetic progression", func(t *testing.T) {
		l := loopOf(
			ins(amd64.MOVL, reg(amd64.REG_EAX), mem(amd64.REG_RBX, 0)),
			ins(amd64.MOVL, reg(amd64.REG_ECX), mem(amd64.REG_RBX, 8)),
			ins(amd64.MOVL, reg(amd64.REG_EDX), mem(amd64.REG_RBX, 16)),
			ins(amd64.ADDQ, reg(amd64.REG_RBX), reg(amd64.REG_RBX), imm(24)),
			ins(amd64.JNE, lbl("loop")),
		)
		info, ok := a.UnrollFactor(l, amd64.REG_RBX, nil)
		require.True(t, ok)
		require.Equal(t, int64(3), info.Factor)
		require.Equal(t, int64(8), info.Step)
		require.Equal(t, int64(0), info.Start)
		require.Equal(t, amd64.REG_RBX, info.MemOp.BaseReg)
		require.Equal(t, amd64.MOVL, info.MemOp.UnrollOpcode)
	})

	t.Run("duplicate displacements collapse", func(t *testing.T) {
		l := loopOf(
			ins(amd64.MOVL, reg(amd64.REG_EAX), mem(amd64.REG_RBX, 0)),
			ins(amd64.MOVL, reg(amd64.REG_ECX), mem(amd64.REG_RBX, 8)),
			ins(amd64.MOVL, reg(amd64.REG_EDX), mem(amd64.REG_RBX, 8)),
			ins(amd64.ADDQ, reg(amd64.REG_RBX), reg(amd64.REG_RBX), imm(16)),
			ins(amd64.JNE, lbl("loop")),
		)
		info, ok := a.UnrollFactor(l, amd64.REG_RBX, nil)
		require.True(t, ok)
		require.Equal(t, int64(2), info.Factor)
	})

	t.Run("single displacement fails", func(t *testing.T) {
		l := loopOf(
			ins(amd64.MOVL, reg(amd64.REG_EAX), mem(amd64.REG_RBX, 0)),
			ins(amd64.ADDQ, reg(amd64.REG_RBX), reg(amd64.REG_RBX), imm(8)),
			ins(amd64.JNE, lbl("loop")),
		)
		_, ok := a.UnrollFactor(l, amd64.REG_RBX, nil)
		require.False(t, ok)
	})

	t.Run("not a progression fails", func(t *testing.T) {
		l := loopOf(
			ins(amd64.MOVL, reg(amd64.REG_EAX), mem(amd64.REG_RBX, 0)),
			ins(amd64.MOVL, reg(amd64.REG_ECX), mem(amd64.REG_RBX, 8)),
			ins(amd64.MOVL, reg(amd64.REG_EDX), mem(amd64.REG_RBX, 24)),
			ins(amd64.ADDQ, reg(amd64.REG_RBX), reg(amd64.REG_RBX), imm(32)),
			ins(amd64.JNE, lbl("loop")),
		)
		_, ok := a.UnrollFactor(l, amd64.REG_RBX, nil)
		require.False(t, ok)
	})

	t.Run("exclude moves to the next pattern", func(t *testing.T) {
		l := loopOf(
			ins(amd64.MOVL, reg(amd64.REG_EAX), mem(amd64.REG_RBX, 0)),
			ins(amd64.MOVL, reg(amd64.REG_ECX), mem(amd64.REG_RBX, 8)),
			ins(amd64.MOVSD, reg(amd64.REG_X0), reg(amd64.REG_X0), mem(amd64.REG_RBX, 0)),
			ins(amd64.MOVSD, reg(amd64.REG_X1), reg(amd64.REG_X1), mem(amd64.REG_RBX, 16)),
			ins(amd64.ADDQ, reg(amd64.REG_RBX), reg(amd64.REG_RBX), imm(32)),
			ins(amd64.JNE, lbl("loop")),
		)
		first, ok := a.UnrollFactor(l, amd64.REG_RBX, nil)
		require.True(t, ok)
		require.Equal(t, amd64.MOVL, first.MemOp.UnrollOpcode)
		require.Equal(t, int64(8), first.Step)

		second, ok := a.UnrollFactor(l, amd64.REG_RBX, []mc.MemoryOperand{first.MemOp})
		require.True(t, ok)
		require.Equal(t, amd64.MOVSD, second.MemOp.UnrollOpcode)
		require.Equal(t, int64(16), second.Step)

		_, ok = a.UnrollFactor(l, amd64.REG_RBX, []mc.MemoryOperand{first.MemOp, second.MemOp})
		require.False(t, ok)
	})

	t.Run("symbolic displacement contributes its constant", func(t *testing.T) {
		l := loopOf(
			ins(amd64.MOVL, reg(amd64.REG_EAX), mc.MemOperand(mc.MemoryOperand{
				BaseReg: amd64.REG_RBX, Scale: 1, Disp: 4,
				DispExpr: mc.Binary{LHS: mc.SymbolRef("tbl"), RHS: mc.Constant(4)},
			})),
			ins(amd64.MOVL, reg(amd64.REG_ECX), mc.MemOperand(mc.MemoryOperand{
				BaseReg: amd64.REG_RBX, Scale: 1, Disp: 8,
				DispExpr: mc.Binary{LHS: mc.SymbolRef("tbl"), RHS: mc.Constant(8)},
			})),
			ins(amd64.ADDQ, reg(amd64.REG_RBX), reg(amd64.REG_RBX), imm(16)),
			ins(amd64.JNE, lbl("loop")),
		)
		info, ok := a.UnrollFactor(l, amd64.REG_RBX, nil)
		require.True(t, ok)
		require.Equal(t, int64(8), info.Step)
		require.Equal(t, int64(8), info.Start)
	})
}
