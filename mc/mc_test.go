package mc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegSet(t *testing.T) {
	s := NewRegSet(200)
	require.False(t, s.Has(3))

	s.Set(3)
	s.Set(64)
	s.Set(199)
	require.True(t, s.Has(3))
	require.True(t, s.Has(64))
	require.True(t, s.Has(199))
	require.False(t, s.Has(4))

	s.Unset(64)
	require.False(t, s.Has(64))

	require.Equal(t, []Register{3, 199}, s.Registers())
}

func TestRegSet_Intersects(t *testing.T) {
	a := NewRegSet(128)
	b := NewRegSet(128)
	a.Set(10)
	a.Set(100)
	b.Set(100)
	require.True(t, a.Intersects(b))

	b.Unset(100)
	b.Set(11)
	require.False(t, a.Intersects(b))
}

func TestRegSet_RemoveCommon(t *testing.T) {
	a := NewRegSet(128)
	b := NewRegSet(128)
	a.Set(1)
	a.Set(2)
	b.Set(2)
	b.Set(3)
	a.RemoveCommon(b)
	require.True(t, a.Has(1))
	require.False(t, a.Has(2))
}

func TestRegSet_Or_Clone(t *testing.T) {
	a := NewRegSet(128)
	b := NewRegSet(128)
	a.Set(1)
	b.Set(2)
	a.Or(b)
	require.True(t, a.Has(1))
	require.True(t, a.Has(2))

	c := a.Clone()
	c.Unset(1)
	require.True(t, a.Has(1))
}

func TestInst_Clone(t *testing.T) {
	i := NewInst(5, RegOperand(1), ImmOperand(32))
	c := i.Clone()
	c.Operands[1].Imm = 8
	require.Equal(t, int64(32), i.Operands[1].Imm)
}

func TestInst_ClearAddOperand(t *testing.T) {
	i := NewInst(5, ImmOperand(32))
	imm := i.Operands[0]
	i.Clear()
	require.Equal(t, NilInstruction, i.Opcode)
	require.Zero(t, i.NumOperands())

	i.Opcode = 7
	i.AddOperand(RegOperand(2))
	i.AddOperand(RegOperand(2))
	i.AddOperand(imm)
	require.Equal(t, 3, i.NumOperands())
	require.Equal(t, int64(32), i.Operands[2].Imm)
}

func TestExprKinds(t *testing.T) {
	require.Equal(t, ExprConstant, KindOf(Constant(3)))
	require.Equal(t, ExprSymbolRef, KindOf(SymbolRef("x")))
	require.Equal(t, ExprBinary, KindOf(Binary{LHS: SymbolRef("x"), RHS: Constant(3)}))
	require.Equal(t, ExprConstant, KindOf(nil))
}

func TestSymbolOf(t *testing.T) {
	require.Equal(t, "tbl", SymbolOf(SymbolRef("tbl")))
	require.Equal(t, "tbl", SymbolOf(Binary{LHS: SymbolRef("tbl"), RHS: Constant(8)}))
	require.Equal(t, "", SymbolOf(Constant(8)))
	require.Equal(t, "", SymbolOf(nil))
}
