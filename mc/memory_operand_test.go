package mc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryOperand_EffectiveDisp(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   MemoryOperand
		exp  int64
	}{
		{name: "plain", in: MemoryOperand{Disp: 16}, exp: 16},
		{name: "constant expr ignored", in: MemoryOperand{Disp: 16, DispExpr: Constant(4)}, exp: 16},
		{
			name: "binary constant folded",
			in:   MemoryOperand{Disp: 16, DispExpr: Binary{LHS: SymbolRef("tbl"), RHS: Constant(8)}},
			exp:  24,
		},
		{
			name: "binary without constant",
			in:   MemoryOperand{Disp: 16, DispExpr: Binary{LHS: SymbolRef("tbl"), RHS: SymbolRef("x")}},
			exp:  16,
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.exp, tc.in.EffectiveDisp())
		})
	}
}

func TestMemoryOperand_EqualModDisp(t *testing.T) {
	base := MemoryOperand{BaseReg: 3, Scale: 1, IndexReg: 0, SegReg: 0, Disp: 0}

	t.Run("same mode different displacement", func(t *testing.T) {
		other := base
		other.Disp = 64
		require.True(t, base.EqualModDisp(other, false))
		require.True(t, base.EqualModDisp(other, true))
	})

	t.Run("different base", func(t *testing.T) {
		other := base
		other.BaseReg = 4
		require.False(t, base.EqualModDisp(other, false))
	})

	t.Run("different scale", func(t *testing.T) {
		other := base
		other.Scale = 4
		require.False(t, base.EqualModDisp(other, false))
	})

	t.Run("different index", func(t *testing.T) {
		other := base
		other.IndexReg = 7
		require.False(t, base.EqualModDisp(other, false))
	})

	t.Run("different segment", func(t *testing.T) {
		other := base
		other.SegReg = 9
		require.False(t, base.EqualModDisp(other, false))
	})

	t.Run("same symbol", func(t *testing.T) {
		a, b := base, base
		a.DispExpr = Binary{LHS: SymbolRef("tbl"), RHS: Constant(0)}
		b.DispExpr = Binary{LHS: SymbolRef("tbl"), RHS: Constant(8)}
		require.True(t, a.EqualModDisp(b, false))
		require.True(t, a.EqualModDisp(b, true))
	})

	// Two displacements that share a numeric offset but reference distinct
	// globals only differ in the symbol; the historical comparison reads
	// both names from the first operand and cannot see that.
	t.Run("distinct symbols", func(t *testing.T) {
		a, b := base, base
		a.DispExpr = Binary{LHS: SymbolRef("tbl_a"), RHS: Constant(0)}
		b.DispExpr = Binary{LHS: SymbolRef("tbl_b"), RHS: Constant(0)}
		require.True(t, a.EqualModDisp(b, false))
		require.False(t, a.EqualModDisp(b, true))
	})

	t.Run("symbol missing on one side", func(t *testing.T) {
		a, b := base, base
		a.DispExpr = Binary{LHS: SymbolRef("tbl"), RHS: Constant(0)}
		require.True(t, a.EqualModDisp(b, false))
		require.False(t, a.EqualModDisp(b, true))
		// The historical comparison reads both names from the first
		// operand, so it also reports equal when only the second operand
		// carries the symbol.
		require.True(t, b.EqualModDisp(a, false))
		require.False(t, b.EqualModDisp(a, true))
	})

	t.Run("unroll opcode does not participate", func(t *testing.T) {
		a, b := base, base
		a.UnrollOpcode = 11
		b.UnrollOpcode = 12
		require.True(t, a.EqualModDisp(b, false))
	})
}
