package mc

// Expr is a displacement expression attached to a memory operand. Only
// three shapes occur in practice: a constant, a symbol reference, and a
// depth-1 binary node whose left side is a symbol reference and whose
// right side is a constant.
type Expr interface {
	exprKind() ExprKind
}

// ExprKind discriminates Expr implementations.
type ExprKind byte

const (
	ExprConstant ExprKind = iota
	ExprSymbolRef
	ExprBinary
)

// Constant is a constant displacement expression.
type Constant int64

// SymbolRef references a symbol by name.
type SymbolRef string

// Binary combines two sub-expressions. The analyses only inspect the
// Binary(SymbolRef, Constant) shape.
type Binary struct {
	LHS, RHS Expr
}

func (Constant) exprKind() ExprKind  { return ExprConstant }
func (SymbolRef) exprKind() ExprKind { return ExprSymbolRef }
func (Binary) exprKind() ExprKind    { return ExprBinary }

// KindOf returns the kind of e, or ExprConstant for nil.
func KindOf(e Expr) ExprKind {
	if e == nil {
		return ExprConstant
	}
	return e.exprKind()
}

// SymbolOf returns the symbol a displacement expression references: either
// a bare SymbolRef or the left side of a Binary node. "" when there is none.
func SymbolOf(e Expr) string {
	if s, ok := e.(SymbolRef); ok {
		return string(s)
	}
	return binarySymbolLHS(e)
}

// binaryConstRHS returns the constant right side of a binary expression,
// or 0 when the expression has a different shape.
func binaryConstRHS(e Expr) int64 {
	b, ok := e.(Binary)
	if !ok {
		return 0
	}
	if c, ok := b.RHS.(Constant); ok {
		return int64(c)
	}
	return 0
}

// binarySymbolLHS returns the symbol name on the left side of a binary
// expression, or "" when the expression has a different shape.
func binarySymbolLHS(e Expr) string {
	b, ok := e.(Binary)
	if !ok {
		return ""
	}
	if s, ok := b.LHS.(SymbolRef); ok {
		return string(s)
	}
	return ""
}
