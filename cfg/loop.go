package cfg

import "github.com/refold/refold/mc"

// Loop is a natural loop of a function. The fold and unroll passes only
// handle loops whose body is a single block branching back to its own
// label; multi-block loops are still discovered so the passes can reject
// them structurally.
//
// The analysis fields are populated during a single pass invocation and
// discarded with the function.
type Loop struct {
	Blocks []*BasicBlock

	// InductionReg is the loop induction register, NilRegister until the
	// induction analysis has run.
	InductionReg mc.Register

	// Stride is the per-iteration increment of the induction register.
	Stride int64

	iterationBegin      int64
	iterationBeginValid bool
	iterationEnd        int64
	iterationEndValid   bool

	// TotalBackEdgeCount is the total count of all back edges of this loop.
	TotalBackEdgeCount uint64
	// EntryCount is the times the loop is entered from outside.
	EntryCount uint64
	// ExitCount is the times the loop is exited.
	ExitCount uint64
}

// Body returns the single body block, or nil when the loop spans several
// blocks.
func (l *Loop) Body() *BasicBlock {
	if len(l.Blocks) != 1 {
		return nil
	}
	return l.Blocks[0]
}

// SetIterationBegin records the initial induction value.
func (l *Loop) SetIterationBegin(v int64) {
	l.iterationBegin = v
	l.iterationBeginValid = true
}

// SetIterationEnd records the induction bound from the compare.
func (l *Loop) SetIterationEnd(v int64) {
	l.iterationEnd = v
	l.iterationEndValid = true
}

// IterationBegin returns the recorded begin value and its validity.
func (l *Loop) IterationBegin() (int64, bool) {
	return l.iterationBegin, l.iterationBeginValid
}

// IterationEnd returns the recorded end value and its validity.
func (l *Loop) IterationEnd() (int64, bool) {
	return l.iterationEnd, l.iterationEndValid
}

// IsBoundValid reports whether both bounds have been recorded.
func (l *Loop) IsBoundValid() bool {
	return l.iterationBeginValid && l.iterationEndValid
}

// LoopsOf discovers the natural loops of f: for every block whose
// terminator branches to the label of the same or an earlier block, the
// spanned block range forms one loop. Nested back edges to the same header
// are folded into one loop record.
func LoopsOf(f *Function, arch mc.Arch) []*Loop {
	var loops []*Loop
	seen := map[int]*Loop{}
	for i, b := range f.Blocks {
		term := b.Terminator()
		if term == nil || !arch.IsBranch(term) {
			continue
		}
		target, ok := arch.TargetLabel(term)
		if !ok {
			continue
		}
		j := f.blockIndex(target)
		if j < 0 || j > i {
			continue
		}
		if l, ok := seen[j]; ok {
			// Extend an already discovered loop with the larger range.
			if len(f.Blocks[j:i+1]) > len(l.Blocks) {
				l.Blocks = f.Blocks[j : i+1]
			}
			continue
		}
		l := &Loop{Blocks: f.Blocks[j : i+1]}
		seen[j] = l
		loops = append(loops, l)
	}
	return loops
}
