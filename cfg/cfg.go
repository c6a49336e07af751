// Package cfg holds the control-flow containers the passes operate on:
// programs, functions and basic blocks of decoded instructions, plus the
// natural-loop records carrying per-loop analysis state.
package cfg

import (
	"github.com/refold/refold/mc"
)

// BasicBlock is a labeled sequence of decoded instructions. The passes
// mutate blocks in place; Snapshot/Restore provide the rollback primitive
// used on every rejection path.
type BasicBlock struct {
	Label string
	Insts []mc.Inst
}

// NewBasicBlock returns a block with the given label and instructions.
func NewBasicBlock(label string, insts ...mc.Inst) *BasicBlock {
	return &BasicBlock{Label: label, Insts: insts}
}

func (b *BasicBlock) Size() int { return len(b.Insts) }

// At returns the instruction at index i for in-place mutation.
func (b *BasicBlock) At(i int) *mc.Inst { return &b.Insts[i] }

// Terminator returns the last instruction, or nil for an empty block.
func (b *BasicBlock) Terminator() *mc.Inst {
	if len(b.Insts) == 0 {
		return nil
	}
	return &b.Insts[len(b.Insts)-1]
}

// Insert places inst before index i.
func (b *BasicBlock) Insert(i int, inst mc.Inst) {
	b.Insts = append(b.Insts, mc.Inst{})
	copy(b.Insts[i+1:], b.Insts[i:])
	b.Insts[i] = inst
}

// Erase removes the instruction at index i and returns i, the position a
// subsequent Insert would use to put it back.
func (b *BasicBlock) Erase(i int) int {
	b.Insts = append(b.Insts[:i], b.Insts[i+1:]...)
	return i
}

// Clear removes all instructions.
func (b *BasicBlock) Clear() { b.Insts = b.Insts[:0] }

// Append adds instructions at the end.
func (b *BasicBlock) Append(insts ...mc.Inst) {
	b.Insts = append(b.Insts, insts...)
}

// Snapshot copies the instructions out so the block can be restored after
// a speculative rewrite.
func (b *BasicBlock) Snapshot() []mc.Inst {
	s := make([]mc.Inst, len(b.Insts))
	for i := range b.Insts {
		s[i] = b.Insts[i].Clone()
	}
	return s
}

// Restore replaces the block contents with a snapshot.
func (b *BasicBlock) Restore(s []mc.Inst) {
	b.Insts = b.Insts[:0]
	for i := range s {
		b.Insts = append(b.Insts, s[i].Clone())
	}
}

// Function is an ordered list of basic blocks.
type Function struct {
	Name   string
	Blocks []*BasicBlock
}

// NewFunction returns a function with the given name and blocks.
func NewFunction(name string, blocks ...*BasicBlock) *Function {
	return &Function{Name: name, Blocks: blocks}
}

// BlockByLabel returns the block with the given label, or nil.
func (f *Function) BlockByLabel(label string) *BasicBlock {
	for _, b := range f.Blocks {
		if b.Label == label {
			return b
		}
	}
	return nil
}

// blockIndex returns the position of the block with the given label, or -1.
func (f *Function) blockIndex(label string) int {
	for i, b := range f.Blocks {
		if b.Label == label {
			return i
		}
	}
	return -1
}

// Program is the unit the optimizer runs on.
type Program struct {
	Functions []*Function
}
