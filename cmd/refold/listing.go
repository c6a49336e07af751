package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/refold/refold/cfg"
	"github.com/refold/refold/mc"
	"github.com/refold/refold/mc/amd64"
)

// parseListing reads a textual instruction listing into a program.
//
// The format is one function per "func <name>" line, one block per
// "<label>:" line and one instruction per remaining line, e.g.
//
//	func sum
//	entry:
//	  MOVQ RBX, $0
//	loop:
//	  MOVL EAX, 0(RBX)
//	  ADDQ RBX, RBX, $32
//	  CMPQ RBX, R12
//	  JNE loop
//
// Operands are destination first. Immediates are prefixed with '$';
// memory operands use disp(base,index,scale) with an optional leading
// symbol, e.g. table+8(RBX,RAX,4). Lines starting with '#' are comments.
func parseListing(r io.Reader) (*cfg.Program, error) {
	program := &cfg.Program{}
	var fn *cfg.Function
	var block *cfg.BasicBlock

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		switch {
		case strings.HasPrefix(line, "func "):
			fn = cfg.NewFunction(strings.TrimSpace(strings.TrimPrefix(line, "func ")))
			program.Functions = append(program.Functions, fn)
			block = nil
		case strings.HasSuffix(line, ":"):
			if fn == nil {
				return nil, fmt.Errorf("line %d: label outside a function", lineNo)
			}
			block = cfg.NewBasicBlock(strings.TrimSuffix(line, ":"))
			fn.Blocks = append(fn.Blocks, block)
		default:
			if block == nil {
				return nil, fmt.Errorf("line %d: instruction outside a block", lineNo)
			}
			inst, err := parseInst(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			block.Append(inst)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return program, nil
}

func parseInst(line string) (mc.Inst, error) {
	mnemonic := line
	rest := ""
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		mnemonic, rest = line[:i], strings.TrimSpace(line[i+1:])
	}
	opcode, ok := amd64.InstructionByName(mnemonic)
	if !ok {
		return mc.Inst{}, fmt.Errorf("unknown mnemonic %q", mnemonic)
	}
	inst := mc.NewInst(opcode)
	if rest == "" {
		return inst, nil
	}
	for _, part := range strings.Split(rest, ",") {
		// Re-join memory operands split on their inner commas.
		part = strings.TrimSpace(part)
		if n := len(inst.Operands); n > 0 {
			prev := &inst.Operands[n-1]
			if prev.Kind == mc.OperandLabel && strings.Contains(prev.Label, "(") &&
				!strings.Contains(prev.Label, ")") {
				merged, err := parseOperand(prev.Label + "," + part)
				if err != nil {
					return mc.Inst{}, err
				}
				inst.Operands[n-1] = merged
				continue
			}
		}
		op, err := parseOperand(part)
		if err != nil {
			return mc.Inst{}, err
		}
		inst.AddOperand(op)
	}
	return inst, nil
}

func parseOperand(s string) (mc.Operand, error) {
	if strings.HasPrefix(s, "$") {
		v, err := strconv.ParseInt(s[1:], 0, 64)
		if err != nil {
			return mc.Operand{}, fmt.Errorf("invalid immediate %q", s)
		}
		return mc.ImmOperand(v), nil
	}
	if r, ok := amd64.RegisterByName(s); ok {
		return mc.RegOperand(r), nil
	}
	if open := strings.IndexByte(s, '('); open >= 0 {
		if !strings.HasSuffix(s, ")") {
			// Possibly the first half of a mem operand split on a comma;
			// the caller re-joins it.
			return mc.LabelOperand(s), nil
		}
		return parseMemOperand(s[:open], s[open+1:len(s)-1])
	}
	return mc.LabelOperand(s), nil
}

func parseMemOperand(disp, inner string) (mc.Operand, error) {
	m := mc.MemoryOperand{Scale: 1}
	parts := strings.Split(inner, ",")
	if len(parts) == 0 || len(parts) > 3 {
		return mc.Operand{}, fmt.Errorf("invalid memory operand (%s)", inner)
	}
	if base := strings.TrimSpace(parts[0]); base != "" {
		r, ok := amd64.RegisterByName(base)
		if !ok {
			return mc.Operand{}, fmt.Errorf("unknown base register %q", base)
		}
		m.BaseReg = r
	}
	if len(parts) > 1 {
		r, ok := amd64.RegisterByName(strings.TrimSpace(parts[1]))
		if !ok {
			return mc.Operand{}, fmt.Errorf("unknown index register %q", parts[1])
		}
		m.IndexReg = r
	}
	if len(parts) > 2 {
		v, err := strconv.ParseInt(strings.TrimSpace(parts[2]), 0, 64)
		if err != nil {
			return mc.Operand{}, fmt.Errorf("invalid scale %q", parts[2])
		}
		m.Scale = v
	}
	if err := parseDisp(disp, &m); err != nil {
		return mc.Operand{}, err
	}
	return mc.MemOperand(m), nil
}

// parseDisp handles "", "8", "-8", "sym", "sym+8" and "sym-8".
func parseDisp(s string, m *mc.MemoryOperand) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if v, err := strconv.ParseInt(s, 0, 64); err == nil {
		m.Disp = v
		return nil
	}
	for i := 1; i < len(s); i++ {
		if s[i] != '+' && s[i] != '-' {
			continue
		}
		v, err := strconv.ParseInt(s[i:], 0, 64)
		if err != nil {
			continue
		}
		m.DispExpr = mc.Binary{LHS: mc.SymbolRef(s[:i]), RHS: mc.Constant(v)}
		return nil
	}
	m.DispExpr = mc.SymbolRef(s)
	return nil
}
