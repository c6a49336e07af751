package loopfold

import (
	"fmt"
	"sort"

	"github.com/refold/refold/cfg"
	"github.com/refold/refold/mc"
)

// loopUnrollInfo binds one repeated addressing pattern to its full
// displacement progression.
type loopUnrollInfo struct {
	MemOp      mc.MemoryOperand
	Start      int64
	Step       int64
	Factor     int64
	DispValues []int64
}

// useChain records, per body instruction, the prior instructions that
// produced a register it reads (last writer per register) and the set of
// registers it writes.
type useChain struct {
	deps    []int
	written mc.RegSet
}

// buildUseChain computes the def/use chain for the first limit body
// instructions. For every instruction the source-register set is walked
// backwards and each matched definition consumes its register bits, so
// only the latest writer of a register is credited.
func (a *Analyzer) buildUseChain(body *cfg.BasicBlock, limit int) []useChain {
	chain := make([]useChain, body.Size())
	for i := range chain {
		chain[i].written = mc.NewRegSet(a.arch.NumRegs())
	}
	for i := 0; i < limit; i++ {
		inst := body.At(i)
		chain[i].written.Or(a.arch.WrittenRegs(inst))
		if i == 0 {
			continue
		}
		src := a.arch.SrcRegs(inst)
		for j := i - 1; j >= 0; j-- {
			if chain[j].written.Intersects(src) {
				src.RemoveCommon(chain[j].written)
				chain[i].deps = append(chain[i].deps, j)
			}
		}
	}
	return chain
}

// CorrelationAnalysis proves that the loop body consists of factor
// repetitions of one instruction group indexed by iterReg and returns the
// folded body. On any rejection the block is restored and ok is false.
func (a *Analyzer) CorrelationAnalysis(l *cfg.Loop, iterReg mc.Register, factor, step, start int64) (folded []mc.Inst, ok bool) {
	body := l.Body()
	if body == nil {
		panic("loop should have only one block")
	}
	n := body.Size()
	term := body.Terminator()
	if term == nil || !a.arch.IsBranch(term) {
		panic("last instruction should be branch")
	}

	// labelIndex is the 1-based reverse offset of the branch back to the
	// block's own label.
	labelIndex := 1
	for i := n - 1; i >= 0; i-- {
		inst := body.At(i)
		if a.arch.IsBranch(inst) {
			if target, tok := a.arch.TargetLabel(inst); tok && target == body.Label {
				break
			}
		}
		labelIndex++
	}
	if labelIndex > n {
		return nil, false
	}

	cmpInstIndex := 2 // add, br
	if n-labelIndex-1 >= 0 && a.arch.IsCompare(body.At(n-labelIndex-1)) {
		cmpInstIndex = 3 // add, cmp, br
	}

	// Locate the induction update; its operands must be (reg, reg, imm)
	// with the induction register in the middle, retrying the adjacent
	// position once.
	updateIdx := n - labelIndex - cmpInstIndex + 1
	if updateIdx < 0 || updateIdx >= n {
		return nil, false
	}
	upd := body.At(updateIdx)
	if (!a.arch.IsAddImm(upd) && !a.arch.IsSubImm(upd)) ||
		len(upd.Operands) != 3 || !upd.Operands[2].IsImm() {
		fmt.Fprintf(a.out, "no update instruction at %d\n", updateIdx)
		return nil, false
	}
	if upd.Operands[1].Reg != iterReg {
		updateIdx--
		if updateIdx < 0 {
			return nil, false
		}
		upd = body.At(updateIdx)
		if (!a.arch.IsAddImm(upd) && !a.arch.IsSubImm(upd)) ||
			len(upd.Operands) != 3 || !upd.Operands[1].IsReg() ||
			upd.Operands[1].Reg != iterReg {
			return nil, false
		}
	}

	// A subtract of a positive immediate (or an add of a negative one)
	// walks memory downwards: mirror the progression.
	decrease := false
	if (a.arch.IsAddImm(upd) && upd.Operands[2].Imm < 0) ||
		(a.arch.IsSubImm(upd) && upd.Operands[2].Imm > 0) {
		decrease = true
		step = -step
		start = start - step*(factor-1)
		fmt.Fprintf(a.out, "decreasing loop, start %d\n", start)
	}

	// Enumerate every repeated addressing pattern. The folded body must be
	// consistent with each one whose factor matches the loop's.
	var foundOps []mc.MemoryOperand
	var infos []loopUnrollInfo
	for {
		info, uok := a.UnrollFactor(l, iterReg, foundOps)
		if !uok {
			break
		}
		foundOps = append(foundOps, info.MemOp)
		if info.Factor != factor {
			continue
		}
		st, sp := info.Start, info.Step
		if decrease {
			sp = -sp
			st = st - sp*(info.Factor-1)
		}
		dv := make([]int64, 0, info.Factor)
		for i := int64(0); i < info.Factor; i++ {
			dv = append(dv, st+i*sp)
		}
		infos = append(infos, loopUnrollInfo{
			MemOp: info.MemOp, Start: st, Step: sp, Factor: info.Factor, DispValues: dv,
		})
	}
	for _, info := range infos {
		fmt.Fprintf(a.out, "unroll info: start %d, step %d, factor %d\n",
			info.Start, info.Step, info.Factor)
	}

	status := make([]int, n)
	block := make([]bool, n)
	chain := a.buildUseChain(body, updateIdx)

	// propagate pushes the status of idx back along its dependencies.
	// A dependency with status zero is claimed outright; one with a lower
	// status is only overwritten when it is not classification-pinned and
	// no instruction in between has taken a different status while
	// depending on it (a shared producer must not be stolen from another
	// group).
	var propagate func(idx int)
	propagate = func(idx int) {
		st := status[idx]
		queue := append([]int(nil), chain[idx].deps...)
		for len(queue) > 0 {
			d := queue[0]
			queue = queue[1:]
			if status[d] == 0 {
				status[d] = st
				queue = append(queue, chain[d].deps...)
			} else if status[d] < st && !block[d] {
				update := true
				for k := d + 1; k < idx; k++ {
					if status[k] != st && containsInt(chain[k].deps, d) {
						update = false
						break
					}
				}
				if update {
					status[d] = st
					propagate(d)
				}
			}
		}
	}

	memoryScale := int64(1)
	iterRegs := a.arch.Aliases(iterReg, false)
	for i := 0; i < updateIdx; i++ {
		inst := body.At(i)
		if i != 0 {
			st := 0
			blk := false
			for _, j := range chain[i].deps {
				if status[i] == 0 && status[j] > 0 && st < status[j] {
					st = status[j]
					blk = block[j]
				}
			}
			// A register xored with itself is a zero idiom: the value is a
			// constant, not a real use of the producing instruction.
			if a.arch.IsZeroIdiom(inst) {
				continue
			}
			if status[i] == 0 && st > 0 {
				status[i] = st
				block[i] = blk
				propagate(i)
			}
		}

		m, mok := a.arch.EvaluateMemoryOperand(inst)
		if !mok {
			continue
		}
		for r := 0; r < a.arch.NumRegs(); r++ {
			rr := mc.Register(r)
			if !iterRegs.Has(rr) || (m.BaseReg != rr && m.IndexReg != rr) {
				continue
			}
			var info *loopUnrollInfo
			for k := range infos {
				if m.EqualModDisp(infos[k].MemOp, a.strictSymbols) &&
					inst.Opcode == infos[k].MemOp.UnrollOpcode {
					info = &infos[k]
					break
				}
			}
			if info == nil {
				fmt.Fprintf(a.out, "no unroll info for %s\n", a.arch.InstString(inst))
				break
			}
			eff := m.EffectiveDisp()
			if !containsInt64(info.DispValues, eff) {
				fmt.Fprintf(a.out, "displacement %d not in the unroll info\n", eff)
				break
			}
			memOffset := eff - info.Start
			if memOffset%absInt64(info.Step) != 0 {
				return nil, false
			}
			// Group numbers start from 1.
			group := absInt64(memOffset / info.Step) + 1
			if group <= info.Factor {
				if memoryScale == 1 && m.Scale != 1 {
					memoryScale = m.Scale
					fmt.Fprintf(a.out, "memory scale %d\n", memoryScale)
				}
				status[i] = int(group)
				block[i] = true
				propagate(i)
			}
			break
		}
	}

	backup := body.Snapshot()
	groupScale := int64(1)
	border := 1
	var out []mc.Inst

	// selectInstructions keeps every instruction with status <= border and
	// rewrites the update step of each immediate add/sub in group zero,
	// checking it against the displacement progression of its register.
	selectInstructions := func() bool {
		success := true
		out = out[:0]
		for i := 0; i < n; i++ {
			if status[i] > border {
				continue
			}
			inst := body.At(i)
			a.arch.NormalizeUpdateInst(inst)
			if status[i] == 0 && (a.arch.IsAddImm(inst) || a.arch.IsSubImm(inst)) &&
				len(inst.Operands) == 3 && inst.Operands[2].IsImm() {
				imm := inst.Operands[2].Imm
				checkReg := inst.Operands[1].Reg
				if info, uok := a.UnrollFactor(l, checkReg, nil); uok {
					factorCheck := info.Factor
					stepCheck := info.Step
					scale := info.MemOp.Scale
					fmt.Fprintf(a.out, "check update register %s: factor %d step %d start %d\n",
						a.arch.RegisterName(checkReg), factorCheck, stepCheck, info.Start)
					// The update step must cover one full round of the
					// progression, accounting for the addressing scale. A
					// scale-aware off-by-one (the update itself standing in
					// for the last access) is tolerated by growing both
					// factors once.
					if absInt64(stepCheck*factorCheck) != absInt64(imm*scale) {
						if absInt64(stepCheck*(factorCheck+1)) == absInt64(imm*scale) {
							factorCheck++
							factor++
						} else {
							fmt.Fprintf(a.out, "update step mismatch: %d*%d\n", imm, scale)
							success = false
							break
						}
					}
				}
				if factor/groupScale == 0 || imm%(factor/groupScale) != 0 {
					fmt.Fprintf(a.out, "update step can't be divided\n")
					if imm != 0 && factor%imm == 0 && factor/imm > 0 {
						groupScale = factor / imm
					}
					success = false
					break
				}
				inst.Operands[2].Imm = imm / (factor / groupScale)
			}
			out = append(out, inst.Clone())
		}
		if !success {
			body.Restore(backup)
			out = out[:0]
		}
		return success
	}

	reject := func() ([]mc.Inst, bool) {
		body.Restore(backup)
		return nil, false
	}

	checkUpdateStep := selectInstructions()
	if !checkUpdateStep && groupScale > 1 {
		fmt.Fprintf(a.out, "scale factor %d\n", groupScale)
		for i := range status {
			status[i] = (status[i] + int(groupScale) - 1) / int(groupScale)
		}
		checkUpdateStep = selectInstructions()
	}
	if !checkUpdateStep {
		fmt.Fprintf(a.out, "update step failed\n")
		return nil, false
	}

	// Groups must be numbered contiguously from 1 and all have the same
	// number of instructions.
	groupMap := map[int]int{}
	for _, st := range status {
		groupMap[st]++
	}
	groupIDs := make([]int, 0, len(groupMap))
	for id := range groupMap {
		groupIDs = append(groupIDs, id)
	}
	sort.Ints(groupIDs)
	checkGroupResult := true
	groupNo := 0
	instNumCheck := -1
	for _, id := range groupIDs {
		if id == 0 {
			groupNo++
			continue
		}
		if groupNo != id {
			checkGroupResult = false
		}
		groupNo++
		if instNumCheck < 0 {
			instNumCheck = groupMap[id]
		} else if instNumCheck != groupMap[id] {
			checkGroupResult = false
		}
	}

	// With exactly two or four replica groups, a pair of add-like vector
	// instructions whose operand registers are swapped between the last
	// members of groups one and two marks an unroll that is not a plain
	// re-roll of one body.
	if groupNo == 3 || groupNo == 5 {
		lastGroup1, lastGroup2 := -1, -1
		for i := n - 1; i >= 0; i-- {
			if lastGroup1 != -1 && lastGroup2 != -1 {
				break
			}
			if lastGroup1 == -1 && status[i] == 1 {
				lastGroup1 = i
			}
			if lastGroup2 == -1 && status[i] == 2 {
				lastGroup2 = i
			}
		}
		if lastGroup1 >= 0 && lastGroup2 >= 0 {
			i1 := &backup[lastGroup1]
			i2 := &backup[lastGroup2]
			if a.arch.IsSwapCheckOpcode(i1.Opcode) && i1.Opcode == i2.Opcode &&
				len(i1.Operands) == 3 && len(i2.Operands) == 3 &&
				i1.Operands[0].IsReg() && i1.Operands[2].IsReg() &&
				i2.Operands[0].IsReg() && i2.Operands[2].IsReg() &&
				i1.Operands[0].Reg == i2.Operands[2].Reg &&
				i1.Operands[2].Reg == i2.Operands[0].Reg {
				fmt.Fprintf(a.out, "exchanged registers between groups\n")
				return reject()
			}
		}
	}

	if !checkGroupResult {
		fmt.Fprintf(a.out, "group check failed\n")
		return reject()
	}

	// Dependency closure: an instruction and its dependencies must share a
	// group, and every group must form one weakly connected component.
	if a.removeSubDDG {
		for i := range chain {
			for _, j := range chain[i].deps {
				if status[i] != status[j] {
					fmt.Fprintf(a.out, "dependency check failed\n")
					return reject()
				}
			}
		}
		for g := 1; g < len(groupMap); g++ {
			var members []int
			for j := 0; j < n; j++ {
				if status[j] == g {
					members = append(members, j)
				}
			}
			if len(members) == 0 {
				continue
			}
			if !weaklyConnected(members, chain) {
				fmt.Fprintf(a.out, "dependency check failed\n")
				return reject()
			}
		}
	}

	// Continuity: groups occupy contiguous index ranges, and the k-th
	// instruction of each group repeats the opcode of the first group.
	if a.removeSuffixTree {
		checkContinuous := instNumCheck > 0
		for i := 0; i < n && checkContinuous; i++ {
			if status[i] != 0 && status[i] != i/instNumCheck+1 {
				fmt.Fprintf(a.out, "group not continuous at %d\n", i)
				checkContinuous = false
			}
		}
		if checkContinuous {
			for i := 0; i < instNumCheck && checkContinuous; i++ {
				for j := 1; j < len(groupMap)-1; j++ {
					if backup[i].Opcode != backup[i+j*instNumCheck].Opcode {
						fmt.Fprintf(a.out, "group not continuous at %d\n", i)
						checkContinuous = false
						break
					}
				}
			}
		}
		if !checkContinuous {
			return reject()
		}
	}

	// Group zero may only hold compares, branches and immediate adds or
	// subtracts, unless the selection decided the border was relaxed.
	checkGroupZero := true
	for i := 0; i < n; i++ {
		if status[i] != 0 {
			continue
		}
		inst := body.At(i)
		if !a.arch.IsCompare(inst) && !a.arch.IsBranch(inst) &&
			!a.arch.IsAddImm(inst) && !a.arch.IsSubImm(inst) {
			fmt.Fprintf(a.out, "unexpected instruction in group 0: %s\n", a.arch.InstString(inst))
			checkGroupZero = false
			break
		}
	}
	if !checkGroupZero && border != 0 {
		fmt.Fprintf(a.out, "group zero check failed\n")
		return reject()
	}

	return out, true
}

// weaklyConnected reports whether the members form one component under
// the symmetric dependency relation.
func weaklyConnected(members []int, chain []useChain) bool {
	haveDependency := func(x, y int) bool {
		return containsInt(chain[x].deps, y) || containsInt(chain[y].deps, x)
	}
	deleted := make([]bool, len(members))
	depend := []int{members[0]}
	deleted[0] = true
	for {
		modified := false
		for j := range members {
			if deleted[j] {
				continue
			}
			for _, k := range depend {
				if haveDependency(members[j], k) {
					depend = append(depend, members[j])
					deleted[j] = true
					modified = true
					break
				}
			}
		}
		if !modified {
			break
		}
	}
	for _, d := range deleted {
		if !d {
			return false
		}
	}
	return true
}
