package ir

import (
	"strconv"
	"strings"
)

// BlockID is a stable arena index for a basic block within its CFG.
type BlockID int

// NoBlock marks the absence of a block in rescuer/ensurer lookups.
const NoBlock BlockID = -1

// BasicBlock is a straight-line instruction sequence owned by one CFG.
type BasicBlock struct {
	id     BlockID
	label  *Label
	instrs []Instr
}

// ID returns the block's arena index.
func (b *BasicBlock) ID() BlockID { return b.id }

// Label returns the label naming this block.
func (b *BasicBlock) Label() *Label { return b.label }

// Instrs returns the block's instructions. Callers must not modify the
// returned slice; use the mutation helpers instead.
func (b *BasicBlock) Instrs() []Instr { return b.instrs }

// Len returns the number of instructions.
func (b *BasicBlock) Len() int { return len(b.instrs) }

// IsEmpty reports whether the block has no instructions.
func (b *BasicBlock) IsEmpty() bool { return len(b.instrs) == 0 }

// LastInstr returns the final instruction, or nil for an empty block.
func (b *BasicBlock) LastInstr() Instr {
	if len(b.instrs) == 0 {
		return nil
	}
	return b.instrs[len(b.instrs)-1]
}

// AddInstr appends instr.
func (b *BasicBlock) AddInstr(instr Instr) {
	b.instrs = append(b.instrs, instr)
}

// InsertInstr inserts instr before position idx.
func (b *BasicBlock) InsertInstr(idx int, instr Instr) {
	b.instrs = append(b.instrs, nil)
	copy(b.instrs[idx+1:], b.instrs[idx:])
	b.instrs[idx] = instr
}

// RemoveInstrAt deletes the instruction at idx.
func (b *BasicBlock) RemoveInstrAt(idx int) {
	b.instrs = append(b.instrs[:idx], b.instrs[idx+1:]...)
}

// ReplaceInstrAt swaps the instruction at idx.
func (b *BasicBlock) ReplaceInstrAt(idx int, instr Instr) {
	b.instrs[idx] = instr
}

// IndexOf returns the position of instr (by identity), or -1.
func (b *BasicBlock) IndexOf(instr Instr) int {
	for i, in := range b.instrs {
		if in == instr {
			return i
		}
	}
	return -1
}

// CanRaise reports whether any instruction in the block may raise or unwind.
func (b *BasicBlock) CanRaise() bool {
	for _, instr := range b.instrs {
		if instr.Operation().CanRaise() {
			return true
		}
	}
	return false
}

// setInstrs replaces the instruction list with a private copy of instrs.
func (b *BasicBlock) setInstrs(instrs []Instr) {
	b.instrs = append([]Instr(nil), instrs...)
}

func (b *BasicBlock) String() string {
	var sb strings.Builder
	sb.WriteString("BB [")
	sb.WriteString(strconv.Itoa(int(b.id)))
	sb.WriteString(":")
	sb.WriteString(b.label.String())
	sb.WriteString("]\n")
	for _, instr := range b.instrs {
		sb.WriteString("  ")
		sb.WriteString(instr.String())
		sb.WriteString("\n")
	}
	return sb.String()
}
