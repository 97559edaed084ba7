// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package bytecode defines the flat instruction set package interpreter
// executes (spec.md section 4.4/4.6) and the generator that lowers a
// compile.Tree into it.
package bytecode

import "fmt"

// Opcode identifies an instruction's operation.
type Opcode uint8

const (
	OpAndRow Opcode = iota
	OpLoadRow
	OpLeftShiftOffset
	OpRightShiftOffset
	OpIncrementOffset
	OpPush
	OpPop
	OpAndStack
	// OpConstant is declared for spec fidelity but never emitted by this
	// generator and fatal if encountered: the rewriter folds every
	// constant-result query (an empty-row-set term) away before
	// compilation, so a literal-value instruction is never needed (see
	// rewrite.Tree's constant folding and compile.Plan.Constant).
	OpConstant
	OpNot
	OpOrStack
	OpUpdateFlags
	OpReport
	// OpCall and OpReturn are declared for spec fidelity. This generator
	// never emits them: rank reconciliation (the "RankDown" construct) is
	// fully captured by the rank-delta carried on each row instruction, so
	// no subroutine call is needed to re-evaluate a coarser row at a finer
	// rank.
	OpCall
	OpJmp
	OpJnz
	OpJz
	OpReturn
	OpEnd
)

func (op Opcode) String() string {
	switch op {
	case OpAndRow:
		return "AndRow"
	case OpLoadRow:
		return "LoadRow"
	case OpLeftShiftOffset:
		return "LeftShiftOffset"
	case OpRightShiftOffset:
		return "RightShiftOffset"
	case OpIncrementOffset:
		return "IncrementOffset"
	case OpPush:
		return "Push"
	case OpPop:
		return "Pop"
	case OpAndStack:
		return "AndStack"
	case OpConstant:
		return "Constant"
	case OpNot:
		return "Not"
	case OpOrStack:
		return "OrStack"
	case OpUpdateFlags:
		return "UpdateFlags"
	case OpReport:
		return "Report"
	case OpCall:
		return "Call"
	case OpJmp:
		return "Jmp"
	case OpJnz:
		return "Jnz"
	case OpJz:
		return "Jz"
	case OpReturn:
		return "Return"
	case OpEnd:
		return "End"
	default:
		return fmt.Sprintf("Opcode(%d)", uint8(op))
	}
}

// Instruction packs one bytecode word: a 5-bit opcode, a 10-bit operand
// (a row-table index for row instructions, a code address for jump/call
// instructions), a 4-bit rank-delta, and a 1-bit inverted flag (spec.md
// section 4.4).
type Instruction uint32

const (
	opcodeBits  = 5
	operandBits = 10
	deltaBits   = 4
	invertBits  = 1

	opcodeShift  = 0
	operandShift = opcodeShift + opcodeBits
	deltaShift   = operandShift + operandBits
	invertShift  = deltaShift + deltaBits

	opcodeMask  = (uint32(1) << opcodeBits) - 1
	operandMask = (uint32(1) << operandBits) - 1
	deltaMask   = (uint32(1) << deltaBits) - 1

	// MaxOperand is the largest row-table index or code address an
	// Instruction can address.
	MaxOperand = int(operandMask)
)

// Pack builds an Instruction. operand is a row-table index for row
// instructions or a jump/call target for control-flow instructions; delta
// and inverted are meaningful only for OpLoadRow/OpAndRow.
func Pack(op Opcode, operand int, delta uint8, inverted bool) Instruction {
	if operand < 0 || operand > MaxOperand {
		panic(fmt.Sprintf("bytecode: operand %d exceeds %d-bit field", operand, operandBits))
	}
	if delta > uint8(deltaMask) {
		panic(fmt.Sprintf("bytecode: rank-delta %d exceeds %d-bit field", delta, deltaBits))
	}
	var inv uint32
	if inverted {
		inv = 1
	}
	return Instruction(uint32(op)&opcodeMask<<opcodeShift |
		uint32(operand)&operandMask<<operandShift |
		uint32(delta)&deltaMask<<deltaShift |
		inv<<invertShift)
}

func (i Instruction) Opcode() Opcode  { return Opcode(uint32(i) >> opcodeShift & opcodeMask) }
func (i Instruction) Operand() int    { return int(uint32(i) >> operandShift & operandMask) }
func (i Instruction) Delta() uint8    { return uint8(uint32(i) >> deltaShift & deltaMask) }
func (i Instruction) Inverted() bool  { return uint32(i)>>invertShift&1 != 0 }

func (i Instruction) String() string {
	op := i.Opcode()
	switch op {
	case OpLoadRow, OpAndRow:
		return fmt.Sprintf("%-16s row=%d delta=%d inverted=%t", op, i.Operand(), i.Delta(), i.Inverted())
	case OpJmp, OpJnz, OpJz, OpCall:
		return fmt.Sprintf("%-16s -> %d", op, i.Operand())
	default:
		return op.String()
	}
}

// Program is a fully generated, resolved plan: the flat instruction stream
// and the row table instructions address into.
type Program struct {
	Code []Instruction
	Rows []RowRef

	// Rank is the rank at which the program's offsets are expressed — the
	// interpreter's outer loop iterates one offset per 64*2^Rank documents
	// (one 64-bit word of a rank-Rank row)
	// (spec.md section 4.6's "plan's initial rank"). Carried through
	// unchanged from compile.Plan.Rank.
	Rank uint8
}

// MaxReportSlots bounds how many distinct OpReport sites one Program may
// contain. Each OpReport's operand is a dedupe-buffer slot assigned at
// generation time (package dedupe sizes its accumulator array to match), so
// a plan with more Report sites than this cannot be generated.
const MaxReportSlots = 64
