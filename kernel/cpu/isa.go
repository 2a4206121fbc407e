// Package cpu implements the simulated user-mode CPU: a small fixed-width
// instruction set, the trap context that snapshots user execution state on
// kernel entry, and the execution loop that fetches, loads and stores
// exclusively through the current task's page table.
package cpu

import (
	"encoding/binary"

	"gokos/kernel"
)

// Reg names one of the general purpose registers. By convention R7 carries
// the syscall id for ECALL, R0 through R2 carry its arguments and R0
// receives its result.
type Reg uint8

// General purpose registers.
const (
	R0 Reg = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
)

// NumRegs is the size of the register file.
const NumRegs = 8

// Opcode selects the operation encoded in an instruction word.
type Opcode uint8

// Instruction opcodes. Loads and stores address memory at rs1+imm; branches
// and jumps are relative to the instruction's own address.
const (
	OpNop Opcode = iota
	OpLi         // rd = imm
	OpMov        // rd = rs1
	OpAdd        // rd = rs1 + rs2
	OpSub        // rd = rs1 - rs2
	OpAddi       // rd = rs1 + imm
	OpLd         // rd = mem64[rs1+imm]
	OpSd         // mem64[rs1+imm] = rd
	OpLb         // rd = mem8[rs1+imm]
	OpSb         // mem8[rs1+imm] = rd & 0xff
	OpJmp        // pc += imm
	OpBeq        // if rd == rs1 { pc += imm }
	OpBne        // if rd != rs1 { pc += imm }
	OpEcall      // trap into the kernel
)

// InstrSize is the size of one encoded instruction word in bytes:
// opcode, rd, rs1, rs2 and a 32 bit signed immediate.
const InstrSize = 8

// instruction is the decoded form of one instruction word.
type instruction struct {
	op           Opcode
	rd, rs1, rs2 Reg
	imm          int32
}

// encodeTo serializes the instruction into an 8 byte word.
func (ins instruction) encodeTo(out []byte) {
	out[0] = byte(ins.op)
	out[1] = byte(ins.rd)
	out[2] = byte(ins.rs1)
	out[3] = byte(ins.rs2)
	binary.LittleEndian.PutUint32(out[4:], uint32(ins.imm))
}

// decodeInstruction parses an 8 byte instruction word.
func decodeInstruction(word []byte) instruction {
	return instruction{
		op:  Opcode(word[0]),
		rd:  Reg(word[1]),
		rs1: Reg(word[2]),
		rs2: Reg(word[3]),
		imm: int32(binary.LittleEndian.Uint32(word[4:])),
	}
}

// ErrUnknownLabel is returned by Assemble when a branch references a label
// that was never placed.
var ErrUnknownLabel = &kernel.Error{Module: "cpu", Message: "branch to unknown label"}

// Assembler builds instruction streams for program images. Branch targets
// are expressed as labels and resolved to relative offsets by Assemble.
type Assembler struct {
	instrs []instruction
	labels map[string]int

	// fixups maps instruction indices to the label their immediate should
	// resolve to.
	fixups map[int]string
}

// NewAssembler returns an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{
		labels: make(map[string]int),
		fixups: make(map[int]string),
	}
}

func (a *Assembler) emit(ins instruction) *Assembler {
	a.instrs = append(a.instrs, ins)
	return a
}

// Label places a branch target at the current position.
func (a *Assembler) Label(name string) *Assembler {
	a.labels[name] = len(a.instrs)
	return a
}

// Nop emits a no-op.
func (a *Assembler) Nop() *Assembler { return a.emit(instruction{op: OpNop}) }

// Li loads a signed immediate into rd.
func (a *Assembler) Li(rd Reg, imm int32) *Assembler {
	return a.emit(instruction{op: OpLi, rd: rd, imm: imm})
}

// Mov copies rs1 into rd.
func (a *Assembler) Mov(rd, rs1 Reg) *Assembler {
	return a.emit(instruction{op: OpMov, rd: rd, rs1: rs1})
}

// Add stores rs1+rs2 into rd.
func (a *Assembler) Add(rd, rs1, rs2 Reg) *Assembler {
	return a.emit(instruction{op: OpAdd, rd: rd, rs1: rs1, rs2: rs2})
}

// Sub stores rs1-rs2 into rd.
func (a *Assembler) Sub(rd, rs1, rs2 Reg) *Assembler {
	return a.emit(instruction{op: OpSub, rd: rd, rs1: rs1, rs2: rs2})
}

// Addi stores rs1+imm into rd.
func (a *Assembler) Addi(rd, rs1 Reg, imm int32) *Assembler {
	return a.emit(instruction{op: OpAddi, rd: rd, rs1: rs1, imm: imm})
}

// Ld loads the 64 bit word at rs1+imm into rd.
func (a *Assembler) Ld(rd, rs1 Reg, imm int32) *Assembler {
	return a.emit(instruction{op: OpLd, rd: rd, rs1: rs1, imm: imm})
}

// Sd stores rd as a 64 bit word at rs1+imm.
func (a *Assembler) Sd(rd, rs1 Reg, imm int32) *Assembler {
	return a.emit(instruction{op: OpSd, rd: rd, rs1: rs1, imm: imm})
}

// Lb loads the byte at rs1+imm into rd.
func (a *Assembler) Lb(rd, rs1 Reg, imm int32) *Assembler {
	return a.emit(instruction{op: OpLb, rd: rd, rs1: rs1, imm: imm})
}

// Sb stores the low byte of rd at rs1+imm.
func (a *Assembler) Sb(rd, rs1 Reg, imm int32) *Assembler {
	return a.emit(instruction{op: OpSb, rd: rd, rs1: rs1, imm: imm})
}

// Jmp jumps unconditionally to label.
func (a *Assembler) Jmp(label string) *Assembler {
	a.fixups[len(a.instrs)] = label
	return a.emit(instruction{op: OpJmp})
}

// Beq branches to label when rd equals rs1.
func (a *Assembler) Beq(rd, rs1 Reg, label string) *Assembler {
	a.fixups[len(a.instrs)] = label
	return a.emit(instruction{op: OpBeq, rd: rd, rs1: rs1})
}

// Bne branches to label when rd differs from rs1.
func (a *Assembler) Bne(rd, rs1 Reg, label string) *Assembler {
	a.fixups[len(a.instrs)] = label
	return a.emit(instruction{op: OpBne, rd: rd, rs1: rs1})
}

// Ecall traps into the kernel with the syscall id in R7 and arguments in R0
// through R2.
func (a *Assembler) Ecall() *Assembler { return a.emit(instruction{op: OpEcall}) }

// Assemble resolves labels and returns the encoded instruction stream.
func (a *Assembler) Assemble() ([]byte, *kernel.Error) {
	for index, label := range a.fixups {
		target, ok := a.labels[label]
		if !ok {
			return nil, ErrUnknownLabel
		}
		a.instrs[index].imm = int32((target - index) * InstrSize)
	}

	out := make([]byte, len(a.instrs)*InstrSize)
	for i, ins := range a.instrs {
		ins.encodeTo(out[i*InstrSize:])
	}
	return out, nil
}
