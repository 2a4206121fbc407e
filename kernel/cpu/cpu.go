package cpu

import (
	"encoding/binary"

	"gokos/kernel/mm/vmm"
	"gokos/kernel/timer"
)

// TrapKind describes why user execution returned to the kernel.
type TrapKind uint8

const (
	// TrapSyscall is raised by ECALL. The trap carries the syscall id and
	// argument registers; the saved PC already points past the ECALL so the
	// task resumes after the kernel writes the result to R0.
	TrapSyscall TrapKind = iota

	// TrapTimer is raised when the instruction budget for the current time
	// slice runs out.
	TrapTimer

	// TrapMemFault is raised when a fetch, load or store cannot be
	// translated or is denied by the mapping's permission bits. Addr holds
	// the faulting virtual address.
	TrapMemFault

	// TrapIllegal is raised on an undecodable instruction.
	TrapIllegal
)

// Trap describes one kernel entry from user mode.
type Trap struct {
	Kind      TrapKind
	SyscallID uint64
	Args      [3]uint64
	Addr      uintptr
}

// Run resumes user execution described by tc and executes at most budget
// instructions, translating every instruction fetch and every memory access
// through the supplied access context. It advances the virtual clock per
// executed instruction and returns when the task traps back into the kernel.
// tc holds the state to resume from on the next call.
func Run(access vmm.AccessContext, tc *TrapContext, budget int) Trap {
	var word [InstrSize]byte

	for executed := 0; executed < budget; executed++ {
		if err := access.FetchIn(uintptr(tc.PC), word[:]); err != nil {
			return Trap{Kind: TrapMemFault, Addr: uintptr(tc.PC)}
		}

		timer.Advance(timer.MicrosPerInstruction)
		ins := decodeInstruction(word[:])
		nextPC := tc.PC + InstrSize

		switch ins.op {
		case OpNop:

		case OpLi:
			tc.Regs[ins.rd] = uint64(int64(ins.imm))

		case OpMov:
			tc.Regs[ins.rd] = tc.Regs[ins.rs1]

		case OpAdd:
			tc.Regs[ins.rd] = tc.Regs[ins.rs1] + tc.Regs[ins.rs2]

		case OpSub:
			tc.Regs[ins.rd] = tc.Regs[ins.rs1] - tc.Regs[ins.rs2]

		case OpAddi:
			tc.Regs[ins.rd] = tc.Regs[ins.rs1] + uint64(int64(ins.imm))

		case OpLd:
			addr := uintptr(tc.Regs[ins.rs1] + uint64(int64(ins.imm)))
			var buf [8]byte
			if err := access.CopyIn(addr, buf[:]); err != nil {
				return Trap{Kind: TrapMemFault, Addr: addr}
			}
			tc.Regs[ins.rd] = binary.LittleEndian.Uint64(buf[:])

		case OpSd:
			addr := uintptr(tc.Regs[ins.rs1] + uint64(int64(ins.imm)))
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], tc.Regs[ins.rd])
			if err := access.CopyOut(addr, buf[:]); err != nil {
				return Trap{Kind: TrapMemFault, Addr: addr}
			}

		case OpLb:
			addr := uintptr(tc.Regs[ins.rs1] + uint64(int64(ins.imm)))
			var buf [1]byte
			if err := access.CopyIn(addr, buf[:]); err != nil {
				return Trap{Kind: TrapMemFault, Addr: addr}
			}
			tc.Regs[ins.rd] = uint64(buf[0])

		case OpSb:
			addr := uintptr(tc.Regs[ins.rs1] + uint64(int64(ins.imm)))
			if err := access.CopyOut(addr, []byte{byte(tc.Regs[ins.rd])}); err != nil {
				return Trap{Kind: TrapMemFault, Addr: addr}
			}

		case OpJmp:
			nextPC = tc.PC + uint64(int64(ins.imm))

		case OpBeq:
			if tc.Regs[ins.rd] == tc.Regs[ins.rs1] {
				nextPC = tc.PC + uint64(int64(ins.imm))
			}

		case OpBne:
			if tc.Regs[ins.rd] != tc.Regs[ins.rs1] {
				nextPC = tc.PC + uint64(int64(ins.imm))
			}

		case OpEcall:
			tc.PC = nextPC
			return Trap{
				Kind:      TrapSyscall,
				SyscallID: tc.Regs[R7],
				Args:      [3]uint64{tc.Regs[R0], tc.Regs[R1], tc.Regs[R2]},
			}

		default:
			return Trap{Kind: TrapIllegal, Addr: uintptr(tc.PC)}
		}

		tc.PC = nextPC
	}

	return Trap{Kind: TrapTimer}
}
