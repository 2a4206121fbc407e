package cpu

import "encoding/binary"

// TrapContextSize is the encoded size of a trap context in bytes. It fits
// comfortably inside the fixed trap context page of every user address
// space.
const TrapContextSize = NumRegs*8 + 24

// TrapContext is the user-mode register snapshot taken when a task enters
// the kernel. It lives at the fixed trap context page of the task's address
// space, so forking a task duplicates it along with the rest of the address
// space.
type TrapContext struct {
	// Regs is the general purpose register file.
	Regs [NumRegs]uint64

	// PC is the address of the next instruction to execute.
	PC uint64

	// KernelSP is the top of the task's kernel stack.
	KernelSP uint64

	// SpaceToken identifies the task's address space.
	SpaceToken uint64
}

// NewTrapContext builds the initial trap context for a program entered at
// entryPC: the user stack pointer seeds R6 and every other register starts
// zeroed.
func NewTrapContext(entryPC, userSP, kernelSP, spaceToken uintptr) *TrapContext {
	tc := &TrapContext{
		PC:         uint64(entryPC),
		KernelSP:   uint64(kernelSP),
		SpaceToken: uint64(spaceToken),
	}
	tc.Regs[R6] = uint64(userSP)
	return tc
}

// EncodeTo serializes the trap context into buf, which must hold at least
// TrapContextSize bytes.
func (tc *TrapContext) EncodeTo(buf []byte) {
	for i, reg := range tc.Regs {
		binary.LittleEndian.PutUint64(buf[i*8:], reg)
	}
	binary.LittleEndian.PutUint64(buf[NumRegs*8:], tc.PC)
	binary.LittleEndian.PutUint64(buf[NumRegs*8+8:], tc.KernelSP)
	binary.LittleEndian.PutUint64(buf[NumRegs*8+16:], tc.SpaceToken)
}

// DecodeFrom deserializes the trap context from buf.
func (tc *TrapContext) DecodeFrom(buf []byte) {
	for i := range tc.Regs {
		tc.Regs[i] = binary.LittleEndian.Uint64(buf[i*8:])
	}
	tc.PC = binary.LittleEndian.Uint64(buf[NumRegs*8:])
	tc.KernelSP = binary.LittleEndian.Uint64(buf[NumRegs*8+8:])
	tc.SpaceToken = binary.LittleEndian.Uint64(buf[NumRegs*8+16:])
}
