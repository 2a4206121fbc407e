// Package trap runs the kernel side of every task: it resumes user
// execution, fields the resulting traps and routes them to the syscall
// dispatcher or the scheduler.
package trap

import (
	"gokos/kernel/cpu"
	"gokos/kernel/kfmt"
	"gokos/kernel/mm/vmm"
	"gokos/kernel/syscall"
	"gokos/kernel/task"
)

// SliceBudget is the number of instructions a task may execute before the
// timer forces it to yield.
const SliceBudget = 64

// Exit codes for tasks killed by the kernel.
const (
	exitCodeMemFault = -2
	exitCodeIllegal  = -3
)

// Init registers the kernel entry loop with the task layer.
func Init() {
	task.SetKernelEntry(taskEntry)
}

// taskEntry is the kernel entry loop of one task. Each turn resumes user
// execution from the task's saved trap context and handles the trap that
// brings it back. The loop only ends through an exit, which terminates the
// task's goroutine.
func taskEntry(tcb *task.TaskControlBlock) {
	for {
		tc := tcb.TrapContext()
		trap := cpu.Run(vmm.UserAccess(tcb.Token()), tc, SliceBudget)
		tcb.SaveTrapContext(tc)

		switch trap.Kind {
		case cpu.TrapSyscall:
			task.RecordSyscall(trap.SyscallID)
			ret := syscall.Dispatch(trap.SyscallID, trap.Args)

			// Re-read the context: exec installs a brand new one and
			// must not see it clobbered with the pre-exec registers.
			tc = tcb.TrapContext()
			tc.Regs[cpu.R0] = uint64(ret)
			tcb.SaveTrapContext(tc)

		case cpu.TrapTimer:
			task.SuspendCurrentAndRunNext()

		case cpu.TrapMemFault:
			kfmt.Printf("[kernel] memory fault at %x, killing pid %d\n", trap.Addr, tcb.Pid())
			task.ExitCurrentAndRunNext(exitCodeMemFault)

		case cpu.TrapIllegal:
			kfmt.Printf("[kernel] illegal instruction at %x, killing pid %d\n", trap.Addr, tcb.Pid())
			task.ExitCurrentAndRunNext(exitCodeIllegal)
		}
	}
}
