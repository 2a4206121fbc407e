package task

import (
	"gokos/kernel"
	"gokos/kernel/cpu"
	"gokos/kernel/loader"
	"gokos/kernel/mm"
	"gokos/kernel/mm/vmm"
	"gokos/kernel/sync"
)

// TaskStatus tracks where a task is in its lifecycle.
type TaskStatus uint8

const (
	// StatusReady marks a task waiting in the ready queue.
	StatusReady TaskStatus = iota

	// StatusRunning marks the task currently holding the core.
	StatusRunning

	// StatusZombie marks an exited task waiting to be reaped by its
	// parent.
	StatusZombie
)

// TaskControlBlock describes one task. The immutable identity (pid, kernel
// stack) is set at creation; everything else lives in the inner block and
// must be reached through acquireInner.
type TaskControlBlock struct {
	pid    int
	kstack KernelStack

	cell  sync.Cell
	inner taskInner
}

// taskInner is the mutable state of a task, guarded by the TCB's cell.
type taskInner struct {
	status   TaskStatus
	space    *vmm.MemorySet
	taskCtx  *TaskContext
	exitCode int64

	// parent is a backreference only; it is never used to keep the
	// parent alive past reaping.
	parent   *TaskControlBlock
	children []*TaskControlBlock

	fdTable []File

	info     TaskInfo
	startMS  uint64
	startSet bool
}

// acquireInner grants exclusive access to the mutable state. The caller
// must pair it with releaseInner; re-entrant acquisition is a kernel bug
// and halts.
func (tcb *TaskControlBlock) acquireInner() *taskInner {
	tcb.cell.Acquire()
	return &tcb.inner
}

func (tcb *TaskControlBlock) releaseInner() {
	tcb.cell.Release()
}

// Pid returns the task's process id.
func (tcb *TaskControlBlock) Pid() int { return tcb.pid }

// Status returns the task's current lifecycle status.
func (tcb *TaskControlBlock) Status() TaskStatus {
	inner := tcb.acquireInner()
	status := inner.status
	tcb.releaseInner()
	return status
}

// Token returns the address space token of the task.
func (tcb *TaskControlBlock) Token() uintptr {
	inner := tcb.acquireInner()
	token := inner.space.Token()
	tcb.releaseInner()
	return token
}

// Space returns the task's address space. The cooperative core handoff
// guarantees nothing else mutates it while the caller runs.
func (tcb *TaskControlBlock) Space() *vmm.MemorySet {
	inner := tcb.acquireInner()
	space := inner.space
	tcb.releaseInner()
	return space
}

// ExitCode returns the code an exited task left behind.
func (tcb *TaskControlBlock) ExitCode() int64 {
	inner := tcb.acquireInner()
	code := inner.exitCode
	tcb.releaseInner()
	return code
}

// NewTask builds a task from a program image: fresh pid, kernel stack,
// address space and initial trap context. The task is left Ready but not
// enqueued; its kernel goroutine parks until the scheduler first switches
// to it.
func NewTask(img *loader.Image) (*TaskControlBlock, *kernel.Error) {
	pid := pidAlloc.alloc()

	kstack, err := allocKernelStack(pid)
	if err != nil {
		pidAlloc.dealloc(pid)
		return nil, err
	}

	space, entry, userSP, err := vmm.NewUserSpace(img)
	if err != nil {
		kstack.dealloc()
		pidAlloc.dealloc(pid)
		return nil, err
	}

	tcb := &TaskControlBlock{pid: pid, kstack: kstack}
	tcb.inner = taskInner{
		status:  StatusReady,
		space:   space,
		taskCtx: newTaskContext(),
		fdTable: newFDTable(),
	}

	tc := cpu.NewTrapContext(entry, userSP, kstack.Top(), space.Token())
	if err := writeTrapContext(space, tc); err != nil {
		space.Release()
		kstack.dealloc()
		pidAlloc.dealloc(pid)
		return nil, err
	}

	go taskMain(tcb)
	return tcb, nil
}

// Fork duplicates the task: a copy of its address space (trap context
// included, since it lives inside), a fresh pid and kernel stack, the same
// descriptor table and zeroed accounting. The child's R0 is forced to 0 so
// the two tasks can tell each other apart; the child is left Ready but not
// enqueued.
func (tcb *TaskControlBlock) Fork() (*TaskControlBlock, *kernel.Error) {
	inner := tcb.acquireInner()

	space, err := vmm.NewFromExisting(inner.space)
	if err != nil {
		tcb.releaseInner()
		return nil, err
	}

	pid := pidAlloc.alloc()
	kstack, err := allocKernelStack(pid)
	if err != nil {
		space.Release()
		pidAlloc.dealloc(pid)
		tcb.releaseInner()
		return nil, err
	}

	child := &TaskControlBlock{pid: pid, kstack: kstack}
	child.inner = taskInner{
		status:  StatusReady,
		space:   space,
		taskCtx: newTaskContext(),
		parent:  tcb,
		fdTable: append([]File(nil), inner.fdTable...),
	}

	// The copied trap context still names the parent's kernel stack and
	// space token; repoint it and zero the child's syscall result.
	tc, err := readTrapContext(space)
	if err != nil {
		kernel.Panic(err)
	}
	tc.Regs[cpu.R0] = 0
	tc.KernelSP = uint64(kstack.Top())
	tc.SpaceToken = uint64(space.Token())
	if err := writeTrapContext(space, tc); err != nil {
		kernel.Panic(err)
	}

	inner.children = append(inner.children, child)
	tcb.releaseInner()

	go taskMain(child)
	return child, nil
}

// Exec replaces the task's program with img: a brand new address space and
// trap context while the pid, kernel stack, descriptor table, children and
// accounting all carry over. The old address space is torn down.
func (tcb *TaskControlBlock) Exec(img *loader.Image) *kernel.Error {
	space, entry, userSP, err := vmm.NewUserSpace(img)
	if err != nil {
		return err
	}

	tc := cpu.NewTrapContext(entry, userSP, tcb.kstack.Top(), space.Token())
	if err := writeTrapContext(space, tc); err != nil {
		space.Release()
		return err
	}

	inner := tcb.acquireInner()
	old := inner.space
	inner.space = space
	tcb.releaseInner()

	old.Release()
	return nil
}

// taskMain is the body of a task's kernel goroutine. It parks until the
// scheduler first hands the task the core token, then enters the kernel
// entry loop. The loop never returns; the exit path terminates the
// goroutine directly.
func taskMain(tcb *TaskControlBlock) {
	<-tcb.inner.taskCtx.gate
	kernelEntryFn(tcb)
}

// TrapContext reads the task's saved user state from the trap context page
// of its address space.
func (tcb *TaskControlBlock) TrapContext() *cpu.TrapContext {
	inner := tcb.acquireInner()
	space := inner.space
	tcb.releaseInner()

	tc, err := readTrapContext(space)
	if err != nil {
		kernel.Panic(err)
	}
	return tc
}

// SaveTrapContext writes the saved user state back to the trap context page.
func (tcb *TaskControlBlock) SaveTrapContext(tc *cpu.TrapContext) {
	inner := tcb.acquireInner()
	space := inner.space
	tcb.releaseInner()

	if err := writeTrapContext(space, tc); err != nil {
		kernel.Panic(err)
	}
}

// fdEntry returns the file bound to fd, or nil.
func (tcb *TaskControlBlock) fdEntry(fd int) File {
	inner := tcb.acquireInner()
	defer tcb.releaseInner()

	if fd < 0 || fd >= len(inner.fdTable) {
		return nil
	}
	return inner.fdTable[fd]
}

// FDEntry returns the file bound to fd in the task's descriptor table, or
// nil when fd is out of range or closed.
func (tcb *TaskControlBlock) FDEntry(fd int) File { return tcb.fdEntry(fd) }

func trapContextVA() uintptr { return mm.TrapContextPage.Address() }

func readTrapContext(space *vmm.MemorySet) (*cpu.TrapContext, *kernel.Error) {
	var buf [cpu.TrapContextSize]byte
	if err := vmm.KernelAccess(space.PageTable()).CopyIn(trapContextVA(), buf[:]); err != nil {
		return nil, err
	}
	tc := new(cpu.TrapContext)
	tc.DecodeFrom(buf[:])
	return tc, nil
}

func writeTrapContext(space *vmm.MemorySet, tc *cpu.TrapContext) *kernel.Error {
	var buf [cpu.TrapContextSize]byte
	tc.EncodeTo(buf[:])
	return vmm.KernelAccess(space.PageTable()).CopyOut(trapContextVA(), buf[:])
}
