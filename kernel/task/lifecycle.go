package task

import (
	"encoding/binary"
	"runtime"

	"gokos/kernel"
	"gokos/kernel/kfmt"
	"gokos/kernel/loader"
	"gokos/kernel/mm/vmm"
	"gokos/kernel/timer"
)

var (
	manager     *TaskManager
	processor   *Processor
	pidAlloc    *pidAllocator
	kernelSpace *vmm.MemorySet
	initProc    *TaskControlBlock

	shutdownRequested bool

	// kernelEntryFn is the loop a task's kernel goroutine runs once it
	// first receives the core. The trap layer registers it at boot so
	// this package does not depend on trap handling.
	kernelEntryFn func(*TaskControlBlock)
)

// Init constructs the process-wide scheduling services on top of kspace,
// the kernel address space that hosts per-task kernel stacks.
func Init(kspace *vmm.MemorySet) {
	manager = &TaskManager{}
	processor = newProcessor()
	pidAlloc = &pidAllocator{}
	kernelSpace = kspace
	initProc = nil
	shutdownRequested = false
}

// SetKernelEntry registers the kernel entry loop run by every task
// goroutine.
func SetKernelEntry(fn func(*TaskControlBlock)) {
	kernelEntryFn = fn
}

// CreateInitProc builds the first user process from the named registered
// image and enqueues it. Every orphaned task is later reparented to it.
func CreateInitProc(name string) *kernel.Error {
	img, err := loader.Lookup(name)
	if err != nil {
		return err
	}

	tcb, err := NewTask(img)
	if err != nil {
		return err
	}

	initProc = tcb
	manager.Enqueue(tcb)
	return nil
}

// InitProc returns the first user process.
func InitProc() *TaskControlBlock { return initProc }

// CurrentTask returns the task holding the core.
func CurrentTask() *TaskControlBlock { return processor.CurrentTask() }

// CurrentUserToken returns the address space token of the current task.
func CurrentUserToken() uintptr { return processor.CurrentTask().Token() }

// AddTask appends a Ready task to the scheduler queue.
func AddTask(tcb *TaskControlBlock) { manager.Enqueue(tcb) }

// SuspendCurrentAndRunNext puts the current task back at the tail of the
// ready queue and hands the core to the scheduler. The call returns when
// the scheduler picks the task again.
func SuspendCurrentAndRunNext() {
	tcb := processor.takeCurrent()
	if tcb == nil {
		kernel.Panic(&kernel.Error{Module: "task", Message: "suspend with no current task"})
	}

	inner := tcb.acquireInner()
	inner.status = StatusReady
	save := inner.taskCtx
	tcb.releaseInner()

	manager.Enqueue(tcb)
	processor.schedule(save)
}

// ExitCurrentAndRunNext terminates the current task: it turns Zombie with
// the given exit code, its children are reparented to the init process, its
// user frames are recycled and its descriptor table dropped. The pid,
// kernel stack and page table skeleton stay until the parent reaps it with
// WaitPID. The call never returns; the core goes to the scheduler and the
// task's goroutine ends. When the init process itself exits the scheduler
// shuts down.
func ExitCurrentAndRunNext(code int64) {
	tcb := processor.takeCurrent()
	if tcb == nil {
		kernel.Panic(&kernel.Error{Module: "task", Message: "exit with no current task"})
	}

	if tcb == initProc {
		kfmt.Printf("[kernel] init process exited with code %d, shutting down\n", code)
		shutdownRequested = true
	}

	inner := tcb.acquireInner()
	inner.status = StatusZombie
	inner.exitCode = code

	if tcb != initProc && initProc != nil && len(inner.children) > 0 {
		initInner := initProc.acquireInner()
		for _, child := range inner.children {
			childInner := child.acquireInner()
			childInner.parent = initProc
			child.releaseInner()
			initInner.children = append(initInner.children, child)
		}
		initProc.releaseInner()
	}
	inner.children = nil
	inner.fdTable = nil
	inner.space.RecycleDataPages()
	tcb.releaseInner()

	idle := processor.idleCtx
	switchFinal(idle)
	runtime.Goexit()
}

// WaitPID reaps a Zombie child. pid -1 matches any child. It returns -1
// when no child matches, -2 when a match exists but none has exited yet,
// and otherwise the reaped child's pid after writing its exit code through
// the caller's address space at outVA (skipped when outVA is 0). A reaped
// child releases its pid, kernel stack and page table for good.
func WaitPID(pid int64, outVA uintptr) int64 {
	tcb := processor.CurrentTask()
	if tcb == nil {
		return -1
	}

	inner := tcb.acquireInner()

	matched := false
	var zombie *TaskControlBlock
	zombieIdx := -1
	for i, child := range inner.children {
		if pid != -1 && int64(child.pid) != pid {
			continue
		}
		matched = true
		if child.Status() == StatusZombie {
			zombie = child
			zombieIdx = i
			break
		}
	}

	if zombie == nil {
		tcb.releaseInner()
		if !matched {
			return -1
		}
		return -2
	}

	token := inner.space.Token()
	tcb.releaseInner()

	code := zombie.ExitCode()
	if outVA != 0 {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(code))
		if err := vmm.UserAccess(token).CopyOut(outVA, buf[:]); err != nil {
			return -1
		}
	}

	inner = tcb.acquireInner()
	inner.children = append(inner.children[:zombieIdx], inner.children[zombieIdx+1:]...)
	tcb.releaseInner()

	reapTask(zombie)
	return int64(zombie.pid)
}

// reapTask releases the last resources of a Zombie: its address space
// skeleton, kernel stack and pid. The task must not be runnable anywhere.
func reapTask(zombie *TaskControlBlock) {
	if manager.Contains(zombie) || processor.CurrentTask() == zombie {
		kernel.Panic(&kernel.Error{Module: "task", Message: "reaping a task that is still scheduled"})
	}

	inner := zombie.acquireInner()
	if inner.status != StatusZombie {
		zombie.releaseInner()
		kernel.Panic(&kernel.Error{Module: "task", Message: "reaping a task that has not exited"})
	}
	inner.space.Release()
	inner.space = nil
	zombie.releaseInner()

	zombie.kstack.dealloc()
	pidAlloc.dealloc(zombie.pid)
}

// RecordSyscall updates the current task's accounting for one issued
// syscall: the per-id counter and the wall time since the task's first
// syscall.
func RecordSyscall(id uint64) {
	tcb := processor.CurrentTask()
	if tcb == nil {
		return
	}

	inner := tcb.acquireInner()
	now := timer.NowMS()
	if !inner.startSet {
		inner.startSet = true
		inner.startMS = now
	}
	if id < MaxSyscallNum {
		inner.info.SyscallTimes[id]++
	}
	inner.info.TimeMS = now - inner.startMS
	inner.info.Status = inner.status
	tcb.releaseInner()
}

// CurrentTaskInfo returns a copy of the current task's accounting record.
func CurrentTaskInfo() (TaskInfo, bool) {
	tcb := processor.CurrentTask()
	if tcb == nil {
		return TaskInfo{}, false
	}

	inner := tcb.acquireInner()
	now := timer.NowMS()
	if inner.startSet {
		inner.info.TimeMS = now - inner.startMS
	}
	inner.info.Status = inner.status
	info := inner.info
	tcb.releaseInner()
	return info, true
}
