package syscall

import (
	"encoding/binary"

	"gokos/kernel/loader"
	"gokos/kernel/mm/vmm"
	"gokos/kernel/task"
	"gokos/kernel/timer"
)

// sysExit terminates the current task with the given code. It never
// returns.
func sysExit(code uint64) int64 {
	task.ExitCurrentAndRunNext(int64(int32(code)))
	return 0
}

// sysYield gives up the rest of the time slice.
func sysYield() int64 {
	task.SuspendCurrentAndRunNext()
	return 0
}

func sysGetPid() int64 {
	return int64(task.CurrentTask().Pid())
}

// sysFork duplicates the current task and schedules the child. The parent
// receives the child's pid; the child's result register was already forced
// to 0 when its address space was copied.
func sysFork() int64 {
	child, err := task.CurrentTask().Fork()
	if err != nil {
		return -1
	}
	task.AddTask(child)
	return int64(child.Pid())
}

// sysExec replaces the current program with the registered image named by
// the NUL-terminated string at pathVA.
func sysExec(pathVA uint64) int64 {
	tcb := task.CurrentTask()

	path, err := vmm.UserAccess(tcb.Token()).ReadString(uintptr(pathVA), maxPathLen)
	if err != nil {
		return -1
	}

	img, err := loader.Lookup(path)
	if err != nil {
		return -1
	}

	if err := tcb.Exec(img); err != nil {
		return -1
	}
	return 0
}

// sysWaitPid reaps an exited child. pid -1 matches any child; the child's
// exit code is written to outVA unless it is 0.
func sysWaitPid(pid, outVA uint64) int64 {
	return task.WaitPID(int64(pid), uintptr(outVA))
}

// sysGetTime writes the current time as two little endian uint64 fields,
// seconds then microseconds, to tsVA.
func sysGetTime(tsVA uint64) int64 {
	us := timer.NowUS()

	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:], us/1_000_000)
	binary.LittleEndian.PutUint64(buf[8:], us%1_000_000)

	if err := vmm.UserAccess(task.CurrentUserToken()).CopyOut(uintptr(tsVA), buf[:]); err != nil {
		return -1
	}
	return 0
}

// sysTaskInfo writes the current task's accounting record to tiVA.
func sysTaskInfo(tiVA uint64) int64 {
	info, ok := task.CurrentTaskInfo()
	if !ok {
		return -1
	}

	var buf [task.TaskInfoSize]byte
	info.EncodeTo(buf[:])

	if err := vmm.UserAccess(task.CurrentUserToken()).CopyOut(uintptr(tiVA), buf[:]); err != nil {
		return -1
	}
	return 0
}
