package syscall

import (
	"gokos/kernel/mm/vmm"
	"gokos/kernel/task"
)

// maxWriteLen caps a single write so a bogus length cannot make the kernel
// stage an enormous buffer.
const maxWriteLen = 1 << 20

// sysWrite copies length bytes at bufVA out of the caller's address space
// and hands them to the file bound to fd. Returns the number of bytes
// written.
func sysWrite(fd, bufVA, length uint64) int64 {
	if length > maxWriteLen {
		return -1
	}

	tcb := task.CurrentTask()
	file := tcb.FDEntry(int(int64(fd)))
	if file == nil {
		return -1
	}

	buf := make([]byte, length)
	if err := vmm.UserAccess(tcb.Token()).CopyIn(uintptr(bufVA), buf); err != nil {
		return -1
	}

	n, err := file.Write(buf)
	if err != nil {
		return -1
	}
	return int64(n)
}
