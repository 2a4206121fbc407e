// Package syscall dispatches trapped syscalls to their handlers. Handlers
// are total: every malformed argument yields -1 rather than a kernel fault.
package syscall

// Syscall ids.
const (
	SysWrite    = 64
	SysExit     = 93
	SysYield    = 124
	SysGetTime  = 169
	SysGetPid   = 172
	SysSbrk     = 214
	SysMunmap   = 215
	SysFork     = 220
	SysExec     = 221
	SysMmap     = 222
	SysWaitPid  = 260
	SysTaskInfo = 410
)

// maxPathLen bounds the path string read from user memory by exec.
const maxPathLen = 255

// Dispatch routes one trapped syscall to its handler and returns the value
// to store in the task's result register. Unknown ids return -1.
func Dispatch(id uint64, args [3]uint64) int64 {
	switch id {
	case SysWrite:
		return sysWrite(args[0], args[1], args[2])
	case SysExit:
		return sysExit(args[0])
	case SysYield:
		return sysYield()
	case SysGetTime:
		return sysGetTime(args[0])
	case SysGetPid:
		return sysGetPid()
	case SysSbrk:
		return sysSbrk(args[0])
	case SysMunmap:
		return sysMunmap(args[0], args[1])
	case SysFork:
		return sysFork()
	case SysExec:
		return sysExec(args[0])
	case SysMmap:
		return sysMmap(args[0], args[1], args[2])
	case SysWaitPid:
		return sysWaitPid(args[0], args[1])
	case SysTaskInfo:
		return sysTaskInfo(args[0])
	default:
		return -1
	}
}
