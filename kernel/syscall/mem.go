package syscall

import (
	"gokos/kernel/mm"
	"gokos/kernel/mm/vmm"
	"gokos/kernel/task"
)

// Permission bits accepted by sysMmap.
const (
	portRead  = 1 << 0
	portWrite = 1 << 1
	portExec  = 1 << 2
	portMask  = portRead | portWrite | portExec
)

// sysMmap maps length bytes of fresh zeroed memory at startVA with the
// permissions named by port. The start must be page aligned, the length non
// zero, port must name at least one permission and nothing else, and the
// range must not touch any existing mapping.
func sysMmap(startVA, length, port uint64) int64 {
	if length == 0 {
		return -1
	}
	if startVA%mm.PageSize != 0 {
		return -1
	}
	if port&portMask == 0 || port&^uint64(portMask) != 0 {
		return -1
	}

	endVA := uintptr(startVA + length)
	if endVA < uintptr(startVA) || endVA > mm.MaxUserPage.Address() {
		return -1
	}

	perms := vmm.FlagUser
	if port&portRead != 0 {
		perms |= vmm.FlagRead
	}
	if port&portWrite != 0 {
		perms |= vmm.FlagWrite
	}
	if port&portExec != 0 {
		perms |= vmm.FlagExec
	}

	if err := task.CurrentTask().Space().InsertFramedArea(uintptr(startVA), endVA, perms); err != nil {
		return -1
	}
	return 0
}

// sysMunmap unmaps length bytes starting at the page aligned startVA. The
// whole range must be mapped by removable areas or nothing is unmapped.
func sysMunmap(startVA, length uint64) int64 {
	if length == 0 {
		return -1
	}
	if startVA%mm.PageSize != 0 {
		return -1
	}

	if err := task.CurrentTask().Space().UnmapRange(uintptr(startVA), uintptr(length)); err != nil {
		return -1
	}
	return 0
}

// sysSbrk grows or shrinks the heap by delta bytes and returns the previous
// program break.
func sysSbrk(delta uint64) int64 {
	oldBrk, err := task.CurrentTask().Space().ChangeBrk(int64(delta))
	if err != nil {
		return -1
	}
	return int64(oldBrk)
}
