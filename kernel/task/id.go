package task

import (
	"gokos/kernel"
	"gokos/kernel/mm"
	"gokos/kernel/mm/vmm"
)

// pidAllocator hands out process ids, recycling released ones.
type pidAllocator struct {
	next     int
	recycled []int
}

func (alloc *pidAllocator) alloc() int {
	if n := len(alloc.recycled); n > 0 {
		pid := alloc.recycled[n-1]
		alloc.recycled = alloc.recycled[:n-1]
		return pid
	}

	pid := alloc.next
	alloc.next++
	return pid
}

func (alloc *pidAllocator) dealloc(pid int) {
	alloc.recycled = append(alloc.recycled, pid)
}

// KernelStack is a task's kernel stack: a framed area in the kernel address
// space, carved top-down by pid with an unmapped guard page between
// neighbouring stacks.
type KernelStack struct {
	pid int
}

// kernelStackRange returns the page range for the kernel stack of pid.
func kernelStackRange(pid int) (start, end mm.Page) {
	end = mm.KernelStackTopPage - mm.Page(pid)*(mm.KernelStackPages+1)
	return end - mm.KernelStackPages, end
}

// allocKernelStack maps a fresh kernel stack for pid into the kernel address
// space.
func allocKernelStack(pid int) (KernelStack, *kernel.Error) {
	start, end := kernelStackRange(pid)
	if err := kernelSpace.InsertFramedArea(start.Address(), end.Address(), vmm.FlagRead|vmm.FlagWrite); err != nil {
		return KernelStack{}, err
	}
	return KernelStack{pid: pid}, nil
}

// Top returns the highest address of the stack, where execution begins.
func (ks KernelStack) Top() uintptr {
	_, end := kernelStackRange(ks.pid)
	return end.Address()
}

// dealloc unmaps the stack and returns its frames to the allocator.
func (ks KernelStack) dealloc() {
	start, _ := kernelStackRange(ks.pid)
	if err := kernelSpace.RemoveAreaMatching(start); err != nil {
		kernel.Panic(&kernel.Error{Module: "task", Message: "kernel stack area missing on dealloc"})
	}
}
