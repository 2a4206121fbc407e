package syscall

import (
	"bytes"
	"encoding/binary"
	"testing"

	"gokos/kernel/cpu"
	"gokos/kernel/kfmt"
	"gokos/kernel/loader"
	"gokos/kernel/mm"
	"gokos/kernel/mm/pmm"
	"gokos/kernel/mm/vmm"
	"gokos/kernel/task"
	"gokos/kernel/timer"
)

const (
	testEntry  = 0x10000
	testDataVA = 0x20000
)

func testImage(t *testing.T, entry uintptr) *loader.Image {
	t.Helper()

	code, err := cpu.NewAssembler().Li(cpu.R7, SysExit).Ecall().Assemble()
	if err != nil {
		t.Fatalf("unexpected Assemble error: %v", err)
	}

	return &loader.Image{
		Entry: entry,
		Segments: []loader.Segment{
			{VirtAddr: entry, Flags: loader.SegRead | loader.SegExec, MemSize: len(code), Data: code},
			{VirtAddr: testDataVA, Flags: loader.SegRead | loader.SegWrite, MemSize: mm.PageSize},
		},
	}
}

// runOnInit boots a fresh kernel with a single init task and runs script as
// its kernel-side execution, so syscall handlers see a current task.
func runOnInit(t *testing.T, script func(tcb *task.TaskControlBlock) int64) {
	t.Helper()

	pmm.Init(1024)
	timer.Reset()
	loader.Reset()

	kspace, err := vmm.NewKernelSpace(64)
	if err != nil {
		t.Fatalf("unexpected NewKernelSpace error: %v", err)
	}
	task.Init(kspace)
	task.SetKernelEntry(func(tcb *task.TaskControlBlock) {
		task.ExitCurrentAndRunNext(script(tcb))
	})

	loader.Register("init", testImage(t, testEntry))
	if err := task.CreateInitProc("init"); err != nil {
		t.Fatalf("unexpected CreateInitProc error: %v", err)
	}
	task.RunTasks()
}

func TestDispatchUnknownID(t *testing.T) {
	runOnInit(t, func(*task.TaskControlBlock) int64 {
		if ret := Dispatch(9999, [3]uint64{}); ret != -1 {
			t.Errorf("expected -1 for an unknown syscall id; got %d", ret)
		}
		return 0
	})
}

func TestSysGetPid(t *testing.T) {
	runOnInit(t, func(tcb *task.TaskControlBlock) int64 {
		if ret := Dispatch(SysGetPid, [3]uint64{}); ret != int64(tcb.Pid()) {
			t.Errorf("expected pid %d; got %d", tcb.Pid(), ret)
		}
		return 0
	})
}

func TestSysMmap(t *testing.T) {
	runOnInit(t, func(tcb *task.TaskControlBlock) int64 {
		specs := []struct {
			start, length, port uint64
		}{
			{0x30000, 0, 3},             // zero length
			{0x30001, mm.PageSize, 3},   // unaligned start
			{0x30000, mm.PageSize, 0},   // no permissions
			{0x30000, mm.PageSize, 0x8}, // bits outside the mask
			{testEntry, mm.PageSize, 3}, // collides with the code segment
		}
		for specIndex, spec := range specs {
			if ret := Dispatch(SysMmap, [3]uint64{spec.start, spec.length, spec.port}); ret != -1 {
				t.Errorf("[spec %d] expected mmap to fail with -1; got %d", specIndex, ret)
			}
		}

		if ret := Dispatch(SysMmap, [3]uint64{0x30000, 2*mm.PageSize - 1, 3}); ret != 0 {
			t.Fatalf("expected mmap to succeed; got %d", ret)
		}

		for _, page := range []mm.Page{mm.PageFromAddress(0x30000), mm.PageFromAddress(0x31000)} {
			pte, err := tcb.Space().Translate(page)
			if err != nil {
				t.Fatalf("expected page %x mapped; got error %v", page, err)
			}
			if !pte.HasFlags(vmm.FlagUser | vmm.FlagRead | vmm.FlagWrite) {
				t.Errorf("expected page %x to carry U|R|W; got %x", page, pte)
			}
			if pte.HasAnyFlag(vmm.FlagExec) {
				t.Errorf("expected page %x without X; got %x", page, pte)
			}
		}

		data := []byte{0xde, 0xad, 0xbe, 0xef}
		access := vmm.UserAccess(tcb.Token())
		if err := access.CopyOut(0x30ffe, data); err != nil {
			t.Fatalf("unexpected CopyOut error into the new mapping: %v", err)
		}
		got := make([]byte, 4)
		if err := access.CopyIn(0x30ffe, got); err != nil {
			t.Fatalf("unexpected CopyIn error: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("expected %x to round trip through the mapping; got %x", data, got)
		}

		if ret := Dispatch(SysMmap, [3]uint64{0x31000, mm.PageSize, 1}); ret != -1 {
			t.Errorf("expected a second mmap over the same range to fail; got %d", ret)
		}
		return 0
	})
}

func TestSysMunmap(t *testing.T) {
	runOnInit(t, func(tcb *task.TaskControlBlock) int64 {
		if ret := Dispatch(SysMmap, [3]uint64{0x30000, 3 * mm.PageSize, 3}); ret != 0 {
			t.Fatalf("expected mmap to succeed; got %d", ret)
		}

		if ret := Dispatch(SysMunmap, [3]uint64{0x30001, mm.PageSize}); ret != -1 {
			t.Errorf("expected munmap of an unaligned start to fail; got %d", ret)
		}
		if ret := Dispatch(SysMunmap, [3]uint64{0x50000, mm.PageSize}); ret != -1 {
			t.Errorf("expected munmap of an unmapped range to fail; got %d", ret)
		}

		if ret := Dispatch(SysMunmap, [3]uint64{0x31000, mm.PageSize}); ret != 0 {
			t.Fatalf("expected munmap of the middle page to succeed; got %d", ret)
		}
		if _, err := tcb.Space().Translate(mm.PageFromAddress(0x31000)); err == nil {
			t.Error("expected the middle page gone after munmap")
		}
		for _, va := range []uintptr{0x30000, 0x32000} {
			if _, err := tcb.Space().Translate(mm.PageFromAddress(va)); err != nil {
				t.Errorf("expected page at %#x to survive the partial munmap; got %v", va, err)
			}
		}

		// The hole can be mapped again.
		if ret := Dispatch(SysMmap, [3]uint64{0x31000, mm.PageSize, 1}); ret != 0 {
			t.Errorf("expected remapping the hole to succeed; got %d", ret)
		}
		return 0
	})
}

func TestSysSbrk(t *testing.T) {
	runOnInit(t, func(tcb *task.TaskControlBlock) int64 {
		bottom, brk := tcb.Space().HeapBounds()
		if bottom != brk {
			t.Fatalf("expected an empty heap at boot; got bottom %#x brk %#x", bottom, brk)
		}

		if ret := Dispatch(SysSbrk, [3]uint64{0}); ret != int64(brk) {
			t.Errorf("expected sbrk(0) to return the break %#x; got %#x", brk, ret)
		}
		if ret := Dispatch(SysSbrk, [3]uint64{mm.PageSize}); ret != int64(brk) {
			t.Errorf("expected sbrk to return the previous break %#x; got %#x", brk, ret)
		}

		access := vmm.UserAccess(tcb.Token())
		if err := access.CopyOut(bottom, []byte{1, 2, 3}); err != nil {
			t.Errorf("unexpected CopyOut error into the grown heap: %v", err)
		}

		negPage := int64(-mm.PageSize)
		if ret := Dispatch(SysSbrk, [3]uint64{uint64(negPage)}); ret != int64(brk+mm.PageSize) {
			t.Errorf("expected sbrk(-page) to return %#x; got %#x", brk+mm.PageSize, ret)
		}
		if err := access.CopyOut(bottom, []byte{1}); err == nil {
			t.Error("expected the shrunk heap page to be unmapped")
		}

		if ret := Dispatch(SysSbrk, [3]uint64{uint64(negPage)}); ret != -1 {
			t.Errorf("expected shrinking below the heap bottom to fail; got %d", ret)
		}
		return 0
	})
}

func TestSysGetTime(t *testing.T) {
	runOnInit(t, func(tcb *task.TaskControlBlock) int64 {
		timer.Advance(2_345_678)

		if ret := Dispatch(SysGetTime, [3]uint64{testDataVA}); ret != 0 {
			t.Fatalf("expected get_time to succeed; got %d", ret)
		}

		var buf [16]byte
		if err := vmm.UserAccess(tcb.Token()).CopyIn(testDataVA, buf[:]); err != nil {
			t.Fatalf("unexpected CopyIn error: %v", err)
		}
		if sec := binary.LittleEndian.Uint64(buf[:]); sec != 2 {
			t.Errorf("expected 2 seconds; got %d", sec)
		}
		if usec := binary.LittleEndian.Uint64(buf[8:]); usec != 345678 {
			t.Errorf("expected 345678 microseconds; got %d", usec)
		}

		if ret := Dispatch(SysGetTime, [3]uint64{0x50000}); ret != -1 {
			t.Errorf("expected get_time with an unmapped pointer to fail; got %d", ret)
		}
		return 0
	})
}

func TestSysTaskInfo(t *testing.T) {
	runOnInit(t, func(tcb *task.TaskControlBlock) int64 {
		task.RecordSyscall(SysYield)
		task.RecordSyscall(SysYield)
		timer.Advance(7_000)
		task.RecordSyscall(SysTaskInfo)

		if ret := Dispatch(SysTaskInfo, [3]uint64{testDataVA}); ret != 0 {
			t.Fatalf("expected task_info to succeed; got %d", ret)
		}

		var buf [task.TaskInfoSize]byte
		if err := vmm.UserAccess(tcb.Token()).CopyIn(testDataVA, buf[:]); err != nil {
			t.Fatalf("unexpected CopyIn error: %v", err)
		}

		if status := binary.LittleEndian.Uint64(buf[:]); status != uint64(task.StatusRunning) {
			t.Errorf("expected Running status; got %d", status)
		}
		if count := binary.LittleEndian.Uint32(buf[8+SysYield*4:]); count != 2 {
			t.Errorf("expected 2 recorded yields; got %d", count)
		}
		if count := binary.LittleEndian.Uint32(buf[8+SysTaskInfo*4:]); count != 1 {
			t.Errorf("expected 1 recorded task_info; got %d", count)
		}
		if ms := binary.LittleEndian.Uint64(buf[8+task.MaxSyscallNum*4:]); ms != 7 {
			t.Errorf("expected 7ms since the first syscall; got %d", ms)
		}
		return 0
	})
}

func TestSysWrite(t *testing.T) {
	var console bytes.Buffer
	kfmt.SetOutputSink(&console)

	runOnInit(t, func(tcb *task.TaskControlBlock) int64 {
		msg := []byte("hello from pid 0\n")
		access := vmm.UserAccess(tcb.Token())
		if err := access.CopyOut(testDataVA, msg); err != nil {
			t.Fatalf("unexpected CopyOut error: %v", err)
		}

		if ret := Dispatch(SysWrite, [3]uint64{1, testDataVA, uint64(len(msg))}); ret != int64(len(msg)) {
			t.Errorf("expected write to report %d bytes; got %d", len(msg), ret)
		}
		if ret := Dispatch(SysWrite, [3]uint64{7, testDataVA, 1}); ret != -1 {
			t.Errorf("expected write to an unbound fd to fail; got %d", ret)
		}
		if ret := Dispatch(SysWrite, [3]uint64{1, 0x50000, 4}); ret != -1 {
			t.Errorf("expected write from an unmapped buffer to fail; got %d", ret)
		}
		return 0
	})

	if got := console.String(); got != "hello from pid 0\n" {
		t.Errorf("expected the message on the console; got %q", got)
	}
}

func TestSysForkExecWait(t *testing.T) {
	childRan := false

	runOnInit(t, func(tcb *task.TaskControlBlock) int64 {
		if tcb.Pid() != 0 {
			childRan = true
			return 5
		}

		childPid := Dispatch(SysFork, [3]uint64{})
		if childPid <= 0 {
			t.Fatalf("expected fork to return a positive child pid; got %d", childPid)
		}

		for {
			ret := Dispatch(SysWaitPid, [3]uint64{uint64(childPid), testDataVA})
			if ret == -2 {
				Dispatch(SysYield, [3]uint64{})
				continue
			}
			if ret != childPid {
				t.Errorf("expected waitpid to return the child pid %d; got %d", childPid, ret)
			}
			break
		}

		var buf [8]byte
		if err := vmm.UserAccess(tcb.Token()).CopyIn(testDataVA, buf[:]); err != nil {
			t.Fatalf("unexpected CopyIn error: %v", err)
		}
		if code := int64(binary.LittleEndian.Uint64(buf[:])); code != 5 {
			t.Errorf("expected the child's exit code 5; got %d", code)
		}

		// Exec into a different image and check the fresh trap context.
		loader.Register("other", testImage(t, 0x18000))
		path := append([]byte("other"), 0)
		if err := vmm.UserAccess(tcb.Token()).CopyOut(testDataVA, path); err != nil {
			t.Fatalf("unexpected CopyOut error: %v", err)
		}

		if ret := Dispatch(SysExec, [3]uint64{0x50000}); ret != -1 {
			t.Errorf("expected exec with a bad path pointer to fail; got %d", ret)
		}
		if ret := Dispatch(SysExec, [3]uint64{testDataVA}); ret != 0 {
			t.Fatalf("expected exec to succeed; got %d", ret)
		}
		if pc := tcb.TrapContext().PC; pc != 0x18000 {
			t.Errorf("expected the new image's entry 0x18000 in the trap context; got %#x", pc)
		}
		return 0
	})

	if !childRan {
		t.Error("expected the forked child to run")
	}
}
