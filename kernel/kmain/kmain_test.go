package kmain

import (
	"bytes"
	"strings"
	"testing"

	"gokos/kernel/cpu"
	"gokos/kernel/kfmt"
	"gokos/kernel/loader"
	"gokos/kernel/mm"
)

const (
	progEntry  = 0x10000
	progDataVA = 0x20000
)

// registerProgram assembles a user program and registers it under name,
// with a writable data page at progDataVA seeded with data.
func registerProgram(t *testing.T, name string, asm *cpu.Assembler, data []byte) {
	t.Helper()

	code, err := asm.Assemble()
	if err != nil {
		t.Fatalf("unexpected Assemble error for %q: %v", name, err)
	}

	loader.Register(name, &loader.Image{
		Entry: progEntry,
		Segments: []loader.Segment{
			{VirtAddr: progEntry, Flags: loader.SegRead | loader.SegExec, MemSize: len(code), Data: code},
			{VirtAddr: progDataVA, Flags: loader.SegRead | loader.SegWrite, MemSize: mm.PageSize, Data: data},
		},
	})
}

// boot runs the kernel with the registered programs and returns the init
// exit code and everything printed to the console.
func boot(t *testing.T) (int64, string) {
	t.Helper()

	var console bytes.Buffer
	kfmt.SetOutputSink(&console)

	code, err := Kmain(DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected Kmain error: %v", err)
	}
	return code, console.String()
}

func TestKmainWriteAndExit(t *testing.T) {
	loader.Reset()
	registerProgram(t, "init", cpu.NewAssembler().
		Li(cpu.R0, 1).
		Li(cpu.R1, progDataVA).
		Li(cpu.R2, 4).
		Li(cpu.R7, 64). // write
		Ecall().
		Mov(cpu.R3, cpu.R0).
		Li(cpu.R0, 0).
		Li(cpu.R7, 93). // exit
		Ecall(),
		[]byte("hi!\n"))

	code, console := boot(t)
	if code != 0 {
		t.Errorf("expected exit code 0; got %d", code)
	}
	if !strings.Contains(console, "hi!\n") {
		t.Errorf("expected the program's message on the console; got %q", console)
	}
}

func TestKmainMissingInitProgram(t *testing.T) {
	loader.Reset()
	if _, err := Kmain(DefaultConfig()); err == nil {
		t.Fatal("expected an error when the init image is not registered")
	}
	if _, err := Kmain(Config{TotalFrames: 64}); err != errNoInitProgram {
		t.Fatalf("expected errNoInitProgram; got %v", err)
	}
}

func TestKmainForkWaitPropagatesExitCode(t *testing.T) {
	loader.Reset()
	registerProgram(t, "init", cpu.NewAssembler().
		Li(cpu.R7, 220). // fork
		Ecall().
		Li(cpu.R3, 0).
		Bne(cpu.R0, cpu.R3, "parent").
		// Child: exit with code 7.
		Li(cpu.R0, 7).
		Li(cpu.R7, 93).
		Ecall().
		Label("parent").
		Mov(cpu.R4, cpu.R0).
		Label("wait").
		Mov(cpu.R0, cpu.R4).
		Li(cpu.R1, progDataVA).
		Li(cpu.R7, 260). // waitpid
		Ecall().
		Li(cpu.R5, -2).
		Bne(cpu.R0, cpu.R5, "reaped").
		Li(cpu.R7, 124). // yield while the child still runs
		Ecall().
		Jmp("wait").
		Label("reaped").
		// Exit with the child's exit code, read back from memory.
		Li(cpu.R1, progDataVA).
		Ld(cpu.R0, cpu.R1, 0).
		Li(cpu.R7, 93).
		Ecall(),
		nil)

	code, _ := boot(t)
	if code != 7 {
		t.Errorf("expected the child's exit code 7 to propagate; got %d", code)
	}
}

func TestKmainYieldInterleavesTasks(t *testing.T) {
	loader.Reset()

	// Parent prints "P" twice, child prints "C" twice, yielding in
	// between. FIFO scheduling interleaves them strictly.
	write := func(asm *cpu.Assembler, off int32) *cpu.Assembler {
		return asm.
			Li(cpu.R0, 1).
			Li(cpu.R1, progDataVA).
			Addi(cpu.R1, cpu.R1, off).
			Li(cpu.R2, 1).
			Li(cpu.R7, 64).
			Ecall()
	}

	asm := cpu.NewAssembler().
		Li(cpu.R7, 220). // fork
		Ecall().
		Li(cpu.R3, 0).
		Beq(cpu.R0, cpu.R3, "child")
	asm = write(asm, 0). // "P"
		Li(cpu.R7, 124).
		Ecall()
	asm = write(asm, 0).
		Label("wait").
		Li(cpu.R0, -1).
		Li(cpu.R1, 0).
		Li(cpu.R7, 260). // waitpid any, discard status
		Ecall().
		Li(cpu.R5, -2).
		Bne(cpu.R0, cpu.R5, "reaped").
		Li(cpu.R7, 124).
		Ecall().
		Jmp("wait").
		Label("reaped").
		Li(cpu.R0, 0).
		Li(cpu.R7, 93).
		Ecall().
		Label("child")
	asm = write(asm, 1). // "C"
		Li(cpu.R7, 124).
		Ecall()
	asm = write(asm, 1).
		Li(cpu.R0, 3).
		Li(cpu.R7, 93).
		Ecall()

	registerProgram(t, "init", asm, []byte("PC"))

	_, console := boot(t)
	if !strings.Contains(console, "PCPC") {
		t.Errorf("expected strict FIFO interleaving PCPC on the console; got %q", console)
	}
}

func TestKmainMmapRoundTrip(t *testing.T) {
	loader.Reset()
	registerProgram(t, "init", cpu.NewAssembler().
		Li(cpu.R0, 0x30000).
		Li(cpu.R1, mm.PageSize).
		Li(cpu.R2, 3). // read|write
		Li(cpu.R7, 222).
		Ecall().
		Li(cpu.R3, 0).
		Bne(cpu.R0, cpu.R3, "fail").
		Li(cpu.R1, 0x30000).
		Li(cpu.R2, 42).
		Sd(cpu.R2, cpu.R1, 16).
		Ld(cpu.R0, cpu.R1, 16).
		Li(cpu.R7, 93).
		Ecall().
		Label("fail").
		Li(cpu.R0, 99).
		Li(cpu.R7, 93).
		Ecall(),
		nil)

	code, _ := boot(t)
	if code != 42 {
		t.Errorf("expected the mmapped page to store and load 42; got %d", code)
	}
}

func TestKmainMunmapFaultsOnUse(t *testing.T) {
	loader.Reset()
	registerProgram(t, "init", cpu.NewAssembler().
		Li(cpu.R0, 0x30000).
		Li(cpu.R1, mm.PageSize).
		Li(cpu.R2, 3).
		Li(cpu.R7, 222). // mmap
		Ecall().
		Li(cpu.R0, 0x30000).
		Li(cpu.R1, mm.PageSize).
		Li(cpu.R7, 215). // munmap
		Ecall().
		Li(cpu.R1, 0x30000).
		Li(cpu.R2, 1).
		Sd(cpu.R2, cpu.R1, 0). // faults: the page is gone
		Li(cpu.R0, 0).
		Li(cpu.R7, 93).
		Ecall(),
		nil)

	code, console := boot(t)
	if code != -2 {
		t.Errorf("expected the kernel to kill the task with -2; got %d", code)
	}
	if !strings.Contains(console, "memory fault") {
		t.Errorf("expected a memory fault report on the console; got %q", console)
	}
}

func TestKmainSbrkGrowsHeap(t *testing.T) {
	loader.Reset()
	registerProgram(t, "init", cpu.NewAssembler().
		Li(cpu.R0, 0).
		Li(cpu.R7, 214). // sbrk(0): current break
		Ecall().
		Mov(cpu.R4, cpu.R0).
		Li(cpu.R0, mm.PageSize).
		Li(cpu.R7, 214). // grow by one page
		Ecall().
		Li(cpu.R2, 42).
		Sd(cpu.R2, cpu.R4, 0).
		Ld(cpu.R0, cpu.R4, 0).
		Li(cpu.R7, 93).
		Ecall(),
		nil)

	code, _ := boot(t)
	if code != 42 {
		t.Errorf("expected a store through the grown heap to round trip 42; got %d", code)
	}
}

func TestKmainGetTimeAdvances(t *testing.T) {
	loader.Reset()
	registerProgram(t, "init", cpu.NewAssembler().
		Li(cpu.R0, progDataVA).
		Li(cpu.R7, 169). // get_time
		Ecall().
		Li(cpu.R0, progDataVA+16).
		Li(cpu.R7, 169).
		Ecall().
		Li(cpu.R1, progDataVA).
		Ld(cpu.R2, cpu.R1, 8).  // first usec
		Ld(cpu.R3, cpu.R1, 24). // second usec
		Sub(cpu.R4, cpu.R3, cpu.R2).
		Li(cpu.R5, 0).
		Beq(cpu.R4, cpu.R5, "stuck").
		Li(cpu.R0, 0).
		Li(cpu.R7, 93).
		Ecall().
		Label("stuck").
		Li(cpu.R0, 1).
		Li(cpu.R7, 93).
		Ecall(),
		nil)

	code, _ := boot(t)
	if code != 0 {
		t.Errorf("expected the clock to advance between get_time calls; got exit code %d", code)
	}
}

func TestKmainTaskInfoCountsYields(t *testing.T) {
	loader.Reset()
	registerProgram(t, "init", cpu.NewAssembler().
		Li(cpu.R7, 124).
		Ecall().
		Li(cpu.R7, 124).
		Ecall().
		Li(cpu.R0, progDataVA).
		Li(cpu.R7, 410). // task_info
		Ecall().
		Li(cpu.R1, progDataVA).
		Lb(cpu.R0, cpu.R1, 8+124*4). // low byte of the yield counter
		Li(cpu.R7, 93).
		Ecall(),
		nil)

	code, _ := boot(t)
	if code != 2 {
		t.Errorf("expected 2 recorded yields in the accounting record; got %d", code)
	}
}

func TestKmainExecReplacesProgram(t *testing.T) {
	loader.Reset()
	registerProgram(t, "worker", cpu.NewAssembler().
		Li(cpu.R0, 11).
		Li(cpu.R7, 93).
		Ecall(),
		nil)
	registerProgram(t, "init", cpu.NewAssembler().
		Li(cpu.R0, progDataVA).
		Li(cpu.R7, 221). // exec("worker"): never returns on success
		Ecall().
		Li(cpu.R0, 99).
		Li(cpu.R7, 93).
		Ecall(),
		append([]byte("worker"), 0))

	code, _ := boot(t)
	if code != 11 {
		t.Errorf("expected the exec'd worker's exit code 11; got %d", code)
	}
}

func TestKmainIllegalInstructionKillsTask(t *testing.T) {
	loader.Reset()
	loader.Register("init", &loader.Image{
		Entry: progEntry,
		Segments: []loader.Segment{
			{VirtAddr: progEntry, Flags: loader.SegRead | loader.SegExec,
				MemSize: 8, Data: []byte{0xff, 0, 0, 0, 0, 0, 0, 0}},
		},
	})

	code, console := boot(t)
	if code != -3 {
		t.Errorf("expected the kernel to kill the task with -3; got %d", code)
	}
	if !strings.Contains(console, "illegal instruction") {
		t.Errorf("expected an illegal instruction report on the console; got %q", console)
	}
}
