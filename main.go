package main

import (
	"fmt"
	"os"

	"gokos/kernel/cpu"
	"gokos/kernel/kfmt"
	"gokos/kernel/kmain"
	"gokos/kernel/loader"
	"gokos/kernel/mm"
)

const (
	demoEntry  = 0x10000
	demoDataVA = 0x20000
)

// registerDemoPrograms builds the boot image set: an init process that
// greets, forks a child and reaps it.
func registerDemoPrograms() error {
	greeting := []byte("init: hello from userland\n")
	childMsg := []byte("child: hi\n")

	data := append(append([]byte(nil), greeting...), childMsg...)

	code, err := cpu.NewAssembler().
		Li(cpu.R0, 1).
		Li(cpu.R1, demoDataVA).
		Li(cpu.R2, int32(len(greeting))).
		Li(cpu.R7, 64). // write
		Ecall().
		Li(cpu.R7, 220). // fork
		Ecall().
		Li(cpu.R3, 0).
		Bne(cpu.R0, cpu.R3, "parent").
		Li(cpu.R0, 1).
		Li(cpu.R1, demoDataVA+int32(len(greeting))).
		Li(cpu.R2, int32(len(childMsg))).
		Li(cpu.R7, 64).
		Ecall().
		Li(cpu.R0, 0).
		Li(cpu.R7, 93). // exit
		Ecall().
		Label("parent").
		Mov(cpu.R4, cpu.R0).
		Label("wait").
		Mov(cpu.R0, cpu.R4).
		Li(cpu.R1, 0).
		Li(cpu.R7, 260). // waitpid
		Ecall().
		Li(cpu.R5, -2).
		Bne(cpu.R0, cpu.R5, "reaped").
		Li(cpu.R7, 124). // yield
		Ecall().
		Jmp("wait").
		Label("reaped").
		Li(cpu.R0, 0).
		Li(cpu.R7, 93).
		Ecall().
		Assemble()
	if err != nil {
		return fmt.Errorf("assembling init: %v", err)
	}

	loader.Register("init", &loader.Image{
		Entry: demoEntry,
		Segments: []loader.Segment{
			{VirtAddr: demoEntry, Flags: loader.SegRead | loader.SegExec, MemSize: len(code), Data: code},
			{VirtAddr: demoDataVA, Flags: loader.SegRead | loader.SegWrite, MemSize: mm.PageSize, Data: data},
		},
	})
	return nil
}

func main() {
	kfmt.SetOutputSink(os.Stdout)

	if err := registerDemoPrograms(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	code, err := kmain.Kmain(kmain.DefaultConfig())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(int(code))
}
