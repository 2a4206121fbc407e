// Package kmain boots the kernel: it brings up the subsystems in order,
// starts the init process and runs the scheduler until shutdown.
package kmain

import (
	"gokos/kernel"
	"gokos/kernel/kfmt"
	"gokos/kernel/mm/pmm"
	"gokos/kernel/mm/vmm"
	"gokos/kernel/task"
	"gokos/kernel/timer"
	"gokos/kernel/trap"
)

// Config selects the machine parameters the kernel boots with.
type Config struct {
	// TotalFrames is the number of physical page frames backing the
	// machine.
	TotalFrames int

	// InitProgram names the registered image the init process runs.
	InitProgram string
}

// DefaultConfig boots a 4MiB machine running a program registered as
// "init".
func DefaultConfig() Config {
	return Config{TotalFrames: 1024, InitProgram: "init"}
}

var errNoInitProgram = &kernel.Error{Module: "kmain", Message: "no init program"}

// Bootstrap initializes the subsystems in dependency order: the physical
// frame allocator, the virtual clock, the kernel address space and the task
// and trap layers. Program images must be registered before Kmain starts
// the init process.
func Bootstrap(cfg Config) *kernel.Error {
	pmm.Init(cfg.TotalFrames)
	timer.Reset()

	kspace, err := vmm.NewKernelSpace(cfg.TotalFrames)
	if err != nil {
		return err
	}

	task.Init(kspace)
	trap.Init()
	return nil
}

// Kmain boots the kernel described by cfg and schedules tasks until the
// init process exits or every task is gone. It returns the init process's
// exit code.
func Kmain(cfg Config) (int64, *kernel.Error) {
	if cfg.InitProgram == "" {
		return 0, errNoInitProgram
	}

	if err := Bootstrap(cfg); err != nil {
		return 0, err
	}

	if err := task.CreateInitProc(cfg.InitProgram); err != nil {
		return 0, err
	}

	kfmt.Printf("[kmain] %d frames, starting %q\n", cfg.TotalFrames, cfg.InitProgram)
	task.RunTasks()

	code := task.InitProc().ExitCode()
	kfmt.Printf("[kmain] scheduler stopped, init exit code %d\n", code)
	return code, nil
}
