package task

import "gokos/kernel/sync"

// Processor is the per-core scheduling state: the task currently holding
// the core and the idle context the scheduler loop parks in between tasks.
type Processor struct {
	cell    sync.Cell
	current *TaskControlBlock
	idleCtx *TaskContext
}

func newProcessor() *Processor {
	return &Processor{idleCtx: newTaskContext()}
}

// CurrentTask returns the task holding the core, or nil when the idle loop
// does.
func (p *Processor) CurrentTask() *TaskControlBlock {
	p.cell.Acquire()
	tcb := p.current
	p.cell.Release()
	return tcb
}

// takeCurrent detaches the current task from the core.
func (p *Processor) takeCurrent() *TaskControlBlock {
	p.cell.Acquire()
	tcb := p.current
	p.current = nil
	p.cell.Release()
	return tcb
}

func (p *Processor) setCurrent(tcb *TaskControlBlock) {
	p.cell.Acquire()
	p.current = tcb
	p.cell.Release()
}

// schedule saves the caller's context and hands the core back to the idle
// loop.
func (p *Processor) schedule(save *TaskContext) {
	switchTo(save, p.idleCtx)
}

// RunTasks is the idle loop: pop the next Ready task, mark it Running and
// hand it the core; when the core comes back, repeat. It returns when a
// shutdown was requested or the ready queue drains, which in this cooperative
// design means no task can ever run again.
func RunTasks() {
	for !shutdownRequested {
		tcb := manager.Dequeue()
		if tcb == nil {
			return
		}

		inner := tcb.acquireInner()
		inner.status = StatusRunning
		next := inner.taskCtx
		tcb.releaseInner()

		processor.setCurrent(tcb)
		switchTo(processor.idleCtx, next)
	}
}
