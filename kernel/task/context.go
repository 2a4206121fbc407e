// Package task implements the process core: task control blocks, the FIFO
// ready queue, the per-core processor with its idle scheduling context, and
// the process lifecycle operations (fork, exec, exit, waitpid).
//
// Each task's kernel execution runs on its own goroutine, but a single core
// token is handed between saved contexts so exactly one goroutine is
// runnable at any instant. The context switch below is therefore a genuine
// control transfer, not concurrency.
package task

// TaskContext is the saved kernel execution context of a task (or of the
// processor's idle loop): the point where execution parks when the core
// token is handed away, and resumes when it is handed back.
type TaskContext struct {
	// gate delivers the core token. Capacity one so the handoff never
	// blocks the sender.
	gate chan struct{}
}

func newTaskContext() *TaskContext {
	return &TaskContext{gate: make(chan struct{}, 1)}
}

// switchTo hands the core token to next and parks the caller until another
// switch targets save again. This is the only way control moves between a
// task and the scheduler. At most one switch is in flight per core at a
// time.
func switchTo(save, next *TaskContext) {
	next.gate <- struct{}{}
	<-save.gate
}

// switchFinal hands the core token to next without saving the caller's
// context. The exit path uses it; the calling goroutine must terminate
// immediately afterwards and touch nothing shared.
func switchFinal(next *TaskContext) {
	next.gate <- struct{}{}
}
