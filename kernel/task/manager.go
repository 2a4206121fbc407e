package task

import "gokos/kernel/sync"

// TaskManager is the FIFO ready queue. Tasks are scheduled strictly in
// arrival order.
type TaskManager struct {
	cell  sync.Cell
	queue []*TaskControlBlock
}

// Enqueue appends a Ready task to the back of the queue.
func (tm *TaskManager) Enqueue(tcb *TaskControlBlock) {
	tm.cell.Acquire()
	tm.queue = append(tm.queue, tcb)
	tm.cell.Release()
}

// Dequeue pops the task at the front of the queue, or nil when the queue is
// empty.
func (tm *TaskManager) Dequeue() *TaskControlBlock {
	tm.cell.Acquire()
	defer tm.cell.Release()

	if len(tm.queue) == 0 {
		return nil
	}
	tcb := tm.queue[0]
	tm.queue[0] = nil
	tm.queue = tm.queue[1:]
	return tcb
}

// Contains reports whether tcb currently sits in the queue.
func (tm *TaskManager) Contains(tcb *TaskControlBlock) bool {
	tm.cell.Acquire()
	defer tm.cell.Release()

	for _, queued := range tm.queue {
		if queued == tcb {
			return true
		}
	}
	return false
}

// Len returns the number of queued tasks.
func (tm *TaskManager) Len() int {
	tm.cell.Acquire()
	defer tm.cell.Release()
	return len(tm.queue)
}
