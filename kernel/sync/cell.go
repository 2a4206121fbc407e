// Package sync provides the synchronization primitives used by the kernel
// core. With strictly cooperative scheduling on a single core there is no
// true contention; exclusive access degenerates to an exclusivity assertion
// that catches re-entrant borrows instead of blocking.
package sync

import "sync/atomic"

// Cell guards a value that must only ever have a single holder at a time,
// such as a task control block's mutable interior or the ready queue. A
// multi-core or preemptive port must replace it with a real mutex.
type Cell struct {
	held uint32
}

// Acquire claims exclusive access to the guarded value. Claiming a cell that
// is already held is a kernel bug and panics immediately rather than
// deadlocking.
func (c *Cell) Acquire() {
	if !atomic.CompareAndSwapUint32(&c.held, 0, 1) {
		panic("sync: exclusive cell acquired twice")
	}
}

// Release relinquishes exclusive access. Releasing a cell that is not held
// panics.
func (c *Cell) Release() {
	if !atomic.CompareAndSwapUint32(&c.held, 1, 0) {
		panic("sync: exclusive cell released while not held")
	}
}
