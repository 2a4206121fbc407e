package task

import "encoding/binary"

// MaxSyscallNum bounds the syscall ids tracked by the per-task counters.
const MaxSyscallNum = 500

// TaskInfoSize is the encoded size of a TaskInfo in bytes.
const TaskInfoSize = 8 + MaxSyscallNum*4 + 8

// TaskInfo is the accounting record a task can query about itself: its
// current status, how many times it issued each syscall and how many
// milliseconds passed between its first syscall and the query.
type TaskInfo struct {
	Status       TaskStatus
	SyscallTimes [MaxSyscallNum]uint32
	TimeMS       uint64
}

// EncodeTo serializes the record into buf, which must hold at least
// TaskInfoSize bytes.
func (ti *TaskInfo) EncodeTo(buf []byte) {
	binary.LittleEndian.PutUint64(buf, uint64(ti.Status))
	for i, count := range ti.SyscallTimes {
		binary.LittleEndian.PutUint32(buf[8+i*4:], count)
	}
	binary.LittleEndian.PutUint64(buf[8+MaxSyscallNum*4:], ti.TimeMS)
}
