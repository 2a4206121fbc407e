// Package timer provides the monotonic time source used for get_time and
// per-task elapsed-time accounting. Time is virtual: the simulated CPU
// advances the clock by a fixed cost per executed instruction, which keeps
// timing deterministic across runs.
package timer

// MicrosPerInstruction is the virtual time cost charged for each executed
// user instruction.
const MicrosPerInstruction = 50

// clockUS is the current virtual time in microseconds.
var clockUS uint64

// Reset rewinds the clock to zero. Used at kernel bring-up and by tests.
func Reset() { clockUS = 0 }

// Advance moves the clock forward by the supplied number of microseconds.
func Advance(us uint64) { clockUS += us }

// NowUS returns the current time in microseconds.
func NowUS() uint64 { return clockUS }

// NowMS returns the current time in milliseconds.
func NowMS() uint64 { return clockUS / 1000 }
