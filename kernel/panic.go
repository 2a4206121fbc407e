package kernel

import (
	"gokos/kernel/kfmt"
)

var (
	// haltFn is invoked after the panic banner has been printed. It defaults
	// to a Go panic so that invariant violations surface loudly when the
	// kernel is driven by tests; kernel bring-up replaces it with the
	// platform shutdown call.
	haltFn = func() {
		panic("kernel halted")
	}

	errRuntimePanic = &Error{Module: "rt", Message: "unknown cause"}
)

// SetHaltFn registers the platform shutdown call that Panic invokes once the
// panic banner has been emitted. The kernel has no other teardown path.
func SetHaltFn(fn func()) { haltFn = fn }

// Panic outputs the supplied error (if not nil) to the console and halts the
// kernel via the registered platform shutdown hook. Calls to Panic never
// return.
func Panic(e interface{}) {
	var err *Error

	switch t := e.(type) {
	case *Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	kfmt.Printf("\n-----------------------------------\n")
	if err != nil {
		kfmt.Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	kfmt.Printf("*** kernel panic: system halted ***")
	kfmt.Printf("\n-----------------------------------\n")

	haltFn()
}
