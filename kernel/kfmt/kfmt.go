// Package kfmt provides formatted output for kernel code. Output emitted
// before a console has been attached is buffered in a ring buffer and gets
// flushed to the console once SetOutputSink is invoked.
package kfmt

import (
	"fmt"
	"io"
)

var (
	// earlyPrintBuffer is a ring buffer that stores Printf output before the
	// console is initialized.
	earlyPrintBuffer ringBuffer

	// outputSink is an io.Writer where Printf will send its output. If set
	// to nil, then the output will be redirected to the earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the default target for calls to Printf to w and copies
// any data accumulated in the earlyPrintBuffer to it. Passing nil reverts to
// buffering into the early print buffer.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// Printf writes a formatted message to the currently active output sink. If
// no sink is attached the output is buffered until one is.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves exactly like Printf but it writes the formatted output to
// the specified io.Writer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	if w == nil {
		w = &earlyPrintBuffer
	}

	fmt.Fprintf(w, format, args...)
}

// Write sends raw bytes to the currently active output sink. It backs the
// console end of each task's file table.
func Write(p []byte) (int, error) {
	w := outputSink
	if w == nil {
		w = &earlyPrintBuffer
	}

	return w.Write(p)
}
