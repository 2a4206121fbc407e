package task

import (
	"gokos/kernel"
	"gokos/kernel/kfmt"
)

// File is an entry in a task's file descriptor table.
type File interface {
	Read(p []byte) (int, *kernel.Error)
	Write(p []byte) (int, *kernel.Error)
}

var errConsoleRead = &kernel.Error{Module: "task", Message: "console has no input"}

// consoleFile backs the standard streams: writes go to the kernel console
// and reads fail.
type consoleFile struct{}

func (consoleFile) Read(_ []byte) (int, *kernel.Error) { return 0, errConsoleRead }

func (consoleFile) Write(p []byte) (int, *kernel.Error) {
	kfmt.Write(p)
	return len(p), nil
}

// newFDTable builds the initial descriptor table: stdin, stdout and stderr
// all bound to the console.
func newFDTable() []File {
	return []File{consoleFile{}, consoleFile{}, consoleFile{}}
}
