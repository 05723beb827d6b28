//go:build unix

// Package os starts processes from an [os.ProcAttr] through the spawn
// package.
package os

import (
	"os"
	"runtime"

	syscall2 "github.com/jcbhmr/go-spawn/syscall"
)

// StartProcess is like [os.StartProcess], except that a program that was
// found but could not be run reports the errno of the failing step rather
// than a later exit status. A nil attr.Env inherits the current environment.
//
// The error, if any, is an *os.PathError.
func StartProcess(name string, argv []string, attr *os.ProcAttr) (*os.Process, error) {
	sysattr := (*procAttrExt)(attr).lower()
	pid, err := syscall2.StartProcess(name, argv, sysattr)
	runtime.KeepAlive(attr)
	if err != nil {
		return nil, &os.PathError{Op: "spawn", Path: name, Err: err}
	}
	return os.FindProcess(pid)
}
