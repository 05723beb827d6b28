//go:build linux

// Package syscall starts processes from a [syscall.ProcAttr] through the
// spawn package.
package syscall

import (
	"syscall"

	spawn "github.com/jcbhmr/go-spawn"
)

var zeroProcAttr syscall.ProcAttr

// StartProcess is like [syscall.StartProcess]: attr.Files becomes the new
// process's descriptor table, attr.Dir its working directory and attr.Env
// its environment, and attr.Sys is applied as far as [spawn.NewAttrFromSys]
// supports it.
//
// Unlike syscall.StartProcess, pid is also returned when the new process was
// created but failed to exec, so that the caller can tell it apart from a
// failure to create the process at all.
func StartProcess(argv0 string, argv []string, attr *syscall.ProcAttr) (pid int, err error) {
	if attr == nil {
		attr = &zeroProcAttr
	}

	fds := make([]int, len(attr.Files))
	for i, f := range attr.Files {
		fds[i] = int(f)
	}
	fa, err := spawn.NewFileActionsFromFds(fds)
	if err != nil {
		return 0, err
	}
	sa, err := spawn.NewAttrFromSys(attr.Dir, attr.Sys, fds)
	if err != nil {
		return 0, err
	}

	err = spawn.Spawn(&pid, argv0, argv, attr.Env, fa, sa)
	return pid, err
}
