//go:build linux

package spawn

import (
	"context"
	"os"
	"os/exec"
	"reflect"
	"runtime"
	"unsafe"

	"github.com/pkg/errors"
)

// CmdExt starts an [exec.Cmd] through Spawn, so a command that cannot be
// started fails with the errno of the step that went wrong.
//
//	cmd := exec.Command("ls", "-l")
//	err := (*spawn.CmdExt)(cmd).Spawn()
type CmdExt exec.Cmd

// Spawn starts c without waiting for it, like [exec.Cmd.Start]. Stdin,
// Stdout, Stderr and ExtraFiles must be nil or *os.File; nil standard
// streams are inherited. On success c.Process is set and c can be waited on.
func (c *CmdExt) Spawn() error {
	if c.Process != nil {
		return errors.New("spawn: already started")
	}
	if c.Path == "" && c.Err == nil {
		c.Err = errors.New("spawn: no command")
	}
	if c.Err != nil {
		return c.Err
	}

	if ctx := *c.ctx(); ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	files, err := c.spawnFiles()
	if err != nil {
		return err
	}
	fds := make([]int, len(files))
	for i, f := range files {
		fds[i] = -1
		if f != nil {
			fds[i] = int(f.Fd())
		}
	}
	fa, err := NewFileActionsFromFds(fds)
	if err != nil {
		return err
	}
	attr, err := NewAttrFromSys(c.Dir, c.SysProcAttr, fds)
	if err != nil {
		return err
	}

	var pid int
	err = Spawn(&pid, c.Path, c.argv(), (*exec.Cmd)(c).Environ(), fa, attr)
	runtime.KeepAlive(files)
	if err != nil {
		return err
	}
	c.Process, err = os.FindProcess(pid)
	return err
}

func (c *CmdExt) argv() []string {
	if len(c.Args) > 0 {
		return c.Args
	}
	return []string{c.Path}
}

func (c *CmdExt) ctx() *context.Context {
	return (*context.Context)(unsafe.Pointer(reflect.ValueOf((*exec.Cmd)(c)).Elem().FieldByName("ctx").Addr().Pointer()))
}

// spawnFiles is the descriptor table of the new process: the three
// standard streams followed by ExtraFiles.
func (c *CmdExt) spawnFiles() ([]*os.File, error) {
	std := [3]struct {
		v    any
		def  *os.File
		name string
	}{
		{c.Stdin, os.Stdin, "Stdin"},
		{c.Stdout, os.Stdout, "Stdout"},
		{c.Stderr, os.Stderr, "Stderr"},
	}
	files := make([]*os.File, 0, 3+len(c.ExtraFiles))
	for _, s := range std {
		if s.v == nil {
			files = append(files, s.def)
			continue
		}
		f, ok := s.v.(*os.File)
		if !ok {
			return nil, errors.Errorf("spawn: %s is not an *os.File", s.name)
		}
		files = append(files, f)
	}
	return append(files, c.ExtraFiles...), nil
}
