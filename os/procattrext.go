//go:build unix

package os

import (
	"os"
	"syscall"
)

type procAttrExt os.ProcAttr

func (p *procAttrExt) lower() *syscall.ProcAttr {
	if p == nil {
		return &syscall.ProcAttr{Env: os.Environ()}
	}

	sysattr := &syscall.ProcAttr{
		Dir: p.Dir,
		Env: p.Env,
		Sys: p.Sys,
	}
	if sysattr.Env == nil {
		sysattr.Env = os.Environ()
	}

	sysattr.Files = make([]uintptr, 0, len(p.Files))
	for _, f := range p.Files {
		if f == nil {
			sysattr.Files = append(sysattr.Files, ^uintptr(0))
			continue
		}
		sysattr.Files = append(sysattr.Files, f.Fd())
	}

	return sysattr
}
