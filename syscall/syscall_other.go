//go:build !linux

package syscall

import "syscall"

func StartProcess(argv0 string, argv []string, attr *syscall.ProcAttr) (pid int, err error) {
	return 0, syscall.ENOSYS
}
