//go:build linux && !mips && !mipsle && !mips64 && !mips64le

package spawn

import (
	"runtime"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// These hooks are what syscall.forkExec brackets its clone with: signals
// are blocked and the runtime is told that the calling thread forks.

//go:linkname runtimeBeforeFork syscall.runtime_BeforeFork
func runtimeBeforeFork()

//go:linkname runtimeAfterFork syscall.runtime_AfterFork
func runtimeAfterFork()

//go:linkname runtimeAfterForkInChild syscall.runtime_AfterForkInChild
func runtimeAfterForkInChild()

// forkAndBootstrap clones the calling process. The parent gets the child's
// pid. The child runs bootstrap and never returns.
//
// The caller holds syscall.ForkLock and keeps every argument reachable.
// Past the clone the child may only run raw system calls and nosplit
// functions: no allocation, no write barriers, no stack growth.
//
//go:noinline
//go:norace
//go:nocheckptr
func forkAndBootstrap(inv *invocation, attr *rawAttr, acts []rawFileAction, pipe int) (pid uintptr, err1 syscall.Errno) {
	runtimeBeforeFork()
	if runtime.GOARCH == "s390x" {
		pid, _, err1 = syscall.RawSyscall6(unix.SYS_CLONE, 0, uintptr(syscall.SIGCHLD), 0, 0, 0, 0)
	} else {
		pid, _, err1 = syscall.RawSyscall6(unix.SYS_CLONE, uintptr(syscall.SIGCHLD), 0, 0, 0, 0, 0)
	}
	if err1 != 0 || pid != 0 {
		runtimeAfterFork()
		return pid, err1
	}

	runtimeAfterForkInChild()
	bootstrap(inv, attr, acts, pipe)
	return 0, 0
}

// bootstrap is the whole life of a child before exec. Each step runs only if
// the previous ones succeeded; the first failure is reported on pipe.
//
//go:nosplit
//go:norace
func bootstrap(inv *invocation, attr *rawAttr, acts []rawFileAction, pipe int) {
	err1 := resetSignalMask(attr)
	if err1 == 0 {
		err1 = applyAttr(attr)
	}
	if err1 == 0 {
		err1 = applyFileActions(acts)
	}
	if err1 == 0 {
		err1 = invoke(inv)
	}
	childExit(pipe, err1)
}

// resetSignalMask empties the blocked signal set unless the caller asked
// for a specific one with SetSigMask.
//
//go:nosplit
//go:norace
func resetSignalMask(attr *rawAttr) syscall.Errno {
	if attr.flags&SetSigMask != 0 {
		return 0
	}
	return setSigMask(0)
}

//go:nosplit
//go:norace
func setSigMask(mask uint64) syscall.Errno {
	set := mask
	_, _, err1 := syscall.RawSyscall6(unix.SYS_RT_SIGPROCMASK, sigSetmask,
		uintptr(unsafe.Pointer(&set)), 0, sigsetSize, 0, 0)
	return err1
}

// applyAttr applies the flagged attributes. The root changes while the
// process may still be privileged, group ids change before user ids, and the
// session before the process group and its terminal.
//
//go:nosplit
//go:norace
func applyAttr(attr *rawAttr) syscall.Errno {
	var err1 syscall.Errno
	flags := attr.flags

	if flags&SetSigMask != 0 {
		if err1 = setSigMask(attr.sigmask); err1 != 0 {
			return err1
		}
	}

	if flags&SetSigDefault != 0 {
		// All zero is SIG_DFL with no flags and an empty mask in every
		// layout of the kernel's struct sigaction.
		var act [4]uint64
		for sig := uintptr(1); sig <= maxSignal; sig++ {
			if attr.sigdefault&(1<<(sig-1)) == 0 {
				continue
			}
			_, _, err1 = syscall.RawSyscall6(unix.SYS_RT_SIGACTION, sig,
				uintptr(unsafe.Pointer(&act[0])), 0, sigsetSize, 0, 0)
			if err1 != 0 {
				return err1
			}
		}
	}

	if flags&SetChroot != 0 {
		if _, _, err1 = syscall.RawSyscall(unix.SYS_CHROOT, uintptr(unsafe.Pointer(attr.chroot)), 0, 0); err1 != 0 {
			return err1
		}
	}

	if flags&ResetIDs != 0 {
		gid, _, _ := syscall.RawSyscall(sysGETGID, 0, 0, 0)
		if _, _, err1 = syscall.RawSyscall(sysSETGID, gid, 0, 0); err1 != 0 {
			return err1
		}
		uid, _, _ := syscall.RawSyscall(sysGETUID, 0, 0, 0)
		if _, _, err1 = syscall.RawSyscall(sysSETUID, uid, 0, 0); err1 != 0 {
			return err1
		}
	}

	if flags&SetGroups != 0 {
		if err1 = setGroups(attr.groups); err1 != 0 {
			return err1
		}
	}

	if flags&SetGID != 0 {
		if _, _, err1 = syscall.RawSyscall(sysSETGID, uintptr(attr.gid), 0, 0); err1 != 0 {
			return err1
		}
	}

	if flags&SetUID != 0 {
		if _, _, err1 = syscall.RawSyscall(sysSETUID, uintptr(attr.uid), 0, 0); err1 != 0 {
			return err1
		}
	}

	if flags&SetSID != 0 {
		if _, _, err1 = syscall.RawSyscall(unix.SYS_SETSID, 0, 0, 0); err1 != 0 {
			return err1
		}
	}

	if flags&SetPgroup != 0 {
		if _, _, err1 = syscall.RawSyscall(unix.SYS_SETPGID, 0, uintptr(attr.pgroup), 0); err1 != 0 {
			return err1
		}
	}

	if flags&SetForeground != 0 {
		if err1 = setForeground(attr); err1 != 0 {
			return err1
		}
	}

	if flags&SetCtty != 0 {
		fd, _, err1 := syscall.RawSyscall6(unix.SYS_OPENAT, uintptr(atFDCWD),
			uintptr(unsafe.Pointer(attr.ctty)), unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC|unix.O_LARGEFILE, 0, 0, 0)
		if err1 != 0 {
			return err1
		}
		_, _, err1 = syscall.RawSyscall(unix.SYS_IOCTL, fd, unix.TIOCSCTTY, 0)
		syscall.RawSyscall(unix.SYS_CLOSE, fd, 0, 0)
		if err1 != 0 {
			return err1
		}
	}

	if flags&SetNoctty != 0 {
		if _, _, err1 = syscall.RawSyscall(unix.SYS_IOCTL, uintptr(attr.nocttyfd), unix.TIOCNOTTY, 0); err1 != 0 {
			return err1
		}
	}

	if flags&SetCttyFd != 0 {
		if _, _, err1 = syscall.RawSyscall(unix.SYS_IOCTL, uintptr(attr.ttyfd), unix.TIOCSCTTY, 0); err1 != 0 {
			return err1
		}
	}

	if flags&SetCwd != 0 {
		if _, _, err1 = syscall.RawSyscall(unix.SYS_CHDIR, uintptr(unsafe.Pointer(attr.dir)), 0, 0); err1 != 0 {
			return err1
		}
	}
	return 0
}

//go:nosplit
//go:norace
func setGroups(groups []uint32) syscall.Errno {
	var p uintptr
	if len(groups) > 0 {
		p = uintptr(unsafe.Pointer(&groups[0]))
	}
	_, _, err1 := syscall.RawSyscall(sysSETGROUPS, uintptr(len(groups)), p, 0)
	return err1
}

// setForeground hands the terminal to the new process group. SIGTTOU is
// blocked around the ioctl, since the group is still in the background when
// it asks.
//
//go:nosplit
//go:norace
func setForeground(attr *rawAttr) syscall.Errno {
	pgrp := int32(attr.pgroup)
	if pgrp == 0 {
		pid, _, _ := syscall.RawSyscall(unix.SYS_GETPID, 0, 0, 0)
		pgrp = int32(pid)
	}

	ttou := uint64(1) << (unix.SIGTTOU - 1)
	var old uint64
	_, _, err1 := syscall.RawSyscall6(unix.SYS_RT_SIGPROCMASK, sigBlock,
		uintptr(unsafe.Pointer(&ttou)), uintptr(unsafe.Pointer(&old)), sigsetSize, 0, 0)
	if err1 != 0 {
		return err1
	}
	_, _, err1 = syscall.RawSyscall(unix.SYS_IOCTL, uintptr(attr.ttyfd), unix.TIOCSPGRP, uintptr(unsafe.Pointer(&pgrp)))
	syscall.RawSyscall6(unix.SYS_RT_SIGPROCMASK, sigSetmask, uintptr(unsafe.Pointer(&old)), 0, sigsetSize, 0, 0)
	return err1
}

//go:nosplit
//go:norace
func applyFileActions(acts []rawFileAction) syscall.Errno {
	for i := range acts {
		if err1 := applyFileAction(&acts[i]); err1 != 0 {
			return err1
		}
	}
	return 0
}

//go:nosplit
//go:norace
func applyFileAction(a *rawFileAction) syscall.Errno {
	switch a.kind {
	case actionOpen:
		fd, _, err1 := syscall.RawSyscall6(unix.SYS_OPENAT, uintptr(atFDCWD),
			uintptr(unsafe.Pointer(a.path)), uintptr(a.flags), uintptr(a.mode), 0, 0)
		if err1 != 0 {
			return err1
		}
		if int(fd) == a.fd {
			return 0
		}
		_, _, err1 = syscall.RawSyscall(unix.SYS_DUP3, fd, uintptr(a.fd), 0)
		syscall.RawSyscall(unix.SYS_CLOSE, fd, 0, 0)
		return err1
	case actionClose:
		_, _, err1 := syscall.RawSyscall(unix.SYS_CLOSE, uintptr(a.fd), 0, 0)
		if err1 == unix.EBADF {
			return 0
		}
		return err1
	case actionDup2:
		if a.fd == a.newfd {
			_, _, err1 := syscall.RawSyscall(unix.SYS_FCNTL, uintptr(a.fd), unix.F_SETFD, 0)
			return err1
		}
		_, _, err1 := syscall.RawSyscall(unix.SYS_DUP3, uintptr(a.fd), uintptr(a.newfd), 0)
		return err1
	}
	return unix.EINVAL
}
