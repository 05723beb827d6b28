//go:build linux

package spawn

import (
	"syscall"

	"github.com/pkg/errors"
)

// NewAttrFromSys expresses dir and the parts of sys that a spawned process
// can apply as an Attr. Fields with no Attr counterpart are rejected.
//
// fds is the descriptor table the new process will get, as passed to
// NewFileActionsFromFds, or nil when file actions leave descriptors where
// they are. sys.Ctty for Setctty and the standard input for Noctty are
// numbered in that table; they are looked up in it because attributes are
// applied before the table is built. sys.Ctty for Foreground is a descriptor
// of the caller, as with syscall.SysProcAttr.
func NewAttrFromSys(dir string, sys *syscall.SysProcAttr, fds []int) (*Attr, error) {
	attr := &Attr{}
	if dir != "" {
		attr.Flags |= SetCwd
		attr.Dir = dir
	}
	if sys == nil {
		return attr, nil
	}

	if sys.Ptrace {
		return nil, errors.New("spawn: Ptrace not implemented")
	}
	if sys.Pdeathsig != 0 {
		return nil, errors.New("spawn: Pdeathsig not implemented")
	}
	if sys.Cloneflags != 0 || sys.Unshareflags != 0 {
		return nil, errors.New("spawn: namespaces not implemented")
	}
	if sys.UidMappings != nil || sys.GidMappings != nil {
		return nil, errors.New("spawn: id mappings not implemented")
	}
	if len(sys.AmbientCaps) > 0 {
		return nil, errors.New("spawn: AmbientCaps not implemented")
	}
	if sys.UseCgroupFD {
		return nil, errors.New("spawn: UseCgroupFD not implemented")
	}
	if sys.PidFD != nil {
		return nil, errors.New("spawn: PidFD not implemented")
	}
	if sys.Setctty && sys.Foreground {
		return nil, errors.New("spawn: both Setctty and Foreground set")
	}

	if sys.Chroot != "" {
		attr.Flags |= SetChroot
		attr.Chroot = sys.Chroot
	}
	if sys.Setsid {
		attr.Flags |= SetSID
	}
	if sys.Setpgid || sys.Foreground {
		attr.Flags |= SetPgroup
		attr.Pgroup = sys.Pgid
	}
	if sys.Foreground {
		attr.Flags |= SetForeground
		attr.TtyFd = sys.Ctty
	}
	if sys.Noctty {
		attr.Flags |= SetNoctty
		attr.NocttyFd = childFd(fds, 0)
	}
	if sys.Setctty {
		attr.Flags |= SetCttyFd
		attr.TtyFd = childFd(fds, sys.Ctty)
	}
	if cred := sys.Credential; cred != nil {
		if !cred.NoSetGroups {
			attr.Flags |= SetGroups
			attr.Groups = make([]int, len(cred.Groups))
			for i, g := range cred.Groups {
				attr.Groups[i] = int(g)
			}
		}
		attr.Flags |= SetGID | SetUID
		attr.GID = int(cred.Gid)
		attr.UID = int(cred.Uid)
	}
	return attr, nil
}

// childFd is the caller's descriptor that becomes fd in the new process.
func childFd(fds []int, fd int) int {
	if fds == nil || fd < 0 || fd >= len(fds) {
		return fd
	}
	return fds[fd]
}
