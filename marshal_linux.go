//go:build linux && !mips && !mipsle && !mips64 && !mips64le

package spawn

import (
	"math"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	// sigsetSize is the kernel's sizeof(sigset_t) outside mips.
	sigsetSize = 8
	sigBlock   = 0
	sigSetmask = 2
)

var atFDCWD = unix.AT_FDCWD

// rawAttr is Attr with every string turned into a C string.
type rawAttr struct {
	flags      Flag
	sigmask    uint64
	sigdefault uint64
	pgroup     int
	uid        int
	gid        int
	groups     []uint32
	ctty       *byte
	dir        *byte
	chroot     *byte
	ttyfd      int
	nocttyfd   int
}

type rawFileAction struct {
	kind  actionKind
	fd    int
	newfd int
	path  *byte
	flags int
	mode  uint32
}

func marshalAttr(attr *Attr) (*rawAttr, error) {
	r := &rawAttr{}
	if attr == nil {
		return r, nil
	}
	r.flags = attr.Flags
	r.pgroup = attr.Pgroup
	r.uid = attr.UID
	r.gid = attr.GID
	r.ttyfd = attr.TtyFd
	r.nocttyfd = attr.NocttyFd

	var err error
	if r.flags&SetSigMask != 0 {
		if r.sigmask, err = sigset(attr.SigMask); err != nil {
			return nil, err
		}
	}
	if r.flags&SetSigDefault != 0 {
		if r.sigdefault, err = sigset(attr.SigDefault); err != nil {
			return nil, err
		}
		// rt_sigaction refuses these two; their disposition is always default.
		r.sigdefault &^= 1<<(unix.SIGKILL-1) | 1<<(unix.SIGSTOP-1)
	}
	if r.flags&SetPgroup != 0 && r.pgroup < 0 {
		return nil, errors.Wrapf(unix.EINVAL, "spawn: process group %d", r.pgroup)
	}
	if r.flags&SetUID != 0 && r.uid < 0 {
		return nil, errors.Wrapf(unix.EINVAL, "spawn: uid %d", r.uid)
	}
	if r.flags&SetGID != 0 && r.gid < 0 {
		return nil, errors.Wrapf(unix.EINVAL, "spawn: gid %d", r.gid)
	}
	if r.flags&SetGroups != 0 {
		r.groups = make([]uint32, len(attr.Groups))
		for i, g := range attr.Groups {
			if g < 0 || int64(g) > math.MaxUint32 {
				return nil, errors.Wrapf(unix.EINVAL, "spawn: group %d", g)
			}
			r.groups[i] = uint32(g)
		}
	}
	if r.flags&(SetForeground|SetCttyFd) != 0 && r.ttyfd < 0 {
		return nil, errors.Wrapf(unix.EBADF, "spawn: terminal fd %d", r.ttyfd)
	}
	if r.flags&SetNoctty != 0 && r.nocttyfd < 0 {
		return nil, errors.Wrapf(unix.EBADF, "spawn: terminal fd %d", r.nocttyfd)
	}
	if r.flags&SetChroot != 0 {
		if r.chroot, err = unix.BytePtrFromString(attr.Chroot); err != nil {
			return nil, err
		}
	}
	if r.flags&SetCtty != 0 {
		if r.ctty, err = unix.BytePtrFromString(attr.Ctty); err != nil {
			return nil, err
		}
	}
	if r.flags&SetCwd != 0 {
		if r.dir, err = unix.BytePtrFromString(attr.Dir); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// nofileLimit is the soft RLIMIT_NOFILE. The child inherits it, so no
// descriptor at or above it can be open there.
func nofileLimit() int {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil || rlim.Cur > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(rlim.Cur)
}

// marshalFileActions also returns the highest descriptor below limit that the
// actions touch, or -1 when there is none. Descriptors at or above limit are
// left to fail in the child with the action's own errno.
func marshalFileActions(fa *FileActions, limit int) ([]rawFileAction, int, error) {
	maxfd := -1
	if fa == nil {
		return nil, maxfd, nil
	}
	acts := make([]rawFileAction, 0, len(fa.actions))
	for _, a := range fa.actions {
		r := rawFileAction{kind: a.kind, fd: a.fd, newfd: a.newfd, mode: a.mode}
		if a.kind == actionOpen {
			p, err := unix.BytePtrFromString(a.path)
			if err != nil {
				return nil, 0, err
			}
			r.path = p
			// The descriptor must survive exec whether or not it lands on
			// a.fd directly.
			r.flags = (a.flags | unix.O_LARGEFILE) &^ unix.O_CLOEXEC
		}
		for _, fd := range [...]int{r.fd, r.newfd} {
			if fd < limit {
				maxfd = max(maxfd, fd)
			}
		}
		acts = append(acts, r)
	}
	return acts, maxfd, nil
}
