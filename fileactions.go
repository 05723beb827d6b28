//go:build unix

package spawn

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

type actionKind uint8

const (
	actionOpen actionKind = iota + 1
	actionClose
	actionDup2
)

type fileAction struct {
	kind  actionKind
	fd    int
	newfd int
	path  string
	flags int
	mode  uint32
}

// FileActions is an ordered list of descriptor operations the new process
// performs before exec. The first one that fails aborts the spawn with its
// errno. The zero value is an empty list.
type FileActions struct {
	actions []fileAction
}

// Len reports the number of queued actions.
func (fa *FileActions) Len() int {
	if fa == nil {
		return 0
	}
	return len(fa.actions)
}

// AddOpen opens path with flags and mode and places the result at fd.
func (fa *FileActions) AddOpen(fd int, path string, flags int, mode uint32) error {
	if fd < 0 {
		return errors.Wrapf(unix.EBADF, "spawn: open action on fd %d", fd)
	}
	fa.actions = append(fa.actions, fileAction{kind: actionOpen, fd: fd, path: path, flags: flags, mode: mode})
	return nil
}

// AddClose closes fd. Closing a descriptor that is not open is not an error.
func (fa *FileActions) AddClose(fd int) error {
	if fd < 0 {
		return errors.Wrapf(unix.EBADF, "spawn: close action on fd %d", fd)
	}
	fa.actions = append(fa.actions, fileAction{kind: actionClose, fd: fd})
	return nil
}

// AddDup2 duplicates fd onto newfd. When fd == newfd the descriptor's
// close-on-exec flag is cleared so that it survives exec.
func (fa *FileActions) AddDup2(fd, newfd int) error {
	if fd < 0 || newfd < 0 {
		return errors.Wrapf(unix.EBADF, "spawn: dup2 action from fd %d to %d", fd, newfd)
	}
	fa.actions = append(fa.actions, fileAction{kind: actionDup2, fd: fd, newfd: newfd})
	return nil
}

// NewFileActionsFromFds builds the actions that give the new process
// descriptor i = fds[i], as in the Files table of syscall.ProcAttr. A
// negative entry leaves descriptor i closed. Descriptors past the table are
// left as they are; everything the Go runtime opens is close-on-exec.
func NewFileActionsFromFds(fds []int) (*FileActions, error) {
	fd := make([]int, len(fds))
	nextfd := len(fds)
	for i, f := range fds {
		if nextfd < f {
			nextfd = f
		}
		if f < 0 {
			f = -1
		}
		fd[i] = f
	}
	nextfd++

	fa := &FileActions{}
	var scratch []int

	// Sources that a lower slot would clobber are moved out of the way first.
	for i, f := range fd {
		if f >= 0 && f < i {
			if err := fa.AddDup2(f, nextfd); err != nil {
				return nil, err
			}
			fd[i] = nextfd
			scratch = append(scratch, nextfd)
			nextfd++
		}
	}

	for i, f := range fd {
		if f == -1 {
			if err := fa.AddClose(i); err != nil {
				return nil, err
			}
			continue
		}
		if err := fa.AddDup2(f, i); err != nil {
			return nil, err
		}
	}

	for _, f := range scratch {
		if err := fa.AddClose(f); err != nil {
			return nil, err
		}
	}
	return fa, nil
}
