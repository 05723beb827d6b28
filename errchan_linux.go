//go:build linux && !mips && !mipsle && !mips64 && !mips64le

package spawn

import (
	"encoding/binary"
	"syscall"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Exit statuses of a child that failed before its program started. The
// parent never relies on them; they only show up in ps and wait4.
const (
	exitReported   = 255
	exitUnreported = 254
)

// errnoSize is the size of the single message a child may send.
const errnoSize = 4

type outcomeKind int

const (
	outcomeStarted outcomeKind = iota
	outcomeFailed
)

// childOutcome is what the parent learned from the error channel.
type childOutcome struct {
	kind  outcomeKind
	errno unix.Errno
}

// errorChannel carries at most one errno from a new process to its parent.
// Both ends are close-on-exec, so a successful exec closes the child's write
// end and the parent reads end-of-file.
type errorChannel struct {
	r, w int
}

// newErrorChannel creates the channel with its write end above minfd, so
// file actions that touch descriptors up to minfd cannot clobber it. When
// minfd is the last descriptor RLIMIT_NOFILE allows, the write end stays
// where pipe2 put it.
func newErrorChannel(minfd int) (errorChannel, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		return errorChannel{}, errors.Wrap(err, "error channel")
	}
	ch := errorChannel{r: p[0], w: p[1]}
	if ch.w <= minfd {
		w, err := unix.FcntlInt(uintptr(ch.w), unix.F_DUPFD_CLOEXEC, minfd+1)
		switch {
		case err == unix.EINVAL:
		case err != nil:
			ch.close()
			return errorChannel{}, errors.Wrap(err, "error channel")
		default:
			unix.Close(ch.w)
			ch.w = w
		}
	}
	return ch, nil
}

func (ch *errorChannel) closeWriter() {
	if ch.w >= 0 {
		unix.Close(ch.w)
		ch.w = -1
	}
}

func (ch *errorChannel) closeReader() {
	if ch.r >= 0 {
		unix.Close(ch.r)
		ch.r = -1
	}
}

func (ch *errorChannel) close() {
	ch.closeWriter()
	ch.closeReader()
}

// receive blocks until the child writes its errno or every write end is
// closed. The buffer is larger than one message so oversized writes are
// caught.
func (ch *errorChannel) receive() (childOutcome, error) {
	var buf [2 * errnoSize]byte
	for {
		n, err := unix.Read(ch.r, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return childOutcome{}, err
		}
		switch n {
		case 0:
			return childOutcome{kind: outcomeStarted}, nil
		case errnoSize:
			code := int32(binary.NativeEndian.Uint32(buf[:errnoSize]))
			return childOutcome{kind: outcomeFailed, errno: unix.Errno(code)}, nil
		default:
			return childOutcome{}, errors.Wrapf(ErrProtocol, "read %d bytes", n)
		}
	}
}

// childExit is the child's only way out after a failure: report errno on the
// channel with a single write, then exit without running any Go code.
//
//go:nosplit
//go:norace
func childExit(pipe int, errno syscall.Errno) {
	code := int32(errno)
	n, _, err1 := syscall.RawSyscall(unix.SYS_WRITE, uintptr(pipe), uintptr(unsafe.Pointer(&code)), errnoSize)
	status := uintptr(exitReported)
	if err1 != 0 || n != errnoSize {
		status = exitUnreported
	}
	for {
		syscall.RawSyscall(unix.SYS_EXIT_GROUP, status, 0, 0)
	}
}
