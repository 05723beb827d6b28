//go:build linux && !mips && !mipsle && !mips64 && !mips64le

package spawn

import (
	"golang.org/x/sys/unix"
)

// supervise waits for the child with the given pid to either exec or report
// an errno, and closes both ends of ch before returning.
func (s *Spawner) supervise(pid int, ch *errorChannel) error {
	ch.closeWriter()
	out, err := ch.receive()
	ch.closeReader()
	if err != nil {
		return err
	}
	if out.kind == outcomeStarted {
		return nil
	}
	s.reap(pid)
	return out.errno
}

// reap collects a child that reported a failure. It wrote its errno just
// before exiting, so under ReapNonBlocking it is usually, but not always,
// gone already.
func (s *Spawner) reap(pid int) {
	opts := unix.WNOHANG
	if s.Reap == ReapBlocking {
		opts = 0
	}
	var ws unix.WaitStatus
	for {
		wpid, err := unix.Wait4(pid, &ws, opts, nil)
		if err == unix.EINTR {
			continue
		}
		switch {
		case err != nil:
			s.logger().Debug("reap failed", "pid", pid, "err", err)
		case wpid == 0:
			s.logger().Debug("child not reaped yet", "pid", pid)
		default:
			s.logger().Debug("child reaped", "pid", pid, "status", ws.ExitStatus())
		}
		return
	}
}
