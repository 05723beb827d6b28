//go:build linux && !mips && !mipsle && !mips64 && !mips64le

package spawn

import (
	"runtime"
	"syscall"

	"github.com/pkg/errors"
)

// spawn is the algorithm behind both entry points. search selects the
// invocation primitive.
func (s *Spawner) spawn(op string, pid *int, search bool, name string, argv, envv []string, fa *FileActions, attr *Attr) error {
	log := s.logger().With("op", op, "name", name)

	var inv *invocation
	var err error
	if search {
		inv, err = s.newSearchInvocation(name, argv, envv)
	} else {
		inv, err = newExactInvocation(name, argv, envv)
	}
	if err != nil {
		return errors.Wrapf(err, "%s %s", op, name)
	}
	rattr, err := marshalAttr(attr)
	if err != nil {
		return errors.Wrapf(err, "%s %s", op, name)
	}
	acts, maxfd, err := marshalFileActions(fa, nofileLimit())
	if err != nil {
		return errors.Wrapf(err, "%s %s", op, name)
	}

	ch, err := newErrorChannel(maxfd)
	if err != nil {
		return errors.Wrapf(err, "%s %s", op, name)
	}

	syscall.ForkLock.Lock()
	child, err1 := forkAndBootstrap(inv, rattr, acts, ch.w)
	syscall.ForkLock.Unlock()
	runtime.KeepAlive(inv)
	runtime.KeepAlive(rattr)
	runtime.KeepAlive(acts)

	if err1 != 0 {
		ch.close()
		log.Debug("clone failed", "err", err1)
		return errors.Wrapf(err1, "%s %s", op, name)
	}
	*pid = int(child)

	if err := s.supervise(*pid, &ch); err != nil {
		s.failed.Inc()
		if errors.Is(err, ErrProtocol) {
			s.protocol.Inc()
		}
		log.Debug("child failed to start", "pid", *pid, "err", err)
		return errors.Wrapf(err, "%s %s", op, name)
	}
	s.started.Inc()
	log.Debug("child started", "pid", *pid)
	return nil
}
