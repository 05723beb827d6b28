//go:build unix && !(linux && !mips && !mipsle && !mips64 && !mips64le)

package spawn

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func (s *Spawner) spawn(op string, pid *int, search bool, name string, argv, envv []string, fa *FileActions, attr *Attr) error {
	return errors.Wrapf(unix.ENOSYS, "%s %s", op, name)
}
