//go:build linux && !mips && !mipsle && !mips64 && !mips64le

package spawn

import (
	"strings"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// invocation is the last bootstrap step, marshaled before the clone so the
// child only dereferences pointers.
type invocation struct {
	search     bool
	argv0      *byte
	candidates []*byte
	// err is a lookup failure found while marshaling. The child reports it in
	// place of the exec, after its other setup steps.
	err  syscall.Errno
	argv []*byte
	envv []*byte
}

func newInvocation(argv, envv []string) (*invocation, error) {
	argvp, err := syscall.SlicePtrFromStrings(argv)
	if err != nil {
		return nil, err
	}
	envvp, err := syscall.SlicePtrFromStrings(envv)
	if err != nil {
		return nil, err
	}
	return &invocation{argv: argvp, envv: envvp}, nil
}

func newExactInvocation(path string, argv, envv []string) (*invocation, error) {
	inv, err := newInvocation(argv, envv)
	if err != nil {
		return nil, err
	}
	inv.argv0, err = unix.BytePtrFromString(path)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Spawner) newSearchInvocation(file string, argv, envv []string) (*invocation, error) {
	if strings.Contains(file, "/") {
		return newExactInvocation(file, argv, envv)
	}
	if strings.IndexByte(file, 0) >= 0 {
		return nil, unix.EINVAL
	}
	inv, err := newInvocation(argv, envv)
	if err != nil {
		return nil, err
	}
	inv.search = true

	switch {
	case file == "":
		inv.err = unix.ENOENT
	case len(file) >= unix.PathMax:
		inv.err = unix.ENAMETOOLONG
	default:
		path, ok := lookupEnv(envv, "PATH")
		if !ok {
			path = s.searchPath()
		}
		for _, c := range searchCandidates(file, path) {
			p, err := unix.BytePtrFromString(c)
			if err != nil {
				return nil, err
			}
			inv.candidates = append(inv.candidates, p)
		}
	}
	return inv, nil
}

// searchCandidates lists the paths execvp would try for file, in order. An
// empty element of path stands for the current directory.
func searchCandidates(file, path string) []string {
	dirs := strings.Split(path, ":")
	candidates := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		if dir == "" {
			dir = "."
		}
		candidates = append(candidates, strings.TrimSuffix(dir, "/")+"/"+file)
	}
	return candidates
}

// lookupEnv returns the first value of key in envv.
func lookupEnv(envv []string, key string) (string, bool) {
	prefix := key + "="
	for _, kv := range envv {
		if strings.HasPrefix(kv, prefix) {
			return kv[len(prefix):], true
		}
	}
	return "", false
}

// invoke replaces the process image. It only returns on failure.
//
//go:nosplit
//go:norace
func invoke(inv *invocation) syscall.Errno {
	if inv.err != 0 {
		return inv.err
	}
	if !inv.search {
		return execve(inv.argv0, inv)
	}

	sawEACCES := false
	for _, path := range inv.candidates {
		switch err1 := execve(path, inv); err1 {
		case unix.EACCES:
			sawEACCES = true
		case unix.ENOENT, unix.ENOTDIR, unix.ESTALE, unix.ENODEV, unix.ETIMEDOUT:
		default:
			return err1
		}
	}
	if sawEACCES {
		return unix.EACCES
	}
	return unix.ENOENT
}

//go:nosplit
//go:norace
func execve(path *byte, inv *invocation) syscall.Errno {
	_, _, err1 := syscall.RawSyscall(unix.SYS_EXECVE,
		uintptr(unsafe.Pointer(path)),
		uintptr(unsafe.Pointer(&inv.argv[0])),
		uintptr(unsafe.Pointer(&inv.envv[0])))
	return err1
}
