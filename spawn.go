//go:build unix

// Package spawn creates processes with fork and exec and reports, reliably,
// whether the new process got as far as running its program.
//
// The new process applies its attributes and file actions and then execs.
// Any failure on the way, including the exec itself, is written as an errno
// to a close-on-exec pipe that the caller reads. A successful exec closes the
// pipe without data, so the caller can tell "the program never started
// because of X" apart from "the program started" without looking at exit
// statuses.
//
// Once the program is running it is the caller's child: reap it with
// [os.FindProcess] and Wait, or with wait4.
package spawn

import (
	"log/slog"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

// ErrProtocol is returned when the error channel delivers a message that is
// neither empty nor exactly one errno. It never originates from the OS.
var ErrProtocol = errors.New("spawn: error channel protocol violation")

// DefaultPath is the search path used by SpawnP when envv has no PATH.
const DefaultPath = "/usr/bin:/bin"

// ReapPolicy decides how a child that failed to start is reclaimed.
type ReapPolicy int

const (
	// ReapNonBlocking makes one WNOHANG wait4 attempt. A child still exiting
	// at that moment is left for the caller to reap.
	ReapNonBlocking ReapPolicy = iota
	// ReapBlocking waits for the failed child to exit.
	ReapBlocking
)

func (p ReapPolicy) String() string {
	switch p {
	case ReapNonBlocking:
		return "nonblocking"
	case ReapBlocking:
		return "blocking"
	}
	return "unknown"
}

// ParseReapPolicy is the inverse of ReapPolicy.String.
func ParseReapPolicy(s string) (ReapPolicy, error) {
	switch s {
	case "", "nonblocking":
		return ReapNonBlocking, nil
	case "blocking":
		return ReapBlocking, nil
	}
	return 0, errors.Errorf("spawn: unknown reap policy %q", s)
}

// A Spawner holds the policy shared by a set of spawn calls. The zero value is
// ready to use and safe for concurrent use.
type Spawner struct {
	// Logger receives debug records about each call. Nil discards them.
	Logger *slog.Logger
	// Reap is applied to children that report a failure.
	Reap ReapPolicy
	// DefaultPath replaces the package DefaultPath for SpawnP when non-empty.
	DefaultPath string

	started  atomic.Int64
	failed   atomic.Int64
	protocol atomic.Int64
}

// Stats counts outcomes of calls made through a Spawner.
type Stats struct {
	Started  int64
	Failed   int64
	Protocol int64
}

// Stats returns a snapshot of the counters.
func (s *Spawner) Stats() Stats {
	return Stats{
		Started:  s.started.Load(),
		Failed:   s.failed.Load(),
		Protocol: s.protocol.Load(),
	}
}

var defaultSpawner Spawner

// Spawn starts the program at path. On success *pid holds the id of a
// process that is running the program. If the process was created but failed
// before or during exec, *pid is still set and err wraps the errno the child
// reported.
//
// A nil pid returns EINVAL without creating anything.
func Spawn(pid *int, path string, argv, envv []string, fa *FileActions, attr *Attr) error {
	return defaultSpawner.Spawn(pid, path, argv, envv, fa, attr)
}

// SpawnP is Spawn with file looked up in the PATH found in envv.
func SpawnP(pid *int, file string, argv, envv []string, fa *FileActions, attr *Attr) error {
	return defaultSpawner.SpawnP(pid, file, argv, envv, fa, attr)
}

// Spawn is the Spawner form of the package function Spawn.
func (s *Spawner) Spawn(pid *int, path string, argv, envv []string, fa *FileActions, attr *Attr) error {
	if pid == nil {
		return errors.Wrap(unix.EINVAL, "spawn: nil pid")
	}
	return s.spawn("spawn", pid, false, path, argv, envv, fa, attr)
}

// SpawnP is the Spawner form of the package function SpawnP.
func (s *Spawner) SpawnP(pid *int, file string, argv, envv []string, fa *FileActions, attr *Attr) error {
	if pid == nil {
		return errors.Wrap(unix.EINVAL, "spawnp: nil pid")
	}
	return s.spawn("spawnp", pid, true, file, argv, envv, fa, attr)
}

// Errno returns the errno behind err, if there is one.
func Errno(err error) (unix.Errno, bool) {
	errno, ok := errors.Cause(err).(unix.Errno)
	return errno, ok
}

func (s *Spawner) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.Logger
}

func (s *Spawner) searchPath() string {
	if s.DefaultPath != "" {
		return s.DefaultPath
	}
	return DefaultPath
}
