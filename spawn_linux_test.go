//go:build linux && !mips && !mipsle && !mips64 && !mips64le

package spawn

import (
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const shell = "/bin/sh"

var testEnv = []string{"PATH=/usr/bin:/bin"}

func waitPid(t *testing.T, pid int) unix.WaitStatus {
	t.Helper()
	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &ws, 0, nil)
		if err == unix.EINTR {
			continue
		}
		require.NoError(t, err, "wait4(%d)", pid)
		return ws
	}
}

func countFds(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	require.NoError(t, err)
	return len(entries)
}

func stdoutTo(t *testing.T, path string) *FileActions {
	t.Helper()
	fa := &FileActions{}
	require.NoError(t, fa.AddOpen(1, path, unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC, 0o644))
	return fa
}

func TestSpawnStartsProgram(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")

	var pid int
	err := Spawn(&pid, shell, []string{"sh", "-c", "echo hello"}, testEnv, stdoutTo(t, out), nil)
	require.NoError(t, err)
	require.NotZero(t, pid)

	ws := waitPid(t, pid)
	assert.True(t, ws.Exited())
	assert.Equal(t, 0, ws.ExitStatus())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestSpawnNilPid(t *testing.T) {
	var s Spawner
	before := countFds(t)

	err := s.Spawn(nil, shell, []string{"sh"}, testEnv, nil, nil)
	assert.ErrorIs(t, err, unix.EINVAL)
	err = s.SpawnP(nil, "sh", []string{"sh"}, testEnv, nil, nil)
	assert.ErrorIs(t, err, unix.EINVAL)

	assert.Equal(t, Stats{}, s.Stats())
	assert.Equal(t, before, countFds(t))
}

func TestSpawnMissingPath(t *testing.T) {
	s := Spawner{Reap: ReapBlocking}

	var pid int
	err := s.Spawn(&pid, "/nonexistent/program", []string{"program"}, testEnv, nil, nil)
	require.Error(t, err)
	errno, ok := Errno(err)
	require.True(t, ok, "%v", err)
	assert.Equal(t, unix.ENOENT, errno)
	assert.NotZero(t, pid, "the child existed before exec failed")

	// Reaped already, so the pid is gone.
	assert.ErrorIs(t, unix.Kill(pid, 0), unix.ESRCH)
	assert.Equal(t, Stats{Failed: 1}, s.Stats())
}

func TestSpawnMissingPathNonBlockingReap(t *testing.T) {
	var s Spawner

	var pid int
	err := s.Spawn(&pid, "/nonexistent/program", []string{"program"}, testEnv, nil, nil)
	require.ErrorIs(t, err, unix.ENOENT)

	// The child is either reaped already or about to exit with the
	// "reported" status.
	var ws unix.WaitStatus
	_, werr := unix.Wait4(pid, &ws, 0, nil)
	if werr == nil {
		assert.Equal(t, exitReported, ws.ExitStatus())
	} else {
		assert.ErrorIs(t, werr, unix.ECHILD)
	}
}

func TestSpawnPFindsProgram(t *testing.T) {
	var pid int
	env := []string{"PATH=/nonexistent:" + t.TempDir() + ":/usr/bin:/bin"}
	err := SpawnP(&pid, "sh", []string{"sh", "-c", "exit 7"}, env, nil, nil)
	require.NoError(t, err)

	ws := waitPid(t, pid)
	assert.Equal(t, 7, ws.ExitStatus())
}

func TestSpawnPMissingName(t *testing.T) {
	s := Spawner{Reap: ReapBlocking}
	env := []string{"PATH=" + t.TempDir()}

	var pid int
	err := s.SpawnP(&pid, "no-such-program", []string{"no-such-program"}, env, nil, nil)
	assert.ErrorIs(t, err, unix.ENOENT)
	assert.NotZero(t, pid)
}

func TestSpawnPUsesDefaultPath(t *testing.T) {
	s := Spawner{DefaultPath: "/usr/bin:/bin"}

	var pid int
	err := s.SpawnP(&pid, "sh", []string{"sh", "-c", "exit 0"}, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, waitPid(t, pid).ExitStatus())
}

func TestSpawnPRemembersEACCES(t *testing.T) {
	noexec := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(noexec, "tool"), []byte("#!/bin/sh\n"), 0o644))
	env := []string{"PATH=" + noexec + ":" + t.TempDir()}

	s := Spawner{Reap: ReapBlocking}
	var pid int
	err := s.SpawnP(&pid, "tool", []string{"tool"}, env, nil, nil)
	assert.ErrorIs(t, err, unix.EACCES)
}

func TestSpawnPEdgeNames(t *testing.T) {
	s := Spawner{Reap: ReapBlocking}

	tests := []struct {
		name string
		file string
		want unix.Errno
	}{
		{"empty", "", unix.ENOENT},
		{"slash is not searched", "./no-such-program", unix.ENOENT},
		{"too long", strings.Repeat("x", unix.PathMax), unix.ENAMETOOLONG},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var pid int
			err := s.SpawnP(&pid, tt.file, []string{"x"}, testEnv, nil, nil)
			assert.ErrorIs(t, err, tt.want)
			assert.NotZero(t, pid, "lookup errors come from the child")
		})
	}
}

func TestSpawnFailingFileAction(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "marker")
	fa := &FileActions{}
	require.NoError(t, fa.AddDup2(987654, 5))

	s := Spawner{Reap: ReapBlocking}
	var pid int
	err := s.Spawn(&pid, shell, []string{"sh", "-c", "touch " + marker}, testEnv, fa, nil)
	assert.ErrorIs(t, err, unix.EBADF)

	_, statErr := os.Stat(marker)
	assert.ErrorIs(t, statErr, os.ErrNotExist, "the program must never run")
}

func TestSpawnFailingOpenAction(t *testing.T) {
	fa := &FileActions{}
	require.NoError(t, fa.AddOpen(0, "/nonexistent/input", unix.O_RDONLY, 0))

	s := Spawner{Reap: ReapBlocking}
	var pid int
	err := s.Spawn(&pid, shell, []string{"sh", "-c", "exit 0"}, testEnv, fa, nil)
	assert.ErrorIs(t, err, unix.ENOENT)
}

func TestSpawnCloseActionIgnoresClosedFd(t *testing.T) {
	fa := &FileActions{}
	require.NoError(t, fa.AddClose(987654))

	var pid int
	err := Spawn(&pid, shell, []string{"sh", "-c", "exit 0"}, testEnv, fa, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, waitPid(t, pid).ExitStatus())
}

func TestSpawnActionsAtDescriptorLimit(t *testing.T) {
	var rlim unix.Rlimit
	require.NoError(t, unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim))
	if rlim.Cur > math.MaxInt32 {
		t.Skip("no finite RLIMIT_NOFILE")
	}
	last := int(rlim.Cur - 1)
	s := Spawner{Reap: ReapBlocking}

	fa := &FileActions{}
	require.NoError(t, fa.AddDup2(last, 5))
	var pid int
	err := s.Spawn(&pid, shell, []string{"sh", "-c", "exit 0"}, testEnv, fa, nil)
	assert.ErrorIs(t, err, unix.EBADF)
	assert.NotZero(t, pid, "the dup2 fails in the child")

	fa = &FileActions{}
	require.NoError(t, fa.AddDup2(int(rlim.Cur), 5))
	pid = 0
	err = s.Spawn(&pid, shell, []string{"sh", "-c", "exit 0"}, testEnv, fa, nil)
	assert.ErrorIs(t, err, unix.EBADF)
	assert.NotZero(t, pid)

	fa = &FileActions{}
	require.NoError(t, fa.AddClose(last))
	pid = 0
	err = s.Spawn(&pid, shell, []string{"sh", "-c", "exit 0"}, testEnv, fa, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, waitPid(t, pid).ExitStatus())
}

func TestSpawnSigDefaultAllSignals(t *testing.T) {
	var all []syscall.Signal
	for sig := syscall.Signal(1); sig <= maxSignal; sig++ {
		all = append(all, sig)
	}
	attr := &Attr{Flags: SetSigDefault, SigDefault: all}

	var pid int
	err := Spawn(&pid, shell, []string{"sh", "-c", "exit 0"}, testEnv, nil, attr)
	require.NoError(t, err)
	assert.Equal(t, 0, waitPid(t, pid).ExitStatus())
}

func TestSpawnChroot(t *testing.T) {
	s := Spawner{Reap: ReapBlocking}
	attr := &Attr{Flags: SetChroot, Chroot: t.TempDir()}

	var pid int
	err := s.Spawn(&pid, shell, []string{"sh", "-c", "exit 0"}, testEnv, nil, attr)
	require.NotZero(t, pid)
	if os.Geteuid() != 0 {
		assert.ErrorIs(t, err, unix.EPERM)
		return
	}
	assert.ErrorIs(t, err, unix.ENOENT, "the empty root has no %s", shell)
}

func TestSpawnSetGroups(t *testing.T) {
	s := Spawner{Reap: ReapBlocking}
	attr := &Attr{Flags: SetGroups, Groups: []int{0}}

	var pid int
	err := s.Spawn(&pid, shell, []string{"sh", "-c", "exit 0"}, testEnv, nil, attr)
	if os.Geteuid() != 0 {
		assert.ErrorIs(t, err, unix.EPERM)
		return
	}
	require.NoError(t, err)
	assert.Equal(t, 0, waitPid(t, pid).ExitStatus())
}

func TestSpawnTerminalAttrsNeedTerminal(t *testing.T) {
	devnull, err := os.Open("/dev/null")
	require.NoError(t, err)
	defer devnull.Close()
	fd := int(devnull.Fd())

	tests := map[string]*Attr{
		"foreground": {Flags: SetPgroup | SetForeground, TtyFd: fd},
		"noctty":     {Flags: SetNoctty, NocttyFd: fd},
		"setctty":    {Flags: SetSID | SetCttyFd, TtyFd: fd},
	}
	for name, attr := range tests {
		t.Run(name, func(t *testing.T) {
			s := Spawner{Reap: ReapBlocking}
			var pid int
			err := s.Spawn(&pid, shell, []string{"sh", "-c", "exit 0"}, testEnv, nil, attr)
			assert.ErrorIs(t, err, unix.ENOTTY)
			assert.NotZero(t, pid)
		})
	}
}

func TestSpawnConcurrent(t *testing.T) {
	const n = 16
	var s Spawner

	pids := make([]int, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.Spawn(&pids[i], shell, []string{"sh", "-c", "exit 0"}, testEnv, nil, nil)
		}()
	}
	wg.Wait()

	seen := make(map[int]bool)
	for i := range n {
		require.NoError(t, errs[i])
		assert.False(t, seen[pids[i]], "pid %d returned twice", pids[i])
		seen[pids[i]] = true
		assert.Equal(t, 0, waitPid(t, pids[i]).ExitStatus())
	}
	assert.Equal(t, int64(n), s.Stats().Started)
}

func TestSpawnFailuresAreWholeErrnos(t *testing.T) {
	const n = 200
	s := Spawner{Reap: ReapBlocking}

	for range n {
		var pid int
		err := s.Spawn(&pid, "/nonexistent/program", []string{"program"}, testEnv, nil, nil)
		require.NotErrorIs(t, err, ErrProtocol)
		errno, ok := Errno(err)
		require.True(t, ok, "%v", err)
		require.Equal(t, unix.ENOENT, errno)
	}
	assert.Equal(t, Stats{Failed: n}, s.Stats())
}

func TestSpawnDoesNotLeakDescriptors(t *testing.T) {
	s := Spawner{Reap: ReapBlocking}
	before := countFds(t)

	for range 25 {
		var pid int
		require.NoError(t, s.Spawn(&pid, shell, []string{"sh", "-c", "exit 0"}, testEnv, nil, nil))
		waitPid(t, pid)

		err := s.Spawn(&pid, "/nonexistent/program", []string{"program"}, testEnv, nil, nil)
		require.Error(t, err)
	}
	assert.Equal(t, before, countFds(t))
}

// sigBlk spawns cat on /proc/self/status with attr and returns its SigBlk.
func sigBlk(t *testing.T, attr *Attr) string {
	t.Helper()
	out := filepath.Join(t.TempDir(), "status")

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	var old unix.Sigset_t
	set := unix.Sigset_t{}
	set.Val[0] = 1 << (unix.SIGUSR2 - 1)
	require.NoError(t, unix.PthreadSigmask(0, &set, &old))
	defer unix.PthreadSigmask(2, &old, nil)

	var pid int
	err := SpawnP(&pid, "cat", []string{"cat", "/proc/self/status"}, testEnv, stdoutTo(t, out), attr)
	require.NoError(t, err)
	require.Equal(t, 0, waitPid(t, pid).ExitStatus())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	for _, line := range strings.Split(string(data), "\n") {
		if v, ok := strings.CutPrefix(line, "SigBlk:"); ok {
			return strings.TrimSpace(v)
		}
	}
	t.Fatalf("no SigBlk in %q", data)
	return ""
}

func TestSpawnResetsSignalMask(t *testing.T) {
	assert.Equal(t, "0000000000000000", sigBlk(t, nil))
}

func TestSpawnKeepsRequestedSignalMask(t *testing.T) {
	attr := &Attr{Flags: SetSigMask, SigMask: []syscall.Signal{unix.SIGUSR1}}
	assert.Equal(t, "0000000000000200", sigBlk(t, attr))
}

func TestSpawnSetCwd(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	out := filepath.Join(t.TempDir(), "pwd")

	attr := &Attr{Flags: SetCwd, Dir: dir}
	var pid int
	err = Spawn(&pid, shell, []string{"sh", "-c", "pwd -P"}, testEnv, stdoutTo(t, out), attr)
	require.NoError(t, err)
	require.Equal(t, 0, waitPid(t, pid).ExitStatus())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, dir+"\n", string(data))
}

func TestSpawnSetCwdMissing(t *testing.T) {
	attr := &Attr{Flags: SetCwd, Dir: "/nonexistent/dir"}
	s := Spawner{Reap: ReapBlocking}

	var pid int
	err := s.Spawn(&pid, shell, []string{"sh"}, testEnv, nil, attr)
	assert.ErrorIs(t, err, unix.ENOENT)
}

func TestSpawnSetPgroup(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	// The child blocks reading r until w is closed.
	fa := &FileActions{}
	require.NoError(t, fa.AddDup2(int(r.Fd()), 0))
	attr := &Attr{Flags: SetPgroup}

	var pid int
	err = Spawn(&pid, shell, []string{"sh", "-c", "read x"}, testEnv, fa, attr)
	require.NoError(t, err)

	pgid, err := unix.Getpgid(pid)
	w.Close()
	require.NoError(t, err)
	assert.Equal(t, pid, pgid)
	waitPid(t, pid)
}

func TestSpawnArgumentErrors(t *testing.T) {
	tests := []struct {
		name string
		path string
		argv []string
		attr *Attr
	}{
		{"nul in path", "/bin/s\x00h", []string{"sh"}, nil},
		{"nul in argv", shell, []string{"s\x00h"}, nil},
		{"signal out of range", shell, []string{"sh"}, &Attr{Flags: SetSigMask, SigMask: []syscall.Signal{100}}},
		{"negative pgroup", shell, []string{"sh"}, &Attr{Flags: SetPgroup, Pgroup: -1}},
		{"negative group", shell, []string{"sh"}, &Attr{Flags: SetGroups, Groups: []int{-1}}},
		{"nul in chroot", shell, []string{"sh"}, &Attr{Flags: SetChroot, Chroot: "/\x00"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s Spawner
			pid := 0
			err := s.Spawn(&pid, tt.path, tt.argv, testEnv, nil, tt.attr)
			assert.ErrorIs(t, err, unix.EINVAL)
			assert.Zero(t, pid, "no process is created for argument errors")
			assert.Equal(t, Stats{}, s.Stats())
		})
	}
}
