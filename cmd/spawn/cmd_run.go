//go:build linux

package main

import (
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	spawn "github.com/jcbhmr/go-spawn"
	"github.com/jcbhmr/go-spawn/internal/config"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] -- program [args...]",
	Short: "Spawn a program and print its pid",
	Long: `Spawn a program and print its pid once it is running.

If the program cannot be started, for example because it does not exist or
one of the --stdin/--stdout/--stderr/--dup2 actions fails, the errno of the
failing step is printed and the command exits with status 127.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

var runOpts runOptions

type runOptions struct {
	search      bool
	stdin       string
	stdout      string
	stderr      string
	appendOut   bool
	closeFds    []int
	dup2        []string
	setsid      bool
	pgroup      int
	dir         string
	keepSigmask bool
	env         []string
	clearenv    bool
	wait        bool
}

func init() {
	f := runCmd.Flags()
	f.BoolVarP(&runOpts.search, "search", "p", false, "look the program up in PATH")
	f.StringVar(&runOpts.stdin, "stdin", "", "open `file` as standard input")
	f.StringVar(&runOpts.stdout, "stdout", "", "open `file` as standard output")
	f.StringVar(&runOpts.stderr, "stderr", "", "open `file` as standard error")
	f.BoolVar(&runOpts.appendOut, "append", false, "append to --stdout and --stderr instead of truncating")
	f.IntSliceVar(&runOpts.closeFds, "close", nil, "close `fd` in the child")
	f.StringSliceVar(&runOpts.dup2, "dup2", nil, "duplicate `old:new` descriptors in the child")
	f.BoolVar(&runOpts.setsid, "setsid", false, "start a new session")
	f.IntVar(&runOpts.pgroup, "pgroup", -1, "move the child into process group `pgid` (0 for a new group)")
	f.StringVar(&runOpts.dir, "dir", "", "working `directory` of the child")
	f.BoolVar(&runOpts.keepSigmask, "keep-sigmask", false, "pass the blocked signal set on instead of clearing it")
	f.StringArrayVar(&runOpts.env, "env", nil, "set `KEY=VALUE` in the child's environment")
	f.BoolVar(&runOpts.clearenv, "clearenv", false, "start from an empty environment")
	f.BoolVar(&runOpts.wait, "wait", false, "wait for the child and exit with its status")
}

func runRun(cmd *cobra.Command, args []string) error {
	fa, attr, envv, err := runOpts.request(globalConfig, os.Environ())
	if err != nil {
		return err
	}
	sp, err := globalConfig.Spawner(globalLogger)
	if err != nil {
		return err
	}

	var pid int
	if runOpts.search {
		err = sp.SpawnP(&pid, args[0], args, envv, fa, attr)
	} else {
		err = sp.Spawn(&pid, args[0], args, envv, fa, attr)
	}
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), err)
		return exitError{code: 127}
	}
	fmt.Fprintln(cmd.OutOrStdout(), pid)

	if !runOpts.wait {
		return nil
	}
	code, err := waitExit(pid)
	globalLogger.Debug("child exited", "pid", pid, "code", code, "stats", fmt.Sprintf("%+v", sp.Stats()))
	if err != nil {
		return err
	}
	if code != 0 {
		return exitError{code: code}
	}
	return nil
}

// request turns the flags and cfg defaults into spawn arguments. environ is
// the environment inherited when the config asks for it.
func (o *runOptions) request(cfg *config.Config, environ []string) (*spawn.FileActions, *spawn.Attr, []string, error) {
	fa := &spawn.FileActions{}
	outFlags := unix.O_WRONLY | unix.O_CREAT | unix.O_TRUNC
	if o.appendOut {
		outFlags = unix.O_WRONLY | unix.O_CREAT | unix.O_APPEND
	}
	opens := []struct {
		fd    int
		path  string
		flags int
	}{
		{0, o.stdin, unix.O_RDONLY},
		{1, o.stdout, outFlags},
		{2, o.stderr, outFlags},
	}
	for _, op := range opens {
		if op.path == "" {
			continue
		}
		if err := fa.AddOpen(op.fd, op.path, op.flags, 0o644); err != nil {
			return nil, nil, nil, err
		}
	}
	for _, s := range o.dup2 {
		from, to, err := parseDup2(s)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := fa.AddDup2(from, to); err != nil {
			return nil, nil, nil, err
		}
	}
	for _, fd := range o.closeFds {
		if err := fa.AddClose(fd); err != nil {
			return nil, nil, nil, err
		}
	}

	attr := &spawn.Attr{}
	if o.setsid || cfg.Defaults.Setsid {
		attr.Flags |= spawn.SetSID
	}
	if o.pgroup >= 0 {
		attr.Flags |= spawn.SetPgroup
		attr.Pgroup = o.pgroup
	}
	dir := o.dir
	if dir == "" {
		dir = cfg.Defaults.Dir
	}
	if dir != "" {
		attr.Flags |= spawn.SetCwd
		attr.Dir = dir
	}
	if o.keepSigmask || cfg.Defaults.KeepSigmask {
		var set unix.Sigset_t
		// With a nil set the call only reads the current mask.
		if err := unix.PthreadSigmask(0, nil, &set); err != nil {
			return nil, nil, nil, errors.Wrap(err, "reading signal mask")
		}
		attr.Flags |= spawn.SetSigMask
		attr.SigMask = blockedSignals(&set)
	}

	var envv []string
	if cfg.Defaults.InheritEnv && !o.clearenv {
		envv = append(envv, environ...)
	}
	for _, kv := range o.env {
		if !strings.Contains(kv, "=") {
			return nil, nil, nil, errors.Errorf("--env %q: want KEY=VALUE", kv)
		}
		envv = setenv(envv, kv)
	}
	return fa, attr, envv, nil
}

func parseDup2(s string) (int, int, error) {
	from, to, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, errors.Errorf("--dup2 %q: want OLD:NEW", s)
	}
	oldfd, err := strconv.Atoi(from)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "--dup2 %q", s)
	}
	newfd, err := strconv.Atoi(to)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "--dup2 %q", s)
	}
	return oldfd, newfd, nil
}

// setenv replaces or appends the KEY=VALUE pair kv.
func setenv(envv []string, kv string) []string {
	key, _, _ := strings.Cut(kv, "=")
	prefix := key + "="
	for i, e := range envv {
		if strings.HasPrefix(e, prefix) {
			envv[i] = kv
			return envv
		}
	}
	return append(envv, kv)
}

// blockedSignals lists the signals 1..64 in set. The first 64 bits of
// Sigset_t hold them whatever the word size of Val.
func blockedSignals(set *unix.Sigset_t) []syscall.Signal {
	mask := binary.NativeEndian.Uint64(unsafe.Slice((*byte)(unsafe.Pointer(set)), 8))
	var sigs []syscall.Signal
	for sig := 1; sig <= 64; sig++ {
		if mask&(1<<uint(sig-1)) != 0 {
			sigs = append(sigs, syscall.Signal(sig))
		}
	}
	return sigs
}

// waitExit waits for pid and returns a shell-style exit code.
func waitExit(pid int) (int, error) {
	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &ws, 0, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, errors.Wrapf(err, "wait %d", pid)
		}
		break
	}
	if ws.Signaled() {
		return 128 + int(ws.Signal()), nil
	}
	return ws.ExitStatus(), nil
}
