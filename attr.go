//go:build unix

package spawn

import (
	"syscall"

	"github.com/pkg/errors"
)

// Flag selects which Attr fields the new process applies.
type Flag uint32

const (
	// SetSigMask installs Attr.SigMask as the blocked signal set. Without it
	// the new process starts with an empty mask.
	SetSigMask Flag = 1 << iota
	// SetSigDefault resets the dispositions of Attr.SigDefault to SIG_DFL.
	// SIGKILL and SIGSTOP are skipped.
	SetSigDefault
	// SetPgroup moves the new process into process group Attr.Pgroup, or a
	// new group led by itself when Pgroup is 0.
	SetPgroup
	// ResetIDs sets the effective ids to the real ids.
	ResetIDs
	// SetUID switches to Attr.UID.
	SetUID
	// SetGID switches to Attr.GID.
	SetGID
	// SetSID starts a new session.
	SetSID
	// SetCtty makes the terminal at Attr.Ctty the controlling terminal.
	SetCtty
	// SetCwd changes directory to Attr.Dir.
	SetCwd
	// SetChroot changes the root directory to Attr.Chroot. Attr.Dir is then
	// resolved inside it.
	SetChroot
	// SetGroups replaces the supplementary groups with Attr.Groups, which
	// may be empty.
	SetGroups
	// SetForeground makes the process group the foreground group of the
	// terminal open at Attr.TtyFd.
	SetForeground
	// SetNoctty detaches the terminal open at Attr.NocttyFd from the session.
	SetNoctty
	// SetCttyFd makes the terminal open at Attr.TtyFd the controlling
	// terminal. The process must lead its session; see SetSID.
	SetCttyFd
)

var flagNames = []string{
	"SetSigMask",
	"SetSigDefault",
	"SetPgroup",
	"ResetIDs",
	"SetUID",
	"SetGID",
	"SetSID",
	"SetCtty",
	"SetCwd",
	"SetChroot",
	"SetGroups",
	"SetForeground",
	"SetNoctty",
	"SetCttyFd",
}

func (f Flag) String() string {
	if f == 0 {
		return "0"
	}
	var s string
	for i, name := range flagNames {
		if f&(1<<i) == 0 {
			continue
		}
		if s != "" {
			s += "|"
		}
		s += name
	}
	return s
}

// Attr describes properties the new process takes on before exec. Only
// fields whose flag is set in Flags are applied.
//
// TtyFd and NocttyFd are descriptors of the calling process. Attributes are
// applied before file actions, so they still refer to what they refer to in
// the caller.
type Attr struct {
	Flags      Flag
	SigMask    []syscall.Signal
	SigDefault []syscall.Signal
	Pgroup     int
	UID        int
	GID        int
	Groups     []int
	Ctty       string
	Dir        string
	Chroot     string
	TtyFd      int
	NocttyFd   int
}

// maxSignal is the highest signal number a kernel sigset_t can hold here.
const maxSignal = 64

// sigset folds sigs into the kernel's 64-bit sigset_t layout.
func sigset(sigs []syscall.Signal) (uint64, error) {
	var set uint64
	for _, sig := range sigs {
		if sig < 1 || sig > maxSignal {
			return 0, errors.Wrapf(syscall.EINVAL, "spawn: signal %d out of range", int(sig))
		}
		set |= 1 << (uint(sig) - 1)
	}
	return set, nil
}
