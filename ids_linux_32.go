//go:build linux && (386 || arm)

package spawn

import "golang.org/x/sys/unix"

// The unsuffixed calls take 16-bit ids on these architectures.
const (
	sysGETUID = unix.SYS_GETUID32
	sysGETGID = unix.SYS_GETGID32
	sysSETUID = unix.SYS_SETUID32
	sysSETGID = unix.SYS_SETGID32

	sysSETGROUPS = unix.SYS_SETGROUPS32
)
