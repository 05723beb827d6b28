//go:build linux && !386 && !arm && !mips && !mipsle && !mips64 && !mips64le

package spawn

import "golang.org/x/sys/unix"

const (
	sysGETUID = unix.SYS_GETUID
	sysGETGID = unix.SYS_GETGID
	sysSETUID = unix.SYS_SETUID
	sysSETGID = unix.SYS_SETGID

	sysSETGROUPS = unix.SYS_SETGROUPS
)
