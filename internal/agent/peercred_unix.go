//go:build !windows

package agent

import (
	"net"

	"golang.org/x/sys/unix"
)

// peerCredentials reads the connecting process's PID and UID off a
// Unix-domain socket via SO_PEERCRED, for audit log context only. Socket
// file ownership is the CLI ingress's actual trust boundary (whatever can
// open the socket path is already trusted); this is never consulted for
// authorization.
func peerCredentials(conn net.Conn) (pid int, uid int, ok bool) {
	uc, isUnix := conn.(*net.UnixConn)
	if !isUnix {
		return 0, 0, false
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return 0, 0, false
	}
	var cred *unix.Ucred
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		cred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctrlErr != nil || sockErr != nil || cred == nil {
		return 0, 0, false
	}
	return int(cred.Pid), int(cred.Uid), true
}
