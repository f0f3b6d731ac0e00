//go:build windows

package agent

import "net"

// peerCredentials has no SO_PEERCRED equivalent wired on Windows named
// pipes; audit attribution there falls back to the socket's ownership ACL
// alone.
func peerCredentials(conn net.Conn) (pid int, uid int, ok bool) {
	return 0, 0, false
}
