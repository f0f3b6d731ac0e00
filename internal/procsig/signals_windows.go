//go:build windows

package procsig

import (
	"os"

	"golang.org/x/sys/windows"
)

// Graceful returns the signals that trigger graceful shutdown. On
// Windows only os.Interrupt is reliably delivered; SIGTERM does not
// exist.
func Graceful() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// IsAlive reports whether proc is still running, by opening a handle and
// checking its exit code.
func IsAlive(proc *os.Process) bool {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(proc.Pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(handle)

	var exitCode uint32
	if err := windows.GetExitCodeProcess(handle, &exitCode); err != nil {
		return false
	}
	const stillActive = 259
	return exitCode == stillActive
}

// SendGracefulStop terminates proc. Windows has no SIGTERM equivalent.
func SendGracefulStop(proc *os.Process) error {
	return proc.Kill()
}
