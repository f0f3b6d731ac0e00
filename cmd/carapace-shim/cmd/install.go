package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// colorize reports whether stdout is an interactive terminal; --install and
// --which are frequently piped into a log file by installer scripts, and
// raw ANSI codes there only add noise.
func colorize() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// runInstall replaces the binary at target (a path on PATH, e.g.
// "/usr/local/bin/git") with a symlink to this shim binary, after moving the
// real tool aside to "<target>.carapace-real". carapace-shim never execs the
// real tool itself: it only ever talks to carapace-agent, and the
// policy-checked spawn happens in carapace-server. The
// "<target>.carapace-real" rename exists so operators (and --which) can find
// the original binary again; carapace-server's policy file can reference
// that path directly as a tool's binary.
func runInstall(target string, _ []string) error {
	if target == "" {
		return fmt.Errorf("--install requires a target path")
	}
	info, err := os.Lstat(target)
	if err != nil {
		return fmt.Errorf("stat %s: %w", target, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		real, err := filepath.EvalSymlinks(target)
		if err == nil && filepath.Base(real) == "carapace-shim" {
			printInfo("%s is already installed", target)
			return nil
		}
	}

	backup := target + ".carapace-real"
	if _, err := os.Stat(backup); os.IsNotExist(err) {
		if err := os.Rename(target, backup); err != nil {
			return fmt.Errorf("move original binary aside to %s: %w", backup, err)
		}
		printInfo("moved original binary to %s", backup)
	} else {
		printInfo("%s already exists, leaving it in place", backup)
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate shim binary: %w", err)
	}
	_ = os.Remove(target)
	if err := os.Symlink(self, target); err != nil {
		return fmt.Errorf("symlink %s -> %s: %w", target, self, err)
	}

	printSuccess("installed carapace-shim over %s", target)
	return nil
}

// runWhich prints the real tool binary target backs onto: the sibling
// "<target>.carapace-real" left by --install when it exists, otherwise
// target as resolved by exec.LookPath. Symlinks are not followed.
func runWhich(target string) error {
	if target == "" {
		return fmt.Errorf("--which requires a target path")
	}
	backup := target + ".carapace-real"
	if _, err := os.Stat(backup); err == nil {
		printInfo("%s -> %s (carapace-shim installed)", target, backup)
		return nil
	}
	resolved, err := exec.LookPath(target)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", target, err)
	}
	printInfo("%s -> %s (no carapace-shim installed)", target, resolved)
	return nil
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if colorize() {
		color.New(color.FgGreen, color.Bold).Fprintln(os.Stdout, msg)
		return
	}
	fmt.Fprintln(os.Stdout, msg)
}

func printInfo(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if colorize() {
		color.New(color.FgCyan).Fprintln(os.Stdout, msg)
		return
	}
	fmt.Fprintln(os.Stdout, msg)
}
