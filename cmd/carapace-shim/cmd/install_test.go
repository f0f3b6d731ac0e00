package cmd

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRunInstall_MovesOriginalAsideAndSymlinks(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "git")
	if err := os.WriteFile(target, []byte("#!/bin/sh\necho real-git\n"), 0o755); err != nil {
		t.Fatalf("write target: %v", err)
	}

	if err := runInstall(target, nil); err != nil {
		t.Fatalf("runInstall: %v", err)
	}

	backup := target + ".carapace-real"
	content, err := os.ReadFile(backup)
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if string(content) != "#!/bin/sh\necho real-git\n" {
		t.Errorf("backup content = %q, want original script", content)
	}

	info, err := os.Lstat(target)
	if err != nil {
		t.Fatalf("lstat target: %v", err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		t.Error("target is not a symlink after install")
	}

	self, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	linkDest, err := os.Readlink(target)
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if linkDest != self {
		t.Errorf("symlink dest = %q, want %q", linkDest, self)
	}
}

func TestRunInstall_EmptyTargetErrors(t *testing.T) {
	if err := runInstall("", nil); err == nil {
		t.Error("expected error for empty target")
	}
}

func TestRunInstall_AlreadyInstalledIsNoop(t *testing.T) {
	dir := t.TempDir()

	shimBinary := filepath.Join(dir, "carapace-shim")
	if err := os.WriteFile(shimBinary, []byte("fake shim"), 0o755); err != nil {
		t.Fatalf("write shim binary: %v", err)
	}

	target := filepath.Join(dir, "git")
	if err := os.Symlink(shimBinary, target); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	if err := runInstall(target, nil); err != nil {
		t.Fatalf("runInstall on already-installed target: %v", err)
	}

	dest, err := os.Readlink(target)
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if dest != shimBinary {
		t.Errorf("already-installed symlink was modified: now points to %q", dest)
	}
}

func TestRunWhich_EmptyTargetErrors(t *testing.T) {
	if err := runWhich(""); err == nil {
		t.Error("expected error for empty target")
	}
}

func TestRunWhich_ResolvesInstalledBackup(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "git")
	backup := target + ".carapace-real"
	if err := os.WriteFile(backup, []byte("real binary"), 0o755); err != nil {
		t.Fatalf("write backup: %v", err)
	}

	if err := runWhich(target); err != nil {
		t.Errorf("runWhich: %v", err)
	}
}

func TestRunWhich_FallsBackToPathLookup(t *testing.T) {
	if err := runWhich("ls"); err != nil {
		t.Skipf("ls not resolvable in this environment: %v", err)
	}
}
