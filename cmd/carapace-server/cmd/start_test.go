package cmd

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestPidFilePath_UnderHomeDirectory(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory available: %v", err)
	}
	got := pidFilePath()
	want := filepath.Join(home, ".carapace", "server.pid")
	if got != want {
		t.Errorf("pidFilePath() = %q, want %q", got, want)
	}
}

func TestWritePIDFile_CreatesParentAndWritesOwnPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "server.pid")
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	got := readPIDFile(path)
	if got != os.Getpid() {
		t.Errorf("readPIDFile = %d, want %d", got, os.Getpid())
	}
}

func TestReadPIDFile_MissingFileReturnsZero(t *testing.T) {
	got := readPIDFile(filepath.Join(t.TempDir(), "does-not-exist.pid"))
	if got != 0 {
		t.Errorf("readPIDFile = %d, want 0", got)
	}
}

func TestReadPIDFile_MalformedContentsReturnsZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.pid")
	if err := os.WriteFile(path, []byte("not-a-pid\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := readPIDFile(path)
	if got != 0 {
		t.Errorf("readPIDFile = %d, want 0", got)
	}
}

func TestReadPIDFile_TrimsWhitespace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.pid")
	if err := os.WriteFile(path, []byte("  "+strconv.Itoa(12345)+"  \n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := readPIDFile(path)
	if got != 12345 {
		t.Errorf("readPIDFile = %d, want 12345", got)
	}
}
