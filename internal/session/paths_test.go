package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir(t *testing.T) {
	home, _ := os.UserHomeDir()
	got := Dir("main")
	want := filepath.Join(home, ".pigeon", "sessions", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestDBPath(t *testing.T) {
	got := DBPath("test")
	if !strings.HasSuffix(got, filepath.Join("sessions", "test", "pigeon.db")) {
		t.Errorf("DBPath(test) = %q, want suffix sessions/test/pigeon.db", got)
	}
}

func TestLockPath(t *testing.T) {
	got := LockPath("test")
	if !strings.HasSuffix(got, filepath.Join("sessions", "test", "LOCK")) {
		t.Errorf("LockPath(test) = %q, want suffix sessions/test/LOCK", got)
	}
}

func TestTokenPath(t *testing.T) {
	got := TokenPath("test")
	if !strings.HasSuffix(got, filepath.Join("sessions", "test", "token")) {
		t.Errorf("TokenPath(test) = %q, want suffix sessions/test/token", got)
	}
}
