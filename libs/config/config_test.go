package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPort(t *testing.T) {
	t.Setenv("TEST_PORT", "8083")
	if p, err := Port("TEST_PORT", "1"); err != nil || p != "8083" {
		t.Fatalf("expected 8083, got %q (%v)", p, err)
	}
	t.Setenv("TEST_PORT", "99999")
	if _, err := Port("TEST_PORT", "1"); err == nil {
		t.Fatal("expected error for out of range port")
	}
}

func TestTypedGetters(t *testing.T) {
	t.Setenv("TEST_INT", "12")
	t.Setenv("TEST_BAD_INT", "x")
	t.Setenv("TEST_BOOL", "yes")
	t.Setenv("TEST_DUR", "90s")
	t.Setenv("TEST_LIST", " a, ,b ")

	if got := Int("TEST_INT", 1); got != 12 {
		t.Fatalf("expected 12, got %d", got)
	}
	if got := Int("TEST_BAD_INT", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
	if !Bool("TEST_BOOL", false) {
		t.Fatal("expected true")
	}
	if got := Duration("TEST_DUR", time.Second); got != 90*time.Second {
		t.Fatalf("expected 90s, got %s", got)
	}
	if got := List("TEST_LIST", ""); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected list: %v", got)
	}
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("DOTENV_A=file\nDOTENV_B=file\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("DOTENV_A", "env")
	t.Setenv("DOTENV_B", "")
	os.Unsetenv("DOTENV_B")
	t.Cleanup(func() { os.Unsetenv("DOTENV_B") })

	LoadDotEnv(path)
	if got := os.Getenv("DOTENV_A"); got != "env" {
		t.Fatalf("expected env value kept, got %q", got)
	}
	if got := os.Getenv("DOTENV_B"); got != "file" {
		t.Fatalf("expected file value, got %q", got)
	}
}
