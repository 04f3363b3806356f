package creds

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wigle.creds")

	if err := Save(path, "correct horse", "AIDt0ken:sekret"); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat credentials: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("credentials file mode = %o, want 600", perm)
	}

	token, err := Load(path, "correct horse")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if token != "AIDt0ken:sekret" {
		t.Errorf("Load() = %q", token)
	}

	// The token must not appear in the file.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read credentials: %v", err)
	}
	if len(raw) == 0 || bytes.Contains(raw, []byte("sekret")) {
		t.Error("token stored in the clear")
	}
}

func TestLoadWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wigle.creds")
	if err := Save(path, "right", "token"); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	_, err := Load(path, "wrong")
	if !errors.Is(err, ErrBadPassphrase) {
		t.Errorf("Load() error = %v, want ErrBadPassphrase", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent"), "p"); err == nil {
		t.Error("Load() should fail for a missing file")
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wigle.creds")
	if err := os.WriteFile(path, []byte(`{"salt": "AAAA"}`), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := Load(path, "p"); err == nil {
		t.Error("Load() should fail on a corrupt file")
	}
}
