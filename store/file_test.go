package store

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func testFileConfig(t *testing.T) FileConfig {
	t.Helper()
	cfg := DefaultFileConfig()
	cfg.Path = filepath.Join(t.TempDir(), "authsession.bin")
	cfg.Passphrase = []byte("test-passphrase")
	// Fast derivation for tests; production uses DefaultFileConfig as-is.
	cfg.Memory = 8 * 1024
	cfg.Time = 1
	cfg.Parallelism = 1
	return cfg
}

func TestNewFileValidation(t *testing.T) {
	cfg := testFileConfig(t)

	missing := cfg
	missing.Path = ""
	if _, err := NewFile(missing); err == nil {
		t.Fatal("expected error for missing path")
	}

	noPass := cfg
	noPass.Passphrase = nil
	if _, err := NewFile(noPass); err == nil {
		t.Fatal("expected error for missing passphrase")
	}

	weak := cfg
	weak.Memory = 1024
	if _, err := NewFile(weak); err == nil {
		t.Fatal("expected error for argon2 memory below minimum")
	}
}

func TestFileRoundtrip(t *testing.T) {
	ctx := context.Background()
	cfg := testFileConfig(t)

	f, err := NewFile(cfg)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}

	// Missing file reads as empty, not as an error.
	if _, ok, err := f.Get(ctx, "auth.access_token"); err != nil || ok {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}

	if err := f.Set(ctx, "auth.access_token", "abc"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := f.Set(ctx, "auth.refresh_token", "rt1"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	// A second instance with the same passphrase reads the same document.
	reopened, err := NewFile(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	value, ok, err := reopened.Get(ctx, "auth.access_token")
	if err != nil || !ok || value != "abc" {
		t.Fatalf("get = (%q, %v, %v), want (abc, true, nil)", value, ok, err)
	}

	if err := reopened.Remove(ctx, "auth.access_token"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, ok, _ := reopened.Get(ctx, "auth.access_token"); ok {
		t.Fatal("key survived remove")
	}
	if _, ok, _ := reopened.Get(ctx, "auth.refresh_token"); !ok {
		t.Fatal("unrelated key removed")
	}
}

func TestFileCiphertextOnDisk(t *testing.T) {
	ctx := context.Background()
	cfg := testFileConfig(t)

	f, err := NewFile(cfg)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if err := f.Set(ctx, "auth.access_token", "super-secret-token"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	raw, err := os.ReadFile(cfg.Path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if bytes.Contains(raw, []byte("super-secret-token")) {
		t.Fatal("plaintext token visible on disk")
	}
	if bytes.Contains(raw, []byte("auth.access_token")) {
		t.Fatal("plaintext key visible on disk")
	}
}

func TestFileWrongPassphraseIsCorrupt(t *testing.T) {
	ctx := context.Background()
	cfg := testFileConfig(t)

	f, err := NewFile(cfg)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if err := f.Set(ctx, "auth.access_token", "abc"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	wrong := cfg
	wrong.Passphrase = []byte("not-the-passphrase")
	g, err := NewFile(wrong)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if _, _, err := g.Get(ctx, "auth.access_token"); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("error = %v, want ErrCorrupt", err)
	}
}

func TestFileTamperedDocumentIsCorrupt(t *testing.T) {
	ctx := context.Background()
	cfg := testFileConfig(t)

	f, err := NewFile(cfg)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if err := f.Set(ctx, "auth.access_token", "abc"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	raw, err := os.ReadFile(cfg.Path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	raw[len(raw)-1] ^= 0xff
	if err := os.WriteFile(cfg.Path, raw, 0o600); err != nil {
		t.Fatalf("write tampered file: %v", err)
	}

	if _, _, err := f.Get(ctx, "auth.access_token"); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("error = %v, want ErrCorrupt", err)
	}

	// Set on a corrupt document starts a fresh one instead of failing.
	if err := f.Set(ctx, "auth.access_token", "new"); err != nil {
		t.Fatalf("set after corruption failed: %v", err)
	}
	value, ok, err := f.Get(ctx, "auth.access_token")
	if err != nil || !ok || value != "new" {
		t.Fatalf("get after reset = (%q, %v, %v), want (new, true, nil)", value, ok, err)
	}
}

func TestFileTruncatedDocumentIsCorrupt(t *testing.T) {
	ctx := context.Background()
	cfg := testFileConfig(t)

	if err := os.WriteFile(cfg.Path, []byte("AS"), 0o600); err != nil {
		t.Fatalf("write truncated file: %v", err)
	}

	f, err := NewFile(cfg)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if _, _, err := f.Get(ctx, "auth.access_token"); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("error = %v, want ErrCorrupt", err)
	}

	// Remove on a corrupt document resets it to an empty one.
	if err := f.Remove(ctx, "auth.access_token"); err != nil {
		t.Fatalf("remove after corruption failed: %v", err)
	}
	if _, _, err := f.Get(ctx, "auth.access_token"); err != nil {
		t.Fatalf("get after reset failed: %v", err)
	}
}
