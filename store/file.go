package store

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	fileMagic      = "ASKV1"
	fileSaltLength = 16

	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
)

// FileConfig defines a public type used by authsession APIs.
//
// FileConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type FileConfig struct {
	Path       string
	Passphrase []byte

	// Argon2id parameters for the passphrase-to-key derivation.
	Memory      uint32
	Time        uint32
	Parallelism uint8
}

// File defines a public type used by authsession APIs.
//
// File is the secure-keystore analogue for native clients: a single file
// holding an encrypted key/value document. Values are sealed with
// XChaCha20-Poly1305 under an argon2id-derived key, so a copied or edited
// file fails authentication and is reported as [ErrCorrupt] rather than
// yielding attacker-controlled credentials.
type File struct {
	config FileConfig
	mu     sync.Mutex
}

// DefaultFileConfig returns argon2id parameters matching the interactive
// profile; only Path and Passphrase must be supplied by the caller.
func DefaultFileConfig() FileConfig {
	return FileConfig{
		Memory:      64 * 1024,
		Time:        1,
		Parallelism: 4,
	}
}

// NewFile validates cfg and returns a file-backed store. The file is created
// lazily on first Set.
func NewFile(cfg FileConfig) (*File, error) {
	if cfg.Path == "" {
		return nil, errors.New("file store requires a path")
	}
	if len(cfg.Passphrase) == 0 {
		return nil, errors.New("file store requires a passphrase")
	}
	if cfg.Memory < minMemoryKB {
		return nil, errors.New("argon2 memory below minimum")
	}
	if cfg.Time < minTimeCost {
		return nil, errors.New("argon2 time below minimum")
	}
	if cfg.Parallelism < minParallelism {
		return nil, errors.New("argon2 parallelism below minimum")
	}

	return &File{config: cfg}, nil
}

func (f *File) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		return "", false, err
	}
	value, ok := values[key]
	return value, ok, nil
}

func (f *File) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		// A corrupt document cannot be partially preserved; start over so a
		// fresh login is not blocked by unreadable leftovers.
		if !errors.Is(err, ErrCorrupt) {
			return err
		}
		values = map[string]string{}
	}
	values[key] = value
	return f.save(values)
}

func (f *File) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		if errors.Is(err, ErrCorrupt) {
			return f.save(map[string]string{})
		}
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return f.save(values)
}

func (f *File) load() (map[string]string, error) {
	raw, err := os.ReadFile(f.config.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	header := len(fileMagic) + fileSaltLength + chacha20poly1305.NonceSizeX
	if len(raw) < header || string(raw[:len(fileMagic)]) != fileMagic {
		return nil, ErrCorrupt
	}

	salt := raw[len(fileMagic) : len(fileMagic)+fileSaltLength]
	nonce := raw[len(fileMagic)+fileSaltLength : header]
	sealed := raw[header:]

	aead, err := chacha20poly1305.NewX(f.deriveKey(salt))
	if err != nil {
		return nil, ErrCorrupt
	}
	plain, err := aead.Open(nil, nonce, sealed, []byte(fileMagic))
	if err != nil {
		return nil, ErrCorrupt
	}

	values := map[string]string{}
	if err := json.Unmarshal(plain, &values); err != nil {
		return nil, ErrCorrupt
	}
	return values, nil
}

func (f *File) save(values map[string]string) error {
	plain, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	salt := make([]byte, fileSaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	aead, err := chacha20poly1305.NewX(f.deriveKey(salt))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	sealed := aead.Seal(nil, nonce, plain, []byte(fileMagic))

	out := make([]byte, 0, len(fileMagic)+len(salt)+len(nonce)+len(sealed))
	out = append(out, fileMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, sealed...)

	// Write-then-rename keeps a crashed write from destroying the previous
	// document.
	tmp := f.config.Path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(f.config.Path), 0o700); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := os.Rename(tmp, f.config.Path); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (f *File) deriveKey(salt []byte) []byte {
	return argon2.IDKey(
		f.config.Passphrase,
		salt,
		f.config.Time,
		f.config.Memory,
		f.config.Parallelism,
		chacha20poly1305.KeySize,
	)
}
