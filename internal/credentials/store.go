// Package credentials persists the Wi-Fi credentials a node joins its uplink
// with.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Credentials is an SSID and passphrase pair.
type Credentials struct {
	SSID     string `json:"ssid"`
	Password string `json:"password"`
}

// Redacted returns a copy safe to log or return over the control plane.
func (c Credentials) Redacted() Credentials {
	if c.Password != "" {
		c.Password = "********"
	}
	return c
}

// Store is the persistence interface for credentials.
// All implementations must be safe for concurrent use.
type Store interface {
	// Load returns the stored credentials and false when nothing is stored.
	Load() (Credentials, bool)
	// Save persists c, replacing any previous value.
	Save(c Credentials) error
	// Reset removes stored credentials. Resetting an empty store is not an error.
	Reset() error
}

// SSID and password length bounds, in bytes.
const (
	MinLength = 4
	MaxLength = 32
)

var ErrInvalidLength = errors.New("credentials: invalid length")

// Validate checks both fields against MinLength and MaxLength.
func (c Credentials) Validate() error {
	if n := len(c.SSID); n < MinLength || n > MaxLength {
		return fmt.Errorf("%w: ssid is %d bytes, want %d..%d", ErrInvalidLength, n, MinLength, MaxLength)
	}
	if n := len(c.Password); n < MinLength || n > MaxLength {
		return fmt.Errorf("%w: password is %d bytes, want %d..%d", ErrInvalidLength, n, MinLength, MaxLength)
	}
	return nil
}

// FileStore keeps credentials in one JSON file. Writes go through a temp file
// and an atomic rename so a crash never leaves a torn file behind.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a FileStore at path, creating the parent directory.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("credentials: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("credentials: create directory for %q: %w", path, err)
	}
	return &FileStore{path: path}, nil
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load() (Credentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("credentials: read failed", "path", s.path, "error", err)
		}
		return Credentials{}, false
	}
	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		slog.Warn("credentials: corrupt file ignored", "path", s.path, "error", err)
		return Credentials{}, false
	}
	if err := c.Validate(); err != nil {
		slog.Warn("credentials: stored value ignored", "path", s.path, "error", err)
		return Credentials{}, false
	}
	return c, true
}

func (s *FileStore) Save(c Credentials) error {
	if err := c.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("credentials: marshal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmpFile, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("credentials: create temp file: %w", err)
	}
	tmpName := tmpFile.Name()

	if err := tmpFile.Chmod(0o600); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("credentials: chmod temp file: %w", err)
	}
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("credentials: write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("credentials: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("credentials: rename temp -> %q: %w", s.path, err)
	}

	slog.Info("credentials saved", "ssid", c.SSID)
	return nil
}

func (s *FileStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("credentials: remove %q: %w", s.path, err)
	}
	slog.Info("credentials reset")
	return nil
}

// MemoryStore is a Store without persistence.
type MemoryStore struct {
	mu    sync.Mutex
	creds Credentials
	set   bool
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Load() (Credentials, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds, m.set
}

func (m *MemoryStore) Save(c Credentials) error {
	if err := c.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.creds, m.set = c, true
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Reset() error {
	m.mu.Lock()
	m.creds, m.set = Credentials{}, false
	m.mu.Unlock()
	return nil
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
