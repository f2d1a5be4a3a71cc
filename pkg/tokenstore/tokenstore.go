// Package tokenstore persists the single authentication token the client
// holds. Backends: in-memory, YAML file (optionally sealed), SQLite and the
// OS keyring.
package tokenstore

import (
	"context"
	"fmt"
	"strings"
)

// Store persists one opaque token string. Load returns "" with a nil error
// when nothing is stored.
type Store interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Clear(ctx context.Context) error
	Close() error
}

// Watcher is implemented by stores that can report tokens written by
// another process.
type Watcher interface {
	Watch(ctx context.Context, fn func(token string)) error
}

// Backend names accepted by Open.
const (
	BackendMemory  = "memory"
	BackendFile    = "file"
	BackendSQLite  = "sqlite"
	BackendKeyring = "keyring"
)

// Config selects and parameterises a backend.
type Config struct {
	Backend    string `yaml:"backend"`
	Path       string `yaml:"path,omitempty"`       // file and sqlite backends
	Passphrase string `yaml:"passphrase,omitempty"` // file backend: seal the token at rest
	Service    string `yaml:"service,omitempty"`    // keyring backend
}

// Open builds the backend named by cfg.Backend.
func Open(cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case BackendMemory, "":
		return NewMemory(), nil
	case BackendFile:
		return NewFile(cfg.Path, cfg.Passphrase)
	case BackendSQLite:
		return NewSQLite(cfg.Path)
	case BackendKeyring:
		return NewKeyring(cfg.Service), nil
	default:
		return nil, fmt.Errorf("tokenstore: unknown backend %q", cfg.Backend)
	}
}
