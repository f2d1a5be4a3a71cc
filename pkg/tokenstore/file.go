package tokenstore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/zyeachat/pkg/crypto"
)

// fileRecord is the on-disk YAML layout.
type fileRecord struct {
	Token       string    `yaml:"token,omitempty"`
	SealedToken string    `yaml:"sealed_token,omitempty"`
	Salt        string    `yaml:"salt,omitempty"`
	UpdatedAt   time.Time `yaml:"updated_at"`
}

// File stores the token as YAML. With a passphrase the token is sealed with
// a key derived from it and a per-write salt.
type File struct {
	path       string
	passphrase string

	mu   sync.Mutex
	last string // last token written or read by this process
}

// NewFile returns a file store at path.
func NewFile(path, passphrase string) (*File, error) {
	if path == "" {
		return nil, errors.New("tokenstore: file path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("tokenstore: create dir: %w", err)
	}
	return &File{path: path, passphrase: passphrase}, nil
}

// Path returns the backing file path.
func (f *File) Path() string { return f.path }

func (f *File) Load(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token, err := f.read()
	if err != nil {
		return "", err
	}
	f.last = token
	return token, nil
}

func (f *File) read() (string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("tokenstore: read %s: %w", f.path, err)
	}

	var rec fileRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return "", fmt.Errorf("tokenstore: parse %s: %w", f.path, err)
	}
	if rec.SealedToken == "" {
		return rec.Token, nil
	}

	salt, err := base64.StdEncoding.DecodeString(rec.Salt)
	if err != nil {
		return "", fmt.Errorf("tokenstore: decode salt: %w", err)
	}
	sealer, err := f.sealer(salt)
	if err != nil {
		return "", err
	}
	plain, err := sealer.Open(rec.SealedToken)
	if err != nil {
		return "", fmt.Errorf("tokenstore: open sealed token: %w", err)
	}
	return string(plain), nil
}

func (f *File) sealer(salt []byte) (*crypto.Sealer, error) {
	key, err := crypto.DeriveKey(f.passphrase, salt)
	if err != nil {
		return nil, fmt.Errorf("tokenstore: derive key: %w", err)
	}
	return crypto.NewSealer(key)
}

func (f *File) Save(_ context.Context, token string) error {
	rec := fileRecord{UpdatedAt: time.Now().UTC()}
	if f.passphrase == "" || token == "" {
		rec.Token = token
	} else {
		salt, err := crypto.GenerateSalt()
		if err != nil {
			return err
		}
		sealer, err := f.sealer(salt)
		if err != nil {
			return err
		}
		sealed, err := sealer.Seal([]byte(token))
		if err != nil {
			return err
		}
		rec.SealedToken = sealed
		rec.Salt = base64.StdEncoding.EncodeToString(salt)
	}

	data, err := yaml.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("tokenstore: marshal: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// Write to a temp file and rename so a watcher never sees a torn file.
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("tokenstore: write: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("tokenstore: rename: %w", err)
	}
	f.last = token
	return nil
}

func (f *File) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("tokenstore: remove: %w", err)
	}
	f.last = ""
	return nil
}

func (f *File) Close() error { return nil }

// Watch calls fn whenever another process replaces or removes the token
// file. Writes made through this store are not reported. It blocks until
// ctx is done.
func (f *File) Watch(ctx context.Context, fn func(token string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tokenstore: new watcher: %w", err)
	}
	defer w.Close()

	// Watch the directory: Save renames over the file, which drops a
	// watch placed on the file itself.
	if err := w.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("tokenstore: watch %s: %w", filepath.Dir(f.path), err)
	}

	name := filepath.Clean(f.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("token file watch error", "err", err)
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			f.mu.Lock()
			token, err := f.read()
			changed := err == nil && token != f.last
			if changed {
				f.last = token
			}
			f.mu.Unlock()
			if err != nil {
				slog.Warn("reload token file", "err", err)
				continue
			}
			if changed {
				fn(token)
			}
		}
	}
}

var _ Watcher = (*File)(nil)
