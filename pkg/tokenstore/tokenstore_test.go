package tokenstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gokeyring "github.com/zalando/go-keyring"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load empty: %v", err)
	}
	if got != "" {
		t.Fatalf("Load empty = %q, want \"\"", got)
	}

	if err := s.Save(ctx, "first"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(ctx, "second"); err != nil {
		t.Fatalf("Save overwrite: %v", err)
	}
	got, err = s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != "second" {
		t.Fatalf("Load = %q, want %q", got, "second")
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear twice: %v", err)
	}
	got, err = s.Load(ctx)
	if err != nil {
		t.Fatalf("Load after clear: %v", err)
	}
	if got != "" {
		t.Fatalf("Load after clear = %q, want \"\"", got)
	}
}

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestFilePlain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.yaml")
	s, err := NewFile(path, "")
	if err != nil {
		t.Fatal(err)
	}
	exerciseStore(t, s)

	if err := s.Save(context.Background(), "plain-token"); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "plain-token") {
		t.Errorf("plain file should hold the token, got:\n%s", data)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file mode = %o, want 600", perm)
	}
}

func TestFileSealed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.yaml")
	s, err := NewFile(path, "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	exerciseStore(t, s)

	ctx := context.Background()
	if err := s.Save(ctx, "secret-token"); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "secret-token") {
		t.Fatalf("sealed file leaks the token:\n%s", data)
	}

	// A second store with the same passphrase reads it back.
	other, _ := NewFile(path, "hunter2")
	got, err := other.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != "secret-token" {
		t.Errorf("Load = %q, want %q", got, "secret-token")
	}

	wrong, _ := NewFile(path, "wrong")
	if _, err := wrong.Load(ctx); err == nil {
		t.Error("Load with wrong passphrase should fail")
	}
}

func TestFileWatchReportsExternalWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.yaml")
	s, err := NewFile(path, "")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Watch(ctx, func(token string) { got <- token })
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	other, _ := NewFile(path, "")
	if err := other.Save(context.Background(), "from-elsewhere"); err != nil {
		t.Fatal(err)
	}

	select {
	case token := <-got:
		if token != "from-elsewhere" {
			t.Errorf("watch token = %q, want %q", token, "from-elsewhere")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not report the external write")
	}

	cancel()
	<-done
}

func TestSQLite(t *testing.T) {
	s, err := NewSQLite(filepath.Join(t.TempDir(), "client.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	exerciseStore(t, s)

	ctx := context.Background()
	if err := s.Save(ctx, "t"); err != nil {
		t.Fatal(err)
	}
	at, err := s.UpdatedAt(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if at.IsZero() {
		t.Error("UpdatedAt should be set after Save")
	}
}

func TestKeyring(t *testing.T) {
	gokeyring.MockInit()
	exerciseStore(t, NewKeyring(""))
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		cfg     Config
		wantErr bool
	}{
		{Config{}, false},
		{Config{Backend: "memory"}, false},
		{Config{Backend: "FILE", Path: filepath.Join(dir, "a.yaml")}, false},
		{Config{Backend: "sqlite", Path: filepath.Join(dir, "a.db")}, false},
		{Config{Backend: "keyring"}, false},
		{Config{Backend: "file"}, true},
		{Config{Backend: "floppy"}, true},
	}
	for _, tt := range tests {
		s, err := Open(tt.cfg)
		if (err != nil) != tt.wantErr {
			t.Errorf("Open(%+v) err = %v, wantErr %v", tt.cfg, err, tt.wantErr)
			continue
		}
		if s != nil {
			_ = s.Close()
		}
	}
}
