package tokenstore

import (
	"context"
	"errors"
	"fmt"

	gokeyring "github.com/zalando/go-keyring"
)

const (
	DefaultKeyringService = "zyeachat"
	keyringUser           = "auth-token"
)

// Keyring stores the token in the OS credential store.
type Keyring struct {
	service string
}

func NewKeyring(service string) *Keyring {
	if service == "" {
		service = DefaultKeyringService
	}
	return &Keyring{service: service}
}

func (k *Keyring) Load(_ context.Context) (string, error) {
	token, err := gokeyring.Get(k.service, keyringUser)
	if errors.Is(err, gokeyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("tokenstore: keyring get: %w", err)
	}
	return token, nil
}

func (k *Keyring) Save(ctx context.Context, token string) error {
	if token == "" {
		return k.Clear(ctx)
	}
	if err := gokeyring.Set(k.service, keyringUser, token); err != nil {
		return fmt.Errorf("tokenstore: keyring set: %w", err)
	}
	return nil
}

func (k *Keyring) Clear(_ context.Context) error {
	err := gokeyring.Delete(k.service, keyringUser)
	if err != nil && !errors.Is(err, gokeyring.ErrNotFound) {
		return fmt.Errorf("tokenstore: keyring delete: %w", err)
	}
	return nil
}

func (k *Keyring) Close() error { return nil }
