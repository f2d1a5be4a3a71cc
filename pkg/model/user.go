package model

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxUserIDLength   = 64
	MaxUserNameLength = 128

	// DefaultDisplayName is shown when a peer arrives without a name.
	DefaultDisplayName = "Người dùng"
)

var ErrUserIDEmpty = errors.New("user id must not be empty")
var ErrUserIDTooLong = fmt.Errorf("user id must not exceed %d characters", MaxUserIDLength)
var ErrUserIDInvalidChars = errors.New("user id must not contain whitespace or control characters")

// User is the profile returned by the "who am I" endpoint.
type User struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Avatar string `json:"avatar,omitempty" yaml:"avatar,omitempty"`
	Email  string `json:"email,omitempty" yaml:"email,omitempty"`
	Phone  string `json:"phone,omitempty" yaml:"phone,omitempty"`
}

// DisplayName returns the user's name or the placeholder.
func (u *User) DisplayName() string {
	if u == nil || strings.TrimSpace(u.Name) == "" {
		return DefaultDisplayName
	}
	return u.Name
}

// ValidateUserID checks that an id is non-empty, bounded and free of
// whitespace. Backend ids are opaque (numeric or UUID), so nothing else is
// enforced.
func ValidateUserID(id string) error {
	if id == "" {
		return ErrUserIDEmpty
	}
	if utf8.RuneCountInString(id) > MaxUserIDLength {
		return ErrUserIDTooLong
	}
	for _, r := range id {
		if r <= ' ' || r == 0x7f {
			return ErrUserIDInvalidChars
		}
	}
	return nil
}
