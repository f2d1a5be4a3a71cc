// Package model defines the core domain types for the Zyea Chat client core.
package model

import "errors"

var (
	// ErrNoSession is returned by operations that need an authenticated user.
	ErrNoSession = errors.New("no active session")

	// ErrUnauthorized marks an invalid or expired token. It forces a logout.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNoPendingCall is returned when accepting or rejecting while nothing rings.
	ErrNoPendingCall = errors.New("no pending incoming call")
)
