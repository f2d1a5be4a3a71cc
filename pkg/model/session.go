package model

import "time"

// Session is the authenticated user plus the token that proved it.
// There is at most one per engine.
type Session struct {
	User      User
	Token     string
	CreatedAt time.Time
}

// UserID returns the id the realtime channel is keyed to.
func (s *Session) UserID() string {
	if s == nil {
		return ""
	}
	return s.User.ID
}

// Valid reports whether the session has both a user and a token.
func (s *Session) Valid() bool {
	return s != nil && s.Token != "" && ValidateUserID(s.User.ID) == nil
}
