package model

// Conversation is a direct conversation row as listed by the backend.
type Conversation struct {
	ID          string `json:"id" yaml:"id"`
	PartnerID   string `json:"partner_id" yaml:"partner_id"`
	UnreadCount int    `json:"unread_count" yaml:"unread_count"`
}

// Group is a group conversation row as listed by the backend.
type Group struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	UnreadCount int    `json:"unreadCount" yaml:"unread_count"`
}

// UnreadSummary is the server's view of unread messages.
type UnreadSummary struct {
	Conversations int
	Groups        int
}

// Total is the value mirrored to the badge.
func (u UnreadSummary) Total() int {
	return u.Conversations + u.Groups
}
