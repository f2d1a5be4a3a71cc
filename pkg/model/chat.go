package model

import "errors"

var ErrChatTargetEmpty = errors.New("chat target needs a partner or conversation id")

// ChatTarget identifies the chat-detail view to open, prefilled with the
// partner's display data.
type ChatTarget struct {
	PartnerID      string `json:"partnerId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	UserName       string `json:"userName,omitempty"`
	Avatar         string `json:"avatar,omitempty"`
}

func (t *ChatTarget) Validate() error {
	if t.PartnerID == "" && t.ConversationID == "" {
		return ErrChatTargetEmpty
	}
	return nil
}

// WithDefaults returns a copy with the placeholder name filled in.
func (t ChatTarget) WithDefaults() ChatTarget {
	if t.UserName == "" {
		t.UserName = DefaultDisplayName
	}
	return t
}
