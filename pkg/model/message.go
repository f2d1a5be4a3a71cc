package model

import (
	"errors"
	"strings"
	"time"
)

// Message types carried by "receiveMessage".
const (
	MessageText    = "text"
	MessageImage   = "image"
	MessageSticker = "sticker"
)

// FallbackMessageText stands in for a missing sender name or message text.
const FallbackMessageText = "Tin nhắn mới"

var ErrMessageBodyEmpty = errors.New("message body cannot be empty")

// Sender is the author block embedded in a realtime message.
type Sender struct {
	ID     string `json:"_id"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// Message is a chat message as pushed over the realtime channel.
type Message struct {
	ID             string    `json:"_id,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	ReceiverID     string    `json:"receiverId,omitempty"`
	Text           string    `json:"text,omitempty"`
	Type           string    `json:"type,omitempty"`
	User           *Sender   `json:"user,omitempty"`
	CreatedAt      time.Time `json:"createdAt,omitempty"`
}

func (m *Message) Validate() error {
	if m.Type == MessageImage || m.Type == MessageSticker {
		return nil
	}
	if strings.TrimSpace(m.Text) == "" {
		return ErrMessageBodyEmpty
	}
	return nil
}

// FromPeer reports whether the message was authored by someone other than
// the local user. Messages without an author block are not counted.
func (m *Message) FromPeer(localUserID string) bool {
	return m.User != nil && m.User.ID != "" && m.User.ID != localUserID
}

// Preview is the notification body for the message.
func (m *Message) Preview() string {
	switch m.Type {
	case MessageImage:
		return "[Hình ảnh]"
	case MessageSticker:
		return "[Nhãn dán]"
	}
	if m.Text == "" {
		return FallbackMessageText
	}
	return m.Text
}
