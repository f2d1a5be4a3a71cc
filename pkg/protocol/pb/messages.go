// Package pb holds the payload types carried inside realtime frames.
// "incomingCall" and "receiveMessage" carry model.IncomingCall and
// model.Message directly.
package pb

// ----- Calls -----

// CallUser starts ringing the receiver.
type CallUser struct {
	ReceiverID   string `json:"receiverId"`
	CallerName   string `json:"callerName,omitempty"`
	CallerAvatar string `json:"callerAvatar,omitempty"`
	ChannelName  string `json:"channelName"`
	IsVideo      bool   `json:"isVideo"`
}

type CallAccepted struct {
	CallerID    string `json:"callerId"`
	ReceiverID  string `json:"receiverId"`
	ChannelName string `json:"channelName,omitempty"`
}

type CallRejected struct {
	CallerID   string `json:"callerId"`
	ReceiverID string `json:"receiverId"`
}

// EndCall withdraws a ringing call; the receiver gets CallEnded.
type EndCall struct {
	ReceiverID string `json:"receiverId"`
}

type CallEnded struct {
	CallerID string `json:"callerId"`
}

// ----- Chat -----

type SendMessage struct {
	ReceiverID     string `json:"receiverId"`
	ConversationID string `json:"conversationId,omitempty"`
	Text           string `json:"text"`
	Type           string `json:"type,omitempty"`
}
