package model

import "errors"

var ErrCallerIDEmpty = errors.New("incoming call has no caller id")

// IncomingCall is the pending call shown while ringing. It only lives
// between the "incomingCall" event and accept, reject, "callEnded" or
// dismissal.
type IncomingCall struct {
	CallerID     string `json:"callerId"`
	CallerName   string `json:"callerName,omitempty"`
	CallerAvatar string `json:"callerAvatar,omitempty"`
	ChannelName  string `json:"channelName,omitempty"`
	IsVideo      bool   `json:"isVideo"`
}

func (c *IncomingCall) Validate() error {
	if c.CallerID == "" {
		return ErrCallerIDEmpty
	}
	return nil
}
