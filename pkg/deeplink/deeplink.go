// Package deeplink parses and builds the app's custom-scheme links.
//
//	zyeachat://chat?token=...&partnerId=42&userName=Lan%20Anh&avatar=https%3A%2F%2F...
//
// A link may carry a bearer token (account hand-off), a chat target, or both.
package deeplink

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/NicolasHaas/zyeachat/pkg/model"
)

// DefaultScheme is the scheme registered by the app.
const DefaultScheme = "zyeachat"

// ChatHost is the only host the app routes.
const ChatHost = "chat"

// Query parameter names.
const (
	ParamToken          = "token"
	ParamPartnerID      = "partnerId"
	ParamUserName       = "userName"
	ParamAvatar         = "avatar"
	ParamConversationID = "conversationId"
)

var (
	ErrEmptyLink   = errors.New("deeplink: empty link")
	ErrWrongScheme = errors.New("deeplink: unexpected scheme")
	ErrWrongHost   = errors.New("deeplink: unexpected host")
)

// Link is the parsed content of a deep link.
type Link struct {
	Token  string
	Target *model.ChatTarget // nil when the link names no chat
}

// HasToken reports whether the link hands off credentials.
func (l Link) HasToken() bool { return l.Token != "" }

// Parse decodes raw. scheme defaults to DefaultScheme when empty.
func Parse(raw, scheme string) (Link, error) {
	if scheme == "" {
		scheme = DefaultScheme
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Link{}, ErrEmptyLink
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Link{}, fmt.Errorf("deeplink: parse: %w", err)
	}
	if !strings.EqualFold(u.Scheme, scheme) {
		return Link{}, fmt.Errorf("%w: %q", ErrWrongScheme, u.Scheme)
	}
	if !strings.EqualFold(u.Host, ChatHost) {
		return Link{}, fmt.Errorf("%w: %q", ErrWrongHost, u.Host)
	}

	// url.Query already percent-decodes once. Some senders double-encode
	// userName and avatar, so decode those again when it still applies.
	q := u.Query()
	link := Link{Token: strings.TrimSpace(q.Get(ParamToken))}

	target := model.ChatTarget{
		PartnerID:      q.Get(ParamPartnerID),
		ConversationID: q.Get(ParamConversationID),
		UserName:       unescapeAgain(q.Get(ParamUserName)),
		Avatar:         unescapeAgain(q.Get(ParamAvatar)),
	}
	if target.Validate() == nil {
		t := target.WithDefaults()
		link.Target = &t
	}
	return link, nil
}

func unescapeAgain(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	// PathUnescape keeps '+' literal.
	if v, err := url.PathUnescape(s); err == nil {
		return v
	}
	return s
}

// Build renders a link. Empty fields are omitted.
func Build(scheme string, l Link) string {
	if scheme == "" {
		scheme = DefaultScheme
	}
	q := url.Values{}
	if l.Token != "" {
		q.Set(ParamToken, l.Token)
	}
	if t := l.Target; t != nil {
		if t.PartnerID != "" {
			q.Set(ParamPartnerID, t.PartnerID)
		}
		if t.ConversationID != "" {
			q.Set(ParamConversationID, t.ConversationID)
		}
		if t.UserName != "" {
			q.Set(ParamUserName, t.UserName)
		}
		if t.Avatar != "" {
			q.Set(ParamAvatar, t.Avatar)
		}
	}
	u := url.URL{Scheme: scheme, Host: ChatHost, RawQuery: q.Encode()}
	return u.String()
}
