package client

import (
	"log/slog"

	"github.com/NicolasHaas/zyeachat/pkg/model"
)

// Notification data keys, read back by HandleNotificationOpen.
const (
	NotifyConversationID = "conversationId"
	NotifyPartnerID      = "partnerId"
	NotifyUserName       = "userName"
	NotifyAvatar         = "avatar"
)

// Notification is a local notification shown for a peer message.
type Notification struct {
	Title string
	Body  string
	Data  map[string]string
}

// Notifier shows local notifications.
type Notifier interface {
	Notify(n Notification) error
}

// messageNotification builds the notification for a received message.
func messageNotification(msg model.Message) Notification {
	n := Notification{
		Title: model.FallbackMessageText,
		Body:  msg.Preview(),
		Data:  map[string]string{NotifyConversationID: msg.ConversationID},
	}
	if msg.User != nil {
		if msg.User.Name != "" {
			n.Title = msg.User.Name
		}
		n.Data[NotifyPartnerID] = msg.User.ID
		n.Data[NotifyUserName] = msg.User.Name
		n.Data[NotifyAvatar] = msg.User.Avatar
	}
	return n
}

// targetFromNotification rebuilds the chat target stored in a notification.
func targetFromNotification(data map[string]string) (model.ChatTarget, error) {
	t := model.ChatTarget{
		PartnerID:      data[NotifyPartnerID],
		ConversationID: data[NotifyConversationID],
		UserName:       data[NotifyUserName],
		Avatar:         data[NotifyAvatar],
	}
	if err := t.Validate(); err != nil {
		return t, err
	}
	return t.WithDefaults(), nil
}

// LogNotifier and LogBadge report through slog. Used by the headless CLI.
type LogNotifier struct{}

func (LogNotifier) Notify(n Notification) error {
	slog.Info("notification", "title", n.Title, "body", n.Body, "partner_id", n.Data[NotifyPartnerID])
	return nil
}

type LogBadge struct{}

func (LogBadge) SetBadge(n int) error {
	slog.Info("badge", "count", n)
	return nil
}
