package main

import (
	"fmt"
	"log/slog"

	"github.com/NicolasHaas/zyeachat/pkg/api"
	"github.com/NicolasHaas/zyeachat/pkg/client"
	"github.com/NicolasHaas/zyeachat/pkg/model"
	"github.com/NicolasHaas/zyeachat/pkg/realtime"
	"github.com/NicolasHaas/zyeachat/pkg/tokenstore"
	"github.com/NicolasHaas/zyeachat/pkg/updates"
)

func newAPIClient(cfg *client.Config) *api.Client {
	return api.New(api.Config{BaseURL: cfg.APIURL, Timeout: cfg.RequestTimeout})
}

// logNavigator prints the routes a UI would show.
var logNavigator = client.NavigatorFunc(func(r client.Route) {
	attrs := []any{"screen", r.Screen}
	if r.Chat != nil {
		attrs = append(attrs, "partner_id", r.Chat.PartnerID, "user_name", r.Chat.UserName)
	}
	if r.Call != nil {
		attrs = append(attrs, "partner_id", r.Call.PartnerID, "channel", r.Call.ChannelName, "video", r.Call.IsVideo)
	}
	slog.Info("navigate", attrs...)
})

// newEngine wires the headless engine. The caller owns Close.
func newEngine(cfg *client.Config) (*client.Engine, error) {
	store, err := tokenstore.Open(cfg.TokenStore)
	if err != nil {
		return nil, fmt.Errorf("open token store: %w", err)
	}

	rt := realtime.NewManager(&realtime.WebsocketDialer{URL: cfg.RealtimeURL}, realtime.NewBus())

	var checker *updates.Checker
	if cfg.UpdateManifestURL != "" {
		checker = updates.NewChecker(updates.Config{
			ManifestURL: cfg.UpdateManifestURL,
			MinInterval: cfg.UpdateCheckInterval,
		})
		checker.OnAvailable(func(m updates.Manifest) {
			slog.Info("update available", "version", m.Version)
			for _, e := range m.Notes {
				slog.Info("changelog", "version", e.Version, "changes", e.Changes)
			}
		})
	}

	e := client.NewEngine(cfg, client.Dependencies{
		Store:     store,
		Backend:   newAPIClient(cfg),
		Realtime:  rt,
		Navigator: logNavigator,
		Badge:     client.LogBadge{},
		Notifier:  client.LogNotifier{},
		Updates:   checker,
	})
	e.OnSessionChange = func(s *model.Session) {
		if s == nil {
			slog.Info("signed out")
			return
		}
		slog.Info("signed in", "user_id", s.UserID(), "name", s.User.DisplayName())
	}
	return e, nil
}
