// Package client is the headless session core of the chat app: it resolves
// the stored token into a session, owns the realtime connection's lifecycle,
// routes calls and messages, and keeps the unread badge in sync.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/NicolasHaas/zyeachat/pkg/crypto"
	"github.com/NicolasHaas/zyeachat/pkg/deeplink"
	"github.com/NicolasHaas/zyeachat/pkg/model"
	"github.com/NicolasHaas/zyeachat/pkg/protocol"
	"github.com/NicolasHaas/zyeachat/pkg/realtime"
	"github.com/NicolasHaas/zyeachat/pkg/tokenstore"
	"github.com/NicolasHaas/zyeachat/pkg/updates"
)

// Backend is the subset of the REST API the engine needs. *api.Client
// implements it. Auth failures must wrap model.ErrUnauthorized.
type Backend interface {
	Me(ctx context.Context, token string) (*model.User, error)
	Unread(ctx context.Context, token string) (model.UnreadSummary, error)
	Logout(ctx context.Context, token string) error
	RegisterPushToken(ctx context.Context, token, pushToken string) error
}

// Dependencies are the collaborators the engine drives.
type Dependencies struct {
	Store     tokenstore.Store
	Backend   Backend
	Realtime  *realtime.Manager
	Navigator Navigator        // optional
	Badge     Badge            // optional
	Notifier  Notifier         // optional
	Updates   *updates.Checker // optional
	Metrics   *Metrics         // optional
}

// Engine ties token storage, session resolution, the realtime channel,
// calls and unread counts together. Session transitions are serialised;
// the last one wins.
type Engine struct {
	cfg  *Config
	deps Dependencies

	// opMu serialises session transitions: resolve, switch, revalidate,
	// logout.
	opMu sync.Mutex

	mu        sync.RWMutex
	session   *model.Session
	pushToken string

	ready  *ReadySignal
	router *router
	calls  *CallCoordinator
	unread *UnreadSync
	subs   []*realtime.Subscription

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool

	// OnSessionChange is called after every session transition with the new
	// session, or nil when signed out. It must not call back into the
	// engine's transition methods.
	OnSessionChange func(s *model.Session)
}

// NewEngine creates an engine. cfg may be nil for defaults.
func NewEngine(cfg *Config, deps Dependencies) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:       cfg,
		deps:      deps,
		pushToken: cfg.PushToken,
		ready:     NewReadySignal(),
		ctx:       ctx,
		cancel:    cancel,
	}
	e.router = newRouter(deps.Navigator, e.ready)
	e.calls = NewCallCoordinator(deps.Realtime, e.currentUserID, navigateFunc(ctx, e.router))
	e.unread = NewUnreadSync(e.fetchUnread, deps.Badge, cfg.PollInterval, cfg.ChatListPollInterval)
	e.unread.metrics = deps.Metrics

	deps.Realtime.OnStateChange(e.handleRealtimeState)
	bus := deps.Realtime.Bus()
	e.subs = append(e.subs, e.calls.Attach(bus)...)
	e.subs = append(e.subs,
		realtime.On(bus, protocol.EventReceiveMessage, e.handleMessage),
		bus.Subscribe(protocol.EventIncomingCall, func(*protocol.Frame) {
			e.deps.Metrics.IncomingCalls.Add(1)
		}),
	)
	return e
}

// Start resolves the stored token and launches the pollers. Resolution
// failures are logged, not returned: the app starts signed out.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("client: engine already started")
	}
	e.started = true
	e.mu.Unlock()

	if _, err := e.Resolve(ctx); err != nil {
		slog.Warn("session not restored", "err", err)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.unread.Run(e.ctx)
	}()
	e.checkUpdates()

	if w, ok := e.deps.Store.(tokenstore.Watcher); ok {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := w.Watch(e.ctx, e.handleExternalToken); err != nil {
				slog.Warn("token watch stopped", "err", err)
			}
		}()
	}
	return nil
}

// Close stops pollers, drops subscriptions and closes the connection.
func (e *Engine) Close() error {
	e.cancel()
	for _, s := range e.subs {
		s.Unsubscribe()
	}
	e.deps.Realtime.Disconnect("shutdown")
	e.wg.Wait()
	return e.deps.Store.Close()
}

// Resolve turns the stored token into a session. No token means no
// session and no error. A rejected token is cleared; a network failure
// keeps it for the next attempt.
func (e *Engine) Resolve(ctx context.Context) (*model.Session, error) {
	e.opMu.Lock()
	token, err := e.deps.Store.Load(ctx)
	if err != nil {
		e.opMu.Unlock()
		return nil, fmt.Errorf("client: load token: %w", err)
	}
	if token == "" {
		e.clearSessionLocked("no token")
		e.opMu.Unlock()
		return nil, nil
	}
	s, err := e.resolveLocked(ctx, token)
	e.opMu.Unlock()

	if s != nil {
		e.afterSession(ctx, s)
	}
	return s, err
}

// resolveLocked must be called with opMu held.
func (e *Engine) resolveLocked(ctx context.Context, token string) (*model.Session, error) {
	user, err := e.deps.Backend.Me(ctx, token)
	switch {
	case errors.Is(err, model.ErrUnauthorized):
		slog.Info("stored token rejected", "token", crypto.Fingerprint(token))
		if cerr := e.deps.Store.Clear(ctx); cerr != nil {
			slog.Error("clear token", "err", cerr)
		}
		e.clearSessionLocked("token rejected")
		return nil, fmt.Errorf("client: resolve: %w", err)
	case err != nil:
		slog.Warn("resolve failed, keeping token", "err", err)
		return nil, fmt.Errorf("client: resolve: %w", err)
	}
	return e.establishLocked(ctx, user, token), nil
}

// establishLocked installs the session and connects realtime for it. A
// connection failure leaves the session in place; Foreground retries.
func (e *Engine) establishLocked(ctx context.Context, user *model.User, token string) *model.Session {
	s := &model.Session{User: *user, Token: token, CreatedAt: time.Now()}

	e.mu.Lock()
	prev := e.session
	e.session = s
	e.mu.Unlock()

	if prev != nil && prev.UserID() != s.UserID() {
		e.unread.Reset()
		e.calls.Dismiss()
	}

	if err := e.deps.Realtime.Connect(ctx, user.ID, token); err != nil {
		slog.Warn("realtime connect failed", "user_id", user.ID, "err", err)
	}

	e.deps.Metrics.SessionsResolved.Add(1)
	slog.Info("session established", "user_id", user.ID, "name", user.DisplayName())
	e.sessionChanged(s)
	return s
}

// afterSession runs the steps that hit the network once a session exists.
// Called without opMu held.
func (e *Engine) afterSession(ctx context.Context, s *model.Session) {
	if _, err := e.unread.Refresh(ctx); err != nil && !errors.Is(err, model.ErrNoSession) {
		slog.Warn("initial unread refresh failed", "err", err)
	}
	e.registerPush(ctx, s)
}

// clearSessionLocked drops the session and its connection without
// touching the stored token.
func (e *Engine) clearSessionLocked(reason string) {
	e.deps.Realtime.Disconnect(reason)
	e.calls.Dismiss()

	e.mu.Lock()
	had := e.session != nil
	e.session = nil
	e.mu.Unlock()

	if had {
		e.unread.Reset()
		e.sessionChanged(nil)
	}
}

// forceLogoutLocked clears everything a signed-in user leaves behind.
func (e *Engine) forceLogoutLocked(ctx context.Context, reason string) {
	if err := e.deps.Store.Clear(ctx); err != nil {
		slog.Error("clear token", "err", err)
	}
	e.clearSessionLocked(reason)
	e.unread.Reset()
	e.deps.Metrics.ForcedLogouts.Add(1)
	slog.Info("signed out", "reason", reason)
	e.router.Go(e.ctx, Route{Screen: ScreenLogin})
}

// Foreground revalidates the session when the app becomes active, then
// resumes realtime, refreshes unread counts and checks for updates.
func (e *Engine) Foreground(ctx context.Context) error {
	var rerr error

	e.opMu.Lock()
	s := e.Session()
	switch {
	case s == nil:
		token, err := e.deps.Store.Load(ctx)
		if err != nil {
			rerr = fmt.Errorf("client: load token: %w", err)
		} else if token != "" {
			_, rerr = e.resolveLocked(ctx, token)
		}
	case tokenExpired(s.Token):
		e.forceLogoutLocked(ctx, "token expired")
		rerr = fmt.Errorf("client: foreground: token expired: %w", model.ErrUnauthorized)
	default:
		user, err := e.deps.Backend.Me(ctx, s.Token)
		switch {
		case errors.Is(err, model.ErrUnauthorized):
			e.forceLogoutLocked(ctx, "session revoked")
			rerr = fmt.Errorf("client: foreground: %w", err)
		case err != nil:
			slog.Warn("revalidate failed, keeping session", "err", err)
		case user.ID != s.UserID():
			slog.Info("token now belongs to another user", "old", s.UserID(), "new", user.ID)
			e.establishLocked(ctx, user, s.Token)
		default:
			e.mu.Lock()
			if e.session == s {
				updated := *s
				updated.User = *user
				e.session = &updated
			}
			e.mu.Unlock()
		}
	}
	s = e.Session()
	e.opMu.Unlock()

	if s != nil {
		if err := e.deps.Realtime.Resume(ctx); err != nil {
			slog.Warn("realtime resume failed", "err", err)
		}
		e.afterSession(ctx, s)
	}
	e.checkUpdates()
	return rerr
}

// SetToken switches accounts: the old connection is closed before the new
// token is resolved. If the new token does not resolve it is cleared and
// the engine is left signed out.
func (e *Engine) SetToken(ctx context.Context, token string) (*model.Session, error) {
	if token == "" {
		return nil, errors.New("client: set token: empty token")
	}
	e.opMu.Lock()
	e.deps.Metrics.AccountSwitches.Add(1)
	slog.Info("switching account", "token", crypto.Fingerprint(token))

	e.clearSessionLocked("account switch")
	e.unread.Reset()

	if err := e.deps.Store.Save(ctx, token); err != nil {
		e.opMu.Unlock()
		return nil, fmt.Errorf("client: save token: %w", err)
	}
	s, err := e.resolveLocked(ctx, token)
	if err != nil {
		if cerr := e.deps.Store.Clear(ctx); cerr != nil {
			slog.Error("clear token", "err", cerr)
		}
		e.opMu.Unlock()
		return nil, err
	}
	e.opMu.Unlock()

	e.afterSession(ctx, s)
	return s, nil
}

// HandleDeepLink applies a deep link: a new token switches accounts, then a
// chat target opens the chat once navigation is ready. A target without a
// session is dropped.
func (e *Engine) HandleDeepLink(ctx context.Context, raw string) error {
	e.deps.Metrics.DeepLinks.Add(1)
	link, err := deeplink.Parse(raw, e.cfg.DeepLinkScheme)
	if err != nil {
		return fmt.Errorf("client: deep link: %w", err)
	}

	var switchErr error
	if link.HasToken() {
		stored, err := e.deps.Store.Load(ctx)
		if err != nil {
			slog.Warn("load token for deep link", "err", err)
		}
		if link.Token != stored {
			if _, err := e.SetToken(ctx, link.Token); err != nil {
				switchErr = fmt.Errorf("client: deep link: %w", err)
			}
		}
	}

	if link.Target != nil {
		if e.Session() == nil {
			slog.Info("deep link target dropped, not signed in", "partner_id", link.Target.PartnerID)
		} else {
			e.router.Go(e.ctx, Route{Screen: ScreenChatDetail, Chat: link.Target})
		}
	}
	return switchErr
}

// Logout signs out: the backend is told best-effort, local state is
// always cleared.
func (e *Engine) Logout(ctx context.Context) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	var err error
	if s := e.Session(); s != nil {
		if err = e.deps.Backend.Logout(ctx, s.Token); err != nil {
			slog.Warn("backend logout failed", "err", err)
			err = fmt.Errorf("client: logout: %w", err)
		}
	}
	e.forceLogoutLocked(ctx, "logout")
	return err
}

// SetPushToken records the device push token and registers it now if
// signed in, otherwise with the next session.
func (e *Engine) SetPushToken(ctx context.Context, pushToken string) {
	e.mu.Lock()
	e.pushToken = pushToken
	s := e.session
	e.mu.Unlock()
	if s != nil {
		e.registerPush(ctx, s)
	}
}

func (e *Engine) registerPush(ctx context.Context, s *model.Session) {
	e.mu.RLock()
	push := e.pushToken
	e.mu.RUnlock()
	if push == "" {
		return
	}
	if err := e.deps.Backend.RegisterPushToken(ctx, s.Token, push); err != nil {
		slog.Warn("register push token", "err", err)
		return
	}
	slog.Debug("push token registered", "user_id", s.UserID())
}

// HandleNotificationOpen routes a tapped message notification to its chat.
func (e *Engine) HandleNotificationOpen(data map[string]string) error {
	target, err := targetFromNotification(data)
	if err != nil {
		return fmt.Errorf("client: notification: %w", err)
	}
	if e.Session() == nil {
		return model.ErrNoSession
	}
	e.router.Go(e.ctx, Route{Screen: ScreenChatDetail, Chat: &target})
	return nil
}

// SetChatListFocused switches unread polling to the chat list rate.
func (e *Engine) SetChatListFocused(focused bool) {
	e.unread.SetChatListFocused(focused)
}

// Session returns the current session or nil.
func (e *Engine) Session() *model.Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session
}

// Calls exposes the incoming call coordinator.
func (e *Engine) Calls() *CallCoordinator { return e.calls }

// Unread exposes the unread synchroniser.
func (e *Engine) Unread() *UnreadSync { return e.unread }

// Ready is marked by the UI once navigation can accept routes.
func (e *Engine) Ready() *ReadySignal { return e.ready }

// Metrics returns the engine's counters.
func (e *Engine) Metrics() *Metrics { return e.deps.Metrics }

func (e *Engine) currentUserID() string {
	return e.Session().UserID()
}

func (e *Engine) fetchUnread(ctx context.Context) (model.UnreadSummary, error) {
	s := e.Session()
	if s == nil {
		return model.UnreadSummary{}, model.ErrNoSession
	}
	sum, err := e.deps.Backend.Unread(ctx, s.Token)
	if errors.Is(err, model.ErrUnauthorized) {
		e.authFailed(s.Token)
	}
	return sum, err
}

// authFailed signs out if token is still the active one.
func (e *Engine) authFailed(token string) {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	if s := e.Session(); s != nil && s.Token == token {
		e.forceLogoutLocked(e.ctx, "unauthorized")
	}
}

func (e *Engine) handleMessage(msg model.Message) {
	e.deps.Metrics.EventsReceived.Add(1)
	if !msg.FromPeer(e.currentUserID()) {
		return
	}
	e.unread.Bump()
	if e.deps.Notifier == nil {
		return
	}
	if err := e.deps.Notifier.Notify(messageNotification(msg)); err != nil {
		slog.Warn("show notification", "err", err)
		return
	}
	e.deps.Metrics.Notifications.Add(1)
}

func (e *Engine) handleRealtimeState(state realtime.State, userID string) {
	switch state {
	case realtime.StateConnected:
		e.deps.Metrics.Connects.Add(1)
	case realtime.StateDisconnected:
		e.deps.Metrics.Disconnects.Add(1)
	}
	slog.Debug("realtime state", "state", state, "user_id", userID)
}

// handleExternalToken reacts to another process rewriting the token store.
func (e *Engine) handleExternalToken(token string) {
	ctx := e.ctx
	if token == "" {
		e.opMu.Lock()
		if e.Session() != nil {
			e.forceLogoutLocked(ctx, "token removed")
		}
		e.opMu.Unlock()
		return
	}
	if s := e.Session(); s != nil && s.Token == token {
		return
	}
	if _, err := e.SetToken(ctx, token); err != nil {
		slog.Warn("external token rejected", "err", err)
	}
}

func (e *Engine) checkUpdates() {
	if e.deps.Updates == nil {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if _, err := e.deps.Updates.Check(e.ctx); err != nil {
			slog.Warn("update check failed", "err", err)
		}
	}()
}

func (e *Engine) sessionChanged(s *model.Session) {
	if e.OnSessionChange != nil {
		e.OnSessionChange(s)
	}
}

// tokenExpired reports whether token is a JWT whose exp has passed. Opaque
// tokens never expire locally; the backend decides.
func tokenExpired(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Now().After(exp.Time)
}
