// Package devserver is a small chat backend for local runs and end-to-end
// tests: the REST endpoints the client session needs, a WebSocket relay for
// messages and call signalling, SQLite storage and Prometheus metrics.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/NicolasHaas/zyeachat/pkg/crypto"
	"github.com/NicolasHaas/zyeachat/pkg/model"
)

// Config holds server configuration.
type Config struct {
	Addr        string        // HTTP bind address for the API and /socket
	MetricsAddr string        // separate /metrics listener; empty disables
	DBPath      string        // SQLite database file
	SeedFile    string        // YAML users/conversations/groups applied on start
	Secret      string        // HS256 signing secret; random when empty
	TokenTTL    time.Duration // lifetime of issued tokens
	PrintTokens bool          // log a fresh token for every user on start

	ExportSeed bool // dump the database as seed YAML and exit
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:        ":3000",
		MetricsAddr: ":9603",
		DBPath:      "zyeachat-dev.db",
		TokenTTL:    7 * 24 * time.Hour,
		PrintTokens: true,
	}
}

// Dependencies holds the collaborators the server needs.
type Dependencies struct {
	Store   *Store
	Metrics *Metrics // optional; created when nil
}

// Server is the dev backend.
type Server struct {
	cfg     Config
	store   *Store
	issuer  *Issuer
	hub     *Hub
	metrics *Metrics

	httpSrv    *http.Server
	metricsSrv *http.Server

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New creates a server. A missing secret is replaced by a random one, so
// tokens do not survive a restart in that case.
func New(cfg Config, deps Dependencies) *Server {
	secret := cfg.Secret
	if secret == "" {
		generated, err := crypto.GenerateSecret()
		if err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		secret = generated
	}
	m := deps.Metrics
	if m == nil {
		m = NewMetrics()
	}
	return &Server{
		cfg:     cfg,
		store:   deps.Store,
		issuer:  NewIssuer([]byte(secret), cfg.TokenTTL),
		hub:     NewHub(deps.Store, m),
		metrics: m,
	}
}

func (s *Server) Issuer() *Issuer   { return s.issuer }
func (s *Server) Hub() *Hub         { return s.hub }
func (s *Server) Metrics() *Metrics { return s.metrics }

// Handler returns the API, realtime and health routes.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/auth/me", s.authed(s.handleMe))
	mux.HandleFunc("POST /api/auth/logout", s.authed(s.handleLogout))
	mux.HandleFunc("GET /api/conversations", s.authed(s.handleConversations))
	mux.HandleFunc("GET /api/groups", s.authed(s.handleGroups))
	mux.HandleFunc("PUT /api/users/push-token", s.authed(s.handlePushToken))
	mux.HandleFunc("GET /socket", func(w http.ResponseWriter, r *http.Request) {
		s.handleSocket(ctx, w, r)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return s.metrics.Instrument(mux)
}

type authInfo struct {
	UserID    string
	TokenID   string
	ExpiresAt time.Time
}

// authed rejects requests without a valid, unrevoked bearer token for an
// existing user.
func (s *Server) authed(next func(http.ResponseWriter, *http.Request, authInfo)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, status, err := s.authenticate(r)
		if err != nil {
			s.metrics.AuthFailures.Inc()
			slog.Debug("auth rejected", "path", r.URL.Path, "err", err)
			writeError(w, status, err.Error())
			return
		}
		next(w, r, info)
	}
}

func (s *Server) authenticate(r *http.Request) (authInfo, int, error) {
	token := bearerToken(r)
	if token == "" {
		return authInfo{}, http.StatusUnauthorized, errors.New("missing bearer token")
	}
	claims, err := s.issuer.Verify(token)
	if err != nil {
		return authInfo{}, http.StatusUnauthorized, errors.New("invalid token")
	}
	revoked, err := s.store.IsRevoked(r.Context(), claims.ID)
	if err != nil {
		return authInfo{}, http.StatusInternalServerError, errors.New("internal error")
	}
	if revoked {
		return authInfo{}, http.StatusUnauthorized, errors.New("token revoked")
	}
	user, err := s.store.GetUser(r.Context(), claims.Subject)
	if err != nil {
		return authInfo{}, http.StatusInternalServerError, errors.New("internal error")
	}
	if user == nil {
		return authInfo{}, http.StatusForbidden, errors.New("unknown user")
	}

	info := authInfo{UserID: claims.Subject, TokenID: claims.ID}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	return info, 0, nil
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, a authInfo) {
	user, err := s.store.GetUser(r.Context(), a.UserID)
	if err != nil || user == nil {
		writeError(w, http.StatusInternalServerError, "load user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]*model.User{"user": user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, a authInfo) {
	if err := s.store.Revoke(r.Context(), a.TokenID, a.ExpiresAt); err != nil {
		slog.Error("revoke token", "user_id", a.UserID, "err", err)
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	slog.Info("user logged out", "user_id", a.UserID)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request, a authInfo) {
	convs, err := s.store.Conversations(r.Context(), a.UserID)
	if err != nil {
		slog.Error("list conversations", "user_id", a.UserID, "err", err)
		writeError(w, http.StatusInternalServerError, "list conversations")
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

// handleGroups wraps the list in a data envelope, as the production backend
// does for groups.
func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request, a authInfo) {
	groups, err := s.store.Groups(r.Context(), a.UserID)
	if err != nil {
		slog.Error("list groups", "user_id", a.UserID, "err", err)
		writeError(w, http.StatusInternalServerError, "list groups")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": groups})
}

func (s *Server) handlePushToken(w http.ResponseWriter, r *http.Request, a authInfo) {
	var body struct {
		PushToken string `json:"pushToken"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&body); err != nil ||
		strings.TrimSpace(body.PushToken) == "" {
		writeError(w, http.StatusBadRequest, "pushToken required")
		return
	}
	if err := s.store.SetPushToken(r.Context(), a.UserID, body.PushToken); err != nil {
		slog.Error("save push token", "user_id", a.UserID, "err", err)
		writeError(w, http.StatusInternalServerError, "save push token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleSocket authenticates like the REST routes and additionally requires
// the userId query parameter to name the token's user.
func (s *Server) handleSocket(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	info, status, err := s.authenticate(r)
	if err != nil {
		s.metrics.AuthFailures.Inc()
		http.Error(w, err.Error(), status)
		return
	}
	if q := r.URL.Query().Get("userId"); q != info.UserID {
		s.metrics.AuthFailures.Inc()
		http.Error(w, "userId does not match token", http.StatusForbidden)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("upgrade failed", "err", err)
		return
	}
	s.hub.serve(ctx, ws, info.UserID)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
