package devserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

const pruneInterval = time.Hour

// Prepare applies the seed file and, when configured, logs a token per user.
func (s *Server) Prepare(ctx context.Context) error {
	if s.store == nil {
		return fmt.Errorf("devserver: missing store dependency")
	}
	if s.cfg.SeedFile != "" {
		if err := LoadSeed(ctx, s.cfg.SeedFile, s.store); err != nil {
			return fmt.Errorf("devserver: seed: %w", err)
		}
	}
	if s.cfg.PrintTokens {
		return s.printTokens(ctx)
	}
	return nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Prepare(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.httpSrv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if s.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.metrics.Handler())
		s.metricsSrv = &http.Server{
			Addr:              s.cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	httpSrv, metricsSrv := s.httpSrv, s.metricsSrv
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("dev server listening", "addr", s.cfg.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("devserver: serve: %w", err)
		}
		return nil
	})
	if metricsSrv != nil {
		g.Go(func() error {
			slog.Info("metrics HTTP listening", "addr", s.cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("devserver: metrics: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		s.pruneLoop(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")
		s.Shutdown()
		return nil
	})
	return g.Wait()
}

// Shutdown closes the realtime connections and stops both listeners.
func (s *Server) Shutdown() {
	s.mu.Lock()
	cancel, httpSrv, metricsSrv := s.cancel, s.httpSrv, s.metricsSrv
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.hub.CloseAll()

	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if httpSrv != nil {
		_ = httpSrv.Shutdown(ctx)
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(ctx)
	}
}

func (s *Server) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := s.store.PruneRevoked(ctx, now)
			if err != nil {
				slog.Warn("prune revoked tokens", "err", err)
				continue
			}
			if n > 0 {
				slog.Debug("pruned revoked tokens", "count", n)
			}
		}
	}
}

func (s *Server) printTokens(ctx context.Context) error {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		slog.Warn("no users seeded; pass a seed file to create some")
		return nil
	}
	slog.Info("========================================")
	for _, u := range users {
		token, err := s.issuer.Issue(u.ID)
		if err != nil {
			return err
		}
		slog.Info("user token", "user_id", u.ID, "name", u.Name, "token", token)
	}
	slog.Info("========================================")
	return nil
}
