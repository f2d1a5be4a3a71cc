// Package updates checks a release manifest for newer builds.
package updates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/mod/semver"
	"golang.org/x/time/rate"

	"github.com/NicolasHaas/zyeachat/pkg/version"
)

// DefaultMinInterval is the shortest gap between two manifest fetches.
const DefaultMinInterval = 30 * time.Second

// Manifest is the JSON document served at the manifest URL.
type Manifest struct {
	Version string    `json:"version"`
	Notes   Changelog `json:"notes,omitempty"`
}

// Skip reasons reported in Result.Skipped.
const (
	SkipDevBuild  = "dev build"
	SkipInFlight  = "check in progress"
	SkipThrottled = "throttled"
	SkipNoURL     = "no manifest url"
)

// Result of one Check call.
type Result struct {
	Available bool
	Manifest  Manifest
	Skipped   string // non-empty when no fetch happened
}

// Config for a Checker.
type Config struct {
	ManifestURL string
	Current     string        // defaults to version.String()
	Dev         bool          // skip every check; defaults to version.IsDev()
	MinInterval time.Duration // defaults to DefaultMinInterval
	HTTPClient  *http.Client
}

// Checker fetches the manifest at most once per MinInterval and never runs
// two fetches at once.
type Checker struct {
	url     string
	current string
	dev     bool
	client  *http.Client
	limiter *rate.Limiter

	checking atomic.Bool

	mu          sync.Mutex
	onAvailable func(Manifest)
	last        Result
}

// NewChecker builds a checker from cfg.
func NewChecker(cfg Config) *Checker {
	if cfg.Current == "" {
		cfg.Current = version.String()
		cfg.Dev = cfg.Dev || version.IsDev()
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Checker{
		url:     cfg.ManifestURL,
		current: cfg.Current,
		dev:     cfg.Dev,
		client:  cfg.HTTPClient,
		limiter: rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
	}
}

// OnAvailable sets the callback run when a newer version is found.
func (c *Checker) OnAvailable(fn func(Manifest)) {
	c.mu.Lock()
	c.onAvailable = fn
	c.mu.Unlock()
}

// Last returns the most recent completed result.
func (c *Checker) Last() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Check fetches the manifest unless skipped. Fetch errors are returned and
// leave Available false.
func (c *Checker) Check(ctx context.Context) (Result, error) {
	if !c.checking.CompareAndSwap(false, true) {
		return Result{Skipped: SkipInFlight}, nil
	}
	defer c.checking.Store(false)

	switch {
	case c.dev:
		slog.Debug("skip update check", "reason", SkipDevBuild)
		return Result{Skipped: SkipDevBuild}, nil
	case c.url == "":
		return Result{Skipped: SkipNoURL}, nil
	case !c.limiter.Allow():
		slog.Debug("skip update check", "reason", SkipThrottled)
		return Result{Skipped: SkipThrottled}, nil
	}

	m, err := c.fetch(ctx)
	if err != nil {
		c.store(Result{})
		return Result{}, err
	}

	res := Result{Manifest: m, Available: Newer(m.Version, c.current)}
	c.store(res)
	if res.Available {
		slog.Info("update available", "current", c.current, "latest", m.Version)
		c.mu.Lock()
		fn := c.onAvailable
		c.mu.Unlock()
		if fn != nil {
			fn(m)
		}
	} else {
		slog.Debug("app is up to date", "version", c.current)
	}
	return res, nil
}

func (c *Checker) store(r Result) {
	c.mu.Lock()
	c.last = r
	c.mu.Unlock()
}

func (c *Checker) fetch(ctx context.Context) (Manifest, error) {
	var m Manifest
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return m, fmt.Errorf("updates: create request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.client.Do(req)
	if err != nil {
		return m, fmt.Errorf("updates: fetch manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return m, fmt.Errorf("updates: fetch manifest: %s", resp.Status)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&m); err != nil {
		return m, fmt.Errorf("updates: decode manifest: %w", err)
	}
	if !semver.IsValid(canonical(m.Version)) {
		return m, fmt.Errorf("updates: invalid manifest version %q", m.Version)
	}
	return m, nil
}

// Newer reports whether latest is a higher semantic version than current.
// An unparseable current version is treated as older than anything valid.
func Newer(latest, current string) bool {
	l, c := canonical(latest), canonical(current)
	if !semver.IsValid(l) {
		return false
	}
	if !semver.IsValid(c) {
		return true
	}
	return semver.Compare(l, c) > 0
}

func canonical(v string) string {
	v = strings.TrimSpace(v)
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
