package updates

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewer(t *testing.T) {
	tests := []struct {
		latest, current string
		want            bool
	}{
		{"1.0.2", "1.0.1", true},
		{"v1.1.0", "1.0.9", true},
		{"1.0.1", "v1.0.1", false},
		{"1.0.0", "1.0.1", false},
		{"garbage", "1.0.0", false},
		{"1.0.0", "abc1234", true},
	}
	for _, tt := range tests {
		if got := Newer(tt.latest, tt.current); got != tt.want {
			t.Errorf("Newer(%q, %q) = %v, want %v", tt.latest, tt.current, got, tt.want)
		}
	}
}

func manifestServer(t *testing.T, body string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCheckFindsUpdate(t *testing.T) {
	var hits atomic.Int32
	srv := manifestServer(t, `{"version":"1.0.2","notes":[{"version":"1.0.2","title":"Fixes","changes":["a"]}]}`, &hits)

	c := NewChecker(Config{ManifestURL: srv.URL, Current: "1.0.1"})
	var notified Manifest
	c.OnAvailable(func(m Manifest) { notified = m })

	res, err := c.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !res.Available || res.Skipped != "" {
		t.Fatalf("Check = %+v, want available", res)
	}
	if notified.Version != "1.0.2" {
		t.Errorf("OnAvailable got %+v", notified)
	}
	if e, ok := res.Manifest.Notes.Latest(); !ok || e.Title != "Fixes" {
		t.Errorf("Latest note = %+v, %v", e, ok)
	}
	if !c.Last().Available {
		t.Error("Last() should record the result")
	}
}

func TestCheckThrottled(t *testing.T) {
	var hits atomic.Int32
	srv := manifestServer(t, `{"version":"1.0.1"}`, &hits)

	c := NewChecker(Config{ManifestURL: srv.URL, Current: "1.0.1", MinInterval: time.Hour})
	ctx := context.Background()

	first, err := c.Check(ctx)
	if err != nil || first.Available {
		t.Fatalf("first Check = %+v, %v", first, err)
	}
	second, err := c.Check(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if second.Skipped != SkipThrottled {
		t.Errorf("second Check skipped = %q, want %q", second.Skipped, SkipThrottled)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("manifest fetched %d times, want 1", n)
	}
}

func TestCheckSkipsDevBuilds(t *testing.T) {
	var hits atomic.Int32
	srv := manifestServer(t, `{"version":"9.9.9"}`, &hits)

	c := NewChecker(Config{ManifestURL: srv.URL, Current: "1.0.0", Dev: true})
	res, err := c.Check(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped != SkipDevBuild || hits.Load() != 0 {
		t.Errorf("dev check = %+v, hits %d", res, hits.Load())
	}
}

func TestCheckInFlight(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte(`{"version":"1.0.0"}`))
	}))
	defer srv.Close()

	c := NewChecker(Config{ManifestURL: srv.URL, Current: "1.0.0"})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Check(context.Background())
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !c.checking.Load() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	res, err := c.Check(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped != SkipInFlight {
		t.Errorf("concurrent Check skipped = %q, want %q", res.Skipped, SkipInFlight)
	}
	close(release)
	<-done
}

func TestCheckBadManifest(t *testing.T) {
	var hits atomic.Int32
	srv := manifestServer(t, `{"version":"latest"}`, &hits)
	c := NewChecker(Config{ManifestURL: srv.URL, Current: "1.0.0"})
	if _, err := c.Check(context.Background()); err == nil {
		t.Error("Check should reject an invalid version")
	}
}

func TestChangelog(t *testing.T) {
	e, ok := Builtin.Latest()
	if !ok || e.Version != "1.0.1" {
		t.Fatalf("Builtin.Latest() = %+v, %v", e, ok)
	}
	if _, ok := Builtin.Find("v1.0.0"); !ok {
		t.Error("Find(v1.0.0) should match 1.0.0")
	}
	if _, ok := (Changelog{}).Latest(); ok {
		t.Error("empty changelog has no latest entry")
	}
}
