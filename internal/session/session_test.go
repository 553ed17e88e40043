package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-rod/rod"

	"github.com/nomadbarefoot/surf/internal/browser"
	"github.com/nomadbarefoot/surf/internal/config"
	"github.com/nomadbarefoot/surf/internal/security"
	"github.com/nomadbarefoot/surf/internal/types"
)

// fakeContext stands in for a browser context so registry tests run without
// a browser process.
type fakeContext struct {
	mu     sync.Mutex
	closes int
	alive  bool
	err    error
}

func (f *fakeContext) Page() *rod.Page { return nil }

func (f *fakeContext) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeContext) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.alive = false
	return f.err
}

func (f *fakeContext) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

type fakeFactory struct {
	mu       sync.Mutex
	contexts []*fakeContext
	failWith error
}

func (f *fakeFactory) NewContext(ctx context.Context, opts browser.ContextOptions) (browser.PageContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	fc := &fakeContext{alive: true}
	f.contexts = append(f.contexts, fc)
	return fc, nil
}

func (f *fakeFactory) Healthy() bool { return true }

func testConfig() *config.Config {
	return &config.Config{
		MaxSessions:            20,
		SessionTTL:             time.Minute,
		SessionCleanupInterval: time.Minute,
		DefaultTimeout:         30 * time.Second,
	}
}

func newTestRegistry(t *testing.T, cfg *config.Config) (*Registry, *fakeFactory) {
	t.Helper()
	factory := &fakeFactory{}
	r := NewRegistry(cfg, factory)
	t.Cleanup(func() { _ = r.Shutdown() })
	return r, factory
}

func TestCreateAssignsIDAndDefaults(t *testing.T) {
	r, _ := newTestRegistry(t, testConfig())

	s, err := r.Create(context.Background(), nil, "user-1")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if !security.IsValidSessionID(s.ID) {
		t.Errorf("Session id %q does not match the expected shape", s.ID)
	}
	if s.Config.UserAgent == "" {
		t.Error("Expected a drawn user agent when none is pinned")
	}
	if s.Config.Viewport == nil {
		t.Error("Expected a drawn viewport when none is given")
	}
	if s.Config.TimeoutMs != 30000 {
		t.Errorf("Expected default timeout 30000ms, got %d", s.Config.TimeoutMs)
	}
	if s.Status() != StatusActive {
		t.Errorf("Expected active status, got %q", s.Status())
	}
	if r.Count() != 1 {
		t.Errorf("Expected count 1, got %d", r.Count())
	}
}

func TestCreatePinnedUserAgent(t *testing.T) {
	r, _ := newTestRegistry(t, testConfig())

	userCfg := &types.SessionConfig{UserAgent: "MyAgent/1.0"}
	s, err := r.Create(context.Background(), userCfg, "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if s.Config.UserAgent != "MyAgent/1.0" {
		t.Errorf("Pinned user agent overridden: %q", s.Config.UserAgent)
	}
	if s.Profile.Platform != "" {
		t.Errorf("Expected no drawn platform with a pinned UA, got %q", s.Profile.Platform)
	}
}

func TestCreateRespectsGlobalCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSessions = 2
	r, _ := newTestRegistry(t, cfg)

	for i := 0; i < 2; i++ {
		if _, err := r.Create(context.Background(), nil, ""); err != nil {
			t.Fatalf("Create %d failed: %v", i, err)
		}
	}

	_, err := r.Create(context.Background(), nil, "")
	if err == nil {
		t.Fatal("Expected error past the global cap")
	}
	var limitErr *types.ResourceLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("Expected ResourceLimitError, got %T: %v", err, err)
	}
	if limitErr.Limit != 2 || limitErr.Current != 2 {
		t.Errorf("Expected limit=2 current=2, got %+v", limitErr)
	}
}

func TestCreateContextFailure(t *testing.T) {
	cfg := testConfig()
	factory := &fakeFactory{failWith: types.NewBrowserOperationError("new_context", errors.New("boom"))}
	r := NewRegistry(cfg, factory)
	defer r.Shutdown()

	if _, err := r.Create(context.Background(), nil, ""); err == nil {
		t.Fatal("Expected context creation failure to surface")
	}
	if r.Count() != 0 {
		t.Errorf("Failed create must not register a session, count=%d", r.Count())
	}
}

func TestGetShapeValidation(t *testing.T) {
	r, _ := newTestRegistry(t, testConfig())

	for _, id := range []string{"", "nope", "sess_XYZ", "sess_0123456", "sess_0123456789"} {
		_, err := r.Get(id)
		var vErr *types.ValidationError
		if !errors.As(err, &vErr) {
			t.Errorf("Get(%q): expected ValidationError, got %v", id, err)
		}
	}

	_, err := r.Get("sess_0badc0de")
	var nfErr *types.SessionNotFoundError
	if !errors.As(err, &nfErr) {
		t.Errorf("Expected SessionNotFoundError for absent id, got %v", err)
	}
}

func TestGetBumpsLastActivity(t *testing.T) {
	r, _ := newTestRegistry(t, testConfig())
	s, err := r.Create(context.Background(), nil, "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	before := s.LastActivity()
	time.Sleep(5 * time.Millisecond)
	got, err := r.Get(s.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.LastActivity().After(before) {
		t.Error("Get should advance last-activity")
	}
}

func TestGetExpiredSessionIsClosed(t *testing.T) {
	cfg := testConfig()
	cfg.SessionTTL = 10 * time.Millisecond
	r, factory := newTestRegistry(t, cfg)

	s, err := r.Create(context.Background(), nil, "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	_, err = r.Get(s.ID)
	var invErr *types.InvalidSessionError
	if !errors.As(err, &invErr) {
		t.Fatalf("Expected InvalidSessionError, got %v", err)
	}
	if invErr.Reason != "Session expired" {
		t.Errorf("Expected reason %q, got %q", "Session expired", invErr.Reason)
	}
	if r.Count() != 0 {
		t.Errorf("Expired session should be removed, count=%d", r.Count())
	}
	if factory.contexts[0].closeCount() != 1 {
		t.Errorf("Expected context closed once, got %d", factory.contexts[0].closeCount())
	}
	if s.Status() != StatusExpired {
		t.Errorf("Expected expired status, got %q", s.Status())
	}
}

func TestGetQuotaBreachClosesSession(t *testing.T) {
	r, factory := newTestRegistry(t, testConfig())
	s, err := r.Create(context.Background(), nil, "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	s.mu.Lock()
	s.stats.Screenshots = s.Quotas.MaxScreenshots + 1
	s.mu.Unlock()

	_, err = r.Get(s.ID)
	var invErr *types.InvalidSessionError
	if !errors.As(err, &invErr) {
		t.Fatalf("Expected InvalidSessionError, got %v", err)
	}
	if !strings.HasPrefix(invErr.Reason, "Session limits exceeded:") {
		t.Errorf("Unexpected reason %q", invErr.Reason)
	}
	if r.Count() != 0 {
		t.Errorf("Over-quota session should be removed, count=%d", r.Count())
	}
	if factory.contexts[0].closeCount() != 1 {
		t.Errorf("Expected context closed once, got %d", factory.contexts[0].closeCount())
	}
}

func TestCloseReleasesExactlyOnce(t *testing.T) {
	r, factory := newTestRegistry(t, testConfig())
	s, err := r.Create(context.Background(), nil, "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := r.Close(s.ID); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	var nfErr *types.SessionNotFoundError
	if err := r.Close(s.ID); !errors.As(err, &nfErr) {
		t.Errorf("Second close: expected SessionNotFoundError, got %v", err)
	}
	if factory.contexts[0].closeCount() != 1 {
		t.Errorf("Expected exactly one context close, got %d", factory.contexts[0].closeCount())
	}
}

func TestCloseTeardownFailureStillRemoves(t *testing.T) {
	r, factory := newTestRegistry(t, testConfig())
	s, err := r.Create(context.Background(), nil, "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	factory.contexts[0].err = errors.New("teardown boom")

	if err := r.Close(s.ID); err != nil {
		t.Fatalf("Close should swallow teardown failure, got %v", err)
	}
	if r.Count() != 0 {
		t.Errorf("Record should be gone despite teardown failure, count=%d", r.Count())
	}
}

func TestUpdateStats(t *testing.T) {
	r, _ := newTestRegistry(t, testConfig())
	s, err := r.Create(context.Background(), nil, "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	events := []Event{
		{Kind: EventNavigate, Duration: 100 * time.Millisecond, Success: true},
		{Kind: EventScreenshot, Duration: 50 * time.Millisecond, Success: true},
		{Kind: EventInteract, Duration: 25 * time.Millisecond, Success: true},
		{Kind: EventExtract, Duration: 25 * time.Millisecond, Success: false, Error: "bad extract"},
	}
	for _, ev := range events {
		r.UpdateStats(s.ID, ev)
	}

	stats := s.SnapshotStats()
	if stats.Requests != 4 {
		t.Errorf("Requests = %d, want 4", stats.Requests)
	}
	if stats.PagesLoaded != 1 || stats.Screenshots != 1 || stats.Interactions != 1 {
		t.Errorf("Counter mapping wrong: %+v", stats)
	}
	if stats.Errors != 1 || stats.LastError != "bad extract" {
		t.Errorf("Error accounting wrong: %+v", stats)
	}
	if stats.TotalDurationMs != 200 {
		t.Errorf("TotalDurationMs = %v, want 200", stats.TotalDurationMs)
	}

	// Unknown id is a silent no-op
	r.UpdateStats("sess_deadbeef", Event{Kind: EventRequest})
}

func TestListFiltersByUser(t *testing.T) {
	r, _ := newTestRegistry(t, testConfig())
	for _, user := range []string{"alice", "alice", "bob"} {
		if _, err := r.Create(context.Background(), nil, user); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	if got := len(r.List("")); got != 3 {
		t.Errorf("List(\"\") = %d sessions, want 3", got)
	}
	if got := len(r.List("alice")); got != 2 {
		t.Errorf("List(alice) = %d sessions, want 2", got)
	}
	if got := len(r.List("carol")); got != 0 {
		t.Errorf("List(carol) = %d sessions, want 0", got)
	}
}

func TestStatsProjection(t *testing.T) {
	r, _ := newTestRegistry(t, testConfig())
	s, err := r.Create(context.Background(), nil, "alice")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	s.SetLocation("https://example.com", "Example")

	info, err := r.Stats(s.ID)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if info.ID != s.ID || info.UserID != "alice" || info.URL != "https://example.com" || info.Title != "Example" {
		t.Errorf("Unexpected projection: %+v", info)
	}

	if _, err := r.Stats("garbage"); err == nil {
		t.Error("Expected shape validation error")
	}
}

func TestReaperClosesExpiredSessions(t *testing.T) {
	cfg := testConfig()
	cfg.SessionTTL = 20 * time.Millisecond
	cfg.SessionCleanupInterval = 10 * time.Millisecond
	r, factory := newTestRegistry(t, cfg)

	if _, err := r.Create(context.Background(), nil, ""); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for r.Count() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if r.Count() != 0 {
		t.Fatal("Reaper did not remove the expired session")
	}
	if factory.contexts[0].closeCount() != 1 {
		t.Errorf("Expected context closed once by reaper, got %d", factory.contexts[0].closeCount())
	}
}

func TestShutdownClosesAll(t *testing.T) {
	factory := &fakeFactory{}
	r := NewRegistry(testConfig(), factory)

	for i := 0; i < 3; i++ {
		if _, err := r.Create(context.Background(), nil, ""); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	if err := r.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	for i, fc := range factory.contexts {
		if fc.closeCount() != 1 {
			t.Errorf("Context %d closed %d times, want 1", i, fc.closeCount())
		}
	}

	if _, err := r.Create(context.Background(), nil, ""); err == nil {
		t.Error("Create after shutdown should fail")
	}
	if err := r.Shutdown(); err != nil {
		t.Errorf("Second shutdown should be a no-op, got %v", err)
	}
}

func TestStatusTransitionsAreTerminal(t *testing.T) {
	s := &Session{status: StatusActive}

	s.setStatus(StatusIdle)
	if s.Status() != StatusIdle {
		t.Fatalf("Expected idle, got %q", s.Status())
	}
	s.setStatus(StatusExpired)
	s.setStatus(StatusActive)
	if s.Status() != StatusExpired {
		t.Errorf("Expired must be terminal, got %q", s.Status())
	}

	s2 := &Session{status: StatusActive}
	s2.MarkError("context gone")
	s2.setStatus(StatusActive)
	if s2.Status() != StatusError {
		t.Errorf("Error must be terminal, got %q", s2.Status())
	}
	if s2.SnapshotStats().LastError != "context gone" {
		t.Error("MarkError should record the message")
	}
}
