package executor

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/nomadbarefoot/surf/internal/browser"
	"github.com/nomadbarefoot/surf/internal/config"
	"github.com/nomadbarefoot/surf/internal/session"
	"github.com/nomadbarefoot/surf/internal/sitememory"
	"github.com/nomadbarefoot/surf/internal/types"
)

type fakeContext struct {
	mu     sync.Mutex
	closes int
}

func (f *fakeContext) Page() *rod.Page { return nil }
func (f *fakeContext) Alive() bool     { return true }

func (f *fakeContext) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

type fakeFactory struct{}

func (f *fakeFactory) NewContext(ctx context.Context, opts browser.ContextOptions) (browser.PageContext, error) {
	return &fakeContext{}, nil
}

func (f *fakeFactory) Healthy() bool { return true }

func testConfig() *config.Config {
	return &config.Config{
		MaxSessions:            10,
		SessionTTL:             time.Minute,
		SessionCleanupInterval: time.Minute,
		DefaultTimeout:         30 * time.Second,
		MaxPageLoadTimeout:     60 * time.Second,
		MaxURLLength:           2048,
		ScreenshotDir:          "screenshots",
	}
}

func newTestExecutor(t *testing.T) (*Executor, *session.Registry) {
	t.Helper()
	cfg := testConfig()
	reg := session.NewRegistry(cfg, &fakeFactory{})
	t.Cleanup(func() {
		if err := reg.Shutdown(); err != nil {
			t.Errorf("registry shutdown: %v", err)
		}
	})
	return New(cfg, Deps{Registry: reg}), reg
}

func mustCreateSession(t *testing.T, reg *session.Registry) *session.Session {
	t.Helper()
	s, err := reg.Create(context.Background(), nil, "user-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return s
}

func TestTimeoutClamping(t *testing.T) {
	e, _ := newTestExecutor(t)

	tests := []struct {
		name string
		ms   int
		want time.Duration
	}{
		{"zero uses default", 0, 30 * time.Second},
		{"negative uses default", -5, 30 * time.Second},
		{"explicit value", 5000, 5 * time.Second},
		{"clamped to ceiling", 120000, 60 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.timeout(tt.ms); got != tt.want {
				t.Errorf("timeout(%d) = %v, want %v", tt.ms, got, tt.want)
			}
		})
	}
}

func TestLifecycleEventMapping(t *testing.T) {
	tests := []struct {
		waitUntil string
		want      proto.PageLifecycleEventName
	}{
		{"", proto.PageLifecycleEventNameLoad},
		{types.WaitLoad, proto.PageLifecycleEventNameLoad},
		{types.WaitDOMContentLoaded, proto.PageLifecycleEventNameDOMContentLoaded},
		{types.WaitNetworkIdle, proto.PageLifecycleEventNameNetworkIdle},
		{types.WaitCommit, ""},
	}
	for _, tt := range tests {
		if got := lifecycleEventFor(tt.waitUntil); got != tt.want {
			t.Errorf("lifecycleEventFor(%q) = %q, want %q", tt.waitUntil, got, tt.want)
		}
	}
}

func TestDefaultShotPath(t *testing.T) {
	now := time.Unix(1700000000, 0)
	got := defaultShotPath("shots", "sess_deadbeef", now)
	want := "shots/sess_deadbeef_1700000000.png"
	if got != want {
		t.Errorf("defaultShotPath = %q, want %q", got, want)
	}
}

func TestIsJPEGPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"shot.png", false},
		{"shot.jpg", true},
		{"shot.JPEG", true},
		{"dir/shot.jpeg", true},
		{"shot", false},
	}
	for _, tt := range tests {
		if got := isJPEGPath(tt.path); got != tt.want {
			t.Errorf("isJPEGPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestResolveURL(t *testing.T) {
	base := mustParseURL(t, "https://example.com/articles/one")

	tests := []struct {
		href string
		want string
	}{
		{"/about", "https://example.com/about"},
		{"two", "https://example.com/articles/two"},
		{"https://other.com/x", "https://other.com/x"},
		{"#anchor", "https://example.com/articles/one#anchor"},
	}
	for _, tt := range tests {
		if got := resolveURL(base, tt.href); got != tt.want {
			t.Errorf("resolveURL(%q) = %q, want %q", tt.href, got, tt.want)
		}
	}

	if got := resolveURL(nil, "/about"); got != "/about" {
		t.Errorf("resolveURL(nil) = %q, want unchanged href", got)
	}
}

func TestNavigateRejectsBadRequests(t *testing.T) {
	e, reg := newTestExecutor(t)
	s := mustCreateSession(t, reg)

	tests := []struct {
		name string
		req  *types.NavigateRequest
	}{
		{"bad wait condition", &types.NavigateRequest{
			SessionID: s.ID, URL: "https://example.com", WaitUntil: "sometime",
		}},
		{"bad scheme", &types.NavigateRequest{
			SessionID: s.ID, URL: "file:///etc/passwd",
		}},
		{"empty url", &types.NavigateRequest{SessionID: s.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Navigate(context.Background(), tt.req)
			var verr *types.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Navigate() error = %v, want ValidationError", err)
			}
		})
	}
}

func TestOperationsRejectUnknownSession(t *testing.T) {
	e, _ := newTestExecutor(t)
	ctx := context.Background()

	ops := map[string]func() error{
		"navigate": func() error {
			_, err := e.Navigate(ctx, &types.NavigateRequest{
				SessionID: "sess_0badc0de", URL: "https://example.com",
			})
			return err
		},
		"extract": func() error {
			_, err := e.Extract(ctx, &types.ExtractRequest{
				SessionID: "sess_0badc0de", Type: types.ExtractText,
			})
			return err
		},
		"interact": func() error {
			_, err := e.Interact(ctx, &types.InteractRequest{
				SessionID: "sess_0badc0de", Action: types.ActionScroll,
			})
			return err
		},
		"screenshot": func() error {
			_, err := e.Screenshot(ctx, &types.ScreenshotRequest{SessionID: "sess_0badc0de"})
			return err
		},
		"detect_captcha": func() error {
			_, err := e.DetectCaptcha(ctx, "sess_0badc0de", 0)
			return err
		},
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			err := op()
			var nf *types.SessionNotFoundError
			if !errors.As(err, &nf) {
				t.Fatalf("error = %v, want SessionNotFoundError", err)
			}
		})
	}
}

func TestBatchValidatesEnvelope(t *testing.T) {
	e, reg := newTestExecutor(t)
	s := mustCreateSession(t, reg)

	_, err := e.Batch(context.Background(), &types.BatchRequest{SessionID: s.ID})
	var verr *types.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Batch() with no operations error = %v, want ValidationError", err)
	}

	_, err = e.Batch(context.Background(), &types.BatchRequest{
		SessionID:  s.ID,
		Operations: []types.BatchOperation{{Type: "teleport"}},
	})
	if !errors.As(err, &verr) {
		t.Fatalf("Batch() with unknown op error = %v, want ValidationError", err)
	}
}

func TestBatchRejectsUnknownSession(t *testing.T) {
	e, _ := newTestExecutor(t)

	_, err := e.Batch(context.Background(), &types.BatchRequest{
		SessionID:  "sess_0badc0de",
		Operations: []types.BatchOperation{{Type: types.OpNavigate}},
	})
	var nf *types.SessionNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Batch() error = %v, want SessionNotFoundError", err)
	}
}

func TestBatchSequentialPreservesOrder(t *testing.T) {
	e, reg := newTestExecutor(t)
	s := mustCreateSession(t, reg)

	var calls []string
	e.run = func(ctx context.Context, sessionID string, op types.BatchOperation) (any, error) {
		calls = append(calls, op.Type)
		if op.Type == types.OpInteract {
			return nil, types.NewBrowserOperationError("interact", errors.New("element gone"))
		}
		return map[string]string{"op": op.Type}, nil
	}

	res, err := e.Batch(context.Background(), &types.BatchRequest{
		SessionID: s.ID,
		Operations: []types.BatchOperation{
			{Type: types.OpNavigate},
			{Type: types.OpInteract},
			{Type: types.OpExtract},
		},
	})
	if err != nil {
		t.Fatalf("Batch() error = %v", err)
	}

	wantOrder := []string{types.OpNavigate, types.OpInteract, types.OpExtract}
	for i, op := range wantOrder {
		if res.Results[i].Operation != op {
			t.Errorf("results[%d].Operation = %q, want %q", i, res.Results[i].Operation, op)
		}
		if calls[i] != op {
			t.Errorf("call order[%d] = %q, want %q", i, calls[i], op)
		}
	}
	if res.Total != 3 || res.Succeeded != 2 || res.Failed != 1 {
		t.Errorf("aggregates = %d/%d/%d, want 3/2/1", res.Total, res.Succeeded, res.Failed)
	}
	if res.Results[1].Success {
		t.Error("failed operation reported as success")
	}
	if res.Results[1].ErrorCode != types.CodeBrowserOperation {
		t.Errorf("ErrorCode = %q, want %q", res.Results[1].ErrorCode, types.CodeBrowserOperation)
	}
	if !strings.Contains(res.Results[1].Error, "element gone") {
		t.Errorf("Error = %q, want the underlying cause", res.Results[1].Error)
	}
	if !res.Results[2].Success {
		t.Error("operation after a failure should still run and succeed")
	}
}

func TestBatchParallelBoundsConcurrency(t *testing.T) {
	e, reg := newTestExecutor(t)
	s := mustCreateSession(t, reg)

	var active, peak atomic.Int64
	e.run = func(ctx context.Context, sessionID string, op types.BatchOperation) (any, error) {
		cur := active.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		return "ok", nil
	}

	ops := make([]types.BatchOperation, 8)
	for i := range ops {
		ops[i] = types.BatchOperation{Type: types.OpExtract}
	}
	res, err := e.Batch(context.Background(), &types.BatchRequest{
		SessionID:     s.ID,
		Operations:    ops,
		Parallel:      true,
		MaxConcurrent: 2,
	})
	if err != nil {
		t.Fatalf("Batch() error = %v", err)
	}
	if res.Succeeded != 8 {
		t.Errorf("Succeeded = %d, want 8", res.Succeeded)
	}
	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
	if !res.Parallel {
		t.Error("result should be marked parallel")
	}
}

func TestBatchDispatchDecodesParams(t *testing.T) {
	e, reg := newTestExecutor(t)
	s := mustCreateSession(t, reg)

	var gotSession string
	var gotURL string
	e.run = func(ctx context.Context, sessionID string, op types.BatchOperation) (any, error) {
		// Exercise the real decoder the dispatcher uses.
		var req types.NavigateRequest
		if err := decodeParams(op.Params, &req); err != nil {
			return nil, err
		}
		gotSession = sessionID
		gotURL = req.URL
		return "ok", nil
	}

	params, _ := json.Marshal(map[string]string{"url": "https://example.com"})
	_, err := e.Batch(context.Background(), &types.BatchRequest{
		SessionID:  s.ID,
		Operations: []types.BatchOperation{{Type: types.OpNavigate, Params: params}},
	})
	if err != nil {
		t.Fatalf("Batch() error = %v", err)
	}
	if gotSession != s.ID {
		t.Errorf("sessionID = %q, want %q", gotSession, s.ID)
	}
	if gotURL != "https://example.com" {
		t.Errorf("decoded url = %q, want the params value", gotURL)
	}
}

func TestDecodeParamsRejectsGarbage(t *testing.T) {
	var req types.NavigateRequest
	err := decodeParams(json.RawMessage(`{"url": 42}`), &req)
	var verr *types.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("decodeParams error = %v, want ValidationError", err)
	}

	if err := decodeParams(nil, &req); err != nil {
		t.Errorf("decodeParams(nil) = %v, want nil", err)
	}
}

func TestFinishFeedsSessionStats(t *testing.T) {
	e, reg := newTestExecutor(t)
	s := mustCreateSession(t, reg)

	start := time.Now().Add(-50 * time.Millisecond)
	e.finish(s, session.EventNavigate, start, nil)
	e.finish(s, session.EventExtract, start, errors.New("bad parse"))

	info, err := reg.Stats(s.ID)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	stats := info.Stats
	if stats.Requests != 2 {
		t.Errorf("Requests = %d, want 2", stats.Requests)
	}
	if stats.PagesLoaded != 1 {
		t.Errorf("PagesLoaded = %d, want 1", stats.PagesLoaded)
	}
	if stats.Errors != 1 {
		t.Errorf("Errors = %d, want 1", stats.Errors)
	}
	if stats.LastError != "bad parse" {
		t.Errorf("LastError = %q, want the failure message", stats.LastError)
	}

	if e.prevSuccess.Load() {
		t.Error("prevSuccess should reflect the latest failed operation")
	}
}

func TestCloseCancelsLockWaiter(t *testing.T) {
	e, reg := newTestExecutor(t)
	s := mustCreateSession(t, reg)

	// Hold the operation lock as an in-flight operation would.
	s.Lock()

	got := make(chan error, 1)
	go func() {
		_, release, err := e.begin(s.ID)
		if err == nil {
			release()
		}
		got <- err
	}()

	// Let the waiter pass the registry lookup and park on the lock, then
	// close the session out from under it.
	time.Sleep(50 * time.Millisecond)
	if err := reg.Close(s.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	s.Unlock()

	err := <-got
	var nf *types.SessionNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("waiter error = %v, want SessionNotFoundError", err)
	}
}

func TestRememberExtractionPersistsLearnedState(t *testing.T) {
	cfg := testConfig()
	reg := session.NewRegistry(cfg, &fakeFactory{})
	t.Cleanup(func() { _ = reg.Shutdown() })

	store, err := sitememory.Open(filepath.Join(t.TempDir(), "site_memory.db"), time.Hour)
	if err != nil {
		t.Fatalf("open site memory: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	e := New(cfg, Deps{Registry: reg, Memory: store})
	s := mustCreateSession(t, reg)
	s.SetLocation("https://news.example.com/story?id=7", "Story")

	req := &types.ExtractRequest{SessionID: s.ID, Type: types.ExtractText, Selector: "article.main"}
	res := &types.ExtractResult{ContentKind: "article", Confidence: 0.9}
	e.rememberExtraction(s, req, res)

	rec, err := store.Get(context.Background(), "https://news.example.com")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec == nil {
		t.Fatal("no record written for the page's origin")
	}
	if rec.OptimalSelectors[types.ExtractText] != "article.main" {
		t.Errorf("optimal selectors = %v", rec.OptimalSelectors)
	}
	pat, ok := rec.ExtractionPatterns[types.ExtractText].(map[string]any)
	if !ok || pat["selector"] != "article.main" {
		t.Errorf("extraction patterns = %v", rec.ExtractionPatterns)
	}
	if rec.SiteCharacteristics["content_type"] != "article" {
		t.Errorf("site characteristics = %v", rec.SiteCharacteristics)
	}
}

func TestRememberTimingPersistsNavigationTiming(t *testing.T) {
	cfg := testConfig()
	reg := session.NewRegistry(cfg, &fakeFactory{})
	t.Cleanup(func() { _ = reg.Shutdown() })

	store, err := sitememory.Open(filepath.Join(t.TempDir(), "site_memory.db"), time.Hour)
	if err != nil {
		t.Fatalf("open site memory: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	e := New(cfg, Deps{Registry: reg, Memory: store})
	e.rememberTiming("https://example.com", map[string]any{
		"last_load_seconds": 1.25,
		"wait_until":        "load",
	})

	rec, err := store.Get(context.Background(), "https://example.com")
	if err != nil || rec == nil {
		t.Fatalf("Get: %v, %v", rec, err)
	}
	if rec.TimingPatterns["wait_until"] != "load" {
		t.Errorf("timing patterns = %v", rec.TimingPatterns)
	}
	if rec.TimingPatterns["last_load_seconds"] != 1.25 {
		t.Errorf("timing patterns = %v", rec.TimingPatterns)
	}
}
