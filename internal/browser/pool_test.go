package browser

import (
	"context"
	"errors"
	"testing"

	"github.com/nomadbarefoot/surf/internal/config"
	"github.com/nomadbarefoot/surf/internal/types"
)

func testConfig() *config.Config {
	return &config.Config{
		Headless: true,
	}
}

// skipCI skips tests that need a real browser binary.
func skipCI(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping browser test in short mode")
	}
}

func TestPoolBeforeFirstLaunch(t *testing.T) {
	pool := NewPool(testConfig())
	defer pool.Close(context.Background())

	if pool.Healthy() {
		t.Error("Pool should not be healthy before any context is created")
	}

	stats := pool.SnapshotStats()
	if stats.Running {
		t.Error("Stats should report not running before launch")
	}
	if stats.OpenContexts != 0 || stats.ContextsTotal != 0 || stats.Launches != 0 {
		t.Errorf("Expected zero counters, got %+v", stats)
	}
}

func TestPoolCloseIdempotent(t *testing.T) {
	pool := NewPool(testConfig())

	if err := pool.Close(context.Background()); err != nil {
		t.Fatalf("First close failed: %v", err)
	}
	if err := pool.Close(context.Background()); err != nil {
		t.Fatalf("Second close failed: %v", err)
	}
	if pool.Healthy() {
		t.Error("Closed pool should not report healthy")
	}
}

func TestNewContextAfterClose(t *testing.T) {
	pool := NewPool(testConfig())
	if err := pool.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	_, err := pool.NewContext(context.Background(), ContextOptions{JavaScript: true})
	if err == nil {
		t.Fatal("Expected error from NewContext on closed pool")
	}
	if !errors.Is(err, errPoolClosed) {
		t.Errorf("Expected pool-closed error, got %v", err)
	}
	var opErr *types.BrowserOperationError
	if !errors.As(err, &opErr) {
		t.Errorf("Expected BrowserOperationError, got %T", err)
	}
}

func TestNewContextLifecycle(t *testing.T) {
	skipCI(t)

	pool := NewPool(testConfig())
	defer pool.Close(context.Background())

	ctx := context.Background()
	profile := ProfileForKind(types.BrowserChromium)
	pc, err := pool.NewContext(ctx, ContextOptions{
		Viewport:   &types.Viewport{Width: 1280, Height: 720},
		UserAgent:  profile.UserAgent,
		Platform:   profile.Platform,
		Stealth:    true,
		JavaScript: true,
	})
	if err != nil {
		t.Fatalf("NewContext failed: %v", err)
	}

	if !pool.Healthy() {
		t.Error("Pool should be healthy after launching")
	}
	if !pc.Alive() {
		t.Error("Fresh context should be alive")
	}

	stats := pool.SnapshotStats()
	if stats.OpenContexts != 1 {
		t.Errorf("Expected 1 open context, got %d", stats.OpenContexts)
	}
	if stats.Launches != 1 {
		t.Errorf("Expected 1 launch, got %d", stats.Launches)
	}

	if err := pc.Close(ctx); err != nil {
		t.Errorf("Context close failed: %v", err)
	}
	// Second close must not re-run teardown
	if err := pc.Close(ctx); err != nil {
		t.Errorf("Second context close returned error: %v", err)
	}
	if pc.Alive() {
		t.Error("Closed context should not be alive")
	}

	if got := pool.SnapshotStats().OpenContexts; got != 0 {
		t.Errorf("Expected 0 open contexts after close, got %d", got)
	}
}

func TestContextIsolation(t *testing.T) {
	skipCI(t)

	pool := NewPool(testConfig())
	defer pool.Close(context.Background())

	ctx := context.Background()
	a, err := pool.NewContext(ctx, ContextOptions{JavaScript: true})
	if err != nil {
		t.Fatalf("First context failed: %v", err)
	}
	defer a.Close(ctx)

	b, err := pool.NewContext(ctx, ContextOptions{JavaScript: true})
	if err != nil {
		t.Fatalf("Second context failed: %v", err)
	}
	defer b.Close(ctx)

	// Closing one context must not affect its sibling
	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !b.Alive() {
		t.Error("Sibling context died when another context closed")
	}
}

func TestSessionContextLifetimeOutlivesCreateRequest(t *testing.T) {
	// The interception listeners run on the session lifetime. The context of
	// the create request dies as soon as the handler returns; if the
	// listeners derived from it, every matched request on a block_resources
	// session would pause forever with nothing left to fail it.
	sc := newSessionContext(&Pool{}, nil)
	select {
	case <-sc.lifetime.Done():
		t.Fatal("session lifetime must not end with the create request")
	default:
	}

	if err := sc.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if sc.lifetime.Err() == nil {
		t.Error("Close should end the session lifetime")
	}
}
