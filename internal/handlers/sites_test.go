package handlers

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/nomadbarefoot/surf/internal/session"
	"github.com/nomadbarefoot/surf/internal/sitememory"
	"github.com/nomadbarefoot/surf/internal/types"
)

func newSitesHandler(t *testing.T) (*Handler, *sitememory.Store) {
	t.Helper()
	cfg := testConfig()
	reg := session.NewRegistry(cfg, &fakeFactory{})
	t.Cleanup(func() { _ = reg.Shutdown() })

	store, err := sitememory.Open(filepath.Join(t.TempDir(), "site_memory.db"), time.Hour)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return New(Deps{Config: cfg, Registry: reg, Exec: &stubExecutor{}, Memory: store}), store
}

func TestTopSites(t *testing.T) {
	h, store := newSitesHandler(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.UpdateAccess(ctx, "https://busy.example.com", true, nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.UpdateAccess(ctx, "https://quiet.example.com", true, nil); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, h, http.MethodGet, "/api/v1/sites/top?limit=1&sort=access_count", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	data := decodeEnvelope(t, rec)["data"].(map[string]any)
	if data["count"] != float64(1) {
		t.Fatalf("count = %v, want 1", data["count"])
	}
	sites := data["sites"].([]any)
	first := sites[0].(map[string]any)
	if first["site_url"] != "https://busy.example.com" {
		t.Errorf("top site = %v, want busy.example.com", first["site_url"])
	}
	if first["domain"] != "example.com" {
		t.Errorf("domain = %v, want example.com", first["domain"])
	}
}

func TestTopSitesRejectsBadParams(t *testing.T) {
	h, _ := newSitesHandler(t)

	for _, path := range []string{
		"/api/v1/sites/top?limit=zero",
		"/api/v1/sites/top?limit=-1",
		"/api/v1/sites/top?sort=drop_table",
	} {
		rec := doJSON(t, h, http.MethodGet, path, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, rec.Code)
		}
		if code := errorCodeOf(t, rec); code != types.CodeValidation {
			t.Errorf("%s: code = %q", path, code)
		}
	}
}

func TestSearchSites(t *testing.T) {
	h, store := newSitesHandler(t)
	ctx := context.Background()

	err := store.UpdateExtractionPatterns(ctx, "https://news.example.com", map[string]any{"layout": "grid"})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateAccess(ctx, "https://other.example.org", true, nil); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, h, http.MethodGet, "/api/v1/sites/search?key=layout&value=grid", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	data := decodeEnvelope(t, rec)["data"].(map[string]any)
	if data["count"] != float64(1) {
		t.Fatalf("count = %v, want 1", data["count"])
	}
	domains := data["domains"].(map[string]any)
	if _, ok := domains["example.com"]; !ok {
		t.Errorf("domains = %v, want example.com group", domains)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/sites/search", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing key: status = %d, want 400", rec.Code)
	}
}

func TestSitesEndpointsWithoutStore(t *testing.T) {
	h, _ := newTestHandler(t, nil, &stubExecutor{})

	for _, path := range []string{"/api/v1/sites/top", "/api/v1/sites/search?key=x"} {
		rec := doJSON(t, h, http.MethodGet, path, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", path, rec.Code)
		}
		if code := errorCodeOf(t, rec); code != types.CodeConfiguration {
			t.Errorf("%s: code = %q", path, code)
		}
	}
}
