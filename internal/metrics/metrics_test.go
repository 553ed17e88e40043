package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	return w.Body.String()
}

func TestHandler(t *testing.T) {
	handler := Handler()
	if handler == nil {
		t.Fatal("Handler() returned nil")
	}

	// Record some metrics so they appear in output
	RecordOperation("navigate", "ok", 1*time.Second)
	UpdateBrowserMetrics(2, 10, 1)
	UpdateSessionMetrics(1)

	body := scrape(t)

	// Gauges always appear, counters appear after recording
	expectedMetrics := []string{
		"surf_browser_contexts_open",
		"surf_active_sessions",
		"surf_pacer_delay_seconds",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(body, metric) {
			t.Errorf("Expected metric %q not found in output", metric)
		}
	}
}

func TestSetBuildInfo(t *testing.T) {
	SetBuildInfo("1.0.0", "go1.24")

	body := scrape(t)
	if !strings.Contains(body, "surf_build_info") {
		t.Error("Expected surf_build_info metric")
	}
	if !strings.Contains(body, "version=\"1.0.0\"") {
		t.Error("Expected version label in build_info")
	}
	if !strings.Contains(body, "go_version=\"go1.24\"") {
		t.Error("Expected go_version label in build_info")
	}
}

func TestRecordOperation(t *testing.T) {
	RecordOperation("extract", "ok", 1*time.Second)
	RecordOperation("extract", "error", 500*time.Millisecond)
	RecordOperation("screenshot", "ok", 2*time.Second)

	body := scrape(t)
	if !strings.Contains(body, "surf_operations_total") {
		t.Error("Expected surf_operations_total metric")
	}
	if !strings.Contains(body, "surf_operation_duration_seconds") {
		t.Error("Expected surf_operation_duration_seconds metric")
	}
}

func TestRecordCaptchaDetected(t *testing.T) {
	RecordCaptchaDetected("text")
	RecordCaptchaDetected("selector")
	RecordCaptchaDetected("text")

	body := scrape(t)
	if !strings.Contains(body, "surf_captchas_detected_total") {
		t.Error("Expected surf_captchas_detected_total metric")
	}
}

func TestRecordBlockDetected(t *testing.T) {
	RecordBlockDetected("rate_limit")
	RecordBlockDetected("access_denied")

	body := scrape(t)
	if !strings.Contains(body, "surf_blocks_detected_total") {
		t.Error("Expected surf_blocks_detected_total metric")
	}
}

func TestUpdateBrowserMetrics(t *testing.T) {
	UpdateBrowserMetrics(3, 100, 5)

	body := scrape(t)
	if !strings.Contains(body, "surf_browser_contexts_open 3") {
		t.Error("Expected browser_contexts_open to be 3")
	}
	if !strings.Contains(body, "surf_browser_contexts_created_total") {
		t.Error("Expected surf_browser_contexts_created_total metric")
	}
	if !strings.Contains(body, "surf_browser_launches_total") {
		t.Error("Expected surf_browser_launches_total metric")
	}

	// Feeding the same monotonic totals again must not double-count.
	UpdateBrowserMetrics(3, 100, 5)
	again := scrape(t)
	if !strings.Contains(again, "surf_browser_contexts_open 3") {
		t.Error("Expected browser_contexts_open to stay 3")
	}
}

func TestUpdateSessionMetrics(t *testing.T) {
	UpdateSessionMetrics(5)

	body := scrape(t)
	if !strings.Contains(body, "surf_active_sessions 5") {
		t.Error("Expected active_sessions to be 5")
	}
}

func TestSessionLifecycleCounters(t *testing.T) {
	RecordSessionCreated()
	RecordSessionCreated()
	RecordSessionExpired()

	body := scrape(t)
	if !strings.Contains(body, "surf_sessions_created_total") {
		t.Error("Expected surf_sessions_created_total metric")
	}
	if !strings.Contains(body, "surf_sessions_expired_total") {
		t.Error("Expected surf_sessions_expired_total metric")
	}
}

func TestUpdateSiteMemoryRows(t *testing.T) {
	UpdateSiteMemoryRows(42)

	body := scrape(t)
	if !strings.Contains(body, "surf_site_memory_rows 42") {
		t.Error("Expected site_memory_rows to be 42")
	}
}

func TestUpdatePacerMetrics(t *testing.T) {
	UpdatePacerMetrics(1500 * time.Millisecond)

	body := scrape(t)
	if !strings.Contains(body, "surf_pacer_delay_seconds 1.5") {
		t.Error("Expected pacer_delay_seconds to be 1.5")
	}
}

func TestStartMemoryCollector(t *testing.T) {
	stopCh := make(chan struct{})

	go StartMemoryCollector(50*time.Millisecond, stopCh)
	time.Sleep(150 * time.Millisecond)
	close(stopCh)

	body := scrape(t)
	if !strings.Contains(body, "surf_memory_usage_bytes") {
		t.Error("Expected surf_memory_usage_bytes metric")
	}
	if !strings.Contains(body, "surf_memory_sys_bytes") {
		t.Error("Expected surf_memory_sys_bytes metric")
	}
	if !strings.Contains(body, "surf_goroutines") {
		t.Error("Expected surf_goroutines metric")
	}
}
