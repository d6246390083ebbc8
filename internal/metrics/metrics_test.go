package metrics_test

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Paintersrp/simlaunch/internal/launcher"
	"github.com/Paintersrp/simlaunch/internal/metrics"
)

func scrape(t *testing.T) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}).ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("unexpected status code from metrics handler: %d", rec.Code)
	}
	return rec.Body.String()
}

func TestRegistryExposesMetrics(t *testing.T) {
	label := "metrics_test_child"
	t.Cleanup(func() { metrics.ResetChild(label) })

	var obs metrics.Observer
	metrics.EmitBuildInfo()
	obs.ChildStarted(launcher.ChildInfo{Label: label, PID: 42})
	obs.ChildOutput(label, "one")
	obs.ChildOutput(label, "two")
	metrics.SetResidentMemory(label, 4096)
	metrics.ObserveReadyGate(label, 200*time.Millisecond, true)

	body := scrape(t)
	for _, line := range []string{
		fmt.Sprintf("simlaunch_child_launches_total{label=%q} 1", label),
		fmt.Sprintf("simlaunch_child_running{label=%q} 1", label),
		fmt.Sprintf("simlaunch_child_output_lines_total{label=%q} 2", label),
		fmt.Sprintf("simlaunch_child_resident_memory_bytes{label=%q} 4096", label),
		fmt.Sprintf("simlaunch_ready_gate_seconds_count{label=%q,outcome=\"ready\"} 1", label),
	} {
		if !strings.Contains(body, line) {
			t.Fatalf("expected metric line %q in body:\n%s", line, body)
		}
	}
	if !strings.Contains(body, "simlaunch_build_info{") || !strings.Contains(body, "go_version=") {
		t.Fatalf("expected build info metric in body:\n%s", body)
	}

	obs.ChildExited(label, -9)
	body = scrape(t)
	for _, line := range []string{
		fmt.Sprintf("simlaunch_child_running{label=%q} 0", label),
		fmt.Sprintf("simlaunch_child_exits_total{code=\"-9\",label=%q} 1", label),
	} {
		if !strings.Contains(body, line) {
			t.Fatalf("expected metric line %q in body:\n%s", line, body)
		}
	}
}

func TestResetChildRemovesSeries(t *testing.T) {
	label := "metrics_reset_child"
	var obs metrics.Observer
	obs.ChildStarted(launcher.ChildInfo{Label: label})
	obs.ChildExited(label, 0)
	metrics.ResetChild(label)

	if body := scrape(t); strings.Contains(body, label) {
		t.Fatalf("expected no series for %s after reset:\n%s", label, body)
	}
}
