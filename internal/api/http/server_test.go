package httpapi

import (
	stdcontext "context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Paintersrp/simlaunch/internal/api"
	"github.com/Paintersrp/simlaunch/internal/metrics"
)

type testController struct{}

func (t *testController) Status(stdcontext.Context) (*api.StatusReport, error) {
	return nil, nil
}

func (t *testController) Child(stdcontext.Context, string) (*api.ChildReport, error) {
	return nil, nil
}

func (t *testController) Terminate(stdcontext.Context) (*api.TerminateResult, error) {
	return nil, nil
}

func TestNewServerRejectsTypedNilController(t *testing.T) {
	var ctrl api.Controller = (*testController)(nil)
	_, err := NewServer(Config{Controller: ctrl})
	if err == nil {
		t.Fatalf("expected error when controller is typed nil")
	}
	if !strings.Contains(err.Error(), "testController") {
		t.Fatalf("expected error to describe typed nil controller, got %v", err)
	}
	if _, err := NewServer(Config{}); err == nil {
		t.Fatalf("expected error without controller")
	}
}

func TestNormalizeAddr(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"":           defaultAddr,
		":80":        "127.0.0.1:80",
		"0.0.0.0:80": "0.0.0.0:80",
		"[::]:80":    "[::]:80",
		"host:9000":  "host:9000",
		"[::1]:443":  "[::1]:443",
	}

	for input, expected := range tests {
		input, expected := input, expected
		t.Run(fmt.Sprintf("%s->%s", input, expected), func(t *testing.T) {
			t.Parallel()
			if got := normalizeAddr(input); got != expected {
				t.Fatalf("normalizeAddr(%q)=%q, want %q", input, got, expected)
			}
		})
	}
}

func TestHandleStatus(t *testing.T) {
	code := 0
	ctrl := &mockController{
		statusFn: func(stdcontext.Context) (*api.StatusReport, error) {
			return &api.StatusReport{
				Launch:      "iiwa",
				GeneratedAt: time.Unix(123, 0),
				Resolved:    true,
				ReturnCode:  &code,
				Children:    []api.ChildReport{{Label: "sim", PID: 12, Running: true}},
			}, nil
		},
	}
	server := newTestServer(t, ctrl)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()

	server.handleStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", rec.Code)
	}

	var body api.StatusReport
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed decoding response: %v", err)
	}
	if body.Launch != "iiwa" || len(body.Children) != 1 || body.Children[0].Label != "sim" {
		t.Fatalf("unexpected status body: %+v", body)
	}
	if body.ReturnCode == nil || *body.ReturnCode != 0 {
		t.Fatalf("expected return code 0, got %v", body.ReturnCode)
	}
}

func TestHandleStatusError(t *testing.T) {
	ctrl := &mockController{
		statusFn: func(stdcontext.Context) (*api.StatusReport, error) {
			return nil, errors.New("boom")
		},
	}
	server := newTestServer(t, ctrl)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()

	server.handleStatus(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if body.Code != "internal_error" {
		t.Fatalf("expected internal_error code, got %q", body.Code)
	}
}

func TestHandleStatusMethodNotAllowed(t *testing.T) {
	server := newTestServer(t, &mockController{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	server.handleStatus(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != http.MethodGet {
		t.Fatalf("expected Allow header %q, got %q", http.MethodGet, allow)
	}
}

func TestHandleChild(t *testing.T) {
	ctrl := &mockController{
		childFn: func(_ stdcontext.Context, label string) (*api.ChildReport, error) {
			if label != "sim" {
				return nil, fmt.Errorf("%w: %s", api.ErrUnknownChild, label)
			}
			return &api.ChildReport{Label: label, PID: 99, Ready: "yes"}, nil
		},
	}
	server := newTestServer(t, ctrl)

	rec := httptest.NewRecorder()
	server.handleChild(rec, httptest.NewRequest(http.MethodGet, "/api/v1/children/sim", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body api.ChildReport
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if body.PID != 99 || body.Ready != "yes" {
		t.Fatalf("unexpected child body: %+v", body)
	}

	rec = httptest.NewRecorder()
	server.handleChild(rec, httptest.NewRequest(http.MethodGet, "/api/v1/children/viz", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown child, got %d", rec.Code)
	}
}

func TestHandleChildInvalidPath(t *testing.T) {
	server := newTestServer(t, &mockController{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/children/", nil)
	rec := httptest.NewRecorder()
	server.handleChild(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if body.Code != "unknown_child" {
		t.Fatalf("expected unknown_child code, got %q", body.Code)
	}
	details, ok := body.Details.(map[string]any)
	if !ok {
		t.Fatalf("expected map details, got %T", body.Details)
	}
	if _, ok := details["label"]; !ok {
		t.Fatalf("expected label key in details")
	}
	if _, ok := details["timestamp"]; !ok {
		t.Fatalf("expected timestamp key in details")
	}
}

func TestHandleTerminate(t *testing.T) {
	terminated := false
	ctrl := &mockController{
		terminateFn: func(stdcontext.Context) (*api.TerminateResult, error) {
			terminated = true
			return &api.TerminateResult{Launch: "iiwa"}, nil
		},
		statusFn: func(stdcontext.Context) (*api.StatusReport, error) {
			return &api.StatusReport{Launch: "iiwa", Resolved: true}, nil
		},
	}
	server := newTestServer(t, ctrl)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/terminate", nil)
	rec := httptest.NewRecorder()
	server.handleTerminate(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if !terminated {
		t.Fatalf("expected controller terminate to run")
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if _, ok := body["terminate"].(map[string]any); !ok {
		t.Fatalf("expected terminate result in body")
	}
	if status, ok := body["status"].(map[string]any); !ok || status["resolved"] != true {
		t.Fatalf("expected resolved status, got %v", body["status"])
	}
}

func TestHandleTerminateResolvedGroup(t *testing.T) {
	ctrl := &mockController{
		terminateFn: func(stdcontext.Context) (*api.TerminateResult, error) {
			return nil, api.ErrGroupResolved
		},
	}
	server := newTestServer(t, ctrl)

	rec := httptest.NewRecorder()
	server.handleTerminate(rec, httptest.NewRequest(http.MethodPost, "/api/v1/terminate", nil))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if body.Code != "group_resolved" {
		t.Fatalf("expected code group_resolved, got %q", body.Code)
	}

	rec = httptest.NewRecorder()
	server.handleTerminate(rec, httptest.NewRequest(http.MethodGet, "/api/v1/terminate", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server := newTestServer(t, &mockController{})

	label := "http_metrics_child"
	t.Cleanup(func() { metrics.ResetChild(label) })
	metrics.EmitBuildInfo()
	metrics.SetResidentMemory(label, 2048)
	metrics.ObserveReadyGate(label, 200*time.Millisecond, false)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	server.srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from metrics endpoint, got %d", rec.Code)
	}
	body := rec.Body.String()
	expected := fmt.Sprintf("simlaunch_child_resident_memory_bytes{label=\"%s\"} 2048", label)
	if !strings.Contains(body, expected) {
		t.Fatalf("expected body to contain %q, got:\n%s", expected, body)
	}
	if !strings.Contains(body, fmt.Sprintf("simlaunch_ready_gate_seconds_count{label=\"%s\",outcome=\"timeout\"} 1", label)) {
		t.Fatalf("expected ready gate histogram for %q, got:\n%s", label, body)
	}
	if !strings.Contains(body, "simlaunch_build_info{") {
		t.Fatalf("expected metrics output to include build info, got:\n%s", body)
	}
}

func TestRunServesUntilCancelled(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctrl := &mockController{
		statusFn: func(stdcontext.Context) (*api.StatusReport, error) {
			return &api.StatusReport{Launch: "live"}, nil
		},
	}
	server, err := NewServer(Config{Controller: ctrl, Listener: ln})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ctx, cancel := stdcontext.WithCancel(stdcontext.Background())
	done := make(chan error, 1)
	go func() { done <- server.Run(ctx) }()

	resp, err := http.Get("http://" + server.Addr() + "/api/v1/status")
	if err != nil {
		cancel()
		t.Fatalf("GET status: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(data), `"launch":"live"`) {
		t.Fatalf("unexpected body: %s", data)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not shut down")
	}
}

type mockController struct {
	statusFn    func(stdcontext.Context) (*api.StatusReport, error)
	childFn     func(stdcontext.Context, string) (*api.ChildReport, error)
	terminateFn func(stdcontext.Context) (*api.TerminateResult, error)
}

func (m *mockController) Status(ctx stdcontext.Context) (*api.StatusReport, error) {
	if m.statusFn != nil {
		return m.statusFn(ctx)
	}
	return nil, nil
}

func (m *mockController) Child(ctx stdcontext.Context, label string) (*api.ChildReport, error) {
	if m.childFn != nil {
		return m.childFn(ctx, label)
	}
	return nil, nil
}

func (m *mockController) Terminate(ctx stdcontext.Context) (*api.TerminateResult, error) {
	if m.terminateFn != nil {
		return m.terminateFn(ctx)
	}
	return nil, nil
}

func newTestServer(t *testing.T, ctrl api.Controller) *Server {
	t.Helper()
	server, err := NewServer(Config{Controller: ctrl})
	if err != nil {
		t.Fatalf("failed creating server: %v", err)
	}
	return server
}
