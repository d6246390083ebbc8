package httpapi

import (
	stdcontext "context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/Paintersrp/simlaunch/internal/api"
)

func TestClientRoundTrip(t *testing.T) {
	terminated := false
	ctrl := &mockController{
		statusFn: func(stdcontext.Context) (*api.StatusReport, error) {
			return &api.StatusReport{Launch: "iiwa", Children: []api.ChildReport{{Label: "sim"}}}, nil
		},
		terminateFn: func(stdcontext.Context) (*api.TerminateResult, error) {
			if terminated {
				return nil, api.ErrGroupResolved
			}
			terminated = true
			return &api.TerminateResult{Launch: "iiwa"}, nil
		},
	}
	server := newTestServer(t, ctrl)
	ts := httptest.NewServer(server.srv.Handler)
	t.Cleanup(ts.Close)

	client := NewClient(ts.URL, ts.Client())
	ctx := stdcontext.Background()

	status, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if status.Launch != "iiwa" || len(status.Children) != 1 {
		t.Fatalf("unexpected status: %+v", status)
	}

	result, err := client.Terminate(ctx)
	if err != nil {
		t.Fatalf("Terminate returned error: %v", err)
	}
	if result.Launch != "iiwa" {
		t.Fatalf("unexpected terminate result: %+v", result)
	}

	_, err = client.Terminate(ctx)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != 409 || apiErr.Code != "group_resolved" {
		t.Fatalf("unexpected API error: %+v", apiErr)
	}
}

func TestClientUnreachable(t *testing.T) {
	client := NewClient("127.0.0.1:1", nil)
	if _, err := client.Status(stdcontext.Background()); err == nil {
		t.Fatalf("expected connection error")
	}
}
