package httpapi

import (
	stdcontext "context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Paintersrp/simlaunch/internal/api"
)

// Client talks to the control server of a running launch group.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client for addr. A nil httpClient uses a client with a
// short timeout.
func NewClient(addr string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	base := normalizeAddr(addr)
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{base: strings.TrimRight(base, "/"), http: httpClient}
}

// Status fetches the group status.
func (c *Client) Status(ctx stdcontext.Context) (*api.StatusReport, error) {
	var report api.StatusReport
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Terminate asks the group to end with return code 0.
func (c *Client) Terminate(ctx stdcontext.Context) (*api.TerminateResult, error) {
	var body struct {
		Terminate *api.TerminateResult `json:"terminate"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/terminate", &body); err != nil {
		return nil, err
	}
	if body.Terminate == nil {
		return nil, fmt.Errorf("terminate: empty response")
	}
	return body.Terminate, nil
}

// APIError is a non-2xx response from the control server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%s, HTTP %d)", e.Message, e.Code, e.Status)
}

func (c *Client) do(ctx stdcontext.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("control server %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var body errorBody
		data, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(data, &body); err != nil || body.Code == "" {
			return &APIError{Status: resp.StatusCode, Code: "unexpected_response", Message: strings.TrimSpace(string(data))}
		}
		return &APIError{Status: resp.StatusCode, Code: body.Code, Message: body.Message}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
