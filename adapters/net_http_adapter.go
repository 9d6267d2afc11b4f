package adapters

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxResponseBody caps how much of a response body is kept for logging.
const maxResponseBody = 1024

// NetHTTPAdapter is the standard HTTP adapter implementation using net/http package.
type NetHTTPAdapter struct {
	client *http.Client
}

// Ensure NetHTTPAdapter implements HTTPAdapter interface
var _ HTTPAdapter = (*NetHTTPAdapter)(nil)

// NewNetHTTPAdapter creates a new NetHTTPAdapter instance.
func NewNetHTTPAdapter() HTTPAdapter {
	return &NetHTTPAdapter{
		client: &http.Client{},
	}
}

// NewNetHTTPAdapterWithClient creates a NetHTTPAdapter that sends through client.
func NewNetHTTPAdapterWithClient(client *http.Client) HTTPAdapter {
	if client == nil {
		client = &http.Client{}
	}
	return &NetHTTPAdapter{client: client}
}

// Send posts the beacon. A stack trace body is sent as text/plain.
func (h *NetHTTPAdapter) Send(ctx context.Context, beacon Beacon) (*HTTPResponse, error) {
	var body io.Reader
	if beacon.HasBody() {
		body = strings.NewReader(beacon.Body)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, beacon.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if beacon.HasBody() {
		req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	text, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	return &HTTPResponse{
		Status: resp.StatusCode,
		OK:     resp.StatusCode >= 200 && resp.StatusCode < 300,
		Body:   string(text),
	}, nil
}
