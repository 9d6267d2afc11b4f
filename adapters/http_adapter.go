package adapters

import "context"

// HTTPResponse represents the response from an HTTP request.
type HTTPResponse struct {
	OK     bool
	Status int
	// Body holds the start of the response body, kept for diagnostics.
	Body string
}

// HTTPAdapter is an interface for HTTP communication.
// Implement this interface to use custom HTTP clients.
type HTTPAdapter interface {
	// Send fires a single beacon.
	//
	// Parameters:
	//   - ctx: Bounds the request
	//   - beacon: The encoded beacon URL and optional body
	//
	// Returns HTTP response or error. A non-2xx status is not an error.
	Send(ctx context.Context, beacon Beacon) (*HTTPResponse, error)
}
