package adapters

// Beacon is a single tracking request, fully encoded and ready to be sent.
type Beacon struct {
	// URL is the endpoint with the encoded query string appended.
	URL string `json:"url"`
	// Body is an optional plain-text payload, used for stack traces.
	Body string `json:"body,omitempty"`
}

// HasBody reports whether the beacon carries a request body.
func (b Beacon) HasBody() bool {
	return b.Body != ""
}
