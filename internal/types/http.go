package types

import "time"

// HTTPCapture is one recorded quote-bearing XHR/Fetch exchange.
type HTTPCapture struct {
	Timestamp    time.Time     `json:"timestamp"`
	RequestID    string        `json:"request_id"`
	TabID        string        `json:"tab_id"`
	URL          string        `json:"url"`
	Method       string        `json:"method"`
	ResourceType string        `json:"resource_type,omitempty"`
	Request      HTTPRequest   `json:"request"`
	Response     *HTTPResponse `json:"response,omitempty"`
}

// HTTPRequest is the request half of a capture. Authorization and cookie
// headers are never recorded.
type HTTPRequest struct {
	Headers  map[string]string `json:"headers,omitempty"`
	PostData string            `json:"post_data,omitempty"`
}

// HTTPResponse is the response half of a capture.
type HTTPResponse struct {
	Status       int               `json:"status"`
	StatusText   string            `json:"status_text"`
	MimeType     string            `json:"mime_type,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	Body         string            `json:"body,omitempty"`
	BodyBase64   string            `json:"body_base64,omitempty"`
	Truncated    bool              `json:"truncated,omitempty"`
	OriginalSize int               `json:"original_size,omitempty"`
	SHA256       string            `json:"sha256,omitempty"`
}

// PendingRequest tracks an in-flight request waiting for its body.
type PendingRequest struct {
	Capture   *HTTPCapture
	Timestamp time.Time
}
