package fetch

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shpitdev/outreach-contact-pipeline/pkg/redact"
)

// TransientError marks a failure as retryable: timeouts, connection resets,
// 5xx/429 responses and cancelled attempt deadlines.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	if e == nil || e.Err == nil {
		return "transient error"
	}
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsTransient reports whether err (or anything it wraps) is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// HTTPError is a sanitized summary of a non-2xx response.
//
// Raw bodies are never carried: only a redacted, truncated snippet.
type HTTPError struct {
	Op         string
	URL        string
	StatusCode int
	Status     string
	Snippet    string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "http error"
	}
	parts := []string{
		fmt.Sprintf("http error: op=%s status=%s", strings.TrimSpace(e.Op), strings.TrimSpace(e.Status)),
	}
	if e.URL != "" {
		parts = append(parts, "url="+redact.Secrets(e.URL))
	}
	if strings.TrimSpace(e.Snippet) != "" {
		parts = append(parts, "body="+strings.TrimSpace(e.Snippet))
	}
	return strings.Join(parts, " ")
}

// StatusCode extracts the HTTP status from err, or 0 when err carries none.
func StatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}

func newHTTPError(op string, resp *http.Response, body []byte) *HTTPError {
	h := &HTTPError{Op: op}
	if resp != nil {
		h.StatusCode = resp.StatusCode
		h.Status = resp.Status
		if resp.Request != nil && resp.Request.URL != nil {
			h.URL = resp.Request.URL.String()
		}
	}
	// Keep this small: response bodies can contain sensitive data.
	if len(body) > 1024 {
		body = body[:1024]
	}
	h.Snippet = redact.Truncate(redact.Secrets(string(body)), 256)
	return h
}
