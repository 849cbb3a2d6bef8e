package courier

import (
	"net/http"
	"strings"
)

// Response is the immutable record of one completed transport call.
//
// Exactly one Response is created per physical HTTP call that produced a
// status code. It carries the raw bytes, a best-effort text decoding, the
// response headers, and the exact parameters that were dispatched (after all
// pre-request hook transformation), so a failure can be diagnosed from the
// Response alone without reproducing the request.
//
// Treat all fields as read-only after creation.
type Response struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// RawBytes is the full response body. It is empty, never nil, for
	// bodyless responses; an empty body is a valid success.
	RawBytes []byte

	// Header holds the response headers. Lookups via Header.Get are
	// case-insensitive.
	Header http.Header

	// Params are the request parameters that produced this response,
	// post pre-hook transformation.
	Params Params
}

// Text returns the body decoded as UTF-8 text. Invalid byte sequences are
// replaced with the Unicode replacement character; decoding is best-effort
// and never fails.
func (r *Response) Text() string {
	return strings.ToValidUTF8(string(r.RawBytes), "�")
}

// IsSuccess reports whether the status code is 2xx.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsError reports whether the status code is 4xx or 5xx.
func (r *Response) IsError() bool {
	return r.StatusCode >= 400
}

// HeaderValue returns the first value for the given header name,
// case-insensitively, or "" if absent.
func (r *Response) HeaderValue(name string) string {
	return r.Header.Get(name)
}

// forwardsData reports whether incremental data chunks are forwarded to
// observers for this status code. Progress is always reported; data chunks
// only for non-error statuses.
func forwardsData(statusCode int) bool {
	return statusCode >= 200 && statusCode < 400
}
