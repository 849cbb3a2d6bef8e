package courier

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// Kind classifies a request failure. The set is closed on the engine
// boundary: every transport-level failure maps to exactly one Kind.
//
// Errors raised by hooks (and body encoders) are a separate, open-ended
// category: the engine passes them through to the caller unmodified and
// never reclassifies them.
type Kind uint8

const (
	// KindUnknown marks a transport contract violation: the transport
	// reported neither a status nor an error. It should never occur with
	// a well-behaved transport.
	KindUnknown Kind = iota

	// KindNoConnectivity means the device or network is unreachable.
	KindNoConnectivity

	// KindCancelled means the caller cancelled the request. It is not a
	// true failure; callers typically suppress error reporting for it.
	KindCancelled

	// KindTimedOut means the request exceeded a deadline.
	KindTimedOut

	// KindTransport wraps any other transport-level failure, carrying
	// the underlying platform code and message.
	KindTransport

	// KindInvalidURL means the request URL did not parse as an absolute
	// URL at execution time.
	KindInvalidURL

	// KindEmptyResponse means a structured decode required a body and
	// the response had none.
	KindEmptyResponse

	// KindDecoding means a structured decode of the response body
	// failed.
	KindDecoding
)

var kindNames = map[Kind]string{
	KindUnknown:        "unknown",
	KindNoConnectivity: "no_connectivity",
	KindCancelled:      "cancelled",
	KindTimedOut:       "timed_out",
	KindTransport:      "transport",
	KindInvalidURL:     "invalid_url",
	KindEmptyResponse:  "empty_response",
	KindDecoding:       "decoding",
}

// String returns the kind's name.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Error is the classified failure type produced by the engine. Its string
// form always carries enough context (underlying code and message, response
// status, request method and URL where applicable) to diagnose the failure
// from a log line alone.
type Error struct {
	// Kind is the failure classification.
	Kind Kind

	// Code is the underlying platform error code (an errno) when known,
	// zero otherwise.
	Code int

	// Message is additional diagnostic text.
	Message string

	// TypeName names the decode target for KindDecoding failures.
	TypeName string

	// Response is the response in hand when the failure occurred, if
	// any. Set for KindEmptyResponse and KindDecoding.
	Response *Response

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch e.Kind {
	case KindNoConnectivity:
		return fmt.Sprintf("courier: no connectivity (code %d): %v", e.Code, e.Err)
	case KindCancelled:
		return fmt.Sprintf("courier: request cancelled by caller: %v", e.Err)
	case KindTimedOut:
		return fmt.Sprintf("courier: request timed out: %v", e.Err)
	case KindTransport:
		return fmt.Sprintf("courier: transport error (code %d): %v", e.Code, e.Err)
	case KindInvalidURL:
		return fmt.Sprintf("courier: invalid url: %s", e.Message)
	case KindEmptyResponse:
		return fmt.Sprintf("courier: empty response body (status %d, %s %s)",
			e.Response.StatusCode, e.Response.Params.method(), e.Response.Params.URL)
	case KindDecoding:
		return fmt.Sprintf("courier: decoding %s failed: %v (status %d, %s %s, body %q)",
			e.TypeName, e.Err, e.Response.StatusCode,
			e.Response.Params.method(), e.Response.Params.URL,
			truncate(e.Response.Text(), 256))
	default:
		return fmt.Sprintf("courier: unknown transport outcome: %s", e.Message)
	}
}

// Unwrap returns the underlying cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a timeout, matching the net.Error
// convention.
func (e *Error) Timeout() bool {
	return e.Kind == KindTimedOut
}

// KindOf extracts the classification from err. It returns KindUnknown and
// false if err is not a classified *Error (for example a hook error passed
// through unmodified).
func KindOf(err error) (Kind, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return KindUnknown, false
}

// noConnectivityErrnos are the platform codes meaning the device or network
// is unreachable.
var noConnectivityErrnos = []syscall.Errno{
	syscall.ENETDOWN,
	syscall.ENETUNREACH,
	syscall.EHOSTDOWN,
	syscall.EHOSTUNREACH,
}

// classifyTransport maps a transport-level failure into the closed taxonomy.
// It is applied exactly once, at the normalization boundary; nothing
// downstream reclassifies the result.
func classifyTransport(err error) *Error {
	// The standard client wraps everything in *url.Error. errors.Is/As
	// walk the chain, so classification works on the innermost condition
	// regardless of wrapping depth.
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindCancelled, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return &Error{Kind: KindTimedOut, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimedOut, Err: err}
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		for _, nc := range noConnectivityErrnos {
			if errno == nc {
				return &Error{Kind: KindNoConnectivity, Code: int(errno), Err: err}
			}
		}
		if errno == syscall.ETIMEDOUT {
			return &Error{Kind: KindTimedOut, Code: int(errno), Err: err}
		}
		return &Error{Kind: KindTransport, Code: int(errno), Err: err}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return &Error{Kind: KindTimedOut, Err: err}
		}
		if dnsErr.IsTemporary {
			return &Error{Kind: KindNoConnectivity, Err: err}
		}
		// NXDOMAIN and friends: the network is fine, the name is not.
		return &Error{Kind: KindTransport, Err: err}
	}

	return &Error{Kind: KindTransport, Err: err}
}

// invalidURLError builds a KindInvalidURL error with full request context.
func invalidURLError(p Params, finalURL string, cause error) *Error {
	msg := fmt.Sprintf("%q is not an absolute URL (%s %s)", finalURL, p.method(), p.URL)
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return &Error{Kind: KindInvalidURL, Message: msg, Err: cause}
}

// emptyResponseError builds a KindEmptyResponse error referencing the
// response for diagnostics.
func emptyResponseError(resp *Response) *Error {
	return &Error{Kind: KindEmptyResponse, Response: resp}
}

// decodingError wraps a deserialization failure with the decode target's
// type name and the full response.
func decodingError(typeName string, cause error, resp *Response) *Error {
	return &Error{Kind: KindDecoding, TypeName: typeName, Err: cause, Response: resp}
}

// unknownOutcomeError marks a transport that reported neither a response nor
// an error. Treated as a defensive assertion, not a designed-for case.
func unknownOutcomeError(p Params) *Error {
	return &Error{
		Kind:    KindUnknown,
		Message: fmt.Sprintf("transport returned neither response nor error (%s %s)", p.method(), p.URL),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
