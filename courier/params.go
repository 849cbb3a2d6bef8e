package courier

import (
	"net/http"
)

// Method is an HTTP request method.
type Method string

// Supported HTTP methods. Custom methods may be used by casting any valid
// RFC 7230 token to Method; the token is validated immediately before
// dispatch.
const (
	GET     Method = "GET"
	HEAD    Method = "HEAD"
	POST    Method = "POST"
	PUT     Method = "PUT"
	PATCH   Method = "PATCH"
	DELETE  Method = "DELETE"
	OPTIONS Method = "OPTIONS"
)

// queryBearing reports whether the method carries a FormBody as an appended
// URL query string instead of a request payload.
func (m Method) queryBearing() bool {
	return m == GET || m == HEAD
}

// HTTPDoer issues a single HTTP request in the same manner as the standard
// library http.Client. It is the transport collaborator of this library:
// redirects, cookies, TLS and connection handling are entirely its concern.
type HTTPDoer interface {
	Do(r *http.Request) (*http.Response, error)
}

// Params describes one logical HTTP request: where to send it, how, and with
// what payload and headers.
//
// Params is an immutable value. Pre-request hooks receive a Params and
// return a new one; the With* helpers below copy instead of mutating, and
// clone the header map so derived values never share it. Treat the Header
// map of a Params you did not build yourself as read-only.
type Params struct {
	// Doer optionally overrides the client's transport for this request
	// only. Nil means the client default.
	Doer HTTPDoer

	// URL is the absolute request URL. It must parse as an absolute URL
	// at execution time; this is checked immediately before dispatch
	// (including the appended query string on query-bearing methods).
	URL string

	// Method is the HTTP verb. Empty means GET.
	Method Method

	// Body is the optional request body.
	Body Body

	// Headers maps header names to values. Order is irrelevant; lookups
	// at dispatch are case-insensitive.
	Headers map[string]string
}

// NewParams returns request parameters for the given method and absolute
// URL.
func NewParams(method Method, url string) Params {
	return Params{Method: method, URL: url}
}

// WithURL returns a copy of p with the URL replaced.
func (p Params) WithURL(url string) Params {
	p.URL = url
	return p
}

// WithMethod returns a copy of p with the method replaced.
func (p Params) WithMethod(m Method) Params {
	p.Method = m
	return p
}

// WithBody returns a copy of p with the body replaced.
func (p Params) WithBody(b Body) Params {
	p.Body = b
	return p
}

// WithHeader returns a copy of p with the header set. The header map is
// cloned, so p is unaffected.
func (p Params) WithHeader(key, value string) Params {
	h := make(map[string]string, len(p.Headers)+1)
	for k, v := range p.Headers {
		h[k] = v
	}
	h[key] = value
	p.Headers = h
	return p
}

// WithHeaders returns a copy of p with all given headers set. The header
// map is cloned, so p is unaffected.
func (p Params) WithHeaders(headers map[string]string) Params {
	h := make(map[string]string, len(p.Headers)+len(headers))
	for k, v := range p.Headers {
		h[k] = v
	}
	for k, v := range headers {
		h[k] = v
	}
	p.Headers = h
	return p
}

// WithDoer returns a copy of p with the per-request transport replaced.
func (p Params) WithDoer(d HTTPDoer) Params {
	p.Doer = d
	return p
}

// method returns the effective verb, defaulting empty to GET.
func (p Params) method() Method {
	if p.Method == "" {
		return GET
	}
	return p.Method
}
