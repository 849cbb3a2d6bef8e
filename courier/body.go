package courier

import (
	"sort"
	"strings"

	json "github.com/goccy/go-json"
)

// Body is the capability type for request payloads.
//
// A Body declares its content type and can produce the byte payload to be
// sent on the wire. Bodies that can additionally render themselves as a URL
// query string (for query-bearing methods such as GET) implement the
// QueryEncoder interface; asking any other body variant for a query string
// is impossible at the type level, which is deliberate: a raw or JSON body
// on a GET is a bug in the calling code, not a runtime condition.
type Body interface {
	// ContentType returns the MIME type declared for the payload.
	ContentType() string

	// Payload returns the byte payload to send. An error aborts the
	// request before any transport call is made and is surfaced to the
	// caller unmodified.
	Payload() ([]byte, error)
}

// QueryEncoder is the extra capability of bodies that can be encoded into a
// URL query string. Only FormBody implements it.
type QueryEncoder interface {
	Body

	// EncodeQuery renders the body as a percent-encoded query string
	// without a leading "?".
	EncodeQuery() string
}

// FormBody is a key/value mapping body. On query-bearing methods it is
// appended to the URL as a query string; on other methods it is sent as an
// application/x-www-form-urlencoded payload.
//
// Values are encoded deterministically (keys sorted) so identical bodies
// always produce identical payloads.
type FormBody map[string]string

var _ QueryEncoder = FormBody{}

// ContentType implements Body.
func (FormBody) ContentType() string {
	return "application/x-www-form-urlencoded"
}

// Payload implements Body. It never fails.
func (b FormBody) Payload() ([]byte, error) {
	return []byte(b.EncodeQuery()), nil
}

// EncodeQuery implements QueryEncoder.
func (b FormBody) EncodeQuery() string {
	if len(b) == 0 {
		return ""
	}

	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(escapeQuery(k))
		sb.WriteByte('=')
		sb.WriteString(escapeQuery(b[k]))
	}
	return sb.String()
}

// RawBody is a pre-encoded byte payload with an explicit content type.
type RawBody struct {
	// Data is the payload to send verbatim.
	Data []byte

	// Type is the declared content type. Empty means
	// "application/octet-stream".
	Type string
}

var _ Body = RawBody{}

// ContentType implements Body.
func (b RawBody) ContentType() string {
	if b.Type == "" {
		return "application/octet-stream"
	}
	return b.Type
}

// Payload implements Body. It never fails.
func (b RawBody) Payload() ([]byte, error) {
	return b.Data, nil
}

// JSONBody encodes v to JSON immediately and wraps the result as a body with
// content type "application/json".
//
// An encoding failure is not reported here; it is carried inside the
// returned body and surfaced, unmodified, when the request is executed.
// This keeps call sites fluent without losing the error. To encode with a
// client's configured encoder instead of the package default, use
// Client.EncodeBody.
func JSONBody(v any) Body {
	data, err := json.Marshal(v)
	if err != nil {
		return errBody{err: err}
	}
	return RawBody{Data: data, Type: "application/json"}
}

// errBody is a Body whose encoding already failed. Payload reports the
// original encode error.
type errBody struct {
	err error
}

func (errBody) ContentType() string        { return "" }
func (b errBody) Payload() ([]byte, error) { return nil, b.err }

// queryDisallowed is the set of bytes that must be percent-encoded in query
// strings. Every other byte is written through unescaped.
const queryDisallowed = "!*'();:@&=+$,/?%#[] <>"

// escapeQuery percent-encodes exactly the disallowed query characters,
// leaving everything else intact. The output never contains a bare '+', so
// standard query unescaping round-trips it.
func escapeQuery(s string) string {
	hex := "0123456789ABCDEF"

	n := 0
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(queryDisallowed, s[i]) >= 0 {
			n++
		}
	}
	if n == 0 {
		return s
	}

	out := make([]byte, 0, len(s)+2*n)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if strings.IndexByte(queryDisallowed, c) >= 0 {
			out = append(out, '%', hex[c>>4], hex[c&0xf])
		} else {
			out = append(out, c)
		}
	}
	return string(out)
}
