package courier

import (
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// defaultLogger is the logger used when none is supplied with WithLogger.
var defaultLogger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// curlCommand renders a cURL command equivalent to the outgoing request, for
// reproducing a failure from the command line. Sensitive headers like
// Authorization are included as-is.
//
// Example output:
//
//	curl -X POST 'https://api.example.com/users' \
//	  -H 'Content-Type: application/json' \
//	  -d '{"name":"John"}'
func curlCommand(p Params, req *http.Request) string {
	parts := []string{"curl"}

	if req.Method != http.MethodGet {
		parts = append(parts, "-X", req.Method)
	}

	parts = append(parts, fmt.Sprintf("'%s'", req.URL.String()))

	// Sorted headers keep the output stable across runs.
	headerKeys := make([]string, 0, len(req.Header))
	for k := range req.Header {
		headerKeys = append(headerKeys, k)
	}
	sort.Strings(headerKeys)

	for _, k := range headerKeys {
		for _, v := range req.Header[k] {
			parts = append(parts, "-H", fmt.Sprintf("'%s: %s'", k, v))
		}
	}

	if p.Body != nil {
		if _, isQuery := p.Body.(QueryEncoder); !isQuery || !p.method().queryBearing() {
			if payload, err := p.Body.Payload(); err == nil && len(payload) > 0 {
				escaped := strings.ReplaceAll(string(payload), "'", "'\\''")
				parts = append(parts, "-d", fmt.Sprintf("'%s'", escaped))
			}
		}
	}

	return strings.Join(parts, " ")
}

// logRequest logs the outgoing request.
func logRequest(logger zerolog.Logger, id string, req *http.Request) {
	logger.Debug().
		Str("request_id", id).
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Str("host", req.URL.Host).
		Msg("HTTP request")
}

// logResponse logs the terminal response.
func logResponse(logger zerolog.Logger, id string, resp *Response, duration time.Duration) {
	logger.Debug().
		Str("request_id", id).
		Int("status", resp.StatusCode).
		Dur("duration_ms", duration).
		Int("body_bytes", len(resp.RawBytes)).
		Msg("HTTP response")
}
