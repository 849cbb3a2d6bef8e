package courier

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// coalesceKey derives the deduplication key for one request:
// SHA256(method | normalized URL | sorted query params). Coalescing only
// applies to bodyless query-bearing requests, so the parameters alone
// determine the key.
func coalesceKey(p Params) string {
	method := string(p.method())

	rawURL := p.URL
	if qe, ok := p.Body.(QueryEncoder); ok {
		if q := qe.EncodeQuery(); q != "" {
			sep := "?"
			if strings.Contains(rawURL, "?") {
				sep = "&"
			}
			rawURL += sep + q
		}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return hashKey(method + rawURL)
	}

	// Sort query parameters so equivalent requests collide on one key
	// regardless of parameter order.
	query := u.Query()
	var params []string
	for key, values := range query {
		sort.Strings(values)
		for _, v := range values {
			params = append(params, key+"="+v)
		}
	}
	sort.Strings(params)

	normalized := u.Scheme + "://" + u.Host + u.Path
	return hashKey(strings.Join([]string{method, normalized, strings.Join(params, "&")}, "|"))
}

func hashKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
