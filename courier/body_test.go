package courier

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeQuery(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "given plain token, then passes through unchanged",
			in:   "hello",
			want: "hello",
		},
		{
			name: "given space, then percent-encodes it",
			in:   "a b",
			want: "a%20b",
		},
		{
			name: "given ampersand and equals, then percent-encodes both",
			in:   "a&b=c",
			want: "a%26b%3Dc",
		},
		{
			name: "given every disallowed character, then percent-encodes all of them",
			in:   "!*'();:@&=+$,/?%#[] <>",
			want: "%21%2A%27%28%29%3B%3A%40%26%3D%2B%24%2C%2F%3F%25%23%5B%5D%20%3C%3E",
		},
		{
			name: "given unicode text, then passes it through",
			in:   "héllo",
			want: "héllo",
		},
		{
			name: "given empty string, then returns empty",
			in:   "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, escapeQuery(tt.in))
		})
	}
}

func TestEscapeQuery_RoundTrip(t *testing.T) {
	// Every escaped value must decode back to the original with standard
	// query unescaping, including values containing the full disallowed set.
	inputs := []string{
		"plain",
		"a b c",
		"k=v&x=y",
		"100%",
		"!*'();:@&=+$,/?%#[] <>",
		"mixed !@# and plain",
	}

	for _, in := range inputs {
		got, err := url.QueryUnescape(escapeQuery(in))
		require.NoError(t, err, "input %q", in)
		assert.Equal(t, in, got, "input %q", in)
	}
}

func TestFormBody_EncodeQuery(t *testing.T) {
	tests := []struct {
		name string
		body FormBody
		want string
	}{
		{
			name: "given empty form, then returns empty string",
			body: FormBody{},
			want: "",
		},
		{
			name: "given single pair, then encodes key=value",
			body: FormBody{"q": "golang"},
			want: "q=golang",
		},
		{
			name: "given multiple pairs, then sorts keys",
			body: FormBody{"z": "1", "a": "2", "m": "3"},
			want: "a=2&m=3&z=1",
		},
		{
			name: "given values needing escaping, then escapes key and value",
			body: FormBody{"a key": "a&b"},
			want: "a%20key=a%26b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.body.EncodeQuery())
		})
	}
}

func TestFormBody_Payload(t *testing.T) {
	body := FormBody{"user": "ann", "role": "admin"}

	payload, err := body.Payload()

	require.NoError(t, err)
	assert.Equal(t, "role=admin&user=ann", string(payload))
	assert.Equal(t, "application/x-www-form-urlencoded", body.ContentType())
}

func TestRawBody(t *testing.T) {
	tests := []struct {
		name     string
		body     RawBody
		wantType string
	}{
		{
			name:     "given explicit type, then declares it",
			body:     RawBody{Data: []byte("x"), Type: "text/plain"},
			wantType: "text/plain",
		},
		{
			name:     "given no type, then defaults to octet-stream",
			body:     RawBody{Data: []byte{0x1, 0x2}},
			wantType: "application/octet-stream",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := tt.body.Payload()
			require.NoError(t, err)
			assert.Equal(t, tt.body.Data, payload)
			assert.Equal(t, tt.wantType, tt.body.ContentType())
		})
	}
}

func TestJSONBody(t *testing.T) {
	t.Run("given encodable value, then produces JSON payload", func(t *testing.T) {
		body := JSONBody(map[string]int{"n": 1})

		payload, err := body.Payload()

		require.NoError(t, err)
		assert.JSONEq(t, `{"n":1}`, string(payload))
		assert.Equal(t, "application/json", body.ContentType())
	})

	t.Run("given unencodable value, then the error surfaces from Payload", func(t *testing.T) {
		body := JSONBody(make(chan int))

		_, err := body.Payload()

		require.Error(t, err)
	})
}

func TestBody_QueryCapability(t *testing.T) {
	// Only FormBody can render itself as a query string; raw and JSON
	// bodies must not satisfy QueryEncoder.
	var form Body = FormBody{"a": "1"}
	var raw Body = RawBody{Data: []byte("x")}
	var jsonBody Body = JSONBody(map[string]int{"n": 1})

	_, ok := form.(QueryEncoder)
	assert.True(t, ok)

	_, ok = raw.(QueryEncoder)
	assert.False(t, ok)

	_, ok = jsonBody.(QueryEncoder)
	assert.False(t, ok)
}
