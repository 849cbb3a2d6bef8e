package courier

import (
	"fmt"
	"reflect"
	"strings"

	json "github.com/goccy/go-json"
)

// Encoder serializes a structured value into a request payload.
type Encoder interface {
	// Encode returns the serialized bytes, or an error on failure.
	Encode(v any) ([]byte, error)

	// ContentType declares the MIME type of encoded payloads.
	ContentType() string
}

// Decoder deserializes a response payload into a structured value.
type Decoder interface {
	// Decode unmarshals data into v, which must be a pointer.
	Decode(data []byte, v any) error
}

// JSONCodec is the default encoder and decoder, backed by goccy/go-json.
type JSONCodec struct{}

var (
	_ Encoder = JSONCodec{}
	_ Decoder = JSONCodec{}
)

// Encode implements Encoder.
func (JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// ContentType implements Encoder.
func (JSONCodec) ContentType() string {
	return "application/json"
}

// Decode implements Decoder.
func (JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// StrictJSONCodec decodes like JSONCodec but additionally requires every
// exported field of a struct target to be present in the payload, unless
// the field's json tag says "-" or "omitempty". Use it when a missing field
// must be a decode failure rather than a zero value:
//
//	client := courier.New(courier.WithDecoder(courier.StrictJSONCodec{}))
type StrictJSONCodec struct{}

var _ Decoder = StrictJSONCodec{}

// Decode implements Decoder.
func (StrictJSONCodec) Decode(data []byte, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}

	// Field presence only makes sense for object payloads into struct
	// targets; anything else decodes leniently.
	if rv.Kind() == reflect.Struct {
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		for _, name := range requiredJSONFields(rv.Type()) {
			if _, ok := raw[name]; !ok {
				return fmt.Errorf("missing required field %q", name)
			}
		}
	}

	return json.Unmarshal(data, v)
}

// requiredJSONFields lists the payload keys a struct type demands.
func requiredJSONFields(t reflect.Type) []string {
	fields := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup("json"); ok {
			parts := strings.Split(tag, ",")
			if parts[0] == "-" {
				continue
			}
			if parts[0] != "" {
				name = parts[0]
			}
			optional := false
			for _, opt := range parts[1:] {
				if opt == "omitempty" {
					optional = true
				}
			}
			if optional {
				continue
			}
		}
		fields = append(fields, name)
	}
	return fields
}
