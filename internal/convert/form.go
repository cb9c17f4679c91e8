package convert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"reflect"
	"strings"
)

// --- form (client <-> server POST bodies) ---

// ToForm flattens body into form fields: strings as-is, numbers and bools
// in their JSON spelling, objects and arrays JSON-encoded, null as empty.
func ToForm(body any) (url.Values, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode form body: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("form body must be an object: %w", err)
	}
	out := make(url.Values, len(fields))
	for k, v := range fields {
		switch {
		case bytes.Equal(v, []byte("null")):
			out.Set(k, "")
		case len(v) > 0 && v[0] == '"':
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return nil, fmt.Errorf("field %s: %w", k, err)
			}
			out.Set(k, s)
		default:
			out.Set(k, string(v))
		}
	}
	return out, nil
}

// FromForm fills dst (pointer to a flat struct) from form fields produced
// by ToForm. Fields are matched by their json names; string-kinded fields
// take the value verbatim, everything else is parsed as JSON. Empty values
// and unknown keys are skipped.
func FromForm(values url.Values, dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("form target must be a struct pointer, got %T", dst)
	}
	rt := rv.Elem().Type()

	obj := make(map[string]json.RawMessage, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		v := values.Get(name)
		if v == "" {
			continue
		}
		if f.Type.Kind() == reflect.String {
			quoted, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("field %s: %w", name, err)
			}
			obj[name] = quoted
			continue
		}
		obj[name] = json.RawMessage(v)
	}

	raw, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("field decode: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode form: %w", err)
	}
	return nil
}
