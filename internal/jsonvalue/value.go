// Package jsonvalue provides a tagged dynamic JSON value for payloads whose
// shape varies by source.
package jsonvalue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
)

// Kind identifies the JSON type held by a Value.
type Kind int

// Supported kinds.
const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value wraps a decoded JSON document. The zero Value is JSON null.
//
// The underlying representation is the one produced by encoding/json with
// UseNumber: nil, bool, json.Number, string, []any and map[string]any.
type Value struct {
	raw any
}

// Parse decodes a single JSON document. Trailing data is rejected.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, fmt.Errorf("decode json: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Value{}, errors.New("decode json: trailing data after document")
	}
	return Value{raw: raw}, nil
}

// MustParse is Parse for literals known to be valid; it panics on error.
func MustParse(s string) Value {
	v, err := Parse([]byte(s))
	if err != nil {
		panic(err)
	}
	return v
}

// From wraps an already decoded value. Numeric Go types are normalized to
// json.Number and nested slices/maps are converted recursively.
func From(raw any) Value {
	return Value{raw: normalize(raw)}
}

func normalize(raw any) any {
	switch t := raw.(type) {
	case nil, bool, string, json.Number:
		return t
	case Value:
		return t.raw
	case int:
		return json.Number(fmt.Sprintf("%d", t))
	case int64:
		return json.Number(fmt.Sprintf("%d", t))
	case float64:
		return json.Number(fmt.Sprintf("%v", t))
	case []Value:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = v.raw
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = normalize(v)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			out[k] = normalize(v)
		}
		return out
	default:
		return t
	}
}

// Kind reports the JSON type of v.
func (v Value) Kind() Kind {
	switch v.raw.(type) {
	case nil:
		return KindNull
	case bool:
		return KindBool
	case json.Number, float64:
		return KindNumber
	case string:
		return KindString
	case []any:
		return KindArray
	case map[string]any:
		return KindObject
	default:
		return KindNull
	}
}

// Interface returns the underlying decoded representation.
func (v Value) Interface() any {
	return v.raw
}

// IsZero reports whether v is falsy: null, false, zero, "", [] or {}.
func (v Value) IsZero() bool {
	switch t := v.raw.(type) {
	case nil:
		return true
	case bool:
		return !t
	case json.Number:
		f, err := t.Float64()
		return err == nil && f == 0
	case float64:
		return t == 0 || math.IsNaN(t)
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return true
	}
}

// Len returns the element count of an array or object, and 0 otherwise.
func (v Value) Len() int {
	switch t := v.raw.(type) {
	case []any:
		return len(t)
	case map[string]any:
		return len(t)
	default:
		return 0
	}
}

// Elements returns the items of an array, or nil if v is not an array.
func (v Value) Elements() []Value {
	arr, ok := v.raw.([]any)
	if !ok {
		return nil
	}
	out := make([]Value, len(arr))
	for i, item := range arr {
		out[i] = Value{raw: item}
	}
	return out
}

// AsList coerces v into a sequence: arrays are returned element-wise and any
// other value becomes a one-element list.
func (v Value) AsList() []Value {
	if v.Kind() == KindArray {
		return v.Elements()
	}
	return []Value{v}
}

// Get returns the member of an object, reporting whether it exists.
func (v Value) Get(key string) (Value, bool) {
	obj, ok := v.raw.(map[string]any)
	if !ok {
		return Value{}, false
	}
	member, ok := obj[key]
	if !ok {
		return Value{}, false
	}
	return Value{raw: member}, true
}

// Object builds an object value from its members.
func Object(members map[string]Value) Value {
	obj := make(map[string]any, len(members))
	for k, m := range members {
		obj[k] = m.raw
	}
	return Value{raw: obj}
}

// List builds an array value.
func List(items []Value) Value {
	return From(items)
}

// StringValue builds a string value.
func StringValue(s string) Value {
	return Value{raw: s}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.raw)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// EncodedSize returns the size in bytes of the compact JSON encoding.
func (v Value) EncodedSize() int {
	data, err := json.Marshal(v.raw)
	if err != nil {
		return 0
	}
	return len(data)
}
