package agentlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// ValueKind tags the variant held by a Value.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
	KindArray
	KindObject
)

// Value is a loosely typed metadata value. Exactly one payload field is
// meaningful, selected by Kind.
type Value struct {
	Kind   ValueKind
	Str    string
	Num    json.Number
	Bool   bool
	Array  []Value
	Object Metadata
}

func String(s string) Value { return Value{Kind: KindString, Str: s} }

func Int(n int64) Value { return Value{Kind: KindNumber, Num: json.Number(fmt.Sprintf("%d", n))} }

func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

func Null() Value { return Value{Kind: KindNull} }

func Array(items ...Value) Value { return Value{Kind: KindArray, Array: items} }

func Object(m Metadata) Value { return Value{Kind: KindObject, Object: m} }

// Strings builds an array value of string elements.
func Strings(items []string) Value {
	out := make([]Value, 0, len(items))
	for _, s := range items {
		out = append(out, String(s))
	}
	return Array(out...)
}

// AsInt returns the integer held by a number value.
func (v Value) AsInt() (int64, bool) {
	if v.Kind != KindNumber {
		return 0, false
	}
	n, err := v.Num.Int64()
	return n, err == nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.Str)
	case KindNumber:
		if v.Num == "" {
			return []byte("0"), nil
		}
		return []byte(v.Num.String()), nil
	case KindBool:
		return json.Marshal(v.Bool)
	case KindArray:
		if v.Array == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.Array)
	case KindObject:
		if v.Object == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.Object)
	default:
		return nil, fmt.Errorf("agentlog: unknown value kind %d", v.Kind)
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	out, err := valueFromAny(raw)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

func valueFromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case string:
		return String(t), nil
	case json.Number:
		return Value{Kind: KindNumber, Num: t}, nil
	case bool:
		return Bool(t), nil
	case []any:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			v, err := valueFromAny(item)
			if err != nil {
				return Value{}, err
			}
			items = append(items, v)
		}
		return Array(items...), nil
	case map[string]any:
		m := make(Metadata, len(t))
		for k, item := range t {
			v, err := valueFromAny(item)
			if err != nil {
				return Value{}, err
			}
			m[k] = v
		}
		return Object(m), nil
	default:
		return Value{}, fmt.Errorf("agentlog: unsupported metadata value %T", raw)
	}
}

// Metadata is the open extension map on a record. Keys are emitted in
// sorted order when encoded.
type Metadata map[string]Value

// Set adds or replaces a key.
func (m Metadata) Set(key string, v Value) { m[key] = v }

// Keys returns the keys in sorted order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy; nested arrays and objects are shared.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := m[k].MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("metadata %q: %w", k, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
