package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// ValueKind discriminates the dynamic metadata value union.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindMap
)

// Value is a tagged union for dynamic node metadata. Parsers emit arbitrary
// JSON shapes; extractors and matchers read through the typed accessors and
// skip when shapes disagree instead of panicking on type assertions.
type Value struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
	list []Value
	m    map[string]Value
}

// StringValue creates a string Value.
func StringValue(s string) Value { return Value{kind: KindString, str: s} }

// NumberValue creates a numeric Value.
func NumberValue(n float64) Value { return Value{kind: KindNumber, num: n} }

// BoolValue creates a boolean Value.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// ListValue creates a list Value.
func ListValue(items ...Value) Value { return Value{kind: KindList, list: items} }

// MapValue creates a map Value.
func MapValue(m map[string]Value) Value { return Value{kind: KindMap, m: m} }

// NullValue creates a null Value.
func NullValue() Value { return Value{kind: KindNull} }

// Kind returns the value's discriminator.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsString returns the string payload, false when the kind disagrees.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// AsNumber returns the numeric payload, false when the kind disagrees.
func (v Value) AsNumber() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

// AsBool returns the boolean payload, false when the kind disagrees.
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// AsList returns the list payload, false when the kind disagrees.
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

// AsMap returns the map payload, false when the kind disagrees.
func (v Value) AsMap() (map[string]Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.m, true
}

// Get returns the value at key for map values.
func (v Value) Get(key string) (Value, bool) {
	m, ok := v.AsMap()
	if !ok {
		return Value{}, false
	}
	child, ok := m[key]
	return child, ok
}

// ValueFromJSON converts a decoded JSON value (as produced by
// encoding/json into interface{}) into a Value. Unknown shapes become null.
func ValueFromJSON(raw interface{}) Value {
	switch t := raw.(type) {
	case nil:
		return NullValue()
	case string:
		return StringValue(t)
	case float64:
		return NumberValue(t)
	case int:
		return NumberValue(float64(t))
	case int64:
		return NumberValue(float64(t))
	case bool:
		return BoolValue(t)
	case []interface{}:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			items = append(items, ValueFromJSON(item))
		}
		return ListValue(items...)
	case map[string]interface{}:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			m[k] = ValueFromJSON(item)
		}
		return MapValue(m)
	default:
		return NullValue()
	}
}

// ToJSON converts a Value back into a plain JSON-compatible shape.
func (v Value) ToJSON() interface{} {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindList:
		items := make([]interface{}, 0, len(v.list))
		for _, item := range v.list {
			items = append(items, item.ToJSON())
		}
		return items
	case KindMap:
		m := make(map[string]interface{}, len(v.m))
		for k, item := range v.m {
			m[k] = item.ToJSON()
		}
		return m
	default:
		return nil
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.ToJSON())
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = ValueFromJSON(raw)
	return nil
}

// Canonical returns a deterministic string rendering used for equality
// comparisons during merge conflict detection. Map keys are sorted.
func (v Value) Canonical() string {
	switch v.kind {
	case KindString:
		return "s:" + v.str
	case KindNumber:
		return "n:" + strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindBool:
		return "b:" + strconv.FormatBool(v.b)
	case KindList:
		out := "l:["
		for i, item := range v.list {
			if i > 0 {
				out += ","
			}
			out += item.Canonical()
		}
		return out + "]"
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := "m:{"
		for i, k := range keys {
			if i > 0 {
				out += ","
			}
			out += fmt.Sprintf("%s=%s", k, v.m[k].Canonical())
		}
		return out + "}"
	default:
		return "null"
	}
}

// Equal reports whether two values are canonically equal.
func (v Value) Equal(other Value) bool {
	return v.Canonical() == other.Canonical()
}

// IsScalar reports whether the value is a string, number, bool, or null.
func (v Value) IsScalar() bool {
	return v.kind != KindList && v.kind != KindMap
}
