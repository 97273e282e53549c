package device

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
)

// Kind identifies the static type of a Value or a method parameter.
type Kind string

// Value kinds. KindAny is only meaningful in a ParamSpec and accepts any value.
const (
	KindNull   Kind = "null"
	KindBool   Kind = "bool"
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindString Kind = "string"
	KindList   Kind = "list"
	KindMap    Kind = "map"
	KindAny    Kind = "any"
)

// validKinds contains all recognised kinds for schema checks.
var validKinds = map[Kind]bool{
	KindNull:   true,
	KindBool:   true,
	KindInt:    true,
	KindFloat:  true,
	KindString: true,
	KindList:   true,
	KindMap:    true,
	KindAny:    true,
}

// ValidKind reports whether k is a recognised kind.
func ValidKind(k Kind) bool {
	return validKinds[k]
}

// Value is a statically typed argument or result crossing the library
// boundary. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	list []Value
	m    map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns an integer value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a floating point value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// List returns a list value holding a copy of items.
func List(items ...Value) Value {
	return Value{kind: KindList, list: slices.Clone(items)}
}

// Map returns a map value holding a copy of m.
func Map(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindMap, m: maps.Clone(m)}
}

// ValueOf converts a decoded JSON value (or a plain Go scalar, slice or map)
// into a Value.
func ValueOf(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case int:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint8:
		return Int(int64(x)), nil
	case uint16:
		return Int(int64(x)), nil
	case uint32:
		return Int(int64(x)), nil
	case float32:
		return Float(float64(x)), nil
	case float64:
		return Float(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("converting number %q: %w", x.String(), err)
		}
		return Float(f), nil
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			cv, err := ValueOf(item)
			if err != nil {
				return Value{}, fmt.Errorf("list[%d]: %w", i, err)
			}
			items[i] = cv
		}
		return Value{kind: KindList, list: items}, nil
	case []Value:
		return List(x...), nil
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, item := range x {
			cv, err := ValueOf(item)
			if err != nil {
				return Value{}, fmt.Errorf("map[%q]: %w", k, err)
			}
			m[k] = cv
		}
		return Value{kind: KindMap, m: m}, nil
	case map[string]Value:
		return Map(x), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", v)
	}
}

// Kind returns the kind of the value.
func (v Value) Kind() Kind {
	if v.kind == "" {
		return KindNull
	}
	return v.kind
}

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.Kind() == KindNull }

// AsBool returns the boolean payload and whether v is a bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsInt returns the integer payload and whether v is an int.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsFloat returns the numeric payload as float64. Ints are widened.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	default:
		return 0, false
	}
}

// AsString returns the string payload and whether v is a string.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsList returns a copy of the list items and whether v is a list.
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return slices.Clone(v.list), true
}

// AsMap returns a copy of the map entries and whether v is a map.
func (v Value) AsMap() (map[string]Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return maps.Clone(v.m), true
}

// Interface returns the JSON-compatible dynamic form of the value.
// Numbers are returned as json.Number so integers and floats stay distinct.
func (v Value) Interface() any {
	switch v.Kind() {
	case KindBool:
		return v.b
	case KindInt:
		return json.Number(strconv.FormatInt(v.i, 10))
	case KindFloat:
		return json.Number(formatFloat(v.f))
	case KindString:
		return v.s
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, item := range v.m {
			out[k] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

// formatFloat renders f so that it decodes back as a float, not an int.
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !bytes.ContainsAny([]byte(s), ".eE") && !math.IsInf(f, 0) && !math.IsNaN(f) {
		s += ".0"
	}
	return s
}

// finite reports whether every float in v, including nested ones, is a
// finite number. NaN and infinities have no JSON form.
func (v Value) finite() bool {
	switch v.Kind() {
	case KindFloat:
		return !math.IsInf(v.f, 0) && !math.IsNaN(v.f)
	case KindList:
		for _, item := range v.list {
			if !item.finite() {
				return false
			}
		}
	case KindMap:
		for _, item := range v.m {
			if !item.finite() {
				return false
			}
		}
	}
	return true
}

// Equal reports whether v and other hold the same kind and payload.
func (v Value) Equal(other Value) bool {
	if v.Kind() != other.Kind() {
		return false
	}
	switch v.Kind() {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindInt:
		return v.i == other.i
	case KindFloat:
		return v.f == other.f
	case KindString:
		return v.s == other.s
	case KindList:
		return slices.EqualFunc(v.list, other.list, Value.Equal)
	case KindMap:
		return maps.EqualFunc(v.m, other.m, Value.Equal)
	}
	return false
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.Kind() == KindFloat && (math.IsInf(v.f, 0) || math.IsNaN(v.f)) {
		return nil, fmt.Errorf("cannot encode float %v as JSON", v.f)
	}
	return json.Marshal(v.Interface())
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	cv, err := ValueOf(raw)
	if err != nil {
		return err
	}
	*v = cv
	return nil
}

// String returns a compact JSON rendering for logs and diagnostics.
func (v Value) String() string {
	data, err := v.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("%s(%v)", v.Kind(), v.f)
	}
	return string(data)
}
