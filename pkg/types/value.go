package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ValueKind discriminates the attribute value union
type ValueKind int

const (
	KindString ValueKind = iota
	KindNumber
	KindBool
	KindStringSet
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindStringSet:
		return "stringset"
	}
	return "unknown"
}

// Value is a tagged-union attribute value: string, number, boolean, or a set
// of strings. Comparisons between different kinds never match, so a type
// mismatch in a condition predictably evaluates to false.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
	Set  []string
}

// Attributes is a request-scoped attribute context
type Attributes map[string]Value

// String builds a string value
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Number builds a numeric value
func Number(f float64) Value { return Value{Kind: KindNumber, Num: f} }

// Boolean builds a boolean value
func Boolean(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// StringSet builds a set-of-strings value
func StringSet(items ...string) Value {
	return Value{Kind: KindStringSet, Set: items}
}

// Equal reports whether two values have the same kind and contents.
// Set comparison is order-insensitive.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.Str == other.Str
	case KindNumber:
		return v.Num == other.Num
	case KindBool:
		return v.Bool == other.Bool
	case KindStringSet:
		if len(v.Set) != len(other.Set) {
			return false
		}
		a := append([]string(nil), v.Set...)
		b := append([]string(nil), other.Set...)
		sort.Strings(a)
		sort.Strings(b)
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	}
	return false
}

// Contains reports whether a set value contains the given string.
// False for non-set kinds.
func (v Value) Contains(s string) bool {
	if v.Kind != KindStringSet {
		return false
	}
	for _, item := range v.Set {
		if item == s {
			return true
		}
	}
	return false
}

// fingerprint renders the value for request fingerprinting. Sets are sorted
// so fingerprints are order-insensitive.
func (v Value) fingerprint() string {
	switch v.Kind {
	case KindString:
		return "s:" + v.Str
	case KindNumber:
		return "n:" + strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindBool:
		return "b:" + strconv.FormatBool(v.Bool)
	case KindStringSet:
		items := append([]string(nil), v.Set...)
		sort.Strings(items)
		return "t:" + strings.Join(items, ",")
	}
	return ""
}

// MarshalJSON renders the value as its natural JSON form
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindString:
		return json.Marshal(v.Str)
	case KindNumber:
		return json.Marshal(v.Num)
	case KindBool:
		return json.Marshal(v.Bool)
	case KindStringSet:
		if v.Set == nil {
			return json.Marshal([]string{})
		}
		return json.Marshal(v.Set)
	}
	return nil, fmt.Errorf("unknown value kind %d", v.Kind)
}

// UnmarshalJSON accepts a string, number, boolean, or array of strings
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch t := raw.(type) {
	case string:
		*v = String(t)
	case float64:
		*v = Number(t)
	case bool:
		*v = Boolean(t)
	case []interface{}:
		items := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("attribute sets may only contain strings, got %T", item)
			}
			items = append(items, s)
		}
		*v = StringSet(items...)
	default:
		return fmt.Errorf("unsupported attribute value type %T", raw)
	}
	return nil
}
