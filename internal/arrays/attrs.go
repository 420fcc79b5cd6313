package arrays

import (
	"fmt"
	"reflect"
	"strings"
)

// Attributes is an insertion-ordered attribute map.
type Attributes struct {
	keys []string
	vals map[string]interface{}
}

// NewAttributes creates an empty attribute map.
func NewAttributes() *Attributes {
	return &Attributes{vals: make(map[string]interface{})}
}

// Keys returns the attribute names in insertion order.
func (a *Attributes) Keys() []string {
	if a == nil {
		return nil
	}
	return a.keys
}

func (a *Attributes) Len() int {
	if a == nil {
		return 0
	}
	return len(a.keys)
}

// Get returns the raw attribute value.
func (a *Attributes) Get(key string) (interface{}, bool) {
	if a == nil {
		return nil, false
	}
	v, ok := a.vals[key]
	return v, ok
}

// String returns the attribute as a string, "" when absent.
func (a *Attributes) String(key string) string {
	v, ok := a.Get(key)
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return FormatValue(v)
}

// Float returns a numeric attribute. Array attributes yield their first element.
func (a *Attributes) Float(key string) (float64, bool) {
	v, ok := a.Get(key)
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

// Set adds or replaces key, keeping its original position if it existed.
func (a *Attributes) Set(key string, val interface{}) {
	if _, ok := a.vals[key]; !ok {
		a.keys = append(a.keys, key)
	}
	a.vals[key] = val
}

func (a *Attributes) Delete(key string) {
	if _, ok := a.vals[key]; !ok {
		return
	}
	delete(a.vals, key)
	for i, k := range a.keys {
		if k == key {
			a.keys = append(a.keys[:i:i], a.keys[i+1:]...)
			break
		}
	}
}

// Clone returns a shallow copy; attribute values are treated as immutable.
func (a *Attributes) Clone() *Attributes {
	out := NewAttributes()
	if a == nil {
		return out
	}
	for _, k := range a.keys {
		out.Set(k, a.vals[k])
	}
	return out
}

// FormatValue renders an attribute value the way metadata sidecars print it.
func FormatValue(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice {
		if rv.Len() == 1 {
			return fmt.Sprint(rv.Index(0).Interface())
		}
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = fmt.Sprint(rv.Index(i).Interface())
		}
		return "[" + strings.Join(parts, " ") + "]"
	}
	return fmt.Sprint(v)
}

func toFloat(v interface{}) (float64, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice {
		if rv.Len() == 0 {
			return 0, false
		}
		rv = rv.Index(0)
	}
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	default:
		return 0, false
	}
}
