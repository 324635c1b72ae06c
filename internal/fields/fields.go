// Package fields reads loosely shaped JSON records (map[string]any) through
// ordered lists of accessors. The first accessor that yields a usable value
// wins, so field-name drift in third-party payloads is handled by editing a
// table instead of branching code.
package fields

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Accessor extracts one candidate value from a record
type Accessor struct {
	Name string
	Get  func(m map[string]any) (any, bool)
}

// Key reads a top-level key
func Key(name string) Accessor {
	return Accessor{Name: name, Get: func(m map[string]any) (any, bool) {
		v, ok := m[name]
		return v, ok && v != nil
	}}
}

// Path reads a nested key through intermediate objects
func Path(keys ...string) Accessor {
	return Accessor{Name: strings.Join(keys, "."), Get: func(m map[string]any) (any, bool) {
		var cur any = m
		for _, k := range keys {
			obj, ok := cur.(map[string]any)
			if !ok {
				return nil, false
			}
			if cur, ok = obj[k]; !ok || cur == nil {
				return nil, false
			}
		}
		return cur, true
	}}
}

// Index reads element i of an array under name; a negative i counts from the end
func Index(name string, i int) Accessor {
	label := name + "[" + strconv.Itoa(i) + "]"
	if i < 0 {
		label = name + "[last]"
	}
	return Accessor{Name: label, Get: func(m map[string]any) (any, bool) {
		return element(m[name], i)
	}}
}

// IndexKey reads key sub of element i of the array under name
func IndexKey(name string, i int, sub string) Accessor {
	return Accessor{Name: name + "[" + strconv.Itoa(i) + "]." + sub, Get: func(m map[string]any) (any, bool) {
		el, ok := element(m[name], i)
		if !ok {
			return nil, false
		}
		obj, ok := el.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := obj[sub]
		return v, ok && v != nil
	}}
}

func element(v any, i int) (any, bool) {
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return nil, false
	}
	if i < 0 {
		i = len(arr) + i
	}
	if i < 0 || i >= len(arr) {
		return nil, false
	}
	return arr[i], arr[i] != nil
}

// FirstString returns the first non-empty string accepted by accept (nil accepts all)
func FirstString(m map[string]any, table []Accessor, accept func(string) bool) (string, string) {
	for _, a := range table {
		v, ok := a.Get(m)
		if !ok {
			continue
		}
		s := asString(v)
		if s == "" {
			continue
		}
		if accept != nil && !accept(s) {
			continue
		}
		return s, a.Name
	}
	return "", ""
}

// FirstTime returns the first value that parses as a timestamp.
// Numbers are read as unix seconds, or milliseconds when too large for seconds.
func FirstTime(m map[string]any, table []Accessor) (time.Time, bool) {
	for _, a := range table {
		v, ok := a.Get(m)
		if !ok {
			continue
		}
		if t, ok := ParseTime(v); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// IsHTTPURL accepts absolute http(s) URLs
func IsHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime converts a JSON scalar into a UTC timestamp
func ParseTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case float64:
		return fromUnix(x)
	case int64:
		return fromUnix(float64(x))
	case int:
		return fromUnix(float64(x))
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromUnix(f)
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromUnix(f)
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

func fromUnix(f float64) (time.Time, bool) {
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	// anything past year 5138 in seconds is really milliseconds
	if f > 1e11 {
		return time.UnixMilli(int64(f)).UTC(), true
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case map[string]any:
		// objects like {"url": "..."} or {"text": "..."}
		for _, k := range []string{"url", "src", "text"} {
			if s, ok := x[k].(string); ok && s != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}
