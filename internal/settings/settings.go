// Package settings holds typed pipeline stage settings keyed by parameter name,
// grouped per stage, and their JSON persistence.
package settings

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Settings group names. Each group maps to one pipeline stage and one
// persisted settings file.
const (
	GroupPreprocessor  = "preprocessor"
	GroupLocalizer     = "localizer"
	GroupEllipseFitter = "ellipsefitter"
	GroupGridFitter    = "gridfitter"
)

// Groups lists the settings groups in pipeline order.
var Groups = []string{GroupPreprocessor, GroupLocalizer, GroupEllipseFitter, GroupGridFitter}

// Settings is a bag of concrete parameter values (int, uint, float64, bool or
// string) keyed by parameter name. Values decoded from JSON arrive as float64
// and are coerced by the typed getters.
type Settings map[string]interface{}

// Set stores v under name.
func (s Settings) Set(name string, v interface{}) {
	s[name] = v
}

// Has reports whether name is present.
func (s Settings) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Int returns name as int, or def if missing or not numeric.
func (s Settings) Int(name string, def int) int {
	f, ok := s.number(name)
	if !ok {
		return def
	}
	return int(math.Round(f))
}

// Uint returns name as uint, or def if missing, not numeric or negative.
func (s Settings) Uint(name string, def uint) uint {
	f, ok := s.number(name)
	if !ok || f < 0 {
		return def
	}
	return uint(math.Round(f))
}

// Float returns name as float64, or def if missing or not numeric.
func (s Settings) Float(name string, def float64) float64 {
	f, ok := s.number(name)
	if !ok {
		return def
	}
	return f
}

// Bool returns name as bool, or def if missing.
func (s Settings) Bool(name string, def bool) bool {
	switch v := s[name].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return def
		}
		return b
	case float64:
		return v != 0
	case int:
		return v != 0
	}
	return def
}

// Str returns name as string, or def if missing.
func (s Settings) Str(name string, def string) string {
	v, ok := s[name]
	if !ok || v == nil {
		return def
	}
	if str, ok := v.(string); ok {
		return str
	}
	return fmt.Sprintf("%v", v)
}

func (s Settings) number(name string) (float64, bool) {
	switch v := s[name].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

// Clone returns a shallow copy.
func (s Settings) Clone() Settings {
	out := make(Settings, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Merge copies every key of other into s, replacing existing values.
func (s Settings) Merge(other Settings) {
	for k, v := range other {
		s[k] = v
	}
}

// Keys returns the parameter names in lexical order.
func (s Settings) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Format renders the settings as "name=value" pairs in key order.
func (s Settings) Format() string {
	var b strings.Builder
	for i, k := range s.Keys() {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%s=%v", k, s[k])
	}
	return b.String()
}

// Bundle groups Settings by stage group name.
type Bundle map[string]Settings

// Group returns the settings for group, creating an empty entry if needed.
func (b Bundle) Group(group string) Settings {
	s, ok := b[group]
	if !ok {
		s = Settings{}
		b[group] = s
	}
	return s
}

// Clone deep-copies the bundle one level down.
func (b Bundle) Clone() Bundle {
	out := make(Bundle, len(b))
	for g, s := range b {
		out[g] = s.Clone()
	}
	return out
}

// Merge overlays other onto b group by group.
func (b Bundle) Merge(other Bundle) {
	for g, s := range other {
		b.Group(g).Merge(s)
	}
}

// Format renders every non-empty group as "group{name=value ...}" in
// pipeline order, followed by unknown groups in lexical order.
func (b Bundle) Format() string {
	var parts []string
	seen := make(map[string]bool, len(b))
	for _, g := range Groups {
		seen[g] = true
		if s := b[g]; len(s) > 0 {
			parts = append(parts, g+"{"+s.Format()+"}")
		}
	}
	var rest []string
	for g, s := range b {
		if !seen[g] && len(s) > 0 {
			rest = append(rest, g)
		}
	}
	sort.Strings(rest)
	for _, g := range rest {
		parts = append(parts, g+"{"+b[g].Format()+"}")
	}
	return strings.Join(parts, " ")
}
