// Package tuning connects bounded, typed pipeline parameters to a black-box
// optimizer: it maps normalized query vectors to stage settings, rejects
// infeasible settings cheaply, runs a stage over an annotated corpus and
// reduces the per-image quality to a single value to minimize.
package tuning

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/banshee-data/tagtune/internal/settings"
)

// Kind is the value type a parameter maps to.
type Kind int

const (
	// KindInteger rounds to the nearest integer and yields an int.
	KindInteger Kind = iota
	// KindUnsigned rounds like KindInteger and yields a uint.
	KindUnsigned
	// KindReal yields the linear mapping as float64.
	KindReal
	// KindOdd yields the nearest odd integer as an int.
	KindOdd
)

var kindNames = map[Kind]string{
	KindInteger:  "integer",
	KindUnsigned: "unsigned",
	KindReal:     "real",
	KindOdd:      "odd",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown parameter kind %q", s)
}

var (
	// ErrUnknownParameter is returned for names that were never registered.
	ErrUnknownParameter = errors.New("unknown parameter")
	// ErrDimensionMismatch is returned when a query does not have one value
	// per registered parameter.
	ErrDimensionMismatch = errors.New("query dimension mismatch")
	// ErrFrozen is returned when registering into a frozen space.
	ErrFrozen = errors.New("parameter space is frozen")
)

// Limits is a closed parameter domain.
type Limits struct {
	Min float64
	Max float64
}

// Descriptor identifies one tunable parameter and its position in the query.
type Descriptor struct {
	Group string
	Name  string
	Limits
	Kind  Kind
	Index int
}

// Map transforms a normalized raw value to the parameter's typed value.
// raw is clamped to [0,1] first.
func (d Descriptor) Map(raw float64) interface{} {
	if math.IsNaN(raw) {
		raw = 0
	}
	raw = math.Max(0, math.Min(1, raw))
	v := d.Min + raw*(d.Max-d.Min)
	switch d.Kind {
	case KindInteger:
		return int(math.Max(math.Ceil(d.Min), math.Min(math.Floor(d.Max), math.Round(v))))
	case KindUnsigned:
		r := math.Max(math.Ceil(d.Min), math.Min(math.Floor(d.Max), math.Round(v)))
		return uint(math.Max(r, 0))
	case KindOdd:
		return int(d.clampOdd(nearestOdd(v)))
	default:
		return v
	}
}

// nearestOdd rounds v to the nearest integer; an even result moves to the
// odd neighbour on the side of v.
func nearestOdd(v float64) float64 {
	r := math.Round(v)
	if math.Mod(math.Abs(r), 2) == 1 {
		return r
	}
	if r < v {
		return r + 1
	}
	return r - 1
}

func (d Descriptor) oddBounds() (lo, hi float64) {
	lo, hi = math.Ceil(d.Min), math.Floor(d.Max)
	if math.Mod(math.Abs(lo), 2) == 0 {
		lo++
	}
	if math.Mod(math.Abs(hi), 2) == 0 {
		hi--
	}
	return lo, hi
}

func (d Descriptor) clampOdd(v float64) float64 {
	lo, hi := d.oddBounds()
	return math.Max(lo, math.Min(hi, v))
}

func (d Descriptor) validate() error {
	if math.IsNaN(d.Min) || math.IsNaN(d.Max) || d.Min > d.Max {
		return fmt.Errorf("parameter %s: invalid limits [%v, %v]", d.Name, d.Min, d.Max)
	}
	switch d.Kind {
	case KindInteger, KindUnsigned:
		if math.Ceil(d.Min) > math.Floor(d.Max) {
			return fmt.Errorf("parameter %s: no integer in [%v, %v]", d.Name, d.Min, d.Max)
		}
		if d.Kind == KindUnsigned && d.Max < 0 {
			return fmt.Errorf("parameter %s: unsigned limits must not be negative", d.Name)
		}
	case KindOdd:
		if lo, hi := d.oddBounds(); lo > hi {
			return fmt.Errorf("parameter %s: no odd integer in [%v, %v]", d.Name, d.Min, d.Max)
		}
	case KindReal:
	default:
		return fmt.Errorf("parameter %s: unknown kind %d", d.Name, int(d.Kind))
	}
	return nil
}

// Space is an ordered registry of parameters. The i-th registered parameter
// reads query[i]. A Space is built once per stage and frozen before it is
// handed to an optimizer.
type Space struct {
	descriptors []Descriptor
	byName      map[string]int
	frozen      bool
}

// NewSpace returns an empty space.
func NewSpace() *Space {
	return &Space{byName: make(map[string]int)}
}

// Register adds a parameter at the next free index. Registering a name that
// is already present is a no-op: the first limits stay and the dimension
// count does not change.
func (s *Space) Register(group, name string, min, max float64, kind Kind) error {
	if s.frozen {
		return ErrFrozen
	}
	if _, dup := s.byName[name]; dup {
		return nil
	}
	d := Descriptor{Group: group, Name: name, Limits: Limits{Min: min, Max: max}, Kind: kind, Index: len(s.descriptors)}
	if err := d.validate(); err != nil {
		return err
	}
	s.byName[name] = d.Index
	s.descriptors = append(s.descriptors, d)
	return nil
}

// MustRegister is Register for static tables; it panics on error.
func (s *Space) MustRegister(group, name string, min, max float64, kind Kind) {
	if err := s.Register(group, name, min, max, kind); err != nil {
		panic(err)
	}
}

// Freeze forbids further registration.
func (s *Space) Freeze() { s.frozen = true }

// Frozen reports whether Freeze was called.
func (s *Space) Frozen() bool { return s.frozen }

// Dimensions returns the number of registered parameters.
func (s *Space) Dimensions() int { return len(s.descriptors) }

// Descriptors returns the parameters in index order.
func (s *Space) Descriptors() []Descriptor {
	return append([]Descriptor(nil), s.descriptors...)
}

// Descriptor returns the parameter registered under name.
func (s *Space) Descriptor(name string) (Descriptor, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Descriptor{}, false
	}
	return s.descriptors[i], true
}

// MapValue maps one raw value of the named parameter.
func (s *Space) MapValue(name string, raw float64) (interface{}, error) {
	d, ok := s.Descriptor(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParameter, name)
	}
	return d.Map(raw), nil
}

// Map maps a full query to settings grouped by stage.
func (s *Space) Map(query []float64) (settings.Bundle, error) {
	if len(query) != len(s.descriptors) {
		return nil, fmt.Errorf("%w: got %d values, space has %d dimensions", ErrDimensionMismatch, len(query), len(s.descriptors))
	}
	b := settings.Bundle{}
	for _, d := range s.descriptors {
		b.Group(d.Group).Set(d.Name, d.Map(query[d.Index]))
	}
	return b, nil
}

// Normalize is the approximate inverse of Map for one bundle: it returns the
// query whose mapping reproduces the values in b. Parameters missing from b
// map to 0.5.
func (s *Space) Normalize(b settings.Bundle) []float64 {
	q := make([]float64, len(s.descriptors))
	for _, d := range s.descriptors {
		q[d.Index] = 0.5
		g, ok := b[d.Group]
		if !ok || !g.Has(d.Name) {
			continue
		}
		if d.Max == d.Min {
			q[d.Index] = 0
			continue
		}
		v := g.Float(d.Name, d.Min)
		q[d.Index] = math.Max(0, math.Min(1, (v-d.Min)/(d.Max-d.Min)))
	}
	return q
}

// Clone returns an unfrozen copy.
func (s *Space) Clone() *Space {
	c := NewSpace()
	for _, d := range s.descriptors {
		c.byName[d.Name] = d.Index
		c.descriptors = append(c.descriptors, d)
	}
	return c
}

// WithLimits returns an unfrozen copy in which the named parameters use new
// limits. Indices and kinds are unchanged.
func (s *Space) WithLimits(overrides map[string]Limits) (*Space, error) {
	c := s.Clone()
	for name, lim := range overrides {
		i, ok := c.byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownParameter, name)
		}
		d := c.descriptors[i]
		d.Limits = lim
		if err := d.validate(); err != nil {
			return nil, err
		}
		c.descriptors[i] = d
	}
	return c, nil
}
