package tuning

import (
	"fmt"

	"github.com/banshee-data/tagtune/internal/settings"
)

// Rule is a named predicate over mapped parameter values. Params lists the
// parameters the rule reads; a rule whose parameters are not all present in
// the bundle is not applicable and passes.
type Rule struct {
	Name   string
	Group  string
	Params []string
	Check  func(s settings.Settings) bool
}

func (r Rule) applies(b settings.Bundle) bool {
	g, ok := b[r.Group]
	if !ok {
		return false
	}
	for _, p := range r.Params {
		if !g.Has(p) {
			return false
		}
	}
	return true
}

// LessOrEqual builds the rule a <= b within group.
func LessOrEqual(group, a, b string) Rule {
	return Rule{
		Name:   fmt.Sprintf("%s <= %s", a, b),
		Group:  group,
		Params: []string{a, b},
		Check: func(s settings.Settings) bool {
			return s.Float(a, 0) <= s.Float(b, 0)
		},
	}
}

// Less builds the rule a < b within group.
func Less(group, a, b string) Rule {
	return Rule{
		Name:   fmt.Sprintf("%s < %s", a, b),
		Group:  group,
		Params: []string{a, b},
		Check: func(s settings.Settings) bool {
			return s.Float(a, 0) < s.Float(b, 0)
		},
	}
}

// Guard is a conjunction of rules. A nil or empty Guard accepts everything.
type Guard struct {
	rules []Rule
}

// NewGuard returns a guard holding rules.
func NewGuard(rules ...Rule) *Guard {
	return &Guard{rules: append([]Rule(nil), rules...)}
}

// Add appends a rule.
func (g *Guard) Add(r Rule) {
	g.rules = append(g.rules, r)
}

// Rules returns the rules in insertion order.
func (g *Guard) Rules() []Rule {
	if g == nil {
		return nil
	}
	return append([]Rule(nil), g.rules...)
}

// Check reports whether b satisfies every applicable rule.
func (g *Guard) Check(b settings.Bundle) bool {
	if g == nil {
		return true
	}
	for _, r := range g.rules {
		if r.applies(b) && !r.Check(b[r.Group]) {
			return false
		}
	}
	return true
}

// Violations names the rules b breaks.
func (g *Guard) Violations(b settings.Bundle) []string {
	if g == nil {
		return nil
	}
	var out []string
	for _, r := range g.rules {
		if r.applies(b) && !r.Check(b[r.Group]) {
			out = append(out, r.Name)
		}
	}
	return out
}
