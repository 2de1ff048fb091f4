package permission

import (
	"sort"
	"strings"

	"github.com/haasonsaas/cortex/internal/proto"
)

// Precedence orders which pattern set wins a tie in specificity.
type Precedence int

const (
	PrecedenceDefault Precedence = iota
	PrecedenceConfig
	PrecedenceRuntime
)

// Rule is a Permission pattern plus the precedence of the set it came
// from, so the matcher can apply spec §4.3's "runtime > config > default"
// tie-break.
type Rule struct {
	proto.Permission
	Precedence Precedence
}

// wildcardCount is the matcher's specificity metric: fewer wildcards
// wins (spec §3 "Specificity = lower wildcard count").
func wildcardCount(pattern string) int {
	return strings.Count(pattern, "*") + strings.Count(pattern, "?")
}

// globMatch implements the * (zero or more) / ? (exactly one) glob
// subset required by spec §9 "full regex is not required".
func globMatch(pattern, s string) bool {
	return globMatchRunes([]rune(pattern), []rune(s))
}

func globMatchRunes(p, s []rune) bool {
	if len(p) == 0 {
		return len(s) == 0
	}
	switch p[0] {
	case '*':
		if globMatchRunes(p[1:], s) {
			return true
		}
		for i := 0; i < len(s); i++ {
			if globMatchRunes(p[1:], s[i+1:]) {
				return true
			}
		}
		return false
	case '?':
		if len(s) == 0 {
			return false
		}
		return globMatchRunes(p[1:], s[1:])
	default:
		if len(s) == 0 || s[0] != p[0] {
			return false
		}
		return globMatchRunes(p[1:], s[1:])
	}
}

// Matcher holds a mutation-sorted set of rules for O(1)-per-lookup
// matching: sorted once on mutation, not on every Match call (spec §9).
type Matcher struct {
	rules []Rule
}

// NewMatcher builds a Matcher from an unsorted rule set, sorting once.
func NewMatcher(rules []Rule) *Matcher {
	m := &Matcher{rules: append([]Rule(nil), rules...)}
	m.resort()
	return m
}

// Add appends a rule and re-sorts.
func (m *Matcher) Add(r Rule) {
	m.rules = append(m.rules, r)
	m.resort()
}

func (m *Matcher) resort() {
	sort.SliceStable(m.rules, func(i, j int) bool {
		wi, wj := wildcardCount(m.rules[i].Pattern), wildcardCount(m.rules[j].Pattern)
		if wi != wj {
			return wi < wj
		}
		return m.rules[i].Precedence > m.rules[j].Precedence
	})
}

// Match returns the first (most specific, then highest-precedence) rule
// whose Tool and Pattern both match, or false if none do.
func (m *Matcher) Match(tool, target string) (Rule, bool) {
	for _, r := range m.rules {
		if r.Tool != "" && r.Tool != "*" && !globMatch(r.Tool, tool) {
			continue
		}
		if globMatch(r.Pattern, target) {
			return r, true
		}
	}
	return Rule{}, false
}

// Rules returns a copy of the current rule set, in match-priority order.
func (m *Matcher) Rules() []Rule {
	return append([]Rule(nil), m.rules...)
}
