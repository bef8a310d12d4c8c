/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"fmt"
	"strings"

	"github.com/cloudflare/ahocorasick"
)

// Default matching parameters.
const (
	DefaultInternalPathPrefix  = "/api/v1/internal/"
	DefaultPublicAPIPathPrefix = "/api/v1/"
)

// DefaultAuthPathMarkers are substrings that make a path an authentication endpoint.
var DefaultAuthPathMarkers = []string{"/login", "/register", "/auth/"}

// MatchingConfig configures how requests are mapped to rules.
type MatchingConfig struct {
	InternalPathPrefix  string
	PublicAPIPathPrefix string
	AuthPathMarkers     []string
}

// NewDefaultMatchingConfig returns the default MatchingConfig.
func NewDefaultMatchingConfig() MatchingConfig {
	return MatchingConfig{
		InternalPathPrefix:  DefaultInternalPathPrefix,
		PublicAPIPathPrefix: DefaultPublicAPIPathPrefix,
		AuthPathMarkers:     append([]string(nil), DefaultAuthPathMarkers...),
	}
}

// Matcher selects a rule for the request.
type Matcher interface {
	Match(req Request) (ruleName string, ok bool)
}

// MatcherFunc is an adapter to allow the use of ordinary functions as Matcher.
type MatcherFunc func(req Request) (ruleName string, ok bool)

// Match implements Matcher.
func (f MatcherFunc) Match(req Request) (string, bool) {
	return f(req)
}

// PathPrefixMatch matches requests whose path starts with one of the rule prefixes and whose method is allowed.
type PathPrefixMatch struct {
	Rule Rule
}

// Match implements Matcher.
func (m PathPrefixMatch) Match(req Request) (string, bool) {
	if m.Rule.MatchesPath(req.Path) && m.Rule.MatchesMethod(req.Method) {
		return m.Rule.Name, true
	}
	return "", false
}

// InternalServiceMatch matches service-to-service requests.
type InternalServiceMatch struct {
	Prefix   string
	RuleName string
}

// Match implements Matcher.
func (m InternalServiceMatch) Match(req Request) (string, bool) {
	if m.Prefix != "" && strings.HasPrefix(req.Path, m.Prefix) {
		return m.RuleName, true
	}
	return "", false
}

// AuthPathMatch matches requests whose path contains any authentication marker.
type AuthPathMatch struct {
	RuleName string
	markers  *ahocorasick.Matcher
}

// NewAuthPathMatch creates a new AuthPathMatch for the markers.
func NewAuthPathMatch(ruleName string, markers []string) *AuthPathMatch {
	m := &AuthPathMatch{RuleName: ruleName}
	if len(markers) != 0 {
		m.markers = ahocorasick.NewStringMatcher(markers)
	}
	return m
}

// Match implements Matcher.
func (m *AuthPathMatch) Match(req Request) (string, bool) {
	if m.markers != nil && len(m.markers.MatchThreadSafe([]byte(req.Path))) != 0 {
		return m.RuleName, true
	}
	return "", false
}

// AuthenticatedUserMatch matches public API requests made by an authenticated user.
type AuthenticatedUserMatch struct {
	Prefix   string
	RuleName string
}

// Match implements Matcher.
func (m AuthenticatedUserMatch) Match(req Request) (string, bool) {
	if req.UserID != "" && strings.HasPrefix(req.Path, m.Prefix) {
		return m.RuleName, true
	}
	return "", false
}

// RuleSet holds rules and the ordered list of matchers that select them.
type RuleSet struct {
	rules    map[string]Rule
	order    []string
	matchers []Matcher
}

// NewRuleSet validates the rules and builds the matcher chain:
// rules with path prefixes (in declaration order), then internal services, authentication paths,
// authenticated users of the public API and finally the default rule.
func NewRuleSet(rules []Rule, matching MatchingConfig) (*RuleSet, error) {
	rs := &RuleSet{rules: make(map[string]Rule, len(rules))}
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		if _, dup := rs.rules[rule.Name]; dup {
			return nil, fmt.Errorf("duplicate rule %q", rule.Name)
		}
		rs.rules[rule.Name] = rule
		rs.order = append(rs.order, rule.Name)
	}
	for _, name := range []string{RuleNameDefault, RuleNameAuth, RuleNameAPI, RuleNameInternal} {
		if _, ok := rs.rules[name]; !ok {
			return nil, fmt.Errorf("rule %q is required", name)
		}
	}

	for _, rule := range rules {
		if rule.Name != RuleNameDefault && len(rule.PathPrefixes) != 0 {
			rs.matchers = append(rs.matchers, PathPrefixMatch{Rule: rule})
		}
	}
	rs.matchers = append(rs.matchers,
		InternalServiceMatch{Prefix: matching.InternalPathPrefix, RuleName: RuleNameInternal},
		NewAuthPathMatch(RuleNameAuth, matching.AuthPathMarkers),
		AuthenticatedUserMatch{Prefix: matching.PublicAPIPathPrefix, RuleName: RuleNameAPI},
	)
	return rs, nil
}

// Select returns the rule for the request. The default rule is returned if no matcher applies.
func (rs *RuleSet) Select(req Request) Rule {
	for _, m := range rs.matchers {
		if name, ok := m.Match(req); ok {
			if rule, exists := rs.rules[name]; exists {
				return rule
			}
		}
	}
	return rs.rules[RuleNameDefault]
}

// Get returns the rule by name.
func (rs *RuleSet) Get(name string) (Rule, bool) {
	rule, ok := rs.rules[name]
	return rule, ok
}

// Rules returns all rules in declaration order.
func (rs *RuleSet) Rules() []Rule {
	res := make([]Rule, 0, len(rs.order))
	for _, name := range rs.order {
		res = append(res, rs.rules[name])
	}
	return res
}
