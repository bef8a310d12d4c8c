/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"fmt"
	"strings"
	"time"
)

// Algorithm is a rate limiting algorithm.
type Algorithm string

// Rate limiting algorithms.
const (
	AlgorithmSlidingWindow Algorithm = "sliding_window"
	AlgorithmTokenBucket   Algorithm = "token_bucket"
	AlgorithmFixedWindow   Algorithm = "fixed_window"
	AlgorithmAdaptive      Algorithm = "adaptive"
	AlgorithmLeakyBucket   Algorithm = "leaky_bucket"
)

// DefaultWindow is used when a rule doesn't specify the window.
const DefaultWindow = time.Minute

var availableAlgorithms = []Algorithm{
	AlgorithmSlidingWindow, AlgorithmTokenBucket, AlgorithmFixedWindow, AlgorithmAdaptive, AlgorithmLeakyBucket,
}

// Well-known rule names. Configuration must define all of them.
const (
	RuleNameDefault  = "default"
	RuleNameAuth     = "auth"
	RuleNameAPI      = "api"
	RuleNameInternal = "internal"
)

// Rule is a named rate limiting policy. Rules are built once at startup and never mutated.
// BurstSize is the bucket size for token and leaky bucket algorithms, RequestsPerWindow is used if it's zero.
type Rule struct {
	Name              string
	RequestsPerWindow int
	BurstSize         int
	Window            time.Duration
	Algorithm         Algorithm
	PathPrefixes      []string
	Methods           []string
	UserBased         bool
	BlockDuration     time.Duration
}

// Validate checks the rule parameters.
func (r Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name cannot be empty")
	}
	if r.RequestsPerWindow <= 0 {
		return fmt.Errorf("rule %q: requests per window should be > 0", r.Name)
	}
	if r.BurstSize < 0 {
		return fmt.Errorf("rule %q: burst size should be >= 0", r.Name)
	}
	if r.Window <= 0 {
		return fmt.Errorf("rule %q: window should be > 0", r.Name)
	}
	if r.BlockDuration < 0 {
		return fmt.Errorf("rule %q: block duration should be >= 0", r.Name)
	}
	for _, alg := range availableAlgorithms {
		if r.Algorithm == alg {
			return nil
		}
	}
	return fmt.Errorf("rule %q: unknown algorithm %q, should be one of %v", r.Name, r.Algorithm, availableAlgorithms)
}

// BucketSize returns the burst size or, if it's not set, the number of requests per window.
func (r Rule) BucketSize() int {
	if r.BurstSize > 0 {
		return r.BurstSize
	}
	return r.RequestsPerWindow
}

// RefillRate returns the number of tokens added to the bucket per second.
// RequestsPerWindow is treated as a per-minute rate here whatever the window is.
func (r Rule) RefillRate() float64 {
	return float64(r.RequestsPerWindow) / 60
}

// WithLimit returns a copy of the rule with another limit that uses the sliding window algorithm.
func (r Rule) WithLimit(limit int) Rule {
	derived := r
	derived.RequestsPerWindow = limit
	derived.Algorithm = AlgorithmSlidingWindow
	return derived
}

// MatchesMethod reports whether the rule applies to the HTTP method. An empty method list matches any method.
func (r Rule) MatchesMethod(method string) bool {
	if len(r.Methods) == 0 {
		return true
	}
	for _, m := range r.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// MatchesPath reports whether the path starts with one of the rule path prefixes.
func (r Rule) MatchesPath(path string) bool {
	for _, prefix := range r.PathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// DefaultRules returns the built-in rule set.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:              RuleNameDefault,
			RequestsPerWindow: 100,
			BurstSize:         20,
			Window:            DefaultWindow,
			Algorithm:         AlgorithmSlidingWindow,
		},
		{
			Name:              RuleNameAuth,
			RequestsPerWindow: 10,
			BurstSize:         5,
			Window:            DefaultWindow,
			Algorithm:         AlgorithmTokenBucket,
			PathPrefixes:      []string{"/api/v1/auth/login", "/api/v1/auth/register"},
			BlockDuration:     15 * time.Minute,
		},
		{
			Name:              RuleNameAPI,
			RequestsPerWindow: 200,
			BurstSize:         50,
			Window:            DefaultWindow,
			Algorithm:         AlgorithmAdaptive,
			UserBased:         true,
		},
		{
			Name:              RuleNameInternal,
			RequestsPerWindow: 1000,
			BurstSize:         200,
			Window:            DefaultWindow,
			Algorithm:         AlgorithmSlidingWindow,
			PathPrefixes:      []string{"/api/v1/internal/"},
		},
	}
}
