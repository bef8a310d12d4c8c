/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRule_Validate(t *testing.T) {
	valid := Rule{Name: "r", RequestsPerWindow: 10, Window: time.Minute, Algorithm: AlgorithmSlidingWindow}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name        string
		modify      func(r *Rule)
		expectedErr string
	}{
		{"empty name", func(r *Rule) { r.Name = "" }, "rule name cannot be empty"},
		{"zero limit", func(r *Rule) { r.RequestsPerWindow = 0 }, `rule "r": requests per window should be > 0`},
		{"negative burst", func(r *Rule) { r.BurstSize = -1 }, `rule "r": burst size should be >= 0`},
		{"zero window", func(r *Rule) { r.Window = 0 }, `rule "r": window should be > 0`},
		{"negative block", func(r *Rule) { r.BlockDuration = -time.Second }, `rule "r": block duration should be >= 0`},
		{"unknown algorithm", func(r *Rule) { r.Algorithm = "foo" }, `rule "r": unknown algorithm "foo"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.modify(&r)
			err := r.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.expectedErr)
		})
	}
}

func TestRule_BucketSizeAndRefillRate(t *testing.T) {
	r := Rule{RequestsPerWindow: 10, Window: time.Minute}
	require.Equal(t, 10, r.BucketSize())
	require.InDelta(t, 10.0/60, r.RefillRate(), 1e-9)

	r.BurstSize = 5
	require.Equal(t, 5, r.BucketSize())

	r.Window = 10 * time.Second
	require.InDelta(t, 10.0/60, r.RefillRate(), 1e-9, "refill rate doesn't depend on the window")
}

func TestRule_WithLimit(t *testing.T) {
	r := Rule{Name: "api", RequestsPerWindow: 200, Window: time.Minute, Algorithm: AlgorithmAdaptive, UserBased: true}
	derived := r.WithLimit(100)
	require.Equal(t, 100, derived.RequestsPerWindow)
	require.Equal(t, AlgorithmSlidingWindow, derived.Algorithm)
	require.True(t, derived.UserBased)
	require.Equal(t, 200, r.RequestsPerWindow)
}

func TestNewRuleSet(t *testing.T) {
	t.Run("duplicate rule", func(t *testing.T) {
		rules := append(DefaultRules(), DefaultRules()[0])
		_, err := NewRuleSet(rules, NewDefaultMatchingConfig())
		require.EqualError(t, err, `duplicate rule "default"`)
	})

	t.Run("required rule is missing", func(t *testing.T) {
		_, err := NewRuleSet(DefaultRules()[:3], NewDefaultMatchingConfig())
		require.EqualError(t, err, `rule "internal" is required`)
	})

	t.Run("invalid rule", func(t *testing.T) {
		rules := DefaultRules()
		rules[1].Algorithm = "unknown"
		_, err := NewRuleSet(rules, NewDefaultMatchingConfig())
		require.Error(t, err)
	})

	t.Run("rules keep declaration order", func(t *testing.T) {
		rs, err := NewRuleSet(DefaultRules(), NewDefaultMatchingConfig())
		require.NoError(t, err)
		var names []string
		for _, r := range rs.Rules() {
			names = append(names, r.Name)
		}
		require.Equal(t, []string{RuleNameDefault, RuleNameAuth, RuleNameAPI, RuleNameInternal}, names)
	})
}

func TestRuleSet_Select(t *testing.T) {
	rules := append(DefaultRules(), Rule{
		Name:              "uploads",
		RequestsPerWindow: 5,
		Window:            time.Minute,
		Algorithm:         AlgorithmFixedWindow,
		PathPrefixes:      []string{"/api/v1/uploads"},
		Methods:           []string{"POST"},
	})
	rs, err := NewRuleSet(rules, NewDefaultMatchingConfig())
	require.NoError(t, err)

	tests := []struct {
		name     string
		req      Request
		wantRule string
	}{
		{"anonymous request", Request{Method: "GET", Path: "/api/v1/items"}, RuleNameDefault},
		{"authenticated user", Request{Method: "GET", Path: "/api/v1/items", UserID: "42"}, RuleNameAPI},
		{"authenticated user outside of public api", Request{Method: "GET", Path: "/other", UserID: "42"}, RuleNameDefault},
		{"internal service", Request{Method: "GET", Path: "/api/v1/internal/sync"}, RuleNameInternal},
		{"internal wins over user", Request{Method: "GET", Path: "/api/v1/internal/sync", UserID: "42"}, RuleNameInternal},
		{"login path prefix", Request{Method: "POST", Path: "/api/v1/auth/login"}, RuleNameAuth},
		{"auth marker in path", Request{Method: "POST", Path: "/web/login"}, RuleNameAuth},
		{"auth marker wins over user", Request{Method: "POST", Path: "/api/v1/auth/refresh", UserID: "42"}, RuleNameAuth},
		{"register marker", Request{Method: "POST", Path: "/account/register/confirm"}, RuleNameAuth},
		{"custom rule with method", Request{Method: "POST", Path: "/api/v1/uploads/file"}, "uploads"},
		{"custom rule with other method", Request{Method: "GET", Path: "/api/v1/uploads/file", UserID: "1"}, RuleNameAPI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.wantRule, rs.Select(tt.req).Name)
		})
	}
}

func TestRuleSet_SelectWithoutAuthMarkers(t *testing.T) {
	matching := NewDefaultMatchingConfig()
	matching.AuthPathMarkers = nil
	rs, err := NewRuleSet(DefaultRules(), matching)
	require.NoError(t, err)
	require.Equal(t, RuleNameDefault, rs.Select(Request{Path: "/web/login"}).Name)
	require.Equal(t, RuleNameAuth, rs.Select(Request{Path: "/api/v1/auth/login"}).Name)
}
