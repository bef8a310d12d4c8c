/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-ratekit/kvstore"
)

func TestClientIdentifier(t *testing.T) {
	userRule := Rule{Name: "api", UserBased: true}
	ipRule := Rule{Name: "default"}

	tests := []struct {
		name string
		rule Rule
		req  Request
		want string
	}{
		{"user based rule with user", userRule, Request{UserID: "42", RemoteAddr: "10.0.0.1:5000"}, "user:42"},
		{"user based rule without user", userRule, Request{RemoteAddr: "10.0.0.1:5000"}, "ip:10.0.0.1"},
		{"ip rule ignores user", ipRule, Request{UserID: "42", RemoteAddr: "10.0.0.1:5000"}, "ip:10.0.0.1"},
		{"forwarded for", ipRule, Request{ForwardedFor: " 1.2.3.4 , 10.0.0.2", RemoteAddr: "10.0.0.1:5000"}, "ip:1.2.3.4"},
		{"empty forwarded for", ipRule, Request{ForwardedFor: " , ", RemoteAddr: "10.0.0.1:5000"}, "ip:10.0.0.1"},
		{"address without port", ipRule, Request{RemoteAddr: "10.0.0.1"}, "ip:10.0.0.1"},
		{"ipv6 address", ipRule, Request{RemoteAddr: "[::1]:8080"}, "ip:::1"},
		{"unknown address", ipRule, Request{}, "ip:unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ClientIdentifier(tt.rule, tt.req))
		})
	}
}

func TestKey(t *testing.T) {
	require.Equal(t, "rate_limit:default:ip:1.2.3.4:/api/v1/items", Key("default", "ip:1.2.3.4", "/api/v1/items"))

	longPath := "/api/v1/" + strings.Repeat("a", 50)
	key := Key("default", "ip:1.2.3.4", longPath)
	require.True(t, strings.HasPrefix(key, "rate_limit:default:ip:1.2.3.4:path:"))
	require.Len(t, strings.TrimPrefix(key, "rate_limit:default:ip:1.2.3.4:path:"), 8)
	require.Equal(t, key, Key("default", "ip:1.2.3.4", longPath))
	require.NotEqual(t, key, Key("default", "ip:1.2.3.4", longPath+"b"))

	path50 := "/" + strings.Repeat("b", 49)
	require.Equal(t, "rate_limit:default:ip:1.2.3.4:"+path50, Key("default", "ip:1.2.3.4", path50))
}

func TestKey_PathDigestCollisionSharesQuota(t *testing.T) {
	origDigest := pathDigest
	pathDigest = func(string) string { return "deadbeef" }
	defer func() { pathDigest = origDigest }()

	path1 := "/static/files/" + strings.Repeat("x", 50)
	path2 := "/static/files/" + strings.Repeat("y", 50)
	require.Equal(t, "rate_limit:default:ip:1.2.3.4:path:deadbeef", Key("default", "ip:1.2.3.4", path1))
	require.Equal(t, Key("default", "ip:1.2.3.4", path1), Key("default", "ip:1.2.3.4", path2))

	store, err := kvstore.NewMemoryStore(kvstore.MemoryStoreOpts{})
	require.NoError(t, err)
	rs, err := NewRuleSet(testRules(), NewDefaultMatchingConfig())
	require.NoError(t, err)
	l, err := NewLimiter(rs, store, nil)
	require.NoError(t, err)

	for i, path := range []string{path1, path2, path1} {
		allowed, _ := l.CheckLimit(context.Background(), Request{Method: "GET", Path: path, RemoteAddr: "1.2.3.4"})
		require.True(t, allowed, "request #%d", i+1)
	}
	allowed, info := l.CheckLimit(context.Background(), Request{Method: "GET", Path: path2, RemoteAddr: "1.2.3.4"})
	require.False(t, allowed, "colliding paths must share one quota")
	require.Equal(t, RuleNameDefault, info.Rule)
}

func TestBlockKey(t *testing.T) {
	require.Equal(t, "rate_limit_block:auth:ip:1.2.3.4", BlockKey("auth", "ip:1.2.3.4"))
}
