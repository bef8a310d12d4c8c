/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"crypto/md5" //nolint:gosec // used for key shortening only
	"encoding/hex"
	"net"
	"strings"
)

const (
	keyPrefix         = "rate_limit"
	blockKeyPrefix    = "rate_limit_block"
	maxKeyPathLength  = 50
	unknownClientAddr = "unknown"
)

// Request describes an inbound request for rate limiting.
// RemoteAddr is the peer address with or without a port, ForwardedFor is the raw X-Forwarded-For header value,
// UserID is empty for anonymous requests.
type Request struct {
	Method       string
	Path         string
	RemoteAddr   string
	ForwardedFor string
	UserID       string
	ServiceName  string
}

// ClientIdentifier returns "user:<id>" for user-based rules when the user is known, "ip:<addr>" otherwise.
// The first X-Forwarded-For hop is preferred over the peer address.
func ClientIdentifier(rule Rule, req Request) string {
	if rule.UserBased && req.UserID != "" {
		return "user:" + req.UserID
	}
	return "ip:" + clientIP(req)
}

func clientIP(req Request) string {
	if req.ForwardedFor != "" {
		first, _, _ := strings.Cut(req.ForwardedFor, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if req.RemoteAddr == "" {
		return unknownClientAddr
	}
	if host, _, err := net.SplitHostPort(req.RemoteAddr); err == nil {
		return host
	}
	return req.RemoteAddr
}

// pathDigest shortens long paths. Paths with equal digests share the quota.
var pathDigest = func(path string) string {
	sum := md5.Sum([]byte(path)) //nolint:gosec // used for key shortening only
	return hex.EncodeToString(sum[:])[:8]
}

// Key returns the store key of the quota state: "rate_limit:<rule>:<client>:<path>".
// Paths longer than 50 characters are replaced with "path:" and the first 8 hex chars of their md5.
func Key(ruleName, clientID, path string) string {
	if len(path) > maxKeyPathLength {
		path = "path:" + pathDigest(path)
	}
	return keyPrefix + ":" + ruleName + ":" + clientID + ":" + path
}

// BlockKey returns the store key of the block marker: "rate_limit_block:<rule>:<client>".
func BlockKey(ruleName, clientID string) string {
	return blockKeyPrefix + ":" + ruleName + ":" + clientID
}
