/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package ratelimit decides whether an inbound request may proceed.
//
// Every request is mapped to a named Rule by an ordered chain of matchers (see NewRuleSet).
// The rule defines the quota and the algorithm: sliding window, token bucket, fixed window,
// adaptive (sliding window over a limit reduced by the current service load) or leaky bucket (GCRA).
// Quota state is kept in kvstore.Store, so all processes that share the store share the quotas.
// Store failures never reject requests: the check is logged and the request is allowed.
package ratelimit
