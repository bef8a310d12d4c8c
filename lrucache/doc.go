/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package lrucache provides in-memory cache with LRU eviction policy, per-entry expiration, and Prometheus metrics.
// It backs the in-process fallback of the key-value store.
package lrucache
