/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"time"

	"github.com/acronis/go-ratekit/kvstore"
)

// Backends reported in Stats.
const (
	StatsBackendStore  = "store"
	StatsBackendMemory = "memory"
)

// Stats is a snapshot of the limiter configuration and the backend in use.
// Backend is "memory" when the in-process fallback serves the limiter and "store" otherwise.
// MemoryKeys counts live keys of the fallback, keys that have already expired are not included.
type Stats struct {
	Rules      map[string]RuleStats `json:"rules"`
	Backend    string               `json:"backend"`
	MemoryKeys *int                 `json:"memory_keys,omitempty"`
	Timestamp  time.Time            `json:"timestamp"`
}

// RuleStats describes a single rule.
type RuleStats struct {
	RequestsPerWindow    int       `json:"requests_per_window"`
	WindowSeconds        float64   `json:"window_seconds"`
	BurstSize            int       `json:"burst_size,omitempty"`
	Algorithm            Algorithm `json:"algorithm"`
	Paths                []string  `json:"paths"`
	Methods              []string  `json:"methods,omitempty"`
	UserBased            bool      `json:"user_based"`
	BlockDurationSeconds float64   `json:"block_duration_seconds,omitempty"`
}

type backendReporter interface {
	Backend() string
	MemoryKeyCount() int
}

// Stats returns the configured rules and the backend. Memory key count is reported only for the in-memory backend.
func (l *Limiter) Stats() Stats {
	stats := Stats{Rules: make(map[string]RuleStats), Timestamp: l.now().UTC()}
	for _, rule := range l.rules.Rules() {
		paths := rule.PathPrefixes
		if paths == nil {
			paths = []string{}
		}
		stats.Rules[rule.Name] = RuleStats{
			RequestsPerWindow:    rule.RequestsPerWindow,
			WindowSeconds:        rule.Window.Seconds(),
			BurstSize:            rule.BurstSize,
			Algorithm:            rule.Algorithm,
			Paths:                paths,
			Methods:              rule.Methods,
			UserBased:            rule.UserBased,
			BlockDurationSeconds: rule.BlockDuration.Seconds(),
		}
	}

	stats.Backend = StatsBackendStore
	switch s := l.store.(type) {
	case backendReporter:
		if s.Backend() == kvstore.BackendMemory {
			keys := s.MemoryKeyCount()
			stats.Backend, stats.MemoryKeys = StatsBackendMemory, &keys
		}
	case *kvstore.MemoryStore:
		keys := s.Len()
		stats.Backend, stats.MemoryKeys = StatsBackendMemory, &keys
	}
	return stats
}
