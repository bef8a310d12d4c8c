/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import "context"

// MinAdaptiveLimit is the lowest limit the adaptive algorithm may derive.
const MinAdaptiveLimit = 5

// LoadMetrics is a snapshot of the service load.
// SystemAvailable is false when CPU and memory usage couldn't be sampled, they are ignored then.
type LoadMetrics struct {
	ErrorRatePercent  float64
	AvgResponseTimeMs float64
	CPUPercent        float64
	MemoryPercent     float64
	SystemAvailable   bool
}

// LoadMetricsSource provides the current service load.
type LoadMetricsSource interface {
	CurrentLoad(ctx context.Context) (LoadMetrics, error)
}

// AdjustmentFactors are the load values the adaptive limit was derived from.
type AdjustmentFactors struct {
	ErrorRate       float64    `json:"error_rate"`
	AvgResponseTime float64    `json:"avg_response_time"`
	SystemLoad      SystemLoad `json:"system_load"`
}

// SystemLoad is CPU and memory usage in percent.
type SystemLoad struct {
	CPU    float64 `json:"cpu"`
	Memory float64 `json:"memory"`
}

// AdaptiveLimit reduces the base limit according to the load. Each step truncates to an integer
// and the result is never lower than MinAdaptiveLimit.
func AdaptiveLimit(base int, load LoadMetrics) int {
	limit := base

	switch {
	case load.ErrorRatePercent > 10:
		limit = scaleLimit(limit, 0.5)
	case load.ErrorRatePercent > 5:
		limit = scaleLimit(limit, 0.75)
	}

	switch {
	case load.AvgResponseTimeMs > 2000:
		limit = scaleLimit(limit, 0.6)
	case load.AvgResponseTimeMs > 1000:
		limit = scaleLimit(limit, 0.8)
	}

	if load.SystemAvailable {
		switch {
		case load.CPUPercent > 80 || load.MemoryPercent > 85:
			limit = scaleLimit(limit, 0.5)
		case load.CPUPercent > 60 || load.MemoryPercent > 70:
			limit = scaleLimit(limit, 0.75)
		}
	}

	return max(MinAdaptiveLimit, limit)
}

func scaleLimit(limit int, factor float64) int {
	return int(float64(limit) * factor)
}

func makeAdjustmentFactors(load LoadMetrics) *AdjustmentFactors {
	factors := &AdjustmentFactors{ErrorRate: load.ErrorRatePercent, AvgResponseTime: load.AvgResponseTimeMs}
	if load.SystemAvailable {
		factors.SystemLoad = SystemLoad{CPU: load.CPUPercent, Memory: load.MemoryPercent}
	}
	return factors
}
