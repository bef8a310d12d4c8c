/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package monitoring

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/procfs"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"github.com/acronis/go-ratekit/log"
	"github.com/acronis/go-ratekit/ratelimit"
)

// RequestSample describes a served HTTP request.
type RequestSample struct {
	Method     string
	Path       string
	StatusCode int
	Duration   time.Duration
}

// IsError reports whether the response is counted as an error (4xx and 5xx).
func (s RequestSample) IsError() bool {
	return s.StatusCode >= 400
}

// CollectorOpts represents options for the Collector.
type CollectorOpts struct {
	// HistorySize is the number of the latest responses used to calculate error rate and response time.
	HistorySize int

	// SystemSampleInterval is the minimal interval between two samples of CPU and memory usage.
	SystemSampleInterval time.Duration

	// ProcPath is the mount point of procfs.
	ProcPath string

	// Now returns the current time. time.Now is used if nil.
	Now func() time.Time
}

// Collector keeps the recent request history and samples system load.
// It implements ratelimit.LoadMetricsSource.
type Collector struct {
	logger    log.FieldLogger
	now       func() time.Time
	startedAt time.Time

	totalRequests  atomic.Int64
	totalErrors    atomic.Int64
	activeRequests atomic.Int64

	mu          sync.Mutex
	history     []RequestSample
	historyNext int
	historyFull bool
	errorCounts map[int]int64

	procFS          procfs.FS
	procFSErr       error
	sampleSometimes rate.Sometimes
	systemMu        sync.Mutex
	system          SystemLoad
	prevCPU         *procfs.CPUStat
	warnSometimes   rate.Sometimes
}

var _ ratelimit.LoadMetricsSource = (*Collector)(nil)

// NewCollector creates a new Collector.
func NewCollector(logger log.FieldLogger) *Collector {
	return NewCollectorWithOpts(logger, CollectorOpts{})
}

// NewCollectorWithOpts creates a new Collector with the provided options.
func NewCollectorWithOpts(logger log.FieldLogger, opts CollectorOpts) *Collector {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.SystemSampleInterval <= 0 {
		opts.SystemSampleInterval = DefaultSystemSampleInterval
	}
	if opts.ProcPath == "" {
		opts.ProcPath = procfs.DefaultMountPoint
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	c := &Collector{
		logger:          logger,
		now:             opts.Now,
		startedAt:       opts.Now(),
		history:         make([]RequestSample, opts.HistorySize),
		errorCounts:     make(map[int]int64),
		sampleSometimes: rate.Sometimes{Interval: opts.SystemSampleInterval},
		warnSometimes:   rate.Sometimes{First: 1},
	}
	c.procFS, c.procFSErr = procfs.NewFS(opts.ProcPath)
	return c
}

// RecordRequest adds the served request to the history.
func (c *Collector) RecordRequest(sample RequestSample) {
	c.totalRequests.Inc()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history[c.historyNext] = sample
	c.historyNext = (c.historyNext + 1) % len(c.history)
	if c.historyNext == 0 {
		c.historyFull = true
	}
	if sample.IsError() {
		c.totalErrors.Inc()
		c.errorCounts[sample.StatusCode]++
	}
}

// IncActiveRequests increments the number of requests being served.
func (c *Collector) IncActiveRequests() {
	c.activeRequests.Inc()
}

// DecActiveRequests decrements the number of requests being served.
func (c *Collector) DecActiveRequests() {
	c.activeRequests.Dec()
}

// CurrentLoad returns the error rate and the average response time over the request history
// and the last sample of CPU and memory usage.
func (c *Collector) CurrentLoad(_ context.Context) (ratelimit.LoadMetrics, error) {
	perf := c.performance()
	system := c.systemLoad()
	return ratelimit.LoadMetrics{
		ErrorRatePercent:  perf.errorRatePercent,
		AvgResponseTimeMs: perf.avgMs,
		CPUPercent:        system.CPUPercent,
		MemoryPercent:     system.MemoryPercent,
		SystemAvailable:   system.Available,
	}, nil
}

type performanceStats struct {
	samples          int
	errorRatePercent float64
	avgMs            float64
	minMs            float64
	maxMs            float64
	p95Ms            float64
	p99Ms            float64
}

func (c *Collector) performance() performanceStats {
	c.mu.Lock()
	n := c.historyNext
	if c.historyFull {
		n = len(c.history)
	}
	durations := make([]float64, 0, n)
	var errorsNum int
	for i := 0; i < n; i++ {
		durations = append(durations, float64(c.history[i].Duration)/float64(time.Millisecond))
		if c.history[i].IsError() {
			errorsNum++
		}
	}
	c.mu.Unlock()

	if len(durations) == 0 {
		return performanceStats{}
	}
	slices.Sort(durations)
	var sum float64
	for _, d := range durations {
		sum += d
	}
	return performanceStats{
		samples:          len(durations),
		errorRatePercent: float64(errorsNum) / float64(len(durations)) * 100,
		avgMs:            sum / float64(len(durations)),
		minMs:            durations[0],
		maxMs:            durations[len(durations)-1],
		p95Ms:            percentile(durations, 95),
		p99Ms:            percentile(durations, 99),
	}
}

// percentile uses the nearest-rank method on sorted values.
func percentile(sorted []float64, p int) float64 {
	idx := (p*len(sorted)+99)/100 - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}

func (c *Collector) systemLoad() SystemLoad {
	c.sampleSometimes.Do(c.sampleSystem)
	c.systemMu.Lock()
	defer c.systemMu.Unlock()
	return c.system
}

func (c *Collector) sampleSystem() {
	system, err := c.readSystemLoad()
	if err != nil {
		c.warnSometimes.Do(func() {
			c.logger.Warn("system load is not available, only request metrics will be used", log.Error(err))
		})
	}
	c.systemMu.Lock()
	c.system = system
	c.systemMu.Unlock()
}

func (c *Collector) readSystemLoad() (SystemLoad, error) {
	if c.procFSErr != nil {
		return SystemLoad{}, fmt.Errorf("open procfs: %w", c.procFSErr)
	}

	stat, err := c.procFS.Stat()
	if err != nil {
		return SystemLoad{}, fmt.Errorf("read cpu stat: %w", err)
	}
	meminfo, err := c.procFS.Meminfo()
	if err != nil {
		return SystemLoad{}, fmt.Errorf("read meminfo: %w", err)
	}
	if meminfo.MemTotal == nil || meminfo.MemAvailable == nil || *meminfo.MemTotal == 0 {
		return SystemLoad{}, fmt.Errorf("meminfo has no total or available memory")
	}

	load := SystemLoad{
		Available:     true,
		CPUPercent:    c.cpuPercent(stat.CPUTotal),
		MemoryPercent: float64(*meminfo.MemTotal-*meminfo.MemAvailable) / float64(*meminfo.MemTotal) * 100,
	}
	if proc, procErr := c.procFS.Proc(os.Getpid()); procErr == nil {
		if procStat, statErr := proc.Stat(); statErr == nil {
			load.ProcessMemoryBytes = int64(procStat.ResidentMemory())
		}
	}
	return load, nil
}

// cpuPercent returns CPU usage since the previous sample or since boot for the first one.
func (c *Collector) cpuPercent(cur procfs.CPUStat) float64 {
	busy, total := cpuBusyTotal(cur)
	if c.prevCPU != nil {
		prevBusy, prevTotal := cpuBusyTotal(*c.prevCPU)
		busy, total = busy-prevBusy, total-prevTotal
	}
	c.prevCPU = &cur
	if total <= 0 {
		return 0
	}
	return busy / total * 100
}

func cpuBusyTotal(s procfs.CPUStat) (busy, total float64) {
	total = s.User + s.Nice + s.System + s.Idle + s.Iowait + s.IRQ + s.SoftIRQ + s.Steal
	return total - s.Idle - s.Iowait, total
}

// SystemLoad is a sample of CPU and memory usage.
type SystemLoad struct {
	Available          bool    `json:"available"`
	CPUPercent         float64 `json:"cpu_usage_percent"`
	MemoryPercent      float64 `json:"memory_usage_percent"`
	ProcessMemoryBytes int64   `json:"process_memory_bytes"`
}

// Snapshot is a summary of the collected metrics.
type Snapshot struct {
	Timestamp     time.Time         `json:"timestamp"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Requests      RequestsSnapshot  `json:"requests"`
	Performance   PerformanceReport `json:"performance"`
	Errors        map[int]int64     `json:"errors"`
	System        SystemLoad        `json:"system"`
}

// RequestsSnapshot contains request counters. ErrorRatePercent is calculated over the request history.
type RequestsSnapshot struct {
	Total            int64   `json:"total"`
	TotalErrors      int64   `json:"total_errors"`
	Active           int64   `json:"active"`
	ErrorRatePercent float64 `json:"error_rate_percent"`
}

// PerformanceReport contains response time statistics in milliseconds.
type PerformanceReport struct {
	Samples           int     `json:"samples"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	MinResponseTimeMs float64 `json:"min_response_time_ms"`
	MaxResponseTimeMs float64 `json:"max_response_time_ms"`
	P95ResponseTimeMs float64 `json:"p95_response_time_ms"`
	P99ResponseTimeMs float64 `json:"p99_response_time_ms"`
}

// Snapshot returns the summary of the collected metrics.
func (c *Collector) Snapshot() Snapshot {
	perf := c.performance()
	now := c.now()

	c.mu.Lock()
	errorCounts := make(map[int]int64, len(c.errorCounts))
	for code, cnt := range c.errorCounts {
		errorCounts[code] = cnt
	}
	c.mu.Unlock()

	return Snapshot{
		Timestamp:     now.UTC(),
		UptimeSeconds: int64(now.Sub(c.startedAt) / time.Second),
		Requests: RequestsSnapshot{
			Total:            c.totalRequests.Load(),
			TotalErrors:      c.totalErrors.Load(),
			Active:           c.activeRequests.Load(),
			ErrorRatePercent: perf.errorRatePercent,
		},
		Performance: PerformanceReport{
			Samples:           perf.samples,
			AvgResponseTimeMs: perf.avgMs,
			MinResponseTimeMs: perf.minMs,
			MaxResponseTimeMs: perf.maxMs,
			P95ResponseTimeMs: perf.p95Ms,
			P99ResponseTimeMs: perf.p99Ms,
		},
		Errors: errorCounts,
		System: c.systemLoad(),
	}
}
