// Package monitoring exposes request metrics and health endpoints.
package monitoring

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

type Metrics struct {
	mu            sync.RWMutex
	requestCount  int64
	activeCount   int64
	errorCount    int64
	totalDuration time.Duration
	statusCodes   map[string]int64
	endpoints     map[string]int64
	startTime     time.Time
	lastRequest   time.Time
}

// MetricsSnapshot is a copy of Metrics safe to serialize.
type MetricsSnapshot struct {
	RequestCount    int64            `json:"request_count"`
	RequestDuration float64          `json:"avg_request_duration_ms"`
	ActiveRequests  int64            `json:"active_requests"`
	ErrorCount      int64            `json:"error_count"`
	StatusCodes     map[string]int64 `json:"status_codes"`
	Endpoints       map[string]int64 `json:"endpoint_calls"`
	StartTime       time.Time        `json:"start_time"`
	LastRequest     time.Time        `json:"last_request"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		statusCodes: make(map[string]int64),
		endpoints:   make(map[string]int64),
		startTime:   time.Now(),
	}
}

func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		m.mu.Lock()
		m.activeCount++
		m.mu.Unlock()

		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		m.requestCount++
		m.activeCount--
		m.totalDuration += duration
		m.lastRequest = time.Now()
		if statusCode >= 400 {
			m.errorCount++
		}
		m.statusCodes[strconv.Itoa(statusCode)]++
		m.endpoints[c.Request.Method+" "+route]++
	}
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := MetricsSnapshot{
		RequestCount:   m.requestCount,
		ActiveRequests: m.activeCount,
		ErrorCount:     m.errorCount,
		StatusCodes:    make(map[string]int64, len(m.statusCodes)),
		Endpoints:      make(map[string]int64, len(m.endpoints)),
		StartTime:      m.startTime,
		LastRequest:    m.lastRequest,
	}
	if m.requestCount > 0 {
		avg := m.totalDuration / time.Duration(m.requestCount)
		snapshot.RequestDuration = float64(avg) / float64(time.Millisecond)
	}
	for k, v := range m.statusCodes {
		snapshot.StatusCodes[k] = v
	}
	for k, v := range m.endpoints {
		snapshot.Endpoints[k] = v
	}
	return snapshot
}

func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}

type SystemMetrics struct {
	Uptime         string      `json:"uptime"`
	MemoryUsage    MemoryStats `json:"memory"`
	GoroutineCount int         `json:"goroutine_count"`
	CPUCount       int         `json:"cpu_count"`
	GoVersion      string      `json:"go_version"`
}

type MemoryStats struct {
	Alloc        uint64 `json:"alloc_mb"`
	TotalAlloc   uint64 `json:"total_alloc_mb"`
	Sys          uint64 `json:"sys_mb"`
	NumGC        uint32 `json:"num_gc"`
	GCPauseTotal string `json:"gc_pause_total"`
}

func (m *Metrics) System() SystemMetrics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return SystemMetrics{
		Uptime: m.Uptime().Round(time.Second).String(),
		MemoryUsage: MemoryStats{
			Alloc:        bToMb(ms.Alloc),
			TotalAlloc:   bToMb(ms.TotalAlloc),
			Sys:          bToMb(ms.Sys),
			NumGC:        ms.NumGC,
			GCPauseTotal: time.Duration(ms.PauseTotalNs).String(),
		},
		GoroutineCount: runtime.NumGoroutine(),
		CPUCount:       runtime.NumCPU(),
		GoVersion:      runtime.Version(),
	}
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}

// StatsSource contributes a named section to the metrics report, such as
// cache or websocket statistics.
type StatsSource func() map[string]interface{}

type HealthCheckFunc func(ctx context.Context) error

type HealthCheck struct {
	Name     string    `json:"name"`
	Status   string    `json:"status"`
	Message  string    `json:"message,omitempty"`
	Duration string    `json:"duration"`
	LastRun  time.Time `json:"last_run"`
}

type HealthChecker struct {
	mu      sync.RWMutex
	checks  map[string]HealthCheckFunc
	timeout time.Duration
}

func NewHealthChecker(timeout time.Duration) *HealthChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthChecker{checks: make(map[string]HealthCheckFunc), timeout: timeout}
}

func (h *HealthChecker) Register(name string, check HealthCheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Run executes every registered check concurrently.
func (h *HealthChecker) Run(ctx context.Context) (map[string]HealthCheck, bool) {
	h.mu.RLock()
	checks := make(map[string]HealthCheckFunc, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	h.mu.RUnlock()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]HealthCheck, len(checks))
		healthy = true
	)
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check HealthCheckFunc) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()

			start := time.Now()
			err := check(checkCtx)
			result := HealthCheck{
				Name:     name,
				Status:   "healthy",
				Duration: time.Since(start).String(),
				LastRun:  start,
			}
			if err != nil {
				result.Status = "unhealthy"
				result.Message = err.Error()
			}

			mu.Lock()
			results[name] = result
			if err != nil {
				healthy = false
			}
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()
	return results, healthy
}

// Monitor bundles request metrics, stats sources and health checks behind
// the monitoring endpoints.
type Monitor struct {
	Metrics *Metrics
	Health  *HealthChecker

	mu      sync.RWMutex
	sources map[string]StatsSource
}

func NewMonitor() *Monitor {
	return &Monitor{
		Metrics: NewMetrics(),
		Health:  NewHealthChecker(5 * time.Second),
		sources: make(map[string]StatsSource),
	}
}

func (m *Monitor) RegisterStats(name string, source StatsSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[name] = source
}

func (m *Monitor) RegisterHealthCheck(name string, check HealthCheckFunc) {
	m.Health.Register(name, check)
}

func (m *Monitor) collectStats() map[string]interface{} {
	m.mu.RLock()
	names := make([]string, 0, len(m.sources))
	for name := range m.sources {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)

	stats := make(map[string]interface{}, len(names))
	for _, name := range names {
		m.mu.RLock()
		source := m.sources[name]
		m.mu.RUnlock()
		stats[name] = source()
	}
	return stats
}

func (m *Monitor) MetricsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response := gin.H{
			"application": m.Metrics.Snapshot(),
			"system":      m.Metrics.System(),
			"timestamp":   time.Now(),
		}
		for name, stats := range m.collectStats() {
			response[name] = stats
		}
		c.JSON(http.StatusOK, response)
	}
}

func (m *Monitor) HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		checks, healthy := m.Health.Run(c.Request.Context())

		overallStatus := "healthy"
		status := http.StatusOK
		if !healthy {
			overallStatus = "unhealthy"
			status = http.StatusServiceUnavailable
		}

		c.JSON(status, gin.H{
			"status":    overallStatus,
			"timestamp": time.Now(),
			"checks":    checks,
			"uptime":    m.Metrics.Uptime().Round(time.Second).String(),
		})
	}
}

func (m *Monitor) ReadinessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, healthy := m.Health.Run(c.Request.Context()); !healthy {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "not ready",
				"timestamp": time.Now(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    "ready",
			"timestamp": time.Now(),
		})
	}
}

func (m *Monitor) LivenessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "alive",
			"timestamp": time.Now(),
			"uptime":    m.Metrics.Uptime().Round(time.Second).String(),
		})
	}
}

// RegisterRoutes mounts /metrics, /health, /ready and /live.
func (m *Monitor) RegisterRoutes(r gin.IRoutes) {
	r.GET("/metrics", m.MetricsHandler())
	r.GET("/health", m.HealthHandler())
	r.GET("/ready", m.ReadinessHandler())
	r.GET("/live", m.LivenessHandler())
}
