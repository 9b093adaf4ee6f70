package cache

import (
	"sync/atomic"
	"time"
)

// Tier names the cache level that answered a read.
type Tier string

const (
	TierLocal Tier = "l1"
	TierRedis Tier = "l2"
)

// CacheMetrics counts list cache traffic for /metrics.
type CacheMetrics struct {
	localHits     atomic.Int64
	redisHits     atomic.Int64
	misses        atomic.Int64
	errors        atomic.Int64
	sets          atomic.Int64
	invalidations atomic.Int64
	started       time.Time
}

func NewCacheMetrics() *CacheMetrics {
	return &CacheMetrics{started: time.Now()}
}

func (m *CacheMetrics) RecordHit(tier Tier) {
	if tier == TierRedis {
		m.redisHits.Add(1)
		return
	}
	m.localHits.Add(1)
}

func (m *CacheMetrics) RecordMiss()         { m.misses.Add(1) }
func (m *CacheMetrics) RecordError()        { m.errors.Add(1) }
func (m *CacheMetrics) RecordSet()          { m.sets.Add(1) }
func (m *CacheMetrics) RecordInvalidation() { m.invalidations.Add(1) }

// HitRate is the percentage of reads served by either tier.
func (m *CacheMetrics) HitRate() float64 {
	hits := m.localHits.Load() + m.redisHits.Load()
	total := hits + m.misses.Load()
	if total == 0 {
		return 0.0
	}
	return float64(hits) / float64(total) * 100.0
}

// Snapshot is the shape served on /metrics.
func (m *CacheMetrics) Snapshot() map[string]interface{} {
	local, redis := m.localHits.Load(), m.redisHits.Load()
	return map[string]interface{}{
		"hits":           local + redis,
		"l1_hits":        local,
		"l2_hits":        redis,
		"misses":         m.misses.Load(),
		"errors":         m.errors.Load(),
		"sets":           m.sets.Load(),
		"invalidations":  m.invalidations.Load(),
		"hit_rate":       m.HitRate(),
		"uptime_seconds": int64(time.Since(m.started).Seconds()),
	}
}
