package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// topKeys is the number of keys kept in a snapshot
	topKeys = 10

	// maxTrackedKeys bounds the per-key stats. Past it the keys with the
	// fewest decisions are dropped.
	maxTrackedKeys = 10000
)

// Metrics tracks limiter decisions in process and, when given a registerer,
// exports them as Prometheus counters.
// It satisfies windowfence.MetricsRecorder.
type Metrics struct {
	totalDecisions  atomic.Int64
	allowed         atomic.Int64
	denied          atomic.Int64
	backendFailures atomic.Int64

	decisions     *prometheus.CounterVec
	backendErrors *prometheus.CounterVec

	// Per-key stats
	mu        sync.RWMutex
	keyStats  map[string]*KeyStats
	maxKeys   int
	startTime time.Time
}

// KeyStats tracks statistics for a specific limiter key
type KeyStats struct {
	Key             string    `json:"key"`
	Kind            string    `json:"kind"`
	TotalDecisions  int64     `json:"total_decisions"`
	Allowed         int64     `json:"allowed"`
	Denied          int64     `json:"denied"`
	LastDecisionAt  time.Time `json:"last_decision_at"`
	FirstDecisionAt time.Time `json:"first_decision_at"`
}

// NewMetrics creates a new metrics tracker. A nil registerer keeps the
// metrics in process only.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		keyStats:  make(map[string]*KeyStats),
		maxKeys:   maxTrackedKeys,
		startTime: time.Now(),
	}
	if reg != nil {
		factory := promauto.With(reg)
		m.decisions = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "windowfence_decisions_total",
				Help: "Total number of limiter decisions",
			},
			[]string{"kind", "outcome"},
		)
		m.backendErrors = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "windowfence_backend_errors_total",
				Help: "Total number of limiter store failures",
			},
			[]string{"kind"},
		)
	}
	return m
}

// RecordDecision records one limiter decision
func (m *Metrics) RecordDecision(kind, key string, allowed bool) {
	m.totalDecisions.Add(1)

	outcome := "allowed"
	if allowed {
		m.allowed.Add(1)
	} else {
		m.denied.Add(1)
		outcome = "denied"
	}
	if m.decisions != nil {
		m.decisions.WithLabelValues(kind, outcome).Inc()
	}

	// Unknown callers have no key to track
	if key == "" {
		return
	}

	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	stats, exists := m.keyStats[key]
	if !exists {
		if len(m.keyStats) >= m.maxKeys {
			m.pruneLocked()
		}
		stats = &KeyStats{
			Key:             key,
			Kind:            kind,
			FirstDecisionAt: now,
		}
		m.keyStats[key] = stats
	}

	stats.TotalDecisions++
	if allowed {
		stats.Allowed++
	} else {
		stats.Denied++
	}
	stats.LastDecisionAt = now
}

// pruneLocked drops the least active tenth of the tracked keys.
// MUST be called with m.mu locked.
func (m *Metrics) pruneLocked() {
	stats := make([]*KeyStats, 0, len(m.keyStats))
	for _, s := range m.keyStats {
		stats = append(stats, s)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].TotalDecisions != stats[j].TotalDecisions {
			return stats[i].TotalDecisions < stats[j].TotalDecisions
		}
		return stats[i].LastDecisionAt.Before(stats[j].LastDecisionAt)
	})

	keep := m.maxKeys * 9 / 10
	for _, s := range stats[:len(stats)-keep] {
		delete(m.keyStats, s.Key)
	}
}

// RecordBackendError records one store failure
func (m *Metrics) RecordBackendError(kind string) {
	m.backendFailures.Add(1)
	if m.backendErrors != nil {
		m.backendErrors.WithLabelValues(kind).Inc()
	}
}

// GetSnapshot returns a snapshot of current metrics
func (m *Metrics) GetSnapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	top := make([]*KeyStats, 0, len(m.keyStats))
	for _, stats := range m.keyStats {
		s := *stats
		top = append(top, &s)
	}

	// Most decisions first, ties by key so snapshots are stable
	sort.Slice(top, func(i, j int) bool {
		if top[i].TotalDecisions != top[j].TotalDecisions {
			return top[i].TotalDecisions > top[j].TotalDecisions
		}
		return top[i].Key < top[j].Key
	})
	if len(top) > topKeys {
		top = top[:topKeys]
	}

	return &Snapshot{
		TotalDecisions:  m.totalDecisions.Load(),
		Allowed:         m.allowed.Load(),
		Denied:          m.denied.Load(),
		BackendFailures: m.backendFailures.Load(),
		UniqueKeys:      int64(len(m.keyStats)),
		TopKeys:         top,
		UptimeSeconds:   int64(time.Since(m.startTime).Seconds()),
		StartTime:       m.startTime,
	}
}

// Snapshot represents a point-in-time view of metrics
type Snapshot struct {
	TotalDecisions  int64       `json:"total_decisions"`
	Allowed         int64       `json:"allowed"`
	Denied          int64       `json:"denied"`
	BackendFailures int64       `json:"backend_failures"`
	UniqueKeys      int64       `json:"unique_keys"`
	TopKeys         []*KeyStats `json:"top_keys"`
	UptimeSeconds   int64       `json:"uptime_seconds"`
	StartTime       time.Time   `json:"start_time"`
}
