// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"math"
	"sync"
	"time"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count    int64
	Failures int64

	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64
	Failures    int64
	TotalTimeMs int64
	AvgTimeMs   float64
	MinTimeMs   int64
	MaxTimeMs   int64
}

// Snapshot represents full worker statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64
	Jobs          *OperationSnapshot
	Summaries     *OperationSnapshot
	Embeddings    *OperationSnapshot
	GraphExtract  *OperationSnapshot
	VectorSearch  *OperationSnapshot
	Queries       *OperationSnapshot
}

// Operation names for the collector.
const (
	OpJob          = "job"
	OpSummary      = "summary"
	OpEmbedding    = "embedding"
	OpGraphExtract = "graph_extract"
	OpVectorSearch = "vector_search"
	OpQuery        = "query"
)

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{
			MinTime: time.Duration(math.MaxInt64),
		}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records timing for a completed operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// RecordFailure counts a failed operation.
func (c *Collector) RecordFailure(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.getOrCreate(op).Failures++
}

// Observe times fn and records the result under op.
func (c *Collector) Observe(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	c.RecordTiming(op, time.Since(start))
	if err != nil {
		c.RecordFailure(op)
	}
	return err
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}

	minTime := m.MinTime
	if minTime == time.Duration(math.MaxInt64) {
		minTime = 0
	}

	return &OperationSnapshot{
		Count:       m.Count,
		Failures:    m.Failures,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   minTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Jobs:          snapshotOp(c.ops[OpJob]),
		Summaries:     snapshotOp(c.ops[OpSummary]),
		Embeddings:    snapshotOp(c.ops[OpEmbedding]),
		GraphExtract:  snapshotOp(c.ops[OpGraphExtract]),
		VectorSearch:  snapshotOp(c.ops[OpVectorSearch]),
		Queries:       snapshotOp(c.ops[OpQuery]),
	}
}
