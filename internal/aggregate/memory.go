package aggregate

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a Store over in-memory facts. Dry runs and tests use it.
type MemoryStore struct {
	mu      sync.Mutex
	facts   map[string][]Fact
	metrics map[string]Metric
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{facts: map[string][]Fact{}, metrics: map[string]Metric{}}
}

// AddFact records a source row for key.
func (m *MemoryStore) AddFact(key string, f Fact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facts[key] = append(m.facts[key], f)
}

// RemoveFacts drops every source row of key.
func (m *MemoryStore) RemoveFacts(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.facts, key)
}

// PutMetric stores a metric row as if an earlier run had written it.
func (m *MemoryStore) PutMetric(metric Metric) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics[metric.Key] = metric
}

// Metric returns the stored metric of key.
func (m *MemoryStore) Metric(key string) (Metric, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	metric, ok := m.metrics[key]
	return metric, ok
}

// ListKeys implements Store.
func (m *MemoryStore) ListKeys(_ context.Context, after string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := map[string]struct{}{}
	for k := range m.facts {
		set[k] = struct{}{}
	}
	for k := range m.metrics {
		set[k] = struct{}{}
	}
	return pageKeys(set, after, limit), nil
}

// pageKeys returns up to limit keys of set greater than after, sorted.
func pageKeys[V any](set map[string]V, after string, limit int) []string {
	keys := slices.Sorted(maps.Keys(set))
	start := sort.SearchStrings(keys, after)
	if start < len(keys) && keys[start] == after {
		start++
	}
	keys = keys[start:]
	if len(keys) > limit {
		keys = keys[:limit]
	}
	return keys
}

// RecalculateKeys implements Store.
func (m *MemoryStore) RecalculateKeys(ctx context.Context, keys []string, now time.Time) (ChunkStats, error) {
	if err := ctx.Err(); err != nil {
		return ChunkStats{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var stats ChunkStats
	for _, key := range keys {
		metric, ok := Aggregate(key, m.facts[key], now)
		if ok {
			m.metrics[key] = metric
			stats.Upserted++
			continue
		}
		if _, exists := m.metrics[key]; exists {
			delete(m.metrics, key)
			stats.Deleted++
		}
	}
	return stats, nil
}
