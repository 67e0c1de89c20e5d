package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/lo"

	"github.com/storepilot/sync-orchestrator/internal/db"
)

// TagRule assigns Tag to customers whose metrics reach every set threshold.
type TagRule struct {
	ID            int64
	Tag           string
	MinOrders     *int
	MinTotalSpent *float64
}

// Matches reports whether m satisfies the rule. A rule without thresholds
// matches nobody.
func (r TagRule) Matches(m Metric) bool {
	if r.MinOrders == nil && r.MinTotalSpent == nil {
		return false
	}
	if r.MinOrders != nil && m.OrdersCount < *r.MinOrders {
		return false
	}
	if r.MinTotalSpent != nil && m.Total < *r.MinTotalSpent {
		return false
	}
	return true
}

// CustomerTag is one row of customer_tags.
type CustomerTag struct {
	CustomerGUID string
	Tag          string
	RuleID       int64
	AssignedAt   time.Time
}

// TagStore is the persistence port of the tag rule applier.
type TagStore interface {
	ListCustomers(ctx context.Context, after string, limit int) ([]string, error)
	ActiveRules(ctx context.Context) ([]TagRule, error)
	CustomerMetrics(ctx context.Context, guids []string) (map[string]Metric, error)
	// ReplaceTags deletes all tags of guids and stores tags, in one transaction.
	ReplaceTags(ctx context.Context, guids []string, tags []CustomerTag) error
}

// TagOutcome summarizes a tag rule run.
type TagOutcome struct {
	Customers int
	Tagged    int
	Chunks    int
}

// TagRuleApplier recomputes customer tags from tag rules and customer metrics.
type TagRuleApplier struct {
	store  TagStore
	now    func() time.Time
	logger *slog.Logger
}

// NewTagRuleApplier creates a TagRuleApplier. A nil logger uses slog.Default.
func NewTagRuleApplier(store TagStore, logger *slog.Logger) (*TagRuleApplier, error) {
	if store == nil {
		return nil, fmt.Errorf("tag store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TagRuleApplier{store: store, now: time.Now, logger: logger}, nil
}

// Apply recomputes the tags of the given customers.
func (a *TagRuleApplier) Apply(ctx context.Context, guids []string, chunk int) (*TagOutcome, error) {
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	unique := lo.Uniq(lo.Compact(guids))
	slices.Sort(unique)

	rules, err := a.store.ActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load tag rules: %w", err)
	}

	out := &TagOutcome{}
	for _, c := range lo.Chunk(unique, chunk) {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if err := a.applyChunk(ctx, rules, c, out); err != nil {
			return out, err
		}
	}
	return out, nil
}

// ApplyAll recomputes the tags of every customer with metrics or tags.
func (a *TagRuleApplier) ApplyAll(ctx context.Context, chunk int) (*TagOutcome, error) {
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	rules, err := a.store.ActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load tag rules: %w", err)
	}

	out := &TagOutcome{}
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		guids, err := a.store.ListCustomers(ctx, after, chunk)
		if err != nil {
			return out, fmt.Errorf("failed to list customers after %q: %w", after, err)
		}
		if len(guids) == 0 {
			break
		}
		if err := a.applyChunk(ctx, rules, guids, out); err != nil {
			return out, err
		}
		if len(guids) < chunk {
			break
		}
		after = guids[len(guids)-1]
	}

	a.logger.InfoContext(ctx, "Tag rules applied",
		"customers", out.Customers,
		"tagged", out.Tagged,
		"rules", len(rules))
	return out, nil
}

func (a *TagRuleApplier) applyChunk(ctx context.Context, rules []TagRule, guids []string, out *TagOutcome) error {
	metrics, err := a.store.CustomerMetrics(ctx, guids)
	if err != nil {
		return fmt.Errorf("failed to load customer metrics: %w", err)
	}

	tags := EvaluateTags(rules, guids, metrics, a.now().UTC())
	if err := a.store.ReplaceTags(ctx, guids, tags); err != nil {
		return fmt.Errorf("failed to store tags of %d customers: %w", len(guids), err)
	}
	out.Customers += len(guids)
	out.Tagged += len(tags)
	out.Chunks++
	return nil
}

// EvaluateTags returns the tags earned by guids. When two rules give the
// same tag, the rule listed first wins.
func EvaluateTags(rules []TagRule, guids []string, metrics map[string]Metric, now time.Time) []CustomerTag {
	var tags []CustomerTag
	for _, guid := range guids {
		m, ok := metrics[guid]
		if !ok {
			continue
		}
		seen := map[string]struct{}{}
		for _, rule := range rules {
			if _, dup := seen[rule.Tag]; dup || !rule.Matches(m) {
				continue
			}
			seen[rule.Tag] = struct{}{}
			tags = append(tags, CustomerTag{CustomerGUID: guid, Tag: rule.Tag, RuleID: rule.ID, AssignedAt: now})
		}
	}
	return tags
}

type dbTagStore struct {
	conn db.Conn
}

// NewDBTagStore creates a TagStore over tag_rules, customer_metrics and
// customer_tags.
func NewDBTagStore(conn db.Conn) (TagStore, error) {
	if conn == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &dbTagStore{conn: conn}, nil
}

func (s *dbTagStore) ListCustomers(ctx context.Context, after string, limit int) ([]string, error) {
	rows, err := s.conn.Query(ctx, `
SELECT guid FROM (
    SELECT customer_guid AS guid FROM customer_metrics
    UNION
    SELECT customer_guid FROM customer_tags
) k
WHERE guid > $1
ORDER BY guid
LIMIT $2`, after, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *dbTagStore) ActiveRules(ctx context.Context) ([]TagRule, error) {
	rows, err := s.conn.Query(ctx, `
SELECT id, tag, min_orders, min_total_spent FROM tag_rules WHERE active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (TagRule, error) {
		var r TagRule
		err := row.Scan(&r.ID, &r.Tag, &r.MinOrders, &r.MinTotalSpent)
		return r, err
	})
}

func (s *dbTagStore) CustomerMetrics(ctx context.Context, guids []string) (map[string]Metric, error) {
	rows, err := s.conn.Query(ctx, `
SELECT customer_guid, orders_count, total_spent, average_order_value,
       first_order_at, last_order_at, recalculated_at
FROM customer_metrics
WHERE customer_guid = ANY($1)`, guids)
	if err != nil {
		return nil, err
	}
	metrics, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Metric, error) {
		var m Metric
		err := row.Scan(&m.Key, &m.OrdersCount, &m.Total, &m.Average, &m.FirstAt, &m.LastAt, &m.RecalculatedAt)
		return m, err
	})
	if err != nil {
		return nil, err
	}
	return lo.KeyBy(metrics, func(m Metric) string { return m.Key }), nil
}

func (s *dbTagStore) ReplaceTags(ctx context.Context, guids []string, tags []CustomerTag) error {
	return db.WithTx(ctx, s.conn, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM customer_tags WHERE customer_guid = ANY($1)`, guids); err != nil {
			return fmt.Errorf("failed to delete customer tags: %w", err)
		}
		if len(tags) == 0 {
			return nil
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"customer_tags"},
			[]string{"customer_guid", "tag", "rule_id", "assigned_at"},
			pgx.CopyFromSlice(len(tags), func(i int) ([]any, error) {
				t := tags[i]
				return []any{t.CustomerGUID, t.Tag, t.RuleID, t.AssignedAt}, nil
			}))
		if err != nil {
			return fmt.Errorf("failed to insert customer tags: %w", err)
		}
		return nil
	})
}

// MemoryTagStore is a TagStore kept in memory.
type MemoryTagStore struct {
	mu      sync.Mutex
	rules   []TagRule
	metrics map[string]Metric
	tags    map[string][]CustomerTag
}

// NewMemoryTagStore creates a MemoryTagStore with the given rules.
func NewMemoryTagStore(rules ...TagRule) *MemoryTagStore {
	return &MemoryTagStore{rules: rules, metrics: map[string]Metric{}, tags: map[string][]CustomerTag{}}
}

// PutMetric stores the metric of a customer.
func (m *MemoryTagStore) PutMetric(metric Metric) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics[metric.Key] = metric
}

// Tags returns the tag names of a customer in assignment order.
func (m *MemoryTagStore) Tags(guid string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lo.Map(m.tags[guid], func(t CustomerTag, _ int) string { return t.Tag })
}

func (m *MemoryTagStore) ListCustomers(_ context.Context, after string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := lo.MapValues(m.metrics, func(Metric, string) struct{} { return struct{}{} })
	for guid := range m.tags {
		set[guid] = struct{}{}
	}
	return pageKeys(set, after, limit), nil
}

func (m *MemoryTagStore) ActiveRules(context.Context) ([]TagRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.rules), nil
}

func (m *MemoryTagStore) CustomerMetrics(_ context.Context, guids []string) (map[string]Metric, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]Metric{}
	for _, guid := range guids {
		if metric, ok := m.metrics[guid]; ok {
			out[guid] = metric
		}
	}
	return out, nil
}

func (m *MemoryTagStore) ReplaceTags(_ context.Context, guids []string, tags []CustomerTag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, guid := range guids {
		delete(m.tags, guid)
	}
	for _, t := range tags {
		m.tags[t.CustomerGUID] = append(m.tags[t.CustomerGUID], t)
	}
	return nil
}
