// Package lock provides named, TTL-bounded mutual exclusion for scheduled jobs.
//
// A lock is acquired with one atomic conditional write against a shared
// Store. Contention is not an error: the caller skips its run and the next
// trigger tries again. Holders that crash are released by the TTL.
package lock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// ErrNotAcquired is returned by WithLock when another holder owns the lock.
var ErrNotAcquired = errors.New("lock not acquired")

// Store is the shared lock storage.
type Store interface {
	// TryAcquire stores (key, owner) with an expiry of now+ttl unless an
	// unexpired lock for key exists. It reports whether owner now holds key.
	TryAcquire(ctx context.Context, key, owner string, now time.Time, ttl time.Duration) (bool, error)

	// Release removes key if it is held by owner. Releasing a lock that is
	// not held is not an error.
	Release(ctx context.Context, key, owner string) error
}

// Purger is implemented by stores that keep expired locks around until they
// are deleted.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Manager acquires and releases locks on behalf of this process.
type Manager struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger

	// tokens holds the outstanding Acquire calls per key, oldest first.
	mu     sync.Mutex
	tokens map[string][]string
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger sets the logger used for lock events.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a Manager over store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		now:    time.Now,
		logger: slog.Default(),
		tokens: map[string][]string{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Lease is one successful acquisition of a key. Releasing a lease only
// removes the lock while it still belongs to that acquisition.
type Lease struct {
	manager *Manager
	key     string
	token   string
}

// Key returns the leased lock key.
func (l *Lease) Key() string {
	return l.key
}

// Release gives up the lease. It is a no-op once the lock expired and was
// taken by someone else.
func (l *Lease) Release(ctx context.Context) error {
	return l.manager.release(ctx, l.key, l.token)
}

// TryLock tries to take key for ttl. It returns a nil lease without error
// when the lock is held by someone else.
func (m *Manager) TryLock(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if key == "" {
		return nil, fmt.Errorf("lock key is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("lock ttl must be positive, got %s", ttl)
	}

	token := uuid.NewString()
	ok, err := m.store.TryAcquire(ctx, key, token, m.now(), ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		m.logger.DebugContext(ctx, "Lock is held elsewhere", "lock_key", key)
		return nil, nil
	}
	m.logger.DebugContext(ctx, "Lock acquired", "lock_key", key, "ttl", ttl)
	return &Lease{manager: m, key: key, token: token}, nil
}

// Acquire tries to take key for ttl. It returns false without error when the
// lock is held by someone else.
func (m *Manager) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	lease, err := m.TryLock(ctx, key, ttl)
	if err != nil || lease == nil {
		return false, err
	}

	m.mu.Lock()
	m.tokens[key] = append(m.tokens[key], lease.token)
	m.mu.Unlock()
	return true, nil
}

// Release gives up the oldest outstanding Acquire of key by this manager. An
// acquisition that expired and was taken over is released as a no-op, so a
// late release never drops a newer holder. Releasing a key that is not held
// is a no-op.
func (m *Manager) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	pending := m.tokens[key]
	if len(pending) == 0 {
		m.mu.Unlock()
		return nil
	}
	token := pending[0]
	if len(pending) == 1 {
		delete(m.tokens, key)
	} else {
		m.tokens[key] = pending[1:]
	}
	m.mu.Unlock()

	return m.release(ctx, key, token)
}

func (m *Manager) release(ctx context.Context, key, token string) error {
	if err := m.store.Release(ctx, key, token); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	m.logger.DebugContext(ctx, "Lock released", "lock_key", key)
	return nil
}

// WithLock runs fn while holding key. It returns ErrNotAcquired without
// calling fn when the lock is held elsewhere. The lock is always released,
// including when fn panics, and only if this run still owns it.
func (m *Manager) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	lease, err := m.TryLock(ctx, key, ttl)
	if err != nil {
		return err
	}
	if lease == nil {
		return ErrNotAcquired
	}
	defer func() {
		// The run context may already be cancelled; release on a fresh one.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil {
			m.logger.ErrorContext(ctx, "Failed to release lock", "lock_key", key, "error", err)
		}
	}()

	return fn(ctx)
}

// PurgeExpired deletes expired locks from stores that keep them and returns
// how many were removed. Stores that expire keys on their own report zero.
func (m *Manager) PurgeExpired(ctx context.Context) (int64, error) {
	purger, ok := m.store.(Purger)
	if !ok {
		return 0, nil
	}
	n, err := purger.PurgeExpired(ctx, m.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.DebugContext(ctx, "Expired locks purged", "count", n)
	}
	return n, nil
}

// ClassKey is the default lock key of a job type.
func ClassKey(jobType string) string {
	return "job:" + jobType
}

// ShopKey is the lock key of a job type run for one shop, so different shops
// sync concurrently while runs for the same shop are serialized.
func ShopKey(jobType string, shopID int64) string {
	return ClassKey(jobType) + ":shop:" + strconv.FormatInt(shopID, 10)
}

// BatchKey derives a lock key from a job type and the set of ids it touches.
// The key does not depend on the order of ids or on duplicates, so two
// batches over the same ids collide and disjoint batches do not.
func BatchKey(jobType string, ids []string) string {
	unique := lo.Uniq(ids)
	slices.Sort(unique)

	sum := sha256.Sum256([]byte(strings.Join(unique, "\x00")))
	return ClassKey(jobType) + ":" + hex.EncodeToString(sum[:])
}
