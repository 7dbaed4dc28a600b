// Package cache implements the content-addressed memoization layer in
// front of the weather, holiday, and geocode fetchers (spec.md §4.A):
// an in-process LRU tier backed by a durable SQLite tier, with per-key
// locking so concurrent misses on the same fingerprint collapse into a
// single upstream fetch.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/jengu/pricing-core/internal/metrics"
	"github.com/jengu/pricing-core/internal/storage/s3backup"
)

// Entry is one cache row (spec.md §3.4): a namespaced, content-addressed
// value with an optional expiry.
type Entry struct {
	Namespace string
	KeyHash   string
	Value     []byte
	ExpiresAt *time.Time
}

// Cache is the two-tier content-addressed store. Zero value is not
// usable; construct with New.
type Cache struct {
	lru    *lru.Cache[string, Entry]
	db     *sql.DB
	locks  *stripedLock
	mirror s3backup.Mirror // nil disables S3 export
	log    zerolog.Logger
	metric *metrics.Registry // nil disables instrumentation
}

// Config controls cache construction.
type Config struct {
	DB      *sql.DB
	LRUSize int // in-process entries, default 2048
	Mirror  s3backup.Mirror
	Metrics *metrics.Registry
}

func New(cfg Config, log zerolog.Logger) (*Cache, error) {
	size := cfg.LRUSize
	if size <= 0 {
		size = 2048
	}
	l, err := lru.New[string, Entry](size)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	return &Cache{
		lru:    l,
		db:     cfg.DB,
		locks:  newStripedLock(64),
		mirror: cfg.Mirror,
		log:    log.With().Str("component", "cache").Logger(),
		metric: cfg.Metrics,
	}, nil
}

// Fingerprint hashes a namespace-scoped lookup key into the deterministic
// key_hash used as the SQLite primary key, matching "deterministic hash
// of the tuple" in spec.md §4.A.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached value for (namespace, keyHash), or ok=false on
// a miss (absent or expired).
func (c *Cache) Get(ctx context.Context, namespace, keyHash string) ([]byte, bool, error) {
	composite := namespace + ":" + keyHash
	if e, ok := c.lru.Get(composite); ok {
		if !expired(e.ExpiresAt) {
			return e.Value, true, nil
		}
		c.lru.Remove(composite)
	}

	var value []byte
	var expiresAt sql.NullString
	err := c.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM cache_entries WHERE namespace = ? AND key_hash = ?`,
		namespace, keyHash).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache entry: %w", err)
	}

	exp := parseExpiry(expiresAt)
	if expired(exp) {
		return nil, false, nil
	}
	c.lru.Add(composite, Entry{Namespace: namespace, KeyHash: keyHash, Value: value, ExpiresAt: exp})
	return value, true, nil
}

// Put stores value under (namespace, keyHash). ttl of 0 means no expiry
// (used for historical-date weather, per spec.md §3.4); a negative ttl
// stores an entry that is already expired.
func (c *Cache) Put(ctx context.Context, namespace, keyHash string, value []byte, ttl time.Duration) error {
	var expiresAt any
	var expPtr *time.Time
	if ttl != 0 {
		t := time.Now().Add(ttl)
		expiresAt = t.Format(time.RFC3339)
		expPtr = &t
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO cache_entries (namespace, key_hash, value, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(namespace, key_hash) DO UPDATE SET value=excluded.value, expires_at=excluded.expires_at`,
		namespace, keyHash, value, expiresAt, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}

	composite := namespace + ":" + keyHash
	c.lru.Add(composite, Entry{Namespace: namespace, KeyHash: keyHash, Value: value, ExpiresAt: expPtr})

	if c.mirror != nil {
		if err := c.mirror.Put(ctx, namespace+"/"+keyHash, value); err != nil {
			c.log.Warn().Err(err).Str("namespace", namespace).Msg("s3 mirror put failed, continuing without it")
		}
	}
	return nil
}

// GetOrFetch returns the cached value for (namespace, keyHash), calling
// fetch on a miss. Concurrent GetOrFetch calls for the same key serialize
// on a per-key lock so at most one upstream fetch happens per fingerprint
// (spec.md §4.A, §5).
func (c *Cache) GetOrFetch(ctx context.Context, namespace, keyHash string, ttl time.Duration, fetch func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if v, ok, err := c.Get(ctx, namespace, keyHash); err != nil {
		return nil, err
	} else if ok {
		c.recordHit()
		return v, nil
	}

	unlock := c.locks.Lock(namespace + ":" + keyHash)
	defer unlock()

	// Re-check: another goroutine may have populated the entry while we
	// waited for the lock (the "at most one upstream fetch" guarantee).
	if v, ok, err := c.Get(ctx, namespace, keyHash); err != nil {
		return nil, err
	} else if ok {
		c.recordHit()
		return v, nil
	}

	c.recordMiss()
	value, err := fetch(ctx)
	if err != nil {
		if c.metric != nil {
			c.metric.CacheFetchErrors.WithLabelValues(namespace).Inc()
		}
		return nil, err
	}
	if err := c.Put(ctx, namespace, keyHash, value, ttl); err != nil {
		return nil, err
	}
	return value, nil
}

func (c *Cache) recordHit() {
	if c.metric != nil {
		c.metric.CacheHitsTotal.Inc()
	}
}

func (c *Cache) recordMiss() {
	if c.metric != nil {
		c.metric.CacheMissesTotal.Inc()
	}
}

// DeleteExpired purges expired rows from the durable tier; the LRU tier
// self-evicts lazily on access.
func (c *Cache) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at IS NOT NULL AND expires_at < ?`,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("delete expired cache entries: %w", err)
	}
	return res.RowsAffected()
}

func expired(exp *time.Time) bool {
	return exp != nil && time.Now().After(*exp)
}

func parseExpiry(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}
