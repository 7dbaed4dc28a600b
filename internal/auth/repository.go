package auth

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jengu/pricing-core/internal/apperr"
)

// Repository persists KeyRecords to the api_keys table.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new key record.
func (r *Repository) Create(k *KeyRecord) error {
	k.CreatedAt = time.Now().UTC()
	_, err := r.db.Exec(`
		INSERT INTO api_keys (key_id, key_hash, user_id, role, scopes, allowed_ips,
			quota_minute, quota_hour, quota_day, is_active, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		k.KeyID, k.KeyHash, k.UserID, string(k.Role), strings.Join(k.Scopes, ","), strings.Join(k.AllowedIPs, ","),
		k.Quotas.PerMinute, k.Quotas.PerHour, k.Quotas.PerDay, boolToInt(k.IsActive),
		formatTimePtr(k.ExpiresAt), k.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// ByHash looks up a key by its SHA-256 hash, the authenticator's hot path.
func (r *Repository) ByHash(keyHash string) (*KeyRecord, error) {
	row := r.db.QueryRow(`
		SELECT key_id, key_hash, user_id, role, scopes, allowed_ips,
			quota_minute, quota_hour, quota_day, is_active, expires_at, created_at
		FROM api_keys WHERE key_hash = ?`, keyHash)
	k, err := scanKeyRecord(row)
	if err == sql.ErrNoRows {
		return nil, apperr.Authentication("invalid_api_key")
	}
	if err != nil {
		return nil, fmt.Errorf("lookup api key: %w", err)
	}
	return k, nil
}

// RecordUsage persists one usage record (spec.md §4.H step 6). Called
// from the background drain goroutine, never on the request path.
func (r *Repository) RecordUsage(u UsageRecord) error {
	_, err := r.db.Exec(`
		INSERT INTO usage_records (key_id, endpoint, method, status, latency_ms, ip, error_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.KeyID, u.Endpoint, u.Method, u.Status, u.LatencyMs, u.IP, nullIfEmpty(u.ErrorType),
		u.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record api key usage: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanKeyRecord(s scanner) (*KeyRecord, error) {
	var k KeyRecord
	var role, scopes, allowedIPs string
	var isActive int
	var expiresAt, createdAt sql.NullString
	err := s.Scan(&k.KeyID, &k.KeyHash, &k.UserID, &role, &scopes, &allowedIPs,
		&k.Quotas.PerMinute, &k.Quotas.PerHour, &k.Quotas.PerDay, &isActive, &expiresAt, &createdAt)
	if err != nil {
		return nil, err
	}
	k.Role = Role(role)
	k.Scopes = splitNonEmpty(scopes)
	k.AllowedIPs = splitNonEmpty(allowedIPs)
	k.IsActive = isActive != 0
	if expiresAt.Valid && expiresAt.String != "" {
		if t, err := time.Parse(time.RFC3339, expiresAt.String); err == nil {
			k.ExpiresAt = &t
		}
	}
	if t, err := time.Parse(time.RFC3339, createdAt.String); err == nil {
		k.CreatedAt = t
	}
	return &k, nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
