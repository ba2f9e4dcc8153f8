// Package sqlite is a persistent Provider backed by gorm and the pure-Go
// glebarez/sqlite driver. It plays the role of a browser's local storage:
// every process opening the same database file shares one keyspace.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	pr "github.com/unkn0wn-root/fetchcache/provider"
)

var ErrNilDB = errors.New("sqlite provider: nil db")

// KV is the storage row. ExpiresAt is unix millis; 0 means no expiry.
type KV struct {
	Key       string `gorm:"primaryKey;column:key"`
	Value     []byte `gorm:"column:value"`
	ExpiresAt int64  `gorm:"column:expires_at;index"`
	UpdatedAt int64  `gorm:"column:updated_at"`
}

func (KV) TableName() string { return "fetchcache_kv" }

type Provider struct {
	db      *gorm.DB
	ownsDB  bool
	nowFunc func() time.Time
}

var _ pr.Provider = (*Provider)(nil)

// Open opens (or creates) a database at dsn and migrates the kv table.
// Use "file::memory:?cache=shared" for an in-memory store.
func Open(dsn string) (*Provider, error) {
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	p, err := New(db)
	if err != nil {
		return nil, err
	}
	p.ownsDB = true
	return p, nil
}

// New wraps an existing gorm handle and migrates the kv table.
func New(db *gorm.DB) (*Provider, error) {
	if db == nil {
		return nil, ErrNilDB
	}
	if err := db.AutoMigrate(&KV{}); err != nil {
		return nil, fmt.Errorf("migrate kv table: %w", err)
	}
	return &Provider{db: db, nowFunc: time.Now}, nil
}

func (p *Provider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var row KV
	err := p.db.WithContext(ctx).Where("key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query kv by key: %w", err)
	}
	if row.ExpiresAt > 0 && p.nowFunc().UnixMilli() > row.ExpiresAt {
		_ = p.Del(ctx, key)
		return nil, false, nil
	}
	return row.Value, true, nil
}

func (p *Provider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := p.nowFunc()
	row := KV{
		Key:       key,
		Value:     value,
		UpdatedAt: now.UnixMilli(),
	}
	if ttl > 0 {
		row.ExpiresAt = now.Add(ttl).UnixMilli()
	}
	err := p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"value":      row.Value,
			"expires_at": row.ExpiresAt,
			"updated_at": row.UpdatedAt,
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert kv key: %w", err)
	}
	return nil
}

func (p *Provider) Del(ctx context.Context, key string) error {
	if err := p.db.WithContext(ctx).Where("key = ?", key).Delete(&KV{}).Error; err != nil {
		return fmt.Errorf("delete kv key: %w", err)
	}
	return nil
}

func (p *Provider) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	q := p.db.WithContext(ctx).Model(&KV{})
	if prefix != "" {
		// substr keeps the match exact; LIKE is case-insensitive in SQLite
		q = q.Where("substr(key, 1, ?) = ?", utf8.RuneCountInString(prefix), prefix)
	}
	if err := q.Pluck("key", &keys).Error; err != nil {
		return nil, fmt.Errorf("list kv keys: %w", err)
	}
	return keys, nil
}

// Sweep removes rows whose ttl hint has passed. Optional; reads already skip them.
func (p *Provider) Sweep(ctx context.Context) (int64, error) {
	res := p.db.WithContext(ctx).
		Where("expires_at > 0 AND expires_at < ?", p.nowFunc().UnixMilli()).
		Delete(&KV{})
	if res.Error != nil {
		return 0, fmt.Errorf("sweep kv: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (p *Provider) Close(context.Context) error {
	if !p.ownsDB {
		return nil
	}
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
