package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// cacheRecord 是 SQLite 后端中的一行缓存条目。
type cacheRecord struct {
	ID         uint   `gorm:"primaryKey"`
	Namespace  string `gorm:"uniqueIndex:idx_cache_locator;size:64;not null"`
	LocatorKey string `gorm:"uniqueIndex:idx_cache_locator;not null"`
	Body       []byte
	SizeBytes  int64
	ModTime    time.Time
}

func (cacheRecord) TableName() string {
	return "edge_cache_entries"
}

// SQLiteStore 将缓存条目存放在单个 SQLite 文件中，适合没有可写磁盘目录的部署。
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore 打开 dsn 指向的数据库并执行 AutoMigrate。
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite dsn required")
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache %s: %w", dsn, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&cacheRecord{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("sqlite cache migration: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, locator Locator) (*ReadResult, error) {
	if err := validateLocator(locator); err != nil {
		return nil, err
	}
	var rec cacheRecord
	err := s.db.WithContext(ctx).
		Where("namespace = ? AND locator_key = ?", locator.Namespace, locator.Key).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &ReadResult{
		Entry: Entry{
			Locator:   locator,
			SizeBytes: rec.SizeBytes,
			ModTime:   rec.ModTime,
		},
		Reader: nopReadSeekCloser{Reader: bytes.NewReader(rec.Body)},
	}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error) {
	if err := validateLocator(locator); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	written, err := copyWithContext(ctx, &buf, body)
	if err != nil {
		return nil, err
	}

	modTime := opts.ModTime
	if modTime.IsZero() {
		modTime = time.Now().UTC()
	}
	rec := cacheRecord{
		Namespace:  locator.Namespace,
		LocatorKey: locator.Key,
		Body:       buf.Bytes(),
		SizeBytes:  written,
		ModTime:    modTime,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace"}, {Name: "locator_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"body", "size_bytes", "mod_time"}),
	}).Create(&rec).Error
	if err != nil {
		return nil, err
	}

	return &Entry{
		Locator:   locator,
		SizeBytes: written,
		ModTime:   modTime,
	}, nil
}

func (s *SQLiteStore) Remove(ctx context.Context, locator Locator) error {
	if err := validateLocator(locator); err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Where("namespace = ? AND locator_key = ?", locator.Namespace, locator.Key).
		Delete(&cacheRecord{}).Error
}

// Close 释放底层连接。
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func validateLocator(locator Locator) error {
	if locator.Namespace == "" {
		return errors.New("cache namespace required")
	}
	if locator.Key == "" {
		return errors.New("cache key required")
	}
	return nil
}

type nopReadSeekCloser struct {
	*bytes.Reader
}

func (nopReadSeekCloser) Close() error { return nil }
