package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// DatabaseTier is the asynchronous durable tier: larger capacity, survives
// process restarts, backed by an embedded SQLite file.
type DatabaseTier struct {
	db *gorm.DB
}

type storageEntry struct {
	Key   string `gorm:"column:entry_key;primaryKey"`
	Value string `gorm:"column:entry_value;not null"`
}

func (storageEntry) TableName() string {
	return "session_entries"
}

// NewDatabaseTier opens (or creates) the SQLite file at path and migrates the
// entries table. ":memory:" is accepted for tests.
func NewDatabaseTier(ctx context.Context, path string) (*DatabaseTier, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sessionstore.database.open: %w", errors.New("empty path"))
	}
	gormDB, openErr := gorm.Open(sqliteDialector.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("sessionstore.database.open: %w", openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&storageEntry{}); migrateErr != nil {
		return nil, fmt.Errorf("sessionstore.database.migrate: %w", migrateErr)
	}
	return &DatabaseTier{db: gormDB}, nil
}

// Name identifies the tier in logs.
func (tier *DatabaseTier) Name() string {
	return "database"
}

// Get loads the value for the key.
func (tier *DatabaseTier) Get(ctx context.Context, key string) (string, bool, error) {
	var entry storageEntry
	err := tier.db.WithContext(ctx).Where("entry_key = ?", key).Take(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("sessionstore.database.get: %w", err)
	}
	return entry.Value, true, nil
}

// Set upserts the value for the key.
func (tier *DatabaseTier) Set(ctx context.Context, key string, value string) error {
	entry := storageEntry{Key: key, Value: value}
	err := tier.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"entry_value"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("sessionstore.database.set: %w", err)
	}
	return nil
}

// Delete removes the value for the key.
func (tier *DatabaseTier) Delete(ctx context.Context, key string) error {
	err := tier.db.WithContext(ctx).Where("entry_key = ?", key).Delete(&storageEntry{}).Error
	if err != nil {
		return fmt.Errorf("sessionstore.database.delete: %w", err)
	}
	return nil
}
