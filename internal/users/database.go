package users

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("users.unsupported_dialect")

	errEmptyDatabaseURL    = errors.New("users.empty_database_url")
	errSQLiteEmptyPath     = errors.New("users.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("users.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("users.unsupported_no_scheme")
)

// DatabaseStore persists users with GORM, selecting postgres or sqlite by URL
// scheme.
type DatabaseStore struct {
	db          *gorm.DB
	driverLabel string
}

type userRecord struct {
	ID            string `gorm:"column:id;primaryKey"`
	GoogleSubject string `gorm:"column:google_subject;uniqueIndex;not null"`
	Email         string `gorm:"column:email;not null"`
	Name          string `gorm:"column:name;not null;default:''"`
	PictureURL    string `gorm:"column:picture_url;not null;default:''"`
	TokenVersion  int    `gorm:"column:token_version;not null;default:1"`
	CreatedAtUnix int64  `gorm:"column:created_at_unix;not null"`
}

func (userRecord) TableName() string {
	return "session_users"
}

// Driver exposes the selected database driver label.
func (store *DatabaseStore) Driver() string {
	return store.driverLabel
}

// NewDatabaseStore constructs a GORM-backed store and migrates its table.
func NewDatabaseStore(ctx context.Context, databaseURL string) (*DatabaseStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("users.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("users.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&userRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("users.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseStore{
		db:          gormDB,
		driverLabel: driverLabel,
	}, nil
}

// UpsertGoogleUser inserts a new user or refreshes the mutable profile fields
// of an existing one.
func (store *DatabaseStore) UpsertGoogleUser(ctx context.Context, googleSubject string, email string, name string, pictureURL string) (User, bool, error) {
	var existing userRecord
	findErr := store.db.WithContext(ctx).Where("google_subject = ?", googleSubject).Take(&existing).Error
	if findErr == nil {
		updates := map[string]interface{}{
			"email":       email,
			"name":        name,
			"picture_url": pictureURL,
		}
		if updateErr := store.db.WithContext(ctx).Model(&userRecord{}).Where("id = ?", existing.ID).Updates(updates).Error; updateErr != nil {
			return User{}, false, fmt.Errorf("users.upsert.%s: %w", store.driverLabel, updateErr)
		}
		existing.Email = email
		existing.Name = name
		existing.PictureURL = pictureURL
		return userFromRecord(existing), false, nil
	}
	if !errors.Is(findErr, gorm.ErrRecordNotFound) {
		return User{}, false, fmt.Errorf("users.upsert.%s: %w", store.driverLabel, findErr)
	}

	record := userRecord{
		ID:            uuid.NewString(),
		GoogleSubject: googleSubject,
		Email:         email,
		Name:          name,
		PictureURL:    pictureURL,
		TokenVersion:  1,
		CreatedAtUnix: time.Now().UTC().Unix(),
	}
	if createErr := store.db.WithContext(ctx).Create(&record).Error; createErr != nil {
		return User{}, false, fmt.Errorf("users.upsert.%s: %w", store.driverLabel, createErr)
	}
	return userFromRecord(record), true, nil
}

// GetUser loads a user by application user ID.
func (store *DatabaseStore) GetUser(ctx context.Context, userID string) (User, error) {
	var record userRecord
	err := store.db.WithContext(ctx).Where("id = ?", userID).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, fmt.Errorf("users.get.%s: %w", store.driverLabel, ErrUserNotFound)
		}
		return User{}, fmt.Errorf("users.get.%s: %w", store.driverLabel, err)
	}
	return userFromRecord(record), nil
}

// BumpTokenVersion increments the revocation marker atomically.
func (store *DatabaseStore) BumpTokenVersion(ctx context.Context, userID string) error {
	result := store.db.WithContext(ctx).Model(&userRecord{}).
		Where("id = ?", userID).
		Update("token_version", gorm.Expr("token_version + 1"))
	if result.Error != nil {
		return fmt.Errorf("users.bump_token_version.%s: %w", store.driverLabel, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("users.bump_token_version.%s: %w", store.driverLabel, ErrUserNotFound)
	}
	return nil
}

func userFromRecord(record userRecord) User {
	return User{
		ID:            record.ID,
		GoogleSubject: record.GoogleSubject,
		Email:         record.Email,
		Name:          record.Name,
		PictureURL:    record.PictureURL,
		TokenVersion:  record.TokenVersion,
		CreatedAt:     time.Unix(record.CreatedAtUnix, 0).UTC(),
	}
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("users.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("users.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("users.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("users.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
