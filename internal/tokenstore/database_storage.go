package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	errEmptyDatabaseURL    = errors.New("storage.empty_database_url")
	errSQLiteEmptyPath     = errors.New("storage.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("storage.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("storage.unsupported_no_scheme")
)

// DatabaseStorage persists client storage entries using GORM.
type DatabaseStorage struct {
	db          *gorm.DB
	driverLabel string
}

type storageRecord struct {
	Key         string `gorm:"column:storage_key;primaryKey"`
	Value       string `gorm:"column:storage_value;not null"`
	UpdatedUnix int64  `gorm:"column:updated_unix;not null"`
}

func (storageRecord) TableName() string {
	return "client_storage"
}

// Driver exposes the selected database driver label.
func (storage *DatabaseStorage) Driver() string {
	return storage.driverLabel
}

// NewDatabaseStorage opens a sqlite:// or postgres:// database and migrates
// the client_storage table.
func NewDatabaseStorage(ctx context.Context, databaseURL string) (*DatabaseStorage, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("storage.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("storage.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&storageRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("storage.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseStorage{
		db:          gormDB,
		driverLabel: driverLabel,
	}, nil
}

// Get returns the value stored under key.
func (storage *DatabaseStorage) Get(ctx context.Context, key string) (string, bool, error) {
	var record storageRecord
	err := storage.db.WithContext(ctx).Where("storage_key = ?", key).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("storage.get.%s: %w", storage.driverLabel, err)
	}
	return record.Value, true, nil
}

// SetMany upserts every value in one transaction.
func (storage *DatabaseStorage) SetMany(ctx context.Context, values map[string]string) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		if key == "" {
			return fmt.Errorf("storage.set.%s: %w", storage.driverLabel, errEmptyStorageKey)
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	nowUnix := time.Now().UTC().Unix()
	err := storage.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		for _, key := range keys {
			record := storageRecord{Key: key, Value: values[key], UpdatedUnix: nowUnix}
			upsert := transaction.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "storage_key"}},
				DoUpdates: clause.AssignmentColumns([]string{"storage_value", "updated_unix"}),
			})
			if createErr := upsert.Create(&record).Error; createErr != nil {
				return createErr
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("storage.set.%s: %w", storage.driverLabel, err)
	}
	return nil
}

// RemoveMany deletes every key in one statement.
func (storage *DatabaseStorage) RemoveMany(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := storage.db.WithContext(ctx).Where("storage_key IN ?", keys).Delete(&storageRecord{}).Error; err != nil {
		return fmt.Errorf("storage.remove.%s: %w", storage.driverLabel, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (storage *DatabaseStorage) Close() error {
	sqlDB, err := storage.db.DB()
	if err != nil {
		return fmt.Errorf("storage.close.%s: %w", storage.driverLabel, err)
	}
	return sqlDB.Close()
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("storage.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("storage.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("storage.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("storage.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedScheme)
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
