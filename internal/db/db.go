package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"assignly/internal/model"
)

// ErrConflict signals that a compare-and-swap lost a race; Transact retries it.
var ErrConflict = errors.New("transaction conflict")

// Open connects with the given driver ("sqlite" or "postgres") and migrates the schema.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}

	gormLog := gormlogger.NewSlogLogger(slog.Default(), gormlogger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
	gdb, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if driver == "sqlite" {
		// SQLite allows a single writer; serialise through one connection.
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql db: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := Migrate(gdb); err != nil {
		return nil, err
	}
	return gdb, nil
}

// Migrate creates or updates every table.
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(model.All()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// Transact runs fn inside a transaction. When fn returns ErrConflict the whole
// unit is rolled back and re-run from scratch, up to attempts times.
func Transact(ctx context.Context, gdb *gorm.DB, attempts int, fn func(tx *gorm.DB) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		err := gdb.WithContext(ctx).Transaction(fn)
		if !errors.Is(err, ErrConflict) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * 5 * time.Millisecond):
		}
	}
	return fmt.Errorf("%w: gave up after %d attempts", ErrConflict, attempts)
}

// LoadUser reads a user and applies the legacy field migration.
func LoadUser(tx *gorm.DB, id string) (*model.User, error) {
	var u model.User
	if err := tx.First(&u, "id = ?", id).Error; err != nil {
		return nil, err
	}
	u.MigrateLegacy()
	return &u, nil
}

// SaveLedger writes the balance and aggregate counters of u, provided nobody
// else wrote the row since u was loaded. On success u.Version is advanced.
func SaveLedger(tx *gorm.DB, u *model.User) error {
	res := tx.Model(&model.User{}).
		Where("id = ? AND version = ?", u.ID, u.Version).
		Updates(map[string]any{
			"credits_remaining": u.Credits(),
			"page_quota":        nil,
			"total_orders":      u.TotalOrders,
			"total_pages":       u.TotalPages,
			"last_order_at":     u.LastOrderAt,
			"version":           u.Version + 1,
			"updated_at":        time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	u.Version++
	return nil
}

// IsUniqueViolation reports whether err is a duplicate key error.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "UNIQUE") || strings.Contains(s, "unique") || strings.Contains(s, "duplicate key")
}

// IsNotFound reports whether err is gorm's record-not-found.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
