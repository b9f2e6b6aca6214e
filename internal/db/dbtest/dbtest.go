// Package dbtest opens throwaway in-memory databases for tests.
package dbtest

import (
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"assignly/internal/db"
	"assignly/internal/model"
)

// Open returns a migrated in-memory SQLite database private to the test.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

// SeedUser inserts a user with the given balance.
func SeedUser(t testing.TB, gdb *gorm.DB, id string, credits int) *model.User {
	t.Helper()
	u := &model.User{ID: id, Email: id + "@example.com"}
	u.SetCredits(credits)
	if err := gdb.Create(u).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

// SeedAdmin inserts a user and its admin marker.
func SeedAdmin(t testing.TB, gdb *gorm.DB, id string) {
	t.Helper()
	SeedUser(t, gdb, id, 0)
	if err := gdb.Create(&model.AdminRole{UserID: id}).Error; err != nil {
		t.Fatalf("seed admin: %v", err)
	}
}
