package db

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/router-for-me/CLIProxyAPIPortal/internal/models"
	internalsettings "github.com/router-for-me/CLIProxyAPIPortal/internal/settings"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func openMigratedDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, errOpen := Open("file:" + name + "?mode=memory&cache=shared")
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func TestMigrateSeedsRateLimitSettings(t *testing.T) {
	conn := openMigratedDB(t)

	var rows []models.Setting
	if errFind := conn.Order("key ASC").Find(&rows).Error; errFind != nil {
		t.Fatalf("find settings: %v", errFind)
	}
	values := make(map[string]string, len(rows))
	for _, row := range rows {
		values[row.Key] = string(row.Value)
	}
	if values[internalsettings.RateLimitBackendKey] != `"database"` {
		t.Fatalf("expected database backend default, got %q", values[internalsettings.RateLimitBackendKey])
	}
	if values[internalsettings.RateLimitTimezoneKey] != `"Local"` {
		t.Fatalf("expected Local timezone default, got %q", values[internalsettings.RateLimitTimezoneKey])
	}
	if values[internalsettings.RateLimitFailOpenKey] != "false" {
		t.Fatalf("expected fail-open default false, got %q", values[internalsettings.RateLimitFailOpenKey])
	}
	if values[internalsettings.RateLimitRedisPrefixKey] != `"portal:rl"` {
		t.Fatalf("expected redis prefix default, got %q", values[internalsettings.RateLimitRedisPrefixKey])
	}
}

func TestMigrateKeepsExistingSettings(t *testing.T) {
	conn := openMigratedDB(t)
	if errUpdate := conn.Model(&models.Setting{}).Where("key = ?", internalsettings.RateLimitBackendKey).
		Update("value", datatypes.JSON(`"memory"`)).Error; errUpdate != nil {
		t.Fatalf("update: %v", errUpdate)
	}
	if errUpdate := conn.Model(&models.Setting{}).Where("key = ?", internalsettings.RateLimitTimezoneKey).
		Update("value", datatypes.JSON(`null`)).Error; errUpdate != nil {
		t.Fatalf("update: %v", errUpdate)
	}

	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate again: %v", errMigrate)
	}

	var backend models.Setting
	if errFind := conn.Where("key = ?", internalsettings.RateLimitBackendKey).First(&backend).Error; errFind != nil {
		t.Fatalf("find backend: %v", errFind)
	}
	if string(backend.Value) != `"memory"` {
		t.Fatalf("expected migrate to keep configured backend, got %s", backend.Value)
	}
	var timezone models.Setting
	if errFind := conn.Where("key = ?", internalsettings.RateLimitTimezoneKey).First(&timezone).Error; errFind != nil {
		t.Fatalf("find timezone: %v", errFind)
	}
	if string(timezone.Value) != `"Local"` {
		t.Fatalf("expected migrate to restore null timezone, got %s", timezone.Value)
	}
}

func TestMigrateEnforcesCounterUniqueness(t *testing.T) {
	conn := openMigratedDB(t)
	row := models.RateWindowCounter{APIKeyID: "key-1", WindowType: "minute", RequestCount: 1}
	if errCreate := conn.Create(&row).Error; errCreate != nil {
		t.Fatalf("create counter: %v", errCreate)
	}
	duplicate := models.RateWindowCounter{APIKeyID: "key-1", WindowType: "minute", RequestCount: 1}
	errCreate := conn.Create(&duplicate).Error
	if errCreate == nil {
		t.Fatalf("expected unique violation")
	}
	if !IsUniqueViolation(errCreate) {
		t.Fatalf("expected IsUniqueViolation to detect %v", errCreate)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if IsUniqueViolation(nil) {
		t.Fatalf("expected nil error to be false")
	}
	if !IsUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatalf("expected postgres 23505 to be a unique violation")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "40001"}) {
		t.Fatalf("expected serialization failure not to be a unique violation")
	}
	if !IsUniqueViolation(gorm.ErrDuplicatedKey) {
		t.Fatalf("expected gorm duplicated key to be a unique violation")
	}
	if IsUniqueViolation(errors.New("connection reset")) {
		t.Fatalf("expected unrelated error to be false")
	}
}

func TestOpenRoutesDSN(t *testing.T) {
	if _, errOpen := Open("   "); errOpen == nil {
		t.Fatalf("expected error for empty dsn")
	}
	conn, errOpen := Open("sqlite://file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared")
	if errOpen != nil {
		t.Fatalf("open sqlite url: %v", errOpen)
	}
	if !IsSQLite(conn) {
		t.Fatalf("expected sqlite dialect, got %s", DialectName(conn))
	}
	if got := CaseInsensitiveLikeExpr(conn, "username"); got != "LOWER(username) LIKE ?" {
		t.Fatalf("unexpected like expr %q", got)
	}
	if got := NormalizeLikePattern(conn, "%Alice%"); got != "%alice%" {
		t.Fatalf("unexpected like pattern %q", got)
	}
}

func TestMigratedSQLiteFileLoadsSettingsSnapshot(t *testing.T) {
	conn, errOpen := Open(filepath.Join(t.TempDir(), "portal.db"))
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	t.Cleanup(func() {
		internalsettings.StoreDBConfig(time.Time{}, nil)
		if sqlDB, errDB := conn.DB(); errDB == nil {
			_ = sqlDB.Close()
		}
	})
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	poller := internalsettings.NewPoller(conn, 0)
	if errPoll := poller.Poll(context.Background(), true); errPoll != nil {
		t.Fatalf("poll settings: %v", errPoll)
	}
	if raw, ok := internalsettings.DBConfigValue(internalsettings.RateLimitRedisDBKey); !ok || string(raw) != "0" {
		t.Fatalf("expected redis db 0 in snapshot, got %q ok=%v", raw, ok)
	}
	if raw, ok := internalsettings.DBConfigValue(internalsettings.RateLimitFailOpenKey); !ok || string(raw) != "false" {
		t.Fatalf("expected fail-open false in snapshot, got %q ok=%v", raw, ok)
	}

	if errUpdate := conn.Model(&models.Setting{}).Where("key = ?", internalsettings.RateLimitRedisDBKey).
		Updates(map[string]any{"value": datatypes.JSON(`3`), "updated_at": time.Now().UTC()}).Error; errUpdate != nil {
		t.Fatalf("update setting: %v", errUpdate)
	}
	if errPoll := poller.Poll(context.Background(), true); errPoll != nil {
		t.Fatalf("poll after numeric update: %v", errPoll)
	}
	if raw, _ := internalsettings.DBConfigValue(internalsettings.RateLimitRedisDBKey); string(raw) != "3" {
		t.Fatalf("expected redis db 3 in snapshot, got %q", raw)
	}
}
