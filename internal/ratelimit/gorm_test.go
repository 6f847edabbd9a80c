package ratelimit

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/router-for-me/CLIProxyAPIPortal/internal/db"
	"github.com/router-for-me/CLIProxyAPIPortal/internal/models"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, errOpen := db.Open("file:" + name + "?mode=memory&cache=shared")
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	t.Cleanup(func() {
		if sqlDB, errDB := conn.DB(); errDB == nil {
			_ = sqlDB.Close()
		}
	})
	return conn
}

func testCounterKey(start time.Time) CounterKey {
	return CounterKey{APIKeyID: "key-1", Window: WindowMinute, Start: start}
}

func TestGormStoreConsumeCreatesThenIncrements(t *testing.T) {
	conn := openTestDB(t)
	store := NewGormStore(conn, 0)
	ctx := context.Background()
	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	key := testCounterKey(start)
	expiresAt := counterExpiry(start, WindowMinute)

	for i := 1; i <= 3; i++ {
		count, allowed, errConsume := store.Consume(ctx, key, 3, expiresAt)
		if errConsume != nil {
			t.Fatalf("consume %d: %v", i, errConsume)
		}
		if !allowed || count != i {
			t.Fatalf("consume %d: expected allowed count=%d, got allowed=%v count=%d", i, i, allowed, count)
		}
	}
	count, allowed, errConsume := store.Consume(ctx, key, 3, expiresAt)
	if errConsume != nil {
		t.Fatalf("consume over limit: %v", errConsume)
	}
	if allowed || count != 3 {
		t.Fatalf("expected denial at count 3, got allowed=%v count=%d", allowed, count)
	}

	var rows []models.RateWindowCounter
	if errFind := conn.Find(&rows).Error; errFind != nil {
		t.Fatalf("find counters: %v", errFind)
	}
	if len(rows) != 1 {
		t.Fatalf("expected a single counter row, got %d", len(rows))
	}
	if rows[0].RequestCount != 3 || rows[0].WindowType != "minute" {
		t.Fatalf("unexpected counter row %+v", rows[0])
	}
	if !rows[0].ExpiresAt.Equal(expiresAt) {
		t.Fatalf("expected expires_at %s, got %s", expiresAt, rows[0].ExpiresAt)
	}
}

func TestGormStoreSeparatesWindowInstances(t *testing.T) {
	conn := openTestDB(t)
	store := NewGormStore(conn, 0)
	ctx := context.Background()
	first := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Minute)

	if _, _, errConsume := store.Consume(ctx, testCounterKey(first), 1, counterExpiry(first, WindowMinute)); errConsume != nil {
		t.Fatalf("consume first: %v", errConsume)
	}
	count, allowed, errConsume := store.Consume(ctx, testCounterKey(second), 1, counterExpiry(second, WindowMinute))
	if errConsume != nil {
		t.Fatalf("consume second: %v", errConsume)
	}
	if !allowed || count != 1 {
		t.Fatalf("expected new window to start at 1, got allowed=%v count=%d", allowed, count)
	}
	used, errGet := store.Get(ctx, testCounterKey(first))
	if errGet != nil {
		t.Fatalf("get: %v", errGet)
	}
	if used != 1 {
		t.Fatalf("expected first window untouched at 1, got %d", used)
	}
}

func TestGormStoreInitNeverResets(t *testing.T) {
	conn := openTestDB(t)
	store := NewGormStore(conn, 0)
	ctx := context.Background()
	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	key := testCounterKey(start)
	expiresAt := counterExpiry(start, WindowMinute)

	if errInit := store.Init(ctx, key, expiresAt); errInit != nil {
		t.Fatalf("init: %v", errInit)
	}
	if used, _ := store.Get(ctx, key); used != 0 {
		t.Fatalf("expected zero counter, got %d", used)
	}
	if count, allowed, errConsume := store.Consume(ctx, key, 5, expiresAt); errConsume != nil || !allowed || count != 1 {
		t.Fatalf("expected first consume on seeded counter to return 1, got allowed=%v count=%d err=%v", allowed, count, errConsume)
	}
	if errInit := store.Init(ctx, key, expiresAt); errInit != nil {
		t.Fatalf("init again: %v", errInit)
	}
	if used, _ := store.Get(ctx, key); used != 1 {
		t.Fatalf("expected init to keep count 1, got %d", used)
	}
}

func TestGormStoreGetMissingIsZero(t *testing.T) {
	conn := openTestDB(t)
	store := NewGormStore(conn, 0)

	used, errGet := store.Get(context.Background(), testCounterKey(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
	if errGet != nil {
		t.Fatalf("get: %v", errGet)
	}
	if used != 0 {
		t.Fatalf("expected 0, got %d", used)
	}
}

func TestGormStoreNormalizesStartLocation(t *testing.T) {
	conn := openTestDB(t)
	store := NewGormStore(conn, 0)
	ctx := context.Background()
	loc := time.FixedZone("UTC+2", 2*60*60)
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, loc)

	if _, _, errConsume := store.Consume(ctx, testCounterKey(start), 10, counterExpiry(start, WindowMinute)); errConsume != nil {
		t.Fatalf("consume: %v", errConsume)
	}
	used, errGet := store.Get(ctx, testCounterKey(start.UTC()))
	if errGet != nil {
		t.Fatalf("get: %v", errGet)
	}
	if used != 1 {
		t.Fatalf("expected the same counter for equal instants, got %d", used)
	}
}

func TestGormStoreConcurrentConsume(t *testing.T) {
	conn := openTestDB(t)
	store := NewGormStore(conn, 0)
	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	key := testCounterKey(start)
	expiresAt := counterExpiry(start, WindowMinute)
	const limit, workers = 10, 30

	var allowedCount atomic.Int64
	var group errgroup.Group
	for i := 0; i < workers; i++ {
		group.Go(func() error {
			_, allowed, errConsume := store.Consume(context.Background(), key, limit, expiresAt)
			if errConsume != nil {
				return errConsume
			}
			if allowed {
				allowedCount.Add(1)
			}
			return nil
		})
	}
	if errWait := group.Wait(); errWait != nil {
		t.Fatalf("consume: %v", errWait)
	}
	if allowedCount.Load() != limit {
		t.Fatalf("expected %d admissions, got %d", limit, allowedCount.Load())
	}
	used, errGet := store.Get(context.Background(), key)
	if errGet != nil {
		t.Fatalf("get: %v", errGet)
	}
	if used != limit {
		t.Fatalf("expected stored count %d, got %d", limit, used)
	}
}

func TestGormStorePrune(t *testing.T) {
	conn := openTestDB(t)
	store := NewGormStore(conn, 0)
	ctx := context.Background()
	old := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	current := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	if _, _, errConsume := store.Consume(ctx, testCounterKey(old), 5, counterExpiry(old, WindowMinute)); errConsume != nil {
		t.Fatalf("consume old: %v", errConsume)
	}
	if _, _, errConsume := store.Consume(ctx, testCounterKey(current), 5, counterExpiry(current, WindowMinute)); errConsume != nil {
		t.Fatalf("consume current: %v", errConsume)
	}

	removed, errPrune := store.Prune(ctx, current)
	if errPrune != nil {
		t.Fatalf("prune: %v", errPrune)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned counter, got %d", removed)
	}
	if used, _ := store.Get(ctx, testCounterKey(current)); used != 1 {
		t.Fatalf("expected current counter kept, got %d", used)
	}

	loop := NewPruneLoop(store, time.Minute)
	loop.now = func() time.Time { return current.Add(3 * time.Hour) }
	if removed = loop.PruneOnce(ctx); removed != 1 {
		t.Fatalf("expected prune loop to remove 1 counter, got %d", removed)
	}
}

func TestGormLimitsSource(t *testing.T) {
	conn := openTestDB(t)
	user := models.User{ID: "user-1", Username: "alice"}
	if errCreate := conn.Create(&user).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}
	key := models.APIKey{
		ID:                 "key-1",
		UserID:             "user-1",
		Name:               "default",
		APIKey:             "sk-portal-test",
		RateLimitPerMinute: 7,
		RateLimitPerHour:   70,
		RateLimitPerDay:    700,
		Active:             true,
	}
	if errCreate := conn.Create(&key).Error; errCreate != nil {
		t.Fatalf("create api key: %v", errCreate)
	}
	source := NewGormLimitsSource(conn)
	ctx := context.Background()

	limits, errLimits := source.Limits(ctx, "key-1", "user-1")
	if errLimits != nil {
		t.Fatalf("limits: %v", errLimits)
	}
	if limits != (Limits{PerMinute: 7, PerHour: 70, PerDay: 700}) {
		t.Fatalf("unexpected limits %+v", limits)
	}
	if _, errLimits = source.Limits(ctx, "key-1", "user-2"); !errors.Is(errLimits, ErrConfigNotFound) {
		t.Fatalf("expected config not found for foreign user, got %v", errLimits)
	}
	if _, errLimits = source.Limits(ctx, "missing", "user-1"); !errors.Is(errLimits, ErrConfigNotFound) {
		t.Fatalf("expected config not found for missing key, got %v", errLimits)
	}

	if errUpdate := conn.Model(&models.APIKey{}).Where("id = ?", "key-1").Update("rate_limit_per_hour", 0).Error; errUpdate != nil {
		t.Fatalf("update: %v", errUpdate)
	}
	if _, errLimits = source.Limits(ctx, "key-1", "user-1"); !errors.Is(errLimits, ErrInvalidLimits) {
		t.Fatalf("expected invalid limits, got %v", errLimits)
	}
}

func TestLimiterWithGormStore(t *testing.T) {
	conn := openTestDB(t)
	if errCreate := conn.Create(&models.User{ID: "user-1", Username: "alice"}).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}
	if errCreate := conn.Create(&models.APIKey{
		ID:                 "key-1",
		UserID:             "user-1",
		Name:               "default",
		APIKey:             "sk-portal-test",
		RateLimitPerMinute: 2,
		RateLimitPerHour:   100,
		RateLimitPerDay:    1000,
		Active:             true,
	}).Error; errCreate != nil {
		t.Fatalf("create api key: %v", errCreate)
	}
	clock := &testClock{now: time.Date(2025, 1, 1, 10, 0, 30, 0, time.UTC)}
	limiter, errNew := NewLimiter(NewGormStore(conn, 0), NewGormLimitsSource(conn), WithClock(clock.Now), WithLocation(time.UTC))
	if errNew != nil {
		t.Fatalf("NewLimiter: %v", errNew)
	}
	ctx := context.Background()

	if errInit := limiter.Initialize(ctx, "key-1", "user-1", Limits{PerMinute: 2, PerHour: 100, PerDay: 1000}); errInit != nil {
		t.Fatalf("initialize: %v", errInit)
	}
	for i := 0; i < 2; i++ {
		if decision, errCheck := limiter.Check(ctx, "key-1", "user-1"); errCheck != nil || !decision.Allowed {
			t.Fatalf("expected check %d allowed, got %+v err=%v", i+1, decision, errCheck)
		}
	}
	decision, errCheck := limiter.Check(ctx, "key-1", "user-1")
	if errCheck != nil {
		t.Fatalf("check: %v", errCheck)
	}
	if decision.Allowed || decision.LimitType != WindowMinute {
		t.Fatalf("expected minute denial, got %+v", decision)
	}
	status, errStatus := limiter.Status(ctx, "key-1", "user-1")
	if errStatus != nil {
		t.Fatalf("status: %v", errStatus)
	}
	if status.Minute.Used != 2 || status.Hour.Used != 2 || status.Day.Used != 2 {
		t.Fatalf("unexpected status %+v", status)
	}
}
