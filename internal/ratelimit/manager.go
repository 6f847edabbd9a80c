package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	internalsettings "github.com/router-for-me/CLIProxyAPIPortal/internal/settings"
	log "github.com/sirupsen/logrus"
)

const redisBreakerDuration = 30 * time.Second

// errBreakerOpen is returned while Redis is considered unavailable.
var errBreakerOpen = fmt.Errorf("%w: redis circuit breaker open", ErrStoreUnavailable)

// SettingsProvider supplies the latest settings snapshot.
type SettingsProvider func() SettingsConfig

// RedisClientFactory constructs a Redis client for the given options.
type RedisClientFactory func(options *redis.Options) *redis.Client

type redisConfig struct {
	addr     string
	password string
	prefix   string
	db       int
}

// Manager routes counter operations to the backend selected in settings.
type Manager struct {
	provider       SettingsProvider
	nowFn          func() time.Time
	database       CounterStore
	memory         *MemoryStore
	newRedisClient RedisClientFactory
	mu             sync.Mutex
	redisStore     *RedisStore
	redisCfg       redisConfig
	breakerUntil   time.Time
}

// NewManager constructs a Manager with default dependencies when nil.
func NewManager(provider SettingsProvider, nowFn func() time.Time, database CounterStore, newRedisClient RedisClientFactory) *Manager {
	if provider == nil {
		provider = LoadSettingsConfig
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if newRedisClient == nil {
		newRedisClient = redis.NewClient
	}
	return &Manager{
		provider:       provider,
		nowFn:          nowFn,
		database:       database,
		memory:         NewMemoryStore(),
		newRedisClient: newRedisClient,
	}
}

// Consume delegates to the active backend.
func (m *Manager) Consume(ctx context.Context, key CounterKey, limit int, expiresAt time.Time) (int, bool, error) {
	store, isRedis, errActive := m.active(ctx)
	if errActive != nil {
		return 0, false, errActive
	}
	count, allowed, errConsume := store.Consume(ctx, key, limit, expiresAt)
	if errConsume != nil && isRedis {
		m.tripBreaker(errConsume)
	}
	return count, allowed, errConsume
}

// Get delegates to the active backend.
func (m *Manager) Get(ctx context.Context, key CounterKey) (int, error) {
	store, isRedis, errActive := m.active(ctx)
	if errActive != nil {
		return 0, errActive
	}
	count, errGet := store.Get(ctx, key)
	if errGet != nil && isRedis {
		m.tripBreaker(errGet)
	}
	return count, errGet
}

// Init delegates to the active backend.
func (m *Manager) Init(ctx context.Context, key CounterKey, expiresAt time.Time) error {
	store, isRedis, errActive := m.active(ctx)
	if errActive != nil {
		return errActive
	}
	errInit := store.Init(ctx, key, expiresAt)
	if errInit != nil && isRedis {
		m.tripBreaker(errInit)
	}
	return errInit
}

// Prune removes expired counters from the database and memory backends.
func (m *Manager) Prune(ctx context.Context, now time.Time) (int64, error) {
	if m == nil {
		return 0, nil
	}
	removed, _ := m.memory.Prune(ctx, now)
	pruner, ok := m.database.(Pruner)
	if !ok {
		return removed, nil
	}
	removedDB, errPrune := pruner.Prune(ctx, now)
	return removed + removedDB, errPrune
}

// Close releases the Redis client when one is open.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redisStore == nil {
		return nil
	}
	errClose := m.redisStore.Close()
	m.redisStore = nil
	return errClose
}

func (m *Manager) active(ctx context.Context) (CounterStore, bool, error) {
	if m == nil {
		return nil, false, fmt.Errorf("%w: nil manager", ErrStoreUnavailable)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := m.provider()
	switch cfg.Backend {
	case internalsettings.BackendMemory:
		return m.memory, false, nil
	case internalsettings.BackendRedis:
		now := m.nowFn()
		if m.isBreakerActive(now) {
			return nil, true, errBreakerOpen
		}
		store, errEnsure := m.ensureRedis(ctx, cfg)
		if errEnsure != nil {
			m.tripBreaker(errEnsure)
			return nil, true, storeError("connect redis", errEnsure)
		}
		return store, true, nil
	default:
		if m.database == nil {
			return nil, false, fmt.Errorf("%w: database store not configured", ErrStoreUnavailable)
		}
		return m.database, false, nil
	}
}

func (m *Manager) isBreakerActive(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.breakerUntil.IsZero() {
		return false
	}
	if now.Before(m.breakerUntil) {
		return true
	}
	m.breakerUntil = time.Time{}
	return false
}

func (m *Manager) tripBreaker(err error) {
	if err == nil || m == nil || errors.Is(err, context.Canceled) {
		return
	}
	now := m.nowFn()
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.breakerUntil.IsZero() && now.Before(m.breakerUntil) {
		return
	}
	m.breakerUntil = now.Add(redisBreakerDuration)
	log.WithError(err).Warnf("rate limit: redis unavailable, rejecting redis operations for %s", redisBreakerDuration)
}

func (m *Manager) ensureRedis(ctx context.Context, cfg SettingsConfig) (*RedisStore, error) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis: missing address")
	}

	nextCfg := redisConfig{
		addr:     addr,
		password: strings.TrimSpace(cfg.RedisPassword),
		prefix:   strings.TrimSpace(cfg.RedisPrefix),
		db:       cfg.RedisDB,
	}
	if nextCfg.db < 0 {
		nextCfg.db = 0
	}
	if nextCfg.prefix == "" {
		nextCfg.prefix = internalsettings.DefaultRateLimitRedisPrefix
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.redisStore != nil && m.redisCfg == nextCfg {
		return m.redisStore, nil
	}
	if m.redisStore != nil {
		_ = m.redisStore.Close()
		m.redisStore = nil
	}

	client := m.newRedisClient(&redis.Options{
		Addr:     nextCfg.addr,
		Password: nextCfg.password,
		DB:       nextCfg.db,
	})
	ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if errPing := client.Ping(ctxPing).Err(); errPing != nil {
		_ = client.Close()
		return nil, errPing
	}
	m.redisStore = NewRedisStore(client, nextCfg.prefix)
	m.redisCfg = nextCfg
	log.Infof("rate limit: redis store connected (addr=%s db=%d)", nextCfg.addr, nextCfg.db)
	return m.redisStore, nil
}
