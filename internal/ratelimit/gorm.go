package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/router-for-me/CLIProxyAPIPortal/internal/db"
	"github.com/router-for-me/CLIProxyAPIPortal/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultGormMaxRetries = 5

// GormStore implements CounterStore on the rate_window_counters table.
type GormStore struct {
	db         *gorm.DB
	nowFn      func() time.Time
	maxRetries int
}

// NewGormStore constructs a GormStore; maxRetries <= 0 selects the default.
func NewGormStore(conn *gorm.DB, maxRetries int) *GormStore {
	if maxRetries <= 0 {
		maxRetries = defaultGormMaxRetries
	}
	return &GormStore{db: conn, nowFn: time.Now, maxRetries: maxRetries}
}

// Consume atomically reserves one request in the window when it is below limit.
func (s *GormStore) Consume(ctx context.Context, key CounterKey, limit int, expiresAt time.Time) (int, bool, error) {
	if s == nil || s.db == nil {
		return 0, false, errors.New("rate limit gorm: nil db")
	}
	key = normalizeKey(key)
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		count, allowed, retry, errTry := s.tryConsume(ctx, key, limit, expiresAt)
		if errTry != nil {
			if db.IsUniqueViolation(errTry) {
				continue
			}
			return 0, false, fmt.Errorf("rate limit gorm: consume: %w", errTry)
		}
		if !retry {
			return count, allowed, nil
		}
	}
	return 0, false, ErrRaceRetryExhausted
}

// tryConsume runs one attempt; retry reports a lost race against a concurrent creator.
func (s *GormStore) tryConsume(ctx context.Context, key CounterKey, limit int, expiresAt time.Time) (count int, allowed bool, retry bool, err error) {
	now := s.nowFn().UTC()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		count, allowed, retry = 0, false, false

		res := whereCounterKey(tx.Model(&models.RateWindowCounter{}), key).
			Where("request_count < ?", limit).
			Updates(map[string]any{
				"request_count": gorm.Expr("request_count + 1"),
				"updated_at":    now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			row, errTake := takeCounter(tx, key)
			if errTake != nil {
				return errTake
			}
			count, allowed = row.RequestCount, true
			return nil
		}

		row := newCounterRow(key, 1, expiresAt, now)
		created := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if created.Error != nil {
			return created.Error
		}
		if created.RowsAffected > 0 {
			count, allowed = 1, true
			return nil
		}

		existing, errTake := takeCounter(tx, key)
		if errTake != nil {
			if errors.Is(errTake, gorm.ErrRecordNotFound) {
				retry = true
				return nil
			}
			return errTake
		}
		if existing.RequestCount >= limit {
			count = existing.RequestCount
			return nil
		}
		retry = true
		return nil
	})
	return count, allowed, retry, err
}

// Get returns the stored count of the window.
func (s *GormStore) Get(ctx context.Context, key CounterKey) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("rate limit gorm: nil db")
	}
	row, errTake := takeCounter(s.db.WithContext(ctx), normalizeKey(key))
	if errTake != nil {
		if errors.Is(errTake, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("rate limit gorm: get: %w", errTake)
	}
	return row.RequestCount, nil
}

// Init creates a zero counter when the window has none.
func (s *GormStore) Init(ctx context.Context, key CounterKey, expiresAt time.Time) error {
	if s == nil || s.db == nil {
		return errors.New("rate limit gorm: nil db")
	}
	row := newCounterRow(normalizeKey(key), 0, expiresAt, s.nowFn().UTC())
	if errCreate := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; errCreate != nil {
		return fmt.Errorf("rate limit gorm: init: %w", errCreate)
	}
	return nil
}

// Prune deletes counters whose expiry passed before now.
func (s *GormStore) Prune(ctx context.Context, now time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("rate limit gorm: nil db")
	}
	res := s.db.WithContext(ctx).Where("expires_at < ?", now.UTC()).Delete(&models.RateWindowCounter{})
	if res.Error != nil {
		return 0, fmt.Errorf("rate limit gorm: prune: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func whereCounterKey(tx *gorm.DB, key CounterKey) *gorm.DB {
	return tx.Where("api_key_id = ? AND window_type = ? AND window_start = ?", key.APIKeyID, string(key.Window), key.Start)
}

func takeCounter(tx *gorm.DB, key CounterKey) (models.RateWindowCounter, error) {
	var row models.RateWindowCounter
	errTake := whereCounterKey(tx.Model(&models.RateWindowCounter{}), key).Take(&row).Error
	return row, errTake
}

func newCounterRow(key CounterKey, count int, expiresAt, now time.Time) models.RateWindowCounter {
	return models.RateWindowCounter{
		APIKeyID:     key.APIKeyID,
		WindowType:   string(key.Window),
		WindowStart:  key.Start,
		RequestCount: count,
		ExpiresAt:    expiresAt.UTC(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
