package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/router-for-me/CLIProxyAPIPortal/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultQueryTimeout = 5 * time.Second
)

// Poller keeps the DB-backed settings snapshot in sync with the settings table.
type Poller struct {
	db       *gorm.DB
	interval time.Duration

	mu        sync.Mutex
	latestAt  time.Time
	latestKey string
	hasLatest bool
}

// NewPoller constructs a settings poller; interval <= 0 selects the default.
func NewPoller(db *gorm.DB, interval time.Duration) *Poller {
	if db == nil {
		return nil
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Poller{db: db, interval: interval}
}

// Start runs the poll loop in the background until ctx is done.
func (p *Poller) Start(ctx context.Context) {
	if p == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go p.run(ctx)
	log.Infof("settings poller started (interval=%s)", p.interval)
}

func (p *Poller) run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if errPoll := p.Poll(ctx, false); errPoll != nil && !errors.Is(errPoll, context.Canceled) {
				log.WithError(errPoll).Warn("settings poller: poll failed")
			}
		}
	}
}

// Poll reloads the snapshot when the newest settings row changed or force is set.
func (p *Poller) Poll(ctx context.Context, force bool) error {
	if p == nil || p.db == nil {
		return fmt.Errorf("settings poller: nil db")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	qctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	// latestRow captures the newest setting timestamp for change detection.
	type latestRow struct {
		Key       string    `gorm:"column:key"`        // Latest settings key.
		UpdatedAt time.Time `gorm:"column:updated_at"` // Latest settings update time.
	}
	var latest latestRow
	hasLatest := true
	errLatest := p.db.WithContext(qctx).
		Model(&models.Setting{}).
		Select("key", "updated_at").
		Order("updated_at DESC, key DESC").
		Limit(1).
		Take(&latest).Error
	if errLatest != nil {
		if !errors.Is(errLatest, gorm.ErrRecordNotFound) {
			return fmt.Errorf("settings poller: query latest: %w", errLatest)
		}
		hasLatest = false
	}
	latestKey := strings.TrimSpace(latest.Key)
	latestAt := latest.UpdatedAt.UTC()

	if !force && hasLatest == p.hasLatest && latestAt.Equal(p.latestAt) && latestKey == p.latestKey {
		return nil
	}

	var rows []models.Setting
	if errFind := p.db.WithContext(qctx).
		Select("key", "value", "updated_at").
		Order("key ASC").
		Find(&rows).Error; errFind != nil {
		return fmt.Errorf("settings poller: query settings: %w", errFind)
	}

	values := make(map[string]json.RawMessage, len(rows))
	for _, row := range rows {
		key := strings.TrimSpace(row.Key)
		if key == "" {
			continue
		}
		values[key] = json.RawMessage(row.Value)
	}
	StoreDBConfig(latestAt, values)
	log.Infof("settings poller: loaded %d settings (latest_updated_at=%s latest_key=%s)", len(values), latestAt.Format(time.RFC3339Nano), latestKey)

	p.latestAt = latestAt
	p.latestKey = latestKey
	p.hasLatest = hasLatest
	return nil
}
