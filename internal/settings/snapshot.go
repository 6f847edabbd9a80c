package settings

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

var (
	dbConfigMu        sync.RWMutex
	dbConfigValues    map[string]json.RawMessage
	dbConfigUpdatedAt time.Time
	dbConfigVersion   uint64
)

// StoreDBConfig replaces the in-memory snapshot of DB-backed settings.
func StoreDBConfig(updatedAt time.Time, values map[string]json.RawMessage) {
	next := make(map[string]json.RawMessage, len(values))
	for key, value := range values {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		next[key] = append(json.RawMessage(nil), value...)
	}
	dbConfigMu.Lock()
	dbConfigValues = next
	dbConfigUpdatedAt = updatedAt.UTC()
	dbConfigVersion++
	dbConfigMu.Unlock()
}

// DBConfigValue returns the raw JSON value of a setting from the snapshot.
func DBConfigValue(key string) (json.RawMessage, bool) {
	dbConfigMu.RLock()
	defer dbConfigMu.RUnlock()
	value, ok := dbConfigValues[strings.TrimSpace(key)]
	if !ok || len(value) == 0 {
		return nil, false
	}
	return value, true
}

// DBConfigUpdatedAt returns the newest update time in the snapshot.
func DBConfigUpdatedAt() time.Time {
	dbConfigMu.RLock()
	defer dbConfigMu.RUnlock()
	return dbConfigUpdatedAt
}

// DBConfigVersion increases every time the snapshot is replaced.
func DBConfigVersion() uint64 {
	dbConfigMu.RLock()
	defer dbConfigMu.RUnlock()
	return dbConfigVersion
}
