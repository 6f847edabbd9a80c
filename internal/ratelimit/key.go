package ratelimit

import (
	"strconv"
	"strings"
)

// normalizeKey makes keys comparable regardless of the location of Start.
func normalizeKey(key CounterKey) CounterKey {
	key.APIKeyID = strings.TrimSpace(key.APIKeyID)
	key.Start = key.Start.UTC()
	return key
}

// redisKeyFor builds the Redis key of a window counter.
func redisKeyFor(prefix string, key CounterKey) string {
	key = normalizeKey(key)
	parts := []string{key.APIKeyID, string(key.Window), strconv.FormatInt(key.Start.Unix(), 10)}
	prefix = strings.TrimSpace(prefix)
	if prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	return strings.Join(parts, ":")
}
