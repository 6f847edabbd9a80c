package ratelimit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	internalsettings "github.com/router-for-me/CLIProxyAPIPortal/internal/settings"
	log "github.com/sirupsen/logrus"
)

// SettingsConfig captures rate limit settings stored in DB config.
type SettingsConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	Location      *time.Location
	FailOpen      bool
}

// settingsCache holds the parsed config of one snapshot version.
var settingsCache struct {
	mu      sync.Mutex
	valid   bool
	version uint64
	cfg     SettingsConfig
}

// LoadSettingsConfig returns the rate limit settings parsed from the current snapshot.
// The result is cached until the snapshot is replaced.
func LoadSettingsConfig() SettingsConfig {
	version := internalsettings.DBConfigVersion()
	settingsCache.mu.Lock()
	defer settingsCache.mu.Unlock()
	if settingsCache.valid && settingsCache.version == version {
		return settingsCache.cfg
	}
	cfg := buildSettingsConfig()
	settingsCache.valid = true
	settingsCache.version = version
	settingsCache.cfg = cfg
	return cfg
}

func buildSettingsConfig() SettingsConfig {
	cfg := SettingsConfig{
		Backend:     internalsettings.DefaultRateLimitBackend,
		RedisPrefix: internalsettings.DefaultRateLimitRedisPrefix,
		Location:    time.Local,
		FailOpen:    internalsettings.DefaultRateLimitFailOpen,
	}

	if raw, ok := internalsettings.DBConfigValue(internalsettings.RateLimitBackendKey); ok {
		if backend, okParse := parseString(raw); okParse {
			cfg.Backend = strings.ToLower(backend)
		}
	}
	if raw, ok := internalsettings.DBConfigValue(internalsettings.RateLimitRedisAddrKey); ok {
		if addr, okParse := parseString(raw); okParse {
			cfg.RedisAddr = addr
		}
	}
	if raw, ok := internalsettings.DBConfigValue(internalsettings.RateLimitRedisPasswordKey); ok {
		if password, okParse := parseString(raw); okParse {
			cfg.RedisPassword = password
		}
	}
	if raw, ok := internalsettings.DBConfigValue(internalsettings.RateLimitRedisDBKey); ok {
		if db, okParse := parseNonNegativeInt(raw); okParse {
			cfg.RedisDB = db
		}
	}
	if raw, ok := internalsettings.DBConfigValue(internalsettings.RateLimitRedisPrefixKey); ok {
		if prefix, okParse := parseString(raw); okParse {
			cfg.RedisPrefix = prefix
		}
	}
	if raw, ok := internalsettings.DBConfigValue(internalsettings.RateLimitTimezoneKey); ok {
		if name, okParse := parseString(raw); okParse {
			loc, errLoc := ParseLocation(name)
			if errLoc != nil {
				log.WithError(errLoc).Warn("rate limit: invalid timezone setting, using local time")
			} else {
				cfg.Location = loc
			}
		}
	}
	if raw, ok := internalsettings.DBConfigValue(internalsettings.RateLimitFailOpenKey); ok {
		if failOpen, okParse := parseBool(raw); okParse {
			cfg.FailOpen = failOpen
		}
	}
	switch cfg.Backend {
	case internalsettings.BackendDatabase, internalsettings.BackendRedis, internalsettings.BackendMemory:
	default:
		cfg.Backend = internalsettings.DefaultRateLimitBackend
	}
	cfg.RedisAddr = strings.TrimSpace(cfg.RedisAddr)
	cfg.RedisPassword = strings.TrimSpace(cfg.RedisPassword)
	cfg.RedisPrefix = strings.TrimSpace(cfg.RedisPrefix)
	if cfg.RedisPrefix == "" {
		cfg.RedisPrefix = internalsettings.DefaultRateLimitRedisPrefix
	}
	return cfg
}

// SettingsLocation returns the configured window timezone.
func SettingsLocation() *time.Location {
	return LoadSettingsConfig().Location
}

// SettingsFailOpen reports whether requests pass when the counter store fails.
func SettingsFailOpen() bool {
	return LoadSettingsConfig().FailOpen
}

var (
	errStringValue             = errors.New("value must be a string")
	errBoolValue               = errors.New("value must be a boolean")
	errNonNegativeIntegerValue = errors.New("value must be a non-negative integer")
)

// ValidateSetting checks a rate limit setting value before it is stored.
// Keys outside the rate limit namespace are accepted as-is.
func ValidateSetting(key string, raw json.RawMessage) error {
	switch key {
	case internalsettings.RateLimitBackendKey:
		backend, ok := parseString(raw)
		if !ok {
			return errStringValue
		}
		switch strings.ToLower(backend) {
		case internalsettings.BackendDatabase, internalsettings.BackendRedis, internalsettings.BackendMemory:
			return nil
		}
		return fmt.Errorf("unsupported backend %q (want %s, %s or %s)", backend,
			internalsettings.BackendDatabase, internalsettings.BackendRedis, internalsettings.BackendMemory)
	case internalsettings.RateLimitRedisAddrKey, internalsettings.RateLimitRedisPasswordKey, internalsettings.RateLimitRedisPrefixKey:
		if _, ok := parseString(raw); !ok {
			return errStringValue
		}
	case internalsettings.RateLimitRedisDBKey:
		if _, ok := parseNonNegativeInt(raw); !ok {
			return errNonNegativeIntegerValue
		}
	case internalsettings.RateLimitTimezoneKey:
		name, ok := parseString(raw)
		if !ok {
			return errStringValue
		}
		if _, errLoc := ParseLocation(name); errLoc != nil {
			return errLoc
		}
	case internalsettings.RateLimitFailOpenKey:
		if _, ok := parseBool(raw); !ok {
			return errBoolValue
		}
	}
	return nil
}

func parseBool(raw json.RawMessage) (bool, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false, false
	}
	var parsedBool bool
	if errUnmarshalBool := json.Unmarshal(raw, &parsedBool); errUnmarshalBool == nil {
		return parsedBool, true
	}
	var parsedString string
	if errUnmarshalString := json.Unmarshal(raw, &parsedString); errUnmarshalString == nil {
		switch strings.ToLower(strings.TrimSpace(parsedString)) {
		case "1", "true", "yes", "y", "on":
			return true, true
		case "0", "false", "no", "n", "off":
			return false, true
		default:
			return false, false
		}
	}
	var parsedFloat float64
	if errUnmarshalFloat := json.Unmarshal(raw, &parsedFloat); errUnmarshalFloat == nil {
		if math.IsNaN(parsedFloat) || math.IsInf(parsedFloat, 0) {
			return false, false
		}
		if parsedFloat == 1 {
			return true, true
		}
		if parsedFloat == 0 {
			return false, true
		}
	}
	return false, false
}

func parseString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}
	var parsedString string
	if errUnmarshal := json.Unmarshal(raw, &parsedString); errUnmarshal == nil {
		return strings.TrimSpace(parsedString), true
	}
	return "", false
}

func parseNonNegativeInt(raw json.RawMessage) (int, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, false
	}
	var parsedInt int
	if errUnmarshalInt := json.Unmarshal(raw, &parsedInt); errUnmarshalInt == nil {
		return parsedInt, parsedInt >= 0
	}
	var parsedString string
	if errUnmarshalString := json.Unmarshal(raw, &parsedString); errUnmarshalString == nil {
		parsed, errParse := strconv.Atoi(strings.TrimSpace(parsedString))
		if errParse != nil {
			return 0, false
		}
		return parsed, parsed >= 0
	}
	var parsedFloat float64
	if errUnmarshalFloat := json.Unmarshal(raw, &parsedFloat); errUnmarshalFloat == nil {
		if math.IsNaN(parsedFloat) || math.IsInf(parsedFloat, 0) {
			return 0, false
		}
		if parsedFloat < 0 || parsedFloat != math.Trunc(parsedFloat) {
			return 0, false
		}
		return int(parsedFloat), true
	}
	return 0, false
}
