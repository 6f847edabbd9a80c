package settings

// DB config keys and defaults for settings.
const (
	// RateLimitBackendKey selects the counter store backend.
	RateLimitBackendKey = "RATE_LIMIT_BACKEND"
	// RateLimitRedisAddrKey defines the Redis address for rate limiting.
	RateLimitRedisAddrKey = "RATE_LIMIT_REDIS_ADDR"
	// RateLimitRedisPasswordKey defines the Redis password for rate limiting.
	RateLimitRedisPasswordKey = "RATE_LIMIT_REDIS_PASSWORD"
	// RateLimitRedisDBKey defines the Redis DB index for rate limiting.
	RateLimitRedisDBKey = "RATE_LIMIT_REDIS_DB"
	// RateLimitRedisPrefixKey defines the Redis key prefix for rate limiting.
	RateLimitRedisPrefixKey = "RATE_LIMIT_REDIS_PREFIX"
	// RateLimitTimezoneKey sets the timezone that aligns window boundaries.
	// Changing it mid-day moves the day window start, so every key gets a fresh day budget.
	RateLimitTimezoneKey = "RATE_LIMIT_TIMEZONE"
	// RateLimitFailOpenKey lets requests through when the counter store fails.
	RateLimitFailOpenKey = "RATE_LIMIT_FAIL_OPEN"
	// BackendDatabase stores counters in the SQL database.
	BackendDatabase = "database"
	// BackendRedis stores counters in Redis.
	BackendRedis = "redis"
	// BackendMemory stores counters in process memory.
	BackendMemory = "memory"
	// DefaultRateLimitBackend is the fallback counter store backend.
	DefaultRateLimitBackend = BackendDatabase
	// DefaultRateLimitRedisPrefix is the fallback Redis key prefix.
	DefaultRateLimitRedisPrefix = "portal:rl"
	// DefaultRateLimitTimezone keeps window boundaries on the server wall clock.
	DefaultRateLimitTimezone = "Local"
	// DefaultRateLimitFailOpen rejects requests when the counter store fails.
	DefaultRateLimitFailOpen = false
)
