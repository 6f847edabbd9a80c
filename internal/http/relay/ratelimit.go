package relay

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CLIProxyAPIPortal/internal/access"
	"github.com/router-for-me/CLIProxyAPIPortal/internal/ratelimit"
	log "github.com/sirupsen/logrus"
)

// Rate limit response headers.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// Checker consumes one request from the rate limit of an API key.
type Checker interface {
	Check(ctx context.Context, apiKeyID, userID string) (ratelimit.Decision, error)
}

// FailOpenFunc reports whether requests pass when the counter store is unavailable.
type FailOpenFunc func() bool

// RateLimitMiddleware enforces API key limits before the request reaches the upstream.
func RateLimitMiddleware(checker Checker, failOpen FailOpenFunc) gin.HandlerFunc {
	if failOpen == nil {
		failOpen = func() bool { return false }
	}
	return func(c *gin.Context) {
		principal, ok := access.PrincipalFromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing api key"})
			return
		}
		if checker == nil {
			c.Next()
			return
		}

		decision, errCheck := checker.Check(c.Request.Context(), principal.APIKeyID, principal.UserID)
		if errCheck != nil {
			switch {
			case errors.Is(errCheck, ratelimit.ErrConfigNotFound):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "api key not found"})
			case failOpen():
				log.WithError(errCheck).WithField("api_key_id", principal.APIKeyID).Warn("rate limit: check failed, letting request through")
				c.Next()
			default:
				log.WithError(errCheck).WithField("api_key_id", principal.APIKeyID).Error("rate limit: check failed")
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "rate limiter unavailable"})
			}
			return
		}

		WriteRateLimitHeaders(c.Writer.Header(), decision)
		if !decision.Allowed {
			retryAfter := int(time.Until(decision.ResetTime).Round(time.Second).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header(HeaderRetryAfter, strconv.Itoa(retryAfter))
			log.WithFields(log.Fields{
				"api_key_id": principal.APIKeyID,
				"limit_type": decision.LimitType,
			}).Debug("rate limit: request denied")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"limit_type": decision.LimitType,
				"reset_at":   decision.ResetTime.UTC(),
			})
			return
		}
		c.Next()
	}
}

// WriteRateLimitHeaders sets the X-RateLimit-* headers derived from decision.
func WriteRateLimitHeaders(header http.Header, decision ratelimit.Decision) {
	if header == nil {
		return
	}
	header.Set(HeaderRateLimitLimit, strconv.Itoa(decision.Limit))
	header.Set(HeaderRateLimitRemaining, strconv.Itoa(decision.Remaining))
	header.Set(HeaderRateLimitReset, strconv.FormatInt(decision.ResetTime.Unix(), 10))
}
