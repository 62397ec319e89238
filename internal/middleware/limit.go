package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	// defaultUploadConcurrency is the fallback slot count when maxConcurrent ≤ 0.
	defaultUploadConcurrency = 64

	// retryAfterSeconds is the value of the Retry-After header sent on 503.
	retryAfterSeconds = "5"
)

// UploadLimiter caps the number of uploads in flight using a non-blocking
// channel semaphore. Each upload may decode and re-encode a full-size image,
// so a full semaphore answers 503 + Retry-After instead of queuing.
type UploadLimiter struct {
	sem chan struct{}
}

// NewUploadLimiter creates a limiter allowing at most maxConcurrent simultaneous uploads.
func NewUploadLimiter(maxConcurrent int) *UploadLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultUploadConcurrency
	}
	return &UploadLimiter{sem: make(chan struct{}, maxConcurrent)}
}

// Limit returns middleware that must acquire a slot before the handler runs.
// Requests that cannot acquire immediately get 503.
func (l *UploadLimiter) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		select {
		case l.sem <- struct{}{}:
			defer func() { <-l.sem }()
			c.Next()
		default:
			c.Header("Retry-After", retryAfterSeconds)
			c.Header("X-Active-Uploads", strconv.Itoa(len(l.sem)))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "server at capacity, retry in " + retryAfterSeconds + "s"})
		}
	}
}

// Active returns the number of upload slots currently in use.
func (l *UploadLimiter) Active() int { return len(l.sem) }

// Cap returns the maximum number of concurrent upload slots.
func (l *UploadLimiter) Cap() int { return cap(l.sem) }
