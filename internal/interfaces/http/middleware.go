package http

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"chatrelay/internal/infrastructure"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

const (
	ctxCaller        = "caller"
	webhookKeyHeader = "X-API-Key"
)

type Middleware struct {
	jwtSecret         []byte
	webhookSecretHash []byte
	rateLimiters      *infrastructure.KeyedLimiters
}

// NewMiddleware builds the middleware set. An empty secret or hash disables the
// corresponding check.
func NewMiddleware(jwtSecret, webhookSecretHash string, limit rate.Limit, burst int) *Middleware {
	return &Middleware{
		jwtSecret:         []byte(jwtSecret),
		webhookSecretHash: []byte(webhookSecretHash),
		rateLimiters:      infrastructure.NewKeyedLimiters(limit, burst, infrastructure.LimiterIdleTTL),
	}
}

// ServiceAuth admits only callers presenting an HS256 bearer token signed with
// the shared service secret. The token subject becomes the caller identity.
func (m *Middleware) ServiceAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(m.jwtSecret) == 0 {
			c.Next()
			return
		}
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			abortWithError(c, http.StatusUnauthorized, "unauthorized", "Authorization header required")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return m.jwtSecret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			abortWithError(c, http.StatusUnauthorized, "unauthorized", "Invalid token")
			return
		}

		caller := "service"
		if sub, err := token.Claims.GetSubject(); err == nil && sub != "" {
			caller = sub
		}
		c.Set(ctxCaller, caller)
		c.Next()
	}
}

// RateLimitPerCaller limits requests per authenticated caller, falling back to
// the client IP when no caller identity is set.
func (m *Middleware) RateLimitPerCaller() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetString(ctxCaller)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}

		if !m.rateLimiters.Get(key).Allow() {
			abortWithError(c, http.StatusTooManyRequests, "rate_limited", "Rate limit exceeded")
			return
		}
		c.Next()
	}
}

// WebhookSecret checks the X-API-Key header against the configured bcrypt hash.
func (m *Middleware) WebhookSecret() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(m.webhookSecretHash) == 0 {
			c.Next()
			return
		}
		key := c.GetHeader(webhookKeyHeader)
		if key == "" || bcrypt.CompareHashAndPassword(m.webhookSecretHash, []byte(key)) != nil {
			abortWithError(c, http.StatusUnauthorized, "unauthorized", "invalid webhook key")
			return
		}
		c.Next()
	}
}

// SecurityHeaders adds security headers to prevent common attacks
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("X-Content-Type-Options", "nosniff")
		c.Writer.Header().Set("X-Frame-Options", "DENY")
		c.Writer.Header().Set("Referrer-Policy", "no-referrer")
		c.Writer.Header().Set("Content-Security-Policy", "default-src 'none'")
		c.Next()
	}
}

// RequestSizeLimiter limits request body size to prevent DoS
func RequestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// RequestLogger logs one line per request.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		evt := log.Info()
		switch {
		case status >= http.StatusInternalServerError:
			evt = log.Error()
		case status >= http.StatusBadRequest:
			evt = log.Warn()
		}
		evt.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}
