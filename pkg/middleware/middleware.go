// Package middleware 提供 Gin 通用中间件（访问日志、指标、panic 恢复、CORS、限流）
package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lmckeown27/avila-protocol-testnet-sub003/pkg/metrics"
	"github.com/lmckeown27/avila-protocol-testnet-sub003/pkg/ratelimit"
)

// RequestIDKey 请求 ID 在 gin context 中的键
const RequestIDKey = "request_id"

// Logging 访问日志与请求指标中间件。
// 每个请求分配一个 request ID，完成后记录耗时与状态码。
func Logging(logger *slog.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set(RequestIDKey, requestID)
		c.Header("X-Request-ID", requestID)

		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		if m != nil {
			m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration.Seconds())
		}

		logger.Info("http request",
			"request_id", requestID,
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"client_ip", c.ClientIP(),
			"duration_ms", duration.Milliseconds(),
		)
	}
}

// Recovery panic 恢复中间件，记录堆栈并返回 500
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				requestID, _ := c.Get(RequestIDKey)
				logger.Error("http request panicked",
					"request_id", requestID,
					"path", c.Request.URL.Path,
					"panic", err,
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":      "internal server error",
					"request_id": requestID,
				})
			}
		}()
		c.Next()
	}
}

// CORS 跨域中间件
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RateLimit 基于 Redis 的按客户端 IP 限流中间件。
// 限流器故障时放行，避免 Redis 抖动拖垮交易接口。
func RateLimit(limiter ratelimit.RateLimiter, qps, burst int) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := limiter.AllowPerSecond(c.Request.Context(), "ratelimit:"+c.ClientIP(), qps, burst)
		if err != nil {
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(burst))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(int64(res.ResetAfter/time.Second), 10))

		if !res.Allowed {
			c.Header("Retry-After", strconv.FormatInt(int64(res.RetryAfter/time.Second), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
