package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmailbot/backend/internal/monitoring"
)

// Monitoring HTTP 指标与 panic 恢复中间件
type Monitoring struct {
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewMonitoring 创建监控中间件
func NewMonitoring(metrics *monitoring.Metrics, logger *zap.Logger) *Monitoring {
	return &Monitoring{
		metrics: metrics,
		logger:  logger,
	}
}

// HTTPMetrics 记录请求量与耗时指标
func (m *Monitoring) HTTPMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		m.metrics.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			endpoint,
			strconv.Itoa(c.Writer.Status()),
		).Inc()
		m.metrics.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			endpoint,
		).Observe(time.Since(start).Seconds())
	}
}

// RequestLogger 结构化请求日志
func (m *Monitoring) RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		m.logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}

// PanicRecovery panic 恢复中间件，保证一次请求的崩溃不拖垮进程
func (m *Monitoring) PanicRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				m.metrics.PanicsTotal.Inc()
				m.logger.Error("panic recovered",
					zap.Any("error", err),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.String("ip", c.ClientIP()),
				)
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "Internal server error",
				})
				c.Abort()
			}
		}()

		c.Next()
	}
}
