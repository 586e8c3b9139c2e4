package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"jobscheduler/pkg/logger"
)

// 探活和采集接口调用频繁,不记录访问日志
var skipLogPaths = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

// Log 访问日志,5xx 记为 error,4xx 记为 warn
func Log(c *gin.Context) {
	start := time.Now()
	c.Next()
	if _, ok := skipLogPaths[c.Request.URL.Path]; ok {
		return
	}

	status := c.Writer.Status()
	level := zapcore.InfoLevel
	switch {
	case status >= http.StatusInternalServerError:
		level = zapcore.ErrorLevel
	case status >= http.StatusBadRequest:
		level = zapcore.WarnLevel
	}
	l := logger.From(c.Request.Context())
	ce := l.Check(level, "access")
	if ce == nil {
		return
	}
	fields := []zap.Field{
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("query", c.Request.URL.RawQuery),
		zap.Int("status", status),
		zap.Duration("latency", time.Since(start)),
		zap.Int("body_size", c.Writer.Size()),
	}
	if errs := c.Errors.ByType(gin.ErrorTypePrivate).String(); errs != "" {
		fields = append(fields, zap.String("errors", errs))
	}
	ce.Write(fields...)
}
