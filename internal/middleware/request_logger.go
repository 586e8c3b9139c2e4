package middleware

import (
	"github.com/gin-gonic/gin"
	uuid "github.com/satori/go.uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"jobscheduler/pkg/logger"
)

const HeaderTraceID = "X-Trace-ID"

// RequestLogger 设置请求日志,请求头X-Trace-ID为空时自动生成
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(HeaderTraceID)
		if traceID == "" {
			traceID = uuid.NewV4().String()
			c.Request.Header.Set(HeaderTraceID, traceID)
		}
		c.Writer.Header().Set(HeaderTraceID, traceID)
		l := log.With(zap.String("trace_id", traceID), zap.String("client_ip", c.ClientIP()))
		c.Request = c.Request.WithContext(logger.With(c.Request.Context(), l))
		c.Next()
	}
}

// Tracing 每个请求一个span
func Tracing(service string) gin.HandlerFunc {
	tracer := otel.Tracer(service)
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), c.FullPath())
		defer span.End()
		span.SetAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("trace_id", c.GetHeader(HeaderTraceID)),
		)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
	}
}
