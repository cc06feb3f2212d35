package middleware

import (
	"time"

	"github.com/annel0/voxel-tower/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// RequestLogger снабжает каждый HTTP-запрос trace-ID и пишет краткие логи.
// Запросы к служебным путям (quiet) пишутся на уровне Debug.
type RequestLogger struct {
	quiet map[string]struct{}
	log   *logging.Logger
}

// NewRequestLogger создаёт middleware; quietPaths: например /health и /metrics
func NewRequestLogger(quietPaths ...string) *RequestLogger {
	rl := &RequestLogger{
		quiet: make(map[string]struct{}, len(quietPaths)),
		log:   logging.GetComponentLogger("http"),
	}
	for _, p := range quietPaths {
		rl.quiet[p] = struct{}{}
	}
	return rl
}

func (rl *RequestLogger) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Пытаемся извлечь trace-id из OpenTelemetry, если уже создан.
		span := trace.SpanFromContext(c.Request.Context())
		var traceID string
		if span.SpanContext().IsValid() {
			traceID = span.SpanContext().TraceID().String()
		} else {
			traceID = uuid.NewString()
		}
		c.Set("trace_id", traceID)
		c.Header("X-Trace-Id", traceID)

		start := time.Now()
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		clientIP := c.ClientIP()

		logf := rl.log.Info
		if _, ok := rl.quiet[path]; ok {
			logf = rl.log.Debug
		}

		logf("[HTTP] ▶ %s %s ip=%s trace=%s", method, path, clientIP, traceID)

		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		logf("[HTTP] ◀ %s %s %d %s trace=%s", method, path, status, latency, traceID)
	}
}
