package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/fortressi/sagaorch"
	"github.com/fortressi/sagaorch/internal/response"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RouterConfig wires the API routes. Metrics is served at /metrics when set.
type RouterConfig[T sagaorch.Trigger] struct {
	Handler     *Handler[T]
	Metrics     http.Handler
	Logger      *zap.Logger
	ServiceName string
}

func NewRouter[T sagaorch.Trigger](cfg RouterConfig[T]) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(RequestLogger(cfg.Logger))

	r.GET("/healthz", response.HealthCheck)
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	v1 := r.Group("/v1")
	{
		h := cfg.Handler
		v1.POST("/sagas/:type", h.StartSaga)
		v1.GET("/sagas", h.ListSagas)
		v1.GET("/sagas/:id", h.GetSaga)
		v1.POST("/compensations/:id", h.CompensateSaga)

		v1.GET("/definitions", h.ListDefinitions)
		v1.GET("/definitions/:type", h.GetDefinition)
		v1.GET("/definitions/:type/graph", h.GetDefinitionGraph)
	}
	return r
}

// RequestLogger logs one line per request.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if log == nil {
			return
		}

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []zap.Field{
			zap.String("method", strings.ToUpper(c.Request.Method)),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		}
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
			fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
		}

		switch {
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}
