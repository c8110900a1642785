// Package gateway implements components F and G's HTTP surface: the
// gin.Engine, its routes, and the handlers that translate wire requests into
// internal/inference and internal/feedback calls. Grounded on the teacher's
// internal/server package (server.go's Engine/Config/Run/Shutdown shape,
// routes.go's route-group layout), generalized from axonhub's many auth/CORS/
// tenant middlewares down to the gateway's much smaller surface.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tensorzero/gateway/internal/cache"
	"github.com/tensorzero/gateway/internal/evaluation"
	"github.com/tensorzero/gateway/internal/feedback"
	"github.com/tensorzero/gateway/internal/gwconfig"
	"github.com/tensorzero/gateway/internal/inference"
	"github.com/tensorzero/gateway/internal/log"
	"github.com/tensorzero/gateway/internal/metrics"
	"github.com/tensorzero/gateway/internal/objectstore"
	"github.com/tensorzero/gateway/internal/provider"
)

// Config configures the HTTP listener.
type Config struct {
	Host    string        `mapstructure:"host"`
	Port    int           `mapstructure:"port"`
	Debug   bool          `mapstructure:"debug"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func (c Config) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}

	return 5 * time.Minute
}

// Deps bundles every component the HTTP surface dispatches into. Datasets
// and FeedbackReader are optional: a gateway deployed without an analytical
// store wired in leaves them nil, and the routes that need them report 503
// rather than panicking or silently no-oping.
type Deps struct {
	Store      *gwconfig.Store
	Cache      *cache.Store
	Providers  *provider.Registry
	Sink       inference.Sink
	Feedback   feedback.Sink
	Evaluation *evaluation.Runner

	Datasets       DatasetWriter
	FeedbackReader FeedbackReader

	ObjectStore *objectstore.Store
	Metrics     *metrics.Recorder
}

// Server wraps gin.Engine with the gateway's lifecycle, mirroring the
// teacher's server.Server (embedded *gin.Engine plus an *http.Server for
// graceful Shutdown).
type Server struct {
	*gin.Engine

	Config Config

	srv *http.Server
}

// New builds the engine, installs the shared middleware, and registers
// every route from spec.md §6's HTTP surface table.
func New(cfg Config, deps Deps) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(accessLog())

	s := &Server{Engine: engine, Config: cfg}

	setupRoutes(engine, deps, cfg.timeout())

	if deps.Evaluation != nil {
		RegisterEvaluationRoute(engine, deps.Evaluation, cfg.timeout())
	}

	return s
}

// Run blocks serving HTTP until Shutdown is called.
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Host, s.Config.Port)

	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.Engine,
	}

	log.Info(context.Background(), "gateway listening", log.String("addr", addr))

	err := s.srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown gracefully stops the listener, letting in-flight requests finish
// (bounded by ctx), so component F/H's persist-on-detached-context path gets
// a chance to enqueue before the process exits.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}

	return s.srv.Shutdown(ctx)
}

// accessLog logs non-2xx responses, mirroring the teacher's
// middleware.AccessLog (status/method/path/latency, errors-only by default).
func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		if status < 400 {
			return
		}

		ctx := c.Request.Context()

		fields := []log.Field{
			log.Int("status", status),
			log.String("method", c.Request.Method),
			log.String("path", c.Request.URL.Path),
			log.Int64("latency_ms", time.Since(start).Milliseconds()),
		}

		for _, e := range c.Errors {
			fields = append(fields, log.String("error", e.Error()))
		}

		log.Error(ctx, "[ACCESS]", fields...)
	}
}
