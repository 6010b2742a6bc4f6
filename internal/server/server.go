// Package server exposes the subtitle pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mgpai22/subburn/internal/config"
	"github.com/mgpai22/subburn/internal/logging"
	"github.com/mgpai22/subburn/internal/pipeline"
	"github.com/mgpai22/subburn/internal/store"
)

// Processor runs one uploaded file through the pipeline.
type Processor interface {
	Process(ctx context.Context, req pipeline.Request) (*pipeline.Outcome, error)
}

// OutputIndex looks up recorded outputs. Only recorded files are served.
type OutputIndex interface {
	GetByFilename(ctx context.Context, filename string) (*store.Output, error)
}

// Server owns the gin router and HTTP listener.
type Server struct {
	cfg       config.Server
	workDir   string
	outputDir string
	metrics   bool
	processor Processor
	outputs   OutputIndex
	limiter   *ipRateLimiter
	log       *logging.Logger
	router    *gin.Engine
}

// New builds the router for cfg. processor handles POST /transcribe and
// outputs gates GET /download-video.
func New(cfg *config.Config, processor Processor, outputs OutputIndex, log *logging.Logger) *Server {
	initMetrics()

	s := &Server{
		cfg:       cfg.Server,
		workDir:   cfg.Storage.WorkDir,
		outputDir: cfg.Storage.OutputDir,
		metrics:   cfg.Metrics.Enabled,
		processor: processor,
		outputs:   outputs,
		limiter:   newIPRateLimiter(cfg.Server.RateLimitPerMinute, cfg.Server.RateLimitBurst),
		log:       log.Component("http"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(accessLogMiddleware(s.log))
	if s.metrics {
		router.Use(metricsMiddleware())
	}

	corsCfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", requestIDHeader},
		ExposeHeaders: []string{"Content-Length", "Content-Disposition", requestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(s.cfg.CORSOrigins) == 1 && s.cfg.CORSOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = s.cfg.CORSOrigins
	}
	router.Use(cors.New(corsCfg))

	router.GET("/health", s.handleHealth)
	if s.metrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	router.POST("/transcribe", s.limiter.middleware(), s.handleTranscribe)
	router.GET("/download-video/:filename", s.handleDownload)

	return router
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully within the
// configured timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.limiter != nil {
		go s.limiter.run(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("listening", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Infow("shutting down", "timeout", s.cfg.ShutdownTimeout.Duration)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout.Duration)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
