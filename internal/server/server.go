package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"partsbin/internal/config"
	"partsbin/internal/pipeline"
	"partsbin/internal/storage"
)

// Server wires the HTTP surface: upload-and-preview, commit, and the
// manual-review export.
type Server struct {
	cfg        *config.Config
	log        *zap.Logger
	db         *storage.DB
	previewer  *pipeline.Previewer
	reconciler *pipeline.Reconciler
	engine     *gin.Engine
}

func New(cfg *config.Config, db *storage.DB, log *zap.Logger) *Server {
	parser := pipeline.NewParser(log)
	stager := pipeline.NewImageStager(
		cfg.ImageDir,
		cfg.ImageFetchRPS,
		cfg.ImageFetchWorkers,
		time.Duration(cfg.ImageFetchTimeoutMs)*time.Millisecond,
		log,
	)

	s := &Server{
		cfg:        cfg,
		log:        log,
		db:         db,
		previewer:  pipeline.NewPreviewer(parser, stager, log),
		reconciler: pipeline.NewReconciler(db, cfg.ReviewThreshold, log),
	}
	s.engine = s.buildEngine()
	return s
}

func (s *Server) buildEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestID())
	r.Use(s.requestLogger())
	if s.cfg.CORSEnabled {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     []string{"*"},
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Request-Id"},
			ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.GET("/health", s.handleHealth)

	api := r.Group("/api")
	{
		api.POST("/import/preview", s.handlePreview)
		api.POST("/import/commit", s.handleCommit)
		api.GET("/review/export", s.handleReviewExport)
	}
	return r
}

// Run blocks serving HTTP until ctx is cancelled, then shuts down with a
// short grace period.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", s.cfg.HTTPAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("requestId", id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("requestId", c.GetString("requestId")),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
