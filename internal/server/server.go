// Package server sets up the operational HTTP surface: check endpoints for
// synchronous callers, task enqueue, audit queries, and health/metrics.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/mbd888/riskcore/internal/audit"
	"github.com/mbd888/riskcore/internal/config"
	"github.com/mbd888/riskcore/internal/credit"
	"github.com/mbd888/riskcore/internal/feed"
	"github.com/mbd888/riskcore/internal/health"
	"github.com/mbd888/riskcore/internal/idgen"
	"github.com/mbd888/riskcore/internal/jobs"
	"github.com/mbd888/riskcore/internal/logging"
	"github.com/mbd888/riskcore/internal/metrics"
	"github.com/mbd888/riskcore/internal/notify"
	"github.com/mbd888/riskcore/internal/provider"
	"github.com/mbd888/riskcore/internal/queue"
	"github.com/mbd888/riskcore/internal/risk"
	"github.com/mbd888/riskcore/internal/store"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	subjects     store.SubjectStore
	txns         store.TransactionStore
	auditor      audit.Logger
	scorer       *risk.Scorer
	creditSvc    *credit.Service
	fraudProc    *jobs.FraudProcessor
	creditProc   *jobs.CreditProcessor
	reviewWorker *jobs.ReviewWorker
	dispatcher   *queue.Dispatcher
	notifier     notify.Notifier
	feedHub      *feed.Hub
	checks       *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithNotifier sets a custom notifier (for testing)
func WithNotifier(n notify.Notifier) Option {
	return func(s *Server) {
		s.notifier = n
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
		checks: health.NewRegistry(),
	}

	// Apply options first (may set logger/notifier)
	for _, opt := range opts {
		opt(s)
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var taskStore queue.TaskStore
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.subjects = store.NewPostgresSubjectStore(db)
		s.txns = store.NewPostgresTransactionStore(db)
		s.auditor = audit.NewPostgresLogger(db)
		taskStore = queue.NewPostgresTaskStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.subjects = store.NewMemorySubjectStore()
		s.txns = store.NewMemoryTransactionStore()
		s.auditor = audit.NewMemoryLogger()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Providers fail here on unknown names, not on the first check
	fraudProv, err := provider.NewFraudProvider(cfg, s.logger)
	if err != nil {
		return nil, fmt.Errorf("fraud provider: %w", err)
	}
	bureau, err := provider.NewCreditBureau(cfg, s.logger)
	if err != nil {
		return nil, fmt.Errorf("credit bureau: %w", err)
	}
	s.logger.Info("providers configured",
		"fraud", cfg.FraudProvider, "credit", cfg.CreditProvider)

	s.scorer = risk.NewScorer(fraudProv, s.txns, s.auditor, s.logger)
	s.creditSvc = credit.NewService(bureau, s.subjects, s.auditor, s.logger)

	if s.notifier == nil {
		if cfg.NotifyWebhookURL != "" {
			s.notifier = notify.NewWebhookNotifier(cfg.NotifyWebhookURL, s.logger)
			s.logger.Info("webhook notifications enabled")
		} else {
			s.notifier = notify.NewLogNotifier(s.logger)
		}
	}

	// Decision feed for ops dashboards
	s.feedHub = feed.NewHub(s.logger)

	s.fraudProc = jobs.NewFraudProcessor(s.scorer, s.subjects, s.txns, s.notifier, s.feedHub, s.logger)
	s.creditProc = jobs.NewCreditProcessor(s.creditSvc, s.subjects, s.notifier, s.feedHub, s.logger)
	s.reviewWorker = jobs.NewReviewWorker(s.subjects, s.txns, s.notifier, cfg.ReviewInterval, s.logger)

	// Fraud tasks that exhaust retries park the transaction for a human
	s.dispatcher = queue.NewDispatcher(cfg.Workers, cfg.MaxAttempts, taskStore, s.fraudProc.FlagForReview, s.logger)
	jobs.Register(s.dispatcher, s.fraudProc, s.creditProc, s.reviewWorker)

	s.registerHealthChecks()

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func (s *Server) registerHealthChecks() {
	if s.db != nil {
		s.checks.Register("database", func(ctx context.Context) health.Status {
			ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := s.db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}
	s.checks.Register("queue", func(_ context.Context) health.Status {
		if !s.dispatcher.Running() {
			return health.Status{Name: "queue", Healthy: false, Detail: "worker pool not running"}
		}
		return health.Status{Name: "queue", Healthy: true}
	})
	s.checks.Register("review_worker", func(_ context.Context) health.Status {
		if !s.reviewWorker.Running() {
			return health.Status{Name: "review_worker", Healthy: false, Detail: "sweep loop not running"}
		}
		return health.Status{Name: "review_worker", Healthy: true}
	})
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Check correlation ID
	s.router.Use(s.checkIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) checkIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Honor an existing ID (from load balancer, upstream gateway, etc.)
		checkID := c.GetHeader("X-Check-ID")
		if checkID == "" {
			checkID = idgen.WithPrefix("chk_")
		}

		ctx := logging.WithCheckID(c.Request.Context(), checkID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Check-ID", checkID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket decision feed for ops dashboards
	s.router.GET("/ws", func(c *gin.Context) {
		s.feedHub.HandleWebSocket(c.Writer, c.Request)
	})

	v1 := s.router.Group("/v1")

	// Synchronous check endpoints for checkout-path callers
	v1.POST("/checks/fraud", s.fraudCheckHandler)
	v1.POST("/checks/credit", s.creditCheckHandler)

	// Async task enqueue (background analysis, periodic reviews)
	v1.POST("/tasks", s.enqueueTaskHandler)

	// Read endpoints
	v1.GET("/subjects/:id", s.getSubjectHandler)
	v1.GET("/transactions/:id", s.getTransactionHandler)
	v1.GET("/audit", s.auditQueryHandler)
	v1.GET("/credit/report/:subject", s.creditReportHandler)
}

// -----------------------------------------------------------------------------
// Health handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Checks    []health.Status        `json:"checks,omitempty"`
	Feed      map[string]interface{} `json:"feed,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.checks.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
		Feed:      s.feedHub.Stats(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start decision feed hub
	go s.feedHub.Run(runCtx)

	// Start task worker pool
	go s.dispatcher.Start(runCtx)

	// Start periodic review worker
	go s.reviewWorker.Start(runCtx)

	// Collect DB pool stats
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, workers)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop review worker
	s.reviewWorker.Stop()
	s.logger.Info("review worker stopped")

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Dispatcher returns the task dispatcher for testing
func (s *Server) Dispatcher() *queue.Dispatcher {
	return s.dispatcher
}
