// Package server wires storage, services, and HTTP routes.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
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

	"github.com/clearhold/clearhold/internal/accounts"
	"github.com/clearhold/clearhold/internal/audit"
	"github.com/clearhold/clearhold/internal/config"
	"github.com/clearhold/clearhold/internal/contracts"
	"github.com/clearhold/clearhold/internal/escrow"
	"github.com/clearhold/clearhold/internal/health"
	"github.com/clearhold/clearhold/internal/ledger"
	"github.com/clearhold/clearhold/internal/logging"
	"github.com/clearhold/clearhold/internal/metrics"
	"github.com/clearhold/clearhold/internal/notify"
	"github.com/clearhold/clearhold/internal/payouts"
	"github.com/clearhold/clearhold/internal/processor"
	"github.com/clearhold/clearhold/internal/ratelimit"
	"github.com/clearhold/clearhold/internal/risk"
	"github.com/clearhold/clearhold/internal/security"
	"github.com/clearhold/clearhold/internal/traces"
	"github.com/clearhold/clearhold/internal/validation"
	"github.com/clearhold/clearhold/internal/webhook"
)

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg *config.Config

	accountStore accounts.Store
	balances     ledger.Store
	auditLog     audit.Store
	withdrawals  payouts.Store
	methods      payouts.MethodStore
	escrowStore  escrow.Store
	eventLedger  webhook.EventLedger
	notifyStore  notify.Store
	contractStore contracts.Store

	client          processor.Client
	riskEngine      *risk.Engine
	machine         *payouts.Machine
	coordinator     *payouts.Coordinator
	escrowService   *escrow.Service
	contractService *contracts.Service
	notifyService   *notify.Service
	hub             *notify.Hub
	webhookIngest   *webhook.Processor
	limiter         *ratelimit.Limiter

	healthReg *health.Registry

	db           *sql.DB // nil when using in-memory stores
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	shutdownTrace func(context.Context) error
	cancelRunCtx context.CancelFunc

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithProcessor sets a custom payment processor client (for testing).
func WithProcessor(c processor.Client) Option {
	return func(s *Server) {
		s.client = c
	}
}

// New creates a server. Configuration must already be validated; a
// missing webhook secret or processor key never gets this far.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logging.New(cfg.LogLevel, "json"),
		healthReg: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.accountStore = accounts.NewPostgresStore(db)
		s.balances = ledger.NewPostgresStore(db)
		s.auditLog = audit.NewPostgresStore(db)
		wdStore := payouts.NewPostgresStore(db)
		s.withdrawals = wdStore
		s.methods = wdStore
		s.escrowStore = escrow.NewPostgresStore(db)
		s.eventLedger = webhook.NewPostgresLedger(db)
		s.notifyStore = notify.NewPostgresStore(db)
		s.contractStore = contracts.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	} else {
		s.accountStore = accounts.NewMemoryStore()
		s.balances = ledger.NewMemoryStore()
		s.auditLog = audit.NewMemoryStore()
		wdStore := payouts.NewMemoryStore()
		s.withdrawals = wdStore
		s.methods = wdStore
		s.escrowStore = escrow.NewMemoryStore()
		s.eventLedger = webhook.NewMemoryLedger()
		s.notifyStore = notify.NewMemoryStore()
		s.contractStore = contracts.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	if s.client == nil {
		s.client = processor.NewStripeClient(cfg.StripeAPIKey, cfg.ProcessorTimeout)
	}

	// Live notification stream.
	s.hub = notify.NewHub(s.logger)
	s.notifyService = notify.NewService(s.notifyStore).WithHub(s.hub)

	// Risk engine reads history through a composite projection over
	// the stores; assessment outcomes land in the audit trail.
	s.riskEngine = risk.NewEngine(&historyReader{
		accounts:    s.accountStore,
		withdrawals: s.withdrawals,
		methods:     s.methods,
		balances:    s.balances,
		auditLog:    s.auditLog,
	}, riskConfig(cfg), s.logger).WithRecorder(s.auditLog)

	s.machine = payouts.NewMachine(s.withdrawals, s.balances).WithNotifier(s.notifyService)
	s.coordinator = payouts.NewCoordinator(
		s.withdrawals,
		s.methods,
		s.accountStore,
		s.balances,
		s.riskEngine,
		s.client,
		s.machine,
		cfg.DefaultDailyLimitCents,
	).WithAuditLog(s.auditLog)

	s.contractService = contracts.NewService(s.contractStore)
	s.escrowService = escrow.NewService(s.escrowStore, s.contractService, s.balances).
		WithNotifier(s.notifyService)

	s.webhookIngest = webhook.NewProcessor(cfg.WebhookSecret, cfg.WebhookTolerance, s.eventLedger)
	s.registerWebhookHandlers()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func riskConfig(cfg *config.Config) risk.Config {
	rc := risk.DefaultConfig()
	rc.ReviewThreshold = cfg.ReviewThreshold
	rc.LargeAmountCents = cfg.LargeAmountCents
	rc.UnusualAmountMultiplier = cfg.UnusualAmountMultiplier
	rc.NearLimitFraction = cfg.NearLimitFraction
	rc.DefaultDailyLimitCents = cfg.DefaultDailyLimitCents
	rc.CollectorTimeout = cfg.CollectorTimeout
	return rc
}

// maskDSN hides the password in a connection string for logging.
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

func (s *Server) setupMiddleware() {
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

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(security.HeadersMiddleware())
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	if len(s.cfg.AllowedOrigins) > 0 {
		s.router.Use(security.CORSMiddleware(s.cfg.AllowedOrigins))
	}
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

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

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket stream of payout/escrow lifecycle events.
	notifyHandler := notify.NewHandler(s.notifyService, s.hub)
	notifyHandler.RegisterStreamRoute(s.router)

	// Inbound processor events. Signature-verified, not API-keyed.
	webhookHandler := webhook.NewHandler(s.webhookIngest).WithAuditLog(s.auditLog)
	webhookHandler.RegisterRoutes(s.router.Group(""))

	v1 := s.router.Group("/v1")
	if s.cfg.RateLimitPerMinute > 0 {
		limCfg := ratelimit.DefaultConfig()
		limCfg.RequestsPerMinute = s.cfg.RateLimitPerMinute
		s.limiter = ratelimit.New(limCfg)
		v1.Use(s.limiter.Middleware("v1"))
	}

	v1.POST("/accounts", s.createAccount)

	idCheck := validation.ResourceIDParamMiddleware("accountId")
	v1.GET("/accounts/:accountId", idCheck, s.getAccount)
	v1.GET("/accounts/:accountId/balance", idCheck, s.getBalance)
	v1.GET("/accounts/:accountId/ledger", idCheck, s.getLedgerHistory)

	payoutHandler := payouts.NewHandler(s.coordinator)
	payoutHandler.RegisterRoutes(v1)

	escrowHandler := escrow.NewHandler(s.escrowService)
	escrowHandler.RegisterRoutes(v1)

	contractHandler := contracts.NewHandler(s.contractService)
	contractHandler.RegisterRoutes(v1)

	notifyHandler.RegisterRoutes(v1)

	admin := s.router.Group("/admin")
	payoutHandler.RegisterAdminRoutes(admin)
	admin.POST("/deposits", s.recordDeposit)
	admin.GET("/accounts/:accountId/security-events", s.listSecurityEvents)
	admin.GET("/stream/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.hub.Stats())
	})
}

// Run starts the HTTP server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	if s.cfg.OTLPEndpoint != "" {
		shutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
		if err != nil {
			s.logger.Warn("tracing disabled", "error", err)
		} else {
			s.shutdownTrace = shutdown
		}
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.hub.Run(runCtx)

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

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

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.shutdownTrace != nil {
		if err := s.shutdownTrace(ctx); err != nil {
			s.logger.Error("trace exporter shutdown error", "error", err)
		}
	}

	if s.limiter != nil {
		s.limiter.Stop()
	}

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

// Router returns the gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.healthReg.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
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

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
