// Package server sets up the HTTP server with all routes
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

	"github.com/voltmarket/voltmarket/internal/auth"
	"github.com/voltmarket/voltmarket/internal/circuitbreaker"
	"github.com/voltmarket/voltmarket/internal/config"
	"github.com/voltmarket/voltmarket/internal/contract"
	"github.com/voltmarket/voltmarket/internal/feetier"
	"github.com/voltmarket/voltmarket/internal/health"
	"github.com/voltmarket/voltmarket/internal/listing"
	"github.com/voltmarket/voltmarket/internal/logging"
	"github.com/voltmarket/voltmarket/internal/metrics"
	"github.com/voltmarket/voltmarket/internal/order"
	"github.com/voltmarket/voltmarket/internal/payment"
	"github.com/voltmarket/voltmarket/internal/ratelimit"
	"github.com/voltmarket/voltmarket/internal/realtime"
	"github.com/voltmarket/voltmarket/internal/reconciliation"
	"github.com/voltmarket/voltmarket/internal/refund"
	"github.com/voltmarket/voltmarket/internal/security"
	"github.com/voltmarket/voltmarket/internal/validation"
	"github.com/voltmarket/voltmarket/internal/wallet"
	"github.com/voltmarket/voltmarket/internal/webhooks"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	ledger       *wallet.Ledger
	fees         *feetier.Resolver
	listings     *listing.Service
	orders       *order.Service
	contracts    *contract.Service
	refunds      *refund.Adjudicator
	topups       *payment.Service
	authMgr      *auth.Manager
	dispatcher   *webhooks.Dispatcher
	realtimeHub  *realtime.Hub
	reconRunner  *reconciliation.Runner
	reconTimer   *reconciliation.Timer
	rateLimiter  *ratelimit.Limiter
	healthReg    *health.Registry
	gateway      payment.Gateway // injected for tests; built from config otherwise
	db           *sql.DB         // nil if using in-memory
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

// WithGateway sets a custom payment gateway (for testing)
func WithGateway(g payment.Gateway) Option {
	return func(s *Server) {
		s.gateway = g
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set gateway/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	s.healthReg = health.NewRegistry()

	// Storage stores (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		walletStore   wallet.Store
		feeStore      feetier.Store
		listingStore  listing.Store
		orderStore    order.Store
		contractStore contract.Store
		refundStore   refund.Store
		topupStore    payment.Store
		authStore     auth.Store
		webhookStore  webhooks.Store
	)

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
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})

		ws := wallet.NewPostgresStore(db)
		if err := ws.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate wallet store", "error", err)
		}
		walletStore = ws

		fs := feetier.NewPostgresStore(db)
		if err := fs.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate fee tier store", "error", err)
		}
		feeStore = fs

		ls := listing.NewPostgresStore(db)
		if err := ls.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate listing store", "error", err)
		}
		listingStore = ls

		ords := order.NewPostgresStore(db)
		if err := ords.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate order store", "error", err)
		}
		orderStore = ords

		cs := contract.NewPostgresStore(db)
		if err := cs.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate contract store", "error", err)
		}
		contractStore = cs

		rs := refund.NewPostgresStore(db)
		if err := rs.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate refund store", "error", err)
		}
		refundStore = rs

		ts := payment.NewPostgresStore(db)
		if err := ts.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate topup store", "error", err)
		}
		topupStore = ts

		as := auth.NewPostgresStore(db)
		if err := as.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate auth store", "error", err)
		}
		authStore = as

		whs := webhooks.NewPostgresStore(db)
		if err := whs.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate webhook store", "error", err)
		}
		webhookStore = whs
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")
		walletStore = wallet.NewMemoryStore()
		feeStore = feetier.NewMemoryStore()
		listingStore = listing.NewMemoryStore()
		orderStore = order.NewMemoryStore()
		contractStore = contract.NewMemoryStore()
		refundStore = refund.NewMemoryStore()
		topupStore = payment.NewMemoryStore()
		authStore = auth.NewMemoryStore()
		webhookStore = webhooks.NewMemoryStore()
	}

	// Auth
	s.authMgr = auth.NewManager(authStore)

	// Realtime hub and webhook dispatcher feed the same event stream
	s.realtimeHub = realtime.NewHub(s.logger)
	s.dispatcher = webhooks.NewDispatcher(webhookStore)
	sink := &eventFanout{sinks: []eventSink{
		webhooks.NewEmitter(s.dispatcher, s.logger),
		s.realtimeHub,
	}}

	// Wallet ledger (the money backbone everything else leans on)
	s.ledger = wallet.New(walletStore)

	// Fee tiers
	s.fees = feetier.NewResolver(feeStore)
	fees := &feeAdapter{resolver: s.fees, ledger: s.ledger}

	// Listings charge the posting fee on publish
	s.listings = listing.NewService(listingStore, fees, s.logger)

	// Contracts snapshot the listing at handover time
	s.contracts = contract.NewService(contractStore, s.listings, s.logger).
		WithEventSink(sink)

	// Orders hold buyer funds and settle through the ledger
	s.orders = order.NewService(orderStore, &walletAdapter{s.ledger}, s.listings, fees, s.logger).
		WithContractOpener(s.contracts).
		WithEventSink(sink)

	// Refund adjudication resolves disputes back into order and contract state
	s.refunds = refund.NewAdjudicator(
		refundStore,
		&orderResolverAdapter{s.orders},
		&contractResolverAdapter{s.contracts},
		s.logger,
	).WithEventSink(sink)
	s.contracts.WithCaseOpener(s.refunds)

	// Topups (Stripe checkout behind a circuit breaker)
	if s.gateway == nil && cfg.TopupsEnabled() {
		stripeGw := payment.NewStripeGateway(payment.StripeConfig{
			SecretKey:  cfg.StripeSecretKey,
			SuccessURL: cfg.TopupSuccessURL,
			CancelURL:  cfg.TopupCancelURL,
		})
		s.gateway = payment.NewBreakerGateway(stripeGw, circuitbreaker.New(5, 30*time.Second))
		s.logger.Info("stripe topups enabled")
	}
	if s.gateway != nil {
		s.topups = payment.NewService(topupStore, s.gateway, &topupCrediter{s.ledger}, s.logger).
			WithEventSink(sink)
	} else {
		s.logger.Info("topups disabled (no gateway configured)")
	}

	// Reconciliation sweep
	s.reconRunner = reconciliation.NewRunner(s.ledger, s.refunds, s.logger)
	s.reconTimer = reconciliation.NewTimer(s.reconRunner, s.logger)

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

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	limiterCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		limiterCfg.RequestsPerMinute = int(s.cfg.RateLimitRPS) * 60
	}
	s.rateLimiter = ratelimit.New(limiterCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
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

	// WebSocket for real-time event streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")

	walletHandler := wallet.NewHandler(s.ledger, s.logger)
	feeHandler := feetier.NewHandler(s.fees, s.logger)
	listingHandler := listing.NewHandler(s.listings, s.logger)
	orderHandler := order.NewHandler(s.orders, s.logger)
	contractHandler := contract.NewHandler(s.contracts, s.logger)
	refundHandler := refund.NewHandler(s.refunds, s.logger)
	webhookHandler := webhooks.NewHandler(s.dispatcher.Store(), s.dispatcher)
	reconHandler := reconciliation.NewHandler(s.reconRunner, s.logger)

	// PUBLIC ROUTES (no auth required)
	// Browse listings and resolve fees before signing up
	listingHandler.RegisterPublicRoutes(v1)
	feeHandler.RegisterRoutes(v1)

	// REGISTRATION (public but returns API key)
	v1.POST("/accounts", s.registerAccountWithAPIKey)

	// PROTECTED ROUTES (require API key)
	protected := v1.Group("")
	protected.Use(auth.Middleware(s.authMgr), auth.RequireAuth())
	{
		walletHandler.RegisterRoutes(protected)
		listingHandler.RegisterRoutes(protected)
		orderHandler.RegisterRoutes(protected)
		contractHandler.RegisterRoutes(protected)
		webhookHandler.RegisterRoutes(protected)
	}

	// Topup routes only exist when a gateway is configured
	if s.topups != nil {
		topupHandler := payment.NewHandler(s.topups, s.logger)
		topupHandler.RegisterRoutes(protected)
		// Gateway redirect target; the shopper lands here without an API key
		topupHandler.RegisterPublicRoutes(v1)
	}

	// ADMIN ROUTES (require admin role)
	admin := v1.Group("")
	admin.Use(auth.Middleware(s.authMgr), auth.RequireAdmin())
	{
		walletHandler.RegisterAdminRoutes(admin)
		feeHandler.RegisterAdminRoutes(admin)
		refundHandler.RegisterAdminRoutes(admin)
		reconHandler.RegisterAdminRoutes(admin)
	}
}

// registerAccountWithAPIKey handles POST /v1/accounts
// Registers a marketplace account and returns its API key
func (s *Server) registerAccountWithAPIKey(c *gin.Context) {
	ctx := c.Request.Context()

	var req struct {
		AccountID string `json:"accountId" binding:"required"`
		Name      string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if !validation.IsValidAccountID(req.AccountID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_account_id",
			"message": "accountId must be 1-64 alphanumeric, dash or underscore characters",
		})
		return
	}
	req.Name = validation.SanitizeString(req.Name, 200)
	if req.Name == "" {
		req.Name = "Primary key"
	}

	rawKey, keyInfo, err := s.authMgr.GenerateKey(ctx, req.AccountID, auth.RoleUser, req.Name)
	if err != nil {
		s.logger.Error("failed to generate API key", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to register account",
		})
		return
	}

	// Ensure the wallet row exists so the first balance read is not a 404
	if _, err := s.ledger.GetWallet(ctx, req.AccountID); err != nil {
		s.logger.Warn("failed to initialize wallet", "account", req.AccountID, "error", err)
	}

	s.logger.Info("account registered",
		"account", req.AccountID,
		"keyId", keyInfo.ID,
	)

	c.JSON(http.StatusCreated, gin.H{
		"accountId": req.AccountID,
		"apiKey":    rawKey,
		"keyId":     keyInfo.ID,
		"warning":   "Store this API key securely. It will not be shown again.",
		"usage":     "Include 'Authorization: Bearer <apiKey>' header in requests.",
	})
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	ok, checks := s.healthReg.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !ok {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
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

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Voltmarket",
		"description": "Escrowed marketplace for used EVs and battery packs",
		"version":     "0.1.0",
		"currency":    "VND",
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
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
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start reconciliation sweep
	go s.reconTimer.Start(runCtx)

	// Sample connection pool stats while the server runs
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
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

	// Cancel the context for all background goroutines (hub, timers)
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

	// Stop reconciliation timer
	if s.reconTimer != nil {
		s.reconTimer.Stop()
		s.logger.Info("reconciliation timer stopped")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Let in-flight webhook deliveries finish
	if s.dispatcher != nil {
		s.dispatcher.Wait()
		s.logger.Info("webhook deliveries drained")
	}

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

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// -----------------------------------------------------------------------------
// Adapters
// -----------------------------------------------------------------------------

// eventSink is the shape every service expects for lifecycle events.
type eventSink interface {
	Emit(ctx context.Context, accountID, event string, payload any)
}

// eventFanout fans one event out to webhooks and the realtime hub.
type eventFanout struct {
	sinks []eventSink
}

func (f *eventFanout) Emit(ctx context.Context, accountID, event string, payload any) {
	for _, sink := range f.sinks {
		sink.Emit(ctx, accountID, event, payload)
	}
}

// walletAdapter binds the order flow's ledger verbs to the wallet ledger
type walletAdapter struct {
	ledger *wallet.Ledger
}

func orderRelated(orderID string) *wallet.RelatedEntity {
	return &wallet.RelatedEntity{Type: "order", ID: orderID}
}

func (a *walletAdapter) HoldFunds(ctx context.Context, buyerID, amount, orderID string) error {
	return a.ledger.Debit(ctx, buyerID, amount, wallet.ServiceBuyHold, "escrow hold", orderRelated(orderID))
}

func (a *walletAdapter) RefundHold(ctx context.Context, buyerID, amount, orderID string) error {
	return a.ledger.Credit(ctx, buyerID, amount, wallet.ServiceBuyRefund, "escrow refund", orderRelated(orderID), "")
}

func (a *walletAdapter) PaySeller(ctx context.Context, sellerID, amount, orderID string) error {
	return a.ledger.Credit(ctx, sellerID, amount, wallet.ServiceSellRevenue, "sale proceeds", orderRelated(orderID), "")
}

func (a *walletAdapter) CollectCommission(ctx context.Context, amount, orderID string) error {
	return a.ledger.Credit(ctx, wallet.PlatformOwnerID, amount, wallet.ServicePlatformFee, "commission", orderRelated(orderID), "")
}

func (a *walletAdapter) ReverseHold(ctx context.Context, buyerID, amount, orderID string) error {
	return a.ledger.Credit(ctx, buyerID, amount, wallet.ServiceBuyRefund, "hold reversal", orderRelated(orderID), "")
}

// feeAdapter resolves tiers and moves posting fees through the ledger.
// Serves both listing.PostingFees and order.FeeSource.
type feeAdapter struct {
	resolver *feetier.Resolver
	ledger   *wallet.Ledger
}

func (a *feeAdapter) PostingFee(ctx context.Context, price string) (string, error) {
	tier, err := a.resolver.Resolve(ctx, price)
	if err != nil {
		return "", err
	}
	return tier.PostingFee, nil
}

func (a *feeAdapter) CommissionRate(ctx context.Context, price string) (string, error) {
	tier, err := a.resolver.Resolve(ctx, price)
	if err != nil {
		return "", err
	}
	return tier.CommissionRate, nil
}

// ChargePostingFee moves the fee seller -> platform in one atomic transfer
// so no money leaves the system.
func (a *feeAdapter) ChargePostingFee(ctx context.Context, sellerID, amount, listingID string) error {
	return a.ledger.Transfer(ctx, wallet.TransferRequest{
		FromOwnerID:   sellerID,
		ToOwnerID:     wallet.PlatformOwnerID,
		Amount:        amount,
		DebitService:  wallet.ServicePostPayment,
		CreditService: wallet.ServicePostPayment,
		Description:   "posting fee",
		Related:       &wallet.RelatedEntity{Type: "listing", ID: listingID},
	})
}

// RefundPostingFee is the reverse transfer, used when publish fails after
// the fee was taken.
func (a *feeAdapter) RefundPostingFee(ctx context.Context, sellerID, amount, listingID string) error {
	return a.ledger.Transfer(ctx, wallet.TransferRequest{
		FromOwnerID:   wallet.PlatformOwnerID,
		ToOwnerID:     sellerID,
		Amount:        amount,
		DebitService:  wallet.ServicePostPayment,
		CreditService: wallet.ServicePostPayment,
		Description:   "posting fee refund",
		Related:       &wallet.RelatedEntity{Type: "listing", ID: listingID},
	})
}

// topupCrediter applies verified topups to the wallet. The topup code is the
// idempotency key so replayed verifications never double-credit.
type topupCrediter struct {
	ledger *wallet.Ledger
}

func (a *topupCrediter) CreditTopup(ctx context.Context, ownerID, amount, orderCode string) error {
	return a.ledger.Credit(ctx, ownerID, amount, wallet.ServiceWalletTopup, "wallet topup",
		&wallet.RelatedEntity{Type: "topup", ID: orderCode}, orderCode)
}

// orderResolverAdapter narrows order.Service to the error-only shape the
// adjudicator needs.
type orderResolverAdapter struct {
	orders *order.Service
}

func (a *orderResolverAdapter) Refund(ctx context.Context, orderID string) error {
	_, err := a.orders.Refund(ctx, orderID)
	return err
}

func (a *orderResolverAdapter) Settle(ctx context.Context, orderID string) error {
	_, err := a.orders.Settle(ctx, orderID)
	return err
}

func (a *orderResolverAdapter) Forfeit(ctx context.Context, orderID string) error {
	_, err := a.orders.Forfeit(ctx, orderID)
	return err
}

// contractResolverAdapter narrows contract.Service for the adjudicator.
type contractResolverAdapter struct {
	contracts *contract.Service
}

func (a *contractResolverAdapter) Resolve(ctx context.Context, contractID string, approved bool) error {
	_, err := a.contracts.Resolve(ctx, contractID, approved)
	return err
}
