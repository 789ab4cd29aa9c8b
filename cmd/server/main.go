package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/titlescout/titlescout/internal"
	"github.com/titlescout/titlescout/internal/billing"
	"github.com/titlescout/titlescout/internal/email"
	"github.com/titlescout/titlescout/internal/handler"
	"github.com/titlescout/titlescout/internal/jobs"
	"github.com/titlescout/titlescout/internal/metrics"
	"github.com/titlescout/titlescout/internal/middleware"
	"github.com/titlescout/titlescout/internal/repository"
	"github.com/titlescout/titlescout/internal/service"
	"github.com/titlescout/titlescout/internal/worker"
)

// historyCleanupBatchSize bounds how many history rows one sweep deletes
// per user, so a long-idle deployment cannot stall the worker on catch-up.
const historyCleanupBatchSize = 5000

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database connection
	db, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// Run migrations
	if err := internal.RunMigrations(db); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready")

	// Initialize repository
	queries := repository.New(db)

	// Initialize email delivery
	emailService, err := email.NewSMTPEmailService(email.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	}, cfg.BaseURL, logger)
	if err != nil {
		return fmt.Errorf("email service initialization failed: %w", err)
	}

	// Initialize billing. Without a secret key the server runs with billing
	// disabled: checkout routes are not registered and the webhook handler
	// acknowledges-and-drops deliveries.
	var billingService billing.Service
	if cfg.StripeSecretKey != "" {
		billingService = billing.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookSecret, billing.PriceConfig{
			ProMonthlyPriceID:        cfg.StripeProMonthlyPriceID,
			ProYearlyPriceID:         cfg.StripeProYearlyPriceID,
			EnterpriseMonthlyPriceID: cfg.StripeEnterpriseMonthlyPriceID,
			EnterpriseYearlyPriceID:  cfg.StripeEnterpriseYearlyPriceID,
			DeptStarterPriceID:       cfg.StripeDeptStarterPriceID,
			DeptProfessionalPriceID:  cfg.StripeDeptProfessionalPriceID,
			DeptEnterprisePriceID:    cfg.StripeDeptEnterprisePriceID,
		})
		logger.Info("Billing enabled")
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, billing disabled")
	}

	// Initialize services
	auditService := service.NewAuditService(queries, logger)
	entitlementService := service.NewEntitlementService(queries, cfg.PastDueGraceWindow, logger)
	quotaService := service.NewQuotaService(queries, entitlementService, logger)
	userService := service.NewUserService(db, queries, auditService, logger)
	membershipService := service.NewMembershipService(db, queries, auditService, cfg.InvitationTTL, logger)
	resourceService := service.NewResourceService(db, queries, entitlementService, logger)
	billingProcessor := service.NewBillingEventProcessor(db, queries, billingService, auditService, logger)

	// Initialize background worker
	workerConfig := worker.DefaultConfig()
	workerConfig.Concurrency = cfg.WorkerConcurrency
	workerConfig.PollInterval = cfg.WorkerPollInterval
	workerConfig.JobTimeout = cfg.WorkerJobTimeout
	jobWorker, err := worker.New(db, queries, workerConfig, logger)
	if err != nil {
		return fmt.Errorf("worker initialization failed: %w", err)
	}
	jobWorker.Register(jobs.NewSendInvitationEmailHandler(queries, emailService, logger))
	jobWorker.Register(jobs.NewSendWelcomeEmailHandler(queries, emailService, logger))
	jobWorker.Register(jobs.NewCleanupSearchHistoryHandler(resourceService, logger))

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	if cfg.WorkerEnabled {
		jobWorker.Start(workerCtx)
		logger.Info("Worker started", "concurrency", cfg.WorkerConcurrency)
	} else {
		logger.Warn("Worker disabled, background jobs will queue but not run")
	}

	// Periodic maintenance: re-enqueue the history sweep and clear expired
	// sessions. Both are idempotent, so overlapping runs across replicas
	// are harmless.
	go runMaintenanceLoop(workerCtx, queries, userService, cfg.HistoryCleanupInterval, logger)

	// Initialize middleware
	isSecure := cfg.Env != "development"
	authMw := middleware.NewAuthMiddleware(userService, logger, isSecure)
	authLimiter := middleware.NewAuthRateLimiter(logger)
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	securityMw := middleware.NewSecurityHeadersMiddleware(isSecure)
	metricsAuthMw := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword)

	requireUser := middleware.Stack(authMw.WithUser, authMw.RequireUser)
	requireAdmin := middleware.Stack(authMw.WithUser, authMw.RequireAdmin)

	// Initialize handlers
	userHandler := handler.NewUserHandler(userService, isSecure, logger)
	entitlementHandler := handler.NewEntitlementHandler(quotaService, entitlementService, resourceService, logger)
	membershipHandler := handler.NewMembershipHandler(membershipService, logger)
	resourceHandler := handler.NewResourceHandler(resourceService, quotaService, logger)
	billingHandler := handler.NewBillingHandler(billingService, userService, membershipService, cfg.BaseURL, logger)
	webhookHandler := handler.NewWebhookHandler(billingService, billingProcessor, logger)
	auditHandler := handler.NewAuditHandler(auditService, logger)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics (basic auth if configured)
	mux.Handle("GET /metrics", metricsAuthMw.Handler(promhttp.Handler()))

	userHandler.RegisterRoutes(mux, requireUser, requireAdmin)
	entitlementHandler.RegisterRoutes(mux, requireUser)
	membershipHandler.RegisterRoutes(mux, requireUser)
	resourceHandler.RegisterRoutes(mux, requireUser)
	webhookHandler.RegisterRoutes(mux)
	auditHandler.RegisterRoutes(mux, requireAdmin)
	if billingService != nil {
		billingHandler.RegisterRoutes(mux, requireUser)
	}

	// Outermost middleware applies to every route.
	root := middleware.Stack(
		securityMw.Handler,
		loggingMw.Handler,
		metrics.Middleware,
	)(rateLimitAuthRoutes(authLimiter, mux))

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
		}
	}()

	<-sigChan
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	// Stop workers after the HTTP surface is drained so in-flight requests
	// can still enqueue jobs.
	stopWorker()
	jobWorker.Stop()

	logger.Info("Graceful shutdown complete")
	return nil
}

// rateLimitAuthRoutes wraps the mux so brute-forceable endpoints get
// per-IP limits while everything else passes straight through.
func rateLimitAuthRoutes(limiter *middleware.AuthRateLimiter, mux *http.ServeMux) http.Handler {
	limited := map[string]func(http.Handler) http.Handler{
		"/auth/login":                  limiter.LimitLogin,
		"/auth/register":               limiter.LimitRegister,
		"/internal/invitations/accept": limiter.LimitInvitationAccept,
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if limit, ok := limited[r.URL.Path]; ok && r.Method == http.MethodPost {
			limit(mux).ServeHTTP(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})
}

// runMaintenanceLoop periodically enqueues the search-history sweep and
// deletes expired sessions until ctx is canceled.
func runMaintenanceLoop(ctx context.Context, queries *repository.Queries, users service.UserService, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := worker.EnqueueCleanupSearchHistory(ctx, queries, historyCleanupBatchSize); err != nil {
				logger.Error("Failed to enqueue history cleanup", "error", err)
			}
			if err := users.DeleteExpiredSessions(ctx); err != nil {
				logger.Error("Failed to delete expired sessions", "error", err)
			}
		}
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
