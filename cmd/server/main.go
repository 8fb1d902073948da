// Package main runs the check-in HTTP server with the reconciliation scheduler, realtime feed and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Infix8/qrflow-backend/config"
	"github.com/Infix8/qrflow-backend/internal/analytics"
	"github.com/Infix8/qrflow-backend/internal/attendees"
	"github.com/Infix8/qrflow-backend/internal/auth"
	"github.com/Infix8/qrflow-backend/internal/checkin"
	"github.com/Infix8/qrflow-backend/internal/clubs"
	"github.com/Infix8/qrflow-backend/internal/delivery"
	"github.com/Infix8/qrflow-backend/internal/deliverylogs"
	"github.com/Infix8/qrflow-backend/internal/events"
	"github.com/Infix8/qrflow-backend/internal/gateway"
	"github.com/Infix8/qrflow-backend/internal/middleware"
	"github.com/Infix8/qrflow-backend/internal/models"
	"github.com/Infix8/qrflow-backend/internal/payments"
	"github.com/Infix8/qrflow-backend/internal/realtime"
	"github.com/Infix8/qrflow-backend/internal/reconcile"
	"github.com/Infix8/qrflow-backend/internal/tokens"
	"github.com/Infix8/qrflow-backend/internal/worker"
	"github.com/Infix8/qrflow-backend/pkg/database"
	"github.com/Infix8/qrflow-backend/pkg/queue"
	"github.com/Infix8/qrflow-backend/pkg/redis"
	"github.com/Infix8/qrflow-backend/pkg/response"
	"github.com/Infix8/qrflow-backend/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		newLogger("info").Fatal("load config", zap.Error(err))
	}
	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	loc := cfg.Checkin.Location()
	codec := tokens.NewCodec(cfg.Token.Secret)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Auth
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	revocations := auth.NewRevocationStore(rdb.Client)
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, revocations, logger)
	if err := auth.EnsureAdmin(ctx, authRepo, cfg.Admin.Username, cfg.Admin.Password, cfg.Admin.Email, logger); err != nil {
		logger.Fatal("bootstrap admin", zap.Error(err))
	}

	// Repositories
	clubRepo := clubs.NewRepository(pool)
	eventRepo := events.NewRepository(pool)
	attendeeRepo := attendees.NewRepository(pool)
	paymentRepo := payments.NewRepository(pool)
	deliveryLogRepo := deliverylogs.NewRepository(pool)

	// Delivery
	mailer, closeMailer := newMailer(cfg.Email, logger)
	defer closeMailer()
	sender := delivery.NewSender(delivery.SenderDeps{
		Attendees: attendeeRepo,
		Events:    eventRepo,
		Issuer:    codec,
		Mailer:    mailer,
		Archiver:  newArchiver(ctx, cfg.AWS, logger),
		Logs:      deliveryLogRepo,
		Location:  loc,
		Logger:    logger,
	})

	// Realtime feed
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)

	// Check-in
	machine := checkin.NewMachine(codec, eventRepo, attendeeRepo,
		checkin.WithLocation(loc),
		checkin.WithNotifier(hub),
		checkin.WithLogger(logger),
	)
	checkinHandler := checkin.NewHandler(machine, logger)

	// Reconciliation
	var (
		reconcileHandler *reconcile.Handler
		scheduler        *reconcile.Scheduler
	)
	if cfg.Razorpay.Enabled() {
		razorpay := gateway.NewRazorpay(cfg.Razorpay.KeyID, cfg.Razorpay.KeySecret, cfg.Reconcile.PageSize, logger)
		engine := reconcile.NewEngine(reconcile.Deps{
			Gateway:    razorpay,
			Payments:   paymentRepo,
			Attendees:  attendeeRepo,
			Events:     eventRepo,
			Issuer:     codec,
			Dispatcher: delivery.NewQueueDispatcher(jobQueue, "payment"),
			Lock:       reconcile.ChainLock{reconcile.NewLocalLock(), reconcile.NewRedisLock(rdb.Client, cfg.Reconcile.RunLockTTL)},
			Logger:     logger,
		}, reconcile.Config{
			DefaultEventID: cfg.Reconcile.DefaultEventID,
			Marker:         cfg.Reconcile.Marker,
			MetadataKeys:   cfg.Reconcile.MetadataKeys,
			Window:         cfg.Reconcile.Window,
		})
		reconcileHandler = reconcile.NewHandler(engine, razorpay, paymentRepo, cfg.Razorpay.WebhookSecret, logger)
		if !cfg.Reconcile.Disabled {
			scheduler = reconcile.NewScheduler(engine, cfg.Reconcile.Interval, logger)
			reconcileHandler.SetKicker(scheduler)
		}
	} else {
		logger.Warn("razorpay credentials not set; payment reconciliation disabled")
	}

	// Handlers
	clubHandler := clubs.NewHandler(clubRepo, authRepo, logger)
	eventHandler := events.NewHandler(eventRepo, logger)
	attendeeHandler := attendees.NewHandler(attendeeRepo, eventRepo, sender, delivery.NewQueueDispatcher(jobQueue, "issue"), logger)
	paymentHandler := payments.NewHandler(paymentRepo, eventRepo, logger)
	analyticsHandler := analytics.NewHandler(attendeeRepo, paymentRepo, logger)
	deliveryLogHandler := deliverylogs.NewHandler(deliveryLogRepo)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins()))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) {
		if err := rdb.Healthy(c.Request.Context()); err != nil {
			response.ServiceUnavailable(c, "redis unavailable")
			return
		}
		response.OK(c, gin.H{"status": "ok"})
	})

	api := router.Group("/api")

	// Auth (public)
	api.POST("/auth/login", authHandler.Login)

	// Webhooks (no JWT; the handler verifies the gateway signature)
	if reconcileHandler != nil {
		api.POST("/webhooks/razorpay", reconcileHandler.Webhook)
	} else {
		api.POST("/webhooks/razorpay", gatewayDisabled)
	}

	// WebSocket (token in query; no Authorization header required)
	api.GET("/ws/events/:id", realtime.ServeWs(hub, realtime.Gate{
		JWT:     jwtService,
		Revoked: revocations,
		Events:  eventRepo,
	}, cfg.Server.AllowedOrigins(), logger))

	// Protected API (JWT required)
	protected := api.Group("")
	protected.Use(middleware.JWT(jwtService, revocations, logger))
	{
		admin := middleware.RequireRole(models.RoleAdmin)
		eventAccess := events.RequireEventAccess(eventRepo)

		protected.POST("/auth/logout", authHandler.Logout)
		protected.GET("/auth/me", authHandler.Me)

		// Clubs and their operators (admin only)
		protected.GET("/clubs", admin, clubHandler.List)
		protected.POST("/clubs", admin, clubHandler.Create)
		protected.GET("/clubs/:id/operators", admin, clubHandler.ListOperators)
		protected.POST("/clubs/:id/operators", admin, clubHandler.CreateOperator)

		// Events
		protected.GET("/events", eventHandler.List)
		protected.POST("/events", eventHandler.Create)
		protected.GET("/events/:id", eventAccess, eventHandler.Get)
		protected.GET("/events/:id/attendees", eventAccess, attendeeHandler.ListByEvent)
		protected.POST("/events/:id/attendees", eventAccess, attendeeHandler.Create)
		protected.POST("/events/:id/tokens", eventAccess, attendeeHandler.IssueTokens)
		protected.GET("/events/:id/payments", eventAccess, paymentHandler.ListByEvent)
		protected.GET("/events/:id/dashboard", eventAccess, analyticsHandler.GetByEvent)
		protected.GET("/events/:id/deliveries", eventAccess, deliveryLogHandler.ListByEvent)

		// Attendees
		protected.POST("/attendees/:id/resend", attendeeHandler.Resend)
		protected.POST("/attendees/:id/checkin", checkinHandler.Manual)

		// Gate
		protected.POST("/checkin/status", checkinHandler.Status)
		protected.POST("/checkin/validate", checkinHandler.Validate)
		protected.POST("/checkin/scan", checkinHandler.Scan)

		// Payments
		protected.GET("/payments/:id", paymentHandler.Get)
		if reconcileHandler != nil {
			protected.POST("/payments/sync", admin, reconcileHandler.Sync)
			protected.GET("/payments/gateway-status", admin, reconcileHandler.GatewayStatus)
		} else {
			protected.POST("/payments/sync", admin, gatewayDisabled)
			protected.GET("/payments/gateway-status", admin, gatewayDisabled)
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background delivery worker (optional; cmd/worker is the usual home)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if cfg.Server.InlineWorker {
		go worker.NewDeliveryProcessor(sender, jobQueue, logger).Run(workerCtx)
		logger.Info("inline delivery worker started")
	}

	if scheduler != nil {
		scheduler.Start()
		logger.Info("reconciliation scheduler started", zap.Duration("interval", cfg.Reconcile.Interval))
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	if scheduler != nil {
		scheduler.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func gatewayDisabled(c *gin.Context) {
	response.ServiceUnavailable(c, "payment gateway not configured")
}

// newArchiver returns nil when no codes bucket is configured or S3 cannot be set up.
func newArchiver(ctx context.Context, cfg config.AWSConfig, logger *zap.Logger) delivery.Archiver {
	if cfg.CodesBucket == "" {
		return nil
	}
	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.Region,
		AccessKeyID:          cfg.AccessKeyID,
		SecretAccessKey:      cfg.SecretAccessKey,
		CodesBucket:          cfg.CodesBucket,
		PresignExpireMinutes: cfg.PresignMinutes,
	}, logger)
	if err != nil {
		logger.Warn("s3 disabled", zap.Error(err))
		return nil
	}
	return s3Client
}

func newMailer(cfg config.EmailConfig, logger *zap.Logger) (delivery.Mailer, func()) {
	if !cfg.Enabled() {
		logger.Warn("SMTP_HOST not set; entry codes will be logged instead of mailed")
		return delivery.NewLogMailer(logger), func() {}
	}
	m, err := delivery.NewSMTPMailer(delivery.SMTPConfig{
		Host:        cfg.SMTPHost,
		Port:        cfg.SMTPPort,
		User:        cfg.SMTPUser,
		Pass:        cfg.SMTPPass,
		FromAddress: cfg.FromAddress,
		FromName:    cfg.FromName,
	})
	if err != nil {
		logger.Fatal("smtp", zap.Error(err))
	}
	return m, m.Close
}

func newLogger(level string) *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		config.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, _ := config.Build()
	return logger
}
