// Package main runs the background delivery worker: renders entry codes, archives them to S3 and mails them.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Infix8/qrflow-backend/config"
	"github.com/Infix8/qrflow-backend/internal/attendees"
	"github.com/Infix8/qrflow-backend/internal/delivery"
	"github.com/Infix8/qrflow-backend/internal/deliverylogs"
	"github.com/Infix8/qrflow-backend/internal/events"
	"github.com/Infix8/qrflow-backend/internal/tokens"
	"github.com/Infix8/qrflow-backend/internal/worker"
	"github.com/Infix8/qrflow-backend/pkg/database"
	"github.com/Infix8/qrflow-backend/pkg/queue"
	"github.com/Infix8/qrflow-backend/pkg/redis"
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

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	deps := delivery.SenderDeps{
		Attendees: attendees.NewRepository(pool),
		Events:    events.NewRepository(pool),
		Issuer:    tokens.NewCodec(cfg.Token.Secret),
		Logs:      deliverylogs.NewRepository(pool),
		Location:  cfg.Checkin.Location(),
		Logger:    logger,
	}

	if cfg.AWS.CodesBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			CodesBucket:          cfg.AWS.CodesBucket,
			PresignExpireMinutes: cfg.AWS.PresignMinutes,
		}, logger)
		if err != nil {
			logger.Fatal("s3", zap.Error(err))
		}
		deps.Archiver = s3Client
	}

	if cfg.Email.Enabled() {
		mailer, err := delivery.NewSMTPMailer(delivery.SMTPConfig{
			Host:        cfg.Email.SMTPHost,
			Port:        cfg.Email.SMTPPort,
			User:        cfg.Email.SMTPUser,
			Pass:        cfg.Email.SMTPPass,
			FromAddress: cfg.Email.FromAddress,
			FromName:    cfg.Email.FromName,
		})
		if err != nil {
			logger.Fatal("smtp", zap.Error(err))
		}
		defer mailer.Close()
		deps.Mailer = mailer
	} else {
		logger.Warn("SMTP_HOST not set; entry codes will be logged instead of mailed")
		deps.Mailer = delivery.NewLogMailer(logger)
	}

	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := worker.NewDeliveryProcessor(delivery.NewSender(deps), jobQueue, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(workerCtx)
	logger.Info("delivery worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
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
