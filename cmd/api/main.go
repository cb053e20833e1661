package main

import (
	"context"
	"log"
	"net/http"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"osflow/approval"
	"osflow/auth"
	"osflow/config"
	"osflow/db"
	"osflow/delegation"
	"osflow/directory"
	"osflow/notification"
	"osflow/outbox"
	"osflow/ownership"
	"osflow/timeline"
	"osflow/transfer"
	"osflow/workflow"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("bootstrap config: %v", err)
	}

	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		log.Fatalf("bootstrap logger: %v", err)
	}
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg.DB.URL)
	if err != nil {
		logger.Fatal("bootstrap database pool", zap.Error(err))
	}
	defer pool.Close()

	rules := ownership.DefaultRules()
	timelineWriter := timeline.NewWriter()
	outboxWriter := outbox.NewWriter()

	directoryRepo := directory.NewRepository(pool)
	directoryService := directory.NewService(directoryRepo)

	notificationRepo := notification.NewRepository(pool)
	notificationService := notification.NewService(notificationRepo)

	authService := auth.NewService(auth.NewRepository(pool), cfg.Auth.JWTSecret)

	workflowRepo := workflow.NewRepository(pool)
	delegationRepo := delegation.NewRepository(pool)
	approvalRepo := approval.NewRepository(pool)
	transferRepo := transfer.NewRepository(pool)

	resolver := workflow.NewResolver(rules, workflowRepo, delegationRepo, directoryService)
	gate := workflow.NewGate(rules, resolver, workflowRepo, approvalRepo, directoryService)

	transferService := transfer.NewService(pool, transferRepo, timelineWriter, outboxWriter, directoryService, notificationService, logger)
	workflowService := workflow.NewService(pool, workflowRepo, rules, gate, transferService, timelineWriter, outboxWriter, directoryService, logger)
	delegationService := delegation.NewService(pool, delegationRepo, rules, directoryService, timelineWriter, outboxWriter, notificationService, logger)
	approvalService := approval.NewService(pool, approvalRepo, rules, directoryService, timelineWriter, outboxWriter, notificationService, logger)

	server := &Server{
		authService:         authService,
		workflowService:     workflowService,
		resolver:            resolver,
		gate:                gate,
		actors:              directoryService,
		delegationService:   delegationService,
		approvalService:     approvalService,
		notificationService: notificationService,
		stages:              workflowRepo,
		activities:          timeline.NewReader(pool),
		transfers:           transferRepo,
		delegationLog:       delegationRepo,
		approvalLog:         approvalRepo,
		logger:              logger,
	}

	logger.Info("listening", zap.String("addr", cfg.HTTP.Addr))
	if err := http.ListenAndServe(cfg.HTTP.Addr, server.routes()); err != nil {
		logger.Fatal("http server", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
