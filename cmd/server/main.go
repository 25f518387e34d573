package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"payments-webhook/config"
	"payments-webhook/internal/api"
	"payments-webhook/internal/broker"
	"payments-webhook/internal/redisclient"
	"payments-webhook/internal/service"
	"payments-webhook/internal/store"
	"payments-webhook/internal/util"
	"payments-webhook/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting payments webhook service",
		zap.String("signature_mode", cfg.Gateway.SignatureMode))

	tp, err := util.InitTracer(cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	eventsProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicPaymentEvents)
	defer eventsProducer.Close()
	deadLetterProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicDeadLetter)
	defer deadLetterProducer.Close()
	logger.Info("Kafka producers initialized",
		zap.String("events_topic", cfg.Kafka.TopicPaymentEvents),
		zap.String("dead_letter_topic", cfg.Kafka.TopicDeadLetter))

	eventPublisher := broker.NewEventPublisher(eventsProducer, deadLetterProducer)

	reconciler := service.NewReconciler(
		service.NewSignatureVerifier(cfg.Gateway),
		service.NewIdempotencyLedger(redisClient, cfg.Ledger),
		service.NewGatewayClient(cfg.Gateway),
		db,
		eventPublisher,
		util.NewReporter(logger),
	)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	dlqConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicDeadLetter, cfg.Kafka.ConsumerGroup)
	dlqWorker := worker.NewDeadLetterWorker(dlqConsumer, reconciler, eventPublisher, cfg.Kafka)
	go func() {
		if err := dlqWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Dead-letter worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(reconciler, map[string]api.Pinger{
		"postgres": db,
		"redis":    redisClient,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := dlqWorker.Stop(); err != nil {
		logger.Error("Error stopping dead-letter worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
