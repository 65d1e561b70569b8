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

	"rental-service/config"
	"rental-service/internal/api"
	"rental-service/internal/broker"
	"rental-service/internal/redisclient"
	"rental-service/internal/rental"
	"rental-service/internal/scheduler"
	"rental-service/internal/service"
	"rental-service/internal/store"
	"rental-service/internal/util"
	"rental-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, "rental-service"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting rental service")

	tp, err := util.InitTracer("rental-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	if cfg.Database.Migrate {
		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := db.Migrate(migrateCtx)
		cancel()
		if err != nil {
			logger.Fatal("Failed to apply schema", zap.Error(err))
		}
		logger.Info("Schema applied")
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicRental)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicRental))

	eventPublisher := broker.NewEventPublisher(producer)
	engine := rental.NewEngine(cfg.Rental.UomPrecisionDigits, cfg.Rental.RentalProductCode)

	catalogService := service.NewCatalogService(db, cfg.Rental.DefaultCurrency)
	pricingService := service.NewPricingService(db, redisClient, cfg.Redis.PricingCacheTTL, cfg.Rental.DefaultCurrency)
	rentalService := service.NewRentalService(db, engine, pricingService, eventPublisher, redisClient, cfg.Redis.IdempotencyTTL)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var stockMoveWorker *worker.StockMoveWorker
	if cfg.Kafka.EnableStockMoves {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicStockMoves, cfg.Kafka.ConsumerGroup)
		stockMoveWorker = worker.NewStockMoveWorker(consumer, rentalService)
		go func() {
			if err := stockMoveWorker.Start(workerCtx); err != nil {
				logger.Error("Stock move worker error", zap.Error(err))
			}
		}()
	}

	sched, err := scheduler.NewScheduler(cfg.Rental.LateSweepCron, rentalService, cfg.Rental.JobTimeout)
	if err != nil {
		logger.Fatal("Failed to create scheduler", zap.Error(err))
	}
	sched.Start()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(catalogService, pricingService, rentalService)
	handler.AddReadinessCheck("postgres", func(ctx context.Context) error {
		return db.GetDB().PingContext(ctx)
	})
	handler.AddReadinessCheck("redis", func(ctx context.Context) error {
		return redisClient.GetClient().Ping(ctx).Err()
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
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

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	sched.Stop()
	workerCancel()
	if stockMoveWorker != nil {
		if err := stockMoveWorker.Stop(); err != nil {
			logger.Warn("Error stopping stock move worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}
