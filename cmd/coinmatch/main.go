package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/tradecore/coinmatch/internal/cache"
	"github.com/tradecore/coinmatch/internal/config"
	"github.com/tradecore/coinmatch/internal/consumer"
	"github.com/tradecore/coinmatch/internal/coordinator"
	"github.com/tradecore/coinmatch/internal/handlers"
	"github.com/tradecore/coinmatch/internal/notifier"
	"github.com/tradecore/coinmatch/internal/service"
	"github.com/tradecore/coinmatch/internal/storage"
	"github.com/tradecore/coinmatch/internal/ws"
	"github.com/tradecore/coinmatch/libs/health"
	"github.com/tradecore/coinmatch/libs/httpmiddleware"
	"github.com/tradecore/coinmatch/libs/kafka"
	"github.com/tradecore/coinmatch/libs/logging"
	"github.com/tradecore/coinmatch/libs/metrics"
	"github.com/tradecore/coinmatch/libs/trace"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
	shutdownTracer, err := trace.InitTracer(cfg.App.ServiceName, cfg.App.Env)
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	serviceMetrics := service.NewMetrics(registry)
	kafkaMetrics := kafka.NewProducerMetrics(registry)

	ready := health.NewManager(false)

	pool, err := connectDB(cfg)
	if err != nil {
		logger.Error("db connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	priceCache := cache.NewPriceCache(redisClient, cfg.Redis.PriceTTL)

	producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, logger, kafkaMetrics)
	if err != nil {
		logger.Error("kafka producer init failed", "error", err)
		os.Exit(1)
	}
	defer producer.Close()
	publisher := kafka.Publisher(producer)
	if strings.TrimSpace(cfg.Kafka.Topics.DeadLetter) != "" {
		publisher = kafka.NewDLQPublisher(producer, producer, cfg.Kafka.Topics.DeadLetter, logger)
	}

	consumerGroup, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, logger)
	if err != nil {
		logger.Error("kafka consumer init failed", "error", err)
		os.Exit(1)
	}
	defer consumerGroup.Close()

	hub := ws.NewHub(logger)

	store := storage.New(pool)
	cycleNotifier := notifier.New(publisher, hub, priceCache, notifier.Topics{
		PricesUpdated:  cfg.Kafka.Topics.PricesUpdated,
		TradesExecuted: cfg.Kafka.Topics.TradesExecuted,
	}, logger)

	coord := coordinator.New(store, cycleNotifier, logger, serviceMetrics, coordinator.Config{
		Interval:      cfg.Matching.Interval,
		OrderTTL:      cfg.Matching.OrderTTL,
		CommitTimeout: cfg.Matching.CommitTimeout,
		NotifyTimeout: cfg.Matching.NotifyTimeout,
	})

	orderService := service.NewOrderService(store, publisher, coord, priceCache, logger, serviceMetrics, service.Topics{
		OrdersAccepted:  cfg.Kafka.Topics.OrdersAccepted,
		OrdersCancelled: cfg.Kafka.Topics.OrdersCancelled,
	})
	orderConsumer := consumer.NewOrderConsumer(coord, publisher, cfg.Kafka.Topics.DeadLetter, logger, serviceMetrics)

	httpServer := buildHTTPServer(cfg, ready, registry, hub, orderService, logger)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go hub.Run(runCtx)

	go func() {
		logger.Info("match coordinator starting", "interval", cfg.Matching.Interval.String())
		if err := coord.Run(runCtx); err != nil && err != context.Canceled {
			logger.Error("coordinator error", "error", err)
		}
	}()

	go func() {
		topics := []string{cfg.Kafka.Topics.OrdersAccepted, cfg.Kafka.Topics.OrdersCancelled}
		logger.Info("order consumer starting", "topics", topics)
		if err := consumerGroup.Consume(runCtx, topics, orderConsumer); err != nil && err != context.Canceled {
			logger.Error("kafka consumer error", "error", err)
		}
	}()

	ready.SetReady(true)

	go func() {
		logger.Info("coinmatch http starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	waitForShutdown(httpServer, ready, cancel, logger)
}

func connectDB(cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func buildHTTPServer(cfg *config.Config, ready *health.Manager, registry *prometheus.Registry, hub *ws.Hub, orderService *service.OrderService, logger *slog.Logger) *http.Server {
	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))
	router.GET("/ws", hub.Handler())

	handlers.New(orderService, logger).Register(router)

	addr := fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port)
	return &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}
}

func waitForShutdown(httpServer *http.Server, ready *health.Manager, cancel context.CancelFunc, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown started")
	ready.SetReady(false)
	cancel()

	ctx, cancelTimeout := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelTimeout()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}
