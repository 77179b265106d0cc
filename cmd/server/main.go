package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fekuna/omnipos-reservation-service/config"
	"github.com/fekuna/omnipos-reservation-service/internal/auth"
	"github.com/fekuna/omnipos-reservation-service/internal/cart"
	"github.com/fekuna/omnipos-reservation-service/internal/inventory"
	invcache "github.com/fekuna/omnipos-reservation-service/internal/inventory/cache"
	invH "github.com/fekuna/omnipos-reservation-service/internal/inventory/handler"
	invRepoPkg "github.com/fekuna/omnipos-reservation-service/internal/inventory/repository"
	invUCPkg "github.com/fekuna/omnipos-reservation-service/internal/inventory/usecase"
	"github.com/fekuna/omnipos-reservation-service/internal/pkg/broker"
	"github.com/fekuna/omnipos-reservation-service/internal/pkg/cache"
	"github.com/fekuna/omnipos-reservation-service/internal/pkg/logger"
	"github.com/fekuna/omnipos-reservation-service/internal/pkg/metrics"
	"github.com/fekuna/omnipos-reservation-service/internal/pkg/postgres"
	"github.com/fekuna/omnipos-reservation-service/internal/pkg/tracing"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation"
	resH "github.com/fekuna/omnipos-reservation-service/internal/reservation/handler"
	resListenerPkg "github.com/fekuna/omnipos-reservation-service/internal/reservation/listener"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation/publisher"
	resRepoPkg "github.com/fekuna/omnipos-reservation-service/internal/reservation/repository"
	"github.com/fekuna/omnipos-reservation-service/internal/reservation/sweeper"
	resUCPkg "github.com/fekuna/omnipos-reservation-service/internal/reservation/usecase"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

func main() {
	// 1. Load Configuration
	_ = godotenv.Load()
	cfg := config.LoadEnv()

	// 2. Initialize Logger
	logConfig := &logger.ZapLoggerConfig{
		IsDevelopment:     false,
		Encoding:          cfg.Logger.Encoding,
		Level:             cfg.Logger.Level,
		DisableCaller:     cfg.Logger.DisableCaller,
		DisableStacktrace: cfg.Logger.DisableStacktrace,
	}
	if cfg.Server.AppEnv == "development" || cfg.Server.AppEnv == "dev" {
		logConfig.IsDevelopment = true
	}

	appLogger := logger.NewZapLogger(logConfig)
	defer appLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Tracing
	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracerProvider(ctx, cfg.Tracing.ServiceName, cfg.Tracing.Endpoint)
		if err != nil {
			appLogger.Fatal("Could not initialize tracing", zap.Error(err))
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				appLogger.Warn("Tracer provider shutdown failed", zap.Error(err))
			}
		}()
		appLogger.Info("Tracing enabled", zap.String("endpoint", cfg.Tracing.Endpoint))
	}

	// 4. Storage
	var (
		invRepo inventory.Repository
		resRepo reservation.Repository
	)
	switch cfg.Reservation.StorageDriver {
	case "memory":
		store := resRepoPkg.NewMemoryStore()
		invRepo, resRepo = store, store
		appLogger.Warn("Using in-memory storage; state is lost on restart")
	default:
		db, err := postgres.NewPostgres(&postgres.Config{
			Host:            cfg.Postgres.Host,
			Port:            cfg.Postgres.Port,
			User:            cfg.Postgres.User,
			Password:        cfg.Postgres.Password,
			DBName:          cfg.Postgres.DBName,
			SSLMode:         cfg.Postgres.SSLMode,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Postgres.ConnMaxLifetime) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.Postgres.ConnMaxIdleTime) * time.Second,
		})
		if err != nil {
			appLogger.Fatal("Could not connect to database", zap.Error(err))
		}
		defer db.Close()
		appLogger.Info("Connected to PostgreSQL database", zap.String("db_name", cfg.Postgres.DBName))

		if cfg.Postgres.AutoMigrate {
			if err := postgres.Migrate(ctx, db); err != nil {
				appLogger.Fatal("Could not apply schema", zap.Error(err))
			}
			appLogger.Info("Database schema applied")
		}
		invRepo = invRepoPkg.NewPGRepository(db)
		resRepo = resRepoPkg.NewPGRepository(db)
	}

	// 5. Redis (optional): availability cache and distributed locks
	var (
		stockCache     *invcache.StockCache
		inventoryLock  invUCPkg.Locker
		sweeperOptions []sweeper.Option
	)
	if cfg.Redis.Addr != "" {
		redisClient, err := cache.NewRedisClient(&cache.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			appLogger.Fatal("Could not connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		appLogger.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr))

		stockCache = invcache.NewStockCache(redisClient, cfg.Reservation.StockCacheTTL, appLogger)
		inventoryLock = redisClient
		sweeperOptions = append(sweeperOptions, sweeper.WithLocker(redisClient))
	}

	// 6. Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	reservationMetrics := metrics.NewReservationMetrics(registry)
	sweeperOptions = append(sweeperOptions, sweeper.WithMetrics(reservationMetrics))

	// 7. Post-commit observers
	cartNotifier := cart.NewNotifier(cart.Config{
		ServiceURL:     cfg.Cart.ServiceURL,
		ConnectTimeout: cfg.Cart.ConnectTimeout,
		RequestTimeout: cfg.Cart.RequestTimeout,
	}, appLogger)
	defer cartNotifier.Wait()
	if cartNotifier == nil {
		appLogger.Info("Cart webhooks disabled (CART_SERVICE_URL not set)")
	}
	stockObservers := inventory.Observers{stockCache, cartNotifier}

	// 8. Initialize UseCases
	resOptions := []resUCPkg.Option{
		resUCPkg.WithHoldDuration(cfg.Reservation.HoldDuration),
		resUCPkg.WithRetry(cfg.Reservation.RetryMaxTries, cfg.Reservation.RetryMaxWait),
		resUCPkg.WithMetrics(reservationMetrics),
		resUCPkg.WithStockObserver(stockObservers),
	}

	var kafkaConsumer *broker.KafkaConsumer
	if len(cfg.Kafka.Brokers) > 0 {
		producer := broker.NewProducer(&broker.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.ReservationsTopic,
		})
		defer producer.Close()
		resOptions = append(resOptions, resUCPkg.WithPublisher(publisher.NewKafkaPublisher(producer, 0)))

		kafkaConsumer = broker.NewConsumer(&broker.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.OrdersTopic,
			GroupID: cfg.Kafka.GroupID,
		})
		defer kafkaConsumer.Close()
		appLogger.Info("Kafka configured",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("orders_topic", cfg.Kafka.OrdersTopic),
			zap.String("reservations_topic", cfg.Kafka.ReservationsTopic),
		)
	}

	invUC := invUCPkg.NewInventoryUseCase(invRepo, stockCache, inventoryLock, stockObservers, appLogger)
	resUC := resUCPkg.NewReservationUseCase(resRepo, appLogger, resOptions...)

	// 9. Initialize Handlers
	mux := http.NewServeMux()
	invH.NewInventoryHandler(invUC, appLogger).RegisterRoutes(mux)
	resH.NewReservationHandler(resUC, appLogger).RegisterRoutes(mux)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:              normalizePort(cfg.Server.HTTPPort),
		Handler:           auth.Middleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 10. gRPC server: health and reflection
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	grpcPort := normalizePort(cfg.Server.GRPCPort)
	lis, err := net.Listen("tcp", grpcPort)
	if err != nil {
		appLogger.Fatal("failed to listen", zap.String("port", grpcPort), zap.Error(err))
	}

	// 11. Run everything until a signal arrives
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		appLogger.Info("Starting HTTP server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		appLogger.Info("Starting gRPC server", zap.String("port", grpcPort))
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		return grpcServer.Serve(lis)
	})

	expirySweeper := sweeper.NewExpirySweeper(resUC, resRepo, sweeper.Config{
		Interval:  cfg.Reservation.SweepInterval,
		BatchSize: cfg.Reservation.SweepBatchSize,
	}, appLogger, sweeperOptions...)
	g.Go(func() error {
		return expirySweeper.Start(gctx)
	})

	if kafkaConsumer != nil {
		orderListener := resListenerPkg.NewOrderListener(kafkaConsumer, resUC, appLogger)
		g.Go(func() error {
			return orderListener.Start(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down server...")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Warn("HTTP server shutdown", zap.Error(err))
		}
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		appLogger.Error("Server exited with error", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}

func normalizePort(port string) string {
	if !strings.Contains(port, ":") {
		return ":" + port
	}
	return port
}
