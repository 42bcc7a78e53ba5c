package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/ridloal/order-payment-service/internal/cart"
	"github.com/ridloal/order-payment-service/internal/order/api"
	"github.com/ridloal/order-payment-service/internal/order/repository"
	"github.com/ridloal/order-payment-service/internal/order/service"
	"github.com/ridloal/order-payment-service/internal/payment"
	"github.com/ridloal/order-payment-service/internal/payment/cod"
	"github.com/ridloal/order-payment-service/internal/payment/gatewaya"
	"github.com/ridloal/order-payment-service/internal/payment/gatewayb"
	"github.com/ridloal/order-payment-service/internal/platform/auth"
	"github.com/ridloal/order-payment-service/internal/platform/config"
	"github.com/ridloal/order-payment-service/internal/platform/database"
	"github.com/ridloal/order-payment-service/internal/platform/logger"
	"github.com/ridloal/order-payment-service/internal/platform/messaging"
	"github.com/ridloal/order-payment-service/internal/platform/metrics"
	"go.uber.org/zap"
)

func main() {
	// Load Config
	dbCfg := config.LoadOrderDBConfig()
	serverCfg := config.LoadServerConfig("8084")
	checkoutCfg := config.LoadCheckoutConfig()
	redisCfg := config.LoadRedisConfig()
	kafkaCfg := config.LoadKafkaConfig()
	authCfg := config.LoadAuthConfig()

	if err := logger.Init(checkoutCfg.ServiceName, checkoutCfg.Environment); err != nil {
		logger.Error("Failed to initialise production logger, logging to stderr", err)
	}
	defer logger.Sync()
	logger.Info("Starting Order Service...")

	// Setup Database
	connectCtx, cancelConnect := context.WithTimeout(context.Background(), time.Minute)
	db, err := database.Connect(connectCtx, dbCfg.DSN)
	cancelConnect()
	if err != nil {
		logger.Error("Failed to connect to database for Order Service", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := database.RunMigrations(db, dbCfg.MigrationsDirPath); err != nil {
		logger.Error("Failed to run migrations", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: redisCfg.Addr, Password: redisCfg.Password, DB: redisCfg.DB})
	defer redisClient.Close()

	publisher := messaging.New(kafkaCfg.Topic, kafkaCfg.Brokers)
	defer publisher.Close()
	if len(kafkaCfg.Brokers) == 0 {
		logger.Warn("KAFKA_BROKERS not set, order events will not be published")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(checkoutCfg.MetricsNamespace, registry)

	// Setup Dependencies
	providers := payment.NewRegistry(
		cod.New(),
		gatewaya.New(config.LoadGatewayAConfig(checkoutCfg.PublicBaseURL)),
		gatewayb.New(config.LoadGatewayBConfig(checkoutCfg.PublicBaseURL), nil),
	)
	carts := cart.NewRedisStore(redisClient)
	orderRepository := repository.NewPostgresOrderRepository(db)
	stateMachine := service.NewStateMachine(orderRepository, publisher, m)
	ordService := service.NewOrderService(orderRepository, stateMachine, carts, providers, m, checkoutCfg)
	reconciler := service.NewCallbackReconciler(orderRepository, stateMachine, providers, carts, m)
	orderHandler := api.NewOrderHandler(ordService, reconciler, carts, checkoutCfg.StorefrontURL)

	scheduler := service.NewExpiryScheduler(ordService, checkoutCfg.ExpirySchedule)
	if err := scheduler.Start(); err != nil {
		logger.Error("Failed to start payment expiry scheduler", err)
		os.Exit(1)
	}

	// Setup Gin Router
	router := gin.New()
	router.Use(gin.Recovery(), m.Middleware(checkoutCfg.ServiceName))
	router.GET("/healthz", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))
	apiV1 := router.Group("/api/v1")
	orderHandler.RegisterRoutes(apiV1, auth.NewAuthenticator(authCfg.JWTSecret))

	srv := &http.Server{Addr: serverCfg.Port, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info("Order Service running", zap.String("addr", serverCfg.Port))
		if errSrv := srv.ListenAndServe(); errSrv != nil && !errors.Is(errSrv, http.ErrServerClosed) {
			logger.Error("Failed to run Order Service server", errSrv)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down Order Service...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	<-scheduler.Stop().Done()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Order Service forced to shutdown", err)
	}
}
