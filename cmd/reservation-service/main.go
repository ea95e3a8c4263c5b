package main

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"

	"bazaar/internal/pkg/bootstrap"
	"bazaar/internal/pkg/httpclient"
	"bazaar/internal/pkg/logger"
	"bazaar/internal/pkg/redis"
	"bazaar/internal/pkg/zookeeper"
	"bazaar/internal/service/reservation/application"
	"bazaar/internal/service/reservation/infrastructure"
	"bazaar/internal/service/reservation/infrastructure/adapter"
	"bazaar/internal/service/reservation/interfaces"
)

const serviceName = "reservation-service"

func main() {
	bootstrap.Init()
	cfg := bootstrap.GetCurrentConfig()

	tracer := otel.Tracer(serviceName)

	// 存储
	db, err := infrastructure.NewDB(cfg.Infra.Mysql.DSN)
	if err != nil {
		log.Fatalf("FATAL: mysql: %v", err)
	}
	txManager := infrastructure.NewGormTransactionManager(db)
	itemRepo := infrastructure.NewGormSellableItemRepository(db)
	holdRepo := infrastructure.NewGormCartReservationRepository(db)
	orderRepo := infrastructure.NewGormOrderRepository(db)
	intentRepo := infrastructure.NewGormPaymentIntentRepository(db)
	orderHoldRepo := infrastructure.NewGormOrderReservationRepository(db)
	stockRepo := infrastructure.NewGormStockRepository(db)
	processedRepo := infrastructure.NewGormProcessedEventRepository(db)

	// Redis：限流 + 可售量读缓存
	redisClient, err := redis.NewClient(context.Background(), cfg.Infra.Redis.Addr, cfg.Infra.Redis.Password, cfg.Infra.Redis.DB)
	if err != nil {
		log.Fatalf("FATAL: redis: %v", err)
	}
	stockCache := adapter.NewRedisStockCache(redisClient)
	limiter, err := interfaces.NewRateLimiter(redisClient, cfg.App.RateLimit.Limit, cfg.App.RateLimit.Window.Std())
	if err != nil {
		log.Fatalf("FATAL: rate limiter: %v", err)
	}

	// 出站适配器
	pricingAdapter := adapter.NewHTTPPricingAdapter(httpclient.NewClient(tracer), cfg.Infra.Pricing.ResolveURL)
	markupValidator, err := adapter.NewCELMarkupValidator(cfg.Infra.Pricing.MarkupFloorRule, cfg.Infra.Pricing.FloorRate)
	if err != nil {
		log.Fatalf("FATAL: markup rule: %v", err)
	}
	eventPublisher := adapter.NewKafkaEventPublisher(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.EventTopic)
	payoutAdapter := adapter.NewKafkaPayoutAdapter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.PayoutTopic)

	// ZooKeeper：清扫器的单实例约束
	zkConn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, cfg.Infra.Zookeeper.SessionTimeout.Std())
	if err != nil {
		log.Fatalf("FATAL: zookeeper: %v", err)
	}
	sweepLock, err := zookeeper.NewLeaderLock(zkConn, "reservation-sweeper")
	if err != nil {
		log.Fatalf("FATAL: sweeper lock: %v", err)
	}

	cartTTL := time.Duration(cfg.App.CartReservationTTLMinutes) * time.Minute
	orderTTL := time.Duration(cfg.App.OrderReservationTTLMinutes) * time.Minute

	// 应用层
	reservationManager := application.NewReservationManager(txManager, itemRepo, holdRepo, stockCache, tracer)
	checkoutService := application.NewCheckoutService(
		itemRepo, orderRepo, intentRepo, orderHoldRepo,
		reservationManager, pricingAdapter, markupValidator, eventPublisher, payoutAdapter,
		cartTTL, orderTTL, cfg.App.CheckoutTimeout.Std(), tracer,
	)
	settlementProcessor := application.NewSettlementProcessor(
		txManager, processedRepo, intentRepo, orderRepo, orderHoldRepo, stockRepo,
		eventPublisher, payoutAdapter, cfg.App.SettlementRetry.MaxRetries, tracer,
	)
	retryWorker := application.NewSettlementRetryWorker(
		processedRepo, settlementProcessor,
		cfg.App.SettlementRetry.Interval.Std(), cfg.App.SettlementRetry.BatchSize,
	)
	sweeper := application.NewExpirySweeper(
		holdRepo, reservationManager, eventPublisher, sweepLock,
		cfg.App.Sweep.Interval.Std(), cfg.App.Sweep.BatchSize, cfg.App.Sweep.Concurrency, tracer,
	)

	// 入站接口
	httpHandler := interfaces.NewReservationHandler(reservationManager, checkoutService, stockCache, cartTTL, limiter)
	webhookHandler := interfaces.NewWebhookHandler(settlementProcessor, cfg.Infra.Webhook.Secret)
	settlementConsumer := interfaces.NewPaymentEventConsumer(
		cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.PaymentEventTopic, serviceName, settlementProcessor,
	)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        cfg.App.Port,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			httpHandler.RegisterRoutes(appCtx.Mux)
			webhookHandler.RegisterRoutes(appCtx.Mux)
		},
		RunWorkers: func(ctx context.Context) {
			go retryWorker.Run(ctx)
			go settlementConsumer.Run(ctx)
			sweeper.Run(ctx)
		},
		OnShutdown: func(ctx context.Context) {
			if err := settlementConsumer.Close(); err != nil {
				logger.Ctx(ctx).Warn().Err(err).Msg("failed to close payment event consumer")
			}
			if err := eventPublisher.Close(); err != nil {
				logger.Ctx(ctx).Warn().Err(err).Msg("failed to close event publisher")
			}
			if err := payoutAdapter.Close(); err != nil {
				logger.Ctx(ctx).Warn().Err(err).Msg("failed to close payout writer")
			}
			if err := redisClient.Close(); err != nil {
				logger.Ctx(ctx).Warn().Err(err).Msg("failed to close redis client")
			}
			zkConn.Close()
		},
	})
}
