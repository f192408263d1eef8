package app

import (
	"context"
	"time"

	"github.com/Dhoini/Billing-reconciliation/internal/api/rest"
	"github.com/Dhoini/Billing-reconciliation/internal/api/rest/handlers"
	"github.com/Dhoini/Billing-reconciliation/internal/config"
	"github.com/Dhoini/Billing-reconciliation/internal/db"
	"github.com/Dhoini/Billing-reconciliation/internal/gateway"
	paypalGw "github.com/Dhoini/Billing-reconciliation/internal/gateway/paypal"
	stripeGw "github.com/Dhoini/Billing-reconciliation/internal/gateway/stripe"
	"github.com/Dhoini/Billing-reconciliation/internal/kafka"
	"github.com/Dhoini/Billing-reconciliation/internal/lock"
	"github.com/Dhoini/Billing-reconciliation/internal/metrics"
	"github.com/Dhoini/Billing-reconciliation/internal/repository"
	"github.com/Dhoini/Billing-reconciliation/internal/service"
	"github.com/Dhoini/Billing-reconciliation/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// App представляет собой контейнер для всех компонентов приложения
type App struct {
	Config   *config.Config
	Router   *gin.Engine
	Registry *prometheus.Registry
	Logger   *logger.Logger

	dbClient    *db.DBClient
	redisClient *redis.Client
	producer    kafka.EventProducer
}

// NewApp создает и инициализирует новый экземпляр приложения
func NewApp(cfg *config.Config, log *logger.Logger) (*App, error) {
	dbClient, err := db.NewDBClient(cfg.Database.DSN, log)
	if err != nil {
		return nil, err
	}
	if err := dbClient.Bootstrap(context.Background()); err != nil {
		return nil, err
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Errorw("Failed to connect to Redis", "error", err)
		return nil, err
	}
	log.Infow("Connected to Redis successfully", "addr", cfg.Redis.Addr)

	// Продюсер Kafka не критичен для основного флоу: без него события
	// просто не публикуются
	var producer kafka.EventProducer
	producer, err = kafka.NewEventProducer(kafka.NewConfig(cfg.Kafka.Brokers), log)
	if err != nil {
		log.Errorw("Failed to initialize Kafka producer, continuing without event publishing", "error", err)
		producer = nil
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	paymentMetrics := metrics.NewPaymentMetrics(registry, log)
	webhookMetrics := metrics.NewWebhookMetrics(registry, log)

	resourceCache := repository.NewRedisResourceCache(redisClient, log)
	locker := lock.NewRedisLock(redisClient, log)

	stripeClient := stripeGw.NewClient(stripeGw.Config{
		APIKey:        cfg.Stripe.APIKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		APIBase:       cfg.Stripe.APIBase,
	}, resourceCache, log)

	paypalClient := paypalGw.NewClient(paypalGw.Config{
		Username:     cfg.PayPal.Username,
		Password:     cfg.PayPal.Password,
		Signature:    cfg.PayPal.Signature,
		APIBase:      cfg.PayPal.APIBase,
		IPNVerifyURL: cfg.PayPal.IPNVerifyURL,
		Sandbox:      cfg.PayPal.Sandbox,
	}, log)

	adapters := map[string]gateway.Adapter{
		stripeClient.ID(): stripeClient,
		paypalClient.ID(): paypalClient,
	}

	membershipRepo := repository.NewPostgresMembershipRepository(dbClient.DB(), log)
	paymentRepo := repository.NewPostgresPaymentRepository(dbClient.DB(), log)

	membershipService := service.NewMembershipService(membershipRepo, adapters, stripeClient, producer, log)
	reconciler := service.NewReconcilerService(paymentRepo, membershipRepo, membershipService, producer, paymentMetrics, log)
	webhookService := service.NewWebhookService(stripeClient, paypalClient, membershipRepo, reconciler, webhookMetrics, log)
	checkoutService := service.NewCheckoutService(stripeClient, paypalClient, adapters,
		membershipRepo, paymentRepo, locker,
		time.Duration(cfg.Lock.TTLSeconds)*time.Second, webhookMetrics, paymentMetrics, log)

	checkoutHandler := handlers.NewCheckoutHandler(checkoutService, log)
	webhookHandler := handlers.NewWebhookHandler(webhookService, log)
	membershipHandler := handlers.NewMembershipHandler(membershipService, log)

	router := rest.SetupRouter(log, registry, checkoutHandler, webhookHandler, membershipHandler)

	return &App{
		Config:      cfg,
		Router:      router,
		Registry:    registry,
		Logger:      log,
		dbClient:    dbClient,
		redisClient: redisClient,
		producer:    producer,
	}, nil
}

// Close освобождает ресурсы приложения
func (a *App) Close() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.Logger.Errorw("Error closing Kafka producer", "error", err)
		}
	}
	if err := a.redisClient.Close(); err != nil {
		a.Logger.Errorw("Error closing Redis connection", "error", err)
	}
	if err := a.dbClient.Close(); err != nil {
		a.Logger.Errorw("Error closing database connection", "error", err)
	}
}
