package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaycart/checkout-service/internal/application"
	"github.com/relaycart/checkout-service/internal/config"
	"github.com/relaycart/checkout-service/internal/kafka"
	"github.com/relaycart/checkout-service/internal/logger"
	"github.com/relaycart/checkout-service/internal/merchant"
	"github.com/relaycart/checkout-service/internal/migrate"
	"github.com/relaycart/checkout-service/internal/presentation"
	"github.com/relaycart/checkout-service/internal/repository"
)

func main() {
	logger.Init()
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Warn("config load failed", "err", err)
		os.Exit(1)
	}

	if err := migrate.Up(cfg.DB_STRING); err != nil {
		logger.Warn("migrations failed", "err", err)
		os.Exit(1)
	}

	pool, err := pgxpool.New(context.Background(), cfg.DB_STRING)
	if err != nil {
		logger.Warn("pgxpool new failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(context.Background()); err != nil {
		logger.Warn("db ping failed", "err", err)
		os.Exit(1)
	}
	logger.Info("db connected")

	checkoutRepo := repository.NewCheckoutRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	eventLog := repository.NewEventLogRepository(pool)
	offerRepo := repository.NewMemoryOfferRepo()
	for offerID, merchantID := range cfg.Offers {
		offerRepo.Put(repository.Offer{ID: offerID, MerchantID: merchantID})
	}

	gateways := map[string]merchant.Gateway{}
	secrets := map[string]string{}
	for id, mc := range cfg.Merchants {
		gateways[id] = merchant.NewClient(id, mc.BaseURL, cfg.MerchantTimeout)
		secrets[id] = mc.WebhookSecret
	}
	registry := merchant.NewStaticRegistry(gateways)
	verifier := application.NewSignatureVerifier(secrets, cfg.WEBHOOK_SECRET)

	producer := kafka.NewProducer(cfg.KAFKA_BROKERS, cfg.EVENTS_TOPIC)
	defer producer.Close()

	orderSvc := application.NewOrderService(orderRepo, producer)
	checkoutSvc := application.NewCheckoutService(checkoutRepo, offerRepo, orderSvc, registry, producer)
	webhookSvc := application.NewWebhookService(eventLog, checkoutSvc, orderSvc)

	// Merchant events arrive over both the webhook endpoint and the
	// broker; both feed the same deduplicating pipeline.
	_, _ = kafka.StartConsumer(
		context.Background(),
		webhookSvc,
		kafka.ConsumerConfig{
			Brokers: cfg.KAFKA_BROKERS,
			Topic:   cfg.KAFKA_TOPIC,
			GroupID: cfg.KAFKA_GROUP_ID,
		},
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	h := presentation.NewHandler(checkoutSvc, orderSvc, webhookSvc, verifier)
	h.Register(r)

	addr := ":" + cfg.HTTP_PORT
	logger.Info("starting http", "addr", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Warn("http server crashed", "err", err)
		os.Exit(1)
	}
}
