// Package app wires configuration, storage, messaging, and the HTTP server
// into a running service.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vietcart/fulfillment/internal/domain/discount"
	"github.com/vietcart/fulfillment/internal/domain/order"
	"github.com/vietcart/fulfillment/internal/domain/payment"
	"github.com/vietcart/fulfillment/internal/domain/transaction"
	"github.com/vietcart/fulfillment/internal/expiry"
	"github.com/vietcart/fulfillment/internal/gateway"
	"github.com/vietcart/fulfillment/internal/handler"
	"github.com/vietcart/fulfillment/internal/notify"
	"github.com/vietcart/fulfillment/internal/repository"
	"github.com/vietcart/fulfillment/internal/rewards"
	"github.com/vietcart/fulfillment/pkg/health"
	"github.com/vietcart/fulfillment/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the expiry
// scheduler, and handles graceful shutdown. It is the single wiring point
// for the application.
func Run(ctx context.Context, lg *zap.Logger, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Redis backs the durable payment expiry queue.
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() {
		if err := rdb.Close(); err != nil {
			lg.Warn("closing redis", zap.Error(err))
		}
	}()

	// Health check service.
	healthSvc := health.New()
	healthSvc.Readiness("postgres", 5*time.Second, health.Ping(pool))
	healthSvc.Readiness("redis", 5*time.Second, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	healthSvc.Liveness("goroutines", time.Second, health.GoroutineBudget(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	productRepo := repository.NewProductRepository(pool)
	stockRepo := repository.NewStockRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	paymentRepo := repository.NewPaymentRepository(pool)
	transactionRepo := repository.NewTransactionRepository(pool)
	discountRepo := repository.NewDiscountRepository(pool)
	cartRepo := repository.NewCartRepository(pool)
	addressRepo := repository.NewAddressRepository(pool)

	// Messaging. Without brokers, notifications and credits are discarded.
	var (
		notifier   notify.Notifier = notify.Noop{}
		rewardsSvc payment.Rewards = rewards.Noop{}
	)
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaNotifier := notify.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.NotifyTopic, cfg.Kafka.NotifyBuffer, lg)
		kafkaNotifier.Start(ctx)
		defer kafkaNotifier.WaitClosed()
		notifier = kafkaNotifier

		creditPublisher := rewards.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.RewardsTopic)
		defer func() {
			if err := creditPublisher.Close(); err != nil {
				lg.Warn("closing rewards publisher", zap.Error(err))
			}
		}()
		rewardsSvc = creditPublisher
	}

	// Domain services.
	ledger := transaction.NewLedger(transactionRepo)
	machine := payment.NewMachine(paymentRepo, orderRepo, stockRepo, ledger, rewardsSvc, notifier, lg)
	discountEval := discount.NewEvaluator(discountRepo)

	scheduler := expiry.NewScheduler(expiry.NewRedis(rdb), machine, cfg.Expiry.Interval, lg)
	go func() {
		if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error("expiry scheduler stopped", zap.Error(err))
		}
	}()

	orderService := order.NewService(
		productRepo, stockRepo, discountEval, orderRepo, cartRepo,
		addressRepo, machine, scheduler, notifier, lg,
	)

	reconciler := gateway.NewReconciler(machine, paymentRepo, webhookSecrets(cfg.Webhook), lg)

	// HTTP surface.
	h := handler.NewHandler(orderService, machine, reconciler, productRepo, lg)

	router := chi.NewRouter()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	router.Route("/api", h.Register)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("fulfillment-api"),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

func webhookSecrets(cfg WebhookConfig) map[gateway.Gateway][]byte {
	secrets := make(map[gateway.Gateway][]byte)
	add := func(g gateway.Gateway, secret string) {
		if secret != "" {
			secrets[g] = []byte(secret)
		}
	}
	add(gateway.GatewayMomo, cfg.MomoSecret)
	add(gateway.GatewayZaloPay, cfg.ZaloPaySecret)
	add(gateway.GatewayVNPay, cfg.VNPaySecret)
	add(gateway.GatewayPayPal, cfg.PayPalSecret)
	add(gateway.GatewayStripe, cfg.StripeSecret)
	return secrets
}
