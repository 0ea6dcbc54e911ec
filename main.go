package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"tiketku/internal/auth"
	"tiketku/internal/config"
	"tiketku/internal/database/migrations"
	"tiketku/internal/gate"
	"tiketku/internal/gate/gate_api"
	"tiketku/internal/inventory"
	"tiketku/internal/kafka"
	"tiketku/internal/logger"
	"tiketku/internal/notify"
	"tiketku/internal/order"
	"tiketku/internal/order/db"
	"tiketku/internal/order/order_api"
	"tiketku/internal/payment/handler"
	"tiketku/internal/payment/midtrans"
	"tiketku/internal/payment/stripegw"
	"tiketku/internal/ratelimit"
	"tiketku/internal/settlement"
	"tiketku/internal/sweeper"
	"tiketku/internal/tickets"
	"tiketku/internal/tickets/ticket_api"
)

func connectPostgres(cfg config.DatabaseConfig, log *logger.Logger) *bun.DB {
	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Connecting to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err == nil {
			err = sqldb.Ping()
		}
		if err == nil {
			break
		}
		log.Error("DATABASE", fmt.Sprintf("PostgreSQL not ready: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)

	log.Info("DATABASE", "PostgreSQL connection successful")
	return bun.NewDB(sqldb, pgdialect.New())
}

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting TiketKu service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}
	cfg := config.Load()

	bunDB := connectPostgres(cfg.Database, log)
	defer bunDB.Close()

	if cfg.Database.AutoMigrate {
		runner := migrations.NewRunner(bunDB, migrations.DefaultOptions())
		if err := runner.Initialize(); err != nil {
			log.Fatal("DATABASE", fmt.Sprintf("Migration setup failed: %v", err))
		}
		if err := runner.MigrateUp(); err != nil {
			log.Fatal("DATABASE", fmt.Sprintf("Migration failed: %v", err))
		}
		log.Info("DATABASE", "Migrations applied")
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer redisClient.Close()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Warn("REDIS", fmt.Sprintf("Redis unavailable, rate limiting and sweep locking degraded: %v", err))
	} else {
		log.Info("REDIS", fmt.Sprintf("Redis connection successful to %s", cfg.Redis.Addr))
	}

	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka.Brokers, log)
		defer producer.Close()
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, kafka.AllTopics()); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		} else {
			log.Info("KAFKA", "Required topics ensured")
		}
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}

	// Domain wiring. The settlement resolver is shared by every caller
	// that can finish an order: the webhook, the user API and the sweeper.
	ledger := inventory.NewLedger(log)
	orderDB := &db.DB{Bun: bunDB}
	mailer := notify.NewMailer(cfg.Email, log)
	midtransClient := midtrans.NewClient(cfg.Midtrans, cfg.Server.AppBaseURL, httpClient, log)

	var settlementProducer settlement.Publisher
	var orderProducer order.Publisher
	var gateProducer gate.Publisher
	if producer != nil {
		settlementProducer = producer
		orderProducer = producer
		gateProducer = producer
	}

	resolver := settlement.NewResolver(bunDB, ledger, mailer, settlementProducer, log)

	var gateway order.Gateway = midtransClient
	var stripeParser handler.StripeParser
	if cfg.Stripe.Enabled {
		stripeGateway := stripegw.NewGateway(cfg.Stripe, cfg.Server.AppBaseURL, cfg.Server.AppBaseURL, log)
		gateway = stripeGateway
		stripeParser = stripeGateway
		log.Info("PAYMENT", "Stripe checkout enabled as payment gateway")
	}

	orderService := order.NewOrderService(orderDB, ledger, gateway, resolver, orderProducer, log, cfg.Order.TTL)
	ticketService := tickets.NewService(bunDB, ledger)
	gateService := gate.NewService(bunDB, gateProducer, log)

	var sweepGateway sweeper.GatewayChecker
	if cfg.Sweep.RecheckGateway {
		sweepGateway = midtransClient
	}
	sweep := sweeper.New(orderDB, resolver, sweepGateway, redisClient, log)

	limiter := ratelimit.New(redisClient, 60, time.Minute, log)

	orderHandler := order_api.NewHandler(orderService)
	ticketHandler := ticket_api.NewHandler(ticketService)
	gateHandler := gate_api.NewHandler(gateService)

	oidcMiddleware, err := auth.Middleware(cfg.Auth.OIDCIssuer, log)
	if err != nil {
		log.Fatal("AUTH", fmt.Sprintf("OIDC setup failed: %v", err))
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{cfg.Server.AppBaseURL},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(limiter.Middleware)

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"UP"}`))
	})

	// Public: availability needs no login.
	r.Route("/api", func(r chi.Router) {
		ticketHandler.PublicRoutes(r)

		// Buyer endpoints.
		r.Group(func(r chi.Router) {
			r.Use(oidcMiddleware)
			orderHandler.Routes(r)
			ticketHandler.Routes(r)
		})

		// Gate endpoints for venue staff.
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireStaff(cfg.Auth.StaffJWTSecret))
			gateHandler.Routes(r)
		})

		// External scheduler hook for the expiry sweep.
		r.Group(func(r chi.Router) {
			r.Use(auth.CronSecret(cfg.Sweep.CronSecret, log))
			r.Post("/internal/sweep", sweep.Handler())
		})
	})

	webhookHandler := handler.NewWebhookHandler(resolver, midtransClient, stripeParser, orderDB, log)
	paymentServer := &http.Server{
		Addr:    cfg.Server.PaymentPort,
		Handler: webhookHandler.Router(limiter.GinMiddleware()),
	}

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go sweep.Run(sweepCtx, cfg.Sweep.Interval)

	go func() {
		log.Info("HTTP", fmt.Sprintf("Public API running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()
	go func() {
		log.Info("HTTP", fmt.Sprintf("Payment callback listener running on %s", cfg.Server.PaymentPort))
		if err := paymentServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("Payment server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	stopSweep()

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Public API shutdown failed: %v", err))
	}
	if err := paymentServer.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Payment server shutdown failed: %v", err))
	}
	log.Info("APP", "Shutdown complete")
}
