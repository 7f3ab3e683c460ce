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
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	goredis "github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"pos-ledger/internal/api"
	"pos-ledger/internal/auth"
	"pos-ledger/internal/catalog"
	"pos-ledger/internal/check"
	"pos-ledger/internal/config"
	"pos-ledger/internal/database/migrations"
	"pos-ledger/internal/kafka"
	"pos-ledger/internal/ledger/db"
	"pos-ledger/internal/logger"
	"pos-ledger/internal/loyalty"
	"pos-ledger/internal/notifier"
	"pos-ledger/internal/order"
	"pos-ledger/internal/payment"
	"pos-ledger/internal/pricing"
	rediswrap "pos-ledger/internal/redis"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}

	log := logger.NewLogger()
	defer log.Close()
	cfg := config.Load()

	// --- PostgreSQL ---
	connector := pgdriver.NewConnector(pgdriver.WithDSN(cfg.Database.DSN()))
	sqldb := sql.OpenDB(connector)
	defer sqldb.Close()
	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	if err := sqldb.Ping(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to Postgres: %v", err))
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())

	// --- Migrations ---
	runner := migrations.NewRunner(migrations.DefaultOptions(cfg.Database.DSN()))
	if err := runner.MigrateUp(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Migration failed: %v", err))
	}
	runner.Close()
	log.Info("DATABASE", "Schema is up to date")

	// --- Redis ---
	redisClient := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("REDIS", fmt.Sprintf("Failed to connect to Redis: %v", err))
	}
	locks := rediswrap.NewLocks(redisClient, cfg.Locks.CheckTTL, cfg.Locks.LoyaltyTTL)

	// --- Kafka ---
	var producer *kafka.Producer
	if cfg.Kafka.Enabled && !cfg.Kafka.MockMode {
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, []string{cfg.Kafka.Topics.LedgerEvents}); err != nil {
			log.Error("KAFKA", fmt.Sprintf("Topic setup failed: %v", err))
		}
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics.LedgerEvents)
		defer producer.Close()
		log.Info("KAFKA", "Producer connected to "+cfg.Kafka.Brokers[0])
	} else {
		log.Warn("KAFKA", "Kafka disabled, events stay local")
	}

	// --- Wiring ---
	dbLayer := db.New(bunDB)
	cat := catalog.NewBunCatalog(bunDB)
	emitter := notifier.NewEmitter()

	var events *notifier.Notifier
	if producer != nil {
		events = notifier.New(emitter, producer, log)
	} else {
		events = notifier.New(emitter, nil, log)
	}

	pricingEngine := pricing.NewEngine(dbLayer)
	checkSvc := check.NewService(dbLayer, locks, events, log)
	orderSvc := order.NewService(dbLayer, cat, locks, events, log)

	var gateway payment.Gateway
	if cfg.Stripe.Enabled {
		sg, err := payment.NewStripeGateway(cfg.Stripe.SecretKey, "krw", log)
		if err != nil {
			log.Fatal("STRIPE", fmt.Sprintf("Gateway setup failed: %v", err))
		}
		gateway = sg
	}
	paymentSvc := payment.NewService(dbLayer, gateway, locks, events, log)

	issuer := loyalty.NewIssuer(dbLayer, events, log)
	loyaltySvc := loyalty.NewService(dbLayer, cat, locks, events, issuer, log, cfg.Loyalty.DefaultAccrualBP)
	paymentSvc.SetLoyaltyHook(loyaltySvc)

	handler := &api.Handler{
		Checks:   checkSvc,
		Orders:   orderSvc,
		Payments: paymentSvc,
		Loyalty:  loyaltySvc,
		Issuer:   issuer,
		Pricing:  pricingEngine,
		Emitter:  emitter,
		Logger:   log,
	}

	// --- Router ---
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	if cfg.Auth.Enabled {
		r.Use(auth.Middleware(cfg.Auth.OIDCIssuer))
	} else {
		r.Use(auth.Middleware(""))
	}
	handler.Routes(r)

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("API", "Ledger service listening on "+cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("API", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("API", "Shutdown signal received")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Fatal("API", fmt.Sprintf("Server forced to shutdown: %v", err))
	}
	log.Info("API", "Server exited gracefully")
}
