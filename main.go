package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"ms-raffle/internal/admin/admin_api"
	"ms-raffle/internal/analytics"
	"ms-raffle/internal/auth"
	"ms-raffle/internal/clock"
	"ms-raffle/internal/commission"
	"ms-raffle/internal/config"
	"ms-raffle/internal/database"
	"ms-raffle/internal/database/migrations"
	"ms-raffle/internal/kafka"
	"ms-raffle/internal/logger"
	"ms-raffle/internal/metrics"
	"ms-raffle/internal/middleware"
	"ms-raffle/internal/participants"
	"ms-raffle/internal/payment"
	"ms-raffle/internal/raffles"
	"ms-raffle/internal/reservation"
	leaseredis "ms-raffle/internal/reservation/redis"
	"ms-raffle/internal/reservation/reservation_api"
	"ms-raffle/internal/sale"
	"ms-raffle/internal/sse"
	ticketdb "ms-raffle/internal/tickets/db"
	"ms-raffle/internal/tickets/qr"
	tickets "ms-raffle/internal/tickets/service"
	"ms-raffle/internal/tickets/ticket_api"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	log := logger.NewLogger("raffle-api")
	defer log.Close()

	log.Info("APP", "Starting raffle service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal("CONFIG", fmt.Sprintf("Invalid configuration: %v", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bunDB, err := database.ConnectPostgres(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	if cfg.Migrations.AutoMigrate {
		// The runner shares the pool, so it is not closed here.
		runner := migrations.NewRunner(bunDB, migrations.Options{Dir: cfg.Migrations.Dir}, log)
		if err := runner.RunMigrations(); err != nil {
			log.Fatal("MIGRATION", fmt.Sprintf("Failed to run migrations: %v", err))
		}
	}

	redisClient, err := database.ConnectRedis(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}
	defer redisClient.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	clk := clock.Real{}
	events := sse.NewTicketEventEmitter()

	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		topics := kafka.Topics{
			SaleFinalized: cfg.Kafka.Topics.SaleFinalized,
			TicketStatus:  cfg.Kafka.Topics.TicketStatus,
		}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, []string{topics.SaleFinalized, topics.TicketStatus}, log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		producer = kafka.NewProducer(cfg.Kafka.Brokers, topics, log)
		defer producer.Close()
		log.Info("KAFKA", "Kafka producer initialized successfully")
	} else {
		log.Warn("KAFKA", "Kafka disabled, sale events are not published")
	}

	ticketStore := &ticketdb.DB{Bun: bunDB}
	raffleService := raffles.NewService(&raffles.DB{Bun: bunDB}, clk, log)
	participantStore := &participants.Store{Bun: bunDB, Clock: clk}

	tiers := commission.DefaultTiers(cfg.Commission.BonusThreshold)
	ledger := commission.NewLedger(&commission.DB{Bun: bunDB}, commission.Settings{
		Rate:           cfg.Commission.Rate,
		BonusPerTicket: cfg.Commission.BonusPerTicket,
		Tiers:          tiers,
	}, clk, log)

	engineOpts := []reservation.Option{
		reservation.WithPromoterResolver(ledger),
		reservation.WithStatusPublisher(events),
		reservation.WithMetrics(m),
	}
	finalizerOpts := []sale.Option{
		sale.WithParticipants(participantStore),
		sale.WithStatusPublisher(events),
		sale.WithMetrics(m),
	}
	if producer != nil {
		engineOpts = append(engineOpts, reservation.WithStatusPublisher(producer))
		finalizerOpts = append(finalizerOpts, sale.WithSalePublisher(producer), sale.WithStatusPublisher(producer))
	}

	engine := reservation.NewEngine(ticketStore, raffleService, clk, reservation.Config{
		HoldDuration:   cfg.Reservation.HoldDuration,
		MaxBatchSize:   cfg.Reservation.MaxBatchSize,
		SweepBatchSize: cfg.Reservation.SweepBatchSize,
	}, log, engineOpts...)
	finalizer := sale.NewFinalizer(ticketStore, raffleService, clk, log, finalizerOpts...)

	ticketService := tickets.NewTicketService(ticketStore, raffleService, clk, log)
	if cfg.Reservation.SweepOnRead {
		ticketService.EnableSweepOnRead(engine)
	}

	gateway, err := payment.NewStripeGateway(cfg.Stripe.SecretKey, log)
	if err != nil {
		log.Fatal("STRIPE", err.Error())
	}
	paymentService := payment.NewService(&payment.DB{Bun: bunDB}, gateway, ticketStore, raffleService, finalizer, clk, payment.Config{
		Currency:      cfg.Stripe.Currency,
		SuccessURL:    cfg.Stripe.SuccessURL,
		CancelURL:     cfg.Stripe.CancelURL,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		HoldDuration:  cfg.Reservation.HoldDuration,
	}, log)

	if cfg.Reservation.HoldTokenSecret == "" {
		log.Fatal("CONFIG", "HOLD_TOKEN_SECRET not set")
	}
	holdTokens := auth.NewHoldTokenIssuer(cfg.Reservation.HoldTokenSecret, clk)

	verifier, err := auth.NewOIDCVerifier(ctx, cfg.Auth.OIDCIssuer)
	if err != nil {
		log.Fatal("AUTH", fmt.Sprintf("Failed to initialize OIDC verifier: %v", err))
	}

	ticketHandler := ticket_api.NewHandler(raffleService, ticketService, events, log)
	reservationHandler := &reservation_api.Handler{
		Raffles:      raffleService,
		Participants: participantStore,
		Engine:       engine,
		HoldTokens:   holdTokens,
		Payments:     paymentService,
		Logger:       log,
	}
	adminHandler := &admin_api.Handler{
		Raffles:   raffleService,
		Generator: ticketService,
		Summaries: analytics.NewService(bunDB),
		Tickets:   engine,
		Sales:     finalizer,
		Promoters: ledger,
		Clock:     clk,
		Logger:    log,
	}

	if cfg.TicketCodes.Secret != "" {
		generator, err := qr.NewGenerator(cfg.TicketCodes.Secret, cfg.TicketCodes.Size)
		if err != nil {
			log.Fatal("CONFIG", fmt.Sprintf("Invalid ticket code settings: %v", err))
		}
		codes := qr.NewService(generator, &payment.DB{Bun: bunDB}, ticketStore, clk)
		ticketHandler.Codes = codes
		adminHandler.Codes = codes
	} else {
		log.Warn("CONFIG", "TICKET_CODE_SECRET not set, ticket codes are disabled")
	}

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Stripe-Signature"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestLogger(log, m))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := bunDB.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	ticketHandler.RegisterRoutes(r)
	reservationHandler.RegisterRoutes(r)
	log.Info("ROUTER", "Public raffle, reservation and payment routes registered")

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(verifier, log))
		r.Use(auth.RequireRole(cfg.Auth.AdminRole, log))
		adminHandler.RegisterRoutes(r)
	})
	log.Info("ROUTER", fmt.Sprintf("Admin routes registered under /api/admin (role %s)", cfg.Auth.AdminRole))

	var lease reservation.Lease
	if cfg.Reservation.SweepLease {
		lease = leaseredis.NewLease(redisClient, "api-"+uuid.NewString(), cfg.Reservation.SweepInterval)
	}
	sweeper := reservation.NewSweeper(engine, clk, reservation.SweeperConfig{
		Interval: cfg.Reservation.SweepInterval,
		Timeout:  cfg.Reservation.SweepTimeout,
	}, log, lease, m)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweeper.Run(ctx)
	}()

	// WriteTimeout stays off so ticket streams are not cut.
	server := &http.Server{
		Addr:        cfg.Server.Port,
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("🚀 Raffle service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP", fmt.Sprintf("HTTP server error: %v", err))
			stop()
		}
	}()

	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		log.Info("HTTP", "✅ Raffle service shutdown complete")
	}
	<-sweepDone
}
