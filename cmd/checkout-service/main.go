package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/content-checkout/internal/auth"
	"github.com/vasiliy-maslov/content-checkout/internal/cart"
	"github.com/vasiliy-maslov/content-checkout/internal/checkout"
	"github.com/vasiliy-maslov/content-checkout/internal/config"
	"github.com/vasiliy-maslov/content-checkout/internal/coupon"
	"github.com/vasiliy-maslov/content-checkout/internal/db"
	"github.com/vasiliy-maslov/content-checkout/internal/events"
	checkoutHandler "github.com/vasiliy-maslov/content-checkout/internal/handler/http"
	"github.com/vasiliy-maslov/content-checkout/internal/ordertotal"
	"github.com/vasiliy-maslov/content-checkout/internal/selection"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	log.Logger = log.With().Str("service", "checkout-service").Logger()

	log.Info().Msg("Checkout service starting...")

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if cfg.App.Env != "development" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Str("service", cfg.App.Name).Logger()
	}
	if level, err := zerolog.ParseLevel(cfg.App.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		log.Warn().Str("log_level", cfg.App.LogLevel).Msg("Unknown log level, keeping debug")
	}
	log.Debug().Str("env", cfg.App.Env).Str("port", cfg.App.Port).Msg("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbConn, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbConn.Close()

	couponDB, err := db.ConnectCoupons(cfg.CouponDSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to coupon database")
	}
	defer couponDB.Close()

	var resumeCache cart.ResumeCache
	redisClient, err := db.NewRedis(ctx, cfg.Redis)
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("Redis unavailable, resume cache disabled")
	case redisClient != nil:
		defer redisClient.Close()
		resumeCache = cart.NewRedisResumeCache(redisClient, cfg.Redis.ResumeTTL)
	}

	bus := events.NewBus()

	forwarderDone := make(chan struct{})
	if len(cfg.Kafka.Brokers) > 0 {
		writer := events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		forwarder := events.NewKafkaForwarder(writer, cfg.Kafka.Buffer)
		detach := forwarder.Attach(bus)
		go func() {
			defer close(forwarderDone)
			defer detach()
			if err := forwarder.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Kafka forwarder stopped")
			}
		}()
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("Forwarding checkout events to Kafka")
	} else {
		close(forwarderDone)
	}

	cartService := cart.NewService(cart.NewRepository(dbConn.Pool), resumeCache, bus)
	couponService := coupon.NewService(coupon.NewRepository(couponDB))
	orderService := ordertotal.NewService(ordertotal.NewRepository(dbConn.Pool), bus)

	totals := checkout.NewTotalAggregator(cartService)
	pipeline := checkout.NewPipeline(totals, couponService, orderService).
		WithRefreshTimeout(cfg.Checkout.RefreshTimeout)
	stopWatch := pipeline.Watch(ctx, bus)

	validation := checkout.ValidationOptions{
		RequireNiche:   cfg.Checkout.RequireNiche,
		RequireService: cfg.Checkout.RequireService,
		Rules:          selection.DefaultRules().WithPlaceholders(cfg.Checkout.Placeholders...),
	}
	registry := checkout.NewControllerRegistry(cartService, bus, validation)
	registry.StartEviction(cfg.Checkout.GateIdleTTL)

	handler := checkoutHandler.NewCheckoutHandler(checkoutHandler.Deps{
		Cart:       cartService,
		Totals:     totals,
		Pipeline:   pipeline,
		Orders:     orderService,
		Gates:      registry,
		Users:      auth.NewProvider(),
		Validation: validation,
	})

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(auth.Middleware)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown failed")
	}

	registry.Close()
	stopWatch()
	<-forwarderDone

	log.Info().Msg("Server stopped")
}
