package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trailchat/messaging-service/internal/api"
	"trailchat/messaging-service/internal/auth"
	"trailchat/messaging-service/internal/cache"
	"trailchat/messaging-service/internal/config"
	"trailchat/messaging-service/internal/httputil"
	"trailchat/messaging-service/internal/metrics"
	"trailchat/messaging-service/internal/middleware"
	"trailchat/messaging-service/internal/provider"
	"trailchat/messaging-service/internal/rate"
	"trailchat/messaging-service/internal/store"
	"trailchat/messaging-service/internal/token"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// CLI flag support for config path
	configFlag := flag.String("config", "", "path to config file (overrides TRAILCHAT_CONFIG env var)")
	flag.Parse()

	// Determine config path: CLI flag > env var > default
	cfgPath := *configFlag
	if cfgPath == "" {
		cfgPath = os.Getenv("TRAILCHAT_CONFIG")
	}
	if cfgPath == "" {
		// Try config.yaml first, fall back to config.example.yaml
		cfgPath = "./config.yaml"
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			// Can't use log yet, it's not configured
			cfgPath = "./config.example.yaml"
		}
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Logging.Level == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Logger.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		// JSON logging for production
	}

	// Startup configuration summary
	log.Info().Msg("=== TrailChat Configuration Summary ===")
	log.Info().
		Str("config_path", cfgPath).
		Str("log_level", cfg.Logging.Level).
		Str("listen", cfg.Server.Listen).
		Msg("server configuration")
	log.Info().
		Str("provider_url", cfg.Provider.BaseURL).
		Str("store_url", cfg.Store.BaseURL).
		Int("auth_cache_capacity", cfg.Auth.CacheCapacity).
		Int("opaque_ttl_sec", cfg.Auth.OpaqueTTLSec).
		Msg("auth configuration")
	log.Info().
		Int("users_ttl_sec", cfg.Cache.UsersTTLSec).
		Int("messages_ttl_sec", cfg.Cache.MessagesTTLSec).
		Bool("single_flight", cfg.Cache.SingleFlight).
		Msg("cache configuration")
	log.Info().
		Int("message_max", cfg.RateLimit.MessageMax).
		Int("message_window_ms", cfg.RateLimit.MessageWindowMs).
		Int("login_max", cfg.RateLimit.LoginMax).
		Int("login_window_ms", cfg.RateLimit.LoginWindowMs).
		Bool("skip_successful", cfg.RateLimit.SkipSuccessful).
		Msg("rate limit configuration")
	log.Info().Msg("TrailChat starting...")

	kr, err := token.NewKeyring(cfg.Token.Alg, cfg.Token.Keys, cfg.Token.CurrentKID, cfg.Token.Issuer, cfg.Token.SkewSec)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create keyring")
	}

	providerClient := provider.NewClient(cfg.Provider.BaseURL, cfg.Provider.APIKey,
		time.Duration(cfg.Provider.TimeoutMs)*time.Millisecond)
	dataStore := store.NewRESTClient(cfg.Store.BaseURL, cfg.Store.APIKey,
		time.Duration(cfg.Store.TimeoutMs)*time.Millisecond)

	authenticator := auth.NewAuthenticator(
		auth.NewCache(cfg.Auth.CacheCapacity, cfg.CacheMaxTTL()),
		auth.NewResolver(kr, providerClient),
		cfg.OpaqueCacheTTL(),
	)
	core := middleware.NewCore(authenticator)

	var userOpts []cache.Option[[]store.User]
	var msgOpts []cache.Option[[]store.Message]
	if cfg.Cache.SingleFlight {
		userOpts = append(userOpts, cache.WithSingleFlight[[]store.User]())
		msgOpts = append(msgOpts, cache.WithSingleFlight[[]store.Message]())
	}
	usersCache := cache.New[[]store.User](cfg.Cache.Capacity, userOpts...)
	messagesCache := cache.New[[]store.Message](cfg.Cache.Capacity, msgOpts...)

	msgLimiter := rate.NewFixedWindowWithCapacity(cfg.MessageWindow(), cfg.RateLimit.MessageMax, cfg.RateLimit.Capacity)
	loginLimiter := rate.NewLoginLimiterWithCapacity(cfg.LoginWindow(), cfg.RateLimit.LoginMax,
		cfg.RateLimit.SkipSuccessful, cfg.RateLimit.Capacity)

	handlers := api.NewHandler(cfg, kr, providerClient, dataStore, usersCache, messagesCache, loginLimiter)

	r := mux.NewRouter()
	handlers.Register(r, core, msgLimiter)

	metrics.MustRegister()
	metrics.BuildInfo.Set(1)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	handler := httputil.RequestIDMiddleware(log.Logger)(r)

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           handler,
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutMs) * time.Millisecond,
		IdleTimeout:       90 * time.Second,
	}

	// Graceful shutdown setup
	serverErrors := make(chan error, 1)
	go func() {
		log.Info().
			Str("listen", cfg.Server.Listen).
			Msg("TrailChat messaging service listening")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Fatal().Err(err).Msg("server error")
	case sig := <-shutdown:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("graceful shutdown failed, forcing close")
			srv.Close()
		}

		log.Info().Msg("shutdown complete")
	}
}
