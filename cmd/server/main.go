package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Amicidal/sigmachad-gatewaycore/internal/apikeys"
	"github.com/Amicidal/sigmachad-gatewaycore/internal/authn"
	"github.com/Amicidal/sigmachad-gatewaycore/internal/authz"
	"github.com/Amicidal/sigmachad-gatewaycore/internal/db"
	"github.com/Amicidal/sigmachad-gatewaycore/internal/eventbus"
	"github.com/Amicidal/sigmachad-gatewaycore/internal/httpapi"
	"github.com/Amicidal/sigmachad-gatewaycore/internal/ratelimit"
	"github.com/Amicidal/sigmachad-gatewaycore/internal/refresh"
	"github.com/Amicidal/sigmachad-gatewaycore/internal/rpc"
	"github.com/Amicidal/sigmachad-gatewaycore/internal/scopes"
	"github.com/Amicidal/sigmachad-gatewaycore/internal/wshub"
)

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "sigmachad-gatewaycore").Logger()

	isDevMode := env("NODE_ENV", "") != "production"
	if logLevel := env("LOG_LEVEL", ""); logLevel != "" {
		if lvl, err := zerolog.ParseLevel(logLevel); err == nil {
			zerolog.SetGlobalLevel(lvl)
		}
	}
	if isDevMode {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	ctx := context.Background()

	jwtSecret := env("JWT_SECRET", "dev-secret-change-in-production")
	jwksURL := env("JWT_JWKS_URL", "")
	adminToken := env("ADMIN_API_TOKEN", "")

	if !isDevMode && (jwtSecret == "" || jwtSecret == "dev-secret-change-in-production") {
		log.Fatal().Msg("FATAL: cannot start in production mode with default or missing JWT_SECRET. " +
			"Set JWT_SECRET to a secure random value (e.g., openssl rand -base64 32)")
	}

	apiKeyRegistry := apikeys.New()
	if dbURL := env("DATABASE_URL", ""); dbURL != "" {
		pgPool, err := db.Open(ctx, dbURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		defer pgPool.Close()
		apiKeyRegistry.SetProvider(apikeys.PGProvider(pgPool))
		log.Info().Msg("api key registry backed by postgres")
	} else if registryPath := env("API_KEY_REGISTRY_PATH", ""); registryPath != "" {
		apiKeyRegistry = apikeys.NewFromFile(registryPath)
	} else if registryInline := env("API_KEY_REGISTRY", ""); registryInline != "" {
		apiKeyRegistry = apikeys.NewFromString(registryInline)
	}

	resolver := authn.NewResolver(authn.Config{
		AdminAPIToken: adminToken,
		JWTSecret:     jwtSecret,
		JWKSURL:       jwksURL,
	}, apiKeyRegistry)

	gate := authz.NewGate(resolver.IsEnforced())
	if !resolver.IsEnforced() {
		log.Warn().Msg("no credential mechanism configured; every request is granted unconditionally")
	}

	catalogue := scopes.New()
	verifier := authn.NewVerifier(jwtSecret, jwksURL)
	refreshStore := refresh.New()

	bus := eventbus.New()
	hub := wshub.NewHub(resolver, gate, bus)

	toolRegistry := rpc.NewRegistry()
	toolRouter := rpc.NewRouter(toolRegistry)

	rateLimitPreset := ratelimit.DefaultPreset
	switch env("RATE_LIMIT_PRESET", "default") {
	case "search":
		rateLimitPreset = ratelimit.SearchPreset
	case "admin":
		rateLimitPreset = ratelimit.AdminPreset
	case "strict":
		rateLimitPreset = ratelimit.StrictPreset
	}

	var corsOrigins []string
	for _, origin := range strings.Split(env("CORS_ALLOWED_ORIGINS", "*"), ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			corsOrigins = append(corsOrigins, trimmed)
		}
	}

	router := httpapi.NewRouter(httpapi.Dependencies{
		Resolver:     resolver,
		Gate:         gate,
		Catalogue:    catalogue,
		Verifier:     verifier,
		RefreshStore: refreshStore,
		APIKeys:      apiKeyRegistry,
		RateLimit:    rateLimitPreset,
		Hub:          hub,
		ToolRegistry: toolRegistry,
		ToolRouter:   toolRouter,
		CORSOrigins:  corsOrigins,
		StartedAt:    time.Now(),
	})

	httpAddr := env("HTTP_ADDR", ":8080")
	httpServer := &http.Server{
		Addr:         httpAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", httpAddr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	hub.Shutdown()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("server stopped")
}
