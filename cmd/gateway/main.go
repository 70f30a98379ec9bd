// Gateway is the HTTP entrypoint for agent tool calls. It authenticates and
// validates each call, routes it to a local or remote connector, and records
// the outcome in the hash-chained journal.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bturcanu/opentoolbox/pkg/auth"
	"github.com/bturcanu/opentoolbox/pkg/config"
	"github.com/bturcanu/opentoolbox/pkg/connectors"
	"github.com/bturcanu/opentoolbox/pkg/journal"
	tbOtel "github.com/bturcanu/opentoolbox/pkg/otel"
	"github.com/bturcanu/opentoolbox/pkg/toolbox"
)

const maxBodyBytes = 1 << 20 // 1 MB

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: config.LogLevel()}))
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ── OpenTelemetry ────────────────────────────────────────────────────
	otelCfg := tbOtel.ConfigFromEnv("toolbox-gateway")
	otelShutdown, err := tbOtel.Setup(ctx, otelCfg)
	if err != nil {
		log.Error("otel setup failed", "error", err)
	} else {
		defer otelShutdown(context.Background()) //nolint:errcheck // best-effort shutdown
	}
	if otelCfg.MetricsEnabled {
		tbOtel.ServeMetrics(ctx, config.EnvOr("METRICS_ADDR", "127.0.0.1:9090"), tbOtel.MetricsHandler(nil), log)
	}

	// ── Journal ──────────────────────────────────────────────────────────
	driver, dsn := config.JournalDSN()
	store, err := journal.Open(ctx, driver, dsn)
	if err != nil {
		log.Error("journal open failed", "driver", driver, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// ── Connectors ───────────────────────────────────────────────────────
	file, err := config.LoadFile(os.Getenv("TOOLBOX_CONFIG"))
	if err != nil {
		log.Error("config load failed", "error", err)
		os.Exit(1)
	}
	reg := connectors.NewRegistry(log)
	reg.SetInternalToken(os.Getenv("INTERNAL_AUTH_TOKEN"))
	reg.SetTimeout(config.EnvOrDuration("CONNECTOR_TIMEOUT", 30*time.Second))
	if _, err := toolbox.RegisterAll(reg, toolbox.Options{File: file, Logger: log}); err != nil {
		log.Error("connector setup failed", "error", err)
		os.Exit(1)
	}
	if _, err := toolbox.RegisterRemotes(reg, os.Getenv("CONNECTOR_REMOTES")); err != nil {
		log.Error("remote connector setup failed", "error", err)
		os.Exit(1)
	}

	keyStore := auth.NewKeyStore(os.Getenv("API_KEYS"))
	if keyStore.Len() == 0 {
		log.Warn("API_KEYS is empty; every request will be rejected")
	}

	gw := &Gateway{
		log:        log,
		journal:    journal.NewLogger(store, log),
		connectors: reg,
		limiter:    newTenantLimiter(config.EnvOrInt("RATE_LIMIT_PER_TENANT", 100), config.EnvOrInt("RATE_LIMIT_BURST", 0)),
	}

	// ── Server ───────────────────────────────────────────────────────────
	addr := config.EnvOr("GATEWAY_ADDR", ":8080")
	srv := &http.Server{
		Addr:              addr,
		Handler:           gw.Routes(keyStore, store.Ping),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      45 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("gateway starting", "addr", addr, "tools", len(reg.Tools()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down gateway")
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Error("server shutdown error", "error", err)
	}
}

// Routes builds the router. ping backs /readyz.
func (gw *Gateway) Routes(keys *auth.KeyStore, ping func(context.Context) error) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(40 * time.Second))
	r.Use(auth.APIKeyAuth(keys))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("NOT READY"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/v1/tools", gw.HandleListTools)
	r.Post("/v1/toolcalls", gw.HandleToolCall)
	r.Get("/v1/toolcalls/{event_id}", gw.HandleGetEvent)
	return r
}
