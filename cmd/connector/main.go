// Connector serves one or more adapters over /exec so a gateway can route
// their tools remotely (CONNECTOR_REMOTES=prefix=url on the gateway side).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bturcanu/opentoolbox/pkg/config"
	"github.com/bturcanu/opentoolbox/pkg/connectors"
	"github.com/bturcanu/opentoolbox/pkg/connectors/sdk"
	tbOtel "github.com/bturcanu/opentoolbox/pkg/otel"
	"github.com/bturcanu/opentoolbox/pkg/toolbox"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: config.LogLevel()}))
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	names := os.Getenv("CONNECTOR_NAME")
	if names == "" {
		log.Error("CONNECTOR_NAME is required", "available", toolbox.Names())
		os.Exit(1)
	}

	otelShutdown, err := tbOtel.Setup(ctx, tbOtel.ConfigFromEnv("toolbox-connector-"+names))
	if err != nil {
		log.Error("otel setup failed", "error", err)
	} else {
		defer otelShutdown(context.Background()) //nolint:errcheck // best-effort shutdown
	}

	file, err := config.LoadFile(os.Getenv("TOOLBOX_CONFIG"))
	if err != nil {
		log.Error("config load failed", "error", err)
		os.Exit(1)
	}
	reg, err := buildRegistry(strings.Split(names, ","), toolbox.Options{File: file, Logger: log})
	if err != nil {
		log.Error("connector setup failed", "error", err)
		os.Exit(1)
	}

	addr := config.EnvOr("CONNECTOR_ADDR", ":8090")
	srv := &http.Server{
		Addr: addr,
		Handler: newRouter(reg, sdk.Config{
			InternalToken: os.Getenv("INTERNAL_AUTH_TOKEN"),
			Logger:        log,
			Timeout:       config.EnvOrDuration("CONNECTOR_EXEC_TIMEOUT", 15*time.Second),
		}),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("connector starting", "addr", addr, "connectors", names, "tools", len(reg.Tools()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down connector")
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Error("server shutdown error", "error", err)
	}
}

// buildRegistry registers each named connector; unlike the gateway, a
// connector that cannot be built is fatal here.
func buildRegistry(names []string, o toolbox.Options) (*connectors.Registry, error) {
	reg := connectors.NewRegistry(o.Logger)
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		conn, err := toolbox.Build(name, o)
		if err != nil {
			return nil, fmt.Errorf("build %s: %w", name, err)
		}
		if err := reg.Register(conn); err != nil {
			return nil, err
		}
	}
	if len(reg.Tools()) == 0 {
		return nil, errors.New("no connectors registered")
	}
	return reg, nil
}

func newRouter(reg *connectors.Registry, cfg sdk.Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/tools", sdk.ToolsHandler(reg))
	r.Post("/exec", sdk.Handler(reg, cfg))
	return r
}
