package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/vporoshin/chatbot-retrieval/internal/adapters/http"
	"github.com/vporoshin/chatbot-retrieval/internal/bootstrap"
	"github.com/vporoshin/chatbot-retrieval/internal/config"
	"github.com/vporoshin/chatbot-retrieval/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	logging.Setup("retrieval-api", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	go func() {
		if err := app.RunInvalidationSubscriber(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("invalidation_subscriber_stopped", "error", err)
		}
	}()

	router := httpadapter.NewRouter(
		app.Retriever,
		app.Settings,
		app.Repo,
		app.Indexer,
		app.Ingestor,
		app.Queue,
		app.Metrics,
		httpadapter.RouterConfig{
			Service:        "retrieval-api",
			RateLimitRPS:   cfg.RateLimitRPS,
			RateLimitBurst: cfg.RateLimitBurst,
			MaxInFlight:    cfg.MaxInFlight,
			Defaults:       app.Defaults,
		},
	).Handler()

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("api_listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("api server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("api_shutdown_error", "error", err)
	}
}
