package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"policyreader/internal/api"
	"policyreader/internal/app"
	"policyreader/internal/config"
	"policyreader/internal/storage"
	"policyreader/internal/workflows"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}
	logger := cfg.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.NewDB(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		log.Fatal(err)
	}

	c, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
		Logger:    tlog.NewStructuredLogger(logger),
	})
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	a, err := app.Build(ctx, cfg, app.PostgresStores(db), logger)
	if err != nil {
		log.Fatal(err)
	}
	defer a.Close()

	dispatcher := workflows.NewDispatcher(c, cfg.TemporalTaskQueue, a.WorkflowDefaults())
	h := api.NewServer(api.Deps{
		Documents: a.Stores.Documents,
		Processor: a.Service(dispatcher),
		Progress:  dispatcher,
		Schema:    a.Schema,
		Aliases:   a.Aliases,
		Prompts:   a.Prompts,
		Export:    a.Export,
		Providers: a.Providers,
		UploadDir: cfg.DataInRoot,
		Log:       logger,
	})

	srv := &http.Server{Addr: cfg.APIAddr, Handler: h.Routes(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("api.started", "addr", cfg.APIAddr, "queue", cfg.TemporalTaskQueue, "llm_providers", cfg.LLMProviders)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
