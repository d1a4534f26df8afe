package main

import (
	"context"
	"log"
	"time"

	"policyreader/internal/activities"
	"policyreader/internal/app"
	"policyreader/internal/config"
	"policyreader/internal/storage"
	"policyreader/internal/workflows"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}
	logger := cfg.NewLogger()

	c, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
		Logger:    tlog.NewStructuredLogger(logger),
	})
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := storage.NewDB(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		log.Fatal(err)
	}

	a, err := app.Build(context.Background(), cfg, app.PostgresStores(db), logger)
	if err != nil {
		log.Fatal(err)
	}
	defer a.Close()

	dispatcher := workflows.NewDispatcher(c, cfg.TemporalTaskQueue, a.WorkflowDefaults())
	audit := a.Stores.Audit
	if !cfg.AuditLLMCalls {
		audit = nil
	}

	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{})
	workflows.Register(w)
	activities.Register(w, activities.New(a.Runner, a.Providers, audit, a.Monitor(dispatcher), logger))

	if err := workflows.EnsureMonitor(ctx, c, cfg.TemporalTaskQueue, cfg.MonitorCron); err != nil {
		log.Fatal(err)
	}

	logger.Info("worker.started",
		"temporal", cfg.TemporalAddress,
		"queue", cfg.TemporalTaskQueue,
		"llm_providers", cfg.LLMProviders,
		"monitor_cron", cfg.MonitorCron,
	)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatal(err)
	}
}
