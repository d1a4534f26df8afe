// Package app assembles the processing graph shared by the api, worker and
// policyctl binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"policyreader/internal/aliases"
	"policyreader/internal/config"
	"policyreader/internal/export"
	"policyreader/internal/models"
	"policyreader/internal/monitor"
	"policyreader/internal/notify"
	"policyreader/internal/ocr"
	"policyreader/internal/pipeline"
	"policyreader/internal/prompts"
	"policyreader/internal/providers"
	"policyreader/internal/schema"
	"policyreader/internal/sources"
	"policyreader/internal/storage"
	"policyreader/internal/storage/sqlite"
	"policyreader/internal/workflows"
)

// DocumentStore is the full document contract: the pipeline transitions plus
// admission and listing.
type DocumentStore interface {
	pipeline.DocumentStore
	Create(ctx context.Context, d models.Document) (models.Document, error)
	List(ctx context.Context, status models.Status, limit int) ([]models.Document, error)
}

type Stores struct {
	Documents DocumentStore
	Records   pipeline.RecordStore
	Aliases   aliases.Store
	Prompts   prompts.Store
	Audit     providers.Auditor
	// Pool backs the postgres notify backend; nil outside Postgres.
	Pool *pgxpool.Pool
}

func PostgresStores(db *storage.DB) Stores {
	return Stores{
		Documents: storage.NewDocumentRepo(db),
		Records:   storage.NewRecordRepo(db),
		Aliases:   storage.NewAliasRepo(db),
		Prompts:   storage.NewPromptRepo(db),
		Audit:     storage.NewLLMAuditRepo(db),
		Pool:      db.Pool,
	}
}

func SQLiteStores(s *sqlite.Store) Stores {
	return Stores{Documents: s, Records: s, Aliases: s, Prompts: s, Audit: s}
}

type App struct {
	Config    config.Config
	Log       *slog.Logger
	Stores    Stores
	Schema    *schema.Registry
	Aliases   *aliases.Dictionary
	Prompts   *prompts.Resolver
	Sources   *sources.Resolver
	Providers *providers.Manager
	LLM       *providers.Completer
	Notifier  *notify.Notifier
	Runner    *pipeline.Runner
	Export    *export.Service

	closers []func()
}

func Build(ctx context.Context, cfg config.Config, st Stores, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{Config: cfg, Log: log, Stores: st}

	a.Schema = schema.NewRegistry()
	if cfg.SchemaDir != "" {
		loaded, err := a.Schema.LoadDir(cfg.SchemaDir)
		if err != nil {
			return nil, fmt.Errorf("load schema definitions: %w", err)
		}
		log.Info("schema.loaded", "dir", cfg.SchemaDir, "categories", loaded)
	}

	pm, err := providers.NewManager(cfg)
	if err != nil {
		return nil, fmt.Errorf("llm providers: %w", err)
	}
	a.Providers = pm
	var audit providers.Auditor
	if cfg.AuditLLMCalls {
		audit = st.Audit
	}
	a.LLM = providers.NewCompleter(pm, audit, time.Duration(cfg.ProviderCooldownSecs)*time.Second, log)

	pubs, err := a.publishers(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Notifier = notify.New(log, pubs...)

	a.Aliases = aliases.NewDictionary(aliases.NewBuilder(a.Schema, log), st.Aliases, cfg.AliasTTL, log)
	a.Prompts = prompts.NewResolver(a.Schema, a.Aliases, st.Prompts, cfg.MaxPromptRunes, log)
	a.Sources = sources.NewResolver(cfg.DataInRoot, log)
	a.Export = export.NewService(st.Documents, log)

	extractor := ocr.NewExtractor(ocr.Config{
		Language: cfg.OCRLanguage,
		DPI:      cfg.OCRDPI,
		MaxPages: cfg.OCRMaxPages,
		Workers:  cfg.OCRPageWorkers,
	}, log)

	a.Runner = pipeline.NewRunner(pipeline.Deps{
		Store:    st.Documents,
		Records:  st.Records,
		Sources:  a.Sources,
		OCR:      extractor,
		Prompts:  a.Prompts,
		Aliases:  a.Aliases,
		Schema:   a.Schema,
		LLM:      a.LLM,
		Notifier: a.Notifier,
		Log:      log,
	}, pipeline.Settings{
		OCRTimeout:          cfg.OCRTimeout,
		LLMTimeout:          cfg.LLMTimeout,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		Model:               cfg.LLMModel,
		ArtifactDir:         cfg.DataOutRoot,
	})
	return a, nil
}

func (a *App) publishers(ctx context.Context) ([]notify.Publisher, error) {
	var pubs []notify.Publisher
	for _, name := range a.Config.NotifyBackendList() {
		switch name {
		case "log":
			pubs = append(pubs, notify.NewLogPublisher(a.Log))
		case "redis":
			r, err := notify.NewRedisPublisher(ctx, a.Config.RedisAddr, a.Config.RedisChannel)
			if err != nil {
				return pubs, fmt.Errorf("redis notify backend: %w", err)
			}
			a.closers = append(a.closers, func() { _ = r.Close() })
			pubs = append(pubs, r)
		case "postgres", "pg":
			if a.Stores.Pool == nil {
				a.Log.Warn("notify.backend.skipped", "backend", name, "reason", "no postgres pool")
				continue
			}
			pubs = append(pubs, notify.NewPgPublisher(a.Stores.Pool, a.Config.PgNotifyChan))
		default:
			return pubs, fmt.Errorf("unknown notify backend %q", name)
		}
	}
	return pubs, nil
}

// Service returns the request/reset entry point dispatching through d.
func (a *App) Service(d pipeline.Dispatcher) *pipeline.Service {
	return pipeline.NewService(a.Stores.Documents, a.Sources, a.LLM, d, a.Log)
}

func (a *App) Monitor(d pipeline.Dispatcher) *monitor.Monitor {
	return monitor.New(a.Stores.Documents, d, a.Notifier, monitor.Settings{
		RetryAfter:  a.Config.MonitorRetryAfter,
		FailAfter:   a.Config.MonitorFailAfter,
		RetryLimit:  a.Config.MonitorRetryLimit,
		Concurrency: a.Config.MonitorConcurrency,
	}, a.Log)
}

// WorkflowDefaults seeds every DocumentProcessWorkflow started by this process.
func (a *App) WorkflowDefaults() workflows.DocumentProcessInput {
	return workflows.DocumentProcessInput{
		ProviderOrder:     a.Providers.PreferredLLMOrder(),
		CooldownSeconds:   a.Config.ProviderCooldownSecs,
		OCRTimeoutSeconds: int(a.Config.OCRTimeout / time.Second),
		LLMTimeoutSeconds: int(a.Config.LLMTimeout / time.Second),
		Model:             a.Config.LLMModel,
	}
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
