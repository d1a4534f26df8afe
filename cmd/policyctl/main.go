// Command policyctl runs the policy pipeline locally against a SQLite file,
// with the in-process worker pool standing in for Temporal.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"policyreader/internal/app"
	"policyreader/internal/config"
	"policyreader/internal/pipeline"
	"policyreader/internal/storage/sqlite"
)

// env is opened lazily by the subcommands that touch the store.
type env struct {
	cfg    config.Config
	dbPath string
	out    io.Writer

	store *sqlite.Store
	app   *app.App
	pool  *pipeline.Pool
}

func (e *env) open(ctx context.Context) (*app.App, error) {
	if e.app != nil {
		return e.app, nil
	}
	if e.dbPath != "" {
		e.cfg.SQLitePath = e.dbPath
	}
	store, err := sqlite.Open(ctx, e.cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	a, err := app.Build(ctx, e.cfg, app.SQLiteStores(store), e.cfg.NewLogger())
	if err != nil {
		store.Close()
		return nil, err
	}
	e.store, e.app = store, a
	return a, nil
}

// dispatcher starts the worker pool on first use.
func (e *env) dispatcher() *pipeline.Pool {
	if e.pool == nil {
		e.pool = pipeline.NewPool(e.app.Runner.Run, e.cfg.PoolWorkers, e.cfg.PoolQueue, e.app.Log)
	}
	return e.pool
}

func (e *env) close(ctx context.Context) {
	if e.pool != nil {
		_ = e.pool.Close(ctx)
		e.pool = nil
	}
	if e.app != nil {
		e.app.Close()
		e.app = nil
	}
	if e.store != nil {
		e.store.Close()
		e.store = nil
	}
}

func (e *env) print(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCmd(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:           "policyctl",
		Short:         "Process insurance policy documents locally",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return e.cfg.Validate()
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			e.close(context.WithoutCancel(cmd.Context()))
		},
	}
	root.SetOut(e.out)
	root.PersistentFlags().StringVar(&e.dbPath, "db", "", "SQLite database path (default $POLICYREADER_SQLITE_PATH)")
	root.AddCommand(
		addCmd(e),
		listCmd(e),
		processCmd(e),
		resetCmd(e),
		aliasesCmd(e),
		promptCmd(e),
		sweepCmd(e),
		exportCmd(e),
		runCmd(e),
	)
	return root
}

func main() {
	_ = godotenv.Load(".env")
	e := &env{cfg: config.Load(), out: os.Stdout}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(e).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		e.close(context.Background())
		os.Exit(1)
	}
}
