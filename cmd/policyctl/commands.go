package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"policyreader/internal/models"
	"policyreader/internal/pipeline"
	"policyreader/internal/util"
)

type documentSummary struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Category    string   `json:"category"`
	Status      string   `json:"status"`
	Confidence  float64  `json:"confidence,omitempty"`
	NeedsReview bool     `json:"needs_review,omitempty"`
	Fields      int      `json:"fields"`
	Error       string   `json:"error,omitempty"`
	Unmapped    []string `json:"unmapped_keys,omitempty"`
}

func summarize(d models.Document) documentSummary {
	return documentSummary{
		ID:          d.ID,
		Title:       d.Title,
		Category:    d.Category,
		Status:      string(d.Status),
		Confidence:  d.Confidence,
		NeedsReview: d.NeedsReview,
		Fields:      len(d.ExtractedFields),
		Error:       d.ErrorMessage,
		Unmapped:    d.Diagnostics.Unmapped,
	}
}

func parseStatus(raw string) (models.Status, error) {
	s := models.Status(raw)
	if s != "" && !s.Valid() {
		return "", fmt.Errorf("invalid status %q", raw)
	}
	return s, nil
}

func addCmd(e *env) *cobra.Command {
	var category, title, owner string
	cmd := &cobra.Command{
		Use:   "add <source-file>",
		Short: "Register a policy PDF as a Draft document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := e.open(ctx)
			if err != nil {
				return err
			}
			if category != "" {
				if _, err := a.Schema.FieldsOf(category); err != nil {
					return err
				}
			}
			doc := models.NewDocument(uuid.NewString(), owner, title, args[0], category, time.Now().UTC())
			out, err := a.Stores.Documents.Create(ctx, doc)
			if err != nil {
				return err
			}
			return e.print(summarize(out))
		},
	}
	cmd.Flags().StringVarP(&category, "category", "c", "", "policy category, e.g. Motor")
	cmd.Flags().StringVar(&title, "title", "", "document title (default: file name)")
	cmd.Flags().StringVar(&owner, "owner", "", "addressee of processing notifications")
	return cmd
}

func listCmd(e *env) *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := parseStatus(status)
			if err != nil {
				return err
			}
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			docs, err := a.Stores.Documents.List(cmd.Context(), st, limit)
			if err != nil {
				return err
			}
			out := make([]documentSummary, 0, len(docs))
			for _, d := range docs {
				out = append(out, summarize(d))
			}
			return e.print(out)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Draft, Processing, Completed or Failed")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum documents to list")
	return cmd
}

func processCmd(e *env) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "process <document-id>...",
		Short: "Process documents and wait for the outcome",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := e.open(ctx)
			if err != nil {
				return err
			}
			svc := a.Service(e.dispatcher())

			handles := make(map[string]pipeline.Handle, len(args))
			for _, id := range args {
				h, err := svc.Request(ctx, id)
				if err != nil {
					return err
				}
				handles[id] = h
			}

			wctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			var failed int
			out := make([]documentSummary, 0, len(args))
			for _, id := range args {
				if err := handles[id].Wait(wctx); err != nil {
					if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
						return fmt.Errorf("waiting for %s: %w", id, err)
					}
					failed++
				}
				doc, err := a.Stores.Documents.Get(ctx, id)
				if err != nil {
					return err
				}
				out = append(out, summarize(doc))
			}
			if err := e.print(out); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d documents: %w", failed, len(args), util.ErrProcessingFailed)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Minute, "how long to wait for all documents")
	return cmd
}

func resetCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <document-id>",
		Short: "Return a document to Draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			doc, err := a.Service(nil).Reset(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return e.print(summarize(doc))
		},
	}
}

func aliasesCmd(e *env) *cobra.Command {
	var rebuild bool
	cmd := &cobra.Command{
		Use:   "aliases <category>",
		Short: "Show the alias dictionary of a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := e.open(ctx)
			if err != nil {
				return err
			}
			if _, err := a.Schema.FieldsOf(args[0]); err != nil {
				return err
			}
			m := a.Aliases.Get(ctx, args[0])
			if rebuild {
				m = a.Aliases.Invalidate(ctx, args[0])
				a.Prompts.Invalidate(ctx, args[0])
			}
			return e.print(m)
		},
	}
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "drop the cached dictionary and prompt and rebuild from the schema")
	return cmd
}

func promptCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "prompt <category>",
		Short: "Show the extraction prompt template of a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			t, source := a.Prompts.Template(cmd.Context(), args[0])
			return e.print(map[string]any{
				"category":    args[0],
				"source":      source,
				"fingerprint": t.Fingerprint,
				"template":    t.Text(),
			})
		},
	}
}

func sweepCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one stuck-document sweep; retried documents are processed before exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			report, err := a.Monitor(e.dispatcher()).Sweep(cmd.Context())
			if err != nil {
				return err
			}
			return e.print(report)
		},
	}
}

func exportCmd(e *env) *cobra.Command {
	var status, output string
	var limit int
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write documents and their extracted fields to an XLSX workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := parseStatus(status)
			if err != nil {
				return err
			}
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			b, err := a.Export.DocumentsXLSX(cmd.Context(), st, limit)
			if err != nil {
				return err
			}
			if err := util.WriteFileAtomic(output, b); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%d bytes)\n", output, len(b))
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only export documents in this status")
	cmd.Flags().StringVarP(&output, "output", "o", "documents.xlsx", "output file")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum documents to export (default 10000)")
	return cmd
}

func runCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the stuck-document monitor until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := e.open(cmd.Context())
			if err != nil {
				return err
			}
			err = a.Monitor(e.dispatcher()).Run(cmd.Context(), e.cfg.MonitorInterval)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}
