// Package monitor recovers documents stuck in Processing. It retries an
// attempt once after a short threshold and fails the document after a long
// one. It only flips status and redispatches; it never runs the pipeline.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"policyreader/internal/models"
	"policyreader/internal/notify"
	"policyreader/internal/pipeline"
	"policyreader/internal/util"
)

type Settings struct {
	RetryAfter  time.Duration
	FailAfter   time.Duration
	RetryLimit  int
	Concurrency int
}

func DefaultSettings() Settings {
	return Settings{RetryAfter: 5 * time.Minute, FailAfter: 30 * time.Minute, RetryLimit: 1, Concurrency: 4}
}

// Store is the part of the document store the monitor touches.
type Store interface {
	ListProcessing(ctx context.Context) ([]models.Document, error)
	RetryProcessing(ctx context.Context, id, staleAttemptID, attemptID string, at time.Time) (models.Document, error)
	Fail(ctx context.Context, id, attemptID, message string, at time.Time) error
}

type Report struct {
	Scanned int      `json:"scanned"`
	Retried []string `json:"retried,omitempty"`
	Failed  []string `json:"failed,omitempty"`
	Skipped []string `json:"skipped,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

type Monitor struct {
	store    Store
	dispatch pipeline.Dispatcher
	notifier pipeline.Notifier
	set      Settings
	log      *slog.Logger
	now      func() time.Time
	newID    func() string
}

func New(store Store, d pipeline.Dispatcher, n pipeline.Notifier, set Settings, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	if n == nil {
		n = notify.New(log)
	}
	def := DefaultSettings()
	if set.RetryAfter <= 0 {
		set.RetryAfter = def.RetryAfter
	}
	if set.FailAfter <= 0 {
		set.FailAfter = def.FailAfter
	}
	if set.Concurrency <= 0 {
		set.Concurrency = def.Concurrency
	}
	return &Monitor{
		store:    store,
		dispatch: d,
		notifier: n,
		set:      set,
		log:      log,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// WithClock replaces the monitor's clock.
func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.now = now
	return m
}

// Sweep inspects every document in Processing once. Per-document failures
// are collected in the report; only a failed listing is returned as an error.
func (m *Monitor) Sweep(ctx context.Context) (Report, error) {
	docs, err := m.store.ListProcessing(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list processing documents: %w", err)
	}
	now := m.now()
	rep := Report{Scanned: len(docs)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.set.Concurrency)
	for _, doc := range docs {
		g.Go(func() error {
			outcome, err := m.inspect(gctx, doc, now)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				rep.Errors = append(rep.Errors, fmt.Sprintf("%s: %v", doc.ID, err))
			case outcome == outcomeRetried:
				rep.Retried = append(rep.Retried, doc.ID)
			case outcome == outcomeFailed:
				rep.Failed = append(rep.Failed, doc.ID)
			case outcome == outcomeSkipped:
				rep.Skipped = append(rep.Skipped, doc.ID)
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(rep.Retried)+len(rep.Failed)+len(rep.Errors) > 0 {
		m.log.Info("monitor.sweep",
			"scanned", rep.Scanned,
			"retried", len(rep.Retried),
			"failed", len(rep.Failed),
			"skipped", len(rep.Skipped),
			"errors", len(rep.Errors),
		)
	}
	return rep, nil
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeRetried
	outcomeFailed
	outcomeSkipped
)

func (m *Monitor) inspect(ctx context.Context, doc models.Document, now time.Time) (outcome, error) {
	started := firstOf(doc.ProcessingStartedAt, doc.AttemptStartedAt, &doc.UpdatedAt)
	if now.Sub(started) >= m.set.FailAfter {
		return m.fail(ctx, doc, now)
	}

	attempt := firstOf(doc.AttemptStartedAt, &started)
	if now.Sub(attempt) < m.set.RetryAfter || doc.RetryCount >= m.set.RetryLimit {
		return outcomeNone, nil
	}
	if doc.SourceFile == "" || doc.Category == "" {
		m.log.Warn("monitor.skip", "document_id", doc.ID, "reason", "missing source file or category")
		return outcomeSkipped, nil
	}
	return m.retry(ctx, doc, now)
}

func (m *Monitor) fail(ctx context.Context, doc models.Document, now time.Time) (outcome, error) {
	msg := fmt.Sprintf("Processing timed out after %s. Please try processing again.", minutes(m.set.FailAfter))
	if err := m.store.Fail(ctx, doc.ID, doc.AttemptID, msg, now); err != nil {
		if errors.Is(err, util.ErrStaleAttempt) {
			return outcomeSkipped, nil
		}
		return outcomeNone, err
	}
	m.log.Warn("monitor.failed", "document_id", doc.ID, "attempt_id", doc.AttemptID)
	m.notifier.Publish(ctx, notify.EventFailed, map[string]any{
		"document_id": doc.ID,
		"status":      string(models.StatusFailed),
		"message":     "Processing timed out and was marked as failed",
	}, doc.Owner)
	return outcomeFailed, nil
}

func (m *Monitor) retry(ctx context.Context, doc models.Document, now time.Time) (outcome, error) {
	attemptID := m.newID()
	if _, err := m.store.RetryProcessing(ctx, doc.ID, doc.AttemptID, attemptID, now); err != nil {
		if errors.Is(err, util.ErrStaleAttempt) {
			return outcomeSkipped, nil
		}
		return outcomeNone, err
	}
	if _, err := m.dispatch.Dispatch(ctx, pipeline.Job{DocumentID: doc.ID, AttemptID: attemptID}); err != nil {
		// the new attempt stays in Processing and times out through the long threshold
		return outcomeNone, fmt.Errorf("redispatch: %w", err)
	}
	m.log.Info("monitor.retry", "document_id", doc.ID, "attempt_id", attemptID, "stale_attempt_id", doc.AttemptID)
	m.notifier.Publish(ctx, notify.EventRetry, map[string]any{
		"document_id": doc.ID,
		"message":     "Processing was stuck and has been automatically retried",
		"retry_time":  now.Format("2006-01-02 15:04:05"),
	}, doc.Owner)
	return outcomeRetried, nil
}

// Run sweeps every interval until ctx ends.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	m.log.Info("monitor.started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if _, err := m.Sweep(ctx); err != nil {
				m.log.Error("monitor.sweep.failed", "error", err)
			}
		}
	}
}

func firstOf(ts ...*time.Time) time.Time {
	for _, t := range ts {
		if t != nil && !t.IsZero() {
			return *t
		}
	}
	return time.Time{}
}

func minutes(d time.Duration) string {
	if d%time.Minute == 0 {
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	}
	return d.String()
}
