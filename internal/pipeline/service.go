package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"policyreader/internal/models"
	"policyreader/internal/util"
)

// Service is the entry point for processing requests and manual resets.
type Service struct {
	store    DocumentStore
	sources  Sources
	llm      Completer
	dispatch Dispatcher
	log      *slog.Logger
	now      func() time.Time
}

func NewService(store DocumentStore, src Sources, llm Completer, d Dispatcher, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, sources: src, llm: llm, dispatch: d, log: log, now: time.Now}
}

// Request moves a Draft or Failed document into Processing under a fresh
// attempt id and dispatches the attempt. Concurrent requests for the same
// document race on the store's conditional update; losers get
// util.ErrAlreadyProcessing.
func (s *Service) Request(ctx context.Context, documentID string) (Handle, error) {
	doc, err := s.store.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := doc.Admit(); err != nil {
		return nil, err
	}
	if err := s.sources.Check(ctx, doc.SourceFile); err != nil {
		return nil, err
	}
	if err := s.llm.Configured(); err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrNotConfigured, err)
	}

	attemptID := uuid.NewString()
	doc, err = s.store.BeginProcessing(ctx, documentID, attemptID, s.now())
	if err != nil {
		return nil, err
	}
	s.log.Info("pipeline.requested", "document_id", doc.ID, "attempt_id", attemptID, "category", doc.Category)

	h, err := s.dispatch.Dispatch(ctx, Job{DocumentID: doc.ID, AttemptID: attemptID})
	if err != nil {
		// leave nothing stuck in Processing for an attempt that never started
		if ferr := s.store.Fail(context.WithoutCancel(ctx), doc.ID, attemptID, "dispatch failed: "+err.Error(), s.now()); ferr != nil {
			s.log.Error("pipeline.dispatch.rollback_failed", "document_id", doc.ID, "error", ferr)
		}
		return nil, fmt.Errorf("dispatch %s: %w", doc.ID, err)
	}
	return h, nil
}

// Reset returns a document to Draft from any status. A running attempt is not
// interrupted; its result is discarded when it tries to persist.
func (s *Service) Reset(ctx context.Context, documentID string) (models.Document, error) {
	doc, err := s.store.Reset(ctx, documentID, s.now())
	if err != nil {
		return models.Document{}, err
	}
	s.log.Info("pipeline.reset", "document_id", documentID)
	return doc, nil
}
