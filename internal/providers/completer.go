package providers

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Completion struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// CallRecord is one provider attempt, successful or not.
type CallRecord struct {
	CallID     string
	Operation  string
	DocumentID string
	AttemptID  string
	Provider   string
	Model      string
	Status     string
	ErrorType  string
	Duration   time.Duration
}

type Auditor interface {
	RecordCall(ctx context.Context, rec CallRecord) error
}

type callKey struct{}

type callScope struct {
	documentID string
	attemptID  string
}

// WithDocument tags audit records made under ctx with the document and attempt.
func WithDocument(ctx context.Context, documentID, attemptID string) context.Context {
	return context.WithValue(ctx, callKey{}, callScope{documentID: documentID, attemptID: attemptID})
}

// Completer runs one completion across the configured providers, moving on
// when a provider is out of quota, rate limited or failing. Providers that
// fail are benched for a while; context-length errors end the call.
type Completer struct {
	m        *Manager
	audit    Auditor
	log      *slog.Logger
	cooldown time.Duration
	now      func() time.Time

	mu            sync.Mutex
	disabledUntil map[int]time.Time
}

func NewCompleter(m *Manager, audit Auditor, cooldown time.Duration, log *slog.Logger) *Completer {
	if log == nil {
		log = slog.Default()
	}
	if cooldown <= 0 {
		cooldown = 15 * time.Minute
	}
	return &Completer{
		m:             m,
		audit:         audit,
		log:           log,
		cooldown:      cooldown,
		now:           time.Now,
		disabledUntil: map[int]time.Time{},
	}
}

func (c *Completer) Configured() error {
	return c.m.Configured()
}

// Complete sends instruction to the first healthy provider. modelID overrides
// the provider default when set.
func (c *Completer) Complete(ctx context.Context, instruction, modelID string) (Completion, error) {
	req := GenerateRequest{Operation: OperationExtract, Prompt: instruction, Model: modelID, JSON: true}
	var last *CallError
	for _, idx := range c.m.PreferredLLMOrder() {
		if c.disabled(idx) {
			continue
		}
		if c.m.ProviderConfigured(idx) != nil {
			continue
		}
		provider, ref := c.m.LLMProviderByIndex(idx)
		start := c.now()
		resp, info, err := provider.Generate(ctx, req)
		rec := CallRecord{
			Operation: req.Operation,
			Provider:  ref.Raw,
			Model:     info.Model,
			Status:    "ok",
			Duration:  c.now().Sub(start),
		}
		if err == nil {
			c.record(ctx, rec)
			c.log.Info("llm.complete.ok", "provider", ref.Raw, "model", info.Model, "duration_ms", rec.Duration.Milliseconds(), "chars", len(resp.Text))
			return Completion{Text: resp.Text, Provider: ref.Raw, Model: info.Model}, nil
		}

		errType := ClassifyError(err)
		rec.Status = "failed"
		rec.ErrorType = string(errType)
		c.record(ctx, rec)
		c.log.Warn("llm.complete.failed", "provider", ref.Raw, "error_type", errType, "error", err)
		last = &CallError{Provider: ref.Raw, Type: errType, Err: err}

		if ctx.Err() != nil {
			return Completion{}, last
		}
		switch errType {
		case ErrorContext:
			return Completion{}, last
		case ErrorQuota:
			c.disable(idx, c.cooldown)
		case ErrorRate:
			c.disable(idx, 2*time.Minute)
		case ErrorPermanent:
			c.disable(idx, time.Minute)
		}
	}
	if last == nil {
		if err := c.m.Configured(); err != nil {
			return Completion{}, err
		}
		return Completion{}, &CallError{Provider: "none", Type: ErrorTransient, Err: errors.New("all llm providers are cooling down")}
	}
	return Completion{}, last
}

func (c *Completer) record(ctx context.Context, rec CallRecord) {
	if c.audit == nil {
		return
	}
	rec.CallID = uuid.NewString()
	if s, ok := ctx.Value(callKey{}).(callScope); ok {
		rec.DocumentID = s.documentID
		rec.AttemptID = s.attemptID
	}
	if err := c.audit.RecordCall(context.WithoutCancel(ctx), rec); err != nil {
		c.log.Warn("llm.audit.failed", "provider", rec.Provider, "error", err)
	}
}

func (c *Completer) disabled(idx int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.disabledUntil[idx]
	return ok && c.now().Before(until)
}

func (c *Completer) disable(idx int, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disabledUntil[idx] = c.now().Add(d)
}
