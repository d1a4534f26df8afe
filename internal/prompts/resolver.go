package prompts

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"policyreader/internal/aliases"
	"policyreader/internal/schema"
	"policyreader/internal/util"
)

const DefaultMaxRunes = 200000

const (
	SourceCached   = "cached"
	SourceBuilt    = "built"
	SourceFallback = "fallback"
)

type Store interface {
	LoadPrompt(ctx context.Context, category string) (Template, error)
	SavePrompt(ctx context.Context, t Template) error
}

type Resolution struct {
	Prompt    string
	Source    string
	Truncated bool
	Template  Template
}

type Resolver struct {
	source   schema.Source
	dict     *aliases.Dictionary
	store    Store
	maxRunes int
	log      *slog.Logger

	mu    sync.RWMutex
	cache map[string]Template
}

func NewResolver(source schema.Source, dict *aliases.Dictionary, store Store, maxRunes int, log *slog.Logger) *Resolver {
	if maxRunes <= 0 {
		maxRunes = DefaultMaxRunes
	}
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		source:   source,
		dict:     dict,
		store:    store,
		maxRunes: maxRunes,
		log:      log,
		cache:    map[string]Template{},
	}
}

// Resolve renders the extraction instruction for category around text.
func (r *Resolver) Resolve(ctx context.Context, category, text string) (Resolution, error) {
	if err := ctx.Err(); err != nil {
		return Resolution{}, err
	}
	t, src := r.Template(ctx, category)
	body, truncated := truncate(text, r.maxRunes)
	if truncated {
		r.log.Info("prompts.truncated", "category", category, "limit", r.maxRunes)
	}
	return Resolution{
		Prompt:    t.Render(body),
		Source:    src,
		Truncated: truncated,
		Template:  t,
	}, nil
}

// Template returns the template Resolve would use for category and where it came from.
func (r *Resolver) Template(ctx context.Context, category string) (Template, string) {
	fields, err := r.source.FieldsOf(category)
	if err != nil {
		r.log.Warn("prompts.fallback", "category", category, "error", err)
		return Fallback(category), SourceFallback
	}
	m := r.dict.Get(ctx, category)
	if m.Len() == 0 {
		r.log.Warn("prompts.fallback", "category", category, "reason", "empty alias map")
		return Fallback(category), SourceFallback
	}

	k := cacheKey(category)
	r.mu.RLock()
	t, ok := r.cache[k]
	r.mu.RUnlock()
	if ok && t.SchemaFingerprint == m.Fingerprint {
		return t, SourceCached
	}

	if r.store != nil {
		stored, err := r.store.LoadPrompt(ctx, category)
		switch {
		case err == nil && stored.SchemaFingerprint == m.Fingerprint:
			r.put(k, stored)
			return stored, SourceCached
		case err != nil && !errors.Is(err, util.ErrNotFound):
			r.log.Warn("prompts.load_failed", "category", category, "error", err)
		}
	}

	t = Build(category, fields, m)
	r.put(k, t)
	if r.store != nil {
		if err := r.store.SavePrompt(ctx, t); err != nil {
			r.log.Warn("prompts.persist_failed", "category", category, "error", err)
		}
	}
	r.log.Info("prompts.built", "category", category, "fingerprint", t.Fingerprint)
	return t, SourceBuilt
}

// Invalidate drops the cached template of category.
func (r *Resolver) Invalidate(_ context.Context, category string) {
	r.mu.Lock()
	delete(r.cache, cacheKey(category))
	r.mu.Unlock()
}

func (r *Resolver) put(k string, t Template) {
	r.mu.Lock()
	r.cache[k] = t
	r.mu.Unlock()
}

func truncate(text string, limit int) (string, bool) {
	if len(text) <= limit {
		return text, false
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text, false
	}
	return string(runes[:limit]) + truncatedMarker, true
}

func cacheKey(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}
