package aliases

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"policyreader/internal/util"
)

// Store persists alias maps per category.
type Store interface {
	LoadAliasMap(ctx context.Context, category string) (*Map, error)
	SaveAliasMap(ctx context.Context, m *Map) error
}

// Dictionary owns the alias maps of every category. Readers get an immutable
// *Map; rebuilds replace the whole value under the write lock.
type Dictionary struct {
	builder *Builder
	store   Store
	ttl     time.Duration
	log     *slog.Logger
	now     func() time.Time

	mu    sync.RWMutex
	maps  map[string]*Map
	build sync.Mutex
}

func NewDictionary(builder *Builder, store Store, ttl time.Duration, log *slog.Logger) *Dictionary {
	if log == nil {
		log = slog.Default()
	}
	return &Dictionary{
		builder: builder,
		store:   store,
		ttl:     ttl,
		log:     log,
		now:     time.Now,
		maps:    map[string]*Map{},
	}
}

// Get returns the current map for category, rebuilding it when it is missing,
// older than the TTL, or stamped with a stale schema fingerprint.
func (d *Dictionary) Get(ctx context.Context, category string) *Map {
	k := cacheKey(category)
	d.mu.RLock()
	m := d.maps[k]
	d.mu.RUnlock()
	if d.fresh(m, category) {
		return m
	}

	d.build.Lock()
	defer d.build.Unlock()

	d.mu.RLock()
	m = d.maps[k]
	d.mu.RUnlock()
	if d.fresh(m, category) {
		return m
	}

	if m == nil && d.store != nil {
		stored, err := d.store.LoadAliasMap(ctx, category)
		switch {
		case err == nil && d.fresh(stored, category):
			d.swap(k, stored)
			d.log.Debug("aliases.loaded", "category", category, "aliases", stored.Len())
			return stored
		case err != nil && !errors.Is(err, util.ErrNotFound):
			d.log.Warn("aliases.load_failed", "category", category, "error", err)
		}
	}
	return d.rebuild(ctx, category)
}

// Invalidate rebuilds category immediately, e.g. after a schema change.
func (d *Dictionary) Invalidate(ctx context.Context, category string) *Map {
	d.build.Lock()
	defer d.build.Unlock()
	return d.rebuild(ctx, category)
}

func (d *Dictionary) rebuild(ctx context.Context, category string) *Map {
	m := d.builder.Build(category)
	d.swap(cacheKey(category), m)
	if d.store != nil && m.Len() > 0 {
		if err := d.store.SaveAliasMap(ctx, m); err != nil {
			d.log.Warn("aliases.persist_failed", "category", category, "error", err)
		}
	}
	d.log.Info("aliases.rebuilt", "category", category, "aliases", m.Len())
	return m
}

func (d *Dictionary) swap(k string, m *Map) {
	d.mu.Lock()
	d.maps[k] = m
	d.mu.Unlock()
}

// fresh holds for empty maps too, so an unknown category is rebuilt once per
// TTL rather than on every lookup.
func (d *Dictionary) fresh(m *Map, category string) bool {
	if m == nil {
		return false
	}
	if d.ttl > 0 && d.now().Sub(m.BuiltAt) > d.ttl {
		return false
	}
	return m.Fingerprint == d.builder.Fingerprint(category)
}

func cacheKey(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}
