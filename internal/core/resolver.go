package core

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/JonMunkholm/laptiming/internal/metrics"
	"github.com/JonMunkholm/laptiming/internal/store"
	"github.com/JonMunkholm/laptiming/internal/timing"
)

// DefaultCacheTTL is how long a resolved entity id stays cached.
const DefaultCacheTTL = 20 * time.Minute

// Resolver finds or creates entities of one type by natural key, caching
// the result. Entries created inside a transaction are held in the Batch
// and only reach the cache after Commit, so a rolled back import never
// leaves dangling ids behind.
type Resolver[T any] struct {
	name    string
	cache   *cache.Cache
	key     func(T) string
	load    func(context.Context, store.Tx, T) (T, bool, error)
	metrics *metrics.Manager
}

// NewResolver creates a resolver. key must return the entity's natural key
// including any scope (series, session) it is unique within.
func NewResolver[T any](name string, ttl time.Duration, key func(T) string,
	load func(context.Context, store.Tx, T) (T, bool, error), m *metrics.Manager) *Resolver[T] {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Resolver[T]{
		name:    name,
		cache:   cache.New(ttl, 2*ttl),
		key:     key,
		load:    load,
		metrics: m,
	}
}

// Resolve returns the stored entity matching want. created is true only
// for the call that inserted the row.
func (r *Resolver[T]) Resolve(ctx context.Context, tx store.Tx, b *Batch, want T) (T, bool, error) {
	k := r.key(want)

	if v, ok := r.cache.Get(k); ok {
		r.metrics.CacheLookup(r.name, true)
		return v.(T), false, nil
	}
	if v, ok := b.get(r.name, k); ok {
		return v.(T), false, nil
	}
	r.metrics.CacheLookup(r.name, false)

	v, created, err := r.load(ctx, tx, want)
	if err != nil {
		var zero T
		return zero, false, fmt.Errorf("resolve %s %q: %w", r.name, k, err)
	}
	b.put(r.name, k, v, r.cache)
	return v, created, nil
}

// Len returns the number of cached entries.
func (r *Resolver[T]) Len() int {
	return r.cache.ItemCount()
}

// Flush empties the cache.
func (r *Resolver[T]) Flush() {
	r.cache.Flush()
}

// Batch collects entities resolved within one transaction.
type Batch struct {
	entries map[string]batchEntry
}

type batchEntry struct {
	key   string
	value any
	cache *cache.Cache
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{entries: make(map[string]batchEntry)}
}

func (b *Batch) get(name, key string) (any, bool) {
	e, ok := b.entries[name+"\x00"+key]
	return e.value, ok
}

func (b *Batch) put(name, key string, v any, c *cache.Cache) {
	b.entries[name+"\x00"+key] = batchEntry{key: key, value: v, cache: c}
}

// Commit publishes the batch to the resolvers' caches. Call it only after
// the transaction has committed.
func (b *Batch) Commit() {
	for _, e := range b.entries {
		e.cache.SetDefault(e.key, e.value)
	}
	b.entries = make(map[string]batchEntry)
}

// resolvers is the set of cached find-or-create lookups used by reconcile.
type resolvers struct {
	circuits *Resolver[timing.Circuit]
	teams    *Resolver[timing.Team]
	classes  *Resolver[timing.CarClass]
	models   *Resolver[timing.CarModel]
	drivers  *Resolver[timing.Driver]
	entries  *Resolver[timing.CarEntry]
}

func newResolvers(ttl time.Duration, m *metrics.Manager) *resolvers {
	return &resolvers{
		circuits: NewResolver("circuit", ttl,
			func(c timing.Circuit) string { return c.Name },
			func(ctx context.Context, tx store.Tx, c timing.Circuit) (timing.Circuit, bool, error) {
				return tx.FindOrCreateCircuit(ctx, c.Name)
			}, m),
		teams: NewResolver("team", ttl,
			func(t timing.Team) string { return t.Name },
			func(ctx context.Context, tx store.Tx, t timing.Team) (timing.Team, bool, error) {
				return tx.FindOrCreateTeam(ctx, t.Name)
			}, m),
		classes: NewResolver("class", ttl,
			func(c timing.CarClass) string { return fmt.Sprintf("%d|%s", c.SeriesID, c.Name) },
			func(ctx context.Context, tx store.Tx, c timing.CarClass) (timing.CarClass, bool, error) {
				return tx.FindOrCreateClass(ctx, c.SeriesID, c.Name)
			}, m),
		models: NewResolver("car_model", ttl,
			func(cm timing.CarModel) string { return cm.Name },
			func(ctx context.Context, tx store.Tx, cm timing.CarModel) (timing.CarModel, bool, error) {
				return tx.FindOrCreateCarModel(ctx, cm.Name)
			}, m),
		drivers: NewResolver("driver", ttl,
			timing.Driver.NaturalKey,
			func(ctx context.Context, tx store.Tx, d timing.Driver) (timing.Driver, bool, error) {
				return tx.FindOrCreateDriver(ctx, d)
			}, m),
		entries: NewResolver("car_entry", ttl,
			func(e timing.CarEntry) string { return fmt.Sprintf("%d|%s", e.SessionID, e.Number) },
			func(ctx context.Context, tx store.Tx, e timing.CarEntry) (timing.CarEntry, bool, error) {
				return tx.FindOrCreateCarEntry(ctx, e)
			}, m),
	}
}

func (r *resolvers) flush() {
	r.circuits.Flush()
	r.teams.Flush()
	r.classes.Flush()
	r.models.Flush()
	r.drivers.Flush()
	r.entries.Flush()
}
