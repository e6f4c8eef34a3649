package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"clarify/internal/cache"
	"clarify/internal/logger"
	"clarify/models"
	"clarify/store"
)

// Layer holds the shared limiter, retry policy and queue that every guarded
// collection goes through.
type Layer struct {
	Limiter *Limiter
	Policy  RetryPolicy
	Queue   *Queue
	Log     *logger.Logger
	// SchemaVersion tags fallback cache keys.
	SchemaVersion string
}

// GuardOptions tune one guarded collection.
type GuardOptions struct {
	Queued      bool          // route reads through the FIFO queue
	FallbackTTL time.Duration // how long a last-known read result stays usable
}

// Guarded wraps a collection with the layer. Reads are budgeted, retried on
// transient failures and fall back to the last known result once retries are
// exhausted. Writes are budgeted but never retried: they carry user intent and
// a failure is reported to the caller.
//
// Last known results are keyed by a generation that every write through this
// wrapper advances, so a fallback never predates a local write.
type Guarded[T any] struct {
	name     string
	inner    store.Collection[T]
	layer    *Layer
	opts     GuardOptions
	fallback cache.Cache[[]T]
	log      *logger.Logger
	epoch    string
	gen      atomic.Uint64
}

func Guard[T any](layer *Layer, name string, inner store.Collection[T], fallback cache.Cache[[]T], opts GuardOptions) *Guarded[T] {
	return &Guarded[T]{
		name:     name,
		inner:    inner,
		layer:    layer,
		opts:     opts,
		fallback: fallback,
		log:      layer.Log.With("service", "GuardedCollection", "collection", name),
		epoch:    strconv.FormatInt(time.Now().UnixNano(), 36),
	}
}

func (g *Guarded[T]) List(ctx context.Context, sortSpec string, limit int) ([]T, error) {
	key := g.key("list", sortSpec, strconv.Itoa(limit))
	return g.read(ctx, key, func(ctx context.Context) ([]T, error) {
		return g.inner.List(ctx, sortSpec, limit)
	})
}

func (g *Guarded[T]) Filter(ctx context.Context, where store.Filter, sortSpec string, limit int) ([]T, error) {
	raw, err := json.Marshal(where)
	if err != nil {
		return nil, fmt.Errorf("encode filter: %w", err)
	}
	key := g.key("filter", string(raw), sortSpec, strconv.Itoa(limit))
	return g.read(ctx, key, func(ctx context.Context) ([]T, error) {
		return g.inner.Filter(ctx, where, sortSpec, limit)
	})
}

func (g *Guarded[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	recs, err := g.read(ctx, g.key("get", id), func(ctx context.Context) ([]T, error) {
		rec, err := g.inner.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return []T{rec}, nil
	})
	if err != nil {
		return zero, err
	}
	return recs[0], nil
}

func (g *Guarded[T]) Create(ctx context.Context, rec T) (T, error) {
	var out T
	err := g.write(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.inner.Create(ctx, rec)
		return err
	})
	return out, err
}

func (g *Guarded[T]) Update(ctx context.Context, id string, fields store.Fields) (T, error) {
	var out T
	err := g.write(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.inner.Update(ctx, id, fields)
		return err
	})
	return out, err
}

func (g *Guarded[T]) Delete(ctx context.Context, id string) error {
	return g.write(ctx, func(ctx context.Context) error {
		return g.inner.Delete(ctx, id)
	})
}

func (g *Guarded[T]) read(ctx context.Context, key string, load func(context.Context) ([]T, error)) ([]T, error) {
	recs, err := Retry(ctx, g.layer.Policy, func() ([]T, error) {
		var out []T
		err := g.call(ctx, g.opts.Queued, func(ctx context.Context) error {
			var err error
			out, err = load(ctx)
			return err
		})
		return out, err
	}, func(err error, wait time.Duration) {
		g.log.Warn("read failed, backing off", "error", err, "wait", wait)
	})
	if err == nil {
		if g.fallback != nil {
			g.fallback.Set(ctx, key, recs, g.opts.FallbackTTL)
		}
		return recs, nil
	}

	if Retryable(err) && g.fallback != nil && !wantsFresh(ctx) {
		if cached, ok := g.fallback.Get(ctx, key); ok {
			g.log.Warn("serving last known result", "error", err)
			return cached, nil
		}
	}
	return nil, err
}

// write advances the generation whatever the outcome; a failed write may
// still have reached the store.
func (g *Guarded[T]) write(ctx context.Context, fn func(context.Context) error) error {
	defer g.gen.Add(1)
	return g.call(ctx, false, fn)
}

// call charges the caller's budget before queueing, so the queue only spaces
// calls and one caller waiting for its window never holds up the others.
func (g *Guarded[T]) call(ctx context.Context, queued bool, fn func(context.Context) error) error {
	if err := g.layer.Limiter.Acquire(ctx); err != nil {
		return err
	}
	defer g.layer.Limiter.Release()
	if queued && g.layer.Queue != nil {
		return g.layer.Queue.Do(ctx, fn)
	}
	return fn(ctx)
}

// Generation counts the writes made through this wrapper.
func (g *Guarded[T]) Generation() uint64 {
	return g.gen.Load()
}

func (g *Guarded[T]) key(parts ...string) string {
	gen := g.epoch + "." + strconv.FormatUint(g.gen.Load(), 10)
	return cache.Key(g.layer.SchemaVersion, append([]string{"fallback", g.name, gen}, parts...)...)
}

// FallbackTTLs are the last-known windows per entity type.
type FallbackTTLs struct {
	Conversations time.Duration
	Profiles      time.Duration
	Topics        time.Duration
	Invitations   time.Duration
}

// Caches supplies one fallback cache per entity type. Nil entries disable fallback.
type Caches struct {
	Users         cache.Cache[[]models.User]
	Profiles      cache.Cache[[]models.UserProfile]
	Topics        cache.Cache[[]models.Topic]
	Opinions      cache.Cache[[]models.TopicOpinion]
	Conversations cache.Cache[[]models.Conversation]
	Messages      cache.Cache[[]models.Message]
}

// MemoryCaches builds in-process fallback caches for every entity type.
func MemoryCaches() Caches {
	return Caches{
		Users:         cache.NewMemory[[]models.User](),
		Profiles:      cache.NewMemory[[]models.UserProfile](),
		Topics:        cache.NewMemory[[]models.Topic](),
		Opinions:      cache.NewMemory[[]models.TopicOpinion](),
		Conversations: cache.NewMemory[[]models.Conversation](),
		Messages:      cache.NewMemory[[]models.Message](),
	}
}

// WrapGateway guards every collection of gw. Reads of the collections named in
// queued go through the FIFO queue; the rest run directly.
func (l *Layer) WrapGateway(gw *store.Gateway, caches Caches, ttl FallbackTTLs, queued ...string) *store.Gateway {
	inQueue := make(map[string]bool, len(queued))
	for _, name := range queued {
		inQueue[name] = true
	}
	opts := func(name string, d time.Duration) GuardOptions {
		return GuardOptions{Queued: inQueue[name], FallbackTTL: d}
	}
	return &store.Gateway{
		Users:         Guard(l, store.UsersCollection, gw.Users, caches.Users, opts(store.UsersCollection, ttl.Profiles)),
		Profiles:      Guard(l, store.ProfilesCollection, gw.Profiles, caches.Profiles, opts(store.ProfilesCollection, ttl.Profiles)),
		Topics:        Guard(l, store.TopicsCollection, gw.Topics, caches.Topics, opts(store.TopicsCollection, ttl.Topics)),
		Opinions:      Guard(l, store.OpinionsCollection, gw.Opinions, caches.Opinions, opts(store.OpinionsCollection, ttl.Topics)),
		Conversations: Guard(l, store.ConversationsCollection, gw.Conversations, caches.Conversations, opts(store.ConversationsCollection, ttl.Conversations)),
		Messages:      Guard(l, store.MessagesCollection, gw.Messages, caches.Messages, opts(store.MessagesCollection, ttl.Conversations)),
	}
}
