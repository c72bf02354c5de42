// Package names resolves EVE entity ids to display names for exports and listings.
package names

import (
	"context"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"standings/internal/cache"
	"standings/internal/esi"
	"standings/internal/middleware"
	"standings/internal/observability"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Lookup resolves names remotely. *esi.Client implements it.
type Lookup interface {
	ResolveNames(ctx context.Context, ids []int64) ([]esi.EntityName, error)
}

// Resolver serves names from an in-process LRU, then Redis, then the remote lookup.
// It never fails: unresolved ids render as their decimal string.
type Resolver struct {
	remote Lookup
	local  *expirable.LRU[int64, string]
	ttl    time.Duration
}

// NewResolver returns a resolver holding up to size names for ttl.
func NewResolver(remote Lookup, size int, ttl time.Duration) *Resolver {
	if size <= 0 {
		size = 10_000
	}
	if ttl <= 0 {
		ttl = cache.EntityNameTTL
	}
	return &Resolver{
		remote: remote,
		local:  expirable.NewLRU[int64, string](size, nil, ttl),
		ttl:    ttl,
	}
}

// Name returns the display name of id.
func (r *Resolver) Name(ctx context.Context, id int64) string {
	return r.Names(ctx, []int64{id})[id]
}

// Names returns a name for every id in ids.
func (r *Resolver) Names(ctx context.Context, ids []int64) map[int64]string {
	out := make(map[int64]string, len(ids))
	var missing []int64
	for _, id := range ids {
		if _, done := out[id]; done {
			continue
		}
		if name, ok := r.local.Get(id); ok {
			out[id] = name
			observability.NameCacheLookups.WithLabelValues("lru").Inc()
			continue
		}
		out[id] = ""
		missing = append(missing, id)
	}

	missing = r.fromRedis(ctx, missing, out)
	r.fromRemote(ctx, missing, out)

	for id, name := range out {
		if name == "" {
			out[id] = strconv.FormatInt(id, 10)
		}
	}
	return out
}

func (r *Resolver) fromRedis(ctx context.Context, ids []int64, out map[int64]string) []int64 {
	rdb := cache.GetClient()
	if rdb == nil || len(ids) == 0 {
		return ids
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = cache.EntityNameKey(id)
	}
	vals, err := rdb.MGet(ctx, keys...).Result()
	if err != nil {
		middleware.Logger.DebugContext(ctx, "name cache read failed", slog.String("error", err.Error()))
		return ids
	}

	var rest []int64
	for i, v := range vals {
		name, ok := v.(string)
		if !ok || name == "" {
			rest = append(rest, ids[i])
			continue
		}
		out[ids[i]] = name
		r.local.Add(ids[i], name)
		observability.NameCacheLookups.WithLabelValues("redis").Inc()
	}
	return rest
}

func (r *Resolver) fromRemote(ctx context.Context, ids []int64, out map[int64]string) {
	if r.remote == nil || len(ids) == 0 {
		return
	}
	resolved, err := r.remote.ResolveNames(ctx, slices.Clone(ids))
	if err != nil {
		// Partial results are still used.
		middleware.Logger.WarnContext(ctx, "name lookup failed", slog.Int("ids", len(ids)), slog.String("error", err.Error()))
	}

	rdb := cache.GetClient()
	for _, n := range resolved {
		if n.Name == "" {
			continue
		}
		out[n.ID] = n.Name
		r.local.Add(n.ID, n.Name)
		observability.NameCacheLookups.WithLabelValues("remote").Inc()
		if rdb != nil {
			if serr := rdb.Set(ctx, cache.EntityNameKey(n.ID), n.Name, r.ttl).Err(); serr != nil {
				middleware.Logger.DebugContext(ctx, "name cache write failed", slog.String("error", serr.Error()))
			}
		}
	}
}
