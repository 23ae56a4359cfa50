// Package symbols caches instrument metadata resolved through a broker
// adapter.
package symbols

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"brokerhub/internal/domain"
)

// Resolver performs the blocking metadata lookups a Registry caches.
type Resolver interface {
	ResolveSymbol(ctx context.Context, name string) (domain.Symbol, error)
	ResolveBrokerCode(ctx context.Context, venue, code string) (domain.Symbol, error)
}

// Registry resolves instruments by display name or by venue-native code.
// Reads may run concurrently; concurrent misses for the same key share one
// lookup. Failed lookups are not cached.
type Registry struct {
	src   Resolver
	log   *slog.Logger
	group singleflight.Group

	mu     sync.RWMutex
	byName map[string]domain.Symbol
	byCode map[string]domain.Symbol
}

// New creates a Registry backed by src.
func New(src Resolver, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		src:    src,
		log:    log.With("component", "symbols"),
		byName: make(map[string]domain.Symbol),
		byCode: make(map[string]domain.Symbol),
	}
}

func codeKey(venue, code string) string {
	return venue + "|" + code
}

// Resolve returns the symbol with the given display name.
func (r *Registry) Resolve(ctx context.Context, name string) (domain.Symbol, error) {
	r.mu.RLock()
	s, ok := r.byName[name]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}
	s, err := r.load(ctx, "n:"+name, func(ctx context.Context) (domain.Symbol, error) {
		return r.src.ResolveSymbol(ctx, name)
	})
	if err != nil {
		return domain.Symbol{}, err
	}
	if s.Name != name {
		r.alias(name, s)
	}
	return s, nil
}

// ResolveBrokerCode returns the symbol a venue identifies by code.
func (r *Registry) ResolveBrokerCode(ctx context.Context, venue, code string) (domain.Symbol, error) {
	r.mu.RLock()
	s, ok := r.byCode[codeKey(venue, code)]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}
	return r.load(ctx, "c:"+codeKey(venue, code), func(ctx context.Context) (domain.Symbol, error) {
		return r.src.ResolveBrokerCode(ctx, venue, code)
	})
}

// load runs fetch once per key across concurrent callers. The shared lookup
// is detached from the first caller's cancellation; each caller still stops
// waiting when its own ctx is done.
func (r *Registry) load(ctx context.Context, key string, fetch func(context.Context) (domain.Symbol, error)) (domain.Symbol, error) {
	shared := context.WithoutCancel(ctx)
	ch := r.group.DoChan(key, func() (any, error) {
		s, err := fetch(shared)
		if err != nil {
			return domain.Symbol{}, err
		}
		r.Add(s)
		return s, nil
	})
	select {
	case <-ctx.Done():
		return domain.Symbol{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			r.log.Debug("symbol lookup failed", "key", key, "error", res.Err)
			return domain.Symbol{}, res.Err
		}
		return res.Val.(domain.Symbol), nil
	}
}

// alias caches s under an additional lookup name.
func (r *Registry) alias(name string, s domain.Symbol) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[name] = s
}

// Add caches s under both its display name and its venue code.
func (r *Registry) Add(s domain.Symbol) {
	if s.Name == "" {
		s.Name = domain.DisplayName(s.Board, s.Code)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[s.Name] = s
	r.byCode[codeKey(s.Board, s.Code)] = s
}

// Cached returns the symbol if it has already been resolved, under its
// display name or under an alias it was requested by.
func (r *Registry) Cached(name string) (domain.Symbol, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	return s, ok
}

// Len returns the number of cached symbols.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byCode)
}
