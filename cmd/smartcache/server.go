package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/c360/smartcache/errors"
	"github.com/c360/smartcache/pkg/binding"
	"github.com/c360/smartcache/pkg/cache"
)

const refetchTimeout = 30 * time.Second

// routes builds the HTTP surface. Every route except the focus socket is
// instrumented under its pattern name.
func (a *app) routes() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern, name string, h http.HandlerFunc) {
		mux.Handle(pattern, a.registry.Instrument(name, h))
	}

	mux.Handle("GET /metrics", a.registry.Handler())
	mux.Handle("GET /health", a.registry.Instrument("health", a.monitor.Handler(appName)))

	handle("GET /cache/stats", "cache_stats", a.handleCacheStats)
	handle("GET /cache/keys", "cache_keys", a.handleCacheKeys)
	handle("GET /cache/keys/{key}", "cache_entry", a.handleCacheEntry)
	handle("DELETE /cache/keys/{key}", "cache_delete", a.handleCacheDelete)
	handle("POST /cache/clear", "cache_clear", a.handleCacheClear)

	handle("GET /bindings", "bindings", a.handleBindings)
	handle("GET /bindings/{name}", "binding", a.handleBinding)
	handle("POST /bindings/{name}/refetch", "binding_refetch", a.handleRefetch)
	handle("POST /bindings/{name}/invalidate", "binding_invalidate", a.handleInvalidate)

	handle("PUT /shops/{id}", "shop_bind", a.handleBindShop)
	handle("GET /shops/{id}/products", "shop_products", a.handleProducts)

	handle("GET /workers", "workers", a.handleWorkers)

	if cfg := a.conf.Get(); cfg.Focus.Enabled {
		mux.Handle("GET "+cfg.Focus.Path, a.focus)
	}
	return mux
}

type entryView struct {
	Key          string        `json:"key"`
	Value        []Product     `json:"value"`
	StoredAt     time.Time     `json:"stored_at"`
	TTL          time.Duration `json:"ttl"`
	HitCount     int64         `json:"hit_count"`
	LastAccessed time.Time     `json:"last_accessed,omitzero"`
	Expired      bool          `json:"expired"`
}

func newEntryView(e cache.Entry[[]Product]) entryView {
	return entryView{
		Key:          e.Key,
		Value:        e.Value,
		StoredAt:     e.StoredAt,
		TTL:          e.TTL,
		HitCount:     e.HitCount,
		LastAccessed: e.LastAccessed,
		Expired:      e.Expired(time.Now()),
	}
}

type bindingView struct {
	Name  string                   `json:"name"`
	ID    string                   `json:"id"`
	Key   string                   `json:"key"`
	State binding.State[[]Product] `json:"state"`
}

func newBindingView(b *binding.Binding[[]Product]) bindingView {
	return bindingView{Name: b.Name(), ID: b.ID(), Key: b.Key(), State: b.State()}
}

func (a *app) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, a.store.Stats())
}

func (a *app) handleCacheKeys(w http.ResponseWriter, _ *http.Request) {
	keys := a.store.Keys()
	sort.Strings(keys)
	a.writeJSON(w, http.StatusOK, map[string]any{"keys": keys, "count": len(keys)})
}

// handleCacheEntry peeks so inspecting an entry does not count as a read.
func (a *app) handleCacheEntry(w http.ResponseWriter, r *http.Request) {
	entry, ok := a.store.Peek(r.PathValue("key"))
	if !ok {
		a.writeMessage(w, http.StatusNotFound, "key not found")
		return
	}
	a.writeJSON(w, http.StatusOK, newEntryView(entry))
}

func (a *app) handleCacheDelete(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	existed, err := a.invalidate(r.Context(), key)
	if err != nil {
		// The local delete already happened; peers may keep the entry
		// until it expires.
		a.logger.Warn("Failed to broadcast invalidation", "key", key, "error", err)
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"key": key, "deleted": existed})
}

func (a *app) handleCacheClear(w http.ResponseWriter, _ *http.Request) {
	a.store.Clear()
	a.logger.Info("Cache cleared")
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) handleBindings(w http.ResponseWriter, _ *http.Request) {
	names := a.bindingNames()
	views := make([]bindingView, 0, len(names))
	for _, name := range names {
		if b, ok := a.binding(name); ok {
			views = append(views, newBindingView(b))
		}
	}
	a.writeJSON(w, http.StatusOK, views)
}

func (a *app) handleBinding(w http.ResponseWriter, r *http.Request) {
	b, ok := a.binding(r.PathValue("name"))
	if !ok {
		a.writeMessage(w, http.StatusNotFound, "binding not found")
		return
	}
	a.writeJSON(w, http.StatusOK, newBindingView(b))
}

func (a *app) handleRefetch(w http.ResponseWriter, r *http.Request) {
	b, ok := a.binding(r.PathValue("name"))
	if !ok {
		a.writeMessage(w, http.StatusNotFound, "binding not found")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), refetchTimeout)
	defer cancel()
	if err := b.Refetch(ctx); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, newBindingView(b))
}

func (a *app) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	b, ok := a.binding(r.PathValue("name"))
	if !ok {
		a.writeMessage(w, http.StatusNotFound, "binding not found")
		return
	}
	b.Invalidate()
	a.writeJSON(w, http.StatusAccepted, newBindingView(b))
}

func (a *app) handleBindShop(w http.ResponseWriter, r *http.Request) {
	b, err := a.bind(r.PathValue("id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, newBindingView(b))
}

// handleProducts answers from the shop's binding when there is one and
// otherwise reads through the cache.
func (a *app) handleProducts(w http.ResponseWriter, r *http.Request) {
	shopID := r.PathValue("id")
	if b, ok := a.binding(bindingName(shopID)); ok {
		st := b.State()
		if st.HasData {
			a.writeJSON(w, http.StatusOK, st.Data)
			return
		}
		if st.Err != nil {
			a.writeError(w, st.Err)
			return
		}
	}

	if err := validateShopID(shopID); err != nil {
		a.writeError(w, err)
		return
	}
	products, err := a.store.GetOrLoad(r.Context(), ProductsKey(shopID), a.catalog.Fetcher(shopID))
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, products)
}

func (a *app) handleWorkers(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, a.pool.Stats())
}

func (a *app) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("Failed to encode response", "error", err)
	}
}

func (a *app) writeMessage(w http.ResponseWriter, status int, msg string) {
	a.writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps invalid input to 400 and everything else to 502, since
// failures past validation come from the catalog backend.
func (a *app) writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.IsInvalid(err) && errors.Is(err, errors.ErrInvalidKey):
		status = http.StatusBadRequest
	case errors.Is(err, errors.ErrBindingDisabled), errors.Is(err, errors.ErrBindingClosed):
		status = http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	a.writeMessage(w, status, err.Error())
}
