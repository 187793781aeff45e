// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/echo/internal/cloud"
	"github.com/jeranaias/echo/internal/model"
)

// DefaultRefreshInterval is the minimum spacing between explicit refreshes.
const DefaultRefreshInterval = 30 * time.Second

// Lister fetches the remote model list. cloud.Provider satisfies it.
type Lister interface {
	ListModels(ctx context.Context) ([]cloud.ModelInfo, error)
}

// Catalog caches the remote model list for the life of a session.
//
// The first List fetches; later calls are served from memory. Refresh
// re-fetches on demand, limited by a token bucket so a user hammering
// "refresh" cannot flood the API. When a fetch fails and a previous list
// exists, the previous list is served instead of the error.
type Catalog struct {
	lister  Lister
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time

	// fetchMu serializes fetches so concurrent cold Lists hit the API once.
	fetchMu sync.Mutex

	mu        sync.RWMutex
	models    []model.ModelDescriptor
	fetchedAt time.Time
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithRefreshInterval sets the refresh throttle. A non-positive interval
// disables throttling.
func WithRefreshInterval(d time.Duration) Option {
	return func(c *Catalog) {
		if d <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Catalog) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source used for FetchedAt.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates an empty catalog backed by lister.
func New(lister Lister, opts ...Option) *Catalog {
	c := &Catalog{
		lister:  lister,
		limiter: rate.NewLimiter(rate.Every(DefaultRefreshInterval), 1),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// List returns the cached models, fetching once if the cache is empty.
func (c *Catalog) List(ctx context.Context) ([]model.ModelDescriptor, error) {
	if models, ok := c.cached(); ok {
		return models, nil
	}

	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	// Another caller may have filled the cache while we waited.
	if models, ok := c.cached(); ok {
		return models, nil
	}
	return c.fetch(ctx)
}

// Refresh re-fetches the model list. When throttled it returns the
// current cache, or fetches anyway if there is nothing cached yet.
func (c *Catalog) Refresh(ctx context.Context) ([]model.ModelDescriptor, error) {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	if !c.limiter.Allow() {
		if models, ok := c.cached(); ok {
			c.logger.Debug("model refresh throttled; serving cache", slog.Int("models", len(models)))
			return models, nil
		}
	}
	return c.fetch(ctx)
}

// Free returns the zero-cost models, in remote order.
func (c *Catalog) Free(ctx context.Context) ([]model.ModelDescriptor, error) {
	models, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	free := make([]model.ModelDescriptor, 0, len(models))
	for _, m := range models {
		if m.IsFree() {
			free = append(free, m)
		}
	}
	return free, nil
}

// Find looks up a model by id.
func (c *Catalog) Find(ctx context.Context, id string) (model.ModelDescriptor, error) {
	models, err := c.List(ctx)
	if err != nil {
		return model.ModelDescriptor{}, err
	}
	for _, m := range models {
		if m.ID == id {
			return m, nil
		}
	}
	return model.ModelDescriptor{}, &model.NotFoundError{Kind: "model", ID: id}
}

// FetchedAt returns when the cache was last filled, or the zero time.
func (c *Catalog) FetchedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt
}

// Ping checks connectivity against the model-list endpoint and reports
// the round-trip time. A successful ping refreshes the cache.
func (c *Catalog) Ping(ctx context.Context) (time.Duration, error) {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	start := time.Now()
	infos, err := c.lister.ListModels(ctx)
	elapsed := time.Since(start)
	if err != nil {
		return elapsed, err
	}
	c.store(infos)
	return elapsed, nil
}

func (c *Catalog) cached() ([]model.ModelDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.models == nil {
		return nil, false
	}
	return append([]model.ModelDescriptor(nil), c.models...), true
}

// fetch must be called with fetchMu held.
func (c *Catalog) fetch(ctx context.Context) ([]model.ModelDescriptor, error) {
	infos, err := c.lister.ListModels(ctx)
	if err != nil {
		if models, ok := c.cached(); ok {
			c.logger.Warn("model list fetch failed; serving previous list",
				slog.String("error", err.Error()),
				slog.String("kind", cloud.Kind(err)))
			return models, nil
		}
		return nil, unavailable(err)
	}

	models := c.store(infos)
	c.logger.Debug("model list fetched", slog.Int("models", len(models)))
	return append([]model.ModelDescriptor(nil), models...), nil
}

func (c *Catalog) store(infos []cloud.ModelInfo) []model.ModelDescriptor {
	models := make([]model.ModelDescriptor, 0, len(infos))
	for _, info := range infos {
		models = append(models, info.Descriptor())
	}

	c.mu.Lock()
	c.models = models
	c.fetchedAt = c.now()
	c.mu.Unlock()
	return models
}

// unavailable makes a fetch failure match cloud.ErrNetwork while keeping
// the original cause in the chain. Cancellation passes through.
func unavailable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, cloud.ErrNetwork) {
		return err
	}
	return fmt.Errorf("%w: model list unavailable: %w", cloud.ErrNetwork, err)
}
