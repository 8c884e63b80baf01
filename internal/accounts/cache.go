package accounts

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"solarb/internal/store"
)

// Cache keeps every tracked pool's executor account list resolved in
// the store, spreading RPC work across a bounded worker pool. Venues
// whose account lists never change after creation are resolved once and
// skipped on later refreshes.
type Cache struct {
	resolver Resolver
	store    *store.Store
	logger   *zap.Logger

	workers int
	timeout time.Duration
	// primed marks immutable-venue pools that already resolved.
	primed *gocache.Cache
}

// NewCache builds an account cache over the pool store.
func NewCache(resolver Resolver, st *store.Store, logger *zap.Logger, workers int, timeout time.Duration) *Cache {
	if workers <= 0 {
		workers = 1
	}
	return &Cache{
		resolver: resolver,
		store:    st,
		logger:   logger,
		workers:  workers,
		timeout:  timeout,
		primed:   gocache.New(gocache.NoExpiration, 0),
	}
}

// PrimeAll resolves every tracked pool, blocking until the batch
// finishes or times out.
func (c *Cache) PrimeAll(ctx context.Context) {
	c.resolveBatch(ctx, c.store.Keys())
}

// Refresh re-resolves mutable-venue pools and any pool that has never
// resolved. Already-primed immutable pools are skipped.
func (c *Cache) Refresh(ctx context.Context) {
	var pending []string
	for _, addr := range c.store.Keys() {
		rec, ok := c.store.Get(addr)
		if !ok {
			continue
		}
		if rec.Venue.Immutable() {
			if _, done := c.primed.Get(addr); done {
				continue
			}
		}
		pending = append(pending, addr)
	}
	c.resolveBatch(ctx, pending)
}

// Run refreshes the cache on the given interval until the context is
// cancelled.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Refresh(ctx)
		}
	}
}

func (c *Cache) resolveBatch(ctx context.Context, addrs []string) {
	if len(addrs) == 0 {
		return
	}
	batchCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		batchCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	jobs := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for addr := range jobs {
				c.resolveOne(batchCtx, addr)
			}
		}()
	}

	for _, addr := range addrs {
		select {
		case <-batchCtx.Done():
			close(jobs)
			wg.Wait()
			c.logger.Warn("account resolution batch cut short",
				zap.Int("total", len(addrs)))
			return
		case jobs <- addr:
		}
	}
	close(jobs)
	wg.Wait()
}

// resolveOne resolves a single pool's account list. A failed resolution
// keeps whatever list the store already has.
func (c *Cache) resolveOne(ctx context.Context, addr string) {
	rec, ok := c.store.Get(addr)
	if !ok {
		return
	}
	accounts, err := c.resolver.Resolve(ctx, rec.Venue, addr)
	if err != nil {
		c.logger.Debug("account resolution failed",
			zap.String("pool", addr),
			zap.Stringer("venue", rec.Venue),
			zap.Error(err))
		return
	}
	c.store.SetAccounts(addr, accounts)
	if rec.Venue.Immutable() {
		c.primed.Set(addr, true, gocache.NoExpiration)
	}
}
