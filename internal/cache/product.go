package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/product"
)

const (
	notFoundMarker = "notfound"
	notFoundTTL    = time.Minute
)

var _ product.Repository = (*Products)(nil)

// Products caches the customer-facing catalog reads of a product.Repository.
// Admin reads always hit the underlying repository; admin writes drop the
// affected keys. Redis failures degrade to direct repository reads.
type Products struct {
	repo   product.Repository
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewProducts wraps repo with a cache stored under keys starting with prefix.
func NewProducts(repo product.Repository, rdb redis.UniversalClient, prefix string, ttl time.Duration) *Products {
	return &Products{repo: repo, rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *Products) listKey() string { return c.prefix + "products:active" }
func (c *Products) itemKey(id int64) string { return fmt.Sprintf("%sproduct:%d", c.prefix, id) }

// ListActive returns the active catalog, from cache when present.
func (c *Products) ListActive(ctx context.Context) ([]product.Product, error) {
	lg := zctx.From(ctx)
	key := c.listKey()

	data, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached []cachedProduct
		if err := json.Unmarshal(data, &cached); err == nil {
			out := make([]product.Product, len(cached))
			for i := range cached {
				out[i] = cached[i].product()
			}
			return out, nil
		}
		lg.Warn("Corrupt cached catalog", zap.String("key", key))
	case errors.Is(err, redis.Nil):
	default:
		lg.Warn("Redis get failed, reading from database", zap.String("key", key), zap.Error(err))
	}

	products, err := c.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	cached := make([]cachedProduct, len(products))
	for i := range products {
		cached[i] = newCachedProduct(&products[i])
	}
	c.store(ctx, key, cached, c.ttl)
	return products, nil
}

// GetActive returns an active product, caching misses briefly.
func (c *Products) GetActive(ctx context.Context, id int64) (*product.Product, error) {
	lg := zctx.From(ctx)
	key := c.itemKey(id)

	data, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		if string(data) == notFoundMarker {
			return nil, product.ErrNotFound
		}
		var cached cachedProduct
		if err := json.Unmarshal(data, &cached); err == nil {
			p := cached.product()
			return &p, nil
		}
		lg.Warn("Corrupt cached product", zap.String("key", key))
	case errors.Is(err, redis.Nil):
	default:
		lg.Warn("Redis get failed, reading from database", zap.String("key", key), zap.Error(err))
	}

	p, err := c.repo.GetActive(ctx, id)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			if err := c.rdb.Set(ctx, key, notFoundMarker, notFoundTTL).Err(); err != nil {
				lg.Warn("Cache not-found marker failed", zap.String("key", key), zap.Error(err))
			}
		}
		return nil, err
	}

	c.store(ctx, key, newCachedProduct(p), c.ttl)
	return p, nil
}

// List is not cached.
func (c *Products) List(ctx context.Context) ([]product.Product, error) {
	return c.repo.List(ctx)
}

// Get is not cached.
func (c *Products) Get(ctx context.Context, id int64) (*product.Product, error) {
	return c.repo.Get(ctx, id)
}

// Create stores p and drops the cached catalog.
func (c *Products) Create(ctx context.Context, p *product.Product) error {
	if err := c.repo.Create(ctx, p); err != nil {
		return err
	}
	c.invalidate(ctx, p.ID)
	return nil
}

// Update stores p and drops its cached entries.
func (c *Products) Update(ctx context.Context, p *product.Product) error {
	if err := c.repo.Update(ctx, p); err != nil {
		return err
	}
	c.invalidate(ctx, p.ID)
	return nil
}

// Deactivate hides the product and drops its cached entries.
func (c *Products) Deactivate(ctx context.Context, id int64) error {
	if err := c.repo.Deactivate(ctx, id); err != nil {
		return err
	}
	c.invalidate(ctx, id)
	return nil
}

func (c *Products) invalidate(ctx context.Context, id int64) {
	if err := c.rdb.Del(ctx, c.itemKey(id), c.listKey()).Err(); err != nil {
		zctx.From(ctx).Warn("Cache invalidation failed", zap.Int64("product_id", id), zap.Error(err))
	}
}

func (c *Products) store(ctx context.Context, key string, v any, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		zctx.From(ctx).Warn("Marshal cache entry failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		zctx.From(ctx).Warn("Redis set failed", zap.String("key", key), zap.Error(err))
	}
}

type cachedProduct struct {
	ID            int64            `json:"id"`
	Name          string           `json:"name"`
	Price         decimal.Decimal  `json:"price"`
	OriginalPrice *decimal.Decimal `json:"original_price,omitempty"`
	Stock         int              `json:"stock"`
	IsActive      bool             `json:"is_active"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

func newCachedProduct(p *product.Product) cachedProduct {
	return cachedProduct(*p)
}

func (c cachedProduct) product() product.Product {
	return product.Product(c)
}
