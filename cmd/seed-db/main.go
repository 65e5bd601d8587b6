// Command seed-db loads demo products, vouchers and an admin API key.
// Running it twice updates the existing rows instead of duplicating them.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/voucher"
	"github.com/xenking/storefront/internal/repository"
)

type catalogFile struct {
	Products []struct {
		Name          string           `json:"name"`
		Price         decimal.Decimal  `json:"price"`
		OriginalPrice *decimal.Decimal `json:"original_price"`
		Stock         int              `json:"stock"`
	} `json:"products"`
	Vouchers []struct {
		Code           string          `json:"code"`
		DiscountAmount decimal.Decimal `json:"discount_amount"`
		ValidDays      int             `json:"valid_days"`
		UsageLimit     int             `json:"usage_limit"`
	} `json:"vouchers"`
}

func main() {
	var (
		databaseURL  string
		catalogPath  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogPath, "catalog-file", "db/seed/catalog.json", "path to the demo catalog JSON file")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or SHOP_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SHOP_API_KEY_PEPPER env)")
	flag.Parse()

	databaseURL = firstNonEmpty(databaseURL, os.Getenv("SHOP_DATABASE_URL"), os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	apiKey = firstNonEmpty(apiKey, os.Getenv("SHOP_SEED_API_KEY"))
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or SHOP_SEED_API_KEY")
		os.Exit(1)
	}
	apiKeyPepper = firstNonEmpty(apiKeyPepper, os.Getenv("SHOP_API_KEY_PEPPER"))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogPath, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("seed completed successfully")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func run(ctx context.Context, databaseURL, catalogPath, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")
	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	data, err := os.ReadFile(catalogPath)
	if err != nil {
		return errors.Wrap(err, "read catalog file")
	}
	var catalog catalogFile
	if err := json.Unmarshal(data, &catalog); err != nil {
		return errors.Wrap(err, "parse catalog JSON")
	}

	if err := seedProducts(ctx, repository.NewProductRepository(pool), catalog); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedVouchers(ctx, repository.NewVoucherRepository(pool), catalog, time.Now().UTC()); err != nil {
		return errors.Wrap(err, "seed vouchers")
	}
	if err := seedAPIKey(ctx, repository.NewAPIKeyRepository(pool), apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	return nil
}

// seedProducts matches existing products by name, since product names carry
// no unique constraint.
func seedProducts(ctx context.Context, repo product.Repository, catalog catalogFile) error {
	existing, err := repo.List(ctx)
	if err != nil {
		return errors.Wrap(err, "list products")
	}
	byName := make(map[string]product.Product, len(existing))
	for _, p := range existing {
		byName[p.Name] = p
	}

	for _, item := range catalog.Products {
		p, found := byName[item.Name]
		p.Name = item.Name
		p.Price = item.Price
		p.OriginalPrice = item.OriginalPrice
		p.Stock = item.Stock
		p.IsActive = true

		if found {
			if err := repo.Update(ctx, &p); err != nil {
				return errors.Wrapf(err, "update product %q", p.Name)
			}
			slog.Info("updated product", slog.Int64("id", p.ID), slog.String("name", p.Name))
			continue
		}
		if err := repo.Create(ctx, &p); err != nil {
			return errors.Wrapf(err, "create product %q", p.Name)
		}
		slog.Info("created product", slog.Int64("id", p.ID), slog.String("name", p.Name))
	}
	return nil
}

// seedVouchers opens each voucher's window at now. Existing vouchers keep
// their used count.
func seedVouchers(ctx context.Context, repo voucher.Repository, catalog catalogFile, now time.Time) error {
	for _, item := range catalog.Vouchers {
		v := &voucher.Voucher{
			Code:           item.Code,
			DiscountAmount: item.DiscountAmount,
			ValidFrom:      now,
			ValidTo:        now.AddDate(0, 0, item.ValidDays),
			UsageLimit:     item.UsageLimit,
			IsActive:       true,
		}
		if err := v.Prepare(); err != nil {
			return errors.Wrapf(err, "voucher %q", item.Code)
		}

		current, err := repo.FindByCode(ctx, v.Code)
		switch {
		case err == nil:
			v.ID = current.ID
			if err := repo.Update(ctx, v); err != nil {
				return errors.Wrapf(err, "update voucher %s", v.Code)
			}
			slog.Info("updated voucher", slog.String("code", v.Code), slog.Int("used_count", v.UsedCount))
		case errors.Is(err, voucher.ErrInvalidVoucher):
			if err := repo.Create(ctx, v); err != nil {
				return errors.Wrapf(err, "create voucher %s", v.Code)
			}
			slog.Info("created voucher", slog.String("code", v.Code), slog.Int("usage_limit", v.UsageLimit))
		default:
			return errors.Wrapf(err, "find voucher %s", v.Code)
		}
	}
	return nil
}

func seedAPIKey(ctx context.Context, repo *repository.APIKeyRepository, apiKey, pepper string) error {
	info := auth.APIKeyInfo{
		ID:      "admin",
		KeyHash: auth.HashKey([]byte(pepper), apiKey),
		Name:    "Seeded admin key",
		Scopes:  []string{auth.ScopeAdmin},
	}
	if err := repo.Upsert(ctx, info); err != nil {
		return errors.Wrap(err, "upsert admin API key")
	}
	slog.Info("upserted API key", slog.String("id", info.ID), slog.String("name", info.Name))
	return nil
}
