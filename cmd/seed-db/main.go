package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/db"
	"github.com/xenking/storefront/internal/couponimport"
	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/storage/postgres"
)

type catalogJSON struct {
	Categories []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"categories"`
	Products []struct {
		ID         string          `json:"id"`
		Name       string          `json:"name"`
		Price      decimal.Decimal `json:"price"`
		CategoryID string          `json:"categoryId"`
		Stock      int             `json:"stock"`
		Image      struct {
			Thumbnail string `json:"thumbnail"`
			Mobile    string `json:"mobile"`
			Tablet    string `json:"tablet"`
			Desktop   string `json:"desktop"`
		} `json:"image"`
	} `json:"products"`
	Coupons []json.RawMessage `json:"coupons"`
}

func main() {
	var (
		databaseURL  string
		catalogFile  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "", "catalog JSON file (defaults to the embedded catalog)")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or SHOP_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SHOP_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("SHOP_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or SHOP_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("SHOP_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogFile, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile, apiKey, pepper string) error {
	data := db.Catalog
	if catalogFile != "" {
		slog.Info("reading catalog file", slog.String("path", catalogFile))
		var err error
		if data, err = os.ReadFile(catalogFile); err != nil {
			return errors.Wrap(err, "read catalog file")
		}
	}

	var catalog catalogJSON
	if err := json.Unmarshal(data, &catalog); err != nil {
		return errors.Wrap(err, "parse catalog JSON")
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedCatalog(ctx, postgres.NewProductRepository(pool), catalog); err != nil {
		return errors.Wrap(err, "seed catalog")
	}

	if err := seedCoupons(ctx, postgres.NewCouponRepository(pool), catalog.Coupons); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	if err := seedAPIKey(ctx, postgres.NewAPIKeyRepository(pool), apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedCatalog(ctx context.Context, repo *postgres.ProductRepository, catalog catalogJSON) error {
	for _, c := range catalog.Categories {
		if err := repo.UpsertCategory(ctx, product.Category{ID: c.ID, Name: c.Name}); err != nil {
			return errors.Wrapf(err, "upsert category %s", c.ID)
		}
	}
	slog.Info("upserted categories", slog.Int("count", len(catalog.Categories)))

	for _, p := range catalog.Products {
		if err := repo.UpsertProduct(ctx, product.Product{
			ID:         p.ID,
			Name:       p.Name,
			Price:      p.Price,
			CategoryID: p.CategoryID,
			Stock:      p.Stock,
			Image: product.Image{
				Thumbnail: p.Image.Thumbnail,
				Mobile:    p.Image.Mobile,
				Tablet:    p.Image.Tablet,
				Desktop:   p.Image.Desktop,
			},
		}); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	return nil
}

func seedCoupons(ctx context.Context, repo *postgres.CouponRepository, raw []json.RawMessage) error {
	for i, data := range raw {
		c, err := couponimport.ParseCoupon(data)
		if err != nil {
			return errors.Wrapf(err, "coupon #%d", i)
		}
		if err := repo.Upsert(ctx, c); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.Code)
		}

		slog.Info("upserted coupon", slog.String("code", c.Code), slog.String("type", string(c.Discount.Kind())))
	}

	return nil
}

func seedAPIKey(ctx context.Context, repo *postgres.APIKeyRepository, apiKey, pepper string) error {
	slog.Info("seeding default API key")

	if err := repo.Upsert(ctx, auth.APIKeyInfo{
		ID:      "default",
		KeyHash: auth.HashKeyHex([]byte(pepper), apiKey),
		Name:    "Default key",
		Scopes:  []string{"create_order"},
	}); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}

	slog.Info("upserted API key", slog.String("id", "default"))

	return nil
}
