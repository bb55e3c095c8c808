// Command coupon-import loads coupon definitions from gzip-compressed
// JSON-lines files. Files are given in order of precedence: a code that
// appears in several files is taken from the first one.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/couponimport"
	"github.com/xenking/storefront/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		cfg         couponimport.Config
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&cfg.BloomCapacity, "bloom-capacity", 1_000_000, "expected number of codes per file")
	flag.Float64Var(&cfg.BloomFPR, "bloom-fpr", 0.001, "bloom filter false positive rate")
	flag.IntVar(&cfg.BatchSize, "batch-size", 500, "coupons per upsert batch")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	files := flag.Args()
	if len(files) == 0 {
		slog.Error("usage: coupon-import [flags] file.jsonl.gz...")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, files, cfg); err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, databaseURL string, files []string, cfg couponimport.Config) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	cfg.Logger = slog.Default()
	stats, err := couponimport.New(postgres.NewCouponRepository(pool), cfg).Run(ctx, files)
	if err != nil {
		return err
	}

	slog.Info("coupon import completed",
		slog.Int("read", stats.Read),
		slog.Int("invalid", stats.Invalid),
		slog.Int("duplicates", stats.Duplicates),
		slog.Int("written", stats.Written),
	)
	return nil
}
