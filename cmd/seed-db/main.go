// Command seed-db loads products, stock levels, and discount rules into the
// database from a JSON seed file. It is idempotent: rerunning it updates
// existing rows in place.
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
	"golang.org/x/sync/errgroup"

	"github.com/vietcart/fulfillment/internal/domain/discount"
	"github.com/vietcart/fulfillment/internal/repository"
)

type seedFile struct {
	Products  []productJSON  `json:"products"`
	Discounts []discountJSON `json:"discounts"`
}

type productJSON struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	FinalPrice decimal.Decimal `json:"final_price"`
	Currency   string          `json:"currency"`
	ImageURL   string          `json:"image_url"`
	Stock      int             `json:"stock"`
}

type discountJSON struct {
	Code          string          `json:"code"`
	Type          string          `json:"type"`
	Value         decimal.Decimal `json:"value"`
	MinOrderValue decimal.Decimal `json:"min_order_value"`
	Active        bool            `json:"active"`
	StartDate     *time.Time      `json:"start_date"`
	EndDate       *time.Time      `json:"end_date"`
	MaxUses       int             `json:"max_uses"`
	Description   string          `json:"description"`
}

func main() {
	var (
		databaseURL string
		seedPath    string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedPath, "seed-file", "db/seed/catalog.json", "path to seed JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, databaseURL, seedPath); err != nil {
		slog.Error("seed failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, databaseURL, seedPath string) error {
	raw, err := os.ReadFile(seedPath)
	if err != nil {
		return errors.Wrap(err, "read seed file")
	}

	var seed seedFile
	if err := json.Unmarshal(raw, &seed); err != nil {
		return errors.Wrap(err, "parse seed file")
	}

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	products := repository.NewProductRepository(pool)
	stockRepo := repository.NewStockRepository(pool)
	discounts := repository.NewDiscountRepository(pool)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, p := range seed.Products {
		g.Go(func() error {
			if err := products.Upsert(gctx, p.ID, p.Name, p.Price, p.FinalPrice, p.Currency, p.ImageURL); err != nil {
				return errors.Wrapf(err, "seed product %q", p.ID)
			}
			if err := stockRepo.Set(gctx, p.ID, p.Stock); err != nil {
				return errors.Wrapf(err, "seed stock %q", p.ID)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("seeded products", "count", len(seed.Products))

	for _, d := range seed.Discounts {
		rule := discount.Rule{
			Code:          d.Code,
			Type:          discount.Type(d.Type),
			Value:         d.Value,
			MinOrderValue: d.MinOrderValue,
			Active:        d.Active,
			StartDate:     d.StartDate,
			EndDate:       d.EndDate,
			MaxUses:       d.MaxUses,
			Description:   d.Description,
		}
		if err := discounts.Upsert(ctx, &rule); err != nil {
			return errors.Wrapf(err, "seed discount %q", d.Code)
		}
	}
	slog.Info("seeded discounts", "count", len(seed.Discounts))
	return nil
}
