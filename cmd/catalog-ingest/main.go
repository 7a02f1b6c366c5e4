// Command catalog-ingest imports supplier product feeds into the catalog.
// Feeds are gzip-compressed NDJSON files, one product per line, typically
// tens of millions of lines per supplier. Files are decompressed and parsed
// concurrently; the first occurrence of a product id wins when feeds overlap.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/vietcart/fulfillment/internal/repository"
)

const progressEvery = 100_000

// feedRecord is one product line from a supplier feed.
type feedRecord struct {
	ID         string
	Name       string
	Price      decimal.Decimal
	FinalPrice decimal.Decimal
	Currency   string
	ImageURL   string
	Stock      int
}

func main() {
	var (
		feedDir     string
		databaseURL string
		workers     int
	)

	flag.StringVar(&feedDir, "feed-dir", "feeds", "directory containing *.json.gz supplier feeds")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&workers, "workers", 4, "concurrent database writers")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, feedDir, databaseURL, workers); err != nil {
		slog.Error("catalog ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("catalog ingest completed")
}

func run(ctx context.Context, feedDir, databaseURL string, workers int) error {
	feeds, err := filepath.Glob(filepath.Join(feedDir, "*.json.gz"))
	if err != nil {
		return errors.Wrap(err, "list feeds")
	}
	if len(feeds) == 0 {
		return errors.Errorf("no *.json.gz feeds in %s", feedDir)
	}

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	products := repository.NewProductRepository(pool)
	stock := repository.NewStockRepository(pool)

	records := make(chan feedRecord, 1024)
	var seen sync.Map

	g, ctx := errgroup.WithContext(ctx)

	readers, rctx := errgroup.WithContext(ctx)
	for _, feed := range feeds {
		readers.Go(func() error {
			return streamFeed(rctx, feed, &seen, records)
		})
	}
	g.Go(func() error {
		defer close(records)
		return readers.Wait()
	})

	var (
		written int
		wmu     sync.Mutex
	)
	for range workers {
		g.Go(func() error {
			for rec := range records {
				if err := products.Upsert(ctx, rec.ID, rec.Name, rec.Price, rec.FinalPrice, rec.Currency, rec.ImageURL); err != nil {
					return errors.Wrapf(err, "upsert product %q", rec.ID)
				}
				if err := stock.Set(ctx, rec.ID, rec.Stock); err != nil {
					return errors.Wrapf(err, "set stock %q", rec.ID)
				}
				wmu.Lock()
				written++
				if written%progressEvery == 0 {
					slog.Info("write progress", slog.Int("products", written))
				}
				wmu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("feeds ingested", slog.Int("files", len(feeds)), slog.Int("products", written))
	return nil
}

// streamFeed reads one gzipped NDJSON feed and sends unseen products to out.
func streamFeed(ctx context.Context, path string, seen *sync.Map, out chan<- feedRecord) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	var line uint64
	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line++

		rec, err := decodeRecord(scanner.Bytes())
		if err != nil {
			return errors.Wrapf(err, "%s line %d", path, line)
		}
		if rec.ID == "" {
			return errors.Errorf("%s line %d: missing product id", path, line)
		}
		if _, dup := seen.LoadOrStore(rec.ID, struct{}{}); dup {
			continue
		}

		select {
		case out <- rec:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	slog.Info("feed read", slog.String("file", filepath.Base(path)), slog.Uint64("lines", line))
	return nil
}

// decodeRecord parses one feed line without reflection; feeds are large
// enough that encoding/json shows up in profiles.
func decodeRecord(data []byte) (feedRecord, error) {
	var rec feedRecord
	d := jx.DecodeBytes(data)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			v, err := d.Str()
			rec.ID = v
			return err
		case "name":
			v, err := d.Str()
			rec.Name = v
			return err
		case "price":
			return decodeDecimal(d, &rec.Price)
		case "final_price":
			return decodeDecimal(d, &rec.FinalPrice)
		case "currency":
			v, err := d.Str()
			rec.Currency = v
			return err
		case "image_url":
			v, err := d.Str()
			rec.ImageURL = v
			return err
		case "stock":
			v, err := d.Int()
			rec.Stock = v
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return feedRecord{}, err
	}
	if rec.FinalPrice.IsZero() {
		rec.FinalPrice = rec.Price
	}
	return rec, nil
}

// decodeDecimal accepts both JSON numbers and quoted decimal strings, which
// supplier feeds mix freely.
func decodeDecimal(d *jx.Decoder, out *decimal.Decimal) error {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return err
		}
		v, err := decimal.NewFromString(s)
		if err != nil {
			return err
		}
		*out = v
		return nil
	default:
		n, err := d.Num()
		if err != nil {
			return err
		}
		v, err := decimal.NewFromString(n.String())
		if err != nil {
			return err
		}
		*out = v
		return nil
	}
}
