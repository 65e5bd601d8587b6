// Command voucher-import creates vouchers from gzipped code lists. All
// imported vouchers share one discount, validity window and usage limit.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/voucher"
	"github.com/xenking/storefront/internal/importer"
	"github.com/xenking/storefront/internal/repository"
)

func main() {
	opts := importer.DefaultOptions()
	var (
		databaseURL string
		discount    string
		validFrom   string
		validTo     string
		usageLimit  int
		dryRun      bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&discount, "discount", "", "fixed discount amount for every imported voucher")
	flag.StringVar(&validFrom, "valid-from", "", "start of the validity window (RFC 3339 or YYYY-MM-DD, default now)")
	flag.StringVar(&validTo, "valid-to", "", "end of the validity window (RFC 3339 or YYYY-MM-DD)")
	flag.IntVar(&usageLimit, "usage-limit", 1, "redemptions per voucher, 0 for unlimited")
	flag.IntVar(&opts.MinFiles, "min-files", opts.MinFiles, "import only codes present in at least this many lists")
	flag.UintVar(&opts.BloomCapacity, "bloom-capacity", opts.BloomCapacity, "expected codes per list")
	flag.BoolVar(&dryRun, "dry-run", false, "only report the codes that would be imported")
	flag.Usage = func() {
		_, _ = os.Stderr.WriteString("usage: voucher-import [flags] list1.gz [list2.gz ...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}

	tmpl, err := voucherTemplate(discount, validFrom, validTo, usageLimit, time.Now().UTC())
	if err != nil {
		slog.Error("invalid voucher flags", slog.String("error", err.Error()))
		os.Exit(2)
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, flag.Args(), opts, tmpl, dryRun); err != nil {
		slog.Error("voucher import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("voucher import completed successfully")
}

func run(ctx context.Context, databaseURL string, files []string, opts importer.Options, tmpl voucher.Voucher, dryRun bool) error {
	slog.Info("collecting codes", slog.Int("files", len(files)), slog.Int("min_files", opts.MinFiles))

	codes, err := importer.Collect(ctx, files, opts)
	if err != nil {
		return errors.Wrap(err, "collect codes")
	}
	slog.Info("codes collected", slog.Int("count", len(codes)))

	if dryRun || len(codes) == 0 {
		return nil
	}

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	stats, err := importer.Write(ctx, repository.NewVoucherRepository(pool), codes, tmpl)
	if err != nil {
		return errors.Wrap(err, "write vouchers")
	}
	slog.Info("vouchers written", slog.Int("created", stats.Created), slog.Int("existing", stats.Existing))
	return nil
}

func voucherTemplate(discount, from, to string, usageLimit int, now time.Time) (voucher.Voucher, error) {
	amount, err := decimal.NewFromString(discount)
	if err != nil {
		return voucher.Voucher{}, errors.Wrap(err, "discount")
	}
	start := now
	if from != "" {
		if start, err = parseTime(from, false); err != nil {
			return voucher.Voucher{}, errors.Wrap(err, "valid-from")
		}
	}
	end, err := parseTime(to, true)
	if err != nil {
		return voucher.Voucher{}, errors.Wrap(err, "valid-to")
	}
	return voucher.Voucher{
		DiscountAmount: amount,
		ValidFrom:      start,
		ValidTo:        end,
		UsageLimit:     usageLimit,
		IsActive:       true,
	}, nil
}

// parseTime accepts RFC 3339 timestamps or plain dates. A plain date used as
// an end bound covers the whole day.
func parseTime(s string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1).Add(-time.Microsecond)
	}
	return t, nil
}
