package importer

import (
	"context"
	"log/slog"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/voucher"
)

// Creator is the part of voucher.Repository the writer needs.
type Creator interface {
	Create(ctx context.Context, v *voucher.Voucher) error
}

// Stats summarizes a Write run.
type Stats struct {
	Created  int
	Existing int
}

// Write creates one voucher per code from tmpl. Codes that already exist are
// counted and left untouched, so an import can be re-run after a failure.
func Write(ctx context.Context, repo Creator, codes []string, tmpl voucher.Voucher) (Stats, error) {
	var stats Stats

	tmpl.Code = "TEMPLATE"
	if err := tmpl.Prepare(); err != nil {
		return stats, errors.Wrap(err, "voucher template")
	}

	for i, code := range codes {
		v := tmpl
		v.ID = 0
		v.UsedCount = 0
		v.Code = code
		if err := v.Prepare(); err != nil {
			return stats, errors.Wrapf(err, "voucher %q", code)
		}

		err := repo.Create(ctx, &v)
		switch {
		case err == nil:
			stats.Created++
		case errors.Is(err, voucher.ErrDuplicateCode):
			stats.Existing++
		default:
			return stats, errors.Wrapf(err, "create voucher %s", code)
		}

		if done := i + 1; done%1000 == 0 || done == len(codes) {
			slog.Info("write progress",
				slog.Int("written", done),
				slog.Int("total", len(codes)),
				slog.Int("existing", stats.Existing),
			)
		}
	}
	return stats, nil
}
