// Package importer bulk-loads voucher codes from gzipped partner lists.
//
// Each list holds one code per line. A code is imported when it appears in at
// least MinFiles lists. For MinFiles > 1 the lists are scanned twice: the
// first pass builds one bloom filter per list, the second keeps only codes
// that some other list's filter may contain. Exact per-list membership is
// then merged as a bitmask, so bloom false positives never promote a code.
package importer

import (
	"bufio"
	"context"
	"log/slog"
	"math/bits"
	"os"
	"slices"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/voucher"
)

// maxFiles is bounded by the width of the membership bitmask.
const maxFiles = bits.UintSize

const progressEvery = 1_000_000

// Options tunes Collect.
type Options struct {
	// MinFiles is the number of lists a code must appear in. Values below 1
	// are treated as 1.
	MinFiles int
	// BloomCapacity is the expected number of codes per list.
	BloomCapacity uint
	// BloomFPR is the target false positive rate of each filter.
	BloomFPR float64
	// MinLen and MaxLen bound the normalized code length.
	MinLen, MaxLen int
}

// DefaultOptions suit lists of a few million codes.
func DefaultOptions() Options {
	return Options{
		MinFiles:      1,
		BloomCapacity: 10_000_000,
		BloomFPR:      0.001,
		MinLen:        4,
		MaxLen:        32,
	}
}

// validCode reports whether a normalized code is importable.
func (o Options) validCode(code string) bool {
	if len(code) < o.MinLen || len(code) > o.MaxLen {
		return false
	}
	for i := range len(code) {
		c := code[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') && c != '-' && c != '_' {
			return false
		}
	}
	return true
}

// Collect returns the sorted, de-duplicated codes that appear in at least
// opts.MinFiles of paths.
func Collect(ctx context.Context, paths []string, opts Options) ([]string, error) {
	if len(paths) == 0 {
		return nil, errors.New("no input files")
	}
	if len(paths) > maxFiles {
		return nil, errors.Errorf("too many input files: %d > %d", len(paths), maxFiles)
	}
	opts.MinFiles = max(opts.MinFiles, 1)
	if opts.MinFiles > len(paths) {
		return nil, errors.Errorf("min files %d exceeds %d input files", opts.MinFiles, len(paths))
	}

	var (
		masks []map[string]uint
		err   error
	)
	if opts.MinFiles == 1 {
		masks, err = scanAll(ctx, paths, opts, nil)
	} else {
		var filters []*bloom.BloomFilter
		filters, err = buildFilters(ctx, paths, opts)
		if err != nil {
			return nil, errors.Wrap(err, "build bloom filters")
		}
		masks, err = scanAll(ctx, paths, opts, filters)
	}
	if err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, m := range masks {
		for code, mask := range m {
			merged[code] |= mask
		}
	}

	codes := make([]string, 0, len(merged))
	for code, mask := range merged {
		if bits.OnesCount(mask) >= opts.MinFiles {
			codes = append(codes, code)
		}
	}
	slices.Sort(codes)
	return codes, nil
}

// buildFilters creates one bloom filter per file, concurrently.
func buildFilters(ctx context.Context, paths []string, opts Options) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(opts.BloomCapacity, opts.BloomFPR)
			n, err := streamCodes(ctx, path, opts, func(code string) {
				filter.AddString(code)
			})
			if err != nil {
				return errors.Wrapf(err, "file %d", i+1)
			}
			slog.Info("bloom filter built", slog.String("file", path), slog.Uint64("codes", n))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// scanAll records, per file, the codes it contains as a bitmask keyed by
// code. With filters set, codes no other file may contain are dropped.
func scanAll(ctx context.Context, paths []string, opts Options, filters []*bloom.BloomFilter) ([]map[string]uint, error) {
	results := make([]map[string]uint, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			seen := make(map[string]uint)
			bit := uint(1) << uint(i)
			n, err := streamCodes(ctx, path, opts, func(code string) {
				if filters == nil || inOtherFilter(filters, i, code) {
					seen[code] |= bit
				}
			})
			if err != nil {
				return errors.Wrapf(err, "file %d", i+1)
			}
			slog.Info("file scanned",
				slog.String("file", path),
				slog.Uint64("codes", n),
				slog.Int("kept", len(seen)),
			)
			results[i] = seen
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func inOtherFilter(filters []*bloom.BloomFilter, self int, code string) bool {
	for j, f := range filters {
		if j != self && f.TestString(code) {
			return true
		}
	}
	return false
}

// streamCodes calls fn for every valid normalized code in a gzipped file and
// returns how many it passed.
func streamCodes(ctx context.Context, path string, opts Options, fn func(code string)) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return 0, errors.Wrapf(err, "gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	var n uint64
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		code := voucher.NormalizeCode(scanner.Text())
		if !opts.validCode(code) {
			continue
		}
		fn(code)
		n++
		if n%progressEvery == 0 {
			slog.Info("scan progress", slog.String("file", path), slog.Uint64("codes", n))
		}
	}
	if err := scanner.Err(); err != nil {
		return n, errors.Wrapf(err, "scan %s", path)
	}
	return n, nil
}
