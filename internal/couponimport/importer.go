// Package couponimport bulk-loads coupon definitions from gzip-compressed
// JSON-lines files. Files are processed concurrently; a code defined in more
// than one file is kept from the first file that defines it.
package couponimport

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/coupon"
)

const maxLineSize = 1 << 20

// Store persists imported coupons.
type Store interface {
	UpsertBatch(ctx context.Context, coupons []*coupon.Coupon) error
}

// Config tunes an import run.
type Config struct {
	// BloomCapacity is the expected number of codes per file.
	BloomCapacity uint
	// BloomFPR is the target false positive rate of each file's filter.
	BloomFPR float64
	// BatchSize is the number of coupons upserted per round trip.
	BatchSize int
	Logger    *slog.Logger
}

// Stats summarises an import run.
type Stats struct {
	Read       int
	Invalid    int
	Duplicates int
	Written    int
}

// Importer loads coupon files into a Store.
type Importer struct {
	cfg      Config
	store    Store
	validate *validator.Validate
	log      *slog.Logger
}

// New creates an Importer. Zero Config fields get defaults.
func New(store Store, cfg Config) *Importer {
	if cfg.BloomCapacity == 0 {
		cfg.BloomCapacity = 1_000_000
	}
	if cfg.BloomFPR <= 0 {
		cfg.BloomFPR = 0.001
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Importer{
		cfg:      cfg,
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      cfg.Logger,
	}
}

// codeSet is a set of normalized coupon codes.
type codeSet map[string]struct{}

func (s codeSet) has(code string) bool {
	_, ok := s[code]
	return ok
}

// Run imports files in order of precedence.
func (im *Importer) Run(ctx context.Context, files []string) (Stats, error) {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return Stats{}, errors.Wrapf(err, "check file %s", f)
		}
	}

	im.log.Info("pass 1: building bloom filters", slog.Int("files", len(files)))
	filters, stats, err := im.buildFilters(ctx, files)
	if err != nil {
		return stats, errors.Wrap(err, "build bloom filters")
	}

	im.log.Info("pass 2: finding duplicate candidates")
	candidates, err := im.findCandidates(ctx, files, filters)
	if err != nil {
		return stats, errors.Wrap(err, "find candidates")
	}

	dupes, err := im.confirmDuplicates(ctx, files, candidates)
	if err != nil {
		return stats, errors.Wrap(err, "confirm duplicates")
	}

	im.log.Info("pass 3: writing coupons")
	written, duplicates, err := im.write(ctx, files, dupes)
	stats.Written = written
	stats.Duplicates = duplicates
	if err != nil {
		return stats, errors.Wrap(err, "write coupons")
	}
	return stats, nil
}

// buildFilters adds every valid code of each file to that file's filter and
// counts read and invalid records.
func (im *Importer) buildFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, Stats, error) {
	filters := make([]*bloom.BloomFilter, len(files))
	perFile := make([]Stats, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(im.cfg.BloomCapacity, im.cfg.BloomFPR)
			err := im.stream(ctx, path, func(line int, c *coupon.Coupon, err error) error {
				perFile[i].Read++
				if err != nil {
					perFile[i].Invalid++
					im.log.Warn("invalid record",
						slog.String("file", path),
						slog.Int("line", line),
						slog.String("error", err.Error()),
					)
					return nil
				}
				filter.AddString(c.Code)
				return nil
			})
			if err != nil {
				return errors.Wrapf(err, "file %s", path)
			}
			filters[i] = filter
			im.log.Info("pass 1 complete",
				slog.String("file", path),
				slog.Int("records", perFile[i].Read),
				slog.Int("invalid", perFile[i].Invalid),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, Stats{}, err
	}

	var total Stats
	for _, s := range perFile {
		total.Read += s.Read
		total.Invalid += s.Invalid
	}
	return filters, total, nil
}

// findCandidates returns, per file, the codes that an earlier file's filter
// claims to contain. Candidates may be false positives.
func (im *Importer) findCandidates(ctx context.Context, files []string, filters []*bloom.BloomFilter) ([]codeSet, error) {
	candidates := make([]codeSet, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		candidates[i] = codeSet{}
		if i == 0 {
			continue
		}
		g.Go(func() error {
			return im.stream(ctx, path, func(_ int, c *coupon.Coupon, err error) error {
				if err != nil {
					return nil
				}
				for _, f := range filters[:i] {
					if f.TestString(c.Code) {
						candidates[i][c.Code] = struct{}{}
						break
					}
				}
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return candidates, nil
}

// confirmDuplicates rescans files for candidate codes only and keeps, per
// file, the candidates that an earlier file really defines.
func (im *Importer) confirmDuplicates(ctx context.Context, files []string, candidates []codeSet) ([]codeSet, error) {
	all := codeSet{}
	for _, cs := range candidates {
		for code := range cs {
			all[code] = struct{}{}
		}
	}
	dupes := make([]codeSet, len(files))
	for i := range dupes {
		dupes[i] = codeSet{}
	}
	if len(all) == 0 {
		return dupes, nil
	}

	seen := make([]codeSet, len(files))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files[:len(files)-1] {
		seen[i] = codeSet{}
		g.Go(func() error {
			return im.stream(ctx, path, func(_ int, c *coupon.Coupon, err error) error {
				if err == nil && all.has(c.Code) {
					seen[i][c.Code] = struct{}{}
				}
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range files {
		for code := range candidates[i] {
			for j := range i {
				if seen[j].has(code) {
					dupes[i][code] = struct{}{}
					break
				}
			}
		}
	}
	return dupes, nil
}

// write upserts every valid, non-duplicate record in batches.
func (im *Importer) write(ctx context.Context, files []string, dupes []codeSet) (written, duplicates int, err error) {
	var nWritten, nDupes atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			batch := make([]*coupon.Coupon, 0, im.cfg.BatchSize)
			flush := func() error {
				if len(batch) == 0 {
					return nil
				}
				if err := im.store.UpsertBatch(ctx, batch); err != nil {
					return errors.Wrapf(err, "upsert batch from %s", path)
				}
				nWritten.Add(int64(len(batch)))
				batch = batch[:0]
				return nil
			}

			err := im.stream(ctx, path, func(line int, c *coupon.Coupon, err error) error {
				if err != nil {
					return nil
				}
				if dupes[i].has(c.Code) {
					nDupes.Add(1)
					im.log.Warn("duplicate code skipped",
						slog.String("file", path),
						slog.Int("line", line),
						slog.String("code", c.Code),
					)
					return nil
				}
				batch = append(batch, c)
				if len(batch) >= im.cfg.BatchSize {
					return flush()
				}
				return nil
			})
			if err != nil {
				return err
			}
			return flush()
		})
	}
	err = g.Wait()
	return int(nWritten.Load()), int(nDupes.Load()), err
}

// stream decompresses path and calls fn for each non-empty line with the
// decoded coupon or the reason the line is invalid. Only errors returned by
// fn or by I/O stop the stream.
func (im *Importer) stream(ctx context.Context, path string, fn func(line int, c *coupon.Coupon, err error) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return err
		}
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}

		var c *coupon.Coupon
		rec, invalid := decodeRecord(data)
		if invalid == nil {
			c, invalid = rec.coupon(im.validate)
		}
		if err := fn(line, c, invalid); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
