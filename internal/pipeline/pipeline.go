// Package pipeline converts one GEM input into a bGEF store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/atlasmap-sc/geftools/internal/aggregate"
	"github.com/atlasmap-sc/geftools/internal/bgef"
	"github.com/atlasmap-sc/geftools/internal/data/zarr"
	"github.com/atlasmap-sc/geftools/internal/gem"
	"github.com/atlasmap-sc/geftools/internal/geneindex"
)

var (
	// ErrDenseTooLarge means a bin's bounding box exceeds MaxDenseCells.
	ErrDenseTooLarge = errors.New("pipeline: dense matrix exceeds cell limit")
	// ErrOutputExists means the output path is taken and Overwrite is unset.
	ErrOutputExists = errors.New("pipeline: output already exists")
)

const (
	DefaultMaxDenseCells int64 = 1 << 30
	DefaultProgressEvery       = 5_000_000
	DefaultResolution          = 1
)

// Options describes one conversion.
type Options struct {
	Input  string
	Output string

	BinSizes   []int
	Region     *aggregate.Box
	Omics      string
	Resolution int
	Overwrite  bool

	BatchSize     int
	MaxDenseCells int64
	ProgressEvery uint64

	// ChunkSize1D and ChunkSize2D override the store's chunk sizes.
	ChunkSize1D int
	ChunkSize2D int

	// Resolver maps gene symbols to ids; nil keeps names as ids.
	Resolver geneindex.Resolver
	// OnProgress receives the number of input records read so far.
	OnProgress func(read uint64)
	// OnPhase is told when the run moves to "aggregate" or "write".
	OnPhase func(phase string)
	Logger     logrus.FieldLogger
}

// BinSummary describes one written bin size.
type BinSummary struct {
	BinSize int
	Box     aggregate.Box
	Genes   int
	Records int
}

// Result reports a finished conversion.
type Result struct {
	Output   string
	Header   *gem.Header
	Records  uint64
	Bins     []BinSummary
	Duration time.Duration
}

func (o *Options) applyDefaults() {
	if len(o.BinSizes) == 0 {
		o.BinSizes = []int{1}
	}
	if o.Resolution == 0 {
		o.Resolution = DefaultResolution
	}
	if o.MaxDenseCells <= 0 {
		o.MaxDenseCells = DefaultMaxDenseCells
	}
	if o.ProgressEvery == 0 {
		o.ProgressEvery = DefaultProgressEvery
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
}

func (o *Options) phase(name string) {
	if o.OnPhase != nil {
		o.OnPhase(name)
	}
}

// Run reads opts.Input once, aggregates every requested bin size and writes
// the store. The store is assembled in a sibling staging directory and only
// renamed to opts.Output once complete; on any error nothing is left behind.
func Run(ctx context.Context, opts Options) (*Result, error) {
	opts.applyDefaults()
	start := time.Now()
	log := opts.Logger.WithFields(logrus.Fields{"input": opts.Input, "output": opts.Output})

	if opts.Output == "" {
		return nil, errors.New("pipeline: output path is required")
	}
	if _, err := os.Stat(opts.Output); err == nil && !opts.Overwrite {
		return nil, fmt.Errorf("%w: %s", ErrOutputExists, opts.Output)
	}

	rd, closer, err := gem.OpenReader(opts.Input)
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	hdr := rd.Header()
	log.WithFields(logrus.Fields{
		"columns":  hdr.Columns,
		"exon":     hdr.HasExon,
		"offset_x": hdr.OffsetX,
		"offset_y": hdr.OffsetY,
		"bins":     opts.BinSizes,
	}).Info("Header parsed")

	opts.phase("aggregate")
	nextReport := opts.ProgressEvery
	bins, err := aggregate.Run(ctx, rd, aggregate.Options{
		BinSizes:  opts.BinSizes,
		HasExon:   hdr.HasExon,
		Region:    opts.Region,
		BatchSize: opts.BatchSize,
		Progress: func(read uint64) {
			if read >= nextReport {
				log.WithField("lines", rd.Line()).Infof("Read %d records", read)
				nextReport = (read/opts.ProgressEvery + 1) * opts.ProgressEvery
			}
			if opts.OnProgress != nil {
				opts.OnProgress(read)
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate %s: %w", opts.Input, err)
	}
	for _, gb := range bins {
		if cells := gb.Box.Cells(); cells > opts.MaxDenseCells {
			return nil, fmt.Errorf("%w: bin %d box %v has %d cells (limit %d)", ErrDenseTooLarge, gb.BinSize, gb.Box, cells, opts.MaxDenseCells)
		}
	}

	opts.phase("write")
	staging := fmt.Sprintf("%s.partial-%s", filepath.Clean(opts.Output), uuid.NewString())
	res := &Result{Output: opts.Output, Header: hdr, Records: bins[0].Records}
	if err := write(ctx, staging, hdr, bins, opts, res, log); err != nil {
		os.RemoveAll(staging)
		return nil, err
	}
	if opts.Overwrite {
		if err := os.RemoveAll(opts.Output); err != nil {
			os.RemoveAll(staging)
			return nil, fmt.Errorf("failed to remove existing output %s: %w", opts.Output, err)
		}
	}
	if err := os.Rename(staging, opts.Output); err != nil {
		os.RemoveAll(staging)
		return nil, fmt.Errorf("failed to move store into place at %s: %w", opts.Output, err)
	}

	res.Duration = time.Since(start)
	log.WithFields(logrus.Fields{
		"records":  res.Records,
		"duration": res.Duration.Round(time.Millisecond),
	}).Info("Conversion complete")
	return res, nil
}

func write(ctx context.Context, dir string, hdr *gem.Header, bins []*aggregate.GeneBin, opts Options, res *Result, log logrus.FieldLogger) error {
	w, err := zarr.NewWriter(dir, zarr.WithChunkSizes(opts.ChunkSize1D, opts.ChunkSize2D))
	if err != nil {
		return err
	}
	defer w.Close()

	if err := bgef.WriteRoot(w, bgef.MetaFromHeader(hdr, opts.Omics, opts.Resolution)); err != nil {
		return err
	}

	for i, gb := range bins {
		if err := ctx.Err(); err != nil {
			return err
		}
		idx, err := geneindex.Build(gb, opts.Resolver)
		if err != nil {
			return fmt.Errorf("bin %d: %w", gb.BinSize, err)
		}
		if err := bgef.WriteGeneExp(w, gb, idx, opts.Resolution); err != nil {
			return err
		}
		if err := bgef.WriteWholeExp(w, gb, opts.Resolution); err != nil {
			return err
		}
		// Summary statistics come from the finest bin.
		if i == 0 {
			if err := bgef.WriteStats(w, idx.Stats); err != nil {
				return err
			}
		}

		sum := BinSummary{
			BinSize: gb.BinSize,
			Box:     gb.Box,
			Genes:   len(idx.Genes),
			Records: len(idx.Expressions),
		}
		res.Bins = append(res.Bins, sum)
		log.WithFields(logrus.Fields{
			"bin":     sum.BinSize,
			"genes":   sum.Genes,
			"records": sum.Records,
			"box":     sum.Box.String(),
		}).Debug("Bin written")
	}
	return nil
}
