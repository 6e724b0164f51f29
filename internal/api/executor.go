package api

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/atlasmap-sc/geftools/internal/aggregate"
	"github.com/atlasmap-sc/geftools/internal/config"
	"github.com/atlasmap-sc/geftools/internal/geneindex"
	"github.com/atlasmap-sc/geftools/internal/jobstore"
	"github.com/atlasmap-sc/geftools/internal/pipeline"
)

// progressStep is how many records pass between persisted progress updates.
const progressStep = 1_000_000

// PipelineExecutor returns an Executor that runs the conversion pipeline.
// Job parameters override defaults; resolver is used when the job or the
// defaults ask for gene id lookup.
func PipelineExecutor(defaults config.ConvertConfig, resolver geneindex.Resolver) Executor {
	return func(ctx context.Context, job *jobstore.Job, progress func(jobstore.JobProgress)) (*jobstore.JobResult, error) {
		p := job.Params
		opts := pipeline.Options{
			Input:         p.Input,
			Output:        p.Output,
			BinSizes:      p.Bins,
			Omics:         p.Omics,
			Resolution:    p.Resolution,
			Overwrite:     p.Overwrite,
			BatchSize:     defaults.BatchSize,
			MaxDenseCells: defaults.MaxDenseCells,
			ProgressEvery: defaults.ProgressEvery,
			ChunkSize1D:   defaults.ChunkSize1D,
			ChunkSize2D:   defaults.ChunkSize2D,
			Logger:        logrus.WithField("job_id", job.ID),
		}
		if len(opts.BinSizes) == 0 {
			opts.BinSizes = defaults.Bins
		}
		if opts.Omics == "" {
			opts.Omics = defaults.Omics
		}
		if opts.Resolution == 0 {
			opts.Resolution = defaults.Resolution
		}
		region := p.Region
		if region == "" {
			region = defaults.Region
		}
		if region != "" {
			box, err := aggregate.ParseRegion(region)
			if err != nil {
				return nil, err
			}
			opts.Region = &box
		}
		if (p.UseGeneMap || defaults.UseGeneMap) && resolver != nil {
			opts.Resolver = resolver
		}

		var (
			mu    sync.Mutex
			phase = "queued"
			last  uint64
		)
		opts.OnPhase = func(name string) {
			mu.Lock()
			phase = name
			read := last
			mu.Unlock()
			progress(jobstore.JobProgress{Phase: name, Records: read})
		}
		opts.OnProgress = func(read uint64) {
			mu.Lock()
			report := read/progressStep != last/progressStep
			last = read
			name := phase
			mu.Unlock()
			if report {
				progress(jobstore.JobProgress{Phase: name, Records: read})
			}
		}

		if err := os.MkdirAll(filepath.Dir(p.Output), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
		res, err := pipeline.Run(ctx, opts)
		if err != nil {
			return nil, err
		}

		out := &jobstore.JobResult{
			Output:     res.Output,
			Records:    res.Records,
			DurationMS: res.Duration.Milliseconds(),
		}
		for _, b := range res.Bins {
			out.Bins = append(out.Bins, jobstore.BinResult{
				BinSize: b.BinSize,
				Genes:   b.Genes,
				Records: b.Records,
				Box:     b.Box.String(),
			})
		}
		return out, nil
	}
}
