package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/atlasmap-sc/geftools/internal/aggregate"
	"github.com/atlasmap-sc/geftools/internal/genemap"
	"github.com/atlasmap-sc/geftools/internal/pipeline"
)

type convertFlags struct {
	input      string
	output     string
	bins       string
	region     string
	geneDB     string
	omics      string
	resolution int
	overwrite  bool
	batchSize  int
	chunk1D    int
	chunk2D    int
}

func newConvertCmd() *cobra.Command {
	var f convertFlags
	cmd := &cobra.Command{
		Use:   "convert -i IN.gem -o OUT.bgef",
		Short: "Convert a GEM file into a bGEF store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runConvert(ctx, cmd, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.input, "input", "i", "", "GEM input (.gem, .gem.gz or .gem.zst)")
	fl.StringVarP(&f.output, "output", "o", "", "Output store directory")
	fl.StringVar(&f.bins, "bins", "", "Comma-separated bin sizes, e.g. 1,20,50")
	fl.StringVar(&f.region, "region", "", "Keep records inside minx,maxx,miny,maxy")
	fl.StringVar(&f.geneDB, "gene-db", "", "Gene map database used to fill gene ids")
	fl.StringVar(&f.omics, "omics", "", "Omics type stored in the root attributes")
	fl.IntVar(&f.resolution, "resolution", 0, "Spot pitch in nanometres")
	fl.BoolVar(&f.overwrite, "overwrite", false, "Replace an existing output store")
	fl.IntVar(&f.batchSize, "batch-size", 0, "Records per aggregation batch")
	fl.IntVar(&f.chunk1D, "chunk-1d", 0, "Chunk length of 1-D arrays")
	fl.IntVar(&f.chunk2D, "chunk-2d", 0, "Chunk edge of dense matrices")
	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("output")
	return cmd
}

func runConvert(ctx context.Context, cmd *cobra.Command, f convertFlags) error {
	cc := cfg.Convert
	opts := pipeline.Options{
		Input:         f.input,
		Output:        f.output,
		BinSizes:      cc.Bins,
		Omics:         cc.Omics,
		Resolution:    cc.Resolution,
		Overwrite:     f.overwrite,
		BatchSize:     cc.BatchSize,
		MaxDenseCells: cc.MaxDenseCells,
		ProgressEvery: cc.ProgressEvery,
		ChunkSize1D:   cc.ChunkSize1D,
		ChunkSize2D:   cc.ChunkSize2D,
		Logger:        logrus.StandardLogger(),
	}
	if f.bins != "" {
		bins, err := aggregate.ParseBinSizes(f.bins)
		if err != nil {
			return err
		}
		opts.BinSizes = bins
	}
	region := cc.Region
	if f.region != "" {
		region = f.region
	}
	if region != "" {
		box, err := aggregate.ParseRegion(region)
		if err != nil {
			return err
		}
		opts.Region = &box
	}
	if f.omics != "" {
		opts.Omics = f.omics
	}
	if f.resolution > 0 {
		opts.Resolution = f.resolution
	}
	if f.batchSize > 0 {
		opts.BatchSize = f.batchSize
	}
	if f.chunk1D > 0 {
		opts.ChunkSize1D = f.chunk1D
	}
	if f.chunk2D > 0 {
		opts.ChunkSize2D = f.chunk2D
	}

	dbPath := f.geneDB
	if dbPath == "" && cc.UseGeneMap {
		dbPath = cfg.GeneMap.SQLitePath
	}
	if dbPath != "" {
		if _, err := os.Stat(dbPath); err != nil {
			return err
		}
		gm, err := genemap.Open(dbPath, cfg.GeneMap.CacheSize)
		if err != nil {
			return err
		}
		defer gm.Close()
		opts.Resolver = gm
	}

	res, err := pipeline.Run(ctx, opts)
	if err != nil {
		if errors.Is(err, pipeline.ErrOutputExists) {
			logrus.Warn("Output exists; pass --overwrite to replace it")
		}
		return err
	}

	out := cmd.OutOrStdout()
	for _, b := range res.Bins {
		fmt.Fprintf(out, "bin%d\tgenes=%d\trecords=%d\tbox=%s\n", b.BinSize, b.Genes, b.Records, b.Box)
	}
	return nil
}
