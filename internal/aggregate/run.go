package aggregate

import (
	"context"
	"io"
	"sort"
	"sync"

	"github.com/atlasmap-sc/geftools/internal/gem"
)

// Source yields records until io.EOF. *gem.Reader implements it.
type Source interface {
	Read() (gem.Record, error)
}

// Options controls a Run.
type Options struct {
	BinSizes []int
	HasExon  bool
	// Region, when set, drops records whose raw coordinates fall outside it.
	Region *Box
	// BatchSize is the number of records handed to the workers at once.
	BatchSize int
	// Progress is called from the reading goroutine after each batch with
	// the number of records read so far, accepted or not.
	Progress func(read uint64)
}

const defaultBatchSize = 1 << 16

// Run consumes src once and aggregates it at every requested bin size. Each
// bin size is served by its own goroutine and accumulator; record batches
// are shared read-only. The result is ordered by ascending bin size.
func Run(ctx context.Context, src Source, opts Options) ([]*GeneBin, error) {
	sizes, err := uniqueSizes(opts.BinSizes)
	if err != nil {
		return nil, err
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	accs := make([]*Accumulator, len(sizes))
	chans := make([]chan []gem.Record, len(sizes))
	var wg sync.WaitGroup
	for i, size := range sizes {
		acc, err := NewAccumulator(size, opts.HasExon)
		if err != nil {
			return nil, err
		}
		accs[i] = acc
		chans[i] = make(chan []gem.Record, 4)

		wg.Add(1)
		go func(acc *Accumulator, in <-chan []gem.Record) {
			defer wg.Done()
			for batch := range in {
				for _, rec := range batch {
					acc.Add(rec)
				}
			}
		}(acc, chans[i])
	}

	readErr := produce(ctx, src, opts, batchSize, chans)
	for _, ch := range chans {
		close(ch)
	}
	wg.Wait()
	if readErr != nil {
		return nil, readErr
	}

	bins := make([]*GeneBin, len(accs))
	for i, acc := range accs {
		gb, err := acc.Finish()
		if err != nil {
			return nil, err
		}
		bins[i] = gb
	}
	return bins, nil
}

func produce(ctx context.Context, src Source, opts Options, batchSize int, chans []chan []gem.Record) error {
	var read uint64
	batch := make([]gem.Record, 0, batchSize)

	dispatch := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, ch := range chans {
			ch <- batch
		}
		batch = make([]gem.Record, 0, batchSize)
		if opts.Progress != nil {
			opts.Progress(read)
		}
		return nil
	}

	for {
		rec, err := src.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		read++
		if opts.Region != nil && !opts.Region.Contains(Coord{X: rec.X, Y: rec.Y}) {
			continue
		}
		batch = append(batch, rec)
		if len(batch) == batchSize {
			if err := dispatch(); err != nil {
				return err
			}
		}
	}
	if len(batch) > 0 {
		return dispatch()
	}
	if opts.Progress != nil {
		opts.Progress(read)
	}
	return nil
}

func uniqueSizes(sizes []int) ([]int, error) {
	if len(sizes) == 0 {
		return []int{1}, nil
	}
	seen := make(map[int]bool, len(sizes))
	out := make([]int, 0, len(sizes))
	for _, s := range sizes {
		if s < 1 {
			return nil, ErrInvalidBinSize
		}
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Ints(out)
	return out, nil
}
