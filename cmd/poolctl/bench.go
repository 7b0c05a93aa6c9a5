package main

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshuapare/poolalloc/internal/logger"
	"github.com/joshuapare/poolalloc/memspace"
	"github.com/joshuapare/poolalloc/pool"
)

var (
	benchSpace      string
	benchWorkers    int
	benchIterations int
	benchSizes      []int
	benchHold       int
	benchGCEvery    int
	benchLinger     time.Duration
)

func init() {
	cmd := newBenchCmd()
	cmd.Flags().StringVar(&benchSpace, "space", "both", "Memory space: host, device or both")
	cmd.Flags().IntVarP(&benchWorkers, "workers", "w", 8, "Concurrent workers")
	cmd.Flags().IntVarP(&benchIterations, "iterations", "n", 10000, "Allocations per worker")
	cmd.Flags().
		IntSliceVar(&benchSizes, "sizes", []int{pool.DefaultBlockSize, 4096, 64}, "Block sizes in bytes, cycled by each worker")
	cmd.Flags().IntVar(&benchHold, "hold", 4, "Blocks each worker holds before freeing the oldest")
	cmd.Flags().IntVar(&benchGCEvery, "gc-every", 0, "Run a garbage collection every N allocations per worker (0 disables)")
	cmd.Flags().
		DurationVar(&benchLinger, "linger", 0, "Keep serving metrics this long after the run")
	rootCmd.AddCommand(cmd)
}

func newBenchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark concurrent allocation traffic",
		Long: `The bench command runs workers that allocate and free blocks of a
fixed set of sizes and reports throughput and how often the pool served
a request without going to the backend.

Example:
  poolctl bench
  poolctl bench --space device --workers 32 --sizes 256,8192 --gc-every 1000
  poolctl bench --metrics-addr :9464 --linger 30s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench()
		},
	}
	return cmd
}

type benchResult struct {
	Spaces     []string      `json:"spaces"`
	Workers    int           `json:"workers"`
	Iterations int           `json:"iterations"`
	Sizes      []int         `json:"sizes"`
	Duration   time.Duration `json:"duration_ns"`
	Ops        int           `json:"ops"`
	OpsPerSec  float64       `json:"ops_per_sec"`
	GCRuns     int           `json:"gc_runs"`
	Stats      []spaceReport `json:"stats"`
}

func runBench() error {
	spaces, err := parseSpaces(benchSpace)
	if err != nil {
		return err
	}
	switch {
	case benchWorkers <= 0:
		return fmt.Errorf("--workers must be positive, got %d", benchWorkers)
	case benchIterations <= 0:
		return fmt.Errorf("--iterations must be positive, got %d", benchIterations)
	case benchHold <= 0:
		return fmt.Errorf("--hold must be positive, got %d", benchHold)
	case benchGCEvery < 0:
		return fmt.Errorf("--gc-every must not be negative, got %d", benchGCEvery)
	case len(benchSizes) == 0:
		return errors.New("--sizes must name at least one size")
	}
	for _, s := range benchSizes {
		if s <= 0 {
			return fmt.Errorf("--sizes must be positive, got %d", s)
		}
	}

	a, err := newAllocator("")
	if err != nil {
		return err
	}
	defer a.Close()

	printVerbose("Benchmarking %s with %d workers x %d iterations\n", a, benchWorkers, benchIterations)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		gcRuns int
		errs   = make([]error, benchWorkers)
	)
	start := time.Now()
	for w := range benchWorkers {
		wg.Go(func() {
			space := spaces[w%len(spaces)]
			n, err := benchWorker(a, space, w)
			errs[w] = err
			mu.Lock()
			gcRuns += n
			mu.Unlock()
		})
	}
	wg.Wait()
	elapsed := time.Since(start)
	if err := errors.Join(errs...); err != nil {
		return err
	}

	ops := 2 * benchWorkers * benchIterations
	res := benchResult{
		Workers:    benchWorkers,
		Iterations: benchIterations,
		Sizes:      benchSizes,
		Duration:   elapsed,
		Ops:        ops,
		OpsPerSec:  float64(ops) / elapsed.Seconds(),
		GCRuns:     gcRuns,
	}
	st := a.Stats()
	for _, sp := range spaces {
		res.Spaces = append(res.Spaces, sp.String())
		res.Stats = append(res.Stats, newSpaceReport(sp.String(), st.Space(sp)))
	}
	logger.Info("bench finished", "ops", ops, "duration", elapsed, "gc_runs", gcRuns)

	if jsonOut {
		if err := printJSON(res); err != nil {
			return err
		}
	} else {
		printBench(res)
	}

	if benchLinger > 0 && metricsSrv != nil {
		printVerbose("Lingering %s for metrics scrapes\n", benchLinger)
		time.Sleep(benchLinger)
	}
	return nil
}

// benchWorker allocates benchIterations blocks, keeping at most benchHold of
// them live, and frees everything before returning. It returns the number of
// garbage collections it ran.
func benchWorker(a *pool.Allocator, space pool.Space, w int) (int, error) {
	held := make([]memspace.Addr, 0, benchHold)
	gcRuns := 0
	for i := range benchIterations {
		size := benchSizes[(w+i)%len(benchSizes)]
		p, err := a.Allocate(size, 1, space)
		if err != nil {
			return gcRuns, fmt.Errorf("worker %d: %w", w, err)
		}
		held = append(held, p)
		if len(held) >= benchHold {
			if err := a.Deallocate(&held[0], space); err != nil {
				return gcRuns, fmt.Errorf("worker %d: %w", w, err)
			}
			held = held[1:]
		}
		if benchGCEvery > 0 && (i+1)%benchGCEvery == 0 {
			if err := a.GarbageCollectSpace(space); err != nil {
				return gcRuns, fmt.Errorf("worker %d: %w", w, err)
			}
			gcRuns++
		}
	}
	for i := range held {
		if err := a.Deallocate(&held[i], space); err != nil {
			return gcRuns, fmt.Errorf("worker %d: %w", w, err)
		}
	}
	return gcRuns, nil
}

func printBench(res benchResult) {
	printInfo("\nBenchmark Results:\n")
	printInfo("  Workers:    %d\n", res.Workers)
	printInfo("  Iterations: %d per worker\n", res.Iterations)
	printInfo("  Operations: %d in %s\n", res.Ops, res.Duration.Round(time.Microsecond))
	printInfo("  Throughput: %.0f ops/sec\n", res.OpsPerSec)
	if res.GCRuns > 0 {
		printInfo("  GC runs:    %d\n", res.GCRuns)
	}
	printInfo("\nPool:\n")
	for _, r := range res.Stats {
		printSpaceReport(r)
	}
}
