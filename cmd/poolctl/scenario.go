package main

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/joshuapare/poolalloc/internal/logger"
	"github.com/joshuapare/poolalloc/memspace"
	"github.com/joshuapare/poolalloc/pool"
)

var (
	scenarioSpace   string
	scenarioWorkers int
	scenarioVerify  bool
)

func init() {
	cmd := newScenarioCmd()
	cmd.Flags().StringVar(&scenarioSpace, "space", "both", "Memory space: host, device or both")
	cmd.Flags().IntVar(&scenarioWorkers, "workers", 1000, "Concurrent workers for scenario b")
	cmd.Flags().BoolVar(&scenarioVerify, "verify", false, "Check pool invariants after every step")
	rootCmd.AddCommand(cmd)
}

func newScenarioCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario <a|b|c|all>",
		Short: "Run the reference allocator scenarios",
		Long: `The scenario command runs the reference scenarios against a fresh
allocator and reports every check:

  a  allocate two blocks, free one, garbage collect
  b  many concurrent workers allocating and freeing
  c  double deallocation is rejected

Example:
  poolctl scenario all
  poolctl scenario b --space device --workers 200 --verify
  poolctl scenario a --json`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"a", "b", "c", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(args)
		},
	}
	return cmd
}

// check is one assertion made by a scenario.
type check struct {
	Name string `json:"name"`
	Want string `json:"want"`
	Got  string `json:"got"`
	OK   bool   `json:"ok"`
}

// scenarioResult collects the checks of one scenario in one space.
type scenarioResult struct {
	Scenario string      `json:"scenario"`
	Space    string      `json:"space"`
	Checks   []check     `json:"checks"`
	Final    spaceReport `json:"final"`
	Passed   bool        `json:"passed"`
	Err      string      `json:"error,omitempty"`
}

func (r *scenarioResult) expect(name string, want, got any) {
	w, g := fmt.Sprint(want), fmt.Sprint(got)
	r.Checks = append(r.Checks, check{Name: name, Want: w, Got: g, OK: w == g})
}

func (r *scenarioResult) expectTrue(name string, ok bool, got any) {
	r.Checks = append(r.Checks, check{Name: name, Want: "true", Got: fmt.Sprint(got), OK: ok})
}

func (r *scenarioResult) finish(a *pool.Allocator, space pool.Space, err error) {
	r.Final = newSpaceReport(space.String(), a.Stats().Space(space))
	r.Passed = err == nil
	if err != nil {
		r.Err = err.Error()
	}
	for _, c := range r.Checks {
		r.Passed = r.Passed && c.OK
	}
}

type scenarioFunc func(a *pool.Allocator, space pool.Space, r *scenarioResult) error

var scenarios = map[string]scenarioFunc{
	"a": scenarioA,
	"b": scenarioB,
	"c": scenarioC,
}

func runScenario(args []string) error {
	which := strings.ToLower(args[0])
	names := []string{which}
	if which == "all" {
		names = []string{"a", "b", "c"}
	} else if _, ok := scenarios[which]; !ok {
		return fmt.Errorf("unknown scenario %q (want a, b, c or all)", args[0])
	}
	spaces, err := parseSpaces(scenarioSpace)
	if err != nil {
		return err
	}
	if scenarioWorkers <= 0 {
		return fmt.Errorf("--workers must be positive, got %d", scenarioWorkers)
	}

	var results []scenarioResult
	for _, name := range names {
		for _, space := range spaces {
			res, err := runOne(name, space)
			if err != nil {
				return err
			}
			results = append(results, res)
		}
	}

	if jsonOut {
		if err := printJSON(results); err != nil {
			return err
		}
	} else {
		for _, res := range results {
			printResult(res)
		}
	}

	failed := 0
	for _, res := range results {
		if !res.Passed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scenario runs failed", failed, len(results))
	}
	return nil
}

func runOne(name string, space pool.Space) (scenarioResult, error) {
	a, err := newAllocator("scenario_" + name)
	if err != nil {
		return scenarioResult{}, err
	}
	res := scenarioResult{Scenario: name, Space: space.String()}

	printVerbose("Running scenario %s on %s\n", name, space)
	runErr := scenarios[name](a, space, &res)
	res.finish(a, space, runErr)
	logger.Info("scenario finished", "scenario", name, "space", space, "passed", res.Passed)

	if err := a.Close(); err != nil {
		return res, fmt.Errorf("closing allocator: %w", err)
	}
	return res, nil
}

// verifyStep runs the invariant check when --verify is set.
func verifyStep(a *pool.Allocator, r *scenarioResult, step string) {
	if !scenarioVerify {
		return
	}
	err := a.Verify()
	r.expectTrue("invariants after "+step, err == nil, errString(err))
}

func errString(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}

// scenarioA allocates two int blocks, frees one and collects.
func scenarioA(a *pool.Allocator, space pool.Space, r *scenarioResult) error {
	const count, intSize = 10000, 4

	p1, err := a.Allocate(count, intSize, space)
	if err != nil {
		return err
	}
	p2, err := a.Allocate(count, intSize, space)
	if err != nil {
		return err
	}
	verifyStep(a, r, "allocate")
	r.expect("pool count after two allocations", 2, a.PoolCount(space))
	r.expect("pool free count after two allocations", 0, a.PoolFreeCount(space))
	r.expect("pool size after two allocations", int64(2*count*intSize), a.PoolSize(space))

	if err := a.Deallocate(&p1, space); err != nil {
		return err
	}
	verifyStep(a, r, "deallocate")
	r.expect("pool count after deallocate", 2, a.PoolCount(space))
	r.expect("pool free count after deallocate", 1, a.PoolFreeCount(space))
	r.expect("pool size after deallocate", int64(2*count*intSize), a.PoolSize(space))
	r.expect("deallocate clears the caller's address", memspace.Nil, p1)

	if err := a.GarbageCollect(); err != nil {
		return err
	}
	verifyStep(a, r, "garbage collection")
	r.expect("pool count after garbage collection", 1, a.PoolCount(space))
	r.expect("pool free count after garbage collection", 0, a.PoolFreeCount(space))

	return a.Deallocate(&p2, space)
}

// scenarioB runs concurrent workers that each keep one block and free two.
func scenarioB(a *pool.Allocator, space pool.Space, r *scenarioResult) error {
	const blockSize = pool.DefaultBlockSize
	workers := scenarioWorkers

	kept := make([]memspace.Addr, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := range kept {
		wg.Go(func() {
			ptr1, err := a.Allocate(blockSize, 1, space)
			if err != nil {
				errs[i] = err
				return
			}
			ptr2, err := a.Allocate(1, 1, space)
			if err != nil {
				errs[i] = err
				return
			}
			kept[i], errs[i] = a.Allocate(blockSize, 1, space)
			errs[i] = errors.Join(errs[i], a.Deallocate(&ptr1, space), a.Deallocate(&ptr2, space))
		})
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		return err
	}
	verifyStep(a, r, "concurrent allocation")

	seen := make(map[memspace.Addr]struct{}, workers)
	for _, p := range kept {
		seen[p] = struct{}{}
	}
	count := a.PoolCount(space)
	r.expect("kept blocks are distinct", workers, len(seen))
	r.expectTrue("pool count covers kept blocks", count >= workers, count)
	r.expectTrue("pool count bounded by reuse", count <= 10*workers, count)

	for i := range kept {
		wg.Go(func() {
			errs[i] = a.Deallocate(&kept[i], space)
		})
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		return err
	}
	verifyStep(a, r, "concurrent deallocation")
	r.expect("every block free", a.PoolCount(space), a.PoolFreeCount(space))
	return nil
}

// scenarioC deallocates the same address twice.
func scenarioC(a *pool.Allocator, space pool.Space, r *scenarioResult) error {
	p, err := a.Allocate(16, 8, space)
	if err != nil {
		return err
	}
	dup := p
	if err := a.Deallocate(&p, space); err != nil {
		return err
	}
	err = a.Deallocate(&dup, space)
	r.expectTrue("second deallocate reports a double free", errors.Is(err, pool.ErrDoubleFree), errString(err))
	r.expect("address kept after rejected deallocate", false, dup == memspace.Nil)
	r.expect("free count unchanged by rejected deallocate", 1, a.PoolFreeCount(space))
	verifyStep(a, r, "double free")
	return nil
}

func printResult(res scenarioResult) {
	status := "PASS"
	if !res.Passed {
		status = "FAIL"
	}
	printInfo("\nScenario %s (%s): %s\n", res.Scenario, res.Space, status)
	for _, c := range res.Checks {
		mark := "✓"
		if !c.OK {
			mark = "✗"
		}
		if c.OK {
			printVerbose("  %s %s\n", mark, c.Name)
			continue
		}
		printInfo("  %s %s: want %s, got %s\n", mark, c.Name, c.Want, c.Got)
	}
	if res.Err != "" {
		printInfo("  ✗ error: %s\n", res.Err)
	}
	printVerbose("Final pool state:\n")
	if verbose && !quiet {
		printSpaceReport(res.Final)
	}
}
