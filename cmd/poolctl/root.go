package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/joshuapare/poolalloc/internal/logger"
	"github.com/joshuapare/poolalloc/pkg/config"
	"github.com/joshuapare/poolalloc/pkg/metrics"
	"github.com/joshuapare/poolalloc/pool"
)

var (
	// Global flags
	verbose     bool
	quiet       bool
	jsonOut     bool
	configPath  string
	metricsAddr string

	// conf is the effective configuration, loaded before every command runs.
	conf = config.Default()

	metricsSrv   *http.Server
	metricsBound net.Addr

	// printer formats counts with digit grouping.
	printer = message.NewPrinter(language.English)
)

var rootCmd = &cobra.Command{
	Use:   "poolctl",
	Short: "Exercise and inspect the pooled host/device allocator",
	Long: `poolctl drives the pooled memory allocator: it runs the reference
scenarios, benchmarks concurrent allocation traffic against host and device
memory, and prints the effective configuration.`,
	Version:            version,
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().
		StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9464)")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v\n", err)
		os.Exit(1)
	}
}

// setup loads the configuration, initializes logging and starts the metrics
// endpoint when one is configured.
func setup(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if metricsAddr != "" {
		c.Metrics.Enabled = true
		c.Metrics.Addr = metricsAddr
	}
	conf = c

	lo, err := conf.LoggerOptions()
	if err != nil {
		return err
	}
	if err := logger.Init(lo); err != nil {
		return err
	}
	logger.Debug("configuration loaded", "path", configPath, "command", cmd.Name())

	if conf.Metrics.Enabled {
		return startMetrics(conf.Metrics.Addr)
	}
	return nil
}

func teardown(_ *cobra.Command, _ []string) error {
	return stopMetrics()
}

func startMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.DefaultRegistry().Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	metricsSrv, metricsBound = srv, ln.Addr()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	printVerbose("Serving metrics on http://%s/metrics\n", ln.Addr())
	logger.Info("metrics endpoint started", "addr", ln.Addr().String())
	return nil
}

func stopMetrics() error {
	if metricsSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := metricsSrv.Shutdown(ctx)
	metricsSrv = nil
	return err
}

// newAllocator builds an allocator from the effective configuration.
func newAllocator(name string) (*pool.Allocator, error) {
	opts, err := conf.AllocatorOptions()
	if err != nil {
		return nil, err
	}
	if name != "" {
		opts = append(opts, pool.WithName(name))
	}
	return pool.New(opts...)
}

// parseSpaces maps "host", "device" or "both" to memory spaces.
func parseSpaces(s string) ([]pool.Space, error) {
	if strings.EqualFold(s, "both") || s == "" {
		return pool.Spaces(), nil
	}
	sp, err := pool.ParseSpace(s)
	if err != nil {
		return nil, err
	}
	return []pool.Space{sp}, nil
}

// Helper functions for output

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...interface{}) {
	if !quiet {
		printer.Fprintf(os.Stdout, format, args...)
	}
}

// printError prints an error message
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format, args...)
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...interface{}) {
	if verbose && !quiet {
		printer.Fprintf(os.Stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// formatBytes renders n with a binary unit.
func formatBytes(n int64) string {
	switch {
	case n < 1024:
		return printer.Sprintf("%d B", n)
	case n < 1024*1024:
		return printer.Sprintf("%.1f KiB", float64(n)/1024)
	case n < 1024*1024*1024:
		return printer.Sprintf("%.1f MiB", float64(n)/(1024*1024))
	default:
		return printer.Sprintf("%.2f GiB", float64(n)/(1024*1024*1024))
	}
}

// spaceReport is the JSON form of pool.SpaceStats.
type spaceReport struct {
	Space      string  `json:"space"`
	Blocks     int     `json:"blocks"`
	FreeBlocks int     `json:"free_blocks"`
	InUse      int     `json:"in_use"`
	Bytes      int64   `json:"bytes"`
	FreeBytes  int64   `json:"free_bytes"`
	Reuses     uint64  `json:"reuses"`
	RawAllocs  uint64  `json:"raw_allocs"`
	Deallocs   uint64  `json:"deallocs"`
	Released   uint64  `json:"released"`
	ReuseRatio float64 `json:"reuse_ratio"`
}

func newSpaceReport(name string, s pool.SpaceStats) spaceReport {
	return spaceReport{
		Space:      name,
		Blocks:     s.Blocks,
		FreeBlocks: s.FreeBlocks,
		InUse:      s.InUse(),
		Bytes:      s.Bytes,
		FreeBytes:  s.FreeBytes,
		Reuses:     s.Reuses,
		RawAllocs:  s.RawAllocs,
		Deallocs:   s.Deallocs,
		Released:   s.Released,
		ReuseRatio: s.ReuseRatio(),
	}
}

func printSpaceReport(r spaceReport) {
	printInfo("  %s:\n", r.Space)
	printInfo("    Blocks:      %d (%d free, %d in use)\n", r.Blocks, r.FreeBlocks, r.InUse)
	printInfo("    Size:        %s (%s free)\n", formatBytes(r.Bytes), formatBytes(r.FreeBytes))
	printInfo("    Allocations: %d reused, %d raw (reuse %.1f%%)\n", r.Reuses, r.RawAllocs, r.ReuseRatio*100)
	printInfo("    Released:    %d\n", r.Released)
}
