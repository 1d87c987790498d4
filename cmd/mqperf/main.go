//go:build linux || darwin

// Command mqperf measures the latency and throughput of frames exchanged
// between in-process sockets driven by a single reactor.
//
// Usage:
//
//	mqperf [-config mqcore.yaml] [-mode latency|throughput|all] [-sizes 8,64,512] [-count 10000]
//
// Settings not given as flags are read from the config file, and from
// MQCORE_* environment variables.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/joeycumines/go-mqcore/config"
	"github.com/joeycumines/go-mqcore/pipe"
	"github.com/joeycumines/go-mqcore/reactor"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "mqperf:", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	mode       string
	sizes      []int
	count      int
	hwm        int
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("mqperf", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		opts  options
		sizes string
	)
	fs.StringVar(&opts.configPath, "config", "", "YAML config file")
	fs.StringVar(&opts.mode, "mode", "all", "benchmark to run: latency, throughput, or all")
	fs.StringVar(&sizes, "sizes", "8,64,512,4096,8192,16384,32768", "comma separated message sizes, in bytes")
	fs.IntVar(&opts.count, "count", 10000, "round trips, or messages, per size")
	fs.IntVar(&opts.hwm, "hwm", pipe.DefaultSendHWM, "send high water mark")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	switch opts.mode {
	case "latency", "throughput", "all":
	default:
		return nil, fmt.Errorf("unknown mode %q", opts.mode)
	}
	if opts.count <= 0 {
		return nil, fmt.Errorf("count must be positive, got %d", opts.count)
	}
	for _, s := range strings.Split(sizes, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid size %q", s)
		}
		opts.sizes = append(opts.sizes, n)
	}
	return &opts, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	logger, err := cfg.NewLogger(stderr)
	if err != nil {
		return err
	}
	alloc := cfg.NewAllocator()
	defer alloc.Close()

	runID := uuid.NewString()
	r, err := reactor.New(append(cfg.ReactorOptions(logger), reactor.WithName("mqperf-"+runID))...)
	if err != nil {
		return err
	}
	defer r.Close()
	if err := r.RunAsync("mqperf"); err != nil {
		return err
	}

	logger.Info().
		Str("run", runID).
		Str("mode", opts.mode).
		Int("count", opts.count).
		Log("benchmark started")

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "benchmark\tsize [B]\tcount\tresult\t")

	b := &bench{
		reactor:  r,
		pairOpts: []pipe.Option{pipe.WithAllocator(alloc), pipe.WithSendHWM(opts.hwm), pipe.WithLogger(logger)},
	}
	for _, size := range opts.sizes {
		if opts.mode == "latency" || opts.mode == "all" {
			latency, err := b.latency(ctx, size, opts.count)
			if err != nil {
				return fmt.Errorf("latency %d: %w", size, err)
			}
			fmt.Fprintf(tw, "latency\t%d\t%d\t%.2f us\t\n", size, opts.count, float64(latency.Nanoseconds())/1e3)
			logger.Info().
				Str("run", runID).
				Int("size", size).
				Dur("latency", latency).
				Log("latency")
		}
		if opts.mode == "throughput" || opts.mode == "all" {
			result, err := b.throughput(ctx, size, opts.count)
			if err != nil {
				return fmt.Errorf("throughput %d: %w", size, err)
			}
			fmt.Fprintf(tw, "throughput\t%d\t%d\t%.0f msg/s, %.3f Mb/s\t\n", size, opts.count, result.messagesPerSecond(), result.megabitsPerSecond())
			logger.Info().
				Str("run", runID).
				Int("size", size).
				Float64("msg_per_sec", result.messagesPerSecond()).
				Log("throughput")
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return r.Stop()
}
