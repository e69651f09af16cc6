package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hypersplit/internal/worker"
	"hypersplit/pkg/config"
	"hypersplit/pkg/filter"
	"hypersplit/pkg/hypersplit"
	"hypersplit/pkg/logging"
	"hypersplit/pkg/metrics"
	"hypersplit/pkg/packet"
)

var buildVersion = "dev"

type options struct {
	config          string
	output          string
	format          string
	workers         int
	batch           int
	maxDepth        int
	metricsTextfile string
	metricsListen   string
	dumpTree        bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "hypersplit [rule_file packet_file binth]",
		Short: "Classify packets against prioritized five-field rules with a HyperSplit tree",
		Example: "  hypersplit rules.txt packets.txt 4\n" +
			"  hypersplit --config configs/config.yaml --format pcap",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 3 {
				return errors.Errorf("expected 0 or 3 arguments, got %d", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, &opts, args)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cmd.OutOrStdout(), cfg, opts.dumpTree)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&opts.config, "config", "", "Path to config file")
	fs.StringVarP(&opts.output, "output", "o", "", "Result file (default output.txt)")
	fs.StringVar(&opts.format, "format", "", "Packet file format: auto, text, pcap, pcapng")
	fs.IntVar(&opts.workers, "workers", 0, "Classification workers (0 = number of CPUs)")
	fs.IntVar(&opts.batch, "batch", 0, "Packets per worker batch")
	fs.IntVar(&opts.maxDepth, "max-depth", 0, "Tree depth limit (0 = default)")
	fs.StringVar(&opts.metricsTextfile, "metrics-textfile", "", "Write prometheus metrics to this file when done")
	fs.StringVar(&opts.metricsListen, "metrics-listen", "", "Serve prometheus metrics on this address while running")
	fs.BoolVar(&opts.dumpTree, "dump-tree", false, "Print the tree after building it")

	cmd.AddCommand(newStatsCommand(), newVersionCommand())
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hypersplit version %s\n", buildVersion)
		},
	}
}

// loadConfig 读取配置文件, 然后用位置参数和显式设置的 flag 覆盖
func loadConfig(cmd *cobra.Command, opts *options, args []string) (*config.Config, error) {
	cfg, err := config.Load(opts.config)
	if err != nil {
		return nil, err
	}

	if len(args) == 3 {
		binth, err := strconv.Atoi(args[2])
		if err != nil {
			return nil, errors.Wrapf(err, "binth %q", args[2])
		}
		cfg.RulesPath, cfg.PacketsPath, cfg.Binth = args[0], args[1], binth
	}

	fs := cmd.Flags()
	if fs.Changed("output") {
		cfg.OutputPath = opts.output
	}
	if fs.Changed("format") {
		cfg.PacketFormat = opts.format
	}
	if fs.Changed("workers") {
		cfg.Workers.NumWorkers = opts.workers
	}
	if fs.Changed("batch") {
		cfg.Workers.BatchSize = opts.batch
	}
	if fs.Changed("max-depth") {
		cfg.MaxDepth = opts.maxDepth
	}
	if fs.Changed("metrics-textfile") {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Textfile = opts.metricsTextfile
	}
	if fs.Changed("metrics-listen") {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = opts.metricsListen
	}

	if cfg.RulesPath == "" || cfg.PacketsPath == "" {
		return nil, errors.New("rule and packet files are required, as arguments or in the config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyPerformanceConfig 应用性能配置
func applyPerformanceConfig(w io.Writer, cfg *config.Config) {
	// 单核模式
	if cfg.Performance.SingleCore {
		runtime.GOMAXPROCS(1)
		cfg.Workers.NumWorkers = 1
		fmt.Fprintln(w, "[PERF] Single-core mode: GOMAXPROCS set to 1")
	}

	// CPU 亲和性
	if cfg.Performance.CPUAffinity >= 0 {
		if err := setCPUAffinity(cfg.Performance.CPUAffinity); err != nil {
			fmt.Fprintf(w, "[PERF] Warning: failed to set CPU affinity to %d: %v\n", cfg.Performance.CPUAffinity, err)
		} else {
			fmt.Fprintf(w, "[PERF] CPU affinity set to core %d\n", cfg.Performance.CPUAffinity)
		}
	}

	if cfg.Performance.DisableLog {
		cfg.Logging.Enabled = false
	}
}

func run(ctx context.Context, w io.Writer, cfg *config.Config, dumpTree bool) error {
	applyPerformanceConfig(w, cfg)

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	collector := metrics.NewCollector()

	fmt.Fprintf(w, "[1/5] Loading rules from %s...\n", cfg.RulesPath)
	rules, err := filter.LoadRules(cfg.RulesPath)
	if err = tolerateLineError(logger, collector, cfg.RulesPath, err); err != nil {
		return err
	}
	fmt.Fprintf(w, "      Loaded %d rules\n", rules.Len())

	fmt.Fprintf(w, "[2/5] Loading packets from %s...\n", cfg.PacketsPath)
	format, _ := packet.ParseFormat(cfg.PacketFormat)
	packets, readStats, err := packet.Load(cfg.PacketsPath, format)
	if err = tolerateLineError(logger, collector, cfg.PacketsPath, err); err != nil {
		return err
	}
	collector.AddSkipped(readStats.Skipped)
	if readStats.Skipped > 0 {
		logger.Warn("skipped frames without an IPv4 five tuple",
			zap.String("file", cfg.PacketsPath), zap.Int("skipped", readStats.Skipped))
	}
	fmt.Fprintf(w, "      Loaded %d packets\n", len(packets))

	fmt.Fprintf(w, "[3/5] Building HyperSplit tree (binth=%d)...\n", cfg.Binth)
	start := time.Now()
	tree, err := hypersplit.Build(rules, hypersplit.Options{Binth: cfg.Binth, MaxDepth: cfg.MaxDepth})
	if err != nil {
		return err
	}
	buildTime := time.Since(start)
	collector.SetBuildDuration(buildTime)
	treeStats := tree.Stats()
	logger.Info("tree built",
		zap.Duration("took", buildTime),
		zap.Int("nodes", treeStats.Nodes),
		zap.Int("leaves", treeStats.Leaves),
		zap.Int("max_depth", treeStats.MaxDepth),
		zap.Float64("replication", treeStats.Replication))
	fmt.Fprintf(w, "      Time taken to create HyperSplit tree: %f seconds\n", buildTime.Seconds())
	if dumpTree {
		if err := tree.Dump(w); err != nil {
			return err
		}
	}

	var exporter *metrics.Exporter
	if cfg.Metrics.Enabled {
		exporter = metrics.NewExporter(collector, cfg.Metrics.Listen, cfg.Metrics.Path)
		exporter.SetTree(treeStats, rules.Len())
		if cfg.Metrics.Listen != "" {
			go func() {
				if err := exporter.Start(); err != nil {
					logger.Error("metrics server", zap.Error(err))
				}
			}()
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = exporter.Shutdown(sctx)
			}()
			fmt.Fprintf(w, "      Metrics: %s%s\n", cfg.Metrics.Listen, cfg.Metrics.Path)
		}
	}

	fmt.Fprintln(w, "[4/5] Classifying packets...")
	pool := worker.NewPool(worker.PoolOptions{
		NumWorkers: cfg.Workers.NumWorkers,
		BatchSize:  cfg.Workers.BatchSize,
		Tree:       tree,
		Metrics:    collector,
		Logger:     logger,
	})
	start = time.Now()
	results, err := pool.Run(ctx, packets)
	if err != nil {
		return errors.Wrap(err, "classify")
	}
	classifyTime := time.Since(start)
	collector.SetClassifyDuration(classifyTime)
	fmt.Fprintf(w, "      Time taken to classify packets: %f seconds\n", classifyTime.Seconds())

	fmt.Fprintf(w, "[5/5] Writing results to %s...\n", cfg.OutputPath)
	if err := packet.WriteFile(cfg.OutputPath, results); err != nil {
		return err
	}

	if exporter != nil && cfg.Metrics.Textfile != "" {
		if err := exporter.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			return err
		}
	}

	stats := collector.GetStats()
	fmt.Fprintf(w, "Final stats: classified=%d, matched=%d, missed=%d, skipped=%d, parse_errors=%d\n",
		stats.Classified, stats.Matched, stats.Missed, stats.Skipped, stats.ParseErrors)
	return nil
}

// tolerateLineError keeps the records read before a malformed line and
// only reports it; every other error is returned.
func tolerateLineError(logger *zap.Logger, collector *metrics.Collector, path string, err error) error {
	var lineErr *filter.LineError
	if err == nil || !errors.As(err, &lineErr) {
		return err
	}
	collector.IncParseError()
	logger.Warn("stopped reading at malformed line",
		zap.String("file", path), zap.Int("line", lineErr.Line), zap.Error(lineErr.Err))
	return nil
}
