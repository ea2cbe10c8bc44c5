package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fxalert/internal/alerting"
	"fxalert/internal/batch"
	"fxalert/internal/config"
	"fxalert/internal/grpcclient"
	"fxalert/internal/ingestion"
	"fxalert/internal/logging"
	"fxalert/internal/models"
	"fxalert/internal/parser"
	"fxalert/internal/sink"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// RunOptions holds the command line options. Flags override the config file
// only when they are set explicitly.
type RunOptions struct {
	Path       string
	ConfigFile string
	Verbose    bool

	Format       string
	SkipInvalid  bool
	Output       string
	Follow       bool
	SinkAddr     string
	BatchSize    int
	BatchTimeout time.Duration

	MovingAveragePeriods int
	SpotChangeThreshold  float64
	TrendSeconds         int64
	TrendThrottle        int64
}

// DefaultRunOptions returns options that match config.DefaultConfig.
func DefaultRunOptions() *RunOptions {
	cfg := config.DefaultConfig()
	return &RunOptions{
		Format:               cfg.Input.Format,
		BatchSize:            cfg.Output.Sink.BatchSize,
		BatchTimeout:         cfg.Output.Sink.BatchTimeout,
		MovingAveragePeriods: cfg.Alerters.MovingAverage.Periods,
		SpotChangeThreshold:  cfg.Alerters.MovingAverage.ThresholdPercent,
		TrendSeconds:         cfg.Alerters.Trending.MinimumTrendSeconds,
		TrendThrottle:        cfg.Alerters.Trending.ThrottleSeconds,
	}
}

func addRunFlags(cmd *cobra.Command, opts *RunOptions) {
	f := cmd.Flags()
	f.StringVar(&opts.Format, "format", opts.Format, "input format: auto, json or csv")
	f.BoolVar(&opts.SkipInvalid, "skip-invalid", false, "log and skip malformed lines instead of failing")
	f.StringVarP(&opts.Output, "output", "o", "", "write alerts to file instead of stdout")
	f.BoolVarP(&opts.Follow, "follow", "f", false, "follow the file for new rates (like tail -f)")
	f.StringVar(&opts.SinkAddr, "sink-addr", "", "also publish alerts to the gRPC collector at this address")
	f.IntVar(&opts.BatchSize, "sink-batch-size", opts.BatchSize, "alerts per published batch")
	f.DurationVar(&opts.BatchTimeout, "sink-batch-timeout", opts.BatchTimeout, "max time before publishing a partial batch")
	f.IntVar(&opts.MovingAveragePeriods, "moving-average-periods", opts.MovingAveragePeriods, "rates averaged by the spot change alerter")
	f.Float64Var(&opts.SpotChangeThreshold, "spot-change-threshold", opts.SpotChangeThreshold, "spot change threshold in percent")
	f.Int64Var(&opts.TrendSeconds, "trend-seconds", opts.TrendSeconds, "minimum trend length in seconds")
	f.Int64Var(&opts.TrendThrottle, "trend-throttle", opts.TrendThrottle, "minimum seconds between trend alerts for a pair")
}

// applyFlags copies explicitly set flags over cfg.
func applyFlags(flags *pflag.FlagSet, opts *RunOptions, cfg *config.Config) {
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("format", func() { cfg.Input.Format = opts.Format })
	set("skip-invalid", func() { cfg.Input.SkipInvalid = opts.SkipInvalid })
	set("follow", func() { cfg.Input.Follow = opts.Follow })
	set("output", func() { cfg.Output.Path = opts.Output })
	set("sink-addr", func() { cfg.Output.Sink.Address = opts.SinkAddr })
	set("sink-batch-size", func() { cfg.Output.Sink.BatchSize = opts.BatchSize })
	set("sink-batch-timeout", func() { cfg.Output.Sink.BatchTimeout = opts.BatchTimeout })
	set("moving-average-periods", func() { cfg.Alerters.MovingAverage.Periods = opts.MovingAveragePeriods })
	set("spot-change-threshold", func() { cfg.Alerters.MovingAverage.ThresholdPercent = opts.SpotChangeThreshold })
	set("trend-seconds", func() { cfg.Alerters.Trending.MinimumTrendSeconds = opts.TrendSeconds })
	set("trend-throttle", func() { cfg.Alerters.Trending.ThrottleSeconds = opts.TrendThrottle })
	if opts.Verbose {
		cfg.Logging.Level = "debug"
	}
}

// loadConfig reads the config file named by opts, or the default file when
// it exists.
func loadConfig(opts *RunOptions) (*config.Config, error) {
	path := opts.ConfigFile
	if path == "" {
		path = config.DefaultPath
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return config.Load(path)
}

// Runner wires the reader, the alert processor and the sinks for one run.
type Runner struct {
	cfg    *config.Config
	path   string
	stdout io.Writer
	logger *zap.Logger

	// collectorDialer overrides how the gRPC collector is dialed
	collectorDialer func(ctx context.Context, addr string) (net.Conn, error)
}

// NewRunner validates cfg and creates a runner for the input path.
func NewRunner(cfg *config.Config, path string, stdout io.Writer) (*Runner, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if stdout == nil {
		stdout = os.Stdout
	}

	return &Runner{
		cfg:    cfg,
		path:   path,
		stdout: stdout,
		logger: logging.L().With(
			zap.String("command", "run"),
			logging.Path(path),
		),
	}, nil
}

// Run reads the input and raises alerts. Without follow mode the whole input
// is read into memory before the alerters start. In follow mode rates are
// processed as they arrive until ctx is cancelled, which ends the run
// without error.
func (r *Runner) Run(ctx context.Context) (err error) {
	startTime := time.Now()

	registry, err := parser.NewRegistryForFormat(r.cfg.Input.Format)
	if err != nil {
		return err
	}
	reader := ingestion.NewReader(
		ingestion.NewSource(r.path, r.cfg.Input.Follow, r.logger),
		parser.NewMapper(registry),
		ingestion.WithSkipInvalid(r.cfg.Input.SkipInvalid),
		ingestion.WithLogger(r.logger),
	)

	alerters, err := alerting.FromConfig(r.cfg.Alerters)
	if err != nil {
		return err
	}

	out, closeSinks, err := r.buildSink()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeSinks(); cerr != nil {
			r.logger.Error("sink_close_error", zap.Error(cerr))
			if err == nil {
				err = cerr
			}
		}
	}()

	proc := alerting.NewProcessor(alerters, out, r.logger)

	r.logger.Info("run_starting",
		logging.Source(reader.Name()),
		zap.Bool("follow", r.cfg.Input.Follow),
		zap.String("format", r.cfg.Input.Format),
	)

	var stats alerting.Stats
	if r.cfg.Input.Follow {
		stats, err = r.follow(ctx, reader, proc)
	} else {
		stats, err = r.batch(ctx, reader, proc)
	}
	if err != nil {
		return err
	}

	readStats := reader.Stats()
	r.logger.Info("run_complete",
		zap.Int64("lines", readStats.Lines),
		zap.Int64("skipped", readStats.Skipped),
		zap.Int64("rates", stats.Rates),
		zap.Int("pairs", stats.Pairs),
		zap.Int64("alerts", stats.TotalAlerts()),
		logging.Duration(time.Since(startTime)),
	)
	return nil
}

// batch collects the whole input, then starts the processor once.
func (r *Runner) batch(ctx context.Context, reader *ingestion.Reader, proc *alerting.Processor) (alerting.Stats, error) {
	rates, err := ingestion.Collect(ctx, reader)
	if err != nil {
		return alerting.Stats{}, err
	}
	return proc.Start(ctx, rates)
}

// follow streams rates into the processor until ctx is cancelled.
func (r *Runner) follow(ctx context.Context, reader *ingestion.Reader, proc *alerting.Processor) (alerting.Stats, error) {
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	rates := make(chan *models.Rate, 256)
	readErrCh := make(chan error, 1)
	go func() {
		readErrCh <- reader.Read(readCtx, rates)
		close(rates)
	}()

	stats, procErr := proc.Stream(readCtx, rates)
	cancel()
	for range rates {
	}
	readErr := <-readErrCh

	if ctx.Err() != nil {
		r.logger.Info("follow_stopped", zap.Error(ctx.Err()))
		return stats, nil
	}
	if readErr != nil && !errors.Is(readErr, context.Canceled) {
		return stats, readErr
	}
	if procErr != nil && !errors.Is(procErr, context.Canceled) {
		return stats, procErr
	}
	return stats, nil
}

// buildSink creates the alert destinations. The returned function closes
// them, flushing any queued batches first.
func (r *Runner) buildSink() (sink.Sink, func() error, error) {
	var sinks []sink.Sink

	switch path := r.cfg.Output.Path; path {
	case "", "-":
		sinks = append(sinks, sink.NewWriterSink("stdout", r.stdout))
	default:
		fileSink, err := sink.NewFileSink(path)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, fileSink)
	}

	var client *grpcclient.Client
	if sc := r.cfg.Output.Sink; sc.Address != "" {
		grpcCfg := grpcclient.DefaultConfig()
		grpcCfg.Address = sc.Address
		grpcCfg.ConnectTimeout = sc.ConnectTimeout
		grpcCfg.MaxRetries = sc.MaxRetries
		grpcCfg.Dialer = r.collectorDialer
		grpcCfg.Logger = r.logger

		var err error
		client, err = grpcclient.NewClient(grpcCfg)
		if err != nil {
			_ = sink.NewMulti(sinks...).Close()
			return nil, nil, fmt.Errorf("failed to create gRPC client: %w", err)
		}

		batchCfg := batch.DefaultConfig()
		batchCfg.MaxBatchSize = sc.BatchSize
		batchCfg.MaxWaitTime = sc.BatchTimeout
		batchCfg.Logger = r.logger

		proc, err := batch.NewProcessor(batchCfg, grpcclient.NewBatchHandler(client))
		if err != nil {
			_ = client.Close()
			_ = sink.NewMulti(sinks...).Close()
			return nil, nil, fmt.Errorf("failed to create batch processor: %w", err)
		}
		sinks = append(sinks, sink.NewBatchSink("collector:"+sc.Address, proc))
	}

	var out sink.Sink = sinks[0]
	if len(sinks) > 1 {
		out = sink.NewMulti(sinks...)
	}

	closeAll := func() error {
		err := out.Close()
		if client != nil {
			err = errors.Join(err, client.Close())
		}
		return err
	}
	return out, closeAll, nil
}

// RunCommand loads configuration, applies flags and runs until the input is
// exhausted or a signal arrives.
func RunCommand(cmd *cobra.Command, opts *RunOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	applyFlags(cmd.Flags(), opts, cfg)

	if err := logging.Setup(&cfg.Logging); err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer func() { _ = logging.Close() }()

	runner, err := NewRunner(cfg, opts.Path, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runner.Run(ctx)
}
