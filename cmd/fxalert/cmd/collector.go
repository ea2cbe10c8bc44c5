package cmd

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"sync"
	"syscall"

	"fxalert/internal/grpcclient"
	"fxalert/internal/logging"
	"fxalert/internal/models"
	"fxalert/internal/sink"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// Collector receives published alert batches and writes them to a sink.
type Collector struct {
	out    sink.Sink
	logger *zap.Logger

	mu sync.Mutex
}

// NewCollector creates a collector writing to out.
func NewCollector(out sink.Sink, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = logging.L()
	}
	return &Collector{out: out, logger: logger.With(zap.String("component", "collector"))}
}

// Collect writes one batch in order and reports how many alerts were written.
func (c *Collector) Collect(ctx context.Context, batchID string, alerts []*models.Alert) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, alert := range alerts {
		if err := c.out.Emit(ctx, alert); err != nil {
			c.logger.Error("collector_emit_failed", zap.String("batch_id", batchID), zap.Error(err))
			return i, err
		}
	}
	c.logger.Debug("batch_collected", zap.String("batch_id", batchID), logging.BatchSize(len(alerts)))
	return len(alerts), nil
}

// Serve registers the collector on a new gRPC server and serves lis until
// ctx is cancelled.
func (c *Collector) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer()
	grpcclient.RegisterCollectorServer(srv, grpcclient.CollectorFunc(c.Collect))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(lis) }()

	c.logger.Info("collector_listening", zap.String("address", lis.Addr().String()))

	select {
	case <-ctx.Done():
		srv.GracefulStop()
		<-errCh
		c.logger.Info("collector_stopped")
		return nil
	case err := <-errCh:
		return err
	}
}

func newCollectorCmd(opts *RunOptions) *cobra.Command {
	var listen string

	collectorCmd := &cobra.Command{
		Use:   "collector",
		Short: "Receive alerts published with --sink-addr",
		Long: `Run an alert collector that accepts batches published by
"fxalert --sink-addr" and writes every alert as a JSON line to standard output.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if opts.Verbose {
				cfg.Logging.Level = "debug"
			}
			if err := logging.Setup(&cfg.Logging); err != nil {
				return fmt.Errorf("failed to setup logging: %w", err)
			}
			defer func() { _ = logging.Close() }()

			lis, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", listen, err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return NewCollector(sink.NewWriterSink("stdout", cmd.OutOrStdout()), logging.L()).Serve(ctx, lis)
		},
	}
	collectorCmd.Flags().StringVar(&listen, "listen", "localhost:50051", "address to accept gRPC connections on")

	return collectorCmd
}
