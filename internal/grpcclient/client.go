// Package grpcclient publishes alert batches to a remote alert collector.
//
// The collector exposes a single unary method,
// /fxalert.v1.AlertCollector/Publish, that takes a google.protobuf.Struct
// payload and answers with a Struct carrying the accepted count. Using the
// well-known types keeps the wire format stable without generated code.
//
// The client retries retryable gRPC status codes with exponential backoff.
package grpcclient

import (
	"context"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	fxerrors "fxalert/internal/errors"
	"fxalert/internal/logging"
	"fxalert/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	_ "google.golang.org/grpc/encoding/gzip"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Config holds gRPC client configuration.
type Config struct {
	Address        string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration

	// MaxRetries counts attempts after the first. Backoff doubles from
	// RetryBackoff up to MaxBackoff.
	MaxRetries   int
	RetryBackoff time.Duration
	MaxBackoff   time.Duration

	EnableCompression bool
	// MaxMessageSize caps sent and received messages; zero keeps the gRPC default.
	MaxMessageSize int

	// BlockOnConnect makes Connect wait until the channel is ready.
	BlockOnConnect bool

	// Dialer replaces the default network dialer.
	Dialer func(ctx context.Context, addr string) (net.Conn, error)

	Logger *zap.Logger
}

// DefaultConfig returns the default gRPC client configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:           "localhost:50051",
		ConnectTimeout:    10 * time.Second,
		RequestTimeout:    30 * time.Second,
		MaxRetries:        3,
		RetryBackoff:      100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		EnableCompression: true,
		MaxMessageSize:    16 << 20,
		Logger:            logging.L(),
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch {
	case c.Address == "":
		return fxerrors.NewConfigValidationError("Address", c.Address, "address is required")
	case c.ConnectTimeout <= 0:
		return fxerrors.NewConfigValidationError("ConnectTimeout", c.ConnectTimeout, "must be positive")
	case c.RequestTimeout <= 0:
		return fxerrors.NewConfigValidationError("RequestTimeout", c.RequestTimeout, "must be positive")
	case c.MaxRetries < 0:
		return fxerrors.NewConfigValidationError("MaxRetries", c.MaxRetries, "must be non-negative")
	}
	return nil
}

// dialOptions translates the config into grpc dial options.
func (c *Config) dialOptions() []grpc.DialOption {
	var callOpts []grpc.CallOption
	if c.MaxMessageSize > 0 {
		callOpts = append(callOpts,
			grpc.MaxCallRecvMsgSize(c.MaxMessageSize),
			grpc.MaxCallSendMsgSize(c.MaxMessageSize),
		)
	}
	if c.EnableCompression {
		callOpts = append(callOpts, grpc.UseCompressor("gzip"))
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	if len(callOpts) > 0 {
		opts = append(opts, grpc.WithDefaultCallOptions(callOpts...))
	}
	if c.Dialer != nil {
		opts = append(opts, grpc.WithContextDialer(c.Dialer))
	}
	return opts
}

// Client publishes alert batches to a collector over a single connection.
type Client struct {
	config *Config
	logger *zap.Logger

	mu     sync.RWMutex
	conn   *grpc.ClientConn
	closed bool
}

// NewClient validates cfg and returns an unconnected client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.L()
	}
	return &Client{
		config: cfg,
		logger: logger.With(
			zap.String("component", "collector_client"),
			zap.String("collector", cfg.Address),
		),
	}, nil
}

// Connect creates the underlying channel. It is called lazily by Publish.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.closed:
		return fxerrors.NewCommConnectionError(c.config.Address, "client is closed")
	case c.conn != nil:
		return nil
	}

	conn, err := grpc.NewClient(c.config.Address, c.config.dialOptions()...)
	if err != nil {
		c.logger.Error("collector_dial_failed", zap.Error(err))
		return fxerrors.NewCommConnectionError(c.config.Address, err.Error())
	}

	if c.config.BlockOnConnect {
		if err := c.awaitReady(ctx, conn); err != nil {
			_ = conn.Close()
			return err
		}
	}

	c.conn = conn
	c.logger.Info("collector_connected", zap.Bool("blocking", c.config.BlockOnConnect))
	return nil
}

// awaitReady drives conn until it reports Ready or ConnectTimeout passes.
func (c *Client) awaitReady(ctx context.Context, conn *grpc.ClientConn) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()

	conn.Connect()
	for state := conn.GetState(); state != connectivity.Ready; state = conn.GetState() {
		if !conn.WaitForStateChange(ctx, state) {
			c.logger.Warn("collector_not_ready", zap.Stringer("state", state))
			return fxerrors.NewCommConnectionError(c.config.Address, "connection timeout")
		}
	}
	return nil
}

// Close releases the connection. Further calls to Publish fail.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	conn := c.conn
	c.conn = nil
	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil {
		c.logger.Error("collector_close_failed", zap.Error(err))
		return err
	}
	c.logger.Debug("collector_client_closed")
	return nil
}

// IsConnected reports whether a channel has been created and not closed.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.closed
}

// GetConnection returns the underlying channel, or nil before Connect.
func (c *Client) GetConnection() *grpc.ClientConn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// Publish sends one batch of alerts and returns how many the collector
// accepted. Each call is tagged with a fresh batch id.
func (c *Client) Publish(ctx context.Context, alerts []*models.Alert) (int, error) {
	if len(alerts) == 0 {
		return 0, nil
	}
	if err := c.Connect(ctx); err != nil {
		return 0, err
	}
	conn := c.GetConnection()
	if conn == nil {
		return 0, fxerrors.NewCommConnectionError(c.config.Address, "client is closed")
	}

	batchID := uuid.NewString()
	log := c.logger.With(zap.String("batch_id", batchID), logging.BatchSize(len(alerts)))

	req, err := EncodeBatch(batchID, alerts)
	if err != nil {
		return 0, fxerrors.NewCommPublishError(batchID, len(alerts), err.Error())
	}

	var resp *structpb.Struct
	err = c.withRetry(ctx, log, func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()

		out := &structpb.Struct{}
		if err := conn.Invoke(callCtx, PublishMethod, req, out); err != nil {
			return err
		}
		resp = out
		return nil
	})
	if err != nil {
		log.Error("publish_failed", zap.Error(err))
		if status.Code(err) == codes.DeadlineExceeded {
			return 0, fxerrors.NewCommTimeoutError("publish", c.config.RequestTimeout.Seconds())
		}
		return 0, fxerrors.NewCommPublishError(batchID, len(alerts), err.Error())
	}

	accepted := len(alerts)
	if v, ok := resp.GetFields()[FieldAccepted]; ok {
		accepted = int(v.GetNumberValue())
	}
	log.Debug("batch_published", zap.Int("accepted", accepted))
	return accepted, nil
}

// withRetry runs call until it succeeds, fails with a non-retryable error,
// or MaxRetries extra attempts have been spent.
func (c *Client) withRetry(ctx context.Context, log *zap.Logger, call func() error) error {
	wait := c.config.RetryBackoff
	attempts := c.config.MaxRetries + 1

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = call(); err == nil {
			return nil
		}
		if !isRetryableError(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		log.Warn("publish_retry", zap.Int("attempt", attempt), zap.Duration("backoff", wait), zap.Error(err))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		wait = min(wait*2, c.config.MaxBackoff)
	}
	return fmt.Errorf("operation failed after %d attempts: %w", attempts, err)
}

// isRetryableError reports whether a failed call may succeed if repeated.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return true
	}
	return fxerrors.IsRetryableError(err)
}

// BatchHandler adapts a Client to the batch processor.
type BatchHandler struct {
	client *Client
	logger *zap.Logger
}

// NewBatchHandler returns a handler that publishes every batch through client.
func NewBatchHandler(client *Client) *BatchHandler {
	return &BatchHandler{client: client, logger: client.logger}
}

// HandleBatch publishes the non-nil alerts of batch.
func (h *BatchHandler) HandleBatch(ctx context.Context, batch []*models.Alert) (int, error) {
	alerts := slices.DeleteFunc(slices.Clone(batch), func(a *models.Alert) bool { return a == nil })
	if len(alerts) == 0 {
		return 0, nil
	}

	start := time.Now()
	accepted, err := h.client.Publish(ctx, alerts)
	if err != nil {
		return accepted, err
	}
	h.logger.Info("batch_sent_to_collector",
		logging.BatchSize(len(alerts)),
		zap.Int("processed", accepted),
		logging.Duration(time.Since(start)),
	)
	return accepted, nil
}
