package ingestion

import (
	"context"
	"errors"
	"sync/atomic"

	"fxalert/internal/models"
	"fxalert/internal/parser"

	"go.uber.org/zap"
)

// ErrReaderConsumed is returned by a second call to Reader.Read.
var ErrReaderConsumed = errors.New("reader already consumed")

// ReadStats counts what a Reader has seen so far.
type ReadStats struct {
	Lines   int64
	Rates   int64
	Skipped int64
}

// Reader maps the lines of a Source into rates. It is a finite sequence that
// can be read once.
type Reader struct {
	source      Source
	mapper      *parser.Mapper
	skipInvalid bool
	logger      *zap.Logger

	consumed atomic.Bool
	lines    atomic.Int64
	rates    atomic.Int64
	skipped  atomic.Int64
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithSkipInvalid logs and skips malformed lines instead of failing.
func WithSkipInvalid(skip bool) ReaderOption {
	return func(r *Reader) {
		r.skipInvalid = skip
	}
}

// WithLogger sets the reader's logger.
func WithLogger(logger *zap.Logger) ReaderOption {
	return func(r *Reader) {
		r.logger = logger
	}
}

// NewReader creates a reader over source. A nil mapper auto-detects the format.
func NewReader(source Source, mapper *parser.Mapper, opts ...ReaderOption) *Reader {
	if mapper == nil {
		mapper = parser.NewMapper(nil)
	}
	r := &Reader{
		source: source,
		mapper: mapper,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name returns the name of the underlying source.
func (r *Reader) Name() string {
	return r.source.Name()
}

// Stats returns a snapshot of the reader counters.
func (r *Reader) Stats() ReadStats {
	return ReadStats{
		Lines:   r.lines.Load(),
		Rates:   r.rates.Load(),
		Skipped: r.skipped.Load(),
	}
}

// Read sends every rate of the source to the channel in input order. The
// caller owns the channel and closes it after Read returns.
func (r *Reader) Read(ctx context.Context, rates chan<- *models.Rate) error {
	if r.consumed.Swap(true) {
		return ErrReaderConsumed
	}
	defer r.source.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan Line, 256)
	errCh := make(chan error, 1)
	go func() {
		errCh <- r.source.Read(ctx, lines)
		close(lines)
	}()

	drain := func(err error) error {
		cancel()
		for range lines {
		}
		<-errCh
		return err
	}

	for line := range lines {
		r.lines.Add(1)
		rate, err := r.mapper.Map(line.Text, line.Num)
		if errors.Is(err, parser.ErrSkipLine) {
			continue
		}
		if err != nil {
			if !r.skipInvalid {
				return drain(err)
			}
			r.skipped.Add(1)
			r.logger.Warn("line_skipped",
				zap.String("source", line.Source),
				zap.Int("line", line.Num),
				zap.Error(err))
			continue
		}

		select {
		case <-ctx.Done():
			return drain(ctx.Err())
		case rates <- rate:
			r.rates.Add(1)
		}
	}

	return <-errCh
}

// Collect drains the reader into an ordered slice. Any read failure is
// returned and the partial result discarded.
func Collect(ctx context.Context, reader *Reader) ([]*models.Rate, error) {
	ch := make(chan *models.Rate, 256)
	errCh := make(chan error, 1)
	go func() {
		errCh <- reader.Read(ctx, ch)
		close(ch)
	}()

	var rates []*models.Rate
	for rate := range ch {
		rates = append(rates, rate)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	if rates == nil {
		rates = []*models.Rate{}
	}
	return rates, nil
}
