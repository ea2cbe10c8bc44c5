// Package ingestion provides rate source adapters and the lazy record reader.
package ingestion

import (
	"bufio"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"

	fxerrors "fxalert/internal/errors"

	"github.com/nxadm/tail"
	"go.uber.org/zap"
)

// StdinPath is the input path that selects standard input.
const StdinPath = "-"

// Line is one raw input line with its position.
type Line struct {
	Text   string
	Source string
	Num    int
}

// Source is the interface that input adapters must implement.
type Source interface {
	// Read sends raw lines to the provided channel in input order.
	// It should return when the context is cancelled or the source is exhausted.
	Read(ctx context.Context, lines chan<- Line) error

	// Name returns a human-readable name for this source.
	Name() string

	// Close releases any resources held by the source.
	Close() error
}

// NewSource picks the source for an input path. "-" reads standard input.
func NewSource(path string, follow bool, logger *zap.Logger) Source {
	if path == StdinPath {
		return NewStdinSource(logger)
	}
	return NewFileSource(path, follow, logger)
}

// FileSource reads rates from a file, optionally following it for appended
// lines.
type FileSource struct {
	path   string
	follow bool
	logger *zap.Logger
}

// NewFileSource returns a source for path. With follow set, Read keeps
// waiting for new lines until its context is cancelled.
func NewFileSource(path string, follow bool, logger *zap.Logger) *FileSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSource{path: path, follow: follow, logger: logger}
}

func (f *FileSource) Name() string { return "file:" + f.path }

func (f *FileSource) Close() error { return nil }

// Read sends every line of the file, then either returns or follows the file.
func (f *FileSource) Read(ctx context.Context, lines chan<- Line) error {
	if !f.follow {
		file, err := os.Open(f.path)
		if err != nil {
			return openError(f.path, err)
		}
		defer file.Close()
		return scanLines(ctx, file, f.path, lines)
	}

	t, err := tail.TailFile(f.path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return openError(f.path, err)
	}
	defer t.Stop()

	out := numberer{ch: lines, source: f.path}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tl, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if tl.Err != nil {
				f.logger.Warn("tail_line_error", zap.String("path", f.path), zap.Error(tl.Err))
				continue
			}
			if err := out.send(ctx, tl.Text); err != nil {
				return err
			}
		}
	}
}

// StdinSource reads rates from standard input until EOF.
type StdinSource struct {
	in     io.Reader
	logger *zap.Logger
}

func NewStdinSource(logger *zap.Logger) *StdinSource {
	return &StdinSource{in: os.Stdin, logger: logger}
}

func (s *StdinSource) Name() string { return "stdin" }

func (s *StdinSource) Read(ctx context.Context, lines chan<- Line) error {
	return scanLines(ctx, s.in, "stdin", lines)
}

func (s *StdinSource) Close() error { return nil }

// maxLineBytes bounds a single input line.
const maxLineBytes = 1 << 20

func scanLines(ctx context.Context, r io.Reader, source string, lines chan<- Line) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	out := numberer{ch: lines, source: source}
	for sc.Scan() {
		if err := out.send(ctx, sc.Text()); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fxerrors.NewIngestReadError(source, err)
	}
	return nil
}

// numberer assigns 1-based line numbers as lines are sent.
type numberer struct {
	ch     chan<- Line
	source string
	n      int
}

func (w *numberer) send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.n++
	select {
	case <-ctx.Done():
		return ctx.Err()
	case w.ch <- Line{Text: text, Source: w.source, Num: w.n}:
		return nil
	}
}

func openError(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fxerrors.NewIngestFileNotFoundError(path)
	case errors.Is(err, fs.ErrPermission):
		return fxerrors.NewIngestPermissionDeniedError(path)
	default:
		return fxerrors.NewIngestReadError(path, err)
	}
}
