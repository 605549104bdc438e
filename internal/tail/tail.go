package tail

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"hybrid_monitor/internal/event"
	"hybrid_monitor/internal/metrics"
)

const DefaultPollInterval = 100 * time.Millisecond

var (
	ErrSourceUnavailable = errors.New("event source unavailable")
	ErrNoData            = errors.New("no data yet")
)

type Options struct {
	PollInterval time.Duration
	Metrics      *metrics.Metrics
	Logger       *zap.Logger
	Stream       string
}

// Tailer follows an append-only event log. It starts at the end of the file
// so only events written after Open are returned. A Tailer is not safe for
// concurrent use.
type Tailer struct {
	path    string
	poll    time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
	stream  string

	file    *os.File
	info    os.FileInfo
	reader  *bufio.Reader
	offset  int64
	partial []byte
	replay  bool
}

// Open fails with ErrSourceUnavailable if path does not exist.
func Open(path string, opts Options) (*Tailer, error) {
	t := newTailer(path, opts)
	if err := t.reopen(io.SeekEnd); err != nil {
		return nil, err
	}
	return t, nil
}

// OpenReplay reads path from its first line. Next returns io.EOF once the
// file is exhausted instead of waiting for more data.
func OpenReplay(path string, opts Options) (*Tailer, error) {
	t := newTailer(path, opts)
	t.replay = true
	if err := t.reopen(io.SeekStart); err != nil {
		return nil, err
	}
	return t, nil
}

func newTailer(path string, opts Options) *Tailer {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Stream == "" {
		opts.Stream = "eve"
	}
	return &Tailer{
		path:    path,
		poll:    opts.PollInterval,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		stream:  opts.Stream,
	}
}

func (t *Tailer) reopen(whence int) error {
	if t.file != nil {
		_ = t.file.Close()
		t.file = nil
	}
	f, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, t.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, t.path, err)
	}
	offset, err := f.Seek(0, whence)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, t.path, err)
	}
	t.file = f
	t.info = info
	t.reader = bufio.NewReader(f)
	t.offset = offset
	t.partial = t.partial[:0]
	return nil
}

// Next returns the next decoded event. When nothing is available it waits at
// most one poll interval and returns ErrNoData. Malformed lines are skipped.
func (t *Tailer) Next(ctx context.Context) (event.Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return event.Event{}, err
		}
		line, err := t.readLine()
		if err == nil {
			ev, derr := event.Decode(line)
			if derr != nil {
				t.countSkip(derr)
				continue
			}
			if t.metrics != nil {
				t.metrics.EventsTotal.WithLabelValues(t.stream, string(ev.Type)).Inc()
			}
			return ev, nil
		}
		if !errors.Is(err, io.EOF) {
			return event.Event{}, err
		}
		if t.replay {
			if len(t.partial) > 0 {
				line := t.partial
				t.partial = nil
				if ev, derr := event.Decode(line); derr == nil {
					return ev, nil
				}
			}
			return event.Event{}, io.EOF
		}
		if err := t.checkRotation(); err != nil {
			return event.Event{}, err
		}
		select {
		case <-ctx.Done():
			return event.Event{}, ctx.Err()
		case <-time.After(t.poll):
		}
		return event.Event{}, ErrNoData
	}
}

// readLine returns one complete line. A trailing line without a newline is
// buffered until the writer finishes it.
func (t *Tailer) readLine() ([]byte, error) {
	chunk, err := t.reader.ReadBytes('\n')
	t.offset += int64(len(chunk))
	if err != nil {
		t.partial = append(t.partial, chunk...)
		return nil, err
	}
	if len(t.partial) > 0 {
		chunk = append(t.partial, chunk...)
		t.partial = nil
	}
	return chunk, nil
}

// checkRotation reopens the log when it was replaced or truncated.
func (t *Tailer) checkRotation() error {
	info, err := os.Stat(t.path)
	if err != nil {
		// Renamed away and not recreated yet; keep draining the old handle.
		return nil
	}
	switch {
	case !os.SameFile(info, t.info):
		t.logger.Info("event log rotated, reopening", zap.String("path", t.path))
		t.countReopen("rotated")
		return t.reopen(io.SeekStart)
	case info.Size() < t.offset:
		t.logger.Info("event log truncated, reopening at end", zap.String("path", t.path),
			zap.Int64("size", info.Size()), zap.Int64("offset", t.offset))
		t.countReopen("truncated")
		return t.reopen(io.SeekEnd)
	}
	return nil
}

func (t *Tailer) countSkip(err error) {
	reason := "decode"
	if errors.Is(err, event.ErrUnsupportedType) {
		reason = "unsupported_type"
	}
	if t.metrics != nil {
		t.metrics.EventsSkipped.WithLabelValues(t.stream, reason).Inc()
	}
	t.logger.Debug("skipping event line", zap.String("reason", reason), zap.Error(err))
}

func (t *Tailer) countReopen(reason string) {
	if t.metrics != nil {
		t.metrics.TailerReopens.WithLabelValues(t.stream, reason).Inc()
	}
}

func (t *Tailer) Close() error {
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}
