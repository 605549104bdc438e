package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Supervise opens a source and runs p over it. The first open failing is
// returned to the caller; once running, a read error closes the source and
// reopens it after retry instead of ending the process.
func Supervise(ctx context.Context, open func() (Source, error), p *Pipeline, retry time.Duration) error {
	src, err := open()
	if err != nil {
		return err
	}
	for {
		err := p.Run(ctx, src)
		src.Close()
		if err == nil || errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return nil
		}
		p.Logger.Error("event source failed, reopening",
			zap.String("stream", p.Stream),
			zap.Duration("retry", retry),
			zap.Error(err))

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retry):
			}
			if src, err = open(); err == nil {
				break
			}
			p.Logger.Warn("reopen failed", zap.String("stream", p.Stream), zap.Error(err))
		}
	}
}
