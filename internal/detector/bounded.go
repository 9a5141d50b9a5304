package detector

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Bounded wraps a detector with a hard deadline. On timeout or error it
// returns a zero-confidence verdict instead of propagating the failure, so a
// slow or hanging backend can never stall the gateway or silently decide the
// request's fate.
type Bounded struct {
	inner   Detector
	timeout time.Duration
	logger  *zap.Logger
}

// NewBounded wraps inner with the given timeout.
func NewBounded(inner Detector, timeout time.Duration, logger *zap.Logger) *Bounded {
	return &Bounded{inner: inner, timeout: timeout, logger: logger}
}

func (b *Bounded) Name() string { return b.inner.Name() }

type analyzeResult struct {
	verdict *Verdict
	err     error
}

func (b *Bounded) Analyze(ctx context.Context, content string, reqCtx Context) (*Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	// Buffered so a late inner detector never leaks a blocked goroutine.
	ch := make(chan analyzeResult, 1)
	go func() {
		v, err := b.inner.Analyze(ctx, content, reqCtx)
		ch <- analyzeResult{verdict: v, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			b.logger.Warn("detector error, downgrading to zero confidence",
				zap.String("detector", b.inner.Name()),
				zap.Error(res.err),
			)
			return ZeroConfidence(content, "detector error: "+res.err.Error()), nil
		}
		if res.verdict == nil {
			return ZeroConfidence(content, "detector returned no verdict"), nil
		}
		res.verdict.Normalize()
		return res.verdict, nil
	case <-ctx.Done():
		b.logger.Warn("detector deadline exceeded, downgrading to zero confidence",
			zap.String("detector", b.inner.Name()),
			zap.Duration("timeout", b.timeout),
		)
		return ZeroConfidence(content, "detector timeout"), nil
	}
}
