package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hpungsan/scoper/internal/metrics"
)

// WithTimeout bounds each call to d. A non-positive d leaves calls unbounded.
func WithTimeout(d time.Duration) Middleware {
	return func(next Gateway) Gateway {
		if d <= 0 {
			return next
		}
		return Func(func(ctx context.Context, prompt string) (string, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next.CompleteText(ctx, prompt)
		})
	}
}

// RequireText turns empty or whitespace-only completions into a KindEmpty error.
func RequireText(provider string) Middleware {
	return func(next Gateway) Gateway {
		return Func(func(ctx context.Context, prompt string) (string, error) {
			text, err := next.CompleteText(ctx, prompt)
			if err != nil {
				return "", err
			}
			if strings.TrimSpace(text) == "" {
				return "", &Error{Kind: KindEmpty, Provider: provider, Err: ErrEmptyResponse}
			}
			return text, nil
		})
	}
}

// WithMetrics records count and latency per purpose.
func WithMetrics(rec *metrics.Recorder) Middleware {
	return func(next Gateway) Gateway {
		if rec == nil {
			return next
		}
		return Func(func(ctx context.Context, prompt string) (string, error) {
			start := time.Now()
			text, err := next.CompleteText(ctx, prompt)
			rec.ObserveGateway(string(PurposeFrom(ctx)), err, time.Since(start))
			return text, err
		})
	}
}

// WithLogging logs each call at debug and failures at warn.
func WithLogging(logger *zap.Logger) Middleware {
	return func(next Gateway) Gateway {
		if logger == nil {
			return next
		}
		return Func(func(ctx context.Context, prompt string) (string, error) {
			start := time.Now()
			callID := uuid.NewString()
			text, err := next.CompleteText(ctx, prompt)

			fields := []zap.Field{
				zap.String("call_id", callID),
				zap.String("purpose", string(PurposeFrom(ctx))),
				zap.Int("prompt_chars", len(prompt)),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Warn("gateway call failed", append(fields, zap.String("kind", string(KindOf(err))), zap.Error(err))...)
				return text, err
			}
			logger.Debug("gateway call", append(fields, zap.Int("response_chars", len(text)))...)
			return text, nil
		})
	}
}
