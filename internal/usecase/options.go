package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Option configures optional collaborators of a use case.
type Option func(*options)

type options struct {
	metrics Metrics
	retrier Retrier
	logger  zerolog.Logger
	now     func() time.Time
}

func buildOptions(opts []Option) options {
	o := options{
		metrics: NoopMetrics{},
		retrier: noRetry{},
		logger:  zerolog.Nop(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithRetrier sets the retrier used on read paths.
func WithRetrier(r Retrier) Option {
	return func(o *options) {
		if r != nil {
			o.retrier = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

type noRetry struct{}

func (noRetry) Retry(_ context.Context, operation func() error) error { return operation() }

// NoopMetrics discards observations.
type NoopMetrics struct{}

func (NoopMetrics) GroupPosted(int)                    {}
func (NoopMetrics) PostRejected(string)                {}
func (NoopMetrics) LotOpened(string)                   {}
func (NoopMetrics) LotClosed(string, float64)          {}
func (NoopMetrics) MappingVersion(int64)               {}
func (NoopMetrics) ReconEntry(string)                  {}
func (NoopMetrics) SyncFinished(string, time.Duration) {}

// retryRead runs a read through the retrier and returns its value.
func retryRead[T any](ctx context.Context, r Retrier, read func() (T, error)) (T, error) {
	var out T
	err := r.Retry(ctx, func() error {
		v, err := read()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
