package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/filevault-api/pkg/errors"
)

// MirrorOptions bounds every call made to a cloud mirror provider.
type MirrorOptions struct {
	Timeout         time.Duration
	Retries         int
	StreamThreshold int64
	LinkTTL         time.Duration
	Logger          *zap.Logger
}

func (o MirrorOptions) withDefaults() MirrorOptions {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Retries <= 0 {
		o.Retries = 3
	}
	if o.LinkTTL <= 0 {
		o.LinkTTL = time.Hour
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// call runs fn once under the mirror timeout.
func (o MirrorOptions) call(ctx context.Context, op string, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()
	if err := fn(callCtx); err != nil {
		return upstreamError(op, err)
	}
	return nil
}

// retry runs fn under the mirror timeout, retrying with exponential backoff up to Retries times.
// Missing objects and validation failures are permanent.
func (o MirrorOptions) retry(ctx context.Context, op string, fn func(context.Context) error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(o.backoffPolicy(), uint64(o.Retries)),
		ctx,
	)
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, o.Timeout)
		defer cancel()
		err := fn(callCtx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrObjectMissing) || errors.Is(err, ErrInvalidLocator) {
			return backoff.Permanent(err)
		}
		o.Logger.Warn("mirror call failed",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return err
	}, policy)
	if err != nil {
		return upstreamError(op, err)
	}
	return nil
}

func (o MirrorOptions) backoffPolicy() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	policy.MaxElapsedTime = 0
	return policy
}

// open establishes a streaming read. The timeout covers the request until the body is
// available; reading the body is bounded only by the caller's context.
func (o MirrorOptions) open(ctx context.Context, op string, fn func(context.Context) (io.ReadCloser, error)) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := o.retry(ctx, op, func(context.Context) error {
		streamCtx, cancel := context.WithCancel(ctx)
		timedOut := make(chan struct{})
		timer := time.AfterFunc(o.Timeout, func() {
			close(timedOut)
			cancel()
		})
		rc, err := fn(streamCtx)
		if !timer.Stop() {
			cancel()
			if rc != nil {
				_ = rc.Close()
			}
			<-timedOut
			return context.DeadlineExceeded
		}
		if err != nil {
			cancel()
			return err
		}
		body = &cancelReadCloser{ReadCloser: rc, cancel: cancel}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// upstreamError maps provider failures to typed errors. Missing objects keep their sentinel.
func upstreamError(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, ErrObjectMissing) || errors.Is(err, ErrInvalidLocator) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return appErrors.Wrap(err, appErrors.ErrUpstreamTimeout.Code, appErrors.ErrUpstreamTimeout.Status,
			fmt.Sprintf("cloud mirror %s timed out", op))
	}
	return appErrors.Wrap(err, appErrors.ErrUpstreamFailure.Code, appErrors.ErrUpstreamFailure.Status,
		fmt.Sprintf("cloud mirror %s failed", op))
}

// countingReader records the number of bytes consumed.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
