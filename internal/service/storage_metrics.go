package service

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/noah-isme/filevault-api/pkg/storage"
)

// meteredBackend reports every backend call to the metrics service.
type meteredBackend struct {
	storage.Backend
	metrics *MetricsService
}

func withMetrics(backend storage.Backend, metrics *MetricsService) storage.Backend {
	if backend == nil || metrics == nil {
		return backend
	}
	return &meteredBackend{Backend: backend, metrics: metrics}
}

func (b *meteredBackend) observe(op string, start time.Time, err error) {
	outcome := OutcomeOK
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrObjectMissing):
		outcome = OutcomeMissing
	default:
		outcome = OutcomeError
	}
	b.metrics.ObserveStorage(string(b.Kind()), op, outcome, time.Since(start))
}

func (b *meteredBackend) Write(ctx context.Context, r io.Reader, logicalName string) (storage.Object, error) {
	start := time.Now()
	obj, err := b.Backend.Write(ctx, r, logicalName)
	b.observe("write", start, err)
	return obj, err
}

func (b *meteredBackend) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := b.Backend.Open(ctx, locator)
	b.observe("open", start, err)
	return rc, err
}

func (b *meteredBackend) Stat(ctx context.Context, locator string) (storage.ObjectInfo, error) {
	start := time.Now()
	info, err := b.Backend.Stat(ctx, locator)
	b.observe("stat", start, err)
	return info, err
}

func (b *meteredBackend) Delete(ctx context.Context, locator string) error {
	start := time.Now()
	err := b.Backend.Delete(ctx, locator)
	b.observe("delete", start, err)
	return err
}

func (b *meteredBackend) DownloadLink(ctx context.Context, locator string) (string, error) {
	start := time.Now()
	link, err := b.Backend.DownloadLink(ctx, locator)
	b.observe("link", start, err)
	return link, err
}
