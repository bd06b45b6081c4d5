package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const defaultSnapshotTTL = 10 * time.Minute

// snapshotStore is the Redis-backed snapshot storage behind CacheService.
type snapshotStore interface {
	Load(ctx context.Context, key string, dest interface{}) (bool, error)
	Store(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Evict(ctx context.Context, glob string) (int, error)
}

// CacheService serves reference-data snapshots. Redis failures on reads and writes degrade to
// misses; only eviction failures are reported to the caller.
type CacheService struct {
	store   snapshotStore
	metrics *MetricsService
	ttl     time.Duration
	logger  *zap.Logger
	on      bool
}

// NewCacheService constructs a cache service. A non-positive ttl falls back to ten minutes.
func NewCacheService(store snapshotStore, metrics *MetricsService, ttl time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{store: store, metrics: metrics, ttl: ttl, logger: logger, on: enabled}
}

// Enabled reports whether snapshots are served.
func (s *CacheService) Enabled() bool {
	return s != nil && s.on && s.store != nil
}

// Get fills dest from the snapshot at key and reports whether it was a hit.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) bool {
	if !s.Enabled() {
		return false
	}
	began := time.Now()
	hit, err := s.store.Load(ctx, key, dest)
	if err != nil {
		s.logger.Warn("snapshot load failed", zap.String("key", key), zap.Error(err))
		hit = false
	}
	s.metrics.RecordCacheOperation(hit, time.Since(began))
	return hit
}

// Set stores a snapshot. ttl <= 0 uses the service default.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if !s.Enabled() {
		return
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	began := time.Now()
	err := s.store.Store(ctx, key, value, ttl)
	s.metrics.ObserveCacheWrite(time.Since(began))
	if err != nil {
		s.logger.Warn("snapshot store failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate evicts snapshots matching glob.
func (s *CacheService) Invalidate(ctx context.Context, glob string) error {
	if !s.Enabled() {
		return nil
	}
	removed, err := s.store.Evict(ctx, glob)
	if err != nil {
		s.logger.Warn("snapshot eviction failed", zap.String("glob", glob), zap.Int("removed", removed), zap.Error(err))
		return err
	}
	s.logger.Debug("snapshots evicted", zap.String("glob", glob), zap.Int("removed", removed))
	return nil
}
