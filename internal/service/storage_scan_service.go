package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/filevault-api/internal/models"
	"github.com/noah-isme/filevault-api/pkg/storage"
)

const scanPageSize = 500

type locatorLister interface {
	ListLocators(ctx context.Context, afterID int64, limit int) ([]models.FileLocatorRef, error)
}

type objectWalker interface {
	Walk(fn func(storage.ObjectInfo) error) error
}

// Inconsistency kinds reported by the scan.
const (
	InconsistencyMissing      = "missing"
	InconsistencySizeMismatch = "size_mismatch"
	InconsistencyNoBackend    = "no_backend"
)

// Inconsistency is a record whose stored bytes do not match its metadata.
type Inconsistency struct {
	FileID  int64        `json:"file_id"`
	Backend storage.Kind `json:"storage_backend"`
	Locator string       `json:"locator"`
	Kind    string       `json:"kind"`
	Detail  string       `json:"detail,omitempty"`
}

// ScanReport summarises one consistency scan.
type ScanReport struct {
	StartedAt       time.Time       `json:"started_at"`
	Duration        time.Duration   `json:"duration"`
	Checked         int             `json:"checked"`
	Inconsistencies []Inconsistency `json:"inconsistencies"`
	Orphans         []string        `json:"orphans"`
}

// StorageScanner compares file records with the bytes held by their backends. It only reports;
// nothing is repaired or deleted.
type StorageScanner struct {
	files       locatorLister
	backends    map[storage.Kind]storage.Backend
	local       objectWalker
	concurrency int
	metrics     *MetricsService
	logger      *zap.Logger

	mu      sync.Mutex
	running bool
}

// NewStorageScanner builds a scanner. mirror may be nil; local is walked for orphaned objects
// when it implements Walk.
func NewStorageScanner(files locatorLister, local, mirror storage.Backend, concurrency int, metrics *MetricsService, logger *zap.Logger) *StorageScanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	backends := map[storage.Kind]storage.Backend{}
	if local != nil {
		backends[storage.KindLocal] = withMetrics(local, metrics)
	}
	if mirror != nil {
		backends[storage.KindCloud] = withMetrics(mirror, metrics)
	}
	walker, _ := local.(objectWalker)
	return &StorageScanner{
		files:       files,
		backends:    backends,
		local:       walker,
		concurrency: concurrency,
		metrics:     metrics,
		logger:      logger,
	}
}

// ErrScanRunning is returned when a scan is requested while another is in progress.
var ErrScanRunning = errors.New("storage scan already running")

// Run scans every file record. Stat calls fan out over a bounded errgroup per page.
func (s *StorageScanner) Run(ctx context.Context) (*ScanReport, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrScanRunning
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	report := &ScanReport{StartedAt: time.Now().UTC(), Inconsistencies: []Inconsistency{}, Orphans: []string{}}
	referenced := map[string]struct{}{}
	var mu sync.Mutex

	var afterID int64
	for {
		refs, err := s.files.ListLocators(ctx, afterID, scanPageSize)
		if err != nil {
			return nil, fmt.Errorf("list locators after %d: %w", afterID, err)
		}
		if len(refs) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.concurrency)
		for _, ref := range refs {
			ref := ref
			if ref.StorageBackend == storage.KindLocal {
				referenced[ref.Locator()] = struct{}{}
			}
			g.Go(func() error {
				issue, err := s.check(gctx, ref)
				if err != nil {
					return err
				}
				mu.Lock()
				report.Checked++
				if issue != nil {
					report.Inconsistencies = append(report.Inconsistencies, *issue)
				}
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		afterID = refs[len(refs)-1].ID
		if len(refs) < scanPageSize {
			break
		}
	}

	if s.local != nil {
		err := s.local.Walk(func(info storage.ObjectInfo) error {
			if _, ok := referenced[info.Locator]; !ok {
				report.Orphans = append(report.Orphans, info.Locator)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk local store: %w", err)
		}
	}

	report.Duration = time.Since(report.StartedAt)
	s.metrics.SetInconsistentRecords(len(report.Inconsistencies))
	for _, issue := range report.Inconsistencies {
		s.logger.Error("storage inconsistency",
			zap.Int64("file_id", issue.FileID),
			zap.String("backend", string(issue.Backend)),
			zap.String("locator", issue.Locator),
			zap.String("kind", issue.Kind),
			zap.String("detail", issue.Detail),
		)
	}
	s.logger.Info("storage scan finished",
		zap.Int("checked", report.Checked),
		zap.Int("inconsistent", len(report.Inconsistencies)),
		zap.Int("orphans", len(report.Orphans)),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// check returns an issue for ref, or an error when the backend could not be asked at all.
func (s *StorageScanner) check(ctx context.Context, ref models.FileLocatorRef) (*Inconsistency, error) {
	issue := &Inconsistency{FileID: ref.ID, Backend: ref.StorageBackend, Locator: ref.Locator()}
	backend, ok := s.backends[ref.StorageBackend]
	if !ok {
		issue.Kind = InconsistencyNoBackend
		return issue, nil
	}
	if issue.Locator == "" {
		issue.Kind = InconsistencyMissing
		issue.Detail = "record has no locator"
		return issue, nil
	}
	info, err := backend.Stat(ctx, issue.Locator)
	switch {
	case errors.Is(err, storage.ErrObjectMissing), errors.Is(err, storage.ErrInvalidLocator):
		issue.Kind = InconsistencyMissing
		return issue, nil
	case err != nil:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("storage scan stat failed", zap.Int64("file_id", ref.ID), zap.Error(err))
		return nil, nil
	}
	if info.Size != ref.SizeBytes {
		issue.Kind = InconsistencySizeMismatch
		issue.Detail = fmt.Sprintf("record %d bytes, stored %d bytes", ref.SizeBytes, info.Size)
		return issue, nil
	}
	return nil, nil
}

// Schedule runs the scan on a cron expression until ctx is done. The returned cron is already started.
func (s *StorageScanner) Schedule(ctx context.Context, expr string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(expr, func() {
		if _, err := s.Run(ctx); err != nil {
			if errors.Is(err, ErrScanRunning) {
				s.logger.Warn("skipping storage scan, previous run still active")
				return
			}
			s.logger.Error("storage scan failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule storage scan %q: %w", expr, err)
	}
	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return c, nil
}
