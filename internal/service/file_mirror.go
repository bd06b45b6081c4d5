package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/filevault-api/internal/models"
	appErrors "github.com/noah-isme/filevault-api/pkg/errors"
	"github.com/noah-isme/filevault-api/pkg/jobs"
	"github.com/noah-isme/filevault-api/pkg/storage"
)

// MirrorJobType identifies background moves of local files to the cloud mirror.
const MirrorJobType = "file.mirror"

// Mirror job outcomes reported to metrics.
const (
	MirrorOutcomeQueued    = "queued"
	MirrorOutcomeCompleted = "completed"
	MirrorOutcomeFailed    = "failed"
	MirrorOutcomeSkipped   = "skipped"
)

// MirrorJobPayload is carried by a mirror job.
type MirrorJobPayload struct {
	FileID  int64
	ActorID int64
	Meta    models.RequestMeta
}

// Mirror queues a move of a local file to the cloud mirror. The request returns once the job is
// accepted; RunMirrorJob performs the move.
func (s *FileService) Mirror(ctx context.Context, fileID int64, actor *models.Identity, meta models.RequestMeta) (*models.MirrorJobStatus, error) {
	entry := newAuditEntry(models.AuditActionMirror, actor, &fileID, meta, "mirror queued")
	status, err := s.queueMirror(ctx, fileID, actor, meta)
	if status != nil {
		entry.Detail = "mirror queued as job " + status.JobID
	}
	if err := auditOutcome(ctx, s.audit, s.logger, entry, err); err != nil {
		return nil, err
	}
	return status, nil
}

func (s *FileService) queueMirror(ctx context.Context, fileID int64, actor *models.Identity, meta models.RequestMeta) (*models.MirrorJobStatus, error) {
	if s.mirror == nil || s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "cloud storage is not configured")
	}
	file, err := s.loadActive(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, models.CapabilityEdit, file, actor); err != nil {
		return nil, err
	}
	if file.StorageBackend == storage.KindCloud {
		return nil, appErrors.Clone(appErrors.ErrConflict, "file is already stored in the cloud")
	}
	jobID, err := s.queue.Enqueue(jobs.Job{
		Type:    MirrorJobType,
		Payload: MirrorJobPayload{FileID: file.ID, ActorID: actor.UserID, Meta: meta},
	})
	if err != nil {
		if errors.Is(err, jobs.ErrQueueFull) {
			return nil, appErrors.Clone(appErrors.ErrUpstreamFailure, "mirror queue is full, try again later")
		}
		return nil, appErrors.Internal(err, "failed to queue mirror job")
	}
	s.metrics.RecordMirrorJob(MirrorOutcomeQueued)
	return &models.MirrorJobStatus{JobID: jobID, FileID: file.ID, Status: "queued"}, nil
}

// RunMirrorJob copies a local file to the mirror, repoints its record and removes the local copy.
// The record is only repointed once the mirror holds the full object; a failed repoint removes the
// mirrored copy again.
func (s *FileService) RunMirrorJob(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(MirrorJobPayload)
	if !ok {
		return fmt.Errorf("unexpected mirror job payload %T", job.Payload)
	}
	logger := s.logger.With(zap.String("job_id", job.ID), zap.Int64("file_id", payload.FileID), zap.Int("attempt", job.Attempt))

	file, err := s.files.FindByID(ctx, payload.FileID)
	if err != nil {
		if isNotFound(err) {
			logger.Warn("mirror job skipped, file no longer exists")
			s.metrics.RecordMirrorJob(MirrorOutcomeSkipped)
			return nil
		}
		return err
	}
	if !file.IsActive || file.StorageBackend != storage.KindLocal {
		logger.Info("mirror job skipped", zap.Bool("active", file.IsActive), zap.String("backend", string(file.StorageBackend)))
		s.metrics.RecordMirrorJob(MirrorOutcomeSkipped)
		return nil
	}

	body, err := s.local.Open(ctx, file.Locator())
	if err != nil {
		if errors.Is(err, storage.ErrObjectMissing) {
			logger.Error("storage inconsistency, local object missing", zap.String("locator", file.Locator()))
			s.metrics.RecordMirrorJob(MirrorOutcomeFailed)
			return nil
		}
		return err
	}
	// Writes are attempted once: a retried write could leave an orphaned remote object, so every
	// failure from here on is permanent.
	obj, err := s.mirror.Write(ctx, body, file.FileName)
	body.Close()
	if err != nil {
		return jobs.Permanent(err)
	}
	if obj.Size != file.SizeBytes {
		s.discard(ctx, s.mirror, obj.Locator)
		return jobs.Permanent(fmt.Errorf("mirrored %d bytes, expected %d", obj.Size, file.SizeBytes))
	}

	localLocator := file.Locator()
	expected := file.Version
	now := s.now().UTC()
	actorID := payload.ActorID
	file.SetLocator(storage.KindCloud, obj.Locator)
	file.IsSyncedToCloud = true
	file.ModifiedBy = &actorID
	file.ModifiedAt = &now
	if err := s.files.Update(ctx, file, expected); err != nil {
		s.discard(ctx, s.mirror, obj.Locator)
		return jobs.Permanent(err)
	}
	s.discard(ctx, s.local, localLocator)

	entry := &models.AuditLog{
		UserID:    &actorID,
		Action:    models.AuditActionMirror,
		FileID:    &file.ID,
		IPAddress: payload.Meta.IPAddress,
		UserAgent: payload.Meta.UserAgent,
		Detail:    "mirrored to cloud",
		CreatedAt: now,
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, entry); err != nil {
			logger.Error("mirror completed without audit entry", zap.Error(err))
		}
	}
	s.metrics.RecordMirrorJob(MirrorOutcomeCompleted)
	logger.Info("file mirrored", zap.String("locator", obj.Locator), zap.Duration("queued_for", time.Since(job.Enqueued)))
	return nil
}

// MirrorJobFailed is the queue failure hook for mirror jobs that exhausted their retries or failed
// at or after the remote write.
func (s *FileService) MirrorJobFailed(_ context.Context, job jobs.Job, err error) {
	s.metrics.RecordMirrorJob(MirrorOutcomeFailed)
	s.logger.Error("mirror job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
}
