package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/filevault-api/pkg/config"
)

// NewMirror builds the cloud mirror configured by MIRROR_PROVIDER. It returns nil when mirroring
// is disabled.
func NewMirror(ctx context.Context, cfg config.MirrorConfig, logger *zap.Logger) (Backend, error) {
	opts := MirrorOptions{
		Timeout:         cfg.Timeout,
		Retries:         cfg.LinkRetries,
		StreamThreshold: cfg.StreamThreshold,
		LinkTTL:         cfg.LinkTTL,
		Logger:          logger,
	}
	switch cfg.Provider {
	case "", config.MirrorProviderNone:
		return nil, nil
	case config.MirrorProviderDrive:
		return NewDriveStore(ctx, DriveConfig{
			CredentialsFile: cfg.CredentialsFile,
			FolderID:        cfg.FolderID,
			Options:         opts,
		})
	case config.MirrorProviderS3:
		return NewS3Store(ctx, S3Config{
			Bucket:       cfg.Bucket,
			Region:       cfg.Region,
			Endpoint:     cfg.Endpoint,
			AccessKey:    cfg.AccessKey,
			SecretKey:    cfg.SecretKey,
			UsePathStyle: cfg.UsePathStyle,
			Options:      opts,
		})
	default:
		return nil, fmt.Errorf("unknown mirror provider %q", cfg.Provider)
	}
}
