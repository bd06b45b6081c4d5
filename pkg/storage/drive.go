package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const driveFileFields = "id, name, size, modifiedTime, webViewLink, webContentLink"

// DriveFile is the subset of Drive file metadata the store relies on.
type DriveFile struct {
	ID           string
	Size         int64
	ModifiedTime string
	ViewLink     string
	DownloadLink string
}

// driveAPI is the narrow surface of the Drive v3 client used by DriveStore.
type driveAPI interface {
	Create(ctx context.Context, name, folderID string, media io.Reader, chunkSize int) (*DriveFile, error)
	Get(ctx context.Context, id string) (*DriveFile, error)
	Download(ctx context.Context, id string) (io.ReadCloser, error)
	Delete(ctx context.Context, id string) error
	ShareWithAnyone(ctx context.Context, id string) error
}

// DriveStore mirrors objects into a Google Drive folder. Locators are Drive file ids.
type DriveStore struct {
	api      driveAPI
	folderID string
	opts     MirrorOptions
}

// DriveConfig configures NewDriveStore.
type DriveConfig struct {
	CredentialsFile string
	FolderID        string
	Options         MirrorOptions
}

// NewDriveStore authenticates with a service account credential file.
func NewDriveStore(ctx context.Context, cfg DriveConfig) (*DriveStore, error) {
	raw, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read drive credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, raw, drive.DriveScope)
	if err != nil {
		return nil, fmt.Errorf("parse drive credentials: %w", err)
	}
	svc, err := drive.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("create drive client: %w", err)
	}
	return newDriveStore(&driveClient{svc: svc}, cfg.FolderID, cfg.Options), nil
}

func newDriveStore(api driveAPI, folderID string, opts MirrorOptions) *DriveStore {
	return &DriveStore{api: api, folderID: folderID, opts: opts.withDefaults()}
}

// Kind implements Backend.
func (s *DriveStore) Kind() Kind { return KindCloud }

// Write uploads the content once. Content above the stream threshold is sent in resumable chunks.
func (s *DriveStore) Write(ctx context.Context, r io.Reader, logicalName string) (Object, error) {
	counter := &countingReader{r: r}
	var created *DriveFile
	err := s.opts.call(ctx, "upload", func(ctx context.Context) error {
		file, err := s.api.Create(ctx, PhysicalName(logicalName), s.folderID, counter, s.chunkSize())
		if err != nil {
			return err
		}
		created = file
		return nil
	})
	if err != nil {
		return Object{}, err
	}
	size := counter.n
	if created.Size > 0 {
		size = created.Size
	}
	return Object{Locator: created.ID, Size: size}, nil
}

// Open streams the object content.
func (s *DriveStore) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	if locator == "" {
		return nil, ErrInvalidLocator
	}
	return s.opts.open(ctx, "download", func(ctx context.Context) (io.ReadCloser, error) {
		return s.api.Download(ctx, locator)
	})
}

// Stat fetches object metadata.
func (s *DriveStore) Stat(ctx context.Context, locator string) (ObjectInfo, error) {
	if locator == "" {
		return ObjectInfo{}, ErrInvalidLocator
	}
	var file *DriveFile
	err := s.opts.retry(ctx, "stat", func(ctx context.Context) error {
		f, err := s.api.Get(ctx, locator)
		if err != nil {
			return err
		}
		file = f
		return nil
	})
	if err != nil {
		return ObjectInfo{}, err
	}
	return ObjectInfo{Locator: file.ID, Size: file.Size}, nil
}

// Delete removes the object. Already missing objects are not an error.
func (s *DriveStore) Delete(ctx context.Context, locator string) error {
	if locator == "" {
		return ErrInvalidLocator
	}
	err := s.opts.call(ctx, "delete", func(ctx context.Context) error {
		return s.api.Delete(ctx, locator)
	})
	if errors.Is(err, ErrObjectMissing) {
		return nil
	}
	return err
}

// DownloadLink returns the provider link. When none is exposed the file is shared with
// anyone:reader and re-read, bounded by the configured retry count.
func (s *DriveStore) DownloadLink(ctx context.Context, locator string) (string, error) {
	if locator == "" {
		return "", ErrInvalidLocator
	}
	var link string
	err := s.opts.retry(ctx, "link", func(ctx context.Context) error {
		file, err := s.api.Get(ctx, locator)
		if err != nil {
			return err
		}
		if link = firstNonEmpty(file.DownloadLink, file.ViewLink); link != "" {
			return nil
		}
		if err := s.api.ShareWithAnyone(ctx, locator); err != nil {
			return err
		}
		file, err = s.api.Get(ctx, locator)
		if err != nil {
			return err
		}
		if link = firstNonEmpty(file.DownloadLink, file.ViewLink); link == "" {
			return errors.New("drive returned no link after sharing")
		}
		return nil
	})
	if err != nil {
		s.opts.Logger.Error("drive link unavailable", zap.String("file_id", locator), zap.Error(err))
		return "", err
	}
	return link, nil
}

func (s *DriveStore) chunkSize() int {
	if s.opts.StreamThreshold <= 0 {
		return googleapi.DefaultUploadChunkSize
	}
	return int(s.opts.StreamThreshold)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

type driveClient struct {
	svc *drive.Service
}

func (c *driveClient) Create(ctx context.Context, name, folderID string, media io.Reader, chunkSize int) (*DriveFile, error) {
	meta := &drive.File{Name: name}
	if folderID != "" {
		meta.Parents = []string{folderID}
	}
	file, err := c.svc.Files.Create(meta).
		Media(media, googleapi.ChunkSize(chunkSize)).
		Fields(driveFileFields).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapDriveError(err)
	}
	return toDriveFile(file), nil
}

func (c *driveClient) Get(ctx context.Context, id string) (*DriveFile, error) {
	file, err := c.svc.Files.Get(id).
		Fields(driveFileFields).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapDriveError(err)
	}
	return toDriveFile(file), nil
}

func (c *driveClient) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	resp, err := c.svc.Files.Get(id).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, mapDriveError(err)
	}
	return resp.Body, nil
}

func (c *driveClient) Delete(ctx context.Context, id string) error {
	return mapDriveError(c.svc.Files.Delete(id).SupportsAllDrives(true).Context(ctx).Do())
}

func (c *driveClient) ShareWithAnyone(ctx context.Context, id string) error {
	_, err := c.svc.Permissions.Create(id, &drive.Permission{Type: "anyone", Role: "reader"}).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	return mapDriveError(err)
}

func toDriveFile(f *drive.File) *DriveFile {
	return &DriveFile{
		ID:           f.Id,
		Size:         f.Size,
		ModifiedTime: f.ModifiedTime,
		ViewLink:     f.WebViewLink,
		DownloadLink: f.WebContentLink,
	}
}

func mapDriveError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return fmt.Errorf("%w: drive: %s", ErrObjectMissing, strconv.Quote(apiErr.Message))
	}
	return err
}
