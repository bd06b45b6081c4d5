package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// s3API is the subset of the S3 client used by S3Store.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// s3Uploader sends large bodies as a multipart upload.
type s3Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, optFns ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type s3Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Config configures NewS3Store.
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	Options      MirrorOptions
}

// S3Store mirrors objects into an S3 compatible bucket. Locators are object keys.
type S3Store struct {
	client    s3API
	uploader  s3Uploader
	presigner s3Presigner
	bucket    string
	opts      MirrorOptions
}

// NewS3Store loads AWS configuration, using static keys when provided.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	partSize := streamThreshold(cfg.Options)
	if partSize < manager.MinUploadPartSize {
		partSize = manager.MinUploadPartSize
	}
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = partSize
	})
	return newS3Store(client, uploader, s3.NewPresignClient(client), cfg.Bucket, cfg.Options), nil
}

func newS3Store(client s3API, uploader s3Uploader, presigner s3Presigner, bucket string, opts MirrorOptions) *S3Store {
	return &S3Store{client: client, uploader: uploader, presigner: presigner, bucket: bucket, opts: opts.withDefaults()}
}

func streamThreshold(opts MirrorOptions) int64 {
	if opts.StreamThreshold <= 0 {
		return manager.DefaultUploadPartSize
	}
	return opts.StreamThreshold
}

// Kind implements Backend.
func (s *S3Store) Kind() Kind { return KindCloud }

// Write uploads the content once. Bodies below the stream threshold are buffered and sent with a
// single PutObject; larger bodies are streamed as a multipart upload in threshold sized parts.
func (s *S3Store) Write(ctx context.Context, r io.Reader, logicalName string) (Object, error) {
	threshold := streamThreshold(s.opts)
	var head bytes.Buffer
	n, err := io.CopyN(&head, r, threshold)
	if err != nil && !errors.Is(err, io.EOF) {
		return Object{}, fmt.Errorf("read content: %w", err)
	}
	key := s.objectKey(logicalName)
	metadata := map[string]string{"logical-name": filepath.Base(logicalName)}

	if n < threshold {
		err = s.opts.call(ctx, "upload", func(ctx context.Context) error {
			_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
				Bucket:        aws.String(s.bucket),
				Key:           aws.String(key),
				Body:          bytes.NewReader(head.Bytes()),
				ContentLength: aws.Int64(n),
				Metadata:      metadata,
			})
			return err
		})
		if err != nil {
			return Object{}, err
		}
		return Object{Locator: key, Size: n}, nil
	}

	counter := &countingReader{r: io.MultiReader(&head, r)}
	err = s.opts.call(ctx, "upload", func(ctx context.Context) error {
		_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(key),
			Body:     counter,
			Metadata: metadata,
		})
		return err
	})
	if err != nil {
		return Object{}, err
	}
	return Object{Locator: key, Size: counter.n}, nil
}

// Open streams the object body.
func (s *S3Store) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	if locator == "" {
		return nil, ErrInvalidLocator
	}
	return s.opts.open(ctx, "download", func(ctx context.Context) (io.ReadCloser, error) {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(locator),
		})
		if err != nil {
			return nil, mapS3Error(err, locator)
		}
		return out.Body, nil
	})
}

// Stat issues a HEAD request for the object.
func (s *S3Store) Stat(ctx context.Context, locator string) (ObjectInfo, error) {
	if locator == "" {
		return ObjectInfo{}, ErrInvalidLocator
	}
	info := ObjectInfo{Locator: locator}
	err := s.opts.retry(ctx, "stat", func(ctx context.Context) error {
		out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(locator),
		})
		if err != nil {
			return mapS3Error(err, locator)
		}
		info.Size = aws.ToInt64(out.ContentLength)
		info.ModifiedAt = aws.ToTime(out.LastModified)
		return nil
	})
	if err != nil {
		return ObjectInfo{}, err
	}
	return info, nil
}

// Delete removes the object. S3 deletes are idempotent.
func (s *S3Store) Delete(ctx context.Context, locator string) error {
	if locator == "" {
		return ErrInvalidLocator
	}
	err := s.opts.call(ctx, "delete", func(ctx context.Context) error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(locator),
		})
		return mapS3Error(err, locator)
	})
	if errors.Is(err, ErrObjectMissing) {
		return nil
	}
	return err
}

// DownloadLink presigns a GET for the object after confirming it exists.
func (s *S3Store) DownloadLink(ctx context.Context, locator string) (string, error) {
	if _, err := s.Stat(ctx, locator); err != nil {
		return "", err
	}
	var link string
	err := s.opts.retry(ctx, "link", func(ctx context.Context) error {
		req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(locator),
		}, s3.WithPresignExpires(s.opts.LinkTTL))
		if err != nil {
			return err
		}
		link = req.URL
		return nil
	})
	if err != nil {
		return "", err
	}
	return link, nil
}

func (s *S3Store) objectKey(logicalName string) string {
	ext := sanitizeExt(strings.ToLower(filepath.Ext(logicalName)))
	return "files/" + uuid.NewString() + ext
}

func mapS3Error(err error, key string) error {
	if err == nil {
		return nil
	}
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%w: s3: %s", ErrObjectMissing, key)
	}
	return err
}
