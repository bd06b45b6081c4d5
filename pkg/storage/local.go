package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// LocalStore persists objects as flat files under a root directory.
type LocalStore struct {
	root      string
	signer    *SignedURLSigner
	serveBase string
}

// NewLocalStore ensures the root directory exists. serveBase is the public route prefix used to
// build download links, e.g. "/api/v1/files/serve".
func NewLocalStore(root string, signer *SignedURLSigner, serveBase string) (*LocalStore, error) {
	if root == "" {
		root = "./uploads"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &LocalStore{root: root, signer: signer, serveBase: strings.TrimRight(serveBase, "/")}, nil
}

// Kind implements Backend.
func (s *LocalStore) Kind() Kind { return KindLocal }

// Write streams r into a temp file, syncs it and renames it into place.
func (s *LocalStore) Write(ctx context.Context, r io.Reader, logicalName string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	name := PhysicalName(logicalName)

	tmp, err := os.CreateTemp(s.root, ".upload-*")
	if err != nil {
		return Object{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	size, err := io.Copy(tmp, r)
	if err != nil {
		_ = tmp.Close()
		return Object{}, fmt.Errorf("write object: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return Object{}, fmt.Errorf("sync object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Object{}, fmt.Errorf("close object: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	if err := os.Rename(tmpName, filepath.Join(s.root, name)); err != nil {
		return Object{}, fmt.Errorf("commit object: %w", err)
	}
	committed = true
	return Object{Locator: name, Size: size}, nil
}

// Open returns a read handle for the object.
func (s *LocalStore) Open(_ context.Context, locator string) (io.ReadCloser, error) {
	p, err := s.resolve(locator)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrObjectMissing, locator)
		}
		return nil, fmt.Errorf("open object: %w", err)
	}
	return file, nil
}

// Stat reports object size and modification time.
func (s *LocalStore) Stat(_ context.Context, locator string) (ObjectInfo, error) {
	p, err := s.resolve(locator)
	if err != nil {
		return ObjectInfo{}, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ObjectInfo{}, fmt.Errorf("%w: %s", ErrObjectMissing, locator)
		}
		return ObjectInfo{}, fmt.Errorf("stat object: %w", err)
	}
	return ObjectInfo{Locator: locator, Size: info.Size(), ModifiedAt: info.ModTime()}, nil
}

// Delete removes an object. Missing objects are not an error.
func (s *LocalStore) Delete(_ context.Context, locator string) error {
	p, err := s.resolve(locator)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// DownloadLink returns a signed serve URL for the object.
func (s *LocalStore) DownloadLink(ctx context.Context, locator string) (string, error) {
	if _, err := s.Stat(ctx, locator); err != nil {
		return "", err
	}
	if s.signer == nil {
		return "", fmt.Errorf("signer not configured")
	}
	token, _, err := s.signer.Generate(locator)
	if err != nil {
		return "", fmt.Errorf("sign link: %w", err)
	}
	return s.serveBase + "/" + url.PathEscape(locator) + "?token=" + url.QueryEscape(token), nil
}

// VerifyToken validates a serve token issued by DownloadLink.
func (s *LocalStore) VerifyToken(token, locator string) error {
	if s.signer == nil {
		return ErrTokenInvalid
	}
	return s.signer.Verify(token, locator)
}

// Walk lists every committed object in the store.
func (s *LocalStore) Walk(fn func(ObjectInfo) error) error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("read storage root: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		if err := fn(ObjectInfo{Locator: entry.Name(), Size: info.Size(), ModifiedAt: info.ModTime()}); err != nil {
			return err
		}
	}
	return nil
}

// Locators are flat names; anything carrying a directory component is rejected.
func (s *LocalStore) resolve(locator string) (string, error) {
	if locator == "" || locator == "." || locator == ".." ||
		strings.ContainsAny(locator, `/\`) || path.Base(locator) != locator {
		return "", fmt.Errorf("%w: %q", ErrInvalidLocator, locator)
	}
	return filepath.Join(s.root, locator), nil
}
