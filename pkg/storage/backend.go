package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"
)

// Kind identifies the physical store that holds a file's bytes.
type Kind string

const (
	// KindLocal stores bytes on the server filesystem.
	KindLocal Kind = "local"
	// KindCloud stores bytes in the configured cloud mirror.
	KindCloud Kind = "cloud"
)

// Valid reports whether the kind is a known backend.
func (k Kind) Valid() bool {
	return k == KindLocal || k == KindCloud
}

var (
	// ErrObjectMissing signals that a locator no longer resolves to stored bytes.
	ErrObjectMissing = errors.New("storage object missing")
	// ErrInvalidLocator is returned for locators that escape the store namespace.
	ErrInvalidLocator = errors.New("invalid storage locator")
)

// Object describes bytes persisted by a backend.
type Object struct {
	Locator string
	Size    int64
}

// ObjectInfo is returned by Stat.
type ObjectInfo struct {
	Locator    string
	Size       int64
	ModifiedAt time.Time
}

// Backend abstracts byte storage. Locators are opaque to callers and are only meaningful to the
// backend that produced them.
type Backend interface {
	Kind() Kind
	Write(ctx context.Context, r io.Reader, logicalName string) (Object, error)
	Open(ctx context.Context, locator string) (io.ReadCloser, error)
	Stat(ctx context.Context, locator string) (ObjectInfo, error)
	Delete(ctx context.Context, locator string) error
	DownloadLink(ctx context.Context, locator string) (string, error)
}

const maxStemLength = 64

// PhysicalName derives a collision resistant object name from the logical file name.
func PhysicalName(logicalName string) string {
	ext := strings.ToLower(filepath.Ext(logicalName))
	stem := sanitizeStem(strings.TrimSuffix(filepath.Base(logicalName), filepath.Ext(logicalName)))
	return randomHex(8) + "_" + stem + sanitizeExt(ext)
}

func sanitizeStem(stem string) string {
	var b strings.Builder
	for _, r := range stem {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		if b.Len() >= maxStemLength {
			break
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "file"
	}
	return out
}

func sanitizeExt(ext string) string {
	if ext == "" {
		return ""
	}
	var b strings.Builder
	b.WriteByte('.')
	for _, r := range strings.TrimPrefix(ext, ".") {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 1 {
		return ""
	}
	return b.String()
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return strings.ReplaceAll(time.Now().UTC().Format("20060102150405.000000000"), ".", "")
	}
	return hex.EncodeToString(buf)
}
