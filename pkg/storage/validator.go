package storage

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var (
	// ErrEmptyContent rejects zero byte uploads.
	ErrEmptyContent = errors.New("file content is empty")
	// ErrTooLarge rejects content above the backend limit.
	ErrTooLarge = errors.New("file exceeds maximum upload size")
	// ErrExtensionNotAllowed rejects extensions outside the allow-list.
	ErrExtensionNotAllowed = errors.New("file extension not allowed")
	// ErrMissingName rejects uploads without a logical name.
	ErrMissingName = errors.New("file name is required")
)

const sniffLength = 3072

// Validator checks uploads before any byte reaches a backend.
type Validator struct {
	maxSize int64
	allowed map[string]struct{}
}

// NewValidator builds a validator. An empty allow-list accepts every extension.
func NewValidator(maxSize int64, allowedExtensions []string) *Validator {
	allowed := make(map[string]struct{}, len(allowedExtensions))
	for _, ext := range allowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = struct{}{}
	}
	return &Validator{maxSize: maxSize, allowed: allowed}
}

// MaxSize returns the configured byte limit.
func (v *Validator) MaxSize() int64 { return v.maxSize }

// Payload is validated upload content ready to be handed to a backend.
type Payload struct {
	Name      string
	Extension string
	MimeType  string

	reader *limitedReader
}

// Read implements io.Reader. Reading past the limit fails with ErrTooLarge.
func (p *Payload) Read(b []byte) (int, error) { return p.reader.Read(b) }

// Err reports a limit violation observed while the payload was consumed.
func (p *Payload) Err() error { return p.reader.err }

// CheckName validates the logical name and returns its normalised extension.
func (v *Validator) CheckName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrMissingName
	}
	ext := strings.ToLower(filepath.Ext(name))
	if len(v.allowed) > 0 {
		if _, ok := v.allowed[ext]; !ok {
			return "", fmt.Errorf("%w: %q", ErrExtensionNotAllowed, ext)
		}
	}
	return ext, nil
}

// Prepare validates name and declared size, sniffs the MIME type and wraps r so that the real
// byte count is enforced while streaming. declaredSize may be -1 when unknown.
func (v *Validator) Prepare(name string, declaredSize int64, r io.Reader) (*Payload, error) {
	ext, err := v.CheckName(name)
	if err != nil {
		return nil, err
	}
	if declaredSize == 0 {
		return nil, ErrEmptyContent
	}
	if v.maxSize > 0 && declaredSize > v.maxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, declaredSize)
	}

	br := bufio.NewReaderSize(r, sniffLength)
	head, err := br.Peek(sniffLength)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(head) == 0 {
		return nil, ErrEmptyContent
	}

	return &Payload{
		Name:      strings.TrimSpace(name),
		Extension: ext,
		MimeType:  mimetype.Detect(head).String(),
		reader:    &limitedReader{r: br, max: v.maxSize},
	}, nil
}

// IsValidationError reports whether err was produced by upload validation.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrEmptyContent) || errors.Is(err, ErrTooLarge) ||
		errors.Is(err, ErrExtensionNotAllowed) || errors.Is(err, ErrMissingName)
}

type limitedReader struct {
	r    io.Reader
	max  int64
	read int64
	err  error
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.err != nil {
		return 0, l.err
	}
	n, err := l.r.Read(p)
	l.read += int64(n)
	if l.max > 0 && l.read > l.max {
		l.err = ErrTooLarge
		return 0, l.err
	}
	return n, err
}
