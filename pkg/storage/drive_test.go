package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/filevault-api/pkg/errors"
)

type fakeDrive struct {
	mu          sync.Mutex
	files       map[string]*DriveFile
	content     map[string]string
	shared      map[string]bool
	shareErrs   int
	shareCalls  int
	createDelay time.Duration
	lastChunk   int
	neverLink   bool
}

func newFakeDrive() *fakeDrive {
	return &fakeDrive{
		files:   map[string]*DriveFile{},
		content: map[string]string{},
		shared:  map[string]bool{},
	}
}

func (f *fakeDrive) Create(ctx context.Context, name, _ string, media io.Reader, chunkSize int) (*DriveFile, error) {
	if f.createDelay > 0 {
		select {
		case <-time.After(f.createDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	data, err := io.ReadAll(media)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastChunk = chunkSize
	id := "drive-" + name
	f.files[id] = &DriveFile{ID: id, Size: int64(len(data))}
	f.content[id] = string(data)
	return f.files[id], nil
}

func (f *fakeDrive) Get(_ context.Context, id string) (*DriveFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[id]
	if !ok {
		return nil, ErrObjectMissing
	}
	out := *file
	if f.shared[id] && !f.neverLink {
		out.ViewLink = "https://drive.example/view/" + id
	}
	return &out, nil
}

func (f *fakeDrive) Download(_ context.Context, id string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.content[id]
	if !ok {
		return nil, ErrObjectMissing
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

func (f *fakeDrive) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[id]; !ok {
		return ErrObjectMissing
	}
	delete(f.files, id)
	delete(f.content, id)
	return nil
}

func (f *fakeDrive) ShareWithAnyone(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shareCalls++
	if f.shareErrs > 0 {
		f.shareErrs--
		return errors.New("rate limited")
	}
	f.shared[id] = true
	return nil
}

func testMirrorOptions() MirrorOptions {
	return MirrorOptions{Timeout: time.Second, Retries: 3, StreamThreshold: 5 << 20}
}

func TestDriveStoreRoundTrip(t *testing.T) {
	api := newFakeDrive()
	store := newDriveStore(api, "folder", testMirrorOptions())
	ctx := context.Background()

	obj, err := store.Write(ctx, strings.NewReader("mirror me"), "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, int64(9), obj.Size)
	assert.Equal(t, 5<<20, api.lastChunk)

	rc, err := store.Open(ctx, obj.Locator)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "mirror me", string(data))

	info, err := store.Stat(ctx, obj.Locator)
	require.NoError(t, err)
	assert.Equal(t, int64(9), info.Size)

	require.NoError(t, store.Delete(ctx, obj.Locator))
	require.NoError(t, store.Delete(ctx, obj.Locator))
	_, err = store.Open(ctx, obj.Locator)
	assert.ErrorIs(t, err, ErrObjectMissing)
}

func TestDriveStoreLinkSharesJustInTime(t *testing.T) {
	api := newFakeDrive()
	api.shareErrs = 1
	store := newDriveStore(api, "", testMirrorOptions())
	ctx := context.Background()

	obj, err := store.Write(ctx, strings.NewReader("x"), "a.txt")
	require.NoError(t, err)

	link, err := store.DownloadLink(ctx, obj.Locator)
	require.NoError(t, err)
	assert.Equal(t, "https://drive.example/view/"+obj.Locator, link)
	assert.Equal(t, 2, api.shareCalls)
}

func TestDriveStoreLinkGivesUpAfterRetries(t *testing.T) {
	api := newFakeDrive()
	api.neverLink = true
	store := newDriveStore(api, "", testMirrorOptions())
	ctx := context.Background()

	obj, err := store.Write(ctx, strings.NewReader("x"), "a.txt")
	require.NoError(t, err)

	_, err = store.DownloadLink(ctx, obj.Locator)
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrUpstreamFailure.Code))
	assert.Equal(t, 4, api.shareCalls, "one attempt plus three retries")
}

func TestDriveStoreWriteTimeout(t *testing.T) {
	api := newFakeDrive()
	api.createDelay = 200 * time.Millisecond
	opts := testMirrorOptions()
	opts.Timeout = 20 * time.Millisecond
	store := newDriveStore(api, "", opts)

	_, err := store.Write(context.Background(), strings.NewReader("x"), "a.txt")
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrUpstreamTimeout.Code))
}
