package media

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu         sync.Mutex
	uploaded   map[string]string
	deleted    []string
	uploadErr  error
	deleteErrs []error
}

func newFakeStore() *fakeStore {
	return &fakeStore{uploaded: map[string]string{}}
}

func (s *fakeStore) Upload(_ context.Context, key string, body io.Reader, _ int64, contentType string) error {
	if s.uploadErr != nil {
		return s.uploadErr
	}
	if _, err := io.Copy(io.Discard, body); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploaded[key] = contentType
	return nil
}

func (s *fakeStore) UploadFile(_ context.Context, key string, filePath string, contentType string) error {
	if s.uploadErr != nil {
		return s.uploadErr
	}
	if _, err := os.Stat(filePath); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploaded[key] = contentType
	return nil
}

func (s *fakeStore) DeleteObject(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, key)
	if len(s.deleteErrs) > 0 {
		err := s.deleteErrs[0]
		s.deleteErrs = s.deleteErrs[1:]
		return err
	}
	return nil
}

func (s *fakeStore) PublicURL(key string) string {
	return "https://cdn.test/media/" + key
}

func newTestProcessor(store *fakeStore) *Processor {
	p := NewProcessor(store, nil)
	p.newID = func() string { return "fixed-id" }
	p.retryBackoff = time.Millisecond
	p.probe = func(context.Context, string) (float64, error) { return 12.9, nil }
	p.extractFrame = func(_ context.Context, _, out string) error {
		return os.WriteFile(out, []byte("jpeg"), 0o600)
	}
	return p
}

func TestUploadVideo_StoresVideoAndThumbnail(t *testing.T) {
	store := newFakeStore()
	p := newTestProcessor(store)

	asset, err := p.UploadVideo(context.Background(), "u1", strings.NewReader("video-bytes"), "clip.mp4", "video/mp4")
	require.NoError(t, err)

	assert.Equal(t, "videos/u1/fixed-id.mp4", asset.Key)
	assert.Equal(t, "https://cdn.test/media/videos/u1/fixed-id.mp4", asset.URL)
	assert.Equal(t, "thumbnails/u1/fixed-id.jpg", asset.ThumbnailKey)
	assert.Equal(t, 12, asset.Duration, "duration is floored to whole seconds")
	assert.Equal(t, "image/jpeg", store.uploaded["thumbnails/u1/fixed-id.jpg"])
}

func TestUploadVideo_ProbeFailureDefaultsToZero(t *testing.T) {
	store := newFakeStore()
	p := newTestProcessor(store)
	p.probe = func(context.Context, string) (float64, error) { return 0, errors.New("no ffprobe") }

	asset, err := p.UploadVideo(context.Background(), "u1", strings.NewReader("x"), "clip.webm", "video/webm")
	require.NoError(t, err)
	assert.Equal(t, 0, asset.Duration)
	assert.Equal(t, "videos/u1/fixed-id.webm", asset.Key)
}

func TestUploadVideo_ThumbnailFailureLeavesItEmpty(t *testing.T) {
	store := newFakeStore()
	p := newTestProcessor(store)
	p.extractFrame = func(context.Context, string, string) error { return errors.New("ffmpeg missing") }

	asset, err := p.UploadVideo(context.Background(), "u1", strings.NewReader("x"), "clip.mp4", "video/mp4")
	require.NoError(t, err)
	assert.Empty(t, asset.ThumbnailURL)
	assert.Empty(t, asset.ThumbnailKey)
	assert.NotEmpty(t, asset.URL)
}

func TestUploadVideo_RejectsNonVideo(t *testing.T) {
	p := newTestProcessor(newFakeStore())

	_, err := p.UploadVideo(context.Background(), "u1", strings.NewReader("x"), "notes.txt", "text/plain")
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestUploadVideo_StoreFailure(t *testing.T) {
	store := newFakeStore()
	store.uploadErr = errors.New("s3 unavailable")
	p := newTestProcessor(store)

	_, err := p.UploadVideo(context.Background(), "u1", strings.NewReader("x"), "clip.mp4", "video/mp4")
	assert.Error(t, err)
}

func TestUploadImage(t *testing.T) {
	store := newFakeStore()
	p := newTestProcessor(store)

	url, key, err := p.UploadImage(context.Background(), "avatars", "u1", strings.NewReader("png"), 3, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "avatars/u1/fixed-id.png", key)
	assert.Equal(t, "https://cdn.test/media/avatars/u1/fixed-id.png", url)

	_, _, err = p.UploadImage(context.Background(), "avatars", "u1", strings.NewReader("x"), 1, "application/pdf")
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestDelete_RetriesThenSucceeds(t *testing.T) {
	store := newFakeStore()
	store.deleteErrs = []error{errors.New("timeout"), errors.New("timeout")}
	p := newTestProcessor(store)

	p.Delete(context.Background(), "videos/u1/a.mp4", "")

	assert.Equal(t, []string{"videos/u1/a.mp4", "videos/u1/a.mp4", "videos/u1/a.mp4"}, store.deleted)
}

func TestDeleteWithRetry_GivesUp(t *testing.T) {
	store := newFakeStore()
	store.deleteErrs = []error{errors.New("a"), errors.New("b"), errors.New("c")}
	p := newTestProcessor(store)

	err := p.deleteWithRetry(context.Background(), "k", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 3 delete attempts failed")
}
