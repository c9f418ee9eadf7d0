package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ObjectStore is the subset of the S3 client the media pipeline needs.
type ObjectStore interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	UploadFile(ctx context.Context, key string, filePath string, contentType string) error
	DeleteObject(ctx context.Context, key string) error
	PublicURL(key string) string
}

// Asset describes an uploaded video and its derived thumbnail.
type Asset struct {
	URL          string
	Key          string
	ThumbnailURL string
	ThumbnailKey string
	Duration     int
}

var ErrUnsupportedType = errors.New("unsupported media type")

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

var videoExtensions = map[string]string{
	"video/mp4":        ".mp4",
	"video/webm":       ".webm",
	"video/quicktime":  ".mov",
	"video/x-matroska": ".mkv",
}

type Processor struct {
	store  ObjectStore
	logger *zap.Logger

	probe        func(ctx context.Context, path string) (float64, error)
	extractFrame func(ctx context.Context, inputPath, outputPath string) error
	newID        func() string
	retryBackoff time.Duration
}

func NewProcessor(store ObjectStore, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		store:        store,
		logger:       logger,
		probe:        probeDuration,
		extractFrame: extractFrame,
		newID:        func() string { return uuid.NewString() },
		retryBackoff: time.Second,
	}
}

// UploadVideo spools src to disk, probes its duration, stores it and a
// 640x360 thumbnail. Probe and thumbnail failures degrade to a zero
// duration and an empty thumbnail.
func (p *Processor) UploadVideo(ctx context.Context, userID string, src io.Reader, filename, contentType string) (*Asset, error) {
	ext, ok := videoExtensions[contentType]
	if !ok {
		ext = strings.ToLower(filepath.Ext(filename))
		if !strings.HasPrefix(contentType, "video/") || ext == "" {
			return nil, ErrUnsupportedType
		}
	}

	tmp, err := os.CreateTemp("", "streamify-upload-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("spool upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("spool upload: %w", err)
	}

	id := p.newID()
	asset := &Asset{Key: fmt.Sprintf("videos/%s/%s%s", userID, id, ext)}

	if seconds, err := p.probe(ctx, tmpPath); err != nil {
		p.logger.Warn("media: duration probe failed", zap.String("key", asset.Key), zap.Error(err))
	} else if seconds > 0 {
		asset.Duration = int(seconds)
	}

	if err := p.store.UploadFile(ctx, asset.Key, tmpPath, contentType); err != nil {
		return nil, err
	}
	asset.URL = p.store.PublicURL(asset.Key)

	thumbKey := fmt.Sprintf("thumbnails/%s/%s.jpg", userID, id)
	if err := p.uploadThumbnail(ctx, tmpPath, thumbKey); err != nil {
		p.logger.Warn("media: thumbnail extraction failed", zap.String("key", asset.Key), zap.Error(err))
	} else {
		asset.ThumbnailKey = thumbKey
		asset.ThumbnailURL = p.store.PublicURL(thumbKey)
	}

	return asset, nil
}

func (p *Processor) uploadThumbnail(ctx context.Context, videoPath, key string) error {
	tmp, err := os.CreateTemp("", "streamify-thumb-*.jpg")
	if err != nil {
		return fmt.Errorf("create temp thumbnail: %w", err)
	}
	thumbPath := tmp.Name()
	_ = tmp.Close()
	defer func() { _ = os.Remove(thumbPath) }()

	if err := p.extractFrame(ctx, videoPath, thumbPath); err != nil {
		return err
	}
	return p.store.UploadFile(ctx, key, thumbPath, "image/jpeg")
}

// UploadImage stores an avatar or thumbnail image under folder/userID.
func (p *Processor) UploadImage(ctx context.Context, folder, userID string, src io.Reader, size int64, contentType string) (url, key string, err error) {
	ext, ok := imageExtensions[contentType]
	if !ok {
		return "", "", ErrUnsupportedType
	}
	key = fmt.Sprintf("%s/%s/%s%s", folder, userID, p.newID(), ext)
	if err := p.store.Upload(ctx, key, src, size, contentType); err != nil {
		return "", "", err
	}
	return p.store.PublicURL(key), key, nil
}

// Delete removes keys with retries. Failures are logged, never returned.
func (p *Processor) Delete(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := p.deleteWithRetry(ctx, key, 3); err != nil {
			p.logger.Error("media: giving up on object delete", zap.String("key", key), zap.Error(err))
		}
	}
}

func (p *Processor) deleteWithRetry(ctx context.Context, key string, maxAttempts int) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := p.retryBackoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		lastErr = p.store.DeleteObject(ctx, key)
		if lastErr == nil {
			return nil
		}
		p.logger.Warn("media: delete attempt failed",
			zap.Int("attempt", attempt+1), zap.Int("max_attempts", maxAttempts),
			zap.String("key", key), zap.Error(lastErr))
	}
	return fmt.Errorf("all %d delete attempts failed for %s: %w", maxAttempts, key, lastErr)
}
