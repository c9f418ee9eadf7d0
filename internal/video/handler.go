package video

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/streamify/streamify/internal/apperr"
	"github.com/streamify/streamify/internal/database"
	"github.com/streamify/streamify/internal/media"
)

// MediaProcessor stores uploaded files and removes them again.
type MediaProcessor interface {
	UploadVideo(ctx context.Context, userID string, src io.Reader, filename, contentType string) (*media.Asset, error)
	UploadImage(ctx context.Context, folder, userID string, src io.Reader, size int64, contentType string) (url, key string, err error)
	Delete(ctx context.Context, keys ...string)
}

type Handler struct {
	db             database.DBTX
	media          MediaProcessor
	frontendURL    string
	maxUploadBytes int64
	logger         *zap.Logger
}

func NewHandler(db database.DBTX, m MediaProcessor, frontendURL string, maxUploadBytes int64, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		db:             db,
		media:          m,
		frontendURL:    strings.TrimRight(frontendURL, "/"),
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

type uploaderResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

type videoResponse struct {
	ID             string           `json:"id"`
	Title          string           `json:"title"`
	Description    string           `json:"description"`
	URL            string           `json:"url"`
	Thumbnail      string           `json:"thumbnail"`
	Duration       int              `json:"duration"`
	Views          int64            `json:"views"`
	UserViews      int64            `json:"userViews"`
	GuestViews     int64            `json:"guestViews"`
	Shares         int64            `json:"shares"`
	LikesCount     int64            `json:"likesCount"`
	LikedByUser    bool             `json:"likedByUser"`
	TotalWatchTime float64          `json:"totalWatchTime"`
	UserWatchTime  float64          `json:"userWatchTime"`
	GuestWatchTime float64          `json:"guestWatchTime"`
	AvgWatchTime   float64          `json:"avgWatchTime"`
	Uploader       uploaderResponse `json:"uploader"`
	CreatedAt      string           `json:"createdAt"`
}

// videoColumns is the projection scanned by scanVideo except for the final
// likedByUser column, which each query appends with likedBy.
const videoColumns = `v.id, v.title, v.description, v.url, v.thumbnail, v.duration,
	v.views, v.user_views, v.guest_views, v.shares,
	v.total_watch_time, v.user_watch_time, v.guest_watch_time, v.avg_watch_time,
	v.created_at, u.id, u.name, u.avatar,
	(SELECT count(*) FROM video_likes l WHERE l.video_id = v.id)`

func likedBy(param int) string {
	return fmt.Sprintf("EXISTS (SELECT 1 FROM video_likes l WHERE l.video_id = v.id AND l.user_id = $%d)", param)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVideo(row rowScanner) (videoResponse, error) {
	var v videoResponse
	var createdAt time.Time
	err := row.Scan(
		&v.ID, &v.Title, &v.Description, &v.URL, &v.Thumbnail, &v.Duration,
		&v.Views, &v.UserViews, &v.GuestViews, &v.Shares,
		&v.TotalWatchTime, &v.UserWatchTime, &v.GuestWatchTime, &v.AvgWatchTime,
		&createdAt, &v.Uploader.ID, &v.Uploader.Name, &v.Uploader.Avatar,
		&v.LikesCount, &v.LikedByUser,
	)
	if err != nil {
		return videoResponse{}, err
	}
	v.CreatedAt = createdAt.UTC().Format(time.RFC3339)
	return v, nil
}

func (h *Handler) loadVideo(ctx context.Context, videoID, viewerID string) (videoResponse, error) {
	v, err := scanVideo(h.db.QueryRow(ctx,
		`SELECT `+videoColumns+`, `+likedBy(2)+`
		 FROM videos v JOIN users u ON u.id = v.user_id
		 WHERE v.id = $1`,
		videoID, nullableID(viewerID),
	))
	if err != nil {
		return videoResponse{}, apperr.FromDB(err, "video not found")
	}
	return v, nil
}

func (h *Handler) queryVideos(ctx context.Context, sql string, args ...any) ([]videoResponse, error) {
	rows, err := h.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, apperr.FromDB(err, "video not found")
	}
	defer rows.Close()

	videos := make([]videoResponse, 0)
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, apperr.Internal("failed to read videos", err)
		}
		videos = append(videos, v)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("failed to read videos", err)
	}
	return videos, nil
}

type videoOwnership struct {
	ownerID      string
	fileKey      string
	thumbnailKey string
}

// ownedVideo loads the storage keys of videoID and checks userID owns it.
func (h *Handler) ownedVideo(ctx context.Context, videoID, userID string) (videoOwnership, error) {
	if !validID(videoID) {
		return videoOwnership{}, apperr.NotFound("video not found")
	}
	var o videoOwnership
	err := h.db.QueryRow(ctx,
		`SELECT user_id, file_key, thumbnail_key FROM videos WHERE id = $1`, videoID,
	).Scan(&o.ownerID, &o.fileKey, &o.thumbnailKey)
	if err != nil {
		return videoOwnership{}, apperr.FromDB(err, "video not found")
	}
	if o.ownerID != userID {
		return videoOwnership{}, apperr.Forbidden("only the owner can modify this video")
	}
	return o, nil
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// nullableID turns an empty viewer id into NULL so guest lookups match nothing.
func nullableID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

