// Package history serves the per-user watch history. Progress itself is
// written by the engagement service when watch time is reported; this
// package only adds, lists and removes entries.
package history

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/streamify/streamify/internal/apperr"
	"github.com/streamify/streamify/internal/auth"
	"github.com/streamify/streamify/internal/database"
	"github.com/streamify/streamify/internal/httputil"
)

const DefaultThumbnail = "/assets/default-thumbnail.jpg"

type Handler struct {
	db     database.DBTX
	logger *zap.Logger
}

func NewHandler(db database.DBTX, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{db: db, logger: logger}
}

type entryResponse struct {
	ID             string  `json:"id"`
	VideoID        string  `json:"videoId"`
	Title          string  `json:"title"`
	URL            string  `json:"url"`
	Thumbnail      string  `json:"thumbnail"`
	WatchedSeconds float64 `json:"watchedSeconds"`
	TotalDuration  int     `json:"totalDuration"`
	WatchedAt      string  `json:"watchedAt"`
}

type addResponse struct {
	ID             string  `json:"id"`
	VideoID        string  `json:"videoId"`
	WatchedSeconds float64 `json:"watchedSeconds"`
	TotalDuration  int     `json:"totalDuration"`
	WatchedAt      string  `json:"watchedAt"`
}

// Add records that the caller opened a video. Existing progress is kept;
// only the duration snapshot and watchedAt are refreshed.
func (h *Handler) Add(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	videoID := chi.URLParam(r, "videoId")
	if !validID(videoID) {
		httputil.WriteError(w, http.StatusNotFound, "video not found")
		return
	}

	resp := addResponse{VideoID: videoID}
	var watchedAt time.Time
	err := h.db.QueryRow(r.Context(),
		`INSERT INTO watch_history (user_id, video_id, total_duration)
		 SELECT $1, v.id, v.duration FROM videos v WHERE v.id = $2
		 ON CONFLICT (user_id, video_id) DO UPDATE
		   SET total_duration = EXCLUDED.total_duration, watched_at = now()
		 RETURNING id, watched_seconds, total_duration, watched_at`,
		userID, videoID,
	).Scan(&resp.ID, &resp.WatchedSeconds, &resp.TotalDuration, &watchedAt)
	if err != nil {
		httputil.WriteAppError(w, apperr.FromDB(err, "video not found"))
		return
	}
	resp.WatchedAt = watchedAt.UTC().Format(time.RFC3339)

	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	rows, err := h.db.Query(r.Context(),
		`SELECT h.id, h.video_id, v.title, v.url, v.thumbnail, h.watched_seconds, h.total_duration, h.watched_at
		 FROM watch_history h JOIN videos v ON v.id = h.video_id
		 WHERE h.user_id = $1
		 ORDER BY h.watched_at DESC, h.id`,
		userID,
	)
	if err != nil {
		h.logger.Error("history: list failed", zap.String("user_id", userID), zap.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "could not load history")
		return
	}
	defer rows.Close()

	entries := make([]entryResponse, 0)
	for rows.Next() {
		var e entryResponse
		var watchedAt time.Time
		if err := rows.Scan(&e.ID, &e.VideoID, &e.Title, &e.URL, &e.Thumbnail, &e.WatchedSeconds, &e.TotalDuration, &watchedAt); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "could not load history")
			return
		}
		if e.Thumbnail == "" {
			e.Thumbnail = DefaultThumbnail
		}
		e.WatchedAt = watchedAt.UTC().Format(time.RFC3339)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "could not load history")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, entries)
}

func (h *Handler) DeleteOne(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	entryID := chi.URLParam(r, "id")
	if !validID(entryID) {
		httputil.WriteError(w, http.StatusNotFound, "history entry not found")
		return
	}

	tag, err := h.db.Exec(r.Context(),
		`DELETE FROM watch_history WHERE id = $1 AND user_id = $2`, entryID, userID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "could not delete history entry")
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "history entry not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	tag, err := h.db.Exec(r.Context(), `DELETE FROM watch_history WHERE user_id = $1`, userID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "could not clear history")
		return
	}
	h.logger.Info("history: cleared", zap.String("user_id", userID), zap.Int64("entries", tag.RowsAffected()))
	w.WriteHeader(http.StatusNoContent)
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
