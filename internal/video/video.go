package video

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/streamify/streamify/internal/apperr"
	"github.com/streamify/streamify/internal/auth"
	"github.com/streamify/streamify/internal/httputil"
	"github.com/streamify/streamify/internal/media"
	"github.com/streamify/streamify/internal/validate"
)

const (
	defaultFeedLimit = 20
	maxFeedLimit     = 100
	multipartMemory  = 32 << 20
)

type updateRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

func parsePage(r *http.Request) (limit, offset int, err error) {
	limit = defaultFeedLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		limit, err = strconv.Atoi(s)
		if err != nil || limit < 1 {
			return 0, 0, apperr.InvalidRequest("limit must be a positive integer")
		}
		limit = min(limit, maxFeedLimit)
	}
	if s := r.URL.Query().Get("offset"); s != "" {
		offset, err = strconv.Atoi(s)
		if err != nil || offset < 0 {
			return 0, 0, apperr.InvalidRequest("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePage(r)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	videos, err := h.queryVideos(r.Context(),
		`SELECT `+videoColumns+`, `+likedBy(3)+`
		 FROM videos v JOIN users u ON u.id = v.user_id
		 ORDER BY v.created_at DESC, v.id
		 LIMIT $1 OFFSET $2`,
		limit, offset, nullableID(auth.UserIDFromContext(r.Context())),
	)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, videos)
}

func (h *Handler) Mine(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	videos, err := h.queryVideos(r.Context(),
		`SELECT `+videoColumns+`, `+likedBy(1)+`
		 FROM videos v JOIN users u ON u.id = v.user_id
		 WHERE v.user_id = $1
		 ORDER BY v.created_at DESC, v.id`,
		userID,
	)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, videos)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "id")
	if !validID(videoID) {
		httputil.WriteError(w, http.StatusNotFound, "video not found")
		return
	}

	v, err := h.loadVideo(r.Context(), videoID, auth.UserIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, v)
}

func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		httputil.WriteError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	title := strings.TrimSpace(r.FormValue("title"))
	description := strings.TrimSpace(r.FormValue("description"))
	if title == "" {
		httputil.WriteError(w, http.StatusBadRequest, "title is required")
		return
	}
	if msg := validate.FirstError(validate.Title(title), validate.Description(description)); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	file, header, err := r.FormFile("video")
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "video file is required")
		return
	}
	defer func() { _ = file.Close() }()

	asset, err := h.media.UploadVideo(r.Context(), userID, file, header.Filename, header.Header.Get("Content-Type"))
	if err != nil {
		if errors.Is(err, media.ErrUnsupportedType) {
			httputil.WriteError(w, http.StatusBadRequest, "unsupported video format")
			return
		}
		h.logger.Error("video: upload to media store failed", zap.String("user_id", userID), zap.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to store video")
		return
	}

	var videoID string
	err = h.db.QueryRow(r.Context(),
		`INSERT INTO videos (user_id, title, description, url, file_key, thumbnail, thumbnail_key, duration)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		userID, title, description, asset.URL, asset.Key, asset.ThumbnailURL, asset.ThumbnailKey, asset.Duration,
	).Scan(&videoID)
	if err != nil {
		h.logger.Error("video: insert failed", zap.String("user_id", userID), zap.Error(err))
		go h.media.Delete(context.WithoutCancel(r.Context()), asset.Key, asset.ThumbnailKey)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create video")
		return
	}

	v, err := h.loadVideo(r.Context(), videoID, userID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, v)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	videoID := chi.URLParam(r, "id")

	var req updateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if req.Title != nil {
		t := strings.TrimSpace(*req.Title)
		if t == "" {
			httputil.WriteError(w, http.StatusBadRequest, "title cannot be empty")
			return
		}
		req.Title = &t
		if msg := validate.Title(t); msg != "" {
			httputil.WriteError(w, http.StatusBadRequest, msg)
			return
		}
	}
	if req.Description != nil {
		if msg := validate.Description(*req.Description); msg != "" {
			httputil.WriteError(w, http.StatusBadRequest, msg)
			return
		}
	}

	if _, err := h.ownedVideo(r.Context(), videoID, userID); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	if _, err := h.db.Exec(r.Context(),
		`UPDATE videos SET title = COALESCE($2, title), description = COALESCE($3, description), updated_at = now()
		 WHERE id = $1`,
		videoID, req.Title, req.Description,
	); err != nil {
		httputil.WriteAppError(w, apperr.FromDB(err, "video not found"))
		return
	}

	v, err := h.loadVideo(r.Context(), videoID, userID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, v)
}

func (h *Handler) UpdateThumbnail(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	videoID := chi.URLParam(r, "id")

	owned, err := h.ownedVideo(r.Context(), videoID, userID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("thumbnail")
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "thumbnail file is required")
		return
	}
	defer func() { _ = file.Close() }()

	url, key, err := h.media.UploadImage(r.Context(), "thumbnails", userID, file, header.Size, header.Header.Get("Content-Type"))
	if err != nil {
		if errors.Is(err, media.ErrUnsupportedType) {
			httputil.WriteError(w, http.StatusBadRequest, "thumbnail must be a JPEG, PNG, WebP or GIF image")
			return
		}
		h.logger.Error("video: thumbnail upload failed", zap.String("video_id", videoID), zap.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to store thumbnail")
		return
	}

	if _, err := h.db.Exec(r.Context(),
		`UPDATE videos SET thumbnail = $2, thumbnail_key = $3, updated_at = now() WHERE id = $1`,
		videoID, url, key,
	); err != nil {
		go h.media.Delete(context.WithoutCancel(r.Context()), key)
		httputil.WriteAppError(w, apperr.FromDB(err, "video not found"))
		return
	}
	if owned.thumbnailKey != "" {
		go h.media.Delete(context.WithoutCancel(r.Context()), owned.thumbnailKey)
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{"thumbnail": url})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	videoID := chi.URLParam(r, "id")

	owned, err := h.ownedVideo(r.Context(), videoID, userID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	tag, err := h.db.Exec(r.Context(), `DELETE FROM videos WHERE id = $1 AND user_id = $2`, videoID, userID)
	if err != nil {
		httputil.WriteAppError(w, apperr.FromDB(err, "video not found"))
		return
	}
	if tag.RowsAffected() == 0 {
		httputil.WriteError(w, http.StatusNotFound, "video not found")
		return
	}

	go h.media.Delete(context.WithoutCancel(r.Context()), owned.fileKey, owned.thumbnailKey)
	w.WriteHeader(http.StatusNoContent)
}
