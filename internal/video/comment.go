package video

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/streamify/streamify/internal/apperr"
	"github.com/streamify/streamify/internal/auth"
	"github.com/streamify/streamify/internal/httputil"
	"github.com/streamify/streamify/internal/validate"
)

type postCommentRequest struct {
	Text string `json:"text"`
}

type commentResponse struct {
	ID        string           `json:"id"`
	VideoID   string           `json:"videoId"`
	Text      string           `json:"text"`
	Author    uploaderResponse `json:"author"`
	CreatedAt string           `json:"createdAt"`
}

func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoId")
	if !validID(videoID) {
		httputil.WriteError(w, http.StatusNotFound, "video not found")
		return
	}

	rows, err := h.db.Query(r.Context(),
		`SELECT c.id, c.video_id, c.text, c.created_at, u.id, u.name, u.avatar
		 FROM comments c JOIN users u ON u.id = c.user_id
		 WHERE c.video_id = $1
		 ORDER BY c.created_at DESC, c.id`,
		videoID,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "could not list comments")
		return
	}
	defer rows.Close()

	comments := make([]commentResponse, 0)
	for rows.Next() {
		var c commentResponse
		var createdAt time.Time
		if err := rows.Scan(&c.ID, &c.VideoID, &c.Text, &createdAt, &c.Author.ID, &c.Author.Name, &c.Author.Avatar); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "could not list comments")
			return
		}
		c.CreatedAt = createdAt.UTC().Format(time.RFC3339)
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "could not list comments")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, comments)
}

func (h *Handler) PostComment(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	videoID := chi.URLParam(r, "videoId")
	if !validID(videoID) {
		httputil.WriteError(w, http.StatusNotFound, "video not found")
		return
	}

	var req postCommentRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		httputil.WriteError(w, http.StatusBadRequest, "comment text is required")
		return
	}
	if msg := validate.Comment(req.Text); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	c := commentResponse{VideoID: videoID, Text: req.Text}
	var createdAt time.Time
	err := h.db.QueryRow(r.Context(),
		`WITH c AS (
			INSERT INTO comments (video_id, user_id, text) VALUES ($1, $2, $3)
			RETURNING id, user_id, created_at
		 )
		 SELECT c.id, c.created_at, u.id, u.name, u.avatar FROM c JOIN users u ON u.id = c.user_id`,
		videoID, userID, req.Text,
	).Scan(&c.ID, &createdAt, &c.Author.ID, &c.Author.Name, &c.Author.Avatar)
	if err != nil {
		httputil.WriteAppError(w, apperr.FromDB(err, "video not found"))
		return
	}
	c.CreatedAt = createdAt.UTC().Format(time.RFC3339)

	httputil.WriteJSON(w, http.StatusCreated, c)
}

// DeleteComment removes a comment. Only its author may delete it.
func (h *Handler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	commentID := chi.URLParam(r, "id")
	if !validID(commentID) {
		httputil.WriteError(w, http.StatusNotFound, "comment not found")
		return
	}

	var authorID string
	if err := h.db.QueryRow(r.Context(),
		`SELECT user_id FROM comments WHERE id = $1`, commentID,
	).Scan(&authorID); err != nil {
		httputil.WriteAppError(w, apperr.FromDB(err, "comment not found"))
		return
	}
	if authorID != userID {
		httputil.WriteError(w, http.StatusForbidden, "you can only delete your own comments")
		return
	}

	if _, err := h.db.Exec(r.Context(), `DELETE FROM comments WHERE id = $1 AND user_id = $2`, commentID, userID); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "could not delete comment")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
