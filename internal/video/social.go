package video

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/streamify/streamify/internal/apperr"
	"github.com/streamify/streamify/internal/auth"
	"github.com/streamify/streamify/internal/database"
	"github.com/streamify/streamify/internal/httputil"
)

type likeResponse struct {
	LikesCount  int64 `json:"likesCount"`
	LikedByUser bool  `json:"likedByUser"`
}

type shareResponse struct {
	ShareLink string `json:"shareLink"`
	Shares    int64  `json:"shares"`
}

// ToggleLike adds the caller's like, or removes it if already present.
func (h *Handler) ToggleLike(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	videoID := chi.URLParam(r, "id")
	if !validID(videoID) {
		httputil.WriteError(w, http.StatusNotFound, "video not found")
		return
	}

	var resp likeResponse
	err := database.WithTx(r.Context(), h.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(r.Context(),
			`DELETE FROM video_likes WHERE video_id = $1 AND user_id = $2`, videoID, userID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			if _, err := tx.Exec(r.Context(),
				`INSERT INTO video_likes (video_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				videoID, userID,
			); err != nil {
				return err
			}
			resp.LikedByUser = true
		}
		return tx.QueryRow(r.Context(),
			`SELECT count(*) FROM video_likes WHERE video_id = $1`, videoID,
		).Scan(&resp.LikesCount)
	})
	if err != nil {
		httputil.WriteAppError(w, apperr.FromDB(err, "video not found"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) Share(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "id")
	if !validID(videoID) {
		httputil.WriteError(w, http.StatusNotFound, "video not found")
		return
	}

	var resp shareResponse
	err := h.db.QueryRow(r.Context(),
		`UPDATE videos SET shares = shares + 1 WHERE id = $1 RETURNING shares`, videoID,
	).Scan(&resp.Shares)
	if err != nil {
		httputil.WriteAppError(w, apperr.FromDB(err, "video not found"))
		return
	}
	resp.ShareLink = h.frontendURL + "/video/" + videoID
	httputil.WriteJSON(w, http.StatusOK, resp)
}
