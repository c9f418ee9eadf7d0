package video

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/streamify/streamify/internal/apperr"
	"github.com/streamify/streamify/internal/auth"
	"github.com/streamify/streamify/internal/engagement"
	"github.com/streamify/streamify/internal/httputil"
)

type breakdownEntry struct {
	Name  string `json:"name"`
	Views int64  `json:"views"`
}

type analyticsResponse struct {
	VideoID        string  `json:"videoId"`
	Views          int64   `json:"views"`
	UserViews      int64   `json:"userViews"`
	GuestViews     int64   `json:"guestViews"`
	Shares         int64   `json:"shares"`
	LikesCount     int64   `json:"likesCount"`
	TotalWatchTime float64 `json:"totalWatchTime"`
	UserWatchTime  float64 `json:"userWatchTime"`
	GuestWatchTime float64 `json:"guestWatchTime"`
	AvgWatchTime   float64 `json:"avgWatchTime"`
	RosterSize     int     `json:"rosterSize"`
	RosterLimit    int     `json:"rosterLimit"`
	RosterRetain   int     `json:"rosterRetain"`

	Browsers  []breakdownEntry `json:"browsers"`
	Devices   []breakdownEntry `json:"devices"`
	Countries []breakdownEntry `json:"countries"`

	// Views come from deduplicated view events and watch time from
	// independent progress reports; the two are not reconciled.
	ViewsAndWatchTimeIndependent bool `json:"viewsAndWatchTimeIndependent"`
}

func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	videoID := chi.URLParam(r, "id")
	if !validID(videoID) {
		httputil.WriteError(w, http.StatusNotFound, "video not found")
		return
	}

	resp := analyticsResponse{
		VideoID:                      videoID,
		RosterLimit:                  engagement.RosterLimit,
		RosterRetain:                 engagement.RosterRetain,
		Browsers:                     []breakdownEntry{},
		Devices:                      []breakdownEntry{},
		Countries:                    []breakdownEntry{},
		ViewsAndWatchTimeIndependent: true,
	}

	var ownerID string
	err := h.db.QueryRow(r.Context(),
		`SELECT user_id, views, user_views, guest_views, shares,
		        (SELECT count(*) FROM video_likes l WHERE l.video_id = v.id),
		        total_watch_time, user_watch_time, guest_watch_time, avg_watch_time, roster_size
		 FROM videos v WHERE id = $1`,
		videoID,
	).Scan(&ownerID, &resp.Views, &resp.UserViews, &resp.GuestViews, &resp.Shares, &resp.LikesCount,
		&resp.TotalWatchTime, &resp.UserWatchTime, &resp.GuestWatchTime, &resp.AvgWatchTime, &resp.RosterSize)
	if err != nil {
		httputil.WriteAppError(w, apperr.FromDB(err, "video not found"))
		return
	}
	if ownerID != userID {
		httputil.WriteError(w, http.StatusForbidden, "only the owner can view analytics")
		return
	}

	rows, err := h.db.Query(r.Context(),
		`SELECT dimension, value, views FROM video_view_breakdown
		 WHERE video_id = $1
		 ORDER BY dimension, views DESC, value`,
		videoID,
	)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load analytics")
		return
	}
	defer rows.Close()

	for rows.Next() {
		var dimension string
		var entry breakdownEntry
		if err := rows.Scan(&dimension, &entry.Name, &entry.Views); err != nil {
			httputil.WriteError(w, http.StatusInternalServerError, "failed to load analytics")
			return
		}
		switch dimension {
		case "browser":
			resp.Browsers = append(resp.Browsers, entry)
		case "device":
			resp.Devices = append(resp.Devices, entry)
		case "country":
			resp.Countries = append(resp.Countries, entry)
		}
	}
	if err := rows.Err(); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load analytics")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}
