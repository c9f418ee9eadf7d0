package engagement

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/streamify/streamify/internal/apperr"
	"github.com/streamify/streamify/internal/auth"
	"github.com/streamify/streamify/internal/httputil"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type watchTimeRequest struct {
	SecondsWatched *seconds `json:"secondsWatched"`
}

// seconds accepts a JSON number or a numeric string such as "12.5".
type seconds float64

func (s *seconds) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return err
		}
		*s = seconds(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = seconds(v)
	return nil
}

func (h *Handler) RegisterView(w http.ResponseWriter, r *http.Request) {
	counts, err := h.service.RegisterView(r.Context(), chi.URLParam(r, "id"), auth.ViewerFromContext(r.Context()))
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, counts)
}

func (h *Handler) ReportWatchTime(w http.ResponseWriter, r *http.Request) {
	var req watchTimeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if req.SecondsWatched == nil {
		httputil.WriteAppError(w, apperr.InvalidRequest("secondsWatched is required"))
		return
	}

	totals, err := h.service.ReportWatchTime(r.Context(), chi.URLParam(r, "id"), auth.ViewerFromContext(r.Context()), float64(*req.SecondsWatched))
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, totals)
}
