// Package engagement counts views and accumulates watch time for videos.
//
// Views are deduplicated per (video, viewer) against a bounded roster of
// counted viewers. The roster keeps at most RosterLimit entries; when it
// grows past that it is trimmed to the newest RosterRetain. A viewer
// evicted by a trim is counted again on their next view.
//
// Views and watch time are independent signals. A viewer may report watch
// time without a counted view, so avgWatchTime can drift from what a
// per-view average would suggest.
package engagement

import (
	"context"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/streamify/streamify/internal/apperr"
	"github.com/streamify/streamify/internal/auth"
)

const (
	RosterLimit  = 5000
	RosterRetain = 3000
)

type ViewCounts struct {
	Views      int64 `json:"views"`
	UserViews  int64 `json:"userViews"`
	GuestViews int64 `json:"guestViews"`
}

type WatchTimeTotals struct {
	TotalWatchTime float64 `json:"totalWatchTime"`
	UserWatchTime  float64 `json:"userWatchTime"`
	GuestWatchTime float64 `json:"guestWatchTime"`
	AvgWatchTime   float64 `json:"avgWatchTime"`
}

// ViewEvent is one playback start. Browser, Device and Country feed the
// per-video breakdown and are only recorded for counted views.
type ViewEvent struct {
	VideoID       string
	ViewerID      string
	Authenticated bool
	Browser       string
	Device        string
	Country       string
}

type ViewResult struct {
	Counts    ViewCounts
	Counted   bool
	Truncated bool
}

type WatchReport struct {
	VideoID       string
	ViewerID      string
	Authenticated bool
	Seconds       float64
}

// Store persists view and watch-time updates atomically.
type Store interface {
	RegisterView(ctx context.Context, ev ViewEvent) (ViewResult, error)
	ReportWatchTime(ctx context.Context, r WatchReport) (WatchTimeTotals, error)
}

type CountryResolver interface {
	Country(ip string) string
}

type Recorder interface {
	ViewRegistered(class string, counted bool)
	WatchTime(class string, seconds float64)
	RosterTruncated()
}

type Service struct {
	store    Store
	geo      CountryResolver
	recorder Recorder
	logger   *zap.Logger
}

// NewService wires the accountant. geo and recorder may be nil.
func NewService(store Store, geo CountryResolver, recorder Recorder, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, geo: geo, recorder: recorder, logger: logger}
}

func (s *Service) RegisterView(ctx context.Context, videoID string, viewer auth.Viewer) (ViewCounts, error) {
	if viewer.IsZero() {
		return ViewCounts{}, apperr.InvalidRequest("viewer identity required")
	}
	if _, err := uuid.Parse(videoID); err != nil {
		return ViewCounts{}, apperr.NotFound("video not found")
	}

	ev := ViewEvent{
		VideoID:       videoID,
		ViewerID:      viewer.ID,
		Authenticated: viewer.Authenticated,
		Browser:       parseBrowser(viewer.UserAgent),
		Device:        parseDevice(viewer.UserAgent),
		Country:       "Unknown",
	}
	if s.geo != nil {
		if c := s.geo.Country(viewer.IP); c != "" {
			ev.Country = c
		}
	}

	res, err := s.store.RegisterView(ctx, ev)
	if err != nil {
		s.logFailure("register view", videoID, err)
		return ViewCounts{}, err
	}

	if s.recorder != nil {
		s.recorder.ViewRegistered(viewer.Class(), res.Counted)
		if res.Truncated {
			s.recorder.RosterTruncated()
		}
	}
	if res.Truncated {
		s.logger.Info("engagement: viewer roster trimmed",
			zap.String("video_id", videoID), zap.Int("retained", RosterRetain))
	}
	return res.Counts, nil
}

func (s *Service) ReportWatchTime(ctx context.Context, videoID string, viewer auth.Viewer, seconds float64) (WatchTimeTotals, error) {
	if viewer.IsZero() {
		return WatchTimeTotals{}, apperr.InvalidRequest("viewer identity required")
	}
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds <= 0 {
		return WatchTimeTotals{}, apperr.InvalidRequest("secondsWatched must be a positive number")
	}
	if _, err := uuid.Parse(videoID); err != nil {
		return WatchTimeTotals{}, apperr.NotFound("video not found")
	}

	totals, err := s.store.ReportWatchTime(ctx, WatchReport{
		VideoID:       videoID,
		ViewerID:      viewer.ID,
		Authenticated: viewer.Authenticated,
		Seconds:       seconds,
	})
	if err != nil {
		s.logFailure("report watch time", videoID, err)
		return WatchTimeTotals{}, err
	}

	if s.recorder != nil {
		s.recorder.WatchTime(viewer.Class(), seconds)
	}
	return totals, nil
}

func (s *Service) logFailure(op, videoID string, err error) {
	if apperr.KindOf(err) != apperr.KindInternal {
		return
	}
	s.logger.Error("engagement: "+op+" failed", zap.String("video_id", videoID), zap.Error(err))
}
