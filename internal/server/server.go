package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/streamify/streamify/internal/auth"
	"github.com/streamify/streamify/internal/database"
	"github.com/streamify/streamify/internal/engagement"
	"github.com/streamify/streamify/internal/history"
	"github.com/streamify/streamify/internal/httputil"
	"github.com/streamify/streamify/internal/metrics"
	"github.com/streamify/streamify/internal/ratelimit"
	"github.com/streamify/streamify/internal/user"
	"github.com/streamify/streamify/internal/video"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	DB         database.DBTX
	Pinger     Pinger
	Media      video.MediaProcessor
	MediaKeys  user.KeyResolver
	Geo        engagement.CountryResolver
	Mailer     auth.Mailer
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
	Engagement *engagement.Service

	JWTSecret       string
	TokenTTL        time.Duration
	BaseURL         string
	FrontendURL     string
	StorageEndpoint string
	MaxUploadBytes  int64
}

type Server struct {
	router   chi.Router
	pinger   Pinger
	logger   *zap.Logger
	metrics  *metrics.Metrics
	limiters []*ratelimit.Limiter

	authHandler       *auth.Handler
	userHandler       *user.Handler
	videoHandler      *video.Handler
	engagementHandler *engagement.Handler
	historyHandler    *history.Handler
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))
	r.Use(cfg.Metrics.Middleware)
	r.Use(securityHeaders(SecurityConfig{
		BaseURL:         cfg.BaseURL,
		StorageEndpoint: cfg.StorageEndpoint,
	}))

	s := &Server{router: r, pinger: cfg.Pinger, logger: logger, metrics: cfg.Metrics}

	if cfg.DB != nil {
		if cfg.JWTSecret == "" {
			logger.Fatal("JWT_SECRET is required; set the environment variable")
		}

		s.authHandler = auth.NewHandler(cfg.DB, cfg.JWTSecret, logger.Named("auth"))
		s.authHandler.SetTokenTTL(cfg.TokenTTL)
		if cfg.Mailer != nil {
			s.authHandler.SetMailer(cfg.Mailer)
		}

		svc := cfg.Engagement
		if svc == nil {
			svc = engagement.NewService(engagement.NewPostgresStore(cfg.DB), cfg.Geo, cfg.Metrics, logger.Named("engagement"))
		}
		s.engagementHandler = engagement.NewHandler(svc)
		s.historyHandler = history.NewHandler(cfg.DB, logger.Named("history"))

		if cfg.Media != nil {
			s.videoHandler = video.NewHandler(cfg.DB, cfg.Media, cfg.FrontendURL, cfg.MaxUploadBytes, logger.Named("video"))
			s.userHandler = user.NewHandler(cfg.DB, cfg.Media, cfg.MediaKeys, cfg.MaxUploadBytes, logger.Named("user"))
		}
	}

	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops the rate limiter sweepers.
func (s *Server) Close() {
	for _, l := range s.limiters {
		l.Stop()
	}
}

func (s *Server) newLimiter(name string, rate float64, burst int) *ratelimit.Limiter {
	l := ratelimit.NewLimiter(name, rate, burst)
	l.OnReject = s.metrics.RateLimited
	s.limiters = append(s.limiters, l)
	return l
}

func (s *Server) routes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/health", s.handleHealth)
	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, http.StatusNotFound, "Route not found")
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	if s.authHandler == nil {
		return
	}
	requireAuth := s.authHandler.Middleware
	optionalAuth := s.authHandler.OptionalMiddleware

	authLimiter := s.newLimiter("auth", 0.5, 5)
	s.router.Route("/api/auth", func(r chi.Router) {
		r.Use(authLimiter.Middleware)
		r.Post("/register", s.authHandler.Register)
		r.Post("/login", s.authHandler.Login)
		r.Post("/verify-otp", s.authHandler.VerifyOTP)
		r.Post("/resend-otp", s.authHandler.ResendOTP)
		r.Post("/forgot-password", s.authHandler.ForgotPassword)
		r.Post("/reset-password", s.authHandler.ResetPassword)
	})

	viewLimiter := s.newLimiter("views", 5, 30)
	s.router.Route("/api/videos", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(optionalAuth)
			r.With(viewLimiter.Middleware).Post("/{id}/view", s.engagementHandler.RegisterView)
			r.With(viewLimiter.Middleware).Post("/{id}/watchtime", s.engagementHandler.ReportWatchTime)
			if s.videoHandler != nil {
				r.Get("/", s.videoHandler.Feed)
				r.Get("/{id}", s.videoHandler.Get)
				r.Post("/{id}/share", s.videoHandler.Share)
			}
		})

		if s.videoHandler == nil {
			return
		}
		uploadLimiter := s.newLimiter("uploads", 0.2, 5)
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/mine", s.videoHandler.Mine)
			r.With(uploadLimiter.Middleware).Post("/", s.videoHandler.Upload)
			r.Put("/{id}", s.videoHandler.Update)
			r.With(uploadLimiter.Middleware).Put("/{id}/thumbnail", s.videoHandler.UpdateThumbnail)
			r.Delete("/{id}", s.videoHandler.Delete)
			r.Post("/{id}/like", s.videoHandler.ToggleLike)
			r.Get("/{id}/analytics", s.videoHandler.Analytics)
		})
	})

	if s.videoHandler != nil {
		s.router.Route("/api/comments", func(r chi.Router) {
			r.Get("/{videoId}", s.videoHandler.ListComments)
			r.With(requireAuth).Post("/{videoId}", s.videoHandler.PostComment)
			r.With(requireAuth).Delete("/item/{id}", s.videoHandler.DeleteComment)
		})
	}

	if s.userHandler != nil {
		s.router.Route("/api/users", func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/me", s.userHandler.Me)
			r.Put("/me", s.userHandler.UpdateMe)
			r.Post("/me/avatar", s.userHandler.UploadAvatar)
		})
	}

	s.router.Route("/api/history", func(r chi.Router) {
		r.Use(requireAuth)
		r.Get("/", s.historyHandler.List)
		r.Delete("/", s.historyHandler.Clear)
		r.Post("/{videoId}", s.historyHandler.Add)
		r.Delete("/item/{id}", s.historyHandler.DeleteOne)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy","error":"database unreachable"}`))
			return
		}
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
