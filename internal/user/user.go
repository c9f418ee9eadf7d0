// Package user serves the caller's own profile.
package user

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/streamify/streamify/internal/apperr"
	"github.com/streamify/streamify/internal/auth"
	"github.com/streamify/streamify/internal/database"
	"github.com/streamify/streamify/internal/httputil"
	"github.com/streamify/streamify/internal/media"
	"github.com/streamify/streamify/internal/validate"
)

const multipartMemory = 8 << 20

// ImageStore uploads avatar images and removes replaced ones.
type ImageStore interface {
	UploadImage(ctx context.Context, folder, userID string, src io.Reader, size int64, contentType string) (url, key string, err error)
	Delete(ctx context.Context, keys ...string)
}

// KeyResolver maps a public object URL back to its storage key. URLs the
// store does not own resolve to ok == false and are left alone.
type KeyResolver interface {
	KeyFromURL(url string) (key string, ok bool)
}

type Handler struct {
	db             database.DBTX
	images         ImageStore
	keys           KeyResolver
	maxUploadBytes int64
	logger         *zap.Logger
}

func NewHandler(db database.DBTX, images ImageStore, keys KeyResolver, maxUploadBytes int64, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{db: db, images: images, keys: keys, maxUploadBytes: maxUploadBytes, logger: logger}
}

type profileResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Avatar        string `json:"avatar"`
	Bio           string `json:"bio"`
	EmailVerified bool   `json:"emailVerified"`
	CreatedAt     string `json:"createdAt"`
}

type updateRequest struct {
	Name   *string `json:"name"`
	Avatar *string `json:"avatar"`
	Bio    *string `json:"bio"`
}

const profileColumns = `id, name, email, avatar, bio, email_verified, created_at`

func scanProfile(row interface{ Scan(...any) error }) (profileResponse, error) {
	var p profileResponse
	var createdAt time.Time
	if err := row.Scan(&p.ID, &p.Name, &p.Email, &p.Avatar, &p.Bio, &p.EmailVerified, &createdAt); err != nil {
		return profileResponse{}, err
	}
	p.CreatedAt = createdAt.UTC().Format(time.RFC3339)
	return p, nil
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	p, err := scanProfile(h.db.QueryRow(r.Context(),
		`SELECT `+profileColumns+` FROM users WHERE id = $1`, userID))
	if err != nil {
		httputil.WriteAppError(w, apperr.FromDB(err, "user not found"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var req updateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			httputil.WriteError(w, http.StatusBadRequest, "name cannot be empty")
			return
		}
		req.Name = &name
	}
	var checks []string
	if req.Name != nil {
		checks = append(checks, validate.Name(*req.Name))
	}
	if req.Avatar != nil {
		checks = append(checks, validate.AvatarURL(*req.Avatar))
	}
	if req.Bio != nil {
		checks = append(checks, validate.Bio(*req.Bio))
	}
	if msg := validate.FirstError(checks...); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	p, err := scanProfile(h.db.QueryRow(r.Context(),
		`UPDATE users SET name = COALESCE($2, name), avatar = COALESCE($3, avatar), bio = COALESCE($4, bio), updated_at = now()
		 WHERE id = $1
		 RETURNING `+profileColumns,
		userID, req.Name, req.Avatar, req.Bio,
	))
	if err != nil {
		httputil.WriteAppError(w, apperr.FromDB(err, "user not found"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

// UploadAvatar stores a new avatar image and points the profile at it. The
// previous image is removed when it lives in our object store.
func (h *Handler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
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
	file, header, err := r.FormFile("avatar")
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "avatar file is required")
		return
	}
	defer func() { _ = file.Close() }()

	var previous string
	if err := h.db.QueryRow(r.Context(), `SELECT avatar FROM users WHERE id = $1`, userID).Scan(&previous); err != nil {
		httputil.WriteAppError(w, apperr.FromDB(err, "user not found"))
		return
	}

	url, key, err := h.images.UploadImage(r.Context(), "avatars", userID, file, header.Size, header.Header.Get("Content-Type"))
	if err != nil {
		if errors.Is(err, media.ErrUnsupportedType) {
			httputil.WriteError(w, http.StatusBadRequest, "avatar must be a JPEG, PNG, WebP or GIF image")
			return
		}
		h.logger.Error("user: avatar upload failed", zap.String("user_id", userID), zap.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to store avatar")
		return
	}

	p, err := scanProfile(h.db.QueryRow(r.Context(),
		`UPDATE users SET avatar = $2, updated_at = now() WHERE id = $1 RETURNING `+profileColumns,
		userID, url,
	))
	if err != nil {
		go h.images.Delete(context.WithoutCancel(r.Context()), key)
		httputil.WriteAppError(w, apperr.FromDB(err, "user not found"))
		return
	}

	if h.keys != nil && previous != "" {
		if oldKey, ok := h.keys.KeyFromURL(previous); ok {
			go h.images.Delete(context.WithoutCancel(r.Context()), oldKey)
		}
	}

	httputil.WriteJSON(w, http.StatusOK, p)
}
