package auth

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/streamify/streamify/internal/database"
	"github.com/streamify/streamify/internal/httputil"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Mailer delivers account emails. Implementations may send inline or queue.
type Mailer interface {
	SendOTP(ctx context.Context, toEmail, toName, code string) error
	SendWelcome(ctx context.Context, toEmail, toName string) error
	SendPasswordReset(ctx context.Context, toEmail, toName, code string) error
}

type Handler struct {
	db        database.DBTX
	jwtSecret string
	tokenTTL  time.Duration
	mailer    Mailer
	logger    *zap.Logger
}

func NewHandler(db database.DBTX, jwtSecret string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{db: db, jwtSecret: jwtSecret, tokenTTL: DefaultTokenTTL, logger: logger}
}

func (h *Handler) SetMailer(m Mailer) {
	h.mailer = m
}

func (h *Handler) SetTokenTTL(ttl time.Duration) {
	if ttl > 0 {
		h.tokenTTL = ttl
	}
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Avatar        string `json:"avatar"`
	Bio           string `json:"bio"`
	EmailVerified bool   `json:"emailVerified"`
}

type authResponse struct {
	Token             string       `json:"token"`
	User              userResponse `json:"user"`
	NeedsVerification bool         `json:"needsVerification,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	req.Email = normalizeEmail(req.Email)
	req.Name = strings.TrimSpace(req.Name)

	if req.Email == "" || req.Password == "" || req.Name == "" {
		httputil.WriteError(w, http.StatusBadRequest, "name, email, and password are required")
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid email address")
		return
	}
	if msg := validatePassword(req.Password); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	code, codeHash, err := newOTP()
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to generate code")
		return
	}

	user := userResponse{Name: req.Name, Email: req.Email}
	err = h.db.QueryRow(r.Context(),
		`INSERT INTO users (name, email, password, otp_hash, otp_expires_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id, avatar, bio`,
		req.Name, req.Email, string(hashedPassword), codeHash, time.Now().Add(OTPValidity),
	).Scan(&user.ID, &user.Avatar, &user.Bio)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			httputil.WriteError(w, http.StatusConflict, "email already in use")
			return
		}
		h.logger.Error("register: insert user", zap.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	h.sendMail("otp", func(ctx context.Context) error {
		return h.mailer.SendOTP(ctx, user.Email, user.Name, code)
	})

	token, err := GenerateAccessTokenTTL(h.jwtSecret, user.ID, h.tokenTTL)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, authResponse{Token: token, User: user, NeedsVerification: true})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	req.Email = normalizeEmail(req.Email)
	if req.Email == "" || req.Password == "" {
		httputil.WriteError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	var user userResponse
	var hashedPassword string
	err := h.db.QueryRow(r.Context(),
		`SELECT id, name, email, avatar, bio, email_verified, password FROM users WHERE email = $1`,
		req.Email,
	).Scan(&user.ID, &user.Name, &user.Email, &user.Avatar, &user.Bio, &user.EmailVerified, &hashedPassword)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			h.logger.Error("login: lookup user", zap.Error(err))
		}
		httputil.WriteError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(req.Password)); err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	token, err := GenerateAccessTokenTTL(h.jwtSecret, user.ID, h.tokenTTL)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteError(w, http.StatusUnauthorized, "authorization header required")
			return
		}

		tokenStr, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			httputil.WriteError(w, http.StatusUnauthorized, "invalid authorization header format")
			return
		}

		claims, err := ValidateToken(h.jwtSecret, tokenStr)
		if err != nil {
			httputil.WriteError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		if claims.TokenType != "access" {
			httputil.WriteError(w, http.StatusUnauthorized, "invalid token type")
			return
		}

		ctx := ContextWithViewer(r.Context(), Viewer{
			ID:            claims.UserID,
			Authenticated: true,
			IP:            ClientIP(r),
			UserAgent:     r.UserAgent(),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sendMail runs fn detached from the request so a slow mail relay never
// holds up the response. Failures are logged only.
func (h *Handler) sendMail(kind string, fn func(ctx context.Context) error) {
	if h.mailer == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			h.logger.Warn("auth: email delivery failed", zap.String("kind", kind), zap.Error(err))
		}
	}()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validatePassword(password string) string {
	if len(password) < 8 {
		return "password must be at least 8 characters"
	}
	if len(password) > 72 {
		return "password must be at most 72 characters"
	}
	return ""
}
