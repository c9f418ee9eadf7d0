package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/streamify/streamify/internal/httputil"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const OTPValidity = 10 * time.Minute

type verifyOTPRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"newPassword"`
}

type otpState struct {
	userID    string
	name      string
	hash      *string
	expiresAt *time.Time
}

var errInvalidCode = errors.New("invalid code")
var errExpiredCode = errors.New("code expired")

func (h *Handler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	req.Email = normalizeEmail(req.Email)
	if req.Email == "" || req.Code == "" {
		httputil.WriteError(w, http.StatusBadRequest, "email and code are required")
		return
	}

	state, err := h.checkOTP(r.Context(), req.Email, req.Code)
	if err != nil {
		h.writeOTPError(w, err)
		return
	}

	if _, err := h.db.Exec(r.Context(),
		`UPDATE users SET otp_hash = NULL, otp_expires_at = NULL, email_verified = true, updated_at = now() WHERE id = $1`,
		state.userID,
	); err != nil {
		h.logger.Error("verify otp: update user", zap.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to verify email")
		return
	}

	h.sendMail("welcome", func(ctx context.Context) error {
		return h.mailer.SendWelcome(ctx, req.Email, state.name)
	})

	httputil.WriteJSON(w, http.StatusOK, messageResponse{Message: "Email verified successfully"})
}

func (h *Handler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	req.Email = normalizeEmail(req.Email)
	if req.Email == "" {
		httputil.WriteError(w, http.StatusBadRequest, "email is required")
		return
	}

	name, code, err := h.issueOTP(r.Context(), req.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		httputil.WriteError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		h.logger.Error("resend otp: issue code", zap.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to generate code")
		return
	}

	h.sendMail("otp", func(ctx context.Context) error {
		return h.mailer.SendOTP(ctx, req.Email, name, code)
	})

	httputil.WriteJSON(w, http.StatusOK, messageResponse{Message: "OTP sent successfully"})
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	req.Email = normalizeEmail(req.Email)
	if req.Email == "" {
		httputil.WriteError(w, http.StatusBadRequest, "email is required")
		return
	}

	name, code, err := h.issueOTP(r.Context(), req.Email)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// same answer as success so addresses cannot be probed
	case err != nil:
		h.logger.Error("forgot password: issue code", zap.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to generate code")
		return
	default:
		h.sendMail("password_reset", func(ctx context.Context) error {
			return h.mailer.SendPasswordReset(ctx, req.Email, name, code)
		})
	}

	httputil.WriteJSON(w, http.StatusOK, messageResponse{Message: "If an account exists for this email, a reset code has been sent"})
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	req.Email = normalizeEmail(req.Email)
	if req.Email == "" || req.Code == "" || req.NewPassword == "" {
		httputil.WriteError(w, http.StatusBadRequest, "email, code, and newPassword are required")
		return
	}
	if msg := validatePassword(req.NewPassword); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	state, err := h.checkOTP(r.Context(), req.Email, req.Code)
	if err != nil {
		h.writeOTPError(w, err)
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	if _, err := h.db.Exec(r.Context(),
		`UPDATE users SET password = $1, otp_hash = NULL, otp_expires_at = NULL, updated_at = now() WHERE id = $2`,
		string(hashedPassword), state.userID,
	); err != nil {
		h.logger.Error("reset password: update user", zap.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to reset password")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, messageResponse{Message: "Password reset successful"})
}

func (h *Handler) issueOTP(ctx context.Context, email string) (name, code string, err error) {
	code, codeHash, err := newOTP()
	if err != nil {
		return "", "", err
	}
	err = h.db.QueryRow(ctx,
		`UPDATE users SET otp_hash = $1, otp_expires_at = $2, updated_at = now() WHERE email = $3 RETURNING name`,
		codeHash, time.Now().Add(OTPValidity), email,
	).Scan(&name)
	if err != nil {
		return "", "", err
	}
	return name, code, nil
}

func (h *Handler) checkOTP(ctx context.Context, email, code string) (*otpState, error) {
	var state otpState
	err := h.db.QueryRow(ctx,
		`SELECT id, name, otp_hash, otp_expires_at FROM users WHERE email = $1`, email,
	).Scan(&state.userID, &state.name, &state.hash, &state.expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errInvalidCode
	}
	if err != nil {
		return nil, err
	}
	if state.hash == nil {
		return nil, errInvalidCode
	}
	if bcrypt.CompareHashAndPassword([]byte(*state.hash), []byte(code)) != nil {
		return nil, errInvalidCode
	}
	if state.expiresAt != nil && time.Now().After(*state.expiresAt) {
		return nil, errExpiredCode
	}
	return &state, nil
}

func (h *Handler) writeOTPError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errInvalidCode):
		httputil.WriteError(w, http.StatusBadRequest, "invalid code")
	case errors.Is(err, errExpiredCode):
		httputil.WriteError(w, http.StatusBadRequest, "code expired")
	default:
		h.logger.Error("otp: lookup user", zap.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to check code")
	}
}

// newOTP returns a six digit code and its bcrypt hash.
func newOTP() (code, hash string, err error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", "", fmt.Errorf("generate otp: %w", err)
	}
	code = fmt.Sprintf("%06d", n.Int64()+100000)
	hashed, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("hash otp: %w", err)
	}
	return code, string(hashed), nil
}
