package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

type contextKey string

const (
	userIDKey contextKey = "userID"
	viewerKey contextKey = "viewer"
)

// ViewerIDHeader lets a client supply its own stable guest identity.
const ViewerIDHeader = "X-Viewer-Id"

const guestPrefix = "guest_"

// Viewer is whoever is watching: a signed-in user or a guest fingerprint.
type Viewer struct {
	ID            string
	Authenticated bool
	IP            string
	UserAgent     string
}

func (v Viewer) IsZero() bool {
	return v.ID == ""
}

// Class is "user" or "guest", used for counters and metrics labels.
func (v Viewer) Class() string {
	if v.Authenticated {
		return "user"
	}
	return "guest"
}

func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}

func ViewerFromContext(ctx context.Context) Viewer {
	v, _ := ctx.Value(viewerKey).(Viewer)
	return v
}

func ContextWithViewer(ctx context.Context, v Viewer) context.Context {
	ctx = context.WithValue(ctx, viewerKey, v)
	if v.Authenticated {
		ctx = context.WithValue(ctx, userIDKey, v.ID)
	}
	return ctx
}

// OptionalMiddleware never rejects. A valid bearer token yields an
// authenticated viewer; anything else falls back to a guest fingerprint.
func (h *Handler) OptionalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(ContextWithViewer(r.Context(), h.resolveViewer(r))))
	})
}

func (h *Handler) resolveViewer(r *http.Request) Viewer {
	ip := ClientIP(r)
	ua := r.UserAgent()

	if tokenStr, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); found && tokenStr != "" {
		if claims, err := ValidateToken(h.jwtSecret, tokenStr); err == nil && claims.TokenType == "access" {
			return Viewer{ID: claims.UserID, Authenticated: true, IP: ip, UserAgent: ua}
		}
	}

	return Viewer{ID: guestID(r.Header.Get(ViewerIDHeader), ip, ua), IP: ip, UserAgent: ua}
}

func guestID(supplied, ip, ua string) string {
	if supplied = strings.TrimSpace(supplied); supplied != "" {
		return GuestFingerprint(supplied, "")
	}
	if ip == "" && ua == "" {
		return ""
	}
	return GuestFingerprint(ip, ua)
}

// GuestFingerprint derives a stable guest id from network identity.
func GuestFingerprint(ip, userAgent string) string {
	if ip == "" {
		ip = "unknown_ip"
	}
	if userAgent == "" {
		userAgent = "unknown_agent"
	}
	sum := sha256.Sum256([]byte(ip + "||" + userAgent))
	return guestPrefix + hex.EncodeToString(sum[:])[:32]
}

// ClientIP returns the first X-Forwarded-For hop, else the connection
// address, with IPv4-mapped IPv6 prefixes removed.
func ClientIP(r *http.Request) string {
	ip := ""
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		ip = strings.TrimSpace(first)
	}
	if ip == "" {
		ip = r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
	}
	return strings.TrimPrefix(ip, "::ffff:")
}
