package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/streamify/streamify/internal/auth"
	"github.com/streamify/streamify/internal/httputil"
)

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// Limiter is a per-client token bucket keyed by client IP.
type Limiter struct {
	name    string
	mu      sync.Mutex
	clients map[string]*bucket
	rate    float64
	burst   float64
	now     func() time.Time

	// OnReject, when set, is called with the limiter name for each denied request.
	OnReject func(name string)

	stop chan struct{}
	once sync.Once
}

func NewLimiter(name string, requestsPerSecond float64, burst int) *Limiter {
	l := &Limiter{
		name:    name,
		clients: make(map[string]*bucket),
		rate:    requestsPerSecond,
		burst:   float64(burst),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go l.sweep(5*time.Minute, 10*time.Minute)
	return l
}

func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.clients[key]
	if !ok {
		l.clients[key] = &bucket{tokens: l.burst - 1, lastSeen: now}
		return true
	}

	b.tokens += now.Sub(b.lastSeen).Seconds() * l.rate
	b.lastSeen = now
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (l *Limiter) sweep(every, idle time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.evictIdle(idle)
		}
	}
}

func (l *Limiter) evictIdle(idle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-idle)
	for key, b := range l.clients {
		if b.lastSeen.Before(cutoff) {
			delete(l.clients, key)
		}
	}
}

// Stop ends the background sweeper.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(auth.ClientIP(r)) {
			if l.OnReject != nil {
				l.OnReject(l.name)
			}
			w.Header().Set("Retry-After", "10")
			httputil.WriteError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
