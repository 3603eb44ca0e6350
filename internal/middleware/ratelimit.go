package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// exemptPrefixes are never rate limited: assets, health and metrics.
var exemptPrefixes = []string{"/static/", "/images/", "/cover/", "/healthz", "/metrics"}

// Login attempts draw from their own, much smaller bucket.
const (
	loginPath  = "/admin/login"
	loginBurst = 5
)

var loginLimit = rate.Every(12 * time.Second)

const (
	sweepInterval = 5 * time.Minute
	idleAfter     = 10 * time.Minute
)

type bucket struct {
	*rate.Limiter
	used time.Time
}

// buckets holds one token bucket per client and class.
type buckets struct {
	mu    sync.Mutex
	byKey map[string]*bucket
}

func (b *buckets) take(key string, limit rate.Limit, burst int) (bool, time.Duration) {
	b.mu.Lock()
	bk, ok := b.byKey[key]
	if !ok {
		bk = &bucket{Limiter: rate.NewLimiter(limit, burst)}
		b.byKey[key] = bk
	}
	bk.used = time.Now()
	b.mu.Unlock()

	if bk.Allow() {
		return true, 0
	}
	res := bk.Reserve()
	defer res.Cancel()
	if !res.OK() {
		return false, time.Second
	}
	return false, res.Delay()
}

func (b *buckets) sweep(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			b.mu.Lock()
			for key, bk := range b.byKey {
				if now.Sub(bk.used) > idleAfter {
					delete(b.byKey, key)
				}
			}
			b.mu.Unlock()
		}
	}
}

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// RateLimit applies a per-IP token bucket, with a separate stricter bucket
// for login submissions. The sweeper goroutine stops with ctx.
func RateLimit(ctx context.Context, limit rate.Limit, burst int, logger *slog.Logger) func(http.Handler) http.Handler {
	b := &buckets{byKey: make(map[string]*bucket)}
	go b.sweep(ctx)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range exemptPrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			ip := clientIP(r)
			key, l, n := "req:"+ip, limit, burst
			if r.Method == http.MethodPost && r.URL.Path == loginPath {
				key, l, n = "login:"+ip, loginLimit, loginBurst
			}

			ok, wait := b.take(key, l, n)
			if !ok {
				logger.WarnContext(r.Context(), "rate limit exceeded",
					"ip", ip,
					"path", r.URL.Path,
					"bucket", key[:strings.IndexByte(key, ':')],
					"request_id", RequestID(r.Context()),
				)
				w.Header().Set("Retry-After", strconv.Itoa(max(1, int(math.Ceil(wait.Seconds())))))
				if strings.Contains(r.URL.Path, "/api/") {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusTooManyRequests)
					json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "Zu viele Anfragen"})
					return
				}
				http.Error(w, "Zu viele Anfragen", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
