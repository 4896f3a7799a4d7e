package server

import (
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// rateWindow is the length of every rate limit window.
const rateWindow = 10 * time.Minute

// limiter implements a per-key fixed window counter.
type limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	period  time.Duration
	now     func() time.Time
}

type window struct {
	start time.Time
	count int
}

func newLimiter(limit int, period time.Duration) *limiter {
	return &limiter{
		windows: make(map[string]*window),
		limit:   limit,
		period:  period,
		now:     time.Now,
	}
}

// allow counts a hit for key. When the window is full it reports false and
// how long until the window resets.
func (l *limiter) allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.period {
		l.windows[key] = &window{start: now, count: 1}
		return true, 0
	}
	if w.count >= l.limit {
		return false, w.start.Add(l.period).Sub(now)
	}
	w.count++
	return true, 0
}

// cleanup removes windows that have already expired.
func (l *limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, w := range l.windows {
		if now.Sub(w.start) >= l.period {
			delete(l.windows, key)
		}
	}
}

// clientIP prefers a well-formed CF-Connecting-IP header and falls back to
// the socket address.
func clientIP(c *gin.Context) string {
	if h := strings.TrimSpace(c.GetHeader("CF-Connecting-IP")); h != "" {
		if addr, err := netip.ParseAddr(h); err == nil {
			return addr.String()
		}
	}
	if ip := c.RemoteIP(); ip != "" {
		return ip
	}
	return "unknown"
}

// rateLimit allows limit requests per client IP per 10-minute window for
// the routes it is attached to. A non-positive limit disables it.
func (s *Server) rateLimit(limit int) gin.HandlerFunc {
	if limit <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	l := newLimiter(limit, rateWindow)
	s.limiters = append(s.limiters, l)
	message := fmt.Sprintf("%d per 10 minute", limit)

	return func(c *gin.Context) {
		ok, retry := l.allow(clientIP(c))
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(retry.Seconds()+0.5)))
			errorJSON(c, http.StatusTooManyRequests, message)
			return
		}
		c.Next()
	}
}
