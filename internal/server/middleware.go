package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aniketshedge/quiz-me-app/internal/llm"
	"github.com/aniketshedge/quiz-me-app/internal/utils/log"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// requestID tags each request with an id, taken from X-Request-ID when the
// client sent one. The id reaches LLM telemetry through the request context.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" || len(id) > 64 {
			id = "req_" + uuid.NewString()[:8]
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Request = c.Request.WithContext(llm.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// accessLog logs every completed request with its latency.
func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		l := log.With(
			"request_id", c.GetString(requestIDKey),
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", clientIP(c),
		)
		if c.Writer.Status() >= http.StatusInternalServerError {
			l.Warnf("%s %s", c.Request.Method, c.Request.URL.Path)
			return
		}
		l.Infof("%s %s", c.Request.Method, c.Request.URL.Path)
	}
}

// bodyLimit rejects request bodies larger than limit bytes with 413.
func bodyLimit(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 {
			c.Next()
			return
		}
		if c.Request.ContentLength > limit {
			errorJSON(c, http.StatusRequestEntityTooLarge, errPayloadTooLarge)
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

// tooLarge reports whether err came from reading past the body limit.
func tooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

// corsMiddleware allows the configured origins. "*" allows every origin;
// entries may be full origins or bare hosts.
func corsMiddleware(origins []string) gin.HandlerFunc {
	config := cors.DefaultConfig()
	config.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	config.AllowHeaders = []string{"Origin", "Content-Type", requestIDHeader}
	config.ExposeHeaders = []string{requestIDHeader, "Retry-After"}
	config.AllowOriginFunc = func(origin string) bool {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			return false
		}
		originHost := origin
		if idx := strings.Index(origin, "://"); idx != -1 {
			originHost = origin[idx+3:]
		}
		originHost = strings.TrimRight(originHost, "/")

		for _, item := range origins {
			item = strings.TrimRight(strings.TrimSpace(item), "/")
			if item == "*" || item == origin || item == originHost {
				return true
			}
		}
		return false
	}
	return cors.New(config)
}

func recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.Errorf("panic serving %s %s: %v", c.Request.Method, c.Request.URL.Path, recovered)
		errorJSON(c, http.StatusInternalServerError, errInternalServer)
	})
}
