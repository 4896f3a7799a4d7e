package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Category classifies every attempt outcome. The category, not the raw
// error, drives retry and failover decisions.
type Category string

const (
	CategorySuccess     Category = "success"
	CategoryTimeout     Category = "timeout"
	CategoryRateLimit   Category = "rate_limit"
	CategoryInvalidJSON Category = "invalid_json"
	CategoryServerError Category = "server_error"
)

// ParseCategory maps a configuration value to a Category.
func ParseCategory(s string) (Category, bool) {
	switch c := Category(s); c {
	case CategoryTimeout, CategoryRateLimit, CategoryInvalidJSON, CategoryServerError:
		return c, true
	}
	return "", false
}

// Error is a classified LLM failure.
type Error struct {
	Category Category
	Provider string
	Message  string

	// RetryAfter is the provider's requested wait for rate limits, if any.
	RetryAfter time.Duration

	Err error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Category)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(cat Category, format string, args ...any) *Error {
	return &Error{Category: cat, Message: fmt.Sprintf(format, args...)}
}

func wrapError(cat Category, err error, format string, args ...any) *Error {
	return &Error{Category: cat, Message: fmt.Sprintf(format, args...), Err: err}
}

// CategoryOf returns the category of err. Unclassified errors are
// normalized to CategoryServerError, except deadline errors which
// are timeouts.
func CategoryOf(err error) Category {
	if err == nil {
		return CategorySuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	if isTimeout(err) {
		return CategoryTimeout
	}
	return CategoryServerError
}

// IsCategory reports whether err is classified as cat.
func IsCategory(err error, cat Category) bool {
	return err != nil && CategoryOf(err) == cat
}

// statusError maps a non-2xx HTTP status to a classified error.
// 429 is a rate limit, everything else is a server error: 5xx are
// provider failures and other 4xx are treated as non-retryable
// content errors.
func statusError(provider string, status int, body string) *Error {
	var e *Error
	switch {
	case status == http.StatusTooManyRequests:
		e = newError(CategoryRateLimit, "Provider %s rate limited", provider)
	case status >= 500:
		e = newError(CategoryServerError, "Provider %s server error", provider)
	default:
		e = newError(CategoryServerError, "Provider %s request error: %s", provider, truncate(body, 200))
	}
	e.Provider = provider
	return e
}

// transportError classifies an error that happened before a status code
// was available.
func transportError(provider string, err error) *Error {
	e := wrapError(CategoryServerError, err, "Provider %s network error: %v", provider, err)
	if isTimeout(err) {
		e = wrapError(CategoryTimeout, err, "Provider %s timed out", provider)
	}
	e.Provider = provider
	return e
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
