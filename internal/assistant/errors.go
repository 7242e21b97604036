package assistant

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrInvalidResponse is returned when the assistant's reply does not follow the protocol.
var ErrInvalidResponse = errors.New("invalid assistant response")

// Category classifies a provider failure.
type Category string

// Failure categories.
const (
	CategoryOverloaded      Category = "overloaded"
	CategoryRateLimited     Category = "rate_limited"
	CategoryQuota           Category = "quota"
	CategoryTimeout         Category = "timeout"
	CategoryServer          Category = "server_error"
	CategoryNetwork         Category = "network"
	CategoryAuth            Category = "auth"
	CategoryInvalidResponse Category = "invalid_response"
	CategoryBadRequest      Category = "bad_request"
)

// transientCategories are retried with backoff.
var transientCategories = map[Category]bool{
	CategoryOverloaded:  true,
	CategoryRateLimited: true,
	CategoryTimeout:     true,
	CategoryServer:      true,
	CategoryNetwork:     true,
}

// ProviderError describes a failed exchange with the assistant.
type ProviderError struct {
	Category   Category
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("assistant %s (status %d): %s", e.Category, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("assistant %s: %s", e.Category, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Transient reports whether the failure is worth retrying.
func (e *ProviderError) Transient() bool {
	return transientCategories[e.Category]
}

// IsTransient reports whether err is a retryable provider error.
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient()
}

// CategoryOf returns the failure category of err.
func CategoryOf(err error) Category {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Category
	}
	if errors.Is(err, ErrInvalidResponse) {
		return CategoryInvalidResponse
	}
	return CategoryServer
}

// classifyStatus maps an HTTP status and error body to a category.
func classifyStatus(status int, body string) Category {
	lower := strings.ToLower(body)
	switch {
	case strings.Contains(lower, "overloaded"):
		return CategoryOverloaded
	case status == http.StatusTooManyRequests:
		if strings.Contains(lower, "quota") || strings.Contains(lower, "billing") {
			return CategoryQuota
		}
		return CategoryRateLimited
	case status == http.StatusPaymentRequired:
		return CategoryQuota
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return CategoryAuth
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return CategoryTimeout
	case status == 529 || status == http.StatusServiceUnavailable:
		return CategoryOverloaded
	case status >= 500:
		return CategoryServer
	default:
		return CategoryBadRequest
	}
}

// newStatusError builds a ProviderError from an HTTP status response.
func newStatusError(status int, body string) *ProviderError {
	msg := strings.TrimSpace(body)
	if len(msg) > 300 {
		msg = msg[:300]
	}
	return &ProviderError{Category: classifyStatus(status, body), StatusCode: status, Message: msg}
}

// classifyTransportError maps a request-level failure to a ProviderError.
func classifyTransportError(err error) *ProviderError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Category: CategoryTimeout, Message: "request timed out", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ProviderError{Category: CategoryTimeout, Message: "request timed out", Err: err}
	}
	return &ProviderError{Category: CategoryNetwork, Message: err.Error(), Err: err}
}
