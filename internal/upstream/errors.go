package upstream

import (
	"fmt"
	"strings"
)

// TokenExpiredError indicates the upstream rejected the API token as
// expired or invalid.
type TokenExpiredError struct {
	StatusCode int
	Body       string
}

func (e *TokenExpiredError) Error() string {
	return fmt.Sprintf("upstream token expired (status %d): %s", e.StatusCode, e.Body)
}

// RateLimitError indicates the upstream is rate-limiting this caller.
// RetryAfter carries the upstream's Retry-After header value, when
// present.
type RateLimitError struct {
	StatusCode int
	Body       string
	RetryAfter string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("upstream rate limit (status %d): %s", e.StatusCode, e.Body)
}

// UpstreamFailureError is any other non-2xx upstream response.
type UpstreamFailureError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamFailureError) Error() string {
	return fmt.Sprintf("upstream failure (status %d): %s", e.StatusCode, e.Body)
}

// tokenExpiredMarkers and rateLimitMarkers are the lowercase substrings
// used to reclassify an HTTP 500: some Copilot deployments leak token
// expiry or rate limiting as a generic 500 instead of the expected
// 401/429.
var tokenExpiredMarkers = []string{
	"timeout", "expired", "unauthorized", "authentication",
	"invalid token", "token expired", "access denied", "forbidden", "credential",
}

var rateLimitMarkers = []string{
	"rate limit", "quota exceeded", "too many requests", "429", "throttled", "usage limit",
}

// classifyError maps an upstream HTTP response's status code and body
// to the error taxonomy the Forwarder depends on.
func classifyError(statusCode int, body, retryAfter string) error {
	switch statusCode {
	case 401:
		return &TokenExpiredError{StatusCode: statusCode, Body: body}
	case 429:
		return &RateLimitError{StatusCode: statusCode, Body: body, RetryAfter: retryAfter}
	case 500:
		lower := strings.ToLower(body)
		for _, marker := range tokenExpiredMarkers {
			if strings.Contains(lower, marker) {
				return &TokenExpiredError{StatusCode: statusCode, Body: body}
			}
		}
		for _, marker := range rateLimitMarkers {
			if strings.Contains(lower, marker) {
				return &RateLimitError{StatusCode: statusCode, Body: body, RetryAfter: retryAfter}
			}
		}
		return &UpstreamFailureError{StatusCode: statusCode, Body: body}
	default:
		return &UpstreamFailureError{StatusCode: statusCode, Body: body}
	}
}
