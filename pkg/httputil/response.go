// Package httputil provides HTTP response utilities for consistent JSON
// encoding and the structured machine-readable error envelope.
package httputil

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// ErrorResponse is the rejection body returned by the middleware boundary.
// Clients dispatch on Code, never on the human-readable message.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Timestamp string `json:"timestamp"`
	// Remaining and RetryAfterSeconds are set only for rate-limit rejections
	Remaining         *int `json:"remaining,omitempty"`
	RetryAfterSeconds *int `json:"retry_after_seconds,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteErrorCode writes the structured error envelope
func WriteErrorCode(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorResponse{
		Error:     message,
		Code:      code,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// WriteRateLimited writes the rate-limit rejection with its retry hint and
// the conventional rate-limit headers
func WriteRateLimited(w http.ResponseWriter, code, message string, limit int, retryAfter time.Duration) {
	retrySeconds := int(retryAfter / time.Second)
	if retrySeconds < 1 {
		retrySeconds = 1
	}
	zero := 0

	w.Header().Set("Retry-After", strconv.Itoa(retrySeconds))
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(retryAfter).Unix(), 10))

	WriteJSON(w, http.StatusTooManyRequests, ErrorResponse{
		Error:             message,
		Code:              code,
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
		Remaining:         &zero,
		RetryAfterSeconds: &retrySeconds,
	})
}

// SetRateLimitHeaders advertises remaining quota on admitted responses
func SetRateLimitHeaders(w http.ResponseWriter, limit, remaining int) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
}
