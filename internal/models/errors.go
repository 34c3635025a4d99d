package models

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes for structured error handling.
const (
	ErrCodeAuth        = "AUTH_ERROR"
	ErrCodeValidation  = "VALIDATION_ERROR"
	ErrCodeSync        = "SYNC_ERROR"
	ErrCodeBusiness    = "BUSINESS_ERROR"
	ErrCodeNotFound    = "NOT_FOUND"
	ErrCodeNetwork     = "NETWORK_ERROR"
	ErrCodeStorage     = "STORAGE_ERROR"
	ErrCodeConfig      = "CONFIG_ERROR"
	ErrCodeRateLimit   = "RATE_LIMIT"
	ErrCodeServerError = "SERVER_ERROR"
)

// Sentinel errors
var (
	ErrNotAuthenticated    = errors.New("not authenticated")
	ErrLineNotFound        = errors.New("cart line not found")
	ErrNoPendingRemoval    = errors.New("no removal awaiting confirmation")
	ErrTransferUnsupported = errors.New("cart transfer not supported by server")
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrEmptyCart           = errors.New("cart is empty")
	ErrNoCartID            = errors.New("cart has not been synced with the server")
	ErrRateLimited         = errors.New("rate limited")
)

// APIError represents an error from the API.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
	RequestID  string `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// IsNotFound reports whether err is an API 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsUnauthorized reports whether err is an API 401.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// ValidationError is raised before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return e.Message
}

// SyncError records a failed remote cart call whose local effect was kept.
type SyncError struct {
	Op     string
	ItemID string
	Err    error
}

func (e *SyncError) Error() string {
	if e.ItemID != "" {
		return fmt.Sprintf("sync %s [%s]: item %s: %v", e.Op, ErrCodeSync, e.ItemID, e.Err)
	}
	return fmt.Sprintf("sync %s [%s]: %v", e.Op, ErrCodeSync, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// BusinessError is a server or local rejection shown verbatim to the user.
type BusinessError struct {
	Reason  string
	Message string
}

func (e *BusinessError) Error() string {
	return e.Message
}

// UserMessage returns the text suitable for display.
func UserMessage(err error) string {
	var bizErr *BusinessError
	if errors.As(err, &bizErr) {
		return bizErr.Message
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return valErr.Message
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
