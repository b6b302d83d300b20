// Package handlers defines HTTP-layer error codes used across all API
// endpoints.
//
// Codes are lowercase snake_case and stable: clients branch on them for
// programmatic error handling, while the message field stays free to change.
// Generic codes mirror HTTP status semantics; domain-specific codes cover
// business failures a status alone cannot convey.
package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeCreateFailed     = "create_failed"
	ErrCodeCaptureFailed    = "capture_failed"
	ErrCodeWebhookRejected  = "webhook_rejected"
	ErrCodeListFailed       = "list_failed"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)
