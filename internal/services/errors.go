// Package services contains the business logic of the storefront: order
// creation and capture against the payment gateway, webhook verification,
// delivery email dispatch, and download resolution.
//
// Services return sentinel errors so that HTTP handlers can map failures to
// status codes without string matching.
package services

import "errors"

var (
	// ErrMissingFields indicates a request lacking a required input.
	ErrMissingFields = errors.New("missing required fields")

	// ErrProductNotFound indicates an unknown product id.
	ErrProductNotFound = errors.New("product not found")

	// ErrOrderNotFound indicates that no order exists for the given
	// gateway order id.
	ErrOrderNotFound = errors.New("order not found")

	// ErrWebhookNotConfigured indicates that webhook processing was attempted
	// without a configured webhook id. Verification is impossible, so events
	// must be rejected rather than trusted.
	ErrWebhookNotConfigured = errors.New("webhook id not configured")

	// ErrWebhookSignature indicates that the gateway did not confirm the
	// authenticity of a webhook event.
	ErrWebhookSignature = errors.New("webhook signature verification failed")

	// ErrDownloadNotFound indicates an unknown download token.
	ErrDownloadNotFound = errors.New("download not found")

	// ErrDownloadNotEligible indicates a known token whose order has not been
	// captured yet.
	ErrDownloadNotEligible = errors.New("download not eligible")
)
