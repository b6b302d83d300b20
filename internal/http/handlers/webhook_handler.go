// Webhook HTTP handler.
//
// POST /api/paypal/webhook receives gateway event notifications. The raw body
// is read before any parsing because signature verification covers the exact
// bytes the gateway sent.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/resellplug/storefront-backend/internal/http/middleware"
	"github.com/resellplug/storefront-backend/internal/paypal"
	"github.com/resellplug/storefront-backend/internal/services"
)

// Webhook godoc
// @ID          paypalWebhook
// @Summary     Receive a gateway webhook event
// @Description Verifies the event signature with the gateway, deduplicates by event id, and applies capture confirmations.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
// @Success     200 {object} map[string]bool "{\"received\": true}"
// @Failure     400 {object} handlers.ErrorResponse "Signature verification failed"
// @Failure     500 {object} handlers.ErrorResponse "Webhook not configured or processing failure"
// @Router      /paypal/webhook [post]
func (h *Handlers) Webhook(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable request body")
		return
	}

	hdr := paypal.WebhookHeadersFromRequest(c.Request.Header)
	if err := h.svc.ProcessWebhook(c.Request.Context(), hdr, raw); err != nil {
		switch {
		case errors.Is(err, services.ErrWebhookNotConfigured):
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "webhook id is not configured")
		case errors.Is(err, services.ErrWebhookSignature):
			middleware.LoggerFrom(c).Warn().Msg("webhook signature rejected")
			fail(c, http.StatusBadRequest, ErrCodeWebhookRejected, "webhook signature verification failed")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}

	ok(c, http.StatusOK, gin.H{"received": true})
}
