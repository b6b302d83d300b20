// Order HTTP handlers.
//
// This file exposes the checkout endpoints:
//   - POST /api/paypal/create-order   (create a gateway order)
//   - POST /api/paypal/capture-order  (capture an approved order)
//
// Handlers are transport-thin: they validate input, call the order service,
// and translate results into HTTP responses. Lifecycle rules live in the
// service layer.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/resellplug/storefront-backend/internal/catalog"
	"github.com/resellplug/storefront-backend/internal/domain"
	"github.com/resellplug/storefront-backend/internal/paypal"
	"github.com/resellplug/storefront-backend/internal/services"
)

// OrderService defines the order lifecycle operations consumed by HTTP
// handlers. Implementations must be safe for concurrent use and honor the
// provided context.
type OrderService interface {
	// CreateOrder creates a gateway order for a product and persists it.
	CreateOrder(ctx context.Context, productID, buyerEmail, currency string, testCharge bool) (*domain.Order, error)
	// CaptureOrder captures an approved gateway order and attempts delivery.
	CaptureOrder(ctx context.Context, gatewayOrderID string) (*domain.Order, error)
	// ProcessWebhook verifies and applies an inbound gateway webhook event.
	ProcessWebhook(ctx context.Context, hdr paypal.WebhookHeaders, raw []byte) error
	// ResolveDownload maps a download token to its order and product.
	ResolveDownload(ctx context.Context, token string) (*domain.Order, catalog.Product, error)
	// ListRecent returns up to limit orders, newest first.
	ListRecent(ctx context.Context, limit int) ([]domain.Order, error)
}

// StorefrontInfo is the public configuration surface exposed to the
// storefront frontend.
type StorefrontInfo struct {
	PayPalClientID  string `json:"paypalClientId"`
	DefaultCurrency string `json:"defaultCurrency"`
	PayPalEnv       string `json:"paypalEnv"`
	SiteURL         string `json:"siteUrl"`
}

// Handlers groups the HTTP endpoints of the storefront. It depends on the
// abstract OrderService to keep transport concerns separate from business
// logic; the DB handle is only used for best-effort ETag stats.
type Handlers struct {
	svc OrderService
	db  *gorm.DB

	siteURL        string
	assetDir       string
	adminMaxOrders int
	info           StorefrontInfo
}

// New constructs a Handlers instance bound to the given service.
func New(svc OrderService, db *gorm.DB, siteURL, assetDir string, adminMaxOrders int, info StorefrontInfo) *Handlers {
	return &Handlers{
		svc:            svc,
		db:             db,
		siteURL:        siteURL,
		assetDir:       assetDir,
		adminMaxOrders: adminMaxOrders,
		info:           info,
	}
}

// CreateOrderRequest is the JSON payload for creating an order.
type CreateOrderRequest struct {
	// ProductID selects the catalog product to buy.
	ProductID string `json:"productId" example:"lux-clothing"`
	// BuyerEmail receives the delivery email after capture.
	BuyerEmail string `json:"buyerEmail" example:"buyer@example.com"`
	// Currency optionally overrides the charge currency (3-letter ISO code).
	Currency string `json:"currency,omitempty" example:"USD"`
	// TestCharge requests the 1.00 test amount; honored only when enabled
	// server-side.
	TestCharge bool `json:"testCharge,omitempty"`
}

// CreateOrderResponse echoes the gateway order id and the charged amount.
type CreateOrderResponse struct {
	ID       string `json:"id"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// CaptureOrderRequest is the JSON payload for capturing an approved order.
type CaptureOrderRequest struct {
	OrderID string `json:"orderID" example:"5O190127TN364715T"`
}

// CapturedOrder is the buyer-facing view of a captured order.
type CapturedOrder struct {
	ProductID       string `json:"productId"`
	Email           string `json:"email"`
	OrderID         string `json:"orderId"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	PaymentProvider string `json:"paymentProvider"`
	PayerName       string `json:"payerName"`
	Verified        bool   `json:"verified"`
	DownloadURL     string `json:"downloadUrl"`
}

// CaptureOrderResponse wraps the captured order.
type CaptureOrderResponse struct {
	OK    bool          `json:"ok"`
	Order CapturedOrder `json:"order"`
}

// Config godoc
// @ID          storefrontConfig
// @Summary     Public storefront configuration
// @Tags        Config
// @Produce     json
// @Success     200 {object} handlers.StorefrontInfo
// @Router      /config [get]
func (h *Handlers) Config(c *gin.Context) {
	ok(c, http.StatusOK, h.info)
}

// CreateOrder godoc
// @ID          createOrder
// @Summary     Create a payment order
// @Description Creates a gateway order for a catalog product and returns the gateway order id for client-side approval.
// @Tags        Orders
// @Accept      json
// @Produce     json
// @Param       body body handlers.CreateOrderRequest true "Create order payload"
// @Success     200 {object} handlers.CreateOrderResponse
// @Failure     400 {object} handlers.ErrorResponse "Missing fields"
// @Failure     404 {object} handlers.ErrorResponse "Unknown product"
// @Failure     500 {object} handlers.ErrorResponse "Gateway or storage failure"
// @Router      /paypal/create-order [post]
func (h *Handlers) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	order, err := h.svc.CreateOrder(c.Request.Context(),
		strings.TrimSpace(req.ProductID),
		strings.TrimSpace(req.BuyerEmail),
		req.Currency,
		req.TestCharge)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrMissingFields):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "productId and buyerEmail are required")
		case errors.Is(err, services.ErrProductNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "product not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		}
		return
	}

	ok(c, http.StatusOK, CreateOrderResponse{
		ID:       order.GatewayOrderID,
		Amount:   order.Amount,
		Currency: order.Currency,
	})
}

// CaptureOrder godoc
// @ID          captureOrder
// @Summary     Capture an approved order
// @Description Captures funds for an approved gateway order, assigns the download token, and attempts the delivery email.
// @Tags        Orders
// @Accept      json
// @Produce     json
// @Param       body body handlers.CaptureOrderRequest true "Capture payload"
// @Success     200 {object} handlers.CaptureOrderResponse
// @Failure     400 {object} handlers.ErrorResponse "Missing orderID"
// @Failure     404 {object} handlers.ErrorResponse "Unknown order"
// @Failure     500 {object} handlers.ErrorResponse "Gateway or storage failure"
// @Router      /paypal/capture-order [post]
func (h *Handlers) CaptureOrder(c *gin.Context) {
	var req CaptureOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	order, err := h.svc.CaptureOrder(c.Request.Context(), strings.TrimSpace(req.OrderID))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrMissingFields):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "orderID is required")
		case errors.Is(err, services.ErrOrderNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "order not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeCaptureFailed, err.Error())
		}
		return
	}

	provider := "PayPal"
	if order.PaymentSource != "" {
		provider = "PayPal (" + order.PaymentSource + ")"
	}
	downloadURL := ""
	if order.DownloadToken != nil && *order.DownloadToken != "" {
		downloadURL = h.siteURL + "/download/" + *order.DownloadToken
	}

	ok(c, http.StatusOK, CaptureOrderResponse{
		OK: true,
		Order: CapturedOrder{
			ProductID:       order.ProductID,
			Email:           order.BuyerEmail,
			OrderID:         order.Reference(),
			Amount:          order.Amount,
			Currency:        order.Currency,
			PaymentProvider: provider,
			PayerName:       order.PayerName,
			Verified:        order.Verified,
			DownloadURL:     downloadURL,
		},
	})
}
