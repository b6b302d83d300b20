package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/resellplug/storefront-backend/internal/catalog"
	"github.com/resellplug/storefront-backend/internal/domain"
	"github.com/resellplug/storefront-backend/internal/paypal"
	"github.com/resellplug/storefront-backend/internal/services"
)

// ----- Stub service -----

type stubOrderService struct {
	createOrder *domain.Order
	createErr   error

	captureOrder *domain.Order
	captureErr   error

	webhookErr error
	webhookRaw []byte

	downloadOrder   *domain.Order
	downloadProduct catalog.Product
	downloadErr     error

	listOrders []domain.Order
	listErr    error
	listLimit  int
}

func (s *stubOrderService) CreateOrder(ctx context.Context, productID, buyerEmail, currency string, testCharge bool) (*domain.Order, error) {
	return s.createOrder, s.createErr
}

func (s *stubOrderService) CaptureOrder(ctx context.Context, gatewayOrderID string) (*domain.Order, error) {
	return s.captureOrder, s.captureErr
}

func (s *stubOrderService) ProcessWebhook(ctx context.Context, hdr paypal.WebhookHeaders, raw []byte) error {
	s.webhookRaw = raw
	return s.webhookErr
}

func (s *stubOrderService) ResolveDownload(ctx context.Context, token string) (*domain.Order, catalog.Product, error) {
	return s.downloadOrder, s.downloadProduct, s.downloadErr
}

func (s *stubOrderService) ListRecent(ctx context.Context, limit int) ([]domain.Order, error) {
	s.listLimit = limit
	return s.listOrders, s.listErr
}

// ----- Helpers -----

func newTestRouter(svc OrderService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := New(svc, nil, "https://shop.example.com", "", 300, StorefrontInfo{
		PayPalClientID:  "client-id",
		DefaultCurrency: "CAD",
		PayPalEnv:       "sandbox",
		SiteURL:         "https://shop.example.com",
	})
	r.GET("/api/config", h.Config)
	r.POST("/api/paypal/create-order", h.CreateOrder)
	r.POST("/api/paypal/capture-order", h.CaptureOrder)
	r.POST("/api/paypal/webhook", h.Webhook)
	r.GET("/download/:token", h.Download)
	r.GET("/api/admin/orders", h.AdminOrders)
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func strptr(s string) *string { return &s }

// ----- Config -----

func TestConfigEndpoint(t *testing.T) {
	w := do(newTestRouter(&stubOrderService{}), http.MethodGet, "/api/config", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{`"paypalClientId":"client-id"`, `"defaultCurrency":"CAD"`, `"paypalEnv":"sandbox"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %s: %s", want, body)
		}
	}
}

// ----- Create -----

func TestCreateOrder_OK(t *testing.T) {
	svc := &stubOrderService{createOrder: &domain.Order{
		GatewayOrderID: "PP-1", Amount: "9.99", Currency: "USD",
	}}
	w := do(newTestRouter(svc), http.MethodPost, "/api/paypal/create-order",
		`{"productId":"lux-clothing","buyerEmail":"a@example.com"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"id":"PP-1"`) {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestCreateOrder_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"missing fields", services.ErrMissingFields, http.StatusBadRequest, ErrCodeBadRequest},
		{"unknown product", services.ErrProductNotFound, http.StatusNotFound, ErrCodeNotFound},
		{"gateway down", context.DeadlineExceeded, http.StatusInternalServerError, ErrCodeCreateFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubOrderService{createErr: tc.err}
			w := do(newTestRouter(svc), http.MethodPost, "/api/paypal/create-order",
				`{"productId":"x","buyerEmail":"a@example.com"}`)
			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d", w.Code, tc.status)
			}
			if !strings.Contains(w.Body.String(), `"code":"`+tc.code+`"`) {
				t.Fatalf("body = %s", w.Body.String())
			}
		})
	}
}

func TestCreateOrder_InvalidJSON(t *testing.T) {
	w := do(newTestRouter(&stubOrderService{}), http.MethodPost, "/api/paypal/create-order", `{"productId":`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

// ----- Capture -----

func TestCaptureOrder_ResponseShape(t *testing.T) {
	capID := "CAP-1"
	tok := "aabbccddeeff00112233445566778899aabbccddeeff0011"
	svc := &stubOrderService{captureOrder: &domain.Order{
		GatewayOrderID: "PP-1",
		CaptureID:      &capID,
		ProductID:      "lux-clothing",
		BuyerEmail:     "a@example.com",
		Amount:         "9.99",
		Currency:       "USD",
		Status:         domain.StatusCaptured,
		PaymentSource:  "paypal",
		PayerName:      "Ada",
		DownloadToken:  &tok,
	}}
	w := do(newTestRouter(svc), http.MethodPost, "/api/paypal/capture-order", `{"orderID":"PP-1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	for _, want := range []string{
		`"ok":true`,
		`"orderId":"CAP-1"`,
		`"paymentProvider":"PayPal (paypal)"`,
		`"downloadUrl":"https://shop.example.com/download/` + tok + `"`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %s: %s", want, body)
		}
	}
}

func TestCaptureOrder_NotFound(t *testing.T) {
	svc := &stubOrderService{captureErr: services.ErrOrderNotFound}
	w := do(newTestRouter(svc), http.MethodPost, "/api/paypal/capture-order", `{"orderID":"PP-X"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

// ----- Webhook -----

func TestWebhook_Received(t *testing.T) {
	svc := &stubOrderService{}
	w := do(newTestRouter(svc), http.MethodPost, "/api/paypal/webhook", `{"id":"WH-1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"received":true`) {
		t.Fatalf("body = %s", w.Body.String())
	}
	if string(svc.webhookRaw) != `{"id":"WH-1"}` {
		t.Fatalf("raw body not passed through: %q", svc.webhookRaw)
	}
}

func TestWebhook_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"not configured", services.ErrWebhookNotConfigured, http.StatusInternalServerError},
		{"bad signature", services.ErrWebhookSignature, http.StatusBadRequest},
		{"processing failure", context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubOrderService{webhookErr: tc.err}
			w := do(newTestRouter(svc), http.MethodPost, "/api/paypal/webhook", `{}`)
			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d", w.Code, tc.status)
			}
		})
	}
}

// ----- Download -----

func TestDownload_Manifest(t *testing.T) {
	capID := "CAP-2"
	svc := &stubOrderService{
		downloadOrder: &domain.Order{
			GatewayOrderID: "PP-2",
			CaptureID:      &capID,
			Status:         domain.StatusCompleted,
		},
		downloadProduct: catalog.Product{
			ID:            "lux-clothing",
			Name:          "Clothing Vendor",
			Category:      "Clothing",
			WhatYouGet:    []string{"1,000+ items"},
			DeliveryLinks: []string{"https://example.com/vendors"},
		},
	}
	w := do(newTestRouter(svc), http.MethodGet, "/download/sometoken", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type = %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "lux-clothing-list.txt") {
		t.Fatalf("content disposition = %q", cd)
	}
	body := w.Body.String()
	for _, want := range []string{"Clothing Vendor", "Order ID: CAP-2", "https://example.com/vendors"} {
		if !strings.Contains(body, want) {
			t.Fatalf("manifest missing %q: %s", want, body)
		}
	}
}

func TestDownload_Errors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"unknown token", services.ErrDownloadNotFound, http.StatusNotFound},
		{"not eligible", services.ErrDownloadNotEligible, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubOrderService{downloadErr: tc.err}
			w := do(newTestRouter(svc), http.MethodGet, "/download/tok", "")
			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d", w.Code, tc.status)
			}
		})
	}
}

func TestDownload_DelistedProduct(t *testing.T) {
	svc := &stubOrderService{
		downloadOrder: &domain.Order{Status: domain.StatusCaptured},
		// Zero-value product: the catalog no longer lists the purchase.
	}
	w := do(newTestRouter(svc), http.MethodGet, "/download/tok", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

// ----- Admin -----

func TestAdminOrders_ClampsLimit(t *testing.T) {
	svc := &stubOrderService{listOrders: []domain.Order{
		{GatewayOrderID: "PP-1", DownloadToken: strptr("secret-token")},
	}}
	r := newTestRouter(svc)

	w := do(r, http.MethodGet, "/api/admin/orders?limit=5000", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if svc.listLimit != 300 {
		t.Fatalf("limit = %d, want clamp to 300", svc.listLimit)
	}

	// Download tokens never appear in the admin listing.
	if strings.Contains(w.Body.String(), "secret-token") {
		t.Fatalf("admin listing leaked a download token: %s", w.Body.String())
	}
}

func TestAdminOrders_EmptyListIsArray(t *testing.T) {
	svc := &stubOrderService{}
	w := do(newTestRouter(svc), http.MethodGet, "/api/admin/orders", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"orders":[]`) {
		t.Fatalf("body = %s", w.Body.String())
	}
}
