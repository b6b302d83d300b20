// Package domain defines the persistence models for the storefront. The Order
// type is the sole business entity: one row per purchase attempt, carried
// through the CREATED → CAPTURED → COMPLETED lifecycle. These types are mapped
// with GORM and shared across the repository and service layers.
package domain

import "time"

// Order statuses. The status only ever moves forward; there is no failure
// state, a failed create or capture simply leaves the row absent or
// unchanged.
const (
	StatusCreated   = "CREATED"
	StatusCaptured  = "CAPTURED"
	StatusCompleted = "COMPLETED"
)

// Order represents a single purchase attempt against the payment gateway.
//
// Fields:
//   - ID: store-assigned sequential primary key, immutable.
//   - GatewayOrderID: gateway-assigned order id, unique; repeated checkout
//     attempts reusing the same gateway id upsert the same row.
//   - CaptureID: gateway-assigned capture id; nil until funds are captured.
//   - ProductID/ProductName/ProductCategory: denormalized product snapshot
//     taken at creation time (the catalog may change after purchase).
//   - Amount: decimal-as-text to avoid floating point drift; Currency: ISO code.
//   - Verified: true only after an authenticated gateway webhook confirmed the
//     capture. Verified implies StatusCompleted; the converse does not hold.
//   - EmailSent: delivery-email latch. Claimed atomically before dispatch and
//     released if dispatch fails, so at most one email goes out per order.
//   - DownloadToken: unguessable token granting file access; generated at
//     first capture and never regenerated.
//   - RawCapture: opaque capture payload retained for audit, never reparsed.
type Order struct {
	ID              uint      `json:"id"               gorm:"primaryKey"`
	GatewayOrderID  string    `json:"gateway_order_id" gorm:"type:varchar(64);uniqueIndex:ux_orders_gateway_id;not null"`
	CaptureID       *string   `json:"capture_id"       gorm:"type:varchar(64);index:idx_orders_capture_id"`
	ProductID       string    `json:"product_id"       gorm:"type:varchar(64);not null"`
	ProductName     string    `json:"product_name"     gorm:"type:varchar(255);not null"`
	ProductCategory string    `json:"product_category" gorm:"type:varchar(64);not null"`
	BuyerEmail      string    `json:"buyer_email"      gorm:"type:varchar(255);not null"`
	Amount          string    `json:"amount"           gorm:"type:varchar(32);not null"`
	Currency        string    `json:"currency"         gorm:"type:varchar(8);not null"`
	Status          string    `json:"status"           gorm:"type:varchar(16);not null;default:'CREATED';check:status IN ('CREATED','CAPTURED','COMPLETED')"`
	Verified        bool      `json:"verified"         gorm:"not null;default:false"`
	EmailSent       bool      `json:"email_sent"       gorm:"not null;default:false"`
	DownloadToken   *string   `json:"-"                gorm:"type:varchar(64);index:idx_orders_download_token"`
	PayerName       string    `json:"payer_name"       gorm:"type:varchar(255)"`
	PaymentSource   string    `json:"payment_source"   gorm:"type:varchar(32)"`
	RawCapture      string    `json:"-"                gorm:"type:text"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName returns the database table name for Order.
func (Order) TableName() string { return "orders" }

// Captured reports whether the order has reached a state that grants download
// access (funds captured, possibly also webhook-verified).
func (o *Order) Captured() bool {
	return o.Status == StatusCaptured || o.Status == StatusCompleted
}

// Reference returns the buyer-facing order reference: the capture id when
// present, otherwise the gateway order id.
func (o *Order) Reference() string {
	if o.CaptureID != nil && *o.CaptureID != "" {
		return *o.CaptureID
	}
	return o.GatewayOrderID
}

// WebhookEvent records a processed gateway webhook event id. The gateway
// delivers events at least once; a replayed event id short-circuits without
// re-running side effects.
type WebhookEvent struct {
	EventID   string    `gorm:"type:varchar(128);primaryKey"`
	EventType string    `gorm:"type:varchar(64);index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName returns the database table name for WebhookEvent.
func (WebhookEvent) TableName() string { return "webhook_events" }
