// Package repo implements the data persistence layer for the order store,
// backed by GORM. This file provides repository functions for the Order model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition. Lifecycle rules (who may capture, when
// delivery email fires) live in the service layer; the one rule enforced here
// is that an order's status never moves backwards.
//
// Error semantics:
//   - When an order is not found, functions return ErrNotFound
//     (an alias of gorm.ErrRecordNotFound).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/resellplug/storefront-backend/internal/catalog"
	"github.com/resellplug/storefront-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for consistency across the service layer
// and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// downloadTokenBytes is the entropy of a download token; hex-encoded it
// yields 48 characters.
const downloadTokenBytes = 24

// NewDownloadToken returns a fresh unguessable download token.
func NewDownloadToken() string {
	b := make([]byte, downloadTokenBytes)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand only fails when the OS entropy source is broken;
		// nothing sensible can continue from there.
		panic(err)
	}
	return hex.EncodeToString(b)
}

// UpsertCreated inserts a CREATED order row for gatewayOrderID. When a row
// with that gateway id already exists it overwrites buyer email, amount and
// currency and resets the status to CREATED. Re-attempted checkouts that reuse
// a stale gateway order id therefore update the same row instead of creating
// duplicates. The product snapshot is denormalized at insert time and left
// untouched on update.
func UpsertCreated(ctx context.Context, db *gorm.DB, gatewayOrderID string, product catalog.Product, buyerEmail, amount, currency string) (*domain.Order, error) {
	var existing domain.Order
	err := db.WithContext(ctx).
		Where("gateway_order_id = ?", gatewayOrderID).
		First(&existing).Error
	switch {
	case err == nil:
		res := db.WithContext(ctx).
			Model(&domain.Order{}).
			Where("gateway_order_id = ?", gatewayOrderID).
			Updates(map[string]any{
				"buyer_email": buyerEmail,
				"amount":      amount,
				"currency":    currency,
				"status":      domain.StatusCreated,
				"updated_at":  time.Now().UTC(),
			})
		if res.Error != nil {
			return nil, res.Error
		}
		return OrderByGatewayID(ctx, db, gatewayOrderID)
	case errors.Is(err, gorm.ErrRecordNotFound):
		o := &domain.Order{
			GatewayOrderID:  gatewayOrderID,
			ProductID:       product.ID,
			ProductName:     product.Name,
			ProductCategory: product.Category,
			BuyerEmail:      buyerEmail,
			Amount:          amount,
			Currency:        currency,
			Status:          domain.StatusCreated,
		}
		if err := db.WithContext(ctx).Create(o).Error; err != nil {
			return nil, err
		}
		return o, nil
	default:
		return nil, err
	}
}

// RecordCapture stores the capture outcome on the order identified by
// gatewayOrderID: capture id, payment source, payer name, and the raw capture
// payload. A download token is assigned on first capture and preserved on any
// repeat. The status moves to CAPTURED only from CREATED; a COMPLETED order
// re-capturing (gateway retry) never regresses. Empty metadata values never
// overwrite what an earlier capture recorded, so a sparse webhook attachment
// cannot clobber the payer name or raw payload of the synchronous capture.
//
// Returns ErrNotFound when no order exists for gatewayOrderID.
func RecordCapture(ctx context.Context, db *gorm.DB, gatewayOrderID, captureID, paymentSource, payerName, rawCapture string) (*domain.Order, error) {
	existing, err := OrderByGatewayID(ctx, db, gatewayOrderID)
	if err != nil {
		return nil, err
	}

	token := ""
	if existing.DownloadToken != nil && *existing.DownloadToken != "" {
		token = *existing.DownloadToken
	} else {
		token = NewDownloadToken()
	}

	updates := map[string]any{
		"capture_id":     captureID,
		"download_token": token,
		"status":         gorm.Expr("CASE WHEN status = ? THEN ? ELSE status END", domain.StatusCreated, domain.StatusCaptured),
		"updated_at":     time.Now().UTC(),
	}
	if paymentSource != "" {
		updates["payment_source"] = paymentSource
	}
	if payerName != "" {
		updates["payer_name"] = payerName
	}
	if rawCapture != "" {
		updates["raw_capture"] = rawCapture
	}

	res := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ?", existing.ID).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	return OrderByGatewayID(ctx, db, gatewayOrderID)
}

// MarkVerifiedByCapture flags the order carrying captureID as webhook-verified
// and moves it to COMPLETED. Returns the updated order, or ErrNotFound when no
// order carries that capture id.
func MarkVerifiedByCapture(ctx context.Context, db *gorm.DB, captureID string) (*domain.Order, error) {
	existing, err := OrderByCaptureID(ctx, db, captureID)
	if err != nil {
		return nil, err
	}
	res := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ?", existing.ID).
		Updates(map[string]any{
			"verified":   true,
			"status":     domain.StatusCompleted,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	return orderByID(ctx, db, existing.ID)
}

// ClaimEmailDispatch atomically flips email_sent from false to true for the
// given order and reports whether this caller won the claim. The synchronous
// capture path and the asynchronous webhook path both race through here; the
// compare-and-set guarantees only one of them dispatches the delivery email.
func ClaimEmailDispatch(ctx context.Context, db *gorm.DB, orderID uint) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ? AND email_sent = ?", orderID, false).
		Updates(map[string]any{
			"email_sent": true,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReleaseEmailDispatch undoes a claim after a failed dispatch so that the
// other trigger path may still attempt delivery. Only ever called by the
// claim winner; a successfully dispatched email is never released.
func ReleaseEmailDispatch(ctx context.Context, db *gorm.DB, orderID uint) error {
	return db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]any{
			"email_sent": false,
			"updated_at": time.Now().UTC(),
		}).Error
}

// OrderByGatewayID returns the most recent order for a gateway order id,
// or ErrNotFound.
func OrderByGatewayID(ctx context.Context, db *gorm.DB, gatewayOrderID string) (*domain.Order, error) {
	var o domain.Order
	err := db.WithContext(ctx).
		Where("gateway_order_id = ?", gatewayOrderID).
		Order("id desc").
		First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// OrderByCaptureID returns the most recent order for a capture id,
// or ErrNotFound.
func OrderByCaptureID(ctx context.Context, db *gorm.DB, captureID string) (*domain.Order, error) {
	var o domain.Order
	err := db.WithContext(ctx).
		Where("capture_id = ?", captureID).
		Order("id desc").
		First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// OrderByToken returns the most recent order for a download token,
// or ErrNotFound.
func OrderByToken(ctx context.Context, db *gorm.DB, token string) (*domain.Order, error) {
	var o domain.Order
	err := db.WithContext(ctx).
		Where("download_token = ?", token).
		Order("id desc").
		First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ListRecentOrders returns up to limit orders, newest first.
func ListRecentOrders(ctx context.Context, db *gorm.DB, limit int) ([]domain.Order, error) {
	var out []domain.Order
	err := db.WithContext(ctx).
		Order("id desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// orderByID fetches a single order by primary key.
func orderByID(ctx context.Context, db *gorm.DB, id uint) (*domain.Order, error) {
	var o domain.Order
	if err := db.WithContext(ctx).First(&o, id).Error; err != nil {
		return nil, err
	}
	return &o, nil
}
