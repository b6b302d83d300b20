package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/resellplug/storefront-backend/internal/catalog"
	"github.com/resellplug/storefront-backend/internal/domain"
	"github.com/resellplug/storefront-backend/internal/paypal"
	"github.com/resellplug/storefront-backend/internal/repo"
)

// captureCompletedEvent is the gateway event type that confirms captured funds.
const captureCompletedEvent = "PAYMENT.CAPTURE.COMPLETED"

// PaymentGateway abstracts the payment provider so that tests can run against
// a stub. The production implementation is paypal.Client.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, amount, currency, description, referenceID string) (string, error)
	CaptureOrder(ctx context.Context, gatewayOrderID string) (*paypal.CaptureResult, error)
	VerifyWebhookSignature(ctx context.Context, hdr paypal.WebhookHeaders, rawEvent json.RawMessage) (bool, error)
	WebhookID() string
}

// DeliveryNotifier dispatches the purchase delivery email. Implementations
// report (false, nil) when mail is disabled.
type DeliveryNotifier interface {
	Deliver(ctx context.Context, order *domain.Order, product catalog.Product) (bool, error)
}

// OrderService implements the order lifecycle: create at the gateway, capture,
// webhook verification, and idempotent delivery email dispatch. The capture
// response path and the webhook path both converge on maybeDeliver, which
// guarantees at most one email per order.
type OrderService struct {
	DB       *gorm.DB
	Gateway  PaymentGateway
	Catalog  *catalog.Catalog
	Notifier DeliveryNotifier

	ChargeCurrency  string
	AllowTestCharge bool
}

func tracer() trace.Tracer { return otel.Tracer("services") }

// CreateOrder validates the request, creates a gateway order for the product's
// price, and persists a CREATED row. When testCharge is requested and allowed
// by configuration, the amount is overridden to 1.00.
func (s *OrderService) CreateOrder(ctx context.Context, productID, buyerEmail, requestCurrency string, testCharge bool) (*domain.Order, error) {
	ctx, span := tracer().Start(ctx, "OrderService.CreateOrder",
		trace.WithAttributes(attribute.String("product.id", productID)))
	defer span.End()

	if strings.TrimSpace(productID) == "" || strings.TrimSpace(buyerEmail) == "" {
		return nil, ErrMissingFields
	}
	product, ok := s.Catalog.Find(productID)
	if !ok {
		return nil, ErrProductNotFound
	}

	amount := fmt.Sprintf("%.2f", product.Price)
	if testCharge && s.AllowTestCharge {
		amount = "1.00"
	}
	currency := normalizeCurrency(requestCurrency, s.ChargeCurrency)

	gatewayOrderID, err := s.Gateway.CreateOrder(ctx, amount, currency, product.Name, product.ID)
	if err != nil {
		return nil, fmt.Errorf("create gateway order: %w", err)
	}

	order, err := repo.UpsertCreated(ctx, s.DB, gatewayOrderID, product, buyerEmail, amount, currency)
	if err != nil {
		return nil, fmt.Errorf("persist created order: %w", err)
	}

	ordersCreatedTotal.Inc()
	log.Info().
		Str("gateway_order_id", gatewayOrderID).
		Str("product_id", product.ID).
		Str("amount", amount).
		Str("currency", currency).
		Msg("order created")
	return order, nil
}

// CaptureOrder captures an approved gateway order and records the outcome.
// The download token is assigned here on first capture. After persisting, the
// delivery email is attempted; a mail failure never fails the capture.
//
// Returns ErrOrderNotFound when no CREATED row exists for the gateway id, in
// which case the gateway is not called and nothing is mutated.
func (s *OrderService) CaptureOrder(ctx context.Context, gatewayOrderID string) (*domain.Order, error) {
	ctx, span := tracer().Start(ctx, "OrderService.CaptureOrder",
		trace.WithAttributes(attribute.String("gateway.order_id", gatewayOrderID)))
	defer span.End()

	if strings.TrimSpace(gatewayOrderID) == "" {
		return nil, ErrMissingFields
	}
	if _, err := repo.OrderByGatewayID(ctx, s.DB, gatewayOrderID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	result, err := s.Gateway.CaptureOrder(ctx, gatewayOrderID)
	if err != nil {
		return nil, fmt.Errorf("capture gateway order: %w", err)
	}

	order, err := repo.RecordCapture(ctx, s.DB, gatewayOrderID,
		result.CaptureID, result.PaymentSource, result.PayerName, string(result.Raw))
	if err != nil {
		return nil, fmt.Errorf("persist capture: %w", err)
	}

	ordersCapturedTotal.Inc()
	log.Info().
		Str("gateway_order_id", gatewayOrderID).
		Str("capture_id", result.CaptureID).
		Str("payment_source", result.PaymentSource).
		Msg("order captured")

	s.maybeDeliver(ctx, order)

	// Re-read so the response reflects the email_sent outcome.
	return repo.OrderByGatewayID(ctx, s.DB, gatewayOrderID)
}

// webhookEvent is the subset of a gateway event the service acts on.
type webhookEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID                string `json:"id"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

// ProcessWebhook verifies and applies an inbound gateway webhook event.
//
// The signature is verified against the gateway before anything else; an
// event that fails verification mutates nothing. Verified events are
// deduplicated by event id, but the dedup row is only written once the
// event's effects are fully applied and the delivery email has settled. An
// event whose processing failed partway (verification write error, failed
// dispatch) is therefore retried in full when the gateway redelivers it or
// an operator replays it. A capture-completed event marks the matching order
// verified and COMPLETED and attempts delivery. Events that match no order,
// and event types other than capture-completed, are acknowledged without
// side effects.
func (s *OrderService) ProcessWebhook(ctx context.Context, hdr paypal.WebhookHeaders, raw []byte) error {
	ctx, span := tracer().Start(ctx, "OrderService.ProcessWebhook")
	defer span.End()

	if s.Gateway.WebhookID() == "" {
		return ErrWebhookNotConfigured
	}

	ok, err := s.Gateway.VerifyWebhookSignature(ctx, hdr, json.RawMessage(raw))
	if err != nil {
		return fmt.Errorf("verify webhook signature: %w", err)
	}
	if !ok {
		webhookEventsTotal.WithLabelValues("rejected").Inc()
		return ErrWebhookSignature
	}

	var event webhookEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return fmt.Errorf("parse webhook event: %w", err)
	}

	if event.ID != "" {
		seen, err := repo.WebhookEventSeen(ctx, s.DB, event.ID)
		if err != nil {
			return fmt.Errorf("lookup webhook event: %w", err)
		}
		if seen {
			webhookEventsTotal.WithLabelValues("duplicate").Inc()
			log.Debug().Str("event_id", event.ID).Msg("duplicate webhook event ignored")
			return nil
		}
	}

	if event.EventType != captureCompletedEvent {
		webhookEventsTotal.WithLabelValues("ignored").Inc()
		s.latchWebhookEvent(ctx, event)
		return nil
	}

	order, err := s.resolveWebhookOrder(ctx, event)
	if err != nil {
		return err
	}
	if order == nil {
		// Not latched: a replay may still match once the order exists.
		webhookEventsTotal.WithLabelValues("unmatched").Inc()
		log.Warn().
			Str("event_id", event.ID).
			Str("capture_id", event.Resource.ID).
			Msg("webhook event matched no order")
		return nil
	}

	verified, err := repo.MarkVerifiedByCapture(ctx, s.DB, event.Resource.ID)
	if err != nil {
		return fmt.Errorf("mark order verified: %w", err)
	}

	ordersVerifiedTotal.Inc()
	webhookEventsTotal.WithLabelValues("applied").Inc()
	log.Info().
		Str("event_id", event.ID).
		Str("capture_id", event.Resource.ID).
		Str("gateway_order_id", verified.GatewayOrderID).
		Msg("order verified by webhook")

	if s.maybeDeliver(ctx, verified) {
		s.latchWebhookEvent(ctx, event)
	}
	return nil
}

// latchWebhookEvent records the event id so redeliveries short-circuit. Only
// called after processing finished; a failed insert is logged and left for
// the next delivery to settle.
func (s *OrderService) latchWebhookEvent(ctx context.Context, event webhookEvent) {
	if event.ID == "" {
		return
	}
	if err := repo.RecordWebhookEvent(ctx, s.DB, event.ID, event.EventType); err != nil && !errors.Is(err, repo.ErrDuplicate) {
		log.Warn().Err(err).Str("event_id", event.ID).Msg("record webhook event")
	}
}

// resolveWebhookOrder locates the order a capture-completed event refers to:
// first by capture id, then by the related gateway order id. When the webhook
// beats the synchronous capture response, the capture id is recorded here so
// the later client capture becomes a no-op repeat.
func (s *OrderService) resolveWebhookOrder(ctx context.Context, event webhookEvent) (*domain.Order, error) {
	captureID := event.Resource.ID
	if captureID == "" {
		return nil, nil
	}

	order, err := repo.OrderByCaptureID(ctx, s.DB, captureID)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	gatewayOrderID := event.Resource.SupplementaryData.RelatedIDs.OrderID
	if gatewayOrderID == "" {
		return nil, nil
	}
	if _, err := repo.OrderByGatewayID(ctx, s.DB, gatewayOrderID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	order, err = repo.RecordCapture(ctx, s.DB, gatewayOrderID, captureID, "paypal", "", "")
	if err != nil {
		return nil, fmt.Errorf("attach webhook capture: %w", err)
	}
	return order, nil
}

// ResolveDownload maps a download token to its order and product. The token
// only grants access once funds are captured.
func (s *OrderService) ResolveDownload(ctx context.Context, token string) (*domain.Order, catalog.Product, error) {
	ctx, span := tracer().Start(ctx, "OrderService.ResolveDownload")
	defer span.End()

	if strings.TrimSpace(token) == "" {
		return nil, catalog.Product{}, ErrDownloadNotFound
	}
	order, err := repo.OrderByToken(ctx, s.DB, token)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, catalog.Product{}, ErrDownloadNotFound
		}
		return nil, catalog.Product{}, err
	}
	if !order.Captured() {
		return nil, catalog.Product{}, ErrDownloadNotEligible
	}
	product, _ := s.Catalog.Find(order.ProductID)
	return order, product, nil
}

// ListRecent returns up to limit orders, newest first, for the admin listing.
func (s *OrderService) ListRecent(ctx context.Context, limit int) ([]domain.Order, error) {
	return repo.ListRecentOrders(ctx, s.DB, limit)
}

// maybeDeliver attempts the delivery email for a captured order. The
// email_sent latch is claimed first; only the claim winner dispatches. A
// failed or skipped dispatch releases the claim so the other trigger path
// (capture response vs. webhook) can still deliver.
//
// The return value reports whether the order's delivery is settled: the
// email went out now or earlier, or never can (delisted product). A false
// return means a later attempt should retry.
func (s *OrderService) maybeDeliver(ctx context.Context, order *domain.Order) bool {
	if order == nil || !order.Captured() {
		return false
	}
	product, ok := s.Catalog.Find(order.ProductID)
	if !ok {
		// Snapshot references a delisted product; nothing to deliver.
		deliveryEmailsTotal.WithLabelValues("skipped").Inc()
		return true
	}

	won, err := repo.ClaimEmailDispatch(ctx, s.DB, order.ID)
	if err != nil {
		log.Error().Err(err).Uint("order_id", order.ID).Msg("claim email dispatch")
		return false
	}
	if !won {
		deliveryEmailsTotal.WithLabelValues("already_sent").Inc()
		return true
	}

	dispatched, err := s.Notifier.Deliver(ctx, order, product)
	if err != nil || !dispatched {
		if relErr := repo.ReleaseEmailDispatch(ctx, s.DB, order.ID); relErr != nil {
			log.Error().Err(relErr).Uint("order_id", order.ID).Msg("release email dispatch")
		}
		if err != nil {
			deliveryEmailsTotal.WithLabelValues("failed").Inc()
			log.Error().Err(err).
				Uint("order_id", order.ID).
				Str("order_ref", order.Reference()).
				Msg("delivery email failed")
		} else {
			deliveryEmailsTotal.WithLabelValues("skipped").Inc()
		}
		return false
	}
	deliveryEmailsTotal.WithLabelValues("sent").Inc()
	return true
}

// normalizeCurrency returns the requested currency when it looks like a valid
// ISO code, otherwise the configured default.
func normalizeCurrency(requested, fallback string) string {
	c := strings.ToUpper(strings.TrimSpace(requested))
	if len(c) == 3 {
		return c
	}
	return fallback
}
