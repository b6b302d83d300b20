package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/resellplug/storefront-backend/internal/catalog"
	"github.com/resellplug/storefront-backend/internal/domain"
	"github.com/resellplug/storefront-backend/internal/paypal"
	"github.com/resellplug/storefront-backend/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:ordersvc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Order{}, &domain.WebhookEvent{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// ----- Fake gateway -----

type fakeGateway struct {
	createID   string
	createErr  error
	captureRes *paypal.CaptureResult
	captureErr error
	verifyOK   bool
	verifyErr  error
	webhookID  string

	createCalls  int
	captureCalls int
	verifyCalls  int
}

func (g *fakeGateway) CreateOrder(ctx context.Context, amount, currency, description, referenceID string) (string, error) {
	g.createCalls++
	return g.createID, g.createErr
}

func (g *fakeGateway) CaptureOrder(ctx context.Context, gatewayOrderID string) (*paypal.CaptureResult, error) {
	g.captureCalls++
	return g.captureRes, g.captureErr
}

func (g *fakeGateway) VerifyWebhookSignature(ctx context.Context, hdr paypal.WebhookHeaders, rawEvent json.RawMessage) (bool, error) {
	g.verifyCalls++
	return g.verifyOK, g.verifyErr
}

func (g *fakeGateway) WebhookID() string { return g.webhookID }

// ----- Fake notifier -----

type fakeNotifier struct {
	dispatched bool
	err        error
	calls      int
	lastOrder  *domain.Order
}

func (n *fakeNotifier) Deliver(ctx context.Context, order *domain.Order, product catalog.Product) (bool, error) {
	n.calls++
	n.lastOrder = order
	return n.dispatched, n.err
}

// ----- Helpers -----

func newService(t *testing.T, db *gorm.DB, gw *fakeGateway, nt *fakeNotifier) *OrderService {
	t.Helper()
	return &OrderService{
		DB:              db,
		Gateway:         gw,
		Catalog:         catalog.Default(),
		Notifier:        nt,
		ChargeCurrency:  "USD",
		AllowTestCharge: false,
	}
}

func captureResult(captureID string) *paypal.CaptureResult {
	return &paypal.CaptureResult{
		CaptureID:     captureID,
		PaymentSource: "paypal",
		PayerName:     "Ada",
		Raw:           json.RawMessage(`{"id":"raw"}`),
	}
}

func captureEvent(eventID, captureID, orderID string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"event_type": "PAYMENT.CAPTURE.COMPLETED",
		"resource": {
			"id": %q,
			"supplementary_data": {"related_ids": {"order_id": %q}}
		}
	}`, eventID, captureID, orderID))
}

// ----- Create -----

func TestCreateOrder_Validation(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{createID: "PP-1"}
	svc := newService(t, db, gw, &fakeNotifier{})
	ctx := context.Background()

	if _, err := svc.CreateOrder(ctx, "", "a@example.com", "", false); !errors.Is(err, ErrMissingFields) {
		t.Fatalf("missing product err = %v", err)
	}
	if _, err := svc.CreateOrder(ctx, "lux-clothing", "", "", false); !errors.Is(err, ErrMissingFields) {
		t.Fatalf("missing email err = %v", err)
	}
	if _, err := svc.CreateOrder(ctx, "no-such-product", "a@example.com", "", false); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("unknown product err = %v", err)
	}
	if gw.createCalls != 0 {
		t.Fatalf("gateway called %d times on invalid input", gw.createCalls)
	}
}

func TestCreateOrder_PersistsCreatedRow(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{createID: "PP-2"}
	svc := newService(t, db, gw, &fakeNotifier{})

	o, err := svc.CreateOrder(context.Background(), "lux-clothing", "a@example.com", "", false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if o.GatewayOrderID != "PP-2" || o.Amount != "9.99" || o.Currency != "USD" {
		t.Fatalf("order = %+v", o)
	}
	if o.Status != domain.StatusCreated || o.EmailSent {
		t.Fatalf("fresh order state = %q emailSent=%v", o.Status, o.EmailSent)
	}
	if o.ProductName != "Clothing Vendor" || o.ProductCategory != "Clothing" {
		t.Fatalf("product snapshot = %+v", o)
	}
}

func TestCreateOrder_TestChargeRequiresServerOptIn(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{createID: "PP-3"}
	svc := newService(t, db, gw, &fakeNotifier{})

	o, err := svc.CreateOrder(context.Background(), "lux-clothing", "a@example.com", "", true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if o.Amount != "9.99" {
		t.Fatalf("test charge honored without opt-in: %q", o.Amount)
	}

	svc.AllowTestCharge = true
	gw.createID = "PP-4"
	o, err = svc.CreateOrder(context.Background(), "lux-clothing", "a@example.com", "", true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if o.Amount != "1.00" {
		t.Fatalf("test charge amount = %q", o.Amount)
	}
}

func TestCreateOrder_CurrencyFallback(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{createID: "PP-5"}
	svc := newService(t, db, gw, &fakeNotifier{})

	o, err := svc.CreateOrder(context.Background(), "lux-clothing", "a@example.com", "cad", false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if o.Currency != "CAD" {
		t.Fatalf("requested currency not honored: %q", o.Currency)
	}

	gw.createID = "PP-6"
	o, err = svc.CreateOrder(context.Background(), "lux-clothing", "a@example.com", "not-a-code", false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if o.Currency != "USD" {
		t.Fatalf("fallback currency = %q", o.Currency)
	}
}

// ----- Capture -----

func TestCaptureOrder_HappyPath(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{createID: "PP-7", captureRes: captureResult("CAP-7")}
	nt := &fakeNotifier{dispatched: true}
	svc := newService(t, db, gw, nt)
	ctx := context.Background()

	if _, err := svc.CreateOrder(ctx, "lux-clothing", "a@example.com", "", false); err != nil {
		t.Fatalf("create: %v", err)
	}
	o, err := svc.CaptureOrder(ctx, "PP-7")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if o.Status != domain.StatusCaptured || o.CaptureID == nil || *o.CaptureID != "CAP-7" {
		t.Fatalf("captured order = %+v", o)
	}
	if o.DownloadToken == nil || len(*o.DownloadToken) != 48 {
		t.Fatalf("token = %+v", o.DownloadToken)
	}
	if !o.EmailSent || nt.calls != 1 {
		t.Fatalf("emailSent=%v notifier calls=%d", o.EmailSent, nt.calls)
	}
}

func TestCaptureOrder_UnknownOrderDoesNotTouchGateway(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{captureRes: captureResult("CAP-X")}
	svc := newService(t, db, gw, &fakeNotifier{})

	if _, err := svc.CaptureOrder(context.Background(), "missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("err = %v", err)
	}
	if gw.captureCalls != 0 {
		t.Fatalf("gateway capture called %d times", gw.captureCalls)
	}
}

func TestCaptureOrder_MailFailureDoesNotFailCapture(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{createID: "PP-8", captureRes: captureResult("CAP-8")}
	nt := &fakeNotifier{err: errors.New("smtp down")}
	svc := newService(t, db, gw, nt)
	ctx := context.Background()

	if _, err := svc.CreateOrder(ctx, "lux-clothing", "a@example.com", "", false); err != nil {
		t.Fatalf("create: %v", err)
	}
	o, err := svc.CaptureOrder(ctx, "PP-8")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if o.Status != domain.StatusCaptured {
		t.Fatalf("status = %q", o.Status)
	}
	// The latch must be released so the webhook path can retry.
	if o.EmailSent {
		t.Fatal("email_sent latched after failed dispatch")
	}
}

// ----- Webhook -----

func TestProcessWebhook_NotConfigured(t *testing.T) {
	db := newTestDB(t)
	svc := newService(t, db, &fakeGateway{webhookID: ""}, &fakeNotifier{})

	err := svc.ProcessWebhook(context.Background(), paypal.WebhookHeaders{}, captureEvent("WH-1", "CAP-1", ""))
	if !errors.Is(err, ErrWebhookNotConfigured) {
		t.Fatalf("err = %v", err)
	}
}

func TestProcessWebhook_InvalidSignatureMutatesNothing(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{createID: "PP-9", captureRes: captureResult("CAP-9"), webhookID: "WH-ID", verifyOK: false}
	nt := &fakeNotifier{dispatched: true}
	svc := newService(t, db, gw, nt)
	ctx := context.Background()

	if _, err := svc.CreateOrder(ctx, "lux-clothing", "a@example.com", "", false); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.CaptureOrder(ctx, "PP-9"); err != nil {
		t.Fatalf("capture: %v", err)
	}
	nt.calls = 0

	err := svc.ProcessWebhook(ctx, paypal.WebhookHeaders{}, captureEvent("WH-2", "CAP-9", "PP-9"))
	if !errors.Is(err, ErrWebhookSignature) {
		t.Fatalf("err = %v", err)
	}

	o, err := repo.OrderByGatewayID(ctx, db, "PP-9")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if o.Verified || o.Status != domain.StatusCaptured {
		t.Fatalf("rejected webhook mutated order: %+v", o)
	}
	if nt.calls != 0 {
		t.Fatalf("rejected webhook dispatched email %d times", nt.calls)
	}
}

func TestProcessWebhook_VerifiesAndDelivers(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{createID: "PP-10", captureRes: captureResult("CAP-10"), webhookID: "WH-ID", verifyOK: true}
	// Capture-path delivery fails; the webhook path must pick it up.
	nt := &fakeNotifier{err: errors.New("smtp down")}
	svc := newService(t, db, gw, nt)
	ctx := context.Background()

	if _, err := svc.CreateOrder(ctx, "lux-clothing", "a@example.com", "", false); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.CaptureOrder(ctx, "PP-10"); err != nil {
		t.Fatalf("capture: %v", err)
	}

	nt.err = nil
	nt.dispatched = true
	if err := svc.ProcessWebhook(ctx, paypal.WebhookHeaders{}, captureEvent("WH-3", "CAP-10", "PP-10")); err != nil {
		t.Fatalf("webhook: %v", err)
	}

	o, err := repo.OrderByGatewayID(ctx, db, "PP-10")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !o.Verified || o.Status != domain.StatusCompleted || !o.EmailSent {
		t.Fatalf("order after webhook = %+v", o)
	}
}

func TestProcessWebhook_ExactlyOneEmailAcrossBothPaths(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{createID: "PP-11", captureRes: captureResult("CAP-11"), webhookID: "WH-ID", verifyOK: true}
	nt := &fakeNotifier{dispatched: true}
	svc := newService(t, db, gw, nt)
	ctx := context.Background()

	if _, err := svc.CreateOrder(ctx, "lux-clothing", "a@example.com", "", false); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.CaptureOrder(ctx, "PP-11"); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if err := svc.ProcessWebhook(ctx, paypal.WebhookHeaders{}, captureEvent("WH-4", "CAP-11", "PP-11")); err != nil {
		t.Fatalf("webhook: %v", err)
	}

	if nt.calls != 1 {
		t.Fatalf("delivery dispatched %d times, want exactly 1", nt.calls)
	}
}

func TestProcessWebhook_DuplicateEventIgnored(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{createID: "PP-12", captureRes: captureResult("CAP-12"), webhookID: "WH-ID", verifyOK: true}
	nt := &fakeNotifier{err: errors.New("smtp down")}
	svc := newService(t, db, gw, nt)
	ctx := context.Background()

	if _, err := svc.CreateOrder(ctx, "lux-clothing", "a@example.com", "", false); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.CaptureOrder(ctx, "PP-12"); err != nil {
		t.Fatalf("capture: %v", err)
	}
	nt.calls = 0
	nt.err = nil
	nt.dispatched = true

	evt := captureEvent("WH-5", "CAP-12", "PP-12")
	if err := svc.ProcessWebhook(ctx, paypal.WebhookHeaders{}, evt); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	// Gateway redelivers the same event id.
	if err := svc.ProcessWebhook(ctx, paypal.WebhookHeaders{}, evt); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if nt.calls != 1 {
		t.Fatalf("redelivered event dispatched email; calls = %d", nt.calls)
	}
}

func TestProcessWebhook_RedeliveryRetriesFailedDelivery(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{createID: "PP-16", captureRes: captureResult("CAP-16"), webhookID: "WH-ID", verifyOK: true}
	// Mail is down for both the capture path and the first webhook delivery.
	nt := &fakeNotifier{err: errors.New("smtp down")}
	svc := newService(t, db, gw, nt)
	ctx := context.Background()

	if _, err := svc.CreateOrder(ctx, "lux-clothing", "a@example.com", "", false); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.CaptureOrder(ctx, "PP-16"); err != nil {
		t.Fatalf("capture: %v", err)
	}

	evt := captureEvent("WH-9", "CAP-16", "PP-16")
	if err := svc.ProcessWebhook(ctx, paypal.WebhookHeaders{}, evt); err != nil {
		t.Fatalf("first webhook: %v", err)
	}

	// Mail recovers; the same event id is redelivered. Because the failed
	// attempt must not have latched the event, delivery is retried.
	nt.err = nil
	nt.dispatched = true
	if err := svc.ProcessWebhook(ctx, paypal.WebhookHeaders{}, evt); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	o, err := repo.OrderByGatewayID(ctx, db, "PP-16")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !o.EmailSent {
		t.Fatal("redelivered event did not re-attempt delivery")
	}
	// Once delivered, a further redelivery is a plain duplicate.
	calls := nt.calls
	if err := svc.ProcessWebhook(ctx, paypal.WebhookHeaders{}, evt); err != nil {
		t.Fatalf("post-delivery redelivery: %v", err)
	}
	if nt.calls != calls {
		t.Fatalf("settled event dispatched again; calls = %d", nt.calls)
	}
}

func TestProcessWebhook_UnmatchedEventAccepted(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{webhookID: "WH-ID", verifyOK: true}
	nt := &fakeNotifier{dispatched: true}
	svc := newService(t, db, gw, nt)

	err := svc.ProcessWebhook(context.Background(), paypal.WebhookHeaders{}, captureEvent("WH-6", "CAP-missing", "PP-missing"))
	if err != nil {
		t.Fatalf("unmatched event should be accepted, got %v", err)
	}
	if nt.calls != 0 {
		t.Fatalf("unmatched event dispatched email %d times", nt.calls)
	}
}

func TestProcessWebhook_UnmatchedEventAppliesOnReplay(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{createID: "PP-17", webhookID: "WH-ID", verifyOK: true}
	nt := &fakeNotifier{dispatched: true}
	svc := newService(t, db, gw, nt)
	ctx := context.Background()

	// The event lands before the order exists; it is accepted but must not
	// be latched as processed.
	evt := captureEvent("WH-10", "CAP-17", "PP-17")
	if err := svc.ProcessWebhook(ctx, paypal.WebhookHeaders{}, evt); err != nil {
		t.Fatalf("early webhook: %v", err)
	}

	if _, err := svc.CreateOrder(ctx, "lux-clothing", "a@example.com", "", false); err != nil {
		t.Fatalf("create: %v", err)
	}

	// A replay of the same event id now matches and applies in full.
	if err := svc.ProcessWebhook(ctx, paypal.WebhookHeaders{}, evt); err != nil {
		t.Fatalf("replay: %v", err)
	}
	o, err := repo.OrderByGatewayID(ctx, db, "PP-17")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !o.Verified || o.Status != domain.StatusCompleted {
		t.Fatalf("replayed event not applied: %+v", o)
	}
	if o.CaptureID == nil || *o.CaptureID != "CAP-17" {
		t.Fatalf("capture id = %+v", o.CaptureID)
	}
	if nt.calls != 1 {
		t.Fatalf("notifier calls = %d", nt.calls)
	}
}

func TestProcessWebhook_OtherEventTypesIgnored(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{webhookID: "WH-ID", verifyOK: true}
	svc := newService(t, db, gw, &fakeNotifier{})

	raw := []byte(`{"id":"WH-7","event_type":"CHECKOUT.ORDER.APPROVED","resource":{"id":"PP-X"}}`)
	if err := svc.ProcessWebhook(context.Background(), paypal.WebhookHeaders{}, raw); err != nil {
		t.Fatalf("ignorable event type: %v", err)
	}
}

func TestProcessWebhook_ArrivesBeforeClientCapture(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{createID: "PP-13", webhookID: "WH-ID", verifyOK: true}
	nt := &fakeNotifier{dispatched: true}
	svc := newService(t, db, gw, nt)
	ctx := context.Background()

	if _, err := svc.CreateOrder(ctx, "lux-clothing", "a@example.com", "", false); err != nil {
		t.Fatalf("create: %v", err)
	}

	// The webhook lands before the browser calls capture-order.
	if err := svc.ProcessWebhook(ctx, paypal.WebhookHeaders{}, captureEvent("WH-8", "CAP-13", "PP-13")); err != nil {
		t.Fatalf("webhook: %v", err)
	}

	o, err := repo.OrderByGatewayID(ctx, db, "PP-13")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !o.Verified || o.Status != domain.StatusCompleted {
		t.Fatalf("order = %+v", o)
	}
	if o.CaptureID == nil || *o.CaptureID != "CAP-13" {
		t.Fatalf("capture id not attached from webhook: %+v", o.CaptureID)
	}
	if nt.calls != 1 {
		t.Fatalf("notifier calls = %d", nt.calls)
	}

	// The late client capture must not send a second email.
	gw.captureRes = captureResult("CAP-13")
	o, err = svc.CaptureOrder(ctx, "PP-13")
	if err != nil {
		t.Fatalf("late capture: %v", err)
	}
	if o.Status != domain.StatusCompleted {
		t.Fatalf("late capture regressed status to %q", o.Status)
	}
	if nt.calls != 1 {
		t.Fatalf("late capture dispatched another email; calls = %d", nt.calls)
	}
}

// ----- Download -----

func TestResolveDownload(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{createID: "PP-14", captureRes: captureResult("CAP-14")}
	svc := newService(t, db, gw, &fakeNotifier{dispatched: true})
	ctx := context.Background()

	if _, err := svc.CreateOrder(ctx, "lux-clothing", "a@example.com", "", false); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, _, err := svc.ResolveDownload(ctx, "does-not-exist"); !errors.Is(err, ErrDownloadNotFound) {
		t.Fatalf("unknown token err = %v", err)
	}

	o, err := svc.CaptureOrder(ctx, "PP-14")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}

	got, product, err := svc.ResolveDownload(ctx, *o.DownloadToken)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.ID != o.ID || product.ID != "lux-clothing" {
		t.Fatalf("resolved = order %d product %q", got.ID, product.ID)
	}
}

func TestResolveDownload_CreatedOrderNotEligible(t *testing.T) {
	db := newTestDB(t)
	svc := newService(t, db, &fakeGateway{}, &fakeNotifier{})
	ctx := context.Background()

	// Force a token onto a CREATED order to exercise the eligibility check.
	token := repo.NewDownloadToken()
	o := &domain.Order{
		GatewayOrderID: "PP-15",
		ProductID:      "lux-clothing",
		ProductName:    "Clothing Vendor",
		BuyerEmail:     "a@example.com",
		Amount:         "9.99",
		Currency:       "USD",
		Status:         domain.StatusCreated,
		DownloadToken:  &token,
	}
	if err := db.Create(o).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, _, err := svc.ResolveDownload(ctx, token); !errors.Is(err, ErrDownloadNotEligible) {
		t.Fatalf("err = %v, want ErrDownloadNotEligible", err)
	}
}
