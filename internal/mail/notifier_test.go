package mail

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/resellplug/storefront-backend/internal/catalog"
	"github.com/resellplug/storefront-backend/internal/domain"
)

type fakeMailer struct {
	sent []Message
	err  error
}

func (m *fakeMailer) Send(ctx context.Context, msg Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func testOrder() *domain.Order {
	capID := "CAP-1"
	tok := "aabbccddeeff00112233445566778899aabbccddeeff0011"
	return &domain.Order{
		ID:             1,
		GatewayOrderID: "PP-1",
		CaptureID:      &capID,
		ProductID:      "lux-clothing",
		ProductName:    "Clothing Vendor",
		BuyerEmail:     "buyer@example.com",
		Amount:         "9.99",
		Currency:       "USD",
		Status:         domain.StatusCaptured,
		PayerName:      "Ada",
		DownloadToken:  &tok,
	}
}

func testProduct() catalog.Product {
	return catalog.Product{
		ID:            "lux-clothing",
		Name:          "Clothing Vendor",
		Category:      "Clothing",
		Price:         9.99,
		WhatYouGet:    []string{"1,000+ items"},
		DeliveryLinks: []string{"https://example.com/vendors"},
	}
}

func TestDeliver_ComposesMessage(t *testing.T) {
	fm := &fakeMailer{}
	n := NewNotifier(fm, "Shop <no-reply@example.com>", "https://shop.example.com", "")

	sent, err := n.Deliver(context.Background(), testOrder(), testProduct())
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if !sent || len(fm.sent) != 1 {
		t.Fatalf("sent=%v messages=%d", sent, len(fm.sent))
	}

	msg := fm.sent[0]
	if msg.To != "buyer@example.com" {
		t.Fatalf("to = %q", msg.To)
	}
	if !strings.Contains(msg.Subject, "CAP-1") {
		t.Fatalf("subject = %q", msg.Subject)
	}
	for _, want := range []string{
		"Ada",
		"CAP-1",
		"Clothing Vendor",
		"9.99",
		"https://example.com/vendors",
		"https://shop.example.com/download/aabbccddeeff00112233445566778899aabbccddeeff0011",
	} {
		if !strings.Contains(msg.HTMLBody, want) {
			t.Fatalf("body missing %q:\n%s", want, msg.HTMLBody)
		}
	}
}

func TestDeliver_DisabledMailerSkips(t *testing.T) {
	n := NewNotifier(nil, "no-reply@example.com", "https://shop.example.com", "")
	sent, err := n.Deliver(context.Background(), testOrder(), testProduct())
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if sent {
		t.Fatal("disabled mailer reported a dispatch")
	}
}

func TestDeliver_TransportFailure(t *testing.T) {
	fm := &fakeMailer{err: errors.New("smtp down")}
	n := NewNotifier(fm, "no-reply@example.com", "https://shop.example.com", "")

	sent, err := n.Deliver(context.Background(), testOrder(), testProduct())
	if err == nil || sent {
		t.Fatalf("sent=%v err=%v, want failure", sent, err)
	}
}

func TestFormatAmount(t *testing.T) {
	n := NewNotifier(nil, "", "", "")

	if got := n.formatAmount("9.99", "USD"); !strings.Contains(got, "9.99") {
		t.Fatalf("USD amount = %q", got)
	}
	// Unparseable code falls back to the raw pair.
	if got := n.formatAmount("9.99", "FAKE"); got != "9.99 FAKE" {
		t.Fatalf("fallback = %q", got)
	}
	if got := n.formatAmount("not-a-number", "USD"); got != "not-a-number USD" {
		t.Fatalf("fallback = %q", got)
	}
}
