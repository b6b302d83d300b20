package mail

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/resellplug/storefront-backend/internal/catalog"
	"github.com/resellplug/storefront-backend/internal/domain"
)

// Notifier composes and sends the purchase delivery email. A nil Mailer (or
// an unconfigured transport) turns Deliver into a no-op that reports "not
// dispatched" without error.
type Notifier struct {
	Mailer    Mailer
	From      string
	SiteURL   string // public base URL, no trailing slash
	AssetDir  string // directory holding delivery files
	Formatter *message.Printer
}

// NewNotifier builds a Notifier. mailer may be nil when mail is disabled.
func NewNotifier(mailer Mailer, from, siteURL, assetDir string) *Notifier {
	return &Notifier{
		Mailer:    mailer,
		From:      from,
		SiteURL:   siteURL,
		AssetDir:  assetDir,
		Formatter: message.NewPrinter(language.English),
	}
}

var deliveryTmpl = template.Must(template.New("delivery").Parse(`
<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #111;">Thank you for your purchase! 🎉</h2>
  <p>Hi {{.PayerName}},</p>
  <p>Your payment has been received. Here is your order:</p>
  <table style="width: 100%; border-collapse: collapse; margin: 16px 0;">
    <tr><td style="padding: 6px 0; color: #555;">Order Reference</td><td style="padding: 6px 0;"><strong>{{.Reference}}</strong></td></tr>
    <tr><td style="padding: 6px 0; color: #555;">Product</td><td style="padding: 6px 0;">{{.ProductName}}</td></tr>
    <tr><td style="padding: 6px 0; color: #555;">Amount</td><td style="padding: 6px 0;">{{.Amount}}</td></tr>
  </table>
  {{if .WhatYouGet}}
  <p><strong>What you get:</strong></p>
  <ul>{{range .WhatYouGet}}<li>{{.}}</li>{{end}}</ul>
  {{end}}
  {{if .Links}}
  <p><strong>Your access links:</strong></p>
  <ul>{{range .Links}}<li><a href="{{.}}">{{.}}</a></li>{{end}}</ul>
  {{end}}
  {{if .DownloadURL}}
  <p style="margin: 20px 0;">
    <a href="{{.DownloadURL}}" style="background: #111; color: #fff; padding: 12px 24px; text-decoration: none; border-radius: 6px;">Download your files</a>
  </p>
  {{end}}
  <p style="color: #888; font-size: 12px; margin-top: 24px;">
    This is a digital product. All sales are final; no refunds are offered once
    access has been delivered. Keep this email: your download link is unique
    to your order.
  </p>
</div>
`))

type deliveryData struct {
	PayerName   string
	Reference   string
	ProductName string
	Amount      string
	WhatYouGet  []string
	Links       []string
	DownloadURL string
}

// Deliver composes the delivery email for a captured order and sends it.
// The boolean reports whether a dispatch was actually attempted and
// succeeded; (false, nil) means mail is disabled and the caller should treat
// the order as delivered-by-other-means.
func (n *Notifier) Deliver(ctx context.Context, order *domain.Order, product catalog.Product) (bool, error) {
	if n == nil || n.Mailer == nil {
		return false, nil
	}

	downloadURL := ""
	if order.DownloadToken != nil && *order.DownloadToken != "" {
		downloadURL = n.SiteURL + "/download/" + *order.DownloadToken
	}

	data := deliveryData{
		PayerName:   order.PayerName,
		Reference:   order.Reference(),
		ProductName: order.ProductName,
		Amount:      n.formatAmount(order.Amount, order.Currency),
		WhatYouGet:  product.WhatYouGet,
		Links:       product.DeliveryLinks,
		DownloadURL: downloadURL,
	}
	if data.PayerName == "" {
		data.PayerName = "Customer"
	}

	var body bytes.Buffer
	if err := deliveryTmpl.Execute(&body, data); err != nil {
		return false, fmt.Errorf("mail: render delivery email: %w", err)
	}

	msg := Message{
		From:     n.From,
		To:       order.BuyerEmail,
		Subject:  fmt.Sprintf("Your order %s - %s", order.Reference(), order.ProductName),
		HTMLBody: body.String(),
	}

	if att, ok := n.loadAttachment(product); ok {
		msg.Attachments = append(msg.Attachments, att)
	}

	if err := n.Mailer.Send(ctx, msg); err != nil {
		return false, err
	}
	log.Info().
		Str("order_ref", order.Reference()).
		Str("product_id", order.ProductID).
		Msg("delivery email sent")
	return true, nil
}

// formatAmount renders "USD 9.99" as a localized currency string, falling
// back to the raw "<amount> <code>" pair when either part does not parse.
func (n *Notifier) formatAmount(amount, code string) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return amount + " " + code
	}
	val, err := strconv.ParseFloat(amount, 64)
	if err != nil {
		return amount + " " + code
	}
	return n.Formatter.Sprintf("%v", currency.NarrowSymbol(unit.Amount(val)))
}

// loadAttachment reads the product's delivery file from the asset directory.
// Missing files are skipped silently; the links in the body still deliver.
func (n *Notifier) loadAttachment(product catalog.Product) (Attachment, bool) {
	if product.DeliveryFile == "" || n.AssetDir == "" {
		return Attachment{}, false
	}
	path := filepath.Join(n.AssetDir, filepath.Base(product.DeliveryFile))
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Str("file", path).Err(err).Msg("delivery attachment unavailable")
		return Attachment{}, false
	}
	return Attachment{
		Filename:    filepath.Base(product.DeliveryFile),
		ContentType: "application/octet-stream",
		Data:        data,
	}, true
}
