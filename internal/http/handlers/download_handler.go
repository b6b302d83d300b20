// Download HTTP handler.
//
// GET /download/:token serves the purchased goods for a captured order. When
// the product ships a delivery file it is sent as an attachment; otherwise a
// plain-text manifest of the product's links is generated on the fly.
//
// Responses here are plain text, not the JSON envelope: the link lands in a
// browser from the delivery email, not in an API client.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/resellplug/storefront-backend/internal/catalog"
	"github.com/resellplug/storefront-backend/internal/domain"
	"github.com/resellplug/storefront-backend/internal/services"
)

// Download godoc
// @ID          downloadOrder
// @Summary     Download purchased goods
// @Description Serves the delivery file or a generated manifest for a captured order's download token.
// @Tags        Downloads
// @Produce     plain
// @Param       token path string true "Download token"
// @Success     200 {string} string "File attachment or manifest"
// @Failure     403 {string} string "Order not eligible"
// @Failure     404 {string} string "Unknown token or product"
// @Router      /download/{token} [get]
func (h *Handlers) Download(c *gin.Context) {
	order, product, err := h.svc.ResolveDownload(c.Request.Context(), c.Param("token"))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrDownloadNotEligible):
			c.String(http.StatusForbidden, "Order is not eligible for download.")
		case errors.Is(err, services.ErrDownloadNotFound):
			c.String(http.StatusNotFound, "Invalid download token.")
		default:
			c.String(http.StatusInternalServerError, "Download unavailable.")
		}
		return
	}
	if product.ID == "" {
		c.String(http.StatusNotFound, "Product data not found.")
		return
	}

	if path, ok := h.deliveryFilePath(product); ok {
		c.FileAttachment(path, filepath.Base(path))
		return
	}

	manifest := buildManifest(order, product)
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", product.ID+"-list.txt"))
	c.String(http.StatusOK, manifest)
}

// deliveryFilePath resolves the product's delivery file inside the asset
// directory. The base name is used so a catalog entry cannot path-traverse
// out of the asset dir.
func (h *Handlers) deliveryFilePath(product catalog.Product) (string, bool) {
	if product.DeliveryFile == "" || h.assetDir == "" {
		return "", false
	}
	path := filepath.Join(h.assetDir, filepath.Base(product.DeliveryFile))
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// buildManifest renders the fallback plain-text delivery document.
func buildManifest(order *domain.Order, product catalog.Product) string {
	lines := []string{
		"TheResellPlug - " + product.Name,
		"Category: " + product.Category,
		"Order ID: " + order.Reference(),
		"Purchased: " + order.CreatedAt.UTC().Format(time.RFC3339),
		"",
		"What you get:",
	}
	for _, item := range product.WhatYouGet {
		lines = append(lines, "- "+item)
	}
	lines = append(lines, "", "Access links:")
	for _, link := range product.DeliveryLinks {
		lines = append(lines, "- "+link)
	}
	lines = append(lines, "",
		"Digital product disclaimer: informational supplier file, non-refundable after delivery.")
	return strings.Join(lines, "\n")
}
