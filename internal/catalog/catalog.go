// Package catalog provides the static product catalog. The catalog is
// read-only, loaded once at process start, and injected into the components
// that need it rather than referenced as ambient global state.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
)

// Product describes one digital good for sale. Prices are list prices in the
// configured charge currency; DeliveryFile names an optional file under the
// asset directory that is attached to the delivery email and served by the
// download endpoint.
type Product struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Category      string   `json:"category"`
	Price         float64  `json:"price"`
	DeliveryFile  string   `json:"deliveryFile,omitempty"`
	WhatYouGet    []string `json:"whatYouGet"`
	DeliveryLinks []string `json:"deliveryLinks"`
}

// Catalog is an immutable set of products with id lookup.
type Catalog struct {
	products []Product
	byID     map[string]Product
}

// New builds a Catalog from the given products. Later duplicates of an id win,
// matching a JSON override that restates a default product.
func New(products []Product) *Catalog {
	byID := make(map[string]Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return &Catalog{products: products, byID: byID}
}

// Default returns the built-in product catalog.
func Default() *Catalog { return New(defaultProducts()) }

// Load reads a product catalog from a JSON file (an array of products).
// An empty path returns the default catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var products []Product
	if err := json.Unmarshal(raw, &products); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	if len(products) == 0 {
		return nil, fmt.Errorf("catalog: %s contains no products", path)
	}
	for i, p := range products {
		if p.ID == "" || p.Name == "" || p.Price <= 0 {
			return nil, fmt.Errorf("catalog: product %d missing id, name or price", i)
		}
	}
	return New(products), nil
}

// Find returns the product with the given id, or false if it is not listed.
func (c *Catalog) Find(id string) (Product, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// Products returns the catalog contents in listing order. The returned slice
// must not be mutated.
func (c *Catalog) Products() []Product { return c.products }

// Len returns the number of listed products.
func (c *Catalog) Len() int { return len(c.products) }

func defaultProducts() []Product {
	return []Product{
		{
			ID:       "starter-bundle",
			Name:     "Elite Supplier Bundle",
			Category: "Bundle",
			Price:    37.99,
			WhatYouGet: []string{
				"Clothing Vendor", "Cologne Vendor", "Electronic Vendor",
				"Receipt Vendor", "Watch Vendor",
			},
			DeliveryLinks: []string{
				"https://replace-with-your-clothing-vendor-link.com",
				"https://replace-with-your-cologne-vendor-link.com",
				"https://replace-with-your-electronic-vendor-link.com",
				"https://replace-with-your-receipt-vendor-link.com",
				"https://replace-with-your-watch-vendor-link.com",
			},
		},
		{
			ID:            "lux-clothing",
			Name:          "Clothing Vendor",
			Category:      "Clothing",
			Price:         9.99,
			WhatYouGet:    []string{"1,000+ Different types of clothing, Jackets, and Jewellery"},
			DeliveryLinks: []string{"https://replace-with-your-clothing-vendor-link.com"},
		},
		{
			ID:            "sneaker-source",
			Name:          "Cologne Vendor",
			Category:      "Cologne",
			Price:         9.99,
			WhatYouGet:    []string{"Over 300+ Different Types of Cologne & Perfume"},
			DeliveryLinks: []string{"https://replace-with-your-cologne-vendor-link.com"},
		},
		{
			ID:            "tech-electronics",
			Name:          "Electronic Vendor",
			Category:      "Electronics",
			Price:         9.99,
			WhatYouGet:    []string{"Airpod (2,3,4)", "Airpod Maxes", "JBL Speaker", "Dyson", "Beats"},
			DeliveryLinks: []string{"https://replace-with-your-electronic-vendor-link.com"},
		},
		{
			ID:            "beauty-glow",
			Name:          "Receipt Vendor",
			Category:      "Receipts",
			Price:         9.99,
			WhatYouGet:    []string{"100+ Different Store Receipts"},
			DeliveryLinks: []string{"https://replace-with-your-receipt-vendor-link.com"},
		},
		{
			ID:            "home-finds",
			Name:          "Watch Vendor",
			Category:      "Watches",
			Price:         9.99,
			WhatYouGet:    []string{"100+ Luxury Brand Watches"},
			DeliveryLinks: []string{"https://replace-with-your-watch-vendor-link.com"},
		},
	}
}
