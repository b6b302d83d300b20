package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Business metrics. HTTP-level metrics (latency, status codes) live in the
// middleware package; these count domain events regardless of transport.
var (
	ordersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_orders_created_total",
		Help: "Orders created at the payment gateway.",
	})

	ordersCapturedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_orders_captured_total",
		Help: "Orders whose funds were captured.",
	})

	ordersVerifiedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_orders_verified_total",
		Help: "Orders confirmed by an authenticated gateway webhook.",
	})

	webhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_webhook_events_total",
		Help: "Inbound gateway webhook events by outcome.",
	}, []string{"outcome"})

	deliveryEmailsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_delivery_emails_total",
		Help: "Delivery email dispatch attempts by outcome.",
	}, []string{"outcome"})
)
