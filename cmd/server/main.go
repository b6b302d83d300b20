// Command server runs the storefront backend: a payment-gateway-backed shop
// for digital goods with webhook-verified order delivery.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/resellplug/storefront-backend/internal/catalog"
	"github.com/resellplug/storefront-backend/internal/config"
	httpapi "github.com/resellplug/storefront-backend/internal/http"
	"github.com/resellplug/storefront-backend/internal/mail"
	"github.com/resellplug/storefront-backend/internal/observability"
	"github.com/resellplug/storefront-backend/internal/paypal"
	"github.com/resellplug/storefront-backend/internal/repo"
	"github.com/resellplug/storefront-backend/internal/services"
	"github.com/resellplug/storefront-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Local development convenience; ignored when no .env file exists.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	// Logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	sysutil.SetLogLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	// Storage
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("create data directory")
		}
	}
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	// Catalog
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load catalog")
	}
	log.Info().Int("products", cat.Len()).Msg("catalog loaded")

	// Payment gateway
	gateway := paypal.New(cfg.PayPal)

	// Outbound mail
	var mailer mail.Mailer
	if cfg.MailConfigured() {
		mailer = mail.NewSMTPMailer(cfg.SMTP)
	} else {
		log.Warn().Msg("smtp not configured; delivery emails are disabled")
	}
	notifier := mail.NewNotifier(mailer, cfg.FromEmail, cfg.SiteURL, cfg.AssetDir)

	svc := &services.OrderService{
		DB:              db,
		Gateway:         gateway,
		Catalog:         cat,
		Notifier:        notifier,
		ChargeCurrency:  cfg.ChargeCurrency,
		AllowTestCharge: cfg.AllowTestCharge,
	}

	// HTTP
	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, svc, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("site_url", cfg.SiteURL).
			Str("paypal_env", cfg.PayPal.Env).
			Str("version", version).
			Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
