// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, the database path, payment gateway
// credentials, SMTP delivery, rate limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/resellplug/storefront-backend/internal/sysutil"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// PayPalConfig holds the payment gateway credentials and mode.
type PayPalConfig struct {
	Env          string // "sandbox" or "live"
	ClientID     string // PAYPAL_CLIENT_ID
	ClientSecret string // PAYPAL_CLIENT_SECRET
	WebhookID    string // PAYPAL_WEBHOOK_ID; required to process webhooks
}

// SMTPConfig holds the outbound mail transport settings. Delivery email is
// disabled (orders still succeed) when Host, User, or Pass is empty.
type SMTPConfig struct {
	Host   string
	Port   int
	Secure bool // implicit TLS (465) instead of STARTTLS
	User   string
	Pass   string
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DBPath          string // SQLite path
	SiteURL         string // public base URL used in download links
	CatalogPath     string // optional JSON catalog override
	AssetDir        string // directory holding delivery files
	DefaultCurrency string // display currency for the storefront config endpoint
	ChargeCurrency  string // currency charged at the gateway
	AllowTestCharge bool   // permit the 1.00 test charge when requested
	AdminToken      string // token guarding the admin order listing
	AdminMaxOrders  int    // upper bound for the admin listing

	// Payment gateway
	PayPal PayPalConfig

	// Outbound mail
	SMTP      SMTPConfig
	FromEmail string

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api")),

		// App
		DBPath:          getenv("DB_PATH", "data/orders.db"),
		SiteURL:         strings.TrimRight(getenv("SITE_URL", "http://localhost:8080"), "/"),
		CatalogPath:     getenv("CATALOG_PATH", ""),
		AssetDir:        getenv("ASSET_DIR", "assets"),
		DefaultCurrency: strings.ToUpper(getenv("DEFAULT_CURRENCY", "CAD")),
		ChargeCurrency:  strings.ToUpper(getenv("CHARGE_CURRENCY", "USD")),
		AllowTestCharge: getbool("ALLOW_TEST_CHARGE", false),
		AdminToken:      getenv("ADMIN_DASH_TOKEN", ""),
		AdminMaxOrders:  getint("ADMIN_MAX_ORDERS", 300),

		// Payment gateway
		PayPal: PayPalConfig{
			Env:          strings.ToLower(getenv("PAYPAL_ENV", "live")),
			ClientID:     getenv("PAYPAL_CLIENT_ID", ""),
			ClientSecret: getenv("PAYPAL_CLIENT_SECRET", ""),
			WebhookID:    getenv("PAYPAL_WEBHOOK_ID", ""),
		},

		// Outbound mail
		SMTP: SMTPConfig{
			Host:   getenv("SMTP_HOST", ""),
			Port:   getint("SMTP_PORT", 587),
			Secure: getbool("SMTP_SECURE", false),
			User:   getenv("SMTP_USER", ""),
			Pass:   getenv("SMTP_PASS", ""),
		},
		FromEmail: getenv("FROM_EMAIL", "TheResellPlug <no-reply@theresellplug.com>"),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "storefront-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.PayPal.Env != "sandbox" {
		cfg.PayPal.Env = "live"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if strings.TrimSpace(cfg.SiteURL) == "" {
		return cfg, errors.New("SITE_URL must not be empty")
	}
	if len(cfg.ChargeCurrency) != 3 {
		return cfg, errors.New("CHARGE_CURRENCY must be a 3-letter ISO code")
	}
	if len(cfg.DefaultCurrency) != 3 {
		return cfg, errors.New("DEFAULT_CURRENCY must be a 3-letter ISO code")
	}
	if cfg.AdminMaxOrders < 1 {
		return cfg, errors.New("ADMIN_MAX_ORDERS must be >= 1")
	}
	if cfg.SMTP.Port <= 0 || cfg.SMTP.Port > 65535 {
		return cfg, errors.New("SMTP_PORT must be a valid port number")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// MailConfigured reports whether an outbound mail transport is fully
// configured. Delivery email is silently skipped when it is not.
func (c Config) MailConfigured() bool {
	return c.SMTP.Host != "" && c.SMTP.User != "" && c.SMTP.Pass != ""
}

// ---- helpers ----

func getenv(k, def string) string {
	return sysutil.FirstNonEmpty(os.Getenv(k), def)
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if sysutil.IsTruthy(v) {
			return true
		}
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
