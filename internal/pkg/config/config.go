package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mkessels/paybridge/internal/pkg/env"
)

// Config carries every setting the reconciliation pipeline needs. It is
// loaded once at startup and injected explicitly; packages never read the
// environment themselves.
type Config struct {
	AppHost string
	AppPort string

	// Order store (MySQL)
	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string

	// Retry queue (Redis)
	CacheHost     string
	CachePort     string
	CachePassword string

	RetryDelay      time.Duration
	RetryMaxAttempt int
	RetryWorkers    int

	// Ledger API
	LedgerAPIURL           string
	LedgerAPIToken         string
	LedgerAdministrationID string
	LedgerBankAccountID    string
	TaxRateDomesticID      string
	TaxRateExportID        string
	InvoiceDueDays         int
	InvoiceMessage         string

	// Payment provider (customer lookup)
	PaymentAPIKey string

	// Notification channel (SMTP)
	AlertSMTPHost     string
	AlertSMTPPort     string
	AlertSMTPUsername string
	AlertSMTPPassword string
	AlertSender       string
	AlertRecipient    string

	// Countries billed with the domestic tax rate. Comparison is
	// case-insensitive on the trimmed country name.
	DomesticCountries []string
}

// DefaultDomesticCountries covers the spellings upstream systems use for the
// home market. Override with DOMESTIC_COUNTRIES when selling elsewhere.
var DefaultDomesticCountries = []string{"Netherlands", "The Netherlands", "Nederland"}

// Load reads the full configuration and reports every missing required key
// at once so a broken deployment fails fast with a complete list.
func Load() (*Config, error) {
	cfg := &Config{
		AppHost: env.GetEnv("APP_HOST", "0.0.0.0"),
		AppPort: env.GetEnv("APP_PORT", "4100"),

		DBUser:     env.GetEnv("DB_USER", ""),
		DBPassword: env.GetEnv("DB_PASSWORD", ""),
		DBHost:     env.GetEnv("DB_HOST", ""),
		DBPort:     env.GetEnv("DB_PORT", "3306"),
		DBName:     env.GetEnv("DB_NAME", ""),

		CacheHost:     env.GetEnv("CACHE_HOST", ""),
		CachePort:     env.GetEnv("CACHE_PORT", "6379"),
		CachePassword: env.GetEnv("CACHE_PASSWORD", ""),

		RetryDelay:      time.Duration(env.GetEnvInt("RETRY_DELAY_SECONDS", 300)) * time.Second,
		RetryMaxAttempt: env.GetEnvInt("RETRY_MAX_ATTEMPTS", 8),
		RetryWorkers:    env.GetEnvInt("RETRY_WORKERS", 3),

		LedgerAPIURL:           env.GetEnv("LEDGER_API_URL", ""),
		LedgerAPIToken:         env.GetEnv("LEDGER_API_TOKEN", ""),
		LedgerAdministrationID: env.GetEnv("LEDGER_ADMINISTRATION_ID", ""),
		LedgerBankAccountID:    env.GetEnv("LEDGER_BANK_ACCOUNT_ID", ""),
		TaxRateDomesticID:      env.GetEnv("LEDGER_TAX_RATE_DOMESTIC_ID", ""),
		TaxRateExportID:        env.GetEnv("LEDGER_TAX_RATE_EXPORT_ID", ""),
		InvoiceDueDays:         env.GetEnvInt("INVOICE_DUE_DAYS", 30),
		InvoiceMessage:         env.GetEnv("LEDGER_INVOICE_MESSAGE", "Thank you for your order. You will find your invoice attached."),

		PaymentAPIKey: env.GetEnv("PAYMENT_API_KEY", ""),

		AlertSMTPHost:     env.GetEnv("ALERT_SMTP_HOST", ""),
		AlertSMTPPort:     env.GetEnv("ALERT_SMTP_PORT", "587"),
		AlertSMTPUsername: env.GetEnv("ALERT_SMTP_USERNAME", ""),
		AlertSMTPPassword: env.GetEnv("ALERT_SMTP_PASSWORD", ""),
		AlertSender:       env.GetEnv("ALERT_SENDER", ""),
		AlertRecipient:    env.GetEnv("ALERT_RECIPIENT", ""),

		DomesticCountries: parseCountryList(env.GetEnv("DOMESTIC_COUNTRIES", "")),
	}

	if len(cfg.DomesticCountries) == 0 {
		cfg.DomesticCountries = DefaultDomesticCountries
	}

	if missing := cfg.missingKeys(); len(missing) > 0 {
		return nil, fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return cfg, nil
}

func (c *Config) missingKeys() []string {
	required := []struct {
		key string
		val string
	}{
		{"DB_USER", c.DBUser},
		{"DB_PASSWORD", c.DBPassword},
		{"DB_HOST", c.DBHost},
		{"DB_NAME", c.DBName},
		{"CACHE_HOST", c.CacheHost},
		{"LEDGER_API_URL", c.LedgerAPIURL},
		{"LEDGER_API_TOKEN", c.LedgerAPIToken},
		{"LEDGER_ADMINISTRATION_ID", c.LedgerAdministrationID},
		{"LEDGER_BANK_ACCOUNT_ID", c.LedgerBankAccountID},
		{"LEDGER_TAX_RATE_DOMESTIC_ID", c.TaxRateDomesticID},
		{"LEDGER_TAX_RATE_EXPORT_ID", c.TaxRateExportID},
		{"PAYMENT_API_KEY", c.PaymentAPIKey},
		{"ALERT_SMTP_HOST", c.AlertSMTPHost},
		{"ALERT_SENDER", c.AlertSender},
		{"ALERT_RECIPIENT", c.AlertRecipient},
	}

	var missing []string
	for _, r := range required {
		if strings.TrimSpace(r.val) == "" {
			missing = append(missing, r.key)
		}
	}
	return missing
}

// IsDomestic reports whether a customer country is billed with the domestic
// tax rate.
func (c *Config) IsDomestic(country string) bool {
	needle := strings.ToLower(strings.TrimSpace(country))
	if needle == "" {
		return false
	}
	for _, dc := range c.DomesticCountries {
		if strings.ToLower(strings.TrimSpace(dc)) == needle {
			return true
		}
	}
	return false
}

func parseCountryList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
