package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkessels/paybridge/internal/pkg/env"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()

	env.Env = map[string]string{
		"DB_USER":                     "paybridge",
		"DB_PASSWORD":                 "secret",
		"DB_HOST":                     "db",
		"DB_NAME":                     "paybridge",
		"CACHE_HOST":                  "cache",
		"LEDGER_API_URL":              "https://ledger.example.com/api/v2",
		"LEDGER_API_TOKEN":            "token",
		"LEDGER_ADMINISTRATION_ID":    "admin-1",
		"LEDGER_BANK_ACCOUNT_ID":      "bank-1",
		"LEDGER_TAX_RATE_DOMESTIC_ID": "tax-domestic",
		"LEDGER_TAX_RATE_EXPORT_ID":   "tax-export",
		"PAYMENT_API_KEY":             "sk_test_123",
		"ALERT_SMTP_HOST":             "smtp.example.com",
		"ALERT_SENDER":                "alerts@example.com",
		"ALERT_RECIPIENT":             "finance@example.com",
	}
	t.Cleanup(func() {
		env.Env = map[string]string{}
	})
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.AppHost)
	assert.Equal(t, "4100", cfg.AppPort)
	assert.Equal(t, "3306", cfg.DBPort)
	assert.Equal(t, "6379", cfg.CachePort)
	assert.Equal(t, 5*time.Minute, cfg.RetryDelay)
	assert.Equal(t, 8, cfg.RetryMaxAttempt)
	assert.Equal(t, 3, cfg.RetryWorkers)
	assert.Equal(t, 30, cfg.InvoiceDueDays)
	assert.Equal(t, DefaultDomesticCountries, cfg.DomesticCountries)
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	env.Env["RETRY_DELAY_SECONDS"] = "60"
	env.Env["RETRY_MAX_ATTEMPTS"] = "5"
	env.Env["RETRY_WORKERS"] = "10"
	env.Env["INVOICE_DUE_DAYS"] = "14"
	env.Env["DOMESTIC_COUNTRIES"] = "Germany, Austria , "

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.RetryDelay)
	assert.Equal(t, 5, cfg.RetryMaxAttempt)
	assert.Equal(t, 10, cfg.RetryWorkers)
	assert.Equal(t, 14, cfg.InvoiceDueDays)
	assert.Equal(t, []string{"Germany", "Austria"}, cfg.DomesticCountries)
}

func TestLoadReportsAllMissingKeys(t *testing.T) {
	setRequiredEnv(t)
	delete(env.Env, "DB_PASSWORD")
	delete(env.Env, "LEDGER_API_TOKEN")
	delete(env.Env, "ALERT_RECIPIENT")

	_, err := Load()
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "DB_PASSWORD")
	assert.Contains(t, msg, "LEDGER_API_TOKEN")
	assert.Contains(t, msg, "ALERT_RECIPIENT")
	assert.Equal(t, 2, strings.Count(msg, ","), "expected exactly three missing keys")
	assert.NotContains(t, msg, "DB_USER")
}

func TestIsDomestic(t *testing.T) {
	cfg := &Config{DomesticCountries: DefaultDomesticCountries}

	assert.True(t, cfg.IsDomestic("Netherlands"))
	assert.True(t, cfg.IsDomestic("the netherlands"))
	assert.True(t, cfg.IsDomestic("  Nederland  "))
	assert.False(t, cfg.IsDomestic("Germany"))
	assert.False(t, cfg.IsDomestic(""))
}

func TestParseCountryList(t *testing.T) {
	assert.Nil(t, parseCountryList(""))
	assert.Equal(t, []string{"A", "B"}, parseCountryList("A,B"))
	assert.Equal(t, []string{"A", "B"}, parseCountryList(" A , , B ,"))
}
