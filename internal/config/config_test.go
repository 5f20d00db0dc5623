//go:build !integration

package config

import (
	"strings"
	"testing"
	"time"
)

const minimal = `
database: {url: "postgres://localhost/billing"}
redis: {url: "localhost:6379"}
admin: {jwt_secret: "s3cret"}
`

func TestParse(t *testing.T) {
	t.Run("should apply billing defaults", func(t *testing.T) {
		// --- Act ---
		cfg, err := Parse([]byte(minimal), false)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		b := cfg.Billing
		if b.FastChargeThreshold() != 24*time.Hour {
			t.Errorf("expected a 24h threshold, got %v", b.FastChargeThreshold())
		}
		if len(b.RecurrentPaymentCharges) != 3 || b.RecurrentPaymentCharges[2] != 72*time.Hour {
			t.Errorf("unexpected backoff %v", b.RecurrentPaymentCharges)
		}
		if b.ReactivationPolicy != "keep_terms" || b.BatchSize != 100 || b.Workers != 4 {
			t.Errorf("unexpected defaults %+v", b)
		}
		if cfg.Redis.LockTTL <= b.ChargeTimeout {
			t.Errorf("lock ttl %v must outlive the charge timeout %v", cfg.Redis.LockTTL, b.ChargeTimeout)
		}
	})

	t.Run("should read durations and an explicitly empty backoff", func(t *testing.T) {
		// --- Arrange ---
		doc := minimal + `
billing:
  fastcharge_threshold_hours: 6
  recurrent_payment_charges: []
  sweep_interval: 30s
`
		// --- Act ---
		cfg, err := Parse([]byte(doc), true)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if cfg.Billing.FastChargeThreshold() != 6*time.Hour || cfg.Billing.SweepInterval != 30*time.Second {
			t.Errorf("unexpected billing %+v", cfg.Billing)
		}
		if len(cfg.Billing.RecurrentPaymentCharges) != 0 {
			t.Errorf("an explicit empty list means no retries, got %v", cfg.Billing.RecurrentPaymentCharges)
		}
		if !cfg.Runtime.Dev {
			t.Error("expected dev mode")
		}
	})

	t.Run("should reject invalid settings", func(t *testing.T) {
		cases := map[string]string{
			"database.url":        `redis: {url: x}` + "\n" + `admin: {jwt_secret: s}`,
			"reactivation_policy": minimal + "billing: {reactivation_policy: forever}",
			"must be positive":    minimal + "billing: {recurrent_payment_charges: [24h, -1h]}",
			"encryption_key":      minimal + "security: {encryption_key: short}",
		}
		for want, doc := range cases {
			_, err := Parse([]byte(doc), false)
			if err == nil || !strings.Contains(err.Error(), want) {
				t.Errorf("expected an error mentioning %q, got %v", want, err)
			}
		}
	})
}
