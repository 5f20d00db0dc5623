package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type AdminConfig struct {
	Port      int    `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"`
	// RateLimit is requests per minute per admin; 0 disables limiting.
	RateLimit int `yaml:"rate_limit"`
}

type HTTPConfig struct {
	// Port of the public gateway return endpoint.
	Port int `yaml:"port"`
}

type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`      // subscription type cache
	LockTTL  time.Duration `yaml:"lock_ttl"` // per-chain charge lock
}

type SecurityConfig struct {
	// EncryptionKey seals gateway tokens at rest; empty stores them as given.
	EncryptionKey string `yaml:"encryption_key"`
}

type StripeConfig struct {
	SecretKey       string `yaml:"secret_key"`
	ReturnURL       string `yaml:"return_url"`
	DefaultCurrency string `yaml:"default_currency"`
}

type ZarinPalConfig struct {
	MerchantID string `yaml:"merchant_id"`
	ReturnURL  string `yaml:"return_url"`
	Sandbox    bool   `yaml:"sandbox"`
	// AccessToken enables refunds through the GraphQL API.
	AccessToken     string `yaml:"access_token"`
	GraphQLEndpoint string `yaml:"graphql_endpoint"`
}

type BankTransferConfig struct {
	Enabled         bool   `yaml:"enabled"`
	InstructionsURL string `yaml:"instructions_url"`
	Account         string `yaml:"account"`
}

type PaymentConfig struct {
	Stripe       StripeConfig       `yaml:"stripe"`
	ZarinPal     ZarinPalConfig     `yaml:"zarinpal"`
	BankTransfer BankTransferConfig `yaml:"bank_transfer"`
	// Noop registers a test driver that settles every charge.
	Noop bool `yaml:"noop"`
}

type BillingConfig struct {
	FastChargeThresholdHours int             `yaml:"fastcharge_threshold_hours"`
	RecurrentPaymentCharges  []time.Duration `yaml:"recurrent_payment_charges"`
	SweepInterval            time.Duration   `yaml:"sweep_interval"`
	BatchSize                int             `yaml:"batch_size"`
	Workers                  int             `yaml:"workers"`
	ChargeTimeout            time.Duration   `yaml:"charge_timeout"`
	StaleChargingAfter       time.Duration   `yaml:"stale_charging_after"`
	RenewalLead              time.Duration   `yaml:"renewal_lead"`
	ReactivationPolicy       string          `yaml:"reactivation_policy"` // keep_terms|reresolve
	TokenExpiryInterval      time.Duration   `yaml:"token_expiry_interval"`
	DuplicateReportInterval  time.Duration   `yaml:"duplicate_report_interval"`
	// Checkouts still in form after CheckoutTimeout are moved to timeout.
	CheckoutTimeout time.Duration `yaml:"checkout_timeout"`
}

func (b BillingConfig) FastChargeThreshold() time.Duration {
	return time.Duration(b.FastChargeThresholdHours) * time.Hour
}

type TelegramAlertConfig struct {
	Token  string  `yaml:"token"`
	ChatID []int64 `yaml:"chat_ids"`
}

type AlertsConfig struct {
	Telegram TelegramAlertConfig `yaml:"telegram"`
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Admin    AdminConfig    `yaml:"admin"`
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Security SecurityConfig `yaml:"security"`
	Payment  PaymentConfig  `yaml:"payment"`
	Billing  BillingConfig  `yaml:"billing"`
	Alerts   AlertsConfig   `yaml:"alerts"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path, applies defaults and validates.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Admin.Port == 0 {
		c.Admin.Port = 8081
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 10
	}
	if c.Database.ConnectTimeout <= 0 {
		c.Database.ConnectTimeout = 5 * time.Second
	}
	c.Redis.TTL = normalizeTTL(c.Redis.TTL)

	b := &c.Billing
	if b.FastChargeThresholdHours <= 0 {
		b.FastChargeThresholdHours = 24
	}
	if b.RecurrentPaymentCharges == nil {
		b.RecurrentPaymentCharges = []time.Duration{24 * time.Hour, 48 * time.Hour, 72 * time.Hour}
	}
	if b.SweepInterval <= 0 {
		b.SweepInterval = 5 * time.Minute
	}
	if b.BatchSize <= 0 {
		b.BatchSize = 100
	}
	if b.Workers <= 0 {
		b.Workers = 4
	}
	if b.ChargeTimeout <= 0 {
		b.ChargeTimeout = 60 * time.Second
	}
	if b.StaleChargingAfter <= 0 {
		b.StaleChargingAfter = 15 * time.Minute
	}
	if b.ReactivationPolicy == "" {
		b.ReactivationPolicy = "keep_terms"
	}
	if b.TokenExpiryInterval <= 0 {
		b.TokenExpiryInterval = 24 * time.Hour
	}
	if b.DuplicateReportInterval <= 0 {
		b.DuplicateReportInterval = time.Hour
	}
	if b.CheckoutTimeout <= 0 {
		b.CheckoutTimeout = 24 * time.Hour
	}
	if c.Redis.LockTTL < b.ChargeTimeout {
		c.Redis.LockTTL = b.ChargeTimeout + 30*time.Second
	}
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if c.Admin.JWTSecret == "" {
		return errors.New("admin.jwt_secret is required")
	}
	for i, d := range c.Billing.RecurrentPaymentCharges {
		if d <= 0 {
			return fmt.Errorf("billing.recurrent_payment_charges[%d] must be positive", i)
		}
	}
	switch c.Billing.ReactivationPolicy {
	case "keep_terms", "reresolve":
	default:
		return fmt.Errorf("billing.reactivation_policy %q is not keep_terms or reresolve", c.Billing.ReactivationPolicy)
	}
	if c.Billing.StaleChargingAfter < c.Billing.ChargeTimeout {
		return errors.New("billing.stale_charging_after must not be shorter than billing.charge_timeout")
	}
	if k := len(c.Security.EncryptionKey); k != 0 && k != 16 && k != 24 && k != 32 {
		return fmt.Errorf("security.encryption_key must be 16, 24 or 32 bytes; got %d", k)
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
