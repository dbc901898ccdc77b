// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"premium-subscription-gateway/internal/domain"
	"premium-subscription-gateway/internal/domain/model"
	"premium-subscription-gateway/internal/infra/payment"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Port            int           `yaml:"port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TrustProxyHeaders takes the client address from X-Forwarded-For /
	// X-Real-IP. Only enable it behind a proxy that overwrites those headers.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// PaymentConfig is everything the processor protocol needs. Validate is the
// pre-flight check run before a request is signed.
type PaymentConfig struct {
	Mode        payment.Mode `yaml:"mode" validate:"oneof=sandbox live"`
	MerchantID  string       `yaml:"merchant_id" validate:"required"`
	MerchantKey string       `yaml:"merchant_key" validate:"required"`
	// Passphrase is optional in sandbox and mandatory in live mode.
	Passphrase string `yaml:"passphrase" validate:"required_if=Mode live"`
	ReturnURL  string `yaml:"return_url" validate:"required,url"`
	CancelURL  string `yaml:"cancel_url" validate:"required,url"`
	NotifyURL  string `yaml:"notify_url" validate:"required,url"`

	ValidateTimeout      time.Duration `yaml:"validate_timeout"`
	NotifyTimeout        time.Duration `yaml:"notify_timeout"`
	TrustedCIDRs         []string      `yaml:"trusted_cidrs"`
	SkipRemoteValidation bool          `yaml:"skip_remote_validation"`
}

type PlanConfig struct {
	Name      string `yaml:"name"`
	Amount    string `yaml:"amount"`
	MinAmount string `yaml:"min_amount"`
	Frequency int    `yaml:"frequency"`
	Cycles    int    `yaml:"cycles"`
}

type AuthConfig struct {
	JWTSecret  string `yaml:"jwt_secret"`
	CookieName string `yaml:"cookie_name"`
}

type EventsConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type EntitlementConfig struct {
	CacheTTL          time.Duration `yaml:"cache_ttl"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	ReconcileWindow   time.Duration `yaml:"reconcile_window"`
}

type RateLimitConfig struct {
	InitiatePerMinute int `yaml:"initiate_per_minute"`
}

type Config struct {
	Log         LogConfig             `yaml:"log"`
	HTTP        HTTPConfig            `yaml:"http"`
	Database    DatabaseConfig        `yaml:"database"`
	Redis       RedisConfig           `yaml:"redis"`
	Payment     PaymentConfig         `yaml:"payment"`
	Plans       map[string]PlanConfig `yaml:"plans"`
	Auth        AuthConfig            `yaml:"auth"`
	Events      EventsConfig          `yaml:"events"`
	Entitlement EntitlementConfig     `yaml:"entitlement"`
	RateLimit   RateLimitConfig       `yaml:"ratelimit"`

	Runtime RuntimeConfig `yaml:"-"`
}

// envOverrides maps environment variables onto secret-bearing settings.
var envOverrides = map[string]func(*Config, string){
	"DATABASE_URL":         func(c *Config, v string) { c.Database.URL = v },
	"REDIS_URL":            func(c *Config, v string) { c.Redis.URL = v },
	"REDIS_PASSWORD":       func(c *Config, v string) { c.Redis.Password = v },
	"PAYFAST_MERCHANT_ID":  func(c *Config, v string) { c.Payment.MerchantID = v },
	"PAYFAST_MERCHANT_KEY": func(c *Config, v string) { c.Payment.MerchantKey = v },
	"PAYFAST_PASSPHRASE":   func(c *Config, v string) { c.Payment.Passphrase = v },
	"AUTH_JWT_SECRET":      func(c *Config, v string) { c.Auth.JWTSecret = v },
}

// LoadConfig reads an optional .env file, the YAML file at path, then applies
// environment overrides and defaults.
func LoadConfig(path string, dev bool) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	for name, apply := range envOverrides {
		if v, ok := os.LookupEnv(name); ok && strings.TrimSpace(v) != "" {
			apply(&cfg, strings.TrimSpace(v))
		}
	}
	cfg.applyDefaults()

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("auth.jwt_secret is required")
	}
	if !cfg.Payment.Mode.Valid() {
		return nil, fmt.Errorf("payment.mode must be sandbox or live, got %q", cfg.Payment.Mode)
	}
	if cfg.Payment.SkipRemoteValidation && cfg.Payment.Mode == payment.ModeLive {
		return nil, errors.New("payment.skip_remote_validation is not allowed in live mode")
	}
	if _, err := cfg.PlanCatalog(); err != nil {
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
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.RequestTimeout <= 0 {
		c.HTTP.RequestTimeout = 15 * time.Second
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		c.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 10
	}
	c.Redis.TTL = normalizeTTL(c.Redis.TTL)
	if c.Payment.Mode == "" {
		c.Payment.Mode = payment.ModeSandbox
	}
	if c.Payment.ValidateTimeout <= 0 {
		c.Payment.ValidateTimeout = 10 * time.Second
	}
	if c.Payment.NotifyTimeout <= 0 {
		c.Payment.NotifyTimeout = 30 * time.Second
	}
	if c.Auth.CookieName == "" {
		c.Auth.CookieName = "session"
	}
	if c.Events.Topic == "" {
		c.Events.Topic = "entitlement.changed"
	}
	if c.Entitlement.CacheTTL <= 0 {
		c.Entitlement.CacheTTL = c.Redis.TTL
	}
	if c.Entitlement.ReconcileInterval <= 0 {
		c.Entitlement.ReconcileInterval = 15 * time.Minute
	}
	if c.Entitlement.ReconcileWindow <= 0 {
		c.Entitlement.ReconcileWindow = 24 * time.Hour
	}
	if c.RateLimit.InitiatePerMinute <= 0 {
		c.RateLimit.InitiatePerMinute = 5
	}
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}

// PlanCatalog converts the configured plans into domain plans keyed by code.
func (c *Config) PlanCatalog() (map[string]*model.Plan, error) {
	out := make(map[string]*model.Plan, len(c.Plans))
	for code, pc := range c.Plans {
		amount, err := decimal.NewFromString(strings.TrimSpace(pc.Amount))
		if err != nil {
			return nil, fmt.Errorf("plans.%s.amount: %w", code, err)
		}
		minAmount := decimal.Zero
		if strings.TrimSpace(pc.MinAmount) != "" {
			if minAmount, err = decimal.NewFromString(strings.TrimSpace(pc.MinAmount)); err != nil {
				return nil, fmt.Errorf("plans.%s.min_amount: %w", code, err)
			}
		}
		frequency := pc.Frequency
		if frequency == 0 {
			frequency = model.FrequencyMonthly
		}
		p, err := model.NewPlan(code, pc.Name, amount, minAmount, frequency, pc.Cycles)
		if err != nil {
			return nil, fmt.Errorf("plans.%s: %w", code, err)
		}
		out[code] = p
	}
	return out, nil
}

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}()

// Validate checks that every setting the active mode needs is present.
// It returns a *domain.ConfigurationError naming the offending keys.
func (p PaymentConfig) Validate() error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &domain.ConfigurationError{Fields: []string{err.Error()}}
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, "payment."+fe.Field())
	}
	return &domain.ConfigurationError{Fields: fields}
}
