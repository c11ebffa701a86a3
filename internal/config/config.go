package config

import (
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	Port        int    `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv      string `env:"APP_ENV" envDefault:"production"`

	StripeSecretKey     string        `env:"STRIPE_SECRET_KEY,required,notEmpty"`
	StripeWebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET,required,notEmpty"`
	StripeAPIURL        string        `env:"STRIPE_API_URL"`
	WebhookTolerance    time.Duration `env:"WEBHOOK_TOLERANCE" envDefault:"5m"`
	WebhookMaxBodyBytes int64         `env:"WEBHOOK_MAX_BODY_BYTES" envDefault:"1048576"`
	CheckoutSuccessURL  string        `env:"CHECKOUT_SUCCESS_URL" envDefault:"https://tablepay.example/checkout/success?session_id={CHECKOUT_SESSION_ID}"`
	CheckoutCancelURL   string        `env:"CHECKOUT_CANCEL_URL" envDefault:"https://tablepay.example/checkout/cancel"`

	OperatorTokenSecret string `env:"OPERATOR_TOKEN_SECRET,required,notEmpty"`

	ReconcileRatePerMinute int `env:"RECONCILE_RATE_PER_MINUTE" envDefault:"6"`
	ReconcileRateBurst     int `env:"RECONCILE_RATE_BURST" envDefault:"2"`
	WebhookRatePerMinute   int `env:"WEBHOOK_RATE_PER_MINUTE" envDefault:"6000"`
	WebhookRateBurst       int `env:"WEBHOOK_RATE_BURST" envDefault:"200"`

	// TrustedProxies lists CIDRs or addresses whose X-Forwarded-For is believed.
	TrustedProxies         []string      `env:"TRUSTED_PROXIES" envSeparator:","`
	RateLimitIdleTTL       time.Duration `env:"RATE_LIMIT_IDLE_TTL" envDefault:"10m"`
	RateLimitSweepInterval time.Duration `env:"RATE_LIMIT_SWEEP_INTERVAL" envDefault:"1m"`

	ReconcileDefaultLimit       int           `env:"RECONCILE_DEFAULT_LIMIT" envDefault:"100"`
	ReconcileMaxLimit           int           `env:"RECONCILE_MAX_LIMIT" envDefault:"1000"`
	ReconcileDefaultWindowHours int           `env:"RECONCILE_DEFAULT_WINDOW_HOURS" envDefault:"24"`
	ReconcileMaxWindowHours     int           `env:"RECONCILE_MAX_WINDOW_HOURS" envDefault:"72"`
	ReconcileWorkers            int           `env:"RECONCILE_WORKERS" envDefault:"8"`
	ReconcileBudget             time.Duration `env:"RECONCILE_BUDGET" envDefault:"60s"`
	ReconcileInterval           time.Duration `env:"RECONCILE_INTERVAL" envDefault:"15m"`
	ReconcileFetchAttempts      int           `env:"RECONCILE_FETCH_ATTEMPTS" envDefault:"3"`
	ReconcileFetchBackoff       time.Duration `env:"RECONCILE_FETCH_BACKOFF" envDefault:"500ms"`

	ApplyMaxAttempts    int           `env:"APPLY_MAX_ATTEMPTS" envDefault:"3"`
	ApplyInitialBackoff time.Duration `env:"APPLY_INITIAL_BACKOFF" envDefault:"50ms"`
	ApplyMaxBackoff     time.Duration `env:"APPLY_MAX_BACKOFF" envDefault:"1s"`
	ApplyRedriveLimit   int           `env:"APPLY_REDRIVE_LIMIT" envDefault:"20"`

	DispatchWorkers   int `env:"DISPATCH_WORKERS" envDefault:"4"`
	DispatchQueueSize int `env:"DISPATCH_QUEUE_SIZE" envDefault:"256"`

	SweepInterval  time.Duration `env:"SWEEP_INTERVAL" envDefault:"30s"`
	SweepGrace     time.Duration `env:"SWEEP_GRACE" envDefault:"1m"`
	SweepBatchSize int           `env:"SWEEP_BATCH_SIZE" envDefault:"50"`

	IdempotencyTTL           time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	IdempotencyPurgeInterval time.Duration `env:"IDEMPOTENCY_PURGE_INTERVAL" envDefault:"1h"`

	DBMaxOpenConns     int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int           `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int           `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int           `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
	DBConnectTimeout   time.Duration `env:"DB_CONNECT_TIMEOUT" envDefault:"30s"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.ReconcileDefaultLimit < 1 || c.ReconcileDefaultLimit > c.ReconcileMaxLimit:
		return fmt.Errorf("RECONCILE_DEFAULT_LIMIT must be between 1 and RECONCILE_MAX_LIMIT")
	case c.ReconcileDefaultWindowHours < 1 || c.ReconcileDefaultWindowHours > c.ReconcileMaxWindowHours:
		return fmt.Errorf("RECONCILE_DEFAULT_WINDOW_HOURS must be between 1 and RECONCILE_MAX_WINDOW_HOURS")
	case c.ApplyMaxAttempts < 1:
		return fmt.Errorf("APPLY_MAX_ATTEMPTS must be at least 1")
	case c.WebhookMaxBodyBytes < 1:
		return fmt.Errorf("WEBHOOK_MAX_BODY_BYTES must be positive")
	case c.RateLimitIdleTTL < 0:
		return fmt.Errorf("RATE_LIMIT_IDLE_TTL must not be negative")
	}
	return nil
}
