package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Stripe       StripeConfig
	PayPal       PayPalConfig
	Webhooks     WebhooksConfig
	Cron         CronConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"COURSEPASS_APP_ENV" required:"true"`
	Port         string `envconfig:"COURSEPASS_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"COURSEPASS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"COURSEPASS_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"COURSEPASS_DB_DSN"`
	Driver string `envconfig:"COURSEPASS_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"COURSEPASS_DB_HOST"`
	Port     int    `envconfig:"COURSEPASS_DB_PORT" default:"5432"`
	User     string `envconfig:"COURSEPASS_DB_USER"`
	Password string `envconfig:"COURSEPASS_DB_PASSWORD"`
	Name     string `envconfig:"COURSEPASS_DB_NAME"`
	SSLMode  string `envconfig:"COURSEPASS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"COURSEPASS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"COURSEPASS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"COURSEPASS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"COURSEPASS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"COURSEPASS_REDIS_URL" required:"true"`
	Address      string        `envconfig:"COURSEPASS_REDIS_ADDR"`
	Password     string        `envconfig:"COURSEPASS_REDIS_PASSWORD"`
	DB           int           `envconfig:"COURSEPASS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"COURSEPASS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"COURSEPASS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"COURSEPASS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"COURSEPASS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"COURSEPASS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"COURSEPASS_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"COURSEPASS_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"COURSEPASS_JWT_EXPIRATION_MINUTES" default:"60"`
}

type StripeConfig struct {
	APIKey        string `envconfig:"COURSEPASS_STRIPE_API_KEY"`
	WebhookSecret string `envconfig:"COURSEPASS_STRIPE_WEBHOOK_SECRET"`
	Env           string `envconfig:"COURSEPASS_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type PayPalConfig struct {
	ClientID     string `envconfig:"COURSEPASS_PAYPAL_CLIENT_ID"`
	ClientSecret string `envconfig:"COURSEPASS_PAYPAL_CLIENT_SECRET"`
	BaseURL      string `envconfig:"COURSEPASS_PAYPAL_BASE_URL" default:"https://api-m.sandbox.paypal.com"`
	WebhookSecret string `envconfig:"COURSEPASS_PAYPAL_WEBHOOK_SECRET"`

	// AllowUnverifiedWebhooks accepts unsigned PayPal webhooks when no
	// webhook secret has been provisioned yet. Setup aid only; every event
	// accepted this way is logged as a warning.
	AllowUnverifiedWebhooks bool `envconfig:"COURSEPASS_PAYPAL_ALLOW_UNVERIFIED_WEBHOOKS" default:"false"`

	Timeout time.Duration `envconfig:"COURSEPASS_PAYPAL_TIMEOUT" default:"30s"`
}

type WebhooksConfig struct {
	IdempotencyTTL time.Duration `envconfig:"COURSEPASS_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"COURSEPASS_CRON_INTERVAL" default:"1h"`
	// PendingOrderGrace is deliberately long: a pending order is failed only
	// once no webhook could plausibly still settle it.
	PendingOrderGrace time.Duration `envconfig:"COURSEPASS_CRON_PENDING_ORDER_GRACE" default:"168h"`
	PendingOrderBatch int           `envconfig:"COURSEPASS_CRON_PENDING_ORDER_BATCH" default:"100"`
	ExpirySweepBatch  int           `envconfig:"COURSEPASS_CRON_EXPIRY_SWEEP_BATCH" default:"250"`
	LockTTL           time.Duration `envconfig:"COURSEPASS_CRON_LOCK_TTL" default:"50m"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"COURSEPASS_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"COURSEPASS_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range requiredDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
