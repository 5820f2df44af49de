package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const EnvPrefix = "PANEL"

type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Owner     OwnerConfig
	Payment   PaymentConfig
	Provision ProvisionConfig
	Telegram  TelegramConfig
	Sheets    SheetsConfig
	RateLimit RateLimitConfig
}

type AppConfig struct {
	Env       string `envconfig:"PANEL_APP_ENV" default:"dev"`
	Port      string `envconfig:"PANEL_APP_PORT" default:"3000"`
	LogLevel  string `envconfig:"PANEL_LOG_LEVEL" default:"info"`
	PublicDir string `envconfig:"PANEL_PUBLIC_DIR" default:"public"`

	// 代理头只在来源属于 TrustedProxies 时生效
	ProxyHeader    string   `envconfig:"PANEL_PROXY_HEADER"`
	TrustedProxies []string `envconfig:"PANEL_TRUSTED_PROXIES"`
}

type DBConfig struct {
	Driver string `envconfig:"PANEL_DB_DRIVER" default:"sqlite"`
	DSN    string `envconfig:"PANEL_DB_DSN" default:"data/panel.db"`
}

// RedisConfig 为空时不启用通知去重
type RedisConfig struct {
	URL string `envconfig:"PANEL_REDIS_URL"`
}

type JWTConfig struct {
	Secret string        `envconfig:"PANEL_JWT_SECRET" default:"change-me"`
	TTL    time.Duration `envconfig:"PANEL_JWT_TTL" default:"168h"`
}

type OwnerConfig struct {
	Username string `envconfig:"PANEL_OWNER_USERNAME" default:"owner"`
	Password string `envconfig:"PANEL_OWNER_PASSWORD"`
}

type PaymentConfig struct {
	BaseURL    string        `envconfig:"PANEL_PAYMENT_BASE_URL" default:"https://my-payment.autsc.my.id"`
	Timeout    time.Duration `envconfig:"PANEL_PAYMENT_TIMEOUT" default:"10s"`
	DepositTTL time.Duration `envconfig:"PANEL_DEPOSIT_TTL" default:"30m"`
	// 支付方返回无时区时间时使用的时区
	TimeZone   string        `envconfig:"PANEL_PAYMENT_TZ" default:"Asia/Jakarta"`
}

type ProvisionConfig struct {
	Scheme  string        `envconfig:"PANEL_PROVISION_SCHEME" default:"https"`
	Timeout time.Duration `envconfig:"PANEL_PROVISION_TIMEOUT" default:"20s"`
}

// TelegramConfig 仅在 settings 表未配置时作为兜底
type TelegramConfig struct {
	BotToken string `envconfig:"PANEL_TELEGRAM_BOT_TOKEN"`
	ChatID   string `envconfig:"PANEL_TELEGRAM_CHAT_ID"`
}

type SheetsConfig struct {
	Enabled        bool   `envconfig:"PANEL_SHEETS_ENABLED" default:"false"`
	CredentialPath string `envconfig:"PANEL_SHEETS_CREDENTIALS"`
	SpreadsheetID  string `envconfig:"PANEL_SHEETS_SPREADSHEET_ID"`
	SheetName      string `envconfig:"PANEL_SHEETS_SHEET_NAME" default:"LicenseKeys"`
}

type RateLimitConfig struct {
	PerSecond float64 `envconfig:"PANEL_RATE_LIMIT_RPS" default:"1"`
	Burst     int     `envconfig:"PANEL_RATE_LIMIT_BURST" default:"5"`
}

// Load 读取 .env（可选）后解析环境变量
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(c.DB.Driver) {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported db driver %q", c.DB.Driver)
	}
	if c.App.Env == "prod" && c.JWT.Secret == "change-me" {
		return fmt.Errorf("PANEL_JWT_SECRET must be set in prod")
	}
	if c.Sheets.Enabled && (c.Sheets.CredentialPath == "" || c.Sheets.SpreadsheetID == "") {
		return fmt.Errorf("sheets sync enabled without credentials or spreadsheet id")
	}
	return nil
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, "prod")
}
