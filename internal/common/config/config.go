package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/uma-arai/sbcntr-asset-notifier/internal/common/database"
)

// Config はアプリケーション全体の設定です
type Config struct {
	DB database.Config `mapstructure:",squash"`

	AssetBots AssetBotsConfig `mapstructure:",squash"`
	SMTP      SMTPConfig      `mapstructure:",squash"`
	Poller    PollerConfig    `mapstructure:",squash"`
	Redis     RedisConfig     `mapstructure:",squash"`

	AdminEmailsRaw string `mapstructure:"ADMIN_EMAILS"`
	HTTPAddr       string `mapstructure:"HTTP_ADDR"`
	LogLevel       string `mapstructure:"LOG_LEVEL"`
	LogFormat      string `mapstructure:"LOG_FORMAT"`
	Timezone       string `mapstructure:"TIMEZONE"`
	Env            string `mapstructure:"ENV"`

	SFN struct {
		TaskToken string
	} `mapstructure:"-"`
	EnableTracing bool `mapstructure:"-"`
}

// AssetBotsConfig はスナップショット取得元APIの設定です
type AssetBotsConfig struct {
	APIURL            string  `mapstructure:"ASSETBOTS_API_URL"`
	APIKey            string  `mapstructure:"ASSETBOTS_API_KEY"`
	PageSize          int     `mapstructure:"ASSETBOTS_PAGE_SIZE"`
	MaxPages          int     `mapstructure:"ASSETBOTS_MAX_PAGES"`
	RequestsPerSecond float64 `mapstructure:"ASSETBOTS_REQUESTS_PER_SECOND"`
}

// SMTPConfig はメール送信の設定です
type SMTPConfig struct {
	Host      string `mapstructure:"SMTP_HOST"`
	Port      int    `mapstructure:"SMTP_PORT"`
	Username  string `mapstructure:"SMTP_USERNAME"`
	Password  string `mapstructure:"SMTP_PASSWORD"`
	FromEmail string `mapstructure:"FROM_EMAIL"`
	FromName  string `mapstructure:"FROM_NAME"`
}

// PollerConfig はポーリングと通知ポリシーの設定です
type PollerConfig struct {
	Interval           time.Duration `mapstructure:"POLL_INTERVAL"`
	CheckMinutes       int           `mapstructure:"CHECK_MINUTES"`
	AutoSendWindow     time.Duration `mapstructure:"AUTO_SEND_WINDOW"`
	LateGrace          time.Duration `mapstructure:"LATE_GRACE"`
	NotifyLocationOnly bool          `mapstructure:"NOTIFY_LOCATION_ONLY"`
	FetchTimeout       time.Duration `mapstructure:"FETCH_TIMEOUT"`
	SendTimeout        time.Duration `mapstructure:"SEND_TIMEOUT"`
}

// RedisConfig は複数インスタンス運用時の分散ロック設定です
// Addrが空の場合はプロセス内のガードを使います
type RedisConfig struct {
	Addr     string        `mapstructure:"REDIS_ADDR"`
	Password string        `mapstructure:"REDIS_PASSWORD"`
	LockKey  string        `mapstructure:"REDIS_LOCK_KEY"`
	LockTTL  time.Duration `mapstructure:"REDIS_LOCK_TTL"`
}

// LoadConfig は.envファイルと環境変数から設定を読み込みます
// taskTokenはStep Functionsから起動された場合のみ指定します
func LoadConfig(taskToken string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // .envがなくても環境変数だけで動く

	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// CHECK_MINUTESは旧設定との互換用
	if cfg.Poller.Interval == 0 {
		cfg.Poller.Interval = time.Minute
		if cfg.Poller.CheckMinutes > 0 {
			cfg.Poller.Interval = time.Duration(cfg.Poller.CheckMinutes) * time.Minute
		}
	}

	cfg.SFN.TaskToken = taskToken

	// 環境変数[SBCNTR_ENABLE_TRACING]を見てトレースを有効にする。対応しているTracingはAWS_XRAYのみ。
	// 環境変数[AWS_XRAY_SDK_DISABLED]がtrueの場合は必ずトレースを無効にする。
	enableKey := os.Getenv("SBCNTR_ENABLE_TRACING")
	if !sdkDisabled() && (strings.ToLower(enableKey) == "true" || enableKey == "1") {
		os.Setenv("AWS_XRAY_SDK_DISABLED", "FALSE")
		cfg.EnableTracing = true
	} else {
		os.Setenv("AWS_XRAY_SDK_DISABLED", "TRUE")
		cfg.EnableTracing = false
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DB_DRIVER", database.DriverSQLite)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USERNAME", "sbcntrapp")
	v.SetDefault("DB_PASSWORD", "password")
	v.SetDefault("DB_NAME", "sbcntrapp")
	v.SetDefault("DB_SSL_MODE", "")
	v.SetDefault("SQLITE_PATH", "./data/notifier.db")

	v.SetDefault("ASSETBOTS_API_URL", "https://api.assetbots.com/v1")
	v.SetDefault("ASSETBOTS_API_KEY", "")
	v.SetDefault("ASSETBOTS_PAGE_SIZE", 1000)
	v.SetDefault("ASSETBOTS_MAX_PAGES", 5)
	v.SetDefault("ASSETBOTS_REQUESTS_PER_SECOND", 1.0)

	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("FROM_EMAIL", "")
	v.SetDefault("FROM_NAME", "Asset Management System")
	v.SetDefault("ADMIN_EMAILS", "")

	v.SetDefault("POLL_INTERVAL", "0s")
	v.SetDefault("CHECK_MINUTES", 0)
	v.SetDefault("AUTO_SEND_WINDOW", "1h")
	v.SetDefault("LATE_GRACE", "0s")
	v.SetDefault("NOTIFY_LOCATION_ONLY", false)
	v.SetDefault("FETCH_TIMEOUT", "2m")
	v.SetDefault("SEND_TIMEOUT", "30s")

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_LOCK_KEY", "asset-notifier:poll")
	v.SetDefault("REDIS_LOCK_TTL", "10m")

	v.SetDefault("HTTP_ADDR", ":3000")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("TIMEZONE", "UTC")
	v.SetDefault("ENV", "")
}

func (c *Config) validate() error {
	if c.DB.Driver != database.DriverPostgres && c.DB.Driver != database.DriverSQLite {
		return fmt.Errorf("config: DB_DRIVER must be %q or %q, got %q", database.DriverPostgres, database.DriverSQLite, c.DB.Driver)
	}
	if c.Poller.Interval <= 0 {
		return errors.New("config: POLL_INTERVAL must be positive")
	}
	if c.Poller.AutoSendWindow <= 0 {
		return errors.New("config: AUTO_SEND_WINDOW must be positive")
	}
	if c.Poller.LateGrace < 0 {
		return errors.New("config: LATE_GRACE must not be negative")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return nil
}

// RequireNotifier はポーラーを動かすのに必要な設定が揃っているか確認します
// マイグレーションや履歴参照だけのCLIでは呼びません
func (c *Config) RequireNotifier() error {
	if c.AssetBots.APIKey == "" {
		return errors.New("config: ASSETBOTS_API_KEY is required")
	}
	if c.SMTP.Host != "" && c.SMTP.FromEmail == "" {
		return errors.New("config: FROM_EMAIL is required when SMTP_HOST is set")
	}
	if len(c.AdminEmails()) == 0 {
		return errors.New("config: at least one ADMIN_EMAILS entry is required")
	}
	return nil
}

// AdminEmails はカンマ区切りの管理者アドレスを分割して返します
func (c *Config) AdminEmails() []string {
	var emails []string
	for _, e := range strings.Split(c.AdminEmailsRaw, ",") {
		if e = strings.TrimSpace(e); e != "" {
			emails = append(emails, e)
		}
	}
	return emails
}

// Location はメールの日付表示に使うタイムゾーンです
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsLocal はENV=LOCALで起動されているかを返します
func (c *Config) IsLocal() bool {
	return c.Env == "LOCAL"
}

// Check if SDK is disabled
func sdkDisabled() bool {
	disableKey := os.Getenv("AWS_XRAY_SDK_DISABLED")
	return strings.ToLower(disableKey) == "true"
}
