// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DBHost     string `env:"DB_HOST,required,notEmpty"`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER,required,notEmpty"`
	DBPassword string `env:"DB_PASSWORD,required,notEmpty"`
	DBName     string `env:"DB_NAME,required,notEmpty"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`

	// Token
	TokenTTL       time.Duration `env:"TOKEN_TTL" envDefault:"23h30m"`
	TokenRetention time.Duration `env:"TOKEN_RETENTION" envDefault:"720h"`

	// Identity provider
	IdentityUserInfoURL     string        `env:"IDENTITY_USERINFO_URL" envDefault:"https://www.googleapis.com/oauth2/v3/userinfo"`
	IdentityTimeout         time.Duration `env:"IDENTITY_TIMEOUT" envDefault:"5s"`
	IdentityMaxResponseSize int64         `env:"IDENTITY_MAX_RESPONSE_SIZE" envDefault:"1048576"`

	// Rate Limit（req/min）
	RateLimitAuth    int `env:"RATE_LIMIT_AUTH" envDefault:"30"`
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`

	// Worker
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"24h"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DatabaseURL はDB接続パラメータからPostgreSQLの接続URLを組み立てる。
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     net.JoinHostPort(c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": {c.DBSSLMode}}.Encode(),
	}
	return u.String()
}

func (c *Config) validate() error {
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive, got %s", c.TokenTTL)
	}
	if c.IdentityTimeout <= 0 {
		return fmt.Errorf("IDENTITY_TIMEOUT must be positive, got %s", c.IdentityTimeout)
	}
	if c.IdentityMaxResponseSize <= 0 {
		return fmt.Errorf("IDENTITY_MAX_RESPONSE_SIZE must be positive, got %d", c.IdentityMaxResponseSize)
	}
	if c.TokenRetention <= 0 {
		return fmt.Errorf("TOKEN_RETENTION must be positive, got %s", c.TokenRetention)
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL must be positive, got %s", c.CleanupInterval)
	}
	if c.RateLimitAuth <= 0 || c.RateLimitGeneral <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	return nil
}

// loadDotEnv はpathの.envファイルを読み込む。ファイルが存在しない場合は何もしない。
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", path, err)
}
