// Package config memuat konfigurasi server: .env, file YAML opsional, lalu
// environment variable yang selalu menang.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Port    string `yaml:"port"`
	GinMode string `yaml:"gin_mode"`

	Database DatabaseConfig `yaml:"database"`
	Midtrans MidtransConfig `yaml:"midtrans"`
	Auth     AuthConfig     `yaml:"auth"`
	Session  SessionConfig  `yaml:"session"`
	Payments PaymentsConfig `yaml:"payments"`
	Log      LogConfig      `yaml:"log"`
}

type DatabaseConfig struct {
	// Driver: "mysql" atau "sqlite"
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

type MidtransConfig struct {
	ServerKey     string `yaml:"server_key"`
	ClientKey     string `yaml:"client_key"`
	Environment   string `yaml:"environment"`
	ExpiryMinutes int    `yaml:"expiry_minutes"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type SessionConfig struct {
	// ConfirmationTimeout adalah batas waktu satu putaran konfirmasi grup.
	ConfirmationTimeout time.Duration `yaml:"confirmation_timeout"`
	AllowedOrigins      []string      `yaml:"allowed_origins"`
}

type PaymentsConfig struct {
	CorrelationSecret string        `yaml:"correlation_secret"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	StaleAfter        time.Duration `yaml:"stale_after"`
	RateLimit         float64       `yaml:"rate_limit"`
	RateBurst         int           `yaml:"rate_burst"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() *Config {
	return &Config{
		Port:    "8080",
		GinMode: "debug",
		Database: DatabaseConfig{
			Driver: "mysql",
			Host:   "127.0.0.1",
			Port:   "3306",
			User:   "root",
			Name:   "restaurant",
		},
		Midtrans: MidtransConfig{
			Environment:   "sandbox",
			ExpiryMinutes: 15,
		},
		Session: SessionConfig{
			ConfirmationTimeout: 2 * time.Minute,
			AllowedOrigins:      []string{"http://localhost:3000"},
		},
		Payments: PaymentsConfig{
			PollInterval: time.Minute,
			StaleAfter:   5 * time.Minute,
			RateLimit:    5,
			RateBurst:    10,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load membaca .env (jika ada), file YAML di path (jika tidak kosong), lalu env var.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv("TABLESYNC_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Port, "PORT")
	setString(&c.GinMode, "GIN_MODE")

	setString(&c.Database.Driver, "DB_DRIVER")
	setString(&c.Database.DSN, "DB_DSN")
	setString(&c.Database.Host, "DB_HOST")
	setString(&c.Database.Port, "DB_PORT")
	setString(&c.Database.User, "DB_USER")
	setString(&c.Database.Password, "DB_PASSWORD")
	setString(&c.Database.Name, "DB_NAME")

	setString(&c.Midtrans.ServerKey, "MIDTRANS_SERVER_KEY")
	setString(&c.Midtrans.ClientKey, "MIDTRANS_CLIENT_KEY")
	setString(&c.Midtrans.Environment, "MIDTRANS_ENV")

	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setString(&c.Payments.CorrelationSecret, "CORRELATION_SECRET")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")

	if err := setInt(&c.Midtrans.ExpiryMinutes, "MIDTRANS_EXPIRY_MINUTES"); err != nil {
		return err
	}
	if err := setDuration(&c.Session.ConfirmationTimeout, "CONFIRMATION_TIMEOUT"); err != nil {
		return err
	}
	if err := setDuration(&c.Payments.PollInterval, "PAYMENT_POLL_INTERVAL"); err != nil {
		return err
	}
	return setDuration(&c.Payments.StaleAfter, "PAYMENT_STALE_AFTER")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is not set")
	}
	if c.Payments.CorrelationSecret == "" {
		return errors.New("CORRELATION_SECRET is not set")
	}
	if c.Session.ConfirmationTimeout <= 0 {
		return errors.New("confirmation timeout must be positive")
	}
	if c.Payments.PollInterval <= 0 || c.Payments.StaleAfter <= 0 {
		return errors.New("payment poll interval and staleness must be positive")
	}
	return nil
}

// GatewayEnabled bernilai true bila kunci Midtrans tersedia.
func (c *Config) GatewayEnabled() bool {
	return c.Midtrans.ServerKey != "" && c.Midtrans.ClientKey != ""
}

func (d DatabaseConfig) dsn() string {
	if d.DSN != "" {
		return d.DSN
	}
	if d.Driver == "sqlite" {
		return d.Name + ".db"
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// InitDB membuka koneksi gorm sesuai driver.
func InitDB(cfg *Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Database.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.Database.dsn())
	default:
		dialector = mysql.Open(cfg.Database.dsn())
	}

	logLevel := logger.Warn
	if cfg.GinMode == "debug" {
		logLevel = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logLevel)})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)
	if cfg.Database.Driver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}
