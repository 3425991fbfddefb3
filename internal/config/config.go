package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Checkout CheckoutConfig `yaml:"checkout"`
	Support  SupportConfig  `yaml:"support"`
	Session  SessionConfig  `yaml:"session"`
	Log      LogConfig      `yaml:"log"`

	// ConfigPath is the path to the config file (not serialized)
	ConfigPath string `yaml:"-"`
}

// ServerConfig represents the local server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// UpstreamConfig represents the config/invoice/QR API connection
type UpstreamConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"` // requests per second, 0 disables
	Burst     int           `yaml:"burst"`
	UserAgent string        `yaml:"user_agent,omitempty"`
}

// CatalogConfig controls catalog parsing and card rendering
type CatalogConfig struct {
	DefaultPrice int64  `yaml:"default_price"`
	MaxDescChars int    `yaml:"max_desc_chars"`
	FallbackDesc string `yaml:"fallback_desc"`
	ImageWidth   int    `yaml:"image_width"`
	ImageHeight  int    `yaml:"image_height"`
}

// CheckoutConfig holds the orchestrator timings. The QR-wait and payment-wait
// budgets have differed between releases, so both stay configurable.
type CheckoutConfig struct {
	QRWait         time.Duration `yaml:"qr_wait"`
	PaymentWait    time.Duration `yaml:"payment_wait"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	CountdownTick  time.Duration `yaml:"countdown_tick"`
	MinQRDimension int           `yaml:"min_qr_dimension"`
	AutoConfirmQR  bool          `yaml:"auto_confirm_qr"`
	HistorySize    int           `yaml:"history_size"`
}

// SupportConfig identifies the operator reachable from failure screens
type SupportConfig struct {
	Handle string `yaml:"handle"`
}

// SessionConfig controls page session lifetime
type SessionConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// LogConfig controls log output
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // "text" or "json"
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	BufferSize int    `yaml:"buffer_size"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Upstream: UpstreamConfig{
			Endpoint:  "http://127.0.0.1:8000",
			Timeout:   15 * time.Second,
			RateLimit: 10,
			Burst:     5,
		},
		Catalog: CatalogConfig{
			DefaultPrice: 25000,
			MaxDescChars: 120,
			FallbackDesc: "Akses eksklusif grup pilihan.",
			ImageWidth:   600,
			ImageHeight:  400,
		},
		Checkout: CheckoutConfig{
			QRWait:         180 * time.Second,
			PaymentWait:    300 * time.Second,
			PollInterval:   2 * time.Second,
			CountdownTick:  time.Second,
			MinQRDimension: 200,
			HistorySize:    50,
		},
		Session: SessionConfig{
			TTL:           time.Hour,
			SweepInterval: 5 * time.Minute,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  20,
			MaxBackups: 3,
			BufferSize: 500,
		},
	}
}

// Load loads configuration from the config file, then applies .env and
// MINIAPP_* environment overrides. A missing file is not an error: the
// defaults are used and ConfigPath stays empty.
func Load() (*Config, error) {
	// Try to find config file in common locations
	configPaths := []string{
		"config.yaml",
		"configs/config.yaml",
		"/etc/miniapp/config.yaml",
	}

	cfg := Default()
	for _, path := range configPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		cfg.ConfigPath = path
		break
	}

	// .env is optional; real environment variables win over it
	_ = godotenv.Load()

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads configuration from an explicit path
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.ConfigPath = path

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("MINIAPP_UPSTREAM"); v != "" {
		c.Upstream.Endpoint = v
	}
	if v := getenv("MINIAPP_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := getenv("MINIAPP_SUPPORT_HANDLE"); v != "" {
		c.Support.Handle = v
	}
	if v := getenv("MINIAPP_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("MINIAPP_LOG_FILE"); v != "" {
		c.Log.File = v
	}

	if v := getenv("MINIAPP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MINIAPP_PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v := getenv("MINIAPP_DEFAULT_PRICE"); v != "" {
		price, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MINIAPP_DEFAULT_PRICE %q: %w", v, err)
		}
		c.Catalog.DefaultPrice = price
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"MINIAPP_QR_WAIT", &c.Checkout.QRWait},
		{"MINIAPP_PAYMENT_WAIT", &c.Checkout.PaymentWait},
		{"MINIAPP_POLL_INTERVAL", &c.Checkout.PollInterval},
	}
	for _, d := range durations {
		v := getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.key, v, err)
		}
		*d.dst = parsed
	}
	return nil
}

// Validate rejects configurations the checkout flow cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Upstream.Endpoint == "" {
		errs = append(errs, errors.New("upstream.endpoint is required"))
	}
	if c.Catalog.DefaultPrice <= 0 {
		errs = append(errs, errors.New("catalog.default_price must be positive"))
	}
	if c.Catalog.MaxDescChars <= 0 {
		errs = append(errs, errors.New("catalog.max_desc_chars must be positive"))
	}
	if c.Checkout.QRWait <= 0 || c.Checkout.PaymentWait <= 0 {
		errs = append(errs, errors.New("checkout.qr_wait and checkout.payment_wait must be positive"))
	}
	if c.Checkout.PollInterval <= 0 || c.Checkout.CountdownTick <= 0 {
		errs = append(errs, errors.New("checkout.poll_interval and checkout.countdown_tick must be positive"))
	}
	if h := strings.TrimPrefix(c.Support.Handle, "@"); c.Support.Handle != "" && !handlePattern.MatchString(h) {
		errs = append(errs, fmt.Errorf("support.handle is not a Telegram username: %q", c.Support.Handle))
	}
	return errors.Join(errs...)
}

var handlePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Warnings lists settings that are valid but degrade what users see
func (c *Config) Warnings() []string {
	var warnings []string
	if c.Support.Handle == "" {
		warnings = append(warnings, "support.handle is not set; failure and expiry screens will offer no support contact")
	}
	if c.Checkout.AutoConfirmQR {
		warnings = append(warnings, "checkout.auto_confirm_qr is set; QR renders are not confirmed by the page")
	}
	return warnings
}
