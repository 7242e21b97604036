// Package config loads supportbot settings.
//
// Sources are applied in order: built-in defaults, an optional YAML file,
// SUPPORTBOT_* environment variables (a .env file in the working directory is
// read first), and finally command-line flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment variable overrides.
const EnvPrefix = "SUPPORTBOT_"

// Defaults.
const (
	DefaultStateDir        = "/var/lib/supportbot"
	DefaultDBFileName      = "supportbot.db"
	DefaultWhatsAppDBFile  = "whatsapp.db"
	DefaultConfigFile      = "supportbot.yaml"
	DefaultTimeoutMinutes  = 10
	DefaultAssistantTO     = 30 * time.Second
	DefaultAssistantTries  = 3
	DefaultAPIAddr         = ":8080"
	DefaultCatalogLimit    = 5
	DefaultCatalogMaxLimit = 10
	DefaultDedupRetention  = 168 * time.Hour
	DefaultSessionTTL      = 24 * time.Hour
	DefaultOpenAIModel     = "gpt-4o-mini"
)

// Assistant providers.
const (
	ProviderHTTP   = "http"
	ProviderOpenAI = "openai"
)

// Transports.
const (
	TransportTwilio   = "twilio"
	TransportWhatsApp = "whatsapp"
	TransportMock     = "mock"
)

// Config holds every runtime setting.
type Config struct {
	StateDir string `koanf:"state_dir"`
	DBDSN    string `koanf:"db_dsn"`

	RedisAddr     string        `koanf:"redis_addr"`
	RedisPassword string        `koanf:"redis_password"`
	RedisDB       int           `koanf:"redis_db"`
	SessionTTL    time.Duration `koanf:"session_ttl"`

	TimeoutMinutes int `koanf:"timeout_minutes"`

	AssistantProvider   string        `koanf:"assistant_provider"`
	AssistantURL        string        `koanf:"assistant_url"`
	AssistantAPIKey     string        `koanf:"assistant_api_key"`
	AssistantTimeout    time.Duration `koanf:"assistant_timeout"`
	AssistantMaxRetries int           `koanf:"assistant_max_retries"`
	OpenAIAPIKey        string        `koanf:"openai_api_key"`
	OpenAIModel         string        `koanf:"openai_model"`

	Transport        string `koanf:"transport"`
	TwilioAccountSID string `koanf:"twilio_account_sid"`
	TwilioAuthToken  string `koanf:"twilio_auth_token"`
	TwilioFrom       string `koanf:"twilio_from"`
	WhatsAppDBDSN    string `koanf:"whatsapp_db_dsn"`
	WhatsAppQROutput string `koanf:"whatsapp_qr_output"`
	WhatsAppNumeric  bool   `koanf:"whatsapp_numeric_code"`

	APIAddr        string `koanf:"api_addr"`
	CurrencyAPIURL string `koanf:"currency_api_url"`

	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	CatalogDefaultLimit int           `koanf:"catalog_default_limit"`
	CatalogMaxLimit     int           `koanf:"catalog_max_limit"`
	DedupRetention      time.Duration `koanf:"dedup_retention"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		StateDir:            DefaultStateDir,
		SessionTTL:          DefaultSessionTTL,
		TimeoutMinutes:      DefaultTimeoutMinutes,
		AssistantProvider:   ProviderHTTP,
		AssistantTimeout:    DefaultAssistantTO,
		AssistantMaxRetries: DefaultAssistantTries,
		OpenAIModel:         DefaultOpenAIModel,
		Transport:           TransportTwilio,
		APIAddr:             DefaultAPIAddr,
		LogLevel:            "info",
		LogFormat:           "text",
		CatalogDefaultLimit: DefaultCatalogLimit,
		CatalogMaxLimit:     DefaultCatalogMaxLimit,
		DedupRetention:      DefaultDedupRetention,
	}
}

// Load builds the configuration from every source. args excludes the program name.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("config.Load: no .env file loaded", "error", err)
	}

	fs, flagValues := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	cfg, err := LoadFile(*flagValues.configPath)
	if err != nil {
		return nil, err
	}
	applyFlags(fs, flagValues, cfg)
	cfg.fillDerived()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile applies the YAML file at path (if it exists) and the environment on
// top of the defaults. Derived values are not filled in.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
			slog.Debug("config.LoadFile: loaded config file", "path", path)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to access config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Conventional provider variables are honoured when the prefixed ones are unset.
	if cfg.OpenAIAPIKey == "" {
		cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.TwilioAccountSID == "" {
		cfg.TwilioAccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.TwilioAuthToken == "" {
		cfg.TwilioAuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.TwilioFrom == "" {
		cfg.TwilioFrom = os.Getenv("TWILIO_FROM_NUMBER")
	}
	return cfg, nil
}

// fillDerived sets defaults that depend on other settings.
func (c *Config) fillDerived() {
	if c.DBDSN == "" {
		c.DBDSN = filepath.Join(c.StateDir, DefaultDBFileName)
	}
	if c.WhatsAppDBDSN == "" {
		c.WhatsAppDBDSN = "file:" + filepath.Join(c.StateDir, DefaultWhatsAppDBFile) + "?_foreign_keys=on"
	}
}

var (
	validProviders  = map[string]bool{ProviderHTTP: true, ProviderOpenAI: true}
	validTransports = map[string]bool{TransportTwilio: true, TransportWhatsApp: true, TransportMock: true}
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"text": true, "json": true}
)

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	var errs []error
	if c.TimeoutMinutes <= 0 {
		errs = append(errs, fmt.Errorf("timeout_minutes must be positive, got %d", c.TimeoutMinutes))
	}
	if !validProviders[c.AssistantProvider] {
		errs = append(errs, fmt.Errorf("invalid assistant_provider %q: must be one of http, openai", c.AssistantProvider))
	}
	if c.AssistantProvider == ProviderHTTP && c.AssistantURL == "" {
		errs = append(errs, fmt.Errorf("assistant_url is required for the http provider"))
	}
	if c.AssistantProvider == ProviderOpenAI && c.OpenAIAPIKey == "" {
		errs = append(errs, fmt.Errorf("openai_api_key is required for the openai provider"))
	}
	if c.AssistantTimeout <= 0 {
		errs = append(errs, fmt.Errorf("assistant_timeout must be positive"))
	}
	if c.AssistantMaxRetries < 1 {
		errs = append(errs, fmt.Errorf("assistant_max_retries must be at least 1"))
	}
	if !validTransports[c.Transport] {
		errs = append(errs, fmt.Errorf("invalid transport %q: must be one of twilio, whatsapp, mock", c.Transport))
	}
	if c.CatalogDefaultLimit <= 0 || c.CatalogMaxLimit < c.CatalogDefaultLimit {
		errs = append(errs, fmt.Errorf("catalog limits must satisfy 0 < default (%d) <= max (%d)", c.CatalogDefaultLimit, c.CatalogMaxLimit))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("invalid log_level %q", c.LogLevel))
	}
	if !validLogFormats[c.LogFormat] {
		errs = append(errs, fmt.Errorf("invalid log_format %q: must be text or json", c.LogFormat))
	}
	return errors.Join(errs...)
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
