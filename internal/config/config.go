package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for ytrelay.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram" json:"telegram"`
	Datastore DatastoreConfig `yaml:"datastore" json:"datastore"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Ledger    LedgerConfig    `yaml:"ledger" json:"ledger"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
	Log       LogConfig       `yaml:"log" json:"log"`
}

type TelegramConfig struct {
	Token          string `yaml:"token" json:"token"`
	APIEndpoint    string `yaml:"apiEndpoint" json:"apiEndpoint"` // fmt pattern: token, method
	WebhookPath    string `yaml:"webhookPath" json:"webhookPath"`
	SecretToken    string `yaml:"secretToken,omitempty" json:"secretToken,omitempty"`
	TimeoutSeconds int    `yaml:"timeoutSeconds" json:"timeoutSeconds"`
}

const (
	DriverSupabase = "supabase"
	DriverPostgres = "postgres"
)

type DatastoreConfig struct {
	Driver         string `yaml:"driver" json:"driver"` // "supabase" | "postgres"
	URL            string `yaml:"url,omitempty" json:"url,omitempty"`
	ServiceKey     string `yaml:"serviceKey,omitempty" json:"serviceKey,omitempty"`
	Table          string `yaml:"table" json:"table"`
	DatabaseURL    string `yaml:"databaseURL,omitempty" json:"databaseURL,omitempty"`
	TimeoutSeconds int    `yaml:"timeoutSeconds" json:"timeoutSeconds"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listenAddr" json:"listenAddr"`
}

type LedgerConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	DBPath        string `yaml:"dbPath" json:"dbPath"`
	RetentionDays int    `yaml:"retentionDays" json:"retentionDays"`
}

type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
}

type LogConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"` // "text" | "json"
	File       string `yaml:"file,omitempty" json:"file,omitempty"`
	MaxSizeMB  int    `yaml:"maxSizeMB" json:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups" json:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays" json:"maxAgeDays"`
}

// envOverrides are applied after the file. Unset variables leave the file
// value alone.
type envOverrides struct {
	BotToken      string `envconfig:"TELEGRAM_BOT_TOKEN"`
	WebhookSecret string `envconfig:"TELEGRAM_WEBHOOK_SECRET"`
	SupabaseURL   string `envconfig:"SUPABASE_URL"`
	SupabaseKey   string `envconfig:"SUPABASE_SERVICE_KEY"`
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	Driver        string `envconfig:"DATASTORE_DRIVER"`
	ListenAddr    string `envconfig:"LISTEN_ADDR"`
	LogLevel      string `envconfig:"LOG_LEVEL"`
	LedgerEnabled *bool  `envconfig:"LEDGER_ENABLED"`
}

// DefaultConfigPath is read when no --config flag is given. It may be absent.
const DefaultConfigPath = "ytrelay.yaml"

// Load reads path (if non-empty), expands ${VAR} references, applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		path = ExpandPath(path)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
		}
		data = []byte(ExpandEnvVars(string(data)))
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	cfg.Ledger.DBPath = ExpandPath(cfg.Ledger.DBPath)
	cfg.Log.File = ExpandPath(cfg.Log.File)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.Telegram.Token, env.BotToken)
	set(&cfg.Telegram.SecretToken, env.WebhookSecret)
	set(&cfg.Datastore.URL, env.SupabaseURL)
	set(&cfg.Datastore.ServiceKey, env.SupabaseKey)
	set(&cfg.Datastore.DatabaseURL, env.DatabaseURL)
	set(&cfg.Datastore.Driver, env.Driver)
	set(&cfg.Server.ListenAddr, env.ListenAddr)
	set(&cfg.Log.Level, env.LogLevel)
	if env.LedgerEnabled != nil {
		cfg.Ledger.Enabled = *env.LedgerEnabled
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty. Unknown
// variables without a default are left untouched.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""
		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

// unresolvedVar reports the first ${VAR} that ExpandEnvVars left in value.
func unresolvedVar(value string) (string, bool) {
	groups := envVarPattern.FindStringSubmatch(value)
	if groups == nil {
		return "", false
	}
	return groups[1], true
}

// Save writes cfg as YAML.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has usable values and reports every
// problem at once.
func Validate(cfg *Config) error {
	var errs []string

	for _, f := range []struct{ path, value string }{
		{"telegram.token", cfg.Telegram.Token},
		{"telegram.secretToken", cfg.Telegram.SecretToken},
		{"datastore.url", cfg.Datastore.URL},
		{"datastore.serviceKey", cfg.Datastore.ServiceKey},
		{"datastore.databaseURL", cfg.Datastore.DatabaseURL},
	} {
		if name, ok := unresolvedVar(f.value); ok {
			errs = append(errs, fmt.Sprintf("%s references unset environment variable %s", f.path, name))
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, "telegram.token is required (TELEGRAM_BOT_TOKEN)")
	}
	if !strings.HasPrefix(cfg.Telegram.WebhookPath, "/") {
		errs = append(errs, "telegram.webhookPath must start with /")
	}
	if strings.Count(cfg.Telegram.APIEndpoint, "%s") != 2 {
		errs = append(errs, "telegram.apiEndpoint must contain two %s verbs (token, method)")
	}
	if cfg.Telegram.TimeoutSeconds < 1 {
		errs = append(errs, "telegram.timeoutSeconds must be >= 1")
	}

	switch cfg.Datastore.Driver {
	case DriverSupabase:
		if cfg.Datastore.URL == "" {
			errs = append(errs, "datastore.url is required for the supabase driver (SUPABASE_URL)")
		}
		if cfg.Datastore.ServiceKey == "" {
			errs = append(errs, "datastore.serviceKey is required for the supabase driver (SUPABASE_SERVICE_KEY)")
		}
	case DriverPostgres:
		if cfg.Datastore.DatabaseURL == "" {
			errs = append(errs, "datastore.databaseURL is required for the postgres driver (DATABASE_URL)")
		}
	default:
		errs = append(errs, "datastore.driver must be one of: supabase, postgres")
	}
	if cfg.Datastore.Table == "" {
		errs = append(errs, "datastore.table is required")
	}
	if cfg.Datastore.TimeoutSeconds < 1 {
		errs = append(errs, "datastore.timeoutSeconds must be >= 1")
	}

	if cfg.Server.ListenAddr == "" {
		errs = append(errs, "server.listenAddr is required")
	}

	if cfg.Ledger.Enabled {
		if cfg.Ledger.DBPath == "" {
			errs = append(errs, "ledger.dbPath is required when the ledger is enabled")
		}
		if cfg.Ledger.RetentionDays < 1 {
			errs = append(errs, "ledger.retentionDays must be >= 1")
		}
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Endpoint == cfg.Telegram.WebhookPath {
		errs = append(errs, "metrics.endpoint must differ from telegram.webhookPath")
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "log.level must be one of: debug, info, warn, error")
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, "log.format must be one of: text, json")
	}

	if len(errs) > 0 {
		return errors.New("config validation errors:\n  - " + strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
