package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default location of the YAML config, overridable with CHAT_CONFIG.
var ConfigPath = "config.yaml"

const minSessionSecretBytes = 32

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                   string   `yaml:"port"`
	LogLevel               string   `yaml:"logLevel"`
	LogsDir                string   `yaml:"logsDir"`
	DatabaseURL            string   `yaml:"databaseURL"`
	SessionSecret          string   `yaml:"sessionSecret"`
	SessionTTL             string   `yaml:"sessionTTL"`
	CookieSecure           bool     `yaml:"cookieSecure"`
	GenerationProvider     string   `yaml:"generationProvider"`
	GenerationAPIKey       string   `yaml:"generationAPIKey"`
	GenerationBaseURL      string   `yaml:"generationBaseURL"`
	GenerationModel        string   `yaml:"generationModel"`
	GenerationMaxRetries   int      `yaml:"generationMaxRetries"`
	GenerationTimeout      string   `yaml:"generationTimeout"`
	AppURL                 string   `yaml:"appURL"`
	AppTitle               string   `yaml:"appTitle"`
	HistoryLimit           int      `yaml:"historyLimit"`
	GoogleClientID         string   `yaml:"googleClientID"`
	GoogleClientSecret     string   `yaml:"googleClientSecret"`
	OAuthRedirectURL       string   `yaml:"oauthRedirectURL"`
	RedisAddr              string   `yaml:"redisAddr"`
	RedisPassword          string   `yaml:"redisPassword"`
	ChatRateLimitPerMinute int      `yaml:"chatRateLimitPerMinute"`
	CORSOrigins            []string `yaml:"corsOrigins"`
	TrustedProxyCIDRs      []string `yaml:"trustedProxyCidrs"`
}

// Load reads config from path (defaults to CHAT_CONFIG, then config.yaml) and applies
// environment overrides. A missing default file is allowed so the service can run from env alone.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	explicit := path != ""
	if !explicit {
		if v := strings.TrimSpace(os.Getenv("CHAT_CONFIG")); v != "" {
			path, explicit = v, true
		} else {
			path = ConfigPath
		}
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) error {
	setString(&cfg.Port, "PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogsDir, "LOGS_DIR")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.SessionSecret, "SESSION_SECRET")
	setString(&cfg.SessionTTL, "SESSION_TTL")
	setString(&cfg.GenerationProvider, "GENERATION_PROVIDER")
	setString(&cfg.GenerationAPIKey, "OPENROUTER_API_KEY")
	setString(&cfg.GenerationAPIKey, "GENERATION_API_KEY")
	setString(&cfg.GenerationBaseURL, "GENERATION_BASE_URL")
	setString(&cfg.GenerationModel, "GENERATION_MODEL")
	setString(&cfg.GenerationTimeout, "GENERATION_TIMEOUT")
	setString(&cfg.AppURL, "APP_URL")
	setString(&cfg.AppTitle, "APP_TITLE")
	setString(&cfg.GoogleClientID, "GOOGLE_CLIENT_ID")
	setString(&cfg.GoogleClientSecret, "GOOGLE_CLIENT_SECRET")
	setString(&cfg.OAuthRedirectURL, "OAUTH_REDIRECT_URL")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	if v := os.Getenv("CORS_ORIGIN"); v != "" {
		cfg.CORSOrigins = splitCSV(v)
	}
	if v := os.Getenv("TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	return errors.Join(
		setBool(&cfg.CookieSecure, "COOKIE_SECURE"),
		setInt(&cfg.GenerationMaxRetries, "GENERATION_MAX_RETRIES"),
		setInt(&cfg.HistoryLimit, "HISTORY_LIMIT"),
		setInt(&cfg.ChatRateLimitPerMinute, "CHAT_RATE_LIMIT_PER_MINUTE"),
	)
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.SessionTTL == "" {
		cfg.SessionTTL = "720h"
	}
	if cfg.GenerationProvider == "" {
		cfg.GenerationProvider = "openrouter"
	}
	if cfg.GenerationTimeout == "" {
		cfg.GenerationTimeout = "60s"
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = 20
	}
	if cfg.AppTitle == "" {
		cfg.AppTitle = "Zero-G Chat"
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"http://localhost:3000"}
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if len(cfg.SessionSecret) < minSessionSecretBytes {
		return fmt.Errorf("config: sessionSecret must be at least %d bytes (set in config.yaml or SESSION_SECRET)", minSessionSecretBytes)
	}
	if _, err := ParseDuration("sessionTTL", cfg.SessionTTL); err != nil {
		return err
	}
	if _, err := ParseDuration("generationTimeout", cfg.GenerationTimeout); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(cfg.GenerationProvider)) {
	case "openrouter":
		if strings.TrimSpace(cfg.GenerationAPIKey) == "" {
			return errors.New("config: generationAPIKey is required for openrouter (set in config.yaml or OPENROUTER_API_KEY)")
		}
	case "openai", "langchain":
		if strings.TrimSpace(cfg.GenerationBaseURL) == "" {
			return fmt.Errorf("config: generationBaseURL is required for %s", cfg.GenerationProvider)
		}
	case "gemini":
		if strings.TrimSpace(cfg.GenerationAPIKey) == "" {
			return errors.New("config: generationAPIKey is required for gemini")
		}
	case "ollama":
	default:
		return fmt.Errorf("config: unknown generationProvider %q", cfg.GenerationProvider)
	}
	if cfg.GenerationMaxRetries < 0 {
		return errors.New("config: generationMaxRetries must be >= 0")
	}
	if cfg.HistoryLimit < 1 {
		return errors.New("config: historyLimit must be >= 1")
	}
	if cfg.ChatRateLimitPerMinute < 0 {
		return errors.New("config: chatRateLimitPerMinute must be >= 0")
	}
	if (cfg.GoogleClientID == "") != (cfg.GoogleClientSecret == "") {
		return errors.New("config: googleClientID and googleClientSecret must be set together")
	}
	if cfg.GoogleClientID != "" && strings.TrimSpace(cfg.OAuthRedirectURL) == "" {
		return errors.New("config: oauthRedirectURL is required when Google sign-in is enabled")
	}
	return nil
}

// GoogleEnabled reports whether Google sign-in credentials are configured.
func (c FileConfig) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// ParseDuration parses a duration setting, naming it in the error.
func ParseDuration(name, value string) (time.Duration, error) {
	dur, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s duration: %w", name, err)
	}
	if dur <= 0 {
		return 0, fmt.Errorf("config: %s must be positive", name)
	}
	return dur, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("config: %s must be an integer, got %q", key, v)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("config: %s must be a boolean, got %q", key, v)
	}
	*dst = b
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
