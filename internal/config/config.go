package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"deepguard/internal/verdict"
)

type Config struct {
	HTTP struct {
		Addr         string   `yaml:"addr"`
		AllowOrigins []string `yaml:"allow_origins"`
	} `yaml:"http"`
	Dev struct {
		Mode bool `yaml:"mode"`
	} `yaml:"dev"`
	Provider struct {
		BaseURL      string        `yaml:"base_url"`
		APIToken     string        `yaml:"api_token"`
		RegistryPath string        `yaml:"registry_path"`
		PollInterval time.Duration `yaml:"poll_interval"`
		MaxAttempts  int           `yaml:"max_attempts"`
		CallTimeout  time.Duration `yaml:"call_timeout"`
		Threshold    float64       `yaml:"threshold"`
	} `yaml:"provider"`
	Hive struct {
		BaseURL     string        `yaml:"base_url"`
		APIKey      string        `yaml:"api_key"`
		CallTimeout time.Duration `yaml:"call_timeout"`
	} `yaml:"hive"`
	Probe struct {
		URL     string        `yaml:"url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"probe"`
	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Sentry struct {
		DSN         string `yaml:"dsn"`
		Environment string `yaml:"environment"`
	} `yaml:"sentry"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

func Default() Config {
	var cfg Config
	cfg.HTTP.Addr = ":3000"
	cfg.HTTP.AllowOrigins = []string{"*"}
	cfg.Provider.BaseURL = "https://api.replicate.com"
	cfg.Provider.PollInterval = time.Second
	cfg.Provider.MaxAttempts = 30
	cfg.Provider.CallTimeout = 10 * time.Second
	cfg.Provider.Threshold = verdict.DefaultThreshold
	cfg.Hive.BaseURL = "https://api.thehive.ai"
	cfg.Hive.CallTimeout = 5 * time.Second
	cfg.Probe.URL = "https://api.replicate.com/v1/models"
	cfg.Probe.Timeout = 2 * time.Second
	cfg.Sentry.Environment = "development"
	cfg.Log.Level = "info"
	return cfg
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, err
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, err
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if !verdict.ValidThreshold(c.Provider.Threshold) {
		return fmt.Errorf("provider.threshold must be in [%v,%v), got %v",
			verdict.MinThreshold, verdict.MaxThreshold, c.Provider.Threshold)
	}
	if c.Provider.MaxAttempts <= 0 {
		return errors.New("provider.max_attempts must be positive")
	}
	if c.Provider.PollInterval <= 0 {
		return errors.New("provider.poll_interval must be positive")
	}
	if c.Provider.CallTimeout <= 0 {
		return errors.New("provider.call_timeout must be positive")
	}
	if c.Hive.CallTimeout <= 0 {
		return errors.New("hive.call_timeout must be positive")
	}
	if c.Probe.Timeout <= 0 {
		return errors.New("probe.timeout must be positive")
	}
	if c.HTTP.Addr == "" {
		return errors.New("missing http.addr (or DG_HTTP_ADDR)")
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DG_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	} else if v := os.Getenv("PORT"); v != "" {
		cfg.HTTP.Addr = ":" + v
	}
	if v := os.Getenv("DG_ALLOW_ORIGINS"); v != "" {
		cfg.HTTP.AllowOrigins = splitCSV(v)
	}
	if v := os.Getenv("DG_DEV_MODE"); v != "" {
		cfg.Dev.Mode = parseBool(v, cfg.Dev.Mode)
	}
	if v := os.Getenv("DG_PROVIDER_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("DG_PROVIDER_API_TOKEN"); v != "" {
		cfg.Provider.APIToken = v
	} else if v := os.Getenv("REPLICATE_API_TOKEN"); v != "" && cfg.Provider.APIToken == "" {
		cfg.Provider.APIToken = v
	}
	if v := os.Getenv("DG_REGISTRY_PATH"); v != "" {
		cfg.Provider.RegistryPath = v
	}
	if v := os.Getenv("DG_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Provider.PollInterval = d
		}
	}
	if v := os.Getenv("DG_POLL_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Provider.MaxAttempts = n
		}
	}
	if v := os.Getenv("DG_CALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Provider.CallTimeout = d
		}
	}
	if v := os.Getenv("DG_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Provider.Threshold = f
		}
	}
	if v := os.Getenv("DG_HIVE_BASE_URL"); v != "" {
		cfg.Hive.BaseURL = v
	}
	if v := os.Getenv("DG_HIVE_API_KEY"); v != "" {
		cfg.Hive.APIKey = v
	} else if v := os.Getenv("HIVE_API_KEY"); v != "" && cfg.Hive.APIKey == "" {
		cfg.Hive.APIKey = v
	}
	if v := os.Getenv("DG_HIVE_CALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Hive.CallTimeout = d
		}
	}
	if v := os.Getenv("DG_PROBE_URL"); v != "" {
		cfg.Probe.URL = v
	}
	if v := os.Getenv("DG_PROBE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Probe.Timeout = d
		}
	}
	if v := os.Getenv("DG_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("DG_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("DG_SENTRY_DSN"); v != "" {
		cfg.Sentry.DSN = v
	}
	if v := os.Getenv("DG_SENTRY_ENVIRONMENT"); v != "" {
		cfg.Sentry.Environment = v
	}
	if v := os.Getenv("DG_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func parseBool(input string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func splitCSV(input string) []string {
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		val := strings.TrimSpace(part)
		if val == "" {
			continue
		}
		out = append(out, val)
	}
	return out
}
