package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/newthinker/dexfeed/internal/core"
	"github.com/spf13/viper"
)

type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Transport TransportConfig `mapstructure:"transport"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Adapters  AdaptersConfig  `mapstructure:"adapters"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// TransportConfig holds the upstream HTTP client settings shared by all adapters.
type TransportConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	RateLimit    float64       `mapstructure:"rate_limit"` // requests per second, 0 disables
	Burst        int           `mapstructure:"burst"`
	UserAgent    string        `mapstructure:"user_agent"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

// CacheConfig selects the cache backend. "memory" keeps nothing across
// restarts; "localfs" and "s3" back the memory tier with a persisted one.
type CacheConfig struct {
	Backend       string        `mapstructure:"backend"` // "memory", "localfs" or "s3"
	Path          string        `mapstructure:"path"`    // For localfs
	S3            S3Config      `mapstructure:"s3"`      // For S3
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	WriteAttempts uint          `mapstructure:"write_attempts"`
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

type AdaptersConfig struct {
	Native   NativeConfig   `mapstructure:"native"`
	Renegade RenegadeConfig `mapstructure:"renegade"`
}

type NativeConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Network           string        `mapstructure:"network"`
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	LevelsInterval    time.Duration `mapstructure:"levels_interval"`
	BlacklistInterval time.Duration `mapstructure:"blacklist_interval"`
	TTLFactor         int           `mapstructure:"ttl_factor"`
}

type RenegadeConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Network        string        `mapstructure:"network"`
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	APISecret      string        `mapstructure:"api_secret"`
	LevelsInterval time.Duration `mapstructure:"levels_interval"`
	TokensInterval time.Duration `mapstructure:"tokens_interval"`
	TTLFactor      int           `mapstructure:"ttl_factor"`
}

// Load reads configuration from file on top of Defaults
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Support environment variable overrides
	v.SetEnvPrefix("DEXFEED")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Expand environment variables in string values
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envKey := strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}")
			v.Set(key, os.Getenv(envKey))
		}
	}

	cfg := Defaults()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a config with sensible defaults
func Defaults() *Config {
	return &Config{
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  ":9090",
			Path:    "/metrics",
		},
		Transport: TransportConfig{
			Timeout:      10 * time.Second,
			RateLimit:    20,
			Burst:        5,
			UserAgent:    "dexfeed",
			MaxBodyBytes: 8 << 20,
		},
		Cache: CacheConfig{
			Backend:       "memory",
			SweepInterval: time.Minute,
			WriteAttempts: 3,
		},
		Adapters: AdaptersConfig{
			Native: NativeConfig{
				Network:           "mainnet",
				BaseURL:           "https://api.native.org",
				LevelsInterval:    time.Second,
				BlacklistInterval: 30 * time.Second,
				TTLFactor:         10,
			},
			Renegade: RenegadeConfig{
				Network:        "arbitrum",
				BaseURL:        "https://arbitrum.auth-server.renegade.fi",
				LevelsInterval: 2 * time.Second,
				TokensInterval: 10 * time.Minute,
				TTLFactor:      5,
			},
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Metrics validation
	if c.Metrics.Enabled {
		if c.Metrics.Listen == "" {
			return core.WrapError(core.ErrConfigMissing, fmt.Errorf("metrics listen address required when metrics are enabled"))
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("metrics path must start with /, got %q", c.Metrics.Path))
		}
	}

	// Transport validation
	if c.Transport.Timeout <= 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("transport timeout must be positive, got %s", c.Transport.Timeout))
	}
	if c.Transport.RateLimit < 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("transport rate_limit cannot be negative, got %f", c.Transport.RateLimit))
	}
	if c.Transport.MaxBodyBytes <= 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("transport max_body_bytes must be positive, got %d", c.Transport.MaxBodyBytes))
	}

	// Cache validation
	switch c.Cache.Backend {
	case "memory":
	case "localfs":
		if c.Cache.Path == "" {
			return core.WrapError(core.ErrConfigMissing,
				fmt.Errorf("cache path required when backend is localfs"))
		}
	case "s3":
		if c.Cache.S3.Bucket == "" {
			return core.WrapError(core.ErrConfigMissing,
				fmt.Errorf("cache s3 bucket required when backend is s3"))
		}
	default:
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("unknown cache backend %q", c.Cache.Backend))
	}
	if c.Cache.SweepInterval <= 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("cache sweep_interval must be positive, got %s", c.Cache.SweepInterval))
	}

	// Adapter validation
	if n := c.Adapters.Native; n.Enabled {
		if err := validateFeed("native", n.Network, n.BaseURL, n.TTLFactor,
			map[string]time.Duration{"levels_interval": n.LevelsInterval, "blacklist_interval": n.BlacklistInterval}); err != nil {
			return err
		}
	}
	if r := c.Adapters.Renegade; r.Enabled {
		if err := validateFeed("renegade", r.Network, r.BaseURL, r.TTLFactor,
			map[string]time.Duration{"levels_interval": r.LevelsInterval, "tokens_interval": r.TokensInterval}); err != nil {
			return err
		}
		if r.APIKey == "" || r.APISecret == "" {
			return core.WrapError(core.ErrConfigMissing,
				fmt.Errorf("renegade api_key and api_secret required when renegade is enabled"))
		}
	}

	return nil
}

func validateFeed(name, network, baseURL string, ttlFactor int, intervals map[string]time.Duration) error {
	if _, err := core.ParseNetwork(network); err != nil {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("%s: %w", name, err))
	}
	if baseURL == "" {
		return core.WrapError(core.ErrConfigMissing, fmt.Errorf("%s base_url required", name))
	}
	for key, d := range intervals {
		if d <= 0 {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("%s %s must be positive, got %s", name, key, d))
		}
	}
	if ttlFactor < 2 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("%s ttl_factor must be at least 2, got %d", name, ttlFactor))
	}
	return nil
}
