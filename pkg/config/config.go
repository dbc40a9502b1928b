// Package config provides configuration structures and loading logic for the
// provider runtime and the egress proxy. Secrets are never stored in the
// file; the file names environment variables and the values are resolved at
// load time.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the global configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds configuration for the HTTP servers.
type ServerConfig struct {
	ProxyAddress string `yaml:"proxy_address"`
	AdminAddress string `yaml:"admin_address"`
}

// ProvidersConfig holds the upstream endpoints the provider pipelines talk
// to, plus the names of the environment variables carrying their credentials.
type ProvidersConfig struct {
	ProxyBaseURL   string `yaml:"proxy_base_url"`
	PersonaBaseURL string `yaml:"persona_base_url"`
	PlaidBaseURL   string `yaml:"plaid_base_url"`
	ScoreBaseURL   string `yaml:"score_base_url"`

	// Env var names, resolved into Secrets at load.
	PersonaAPIKeyEnv string `yaml:"persona_api_key_env"`
	PlaidClientIDEnv string `yaml:"plaid_client_id_env"`
	PlaidSecretEnv   string `yaml:"plaid_secret_env"`
}

// ProxyConfig holds the egress proxy's upstream endpoints and quota.
type ProxyConfig struct {
	UserDataURL          string `yaml:"user_data_url"`
	VaultsURL            string `yaml:"vaults_url"`
	EgressTimeoutSeconds int    `yaml:"egress_timeout_seconds"`
	APIKeyEnv            string `yaml:"api_key_env"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig is the per-client quota for the proxy.
type RateLimitConfig struct {
	Requests      int `yaml:"requests"`
	WindowSeconds int `yaml:"window_seconds"`
}

// Window returns the quota window as a duration.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Secrets carries the credential values resolved from the environment.
type Secrets struct {
	ProxyAPIKey   string
	PersonaAPIKey string
	PlaidClientID string
	PlaidSecret   string
}

// Load reads configuration from a file and applies environment variable
// overrides. An empty or absent path loads pure defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			ProxyAddress: ":8080",
			AdminAddress: ":19090",
		},
		Providers: ProvidersConfig{
			PersonaBaseURL:   "https://withpersona.com/api/v1",
			PlaidBaseURL:     "https://sandbox.plaid.com",
			PersonaAPIKeyEnv: "PERSONA_API_KEY",
			PlaidClientIDEnv: "PLAID_CLIENT_ID",
			PlaidSecretEnv:   "PLAID_SECRET",
		},
		Proxy: ProxyConfig{
			UserDataURL:          "https://api.neynar.com/v2/farcaster/user/bulk-by-address/",
			VaultsURL:            "https://api.vaults.fyi/v2/detailed-vaults",
			EgressTimeoutSeconds: 10,
			APIKeyEnv:            "EXT_API_KEY",
			RateLimit: RateLimitConfig{
				Requests:      3,
				WindowSeconds: 60,
			},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("NEWTON_PROXY_ADDR"); val != "" {
		cfg.Server.ProxyAddress = val
	}
	if val := os.Getenv("NEWTON_ADMIN_ADDR"); val != "" {
		cfg.Server.AdminAddress = val
	}

	if val := os.Getenv("NEWTON_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("NEWTON_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}

	if val := os.Getenv("NEWTON_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}

	if val := os.Getenv("NEWTON_PROXY_BASE_URL"); val != "" {
		cfg.Providers.ProxyBaseURL = val
	}
	if val := os.Getenv("NEWTON_SCORE_BASE_URL"); val != "" {
		cfg.Providers.ScoreBaseURL = val
	}

	if val := os.Getenv("NEWTON_RATE_LIMIT_REQUESTS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.Proxy.RateLimit.Requests = n
		}
	}
	if val := os.Getenv("NEWTON_RATE_LIMIT_WINDOW_SECONDS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.Proxy.RateLimit.WindowSeconds = n
		}
	}
}

// Validate checks structural invariants. Secret presence is checked by
// ResolveSecrets, not here, so read-only tooling can load a config without
// credentials in its environment.
func (c *Config) Validate() error {
	if c.Server.ProxyAddress == "" {
		return fmt.Errorf("server.proxy_address must not be empty")
	}
	if c.Server.AdminAddress == "" {
		return fmt.Errorf("server.admin_address must not be empty")
	}
	if c.Proxy.RateLimit.Requests <= 0 {
		return fmt.Errorf("proxy.rate_limit.requests must be positive")
	}
	if c.Proxy.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("proxy.rate_limit.window_seconds must be positive")
	}
	if c.Proxy.EgressTimeoutSeconds <= 0 {
		return fmt.Errorf("proxy.egress_timeout_seconds must be positive")
	}
	return nil
}

// ResolveSecrets reads the configured environment variables. required names
// the secrets that must be present for the current process; a missing
// required secret is an error, everything else resolves to empty.
func (c *Config) ResolveSecrets(required ...string) (Secrets, error) {
	secrets := Secrets{
		ProxyAPIKey:   os.Getenv(c.Proxy.APIKeyEnv),
		PersonaAPIKey: os.Getenv(c.Providers.PersonaAPIKeyEnv),
		PlaidClientID: os.Getenv(c.Providers.PlaidClientIDEnv),
		PlaidSecret:   os.Getenv(c.Providers.PlaidSecretEnv),
	}

	byName := map[string]string{
		c.Proxy.APIKeyEnv:            secrets.ProxyAPIKey,
		c.Providers.PersonaAPIKeyEnv: secrets.PersonaAPIKey,
		c.Providers.PlaidClientIDEnv: secrets.PlaidClientID,
		c.Providers.PlaidSecretEnv:   secrets.PlaidSecret,
	}
	for _, name := range required {
		if byName[name] == "" {
			return Secrets{}, fmt.Errorf("required environment variable %s is not set", name)
		}
	}
	return secrets, nil
}
