// Package config loads the daemon's Config from YAML, following
// internal/waku.Config's yaml-tagged struct shape, then applies XMTP_*
// environment overrides in the style of
// internal/domains/group/policy/abuse_protection.go's readPositiveIntEnv
// helpers (renamed here from the teacher's AIM_* prefix).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root daemon configuration.
type Config struct {
	Network   NetworkConfig   `yaml:"network"`
	Store     StoreConfig     `yaml:"store"`
	Identity  IdentityConfig  `yaml:"identity"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
}

// NetworkConfig configures the transport, mirroring internal/waku.Config's
// fields relevant to internal/transport/wakutransport.
type NetworkConfig struct {
	Transport        string        `yaml:"transport"`
	Port             int           `yaml:"port"`
	EnableRelay      bool          `yaml:"enableRelay"`
	EnableStore      bool          `yaml:"enableStore"`
	BootstrapNodes   []string      `yaml:"bootstrapNodes"`
	StoreQueryFanout int           `yaml:"storeQueryFanout"`
	CallTimeout      time.Duration `yaml:"callTimeout"`
}

// StoreConfig configures internal/kv's on-disk persistence path.
type StoreConfig struct {
	DataDir string `yaml:"dataDir"`
}

// IdentityConfig configures internal/identitystore's seed encryption.
type IdentityConfig struct {
	SeedPassphraseEnv string `yaml:"seedPassphraseEnv"`
}

// RateLimitConfig configures internal/platform/ratelimiter's token buckets
// for publish/invite storms, per spec §4.3/§4.2 abuse controls.
type RateLimitConfig struct {
	PublishRPS   float64 `yaml:"publishRPS"`
	PublishBurst int     `yaml:"publishBurst"`
	InviteRPS    float64 `yaml:"inviteRPS"`
	InviteBurst  int     `yaml:"inviteBurst"`
}

// DefaultConfig returns the baseline configuration before any file or
// environment overrides are applied.
func DefaultConfig() Config {
	return Config{
		Network: NetworkConfig{
			Transport:        "mock",
			Port:             60000,
			EnableRelay:      true,
			EnableStore:      true,
			StoreQueryFanout: 3,
			CallTimeout:      10 * time.Second,
		},
		Store: StoreConfig{
			DataDir: "./data",
		},
		Identity: IdentityConfig{
			SeedPassphraseEnv: "XMTP_SEED_PASSPHRASE",
		},
		RateLimit: RateLimitConfig{
			PublishRPS:   100,
			PublishBurst: 200,
			InviteRPS:    20,
			InviteBurst:  40,
		},
	}
}

// Load reads configPath (if non-empty) as YAML over DefaultConfig, then
// applies environment overrides. A missing configPath is not an error — the
// daemon can run on defaults plus environment alone.
func Load(configPath string) (Config, error) {
	cfg := DefaultConfig()
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", configPath, err)
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if transport := envString("XMTP_NETWORK_TRANSPORT"); transport != "" {
		cfg.Network.Transport = transport
	}
	cfg.Network.Port = envIntWithFallback("XMTP_NETWORK_PORT", cfg.Network.Port)
	cfg.Network.EnableRelay = envBoolWithFallback("XMTP_NETWORK_ENABLE_RELAY", cfg.Network.EnableRelay)
	cfg.Network.EnableStore = envBoolWithFallback("XMTP_NETWORK_ENABLE_STORE", cfg.Network.EnableStore)
	if nodes := envCSV("XMTP_NETWORK_BOOTSTRAP_NODES"); nodes != nil {
		cfg.Network.BootstrapNodes = nodes
	}
	cfg.Network.StoreQueryFanout = envIntWithFallback("XMTP_NETWORK_STORE_QUERY_FANOUT", cfg.Network.StoreQueryFanout)
	if timeout := envString("XMTP_NETWORK_CALL_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			cfg.Network.CallTimeout = d
		}
	}

	if dataDir := envString("XMTP_STORE_DATA_DIR"); dataDir != "" {
		cfg.Store.DataDir = dataDir
	}

	if passEnv := envString("XMTP_IDENTITY_SEED_PASSPHRASE_ENV"); passEnv != "" {
		cfg.Identity.SeedPassphraseEnv = passEnv
	}

	cfg.RateLimit.PublishRPS = envPositiveFloatWithFallback("XMTP_RATE_LIMIT_PUBLISH_RPS", cfg.RateLimit.PublishRPS)
	cfg.RateLimit.PublishBurst = envPositiveIntWithFallback("XMTP_RATE_LIMIT_PUBLISH_BURST", cfg.RateLimit.PublishBurst)
	cfg.RateLimit.InviteRPS = envPositiveFloatWithFallback("XMTP_RATE_LIMIT_INVITE_RPS", cfg.RateLimit.InviteRPS)
	cfg.RateLimit.InviteBurst = envPositiveIntWithFallback("XMTP_RATE_LIMIT_INVITE_BURST", cfg.RateLimit.InviteBurst)
}

func envString(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envCSV(key string) []string {
	raw := envString(key)
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func envBoolWithFallback(key string, fallback bool) bool {
	raw := strings.ToLower(envString(key))
	switch raw {
	case "":
		return fallback
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func envIntWithFallback(key string, fallback int) int {
	raw := envString(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func envPositiveIntWithFallback(key string, fallback int) int {
	value := envIntWithFallback(key, fallback)
	if value <= 0 {
		return fallback
	}
	return value
}

func envPositiveFloatWithFallback(key string, fallback float64) float64 {
	raw := envString(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
