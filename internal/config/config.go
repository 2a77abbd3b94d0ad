// Package config loads CLI configuration from an optional YAML file with
// PM_* environment overrides applied on top.
//
// Precedence, lowest first: built-in defaults, the YAML file, environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Hussein-Mazeh/vaultcore/krypto"
)

// Backend names a persistence implementation.
type Backend string

const (
	BackendSQLite Backend = "sqlite"
	BackendFile   Backend = "file"
)

// Config is the full CLI configuration.
type Config struct {
	Vault     VaultConfig     `yaml:"vault"`
	Share     ShareConfig     `yaml:"share"`
	Emergency EmergencyConfig `yaml:"emergency"`
	Log       LogConfig       `yaml:"log"`
}

// VaultConfig configures storage and the master key.
type VaultConfig struct {
	Dir     string  `yaml:"dir"`
	Backend Backend `yaml:"backend"`
	// KDFIterations may not go below 600000.
	KDFIterations int           `yaml:"kdf_iterations"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	// UnlockInterval and UnlockBurst bound failed unlock attempts.
	UnlockInterval time.Duration `yaml:"unlock_interval"`
	UnlockBurst    int           `yaml:"unlock_burst"`
	// CheckBreaches enables the HIBP lookup for new passphrases.
	CheckBreaches bool `yaml:"check_breaches"`
}

// ShareConfig sets defaults for new shares.
type ShareConfig struct {
	TTL    time.Duration `yaml:"ttl"`
	Scheme string        `yaml:"scheme"`
}

// EmergencyConfig tunes emergency access.
type EmergencyConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const minKDFIterations = krypto.MinPBKDF2Iterations

// Default returns the built-in configuration.
func Default() *Config {
	dir := "./dev-vault"
	if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, ".vaultcore")
	}
	return &Config{
		Vault: VaultConfig{
			Dir:            dir,
			Backend:        BackendSQLite,
			KDFIterations:  minKDFIterations,
			IdleTimeout:    5 * time.Minute,
			UnlockInterval: time.Second,
			UnlockBurst:    5,
		},
		Share: ShareConfig{
			TTL:    24 * time.Hour,
			Scheme: string(krypto.SchemeRSAOAEP),
		},
		Emergency: EmergencyConfig{
			RequestTimeout: 30 * 24 * time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration. path may be empty, in which case PM_CONFIG
// is consulted; a named file that does not exist is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("PM_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv("PM_VAULT_DIR"); ok {
		cfg.Vault.Dir = v
	}
	if v, ok := os.LookupEnv("PM_BACKEND"); ok {
		cfg.Vault.Backend = Backend(strings.ToLower(v))
	}
	if err := envInt("PM_KDF_ITERATIONS", &cfg.Vault.KDFIterations); err != nil {
		return err
	}
	if err := envDuration("PM_IDLE_TIMEOUT", &cfg.Vault.IdleTimeout); err != nil {
		return err
	}
	if err := envDuration("PM_UNLOCK_INTERVAL", &cfg.Vault.UnlockInterval); err != nil {
		return err
	}
	if err := envInt("PM_UNLOCK_BURST", &cfg.Vault.UnlockBurst); err != nil {
		return err
	}
	if v, ok := os.LookupEnv("PM_CHECK_BREACHES"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PM_CHECK_BREACHES has invalid boolean %q: %w", v, err)
		}
		cfg.Vault.CheckBreaches = b
	}
	if err := envDuration("PM_SHARE_TTL", &cfg.Share.TTL); err != nil {
		return err
	}
	if v, ok := os.LookupEnv("PM_SHARE_SCHEME"); ok {
		cfg.Share.Scheme = v
	}
	if err := envDuration("PM_EMERGENCY_TIMEOUT", &cfg.Emergency.RequestTimeout); err != nil {
		return err
	}
	if v, ok := os.LookupEnv("PM_LOG_LEVEL"); ok {
		cfg.Log.Level = v
	}
	if v, ok := os.LookupEnv("PM_LOG_FORMAT"); ok {
		cfg.Log.Format = v
	}
	return nil
}

func envInt(name string, dst *int) error {
	v, ok := os.LookupEnv(name)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s has invalid integer %q: %w", name, v, err)
	}
	*dst = n
	return nil
}

func envDuration(name string, dst *time.Duration) error {
	v, ok := os.LookupEnv(name)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s has invalid duration %q: %w", name, v, err)
	}
	*dst = d
	return nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Vault.Dir == "" {
		errs = append(errs, errors.New("vault.dir is required"))
	}
	switch c.Vault.Backend {
	case BackendSQLite, BackendFile:
	default:
		errs = append(errs, fmt.Errorf("vault.backend must be %q or %q, got %q", BackendSQLite, BackendFile, c.Vault.Backend))
	}
	if c.Vault.KDFIterations < minKDFIterations {
		errs = append(errs, fmt.Errorf("vault.kdf_iterations must be >= %d, got %d", minKDFIterations, c.Vault.KDFIterations))
	}
	if c.Vault.IdleTimeout < 0 {
		errs = append(errs, errors.New("vault.idle_timeout must not be negative"))
	}
	if c.Vault.UnlockInterval <= 0 || c.Vault.UnlockBurst <= 0 {
		errs = append(errs, errors.New("vault.unlock_interval and vault.unlock_burst must be positive"))
	}
	if c.Share.TTL <= 0 {
		errs = append(errs, errors.New("share.ttl must be positive"))
	}
	switch krypto.WrapScheme(c.Share.Scheme) {
	case krypto.SchemeRSAOAEP, krypto.SchemeAgeX25519, krypto.SchemeMLKEM768:
	default:
		errs = append(errs, fmt.Errorf("share.scheme %q is not supported", c.Share.Scheme))
	}
	if c.Emergency.RequestTimeout <= 0 {
		errs = append(errs, errors.New("emergency.request_timeout must be positive"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
