// Package config manages gobancho daemon configuration using koanf/v2.
//
// Supports YAML files, environment variables, and defaults-first merge.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete gobancho configuration.
type Config struct {
	Gateway       GatewayConfig       `koanf:"gateway"`
	GRPC          GRPCConfig          `koanf:"grpc"`
	Metrics       MetricsConfig       `koanf:"metrics"`
	Log           LogConfig           `koanf:"log"`
	Session       SessionConfig       `koanf:"session"`
	Notify        NotifyConfig        `koanf:"notify"`
	PasswordCache PasswordCacheConfig `koanf:"password_cache"`
	Signature     SignatureConfig     `koanf:"signature"`
	Services      ServicesConfig      `koanf:"services"`
	Snapshot      SnapshotConfig      `koanf:"snapshot"`
}

// GatewayConfig holds the client-facing HTTP surface configuration.
type GatewayConfig struct {
	// Addr is the bancho HTTP listen address (e.g., ":8080").
	Addr string `koanf:"addr"`

	// TLSCert and TLSKey enable TLS when both are set.
	TLSCert string `koanf:"tls_cert"`
	TLSKey  string `koanf:"tls_key"`

	// ConcurrencyLimit caps in-flight requests; excess get 503.
	// Zero disables the limiter.
	ConcurrencyLimit int `koanf:"concurrency_limit"`

	// RequestTimeout is the per-request wall clock budget; 408 past it.
	RequestTimeout time.Duration `koanf:"request_timeout"`

	// LoginRetryMax is the per-IP failed login ceiling.
	LoginRetryMax int `koanf:"login_retry_max"`

	// LoginRetryWindow resets the per-IP failure counter.
	LoginRetryWindow time.Duration `koanf:"login_retry_window"`
}

// GRPCConfig holds the ConnectRPC server configuration.
type GRPCConfig struct {
	// Addr is the RPC listen address (e.g., ":50051").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint.
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// SessionConfig holds idle session eviction parameters.
type SessionConfig struct {
	// Deadline evicts sessions idle longer than this.
	Deadline time.Duration `koanf:"deadline"`

	// RecycleInterval is the idle sweep period.
	RecycleInterval time.Duration `koanf:"recycle_interval"`
}

// NotifyConfig holds notify queue recycling parameters.
type NotifyConfig struct {
	// RecycleInterval is the stale message sweep period.
	RecycleInterval time.Duration `koanf:"recycle_interval"`

	// MaxAge is the age past which unvalidated messages are revisited.
	MaxAge time.Duration `koanf:"max_age"`
}

// PasswordCacheConfig holds the Argon2 verification cache parameters.
type PasswordCacheConfig struct {
	// TTL evicts cache entries not hit for this long.
	TTL time.Duration `koanf:"ttl"`

	// RecycleInterval is the cache sweep period.
	RecycleInterval time.Duration `koanf:"recycle_interval"`
}

// SignatureConfig holds the local Ed25519 signing configuration.
type SignatureConfig struct {
	// Ed25519PrivateKeyPath is required only when the signature service
	// runs locally.
	Ed25519PrivateKeyPath string `koanf:"ed25519_private_key_path"`
}

// ServiceEndpoint selects the local implementation or a remote peer for
// one collaborator service.
type ServiceEndpoint struct {
	// Mode is "local" or "remote".
	Mode string `koanf:"mode"`

	// Addr is the peer base URL; required when Mode is "remote".
	Addr string `koanf:"addr"`
}

// ServicesConfig selects local/remote per collaborator.
type ServicesConfig struct {
	Users     ServiceEndpoint `koanf:"users"`
	Signature ServiceEndpoint `koanf:"signature"`
	Geoip     ServiceEndpoint `koanf:"geoip"`
	Chat      ServiceEndpoint `koanf:"chat"`
}

// SnapshotConfig holds state snapshot persistence parameters.
type SnapshotConfig struct {
	// Path is the snapshot file location; empty disables snapshots.
	Path string `koanf:"path"`

	// Format is "binary" or "json".
	Format string `koanf:"format"`

	// LoadOnStartup restores the snapshot before serving.
	LoadOnStartup bool `koanf:"load_on_startup"`

	// SaveOnShutdown writes the snapshot during graceful shutdown.
	SaveOnShutdown bool `koanf:"save_on_shutdown"`

	// ExpiredSecs drops restored sessions idle longer than this.
	ExpiredSecs int64 `koanf:"expired_secs"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// Service modes.
const (
	ModeLocal  = "local"
	ModeRemote = "remote"
)

// DefaultConfig returns a Config populated with sensible defaults:
// everything local, snapshots off, production-ish sweep intervals.
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Addr:             ":8080",
			ConcurrencyLimit: 1024,
			RequestTimeout:   10 * time.Second,
			LoginRetryMax:    5,
			LoginRetryWindow: 5 * time.Minute,
		},
		GRPC: GRPCConfig{
			Addr: ":50051",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Session: SessionConfig{
			Deadline:        3 * time.Minute,
			RecycleInterval: 30 * time.Second,
		},
		Notify: NotifyConfig{
			RecycleInterval: time.Minute,
			MaxAge:          5 * time.Minute,
		},
		PasswordCache: PasswordCacheConfig{
			TTL:             24 * time.Hour,
			RecycleInterval: 12 * time.Hour,
		},
		Services: ServicesConfig{
			Users:     ServiceEndpoint{Mode: ModeLocal},
			Signature: ServiceEndpoint{Mode: ModeLocal},
			Geoip:     ServiceEndpoint{Mode: ModeLocal},
			Chat:      ServiceEndpoint{Mode: ModeLocal},
		},
		Snapshot: SnapshotConfig{
			Format:      "binary",
			ExpiredSecs: 21600,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for gobancho
// configuration. Variables are named GOBANCHO_<section>_<key>, e.g.,
// GOBANCHO_GATEWAY_ADDR.
const envPrefix = "GOBANCHO_"

// Load reads configuration from a YAML file at path, overlays
// environment variable overrides (GOBANCHO_ prefix), and merges on top
// of DefaultConfig(). Missing fields inherit defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	// GOBANCHO_GATEWAY_ADDR -> gateway.addr (strip prefix, lowercase,
	// _ -> .). Multi-word keys are resolved by the alias table below.
	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envAliases maps flattened environment suffixes to their dotted keys
// for sections whose key names themselves contain underscores.
var envAliases = map[string]string{
	"gateway.concurrency.limit":  "gateway.concurrency_limit",
	"gateway.request.timeout":    "gateway.request_timeout",
	"gateway.login.retry.max":    "gateway.login_retry_max",
	"gateway.login.retry.window": "gateway.login_retry_window",
	"password.cache.ttl":         "password_cache.ttl",
	"snapshot.load.on.startup":   "snapshot.load_on_startup",
	"snapshot.save.on.shutdown":  "snapshot.save_on_shutdown",
	"snapshot.expired.secs":      "snapshot.expired_secs",

	"gateway.tls.cert":                   "gateway.tls_cert",
	"gateway.tls.key":                    "gateway.tls_key",
	"session.recycle.interval":           "session.recycle_interval",
	"notify.recycle.interval":            "notify.recycle_interval",
	"notify.max.age":                     "notify.max_age",
	"password.cache.recycle.interval":    "password_cache.recycle_interval",
	"signature.ed25519.private.key.path": "signature.ed25519_private_key_path",
}

// envKeyMapper transforms GOBANCHO_GATEWAY_ADDR -> gateway.addr.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", ".")
	if alias, ok := envAliases[s]; ok {
		return alias
	}
	return s
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"gateway.addr":                    defaults.Gateway.Addr,
		"gateway.concurrency_limit":       defaults.Gateway.ConcurrencyLimit,
		"gateway.request_timeout":         defaults.Gateway.RequestTimeout.String(),
		"gateway.login_retry_max":         defaults.Gateway.LoginRetryMax,
		"gateway.login_retry_window":      defaults.Gateway.LoginRetryWindow.String(),
		"grpc.addr":                       defaults.GRPC.Addr,
		"metrics.addr":                    defaults.Metrics.Addr,
		"metrics.path":                    defaults.Metrics.Path,
		"log.level":                       defaults.Log.Level,
		"log.format":                      defaults.Log.Format,
		"session.deadline":                defaults.Session.Deadline.String(),
		"session.recycle_interval":        defaults.Session.RecycleInterval.String(),
		"notify.recycle_interval":         defaults.Notify.RecycleInterval.String(),
		"notify.max_age":                  defaults.Notify.MaxAge.String(),
		"password_cache.ttl":              defaults.PasswordCache.TTL.String(),
		"password_cache.recycle_interval": defaults.PasswordCache.RecycleInterval.String(),
		"services.users.mode":             defaults.Services.Users.Mode,
		"services.signature.mode":         defaults.Services.Signature.Mode,
		"services.geoip.mode":             defaults.Services.Geoip.Mode,
		"services.chat.mode":              defaults.Services.Chat.Mode,
		"snapshot.format":                 defaults.Snapshot.Format,
		"snapshot.expired_secs":           defaults.Snapshot.ExpiredSecs,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyGatewayAddr indicates the gateway listen address is empty.
	ErrEmptyGatewayAddr = errors.New("gateway.addr must not be empty")

	// ErrEmptyGRPCAddr indicates the RPC listen address is empty.
	ErrEmptyGRPCAddr = errors.New("grpc.addr must not be empty")

	// ErrInvalidRequestTimeout indicates a non-positive request timeout.
	ErrInvalidRequestTimeout = errors.New("gateway.request_timeout must be > 0")

	// ErrInvalidSessionDeadline indicates a non-positive idle deadline.
	ErrInvalidSessionDeadline = errors.New("session.deadline must be > 0")

	// ErrInvalidRecycleInterval indicates a non-positive sweep interval.
	ErrInvalidRecycleInterval = errors.New("recycle interval must be > 0")

	// ErrInvalidServiceMode indicates an unrecognized service mode.
	ErrInvalidServiceMode = errors.New("service mode must be local or remote")

	// ErrMissingServiceAddr indicates a remote service without an address.
	ErrMissingServiceAddr = errors.New("remote service requires addr")

	// ErrInvalidSnapshotFormat indicates an unrecognized snapshot format.
	ErrInvalidSnapshotFormat = errors.New("snapshot.format must be binary or json")

	// ErrTLSPair indicates only one of tls_cert/tls_key is set.
	ErrTLSPair = errors.New("gateway.tls_cert and gateway.tls_key must be set together")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Gateway.Addr == "" {
		return ErrEmptyGatewayAddr
	}
	if cfg.GRPC.Addr == "" {
		return ErrEmptyGRPCAddr
	}
	if cfg.Gateway.RequestTimeout <= 0 {
		return ErrInvalidRequestTimeout
	}
	if (cfg.Gateway.TLSCert == "") != (cfg.Gateway.TLSKey == "") {
		return ErrTLSPair
	}
	if cfg.Session.Deadline <= 0 {
		return ErrInvalidSessionDeadline
	}
	for _, iv := range []time.Duration{
		cfg.Session.RecycleInterval,
		cfg.Notify.RecycleInterval,
		cfg.PasswordCache.RecycleInterval,
	} {
		if iv <= 0 {
			return ErrInvalidRecycleInterval
		}
	}

	for name, ep := range map[string]ServiceEndpoint{
		"users":     cfg.Services.Users,
		"signature": cfg.Services.Signature,
		"geoip":     cfg.Services.Geoip,
		"chat":      cfg.Services.Chat,
	} {
		switch ep.Mode {
		case ModeLocal:
		case ModeRemote:
			if ep.Addr == "" {
				return fmt.Errorf("services.%s: %w", name, ErrMissingServiceAddr)
			}
		default:
			return fmt.Errorf("services.%s mode %q: %w", name, ep.Mode, ErrInvalidServiceMode)
		}
	}

	switch cfg.Snapshot.Format {
	case "binary", "json":
	default:
		return fmt.Errorf("format %q: %w", cfg.Snapshot.Format, ErrInvalidSnapshotFormat)
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the
// corresponding slog.Level. Unknown values default to slog.LevelInfo.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
