// Package config manages topod daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
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

// Config holds the complete topod configuration.
type Config struct {
	API       APIConfig       `koanf:"api"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Log       LogConfig       `koanf:"log"`
	Engine    EngineConfig    `koanf:"engine"`
	Discovery DiscoveryConfig `koanf:"discovery"`
	Speaker   SpeakerConfig   `koanf:"speaker"`
	Requests  RequestsConfig  `koanf:"requests"`
	BFD       BFDConfig       `koanf:"bfd"`
	Store     StoreConfig     `koanf:"store"`
}

// APIConfig holds the ConnectRPC server configuration.
type APIConfig struct {
	// Addr is the API listen address (e.g., ":50061").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9101").
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

// EngineConfig sizes the worker pool and drives the logical clock.
type EngineConfig struct {
	Workers      int           `koanf:"workers"`
	TickInterval time.Duration `koanf:"tick_interval"`
	PersistQueue int           `koanf:"persist_queue"`
}

// DiscoveryConfig holds the link-liveness probe parameters.
type DiscoveryConfig struct {
	// Interval is the poll period of an up port.
	Interval time.Duration `koanf:"interval"`
	// Timeout is how long a probe may stay unconfirmed.
	Timeout time.Duration `koanf:"timeout"`
	// FailWindow is how long probes must keep failing before the link is
	// declared failed.
	FailWindow time.Duration `koanf:"fail_window"`
}

// SpeakerConfig holds the regional controller connection parameters.
type SpeakerConfig struct {
	Regions       []string      `koanf:"regions"`
	OutageTimeout time.Duration `koanf:"outage_timeout"`
	DumpTimeout   time.Duration `koanf:"dump_timeout"`
	AliveInterval time.Duration `koanf:"alive_interval"`
	AliveTimeout  time.Duration `koanf:"alive_timeout"`
}

// RequestsConfig holds the correlated request tracker parameters.
type RequestsConfig struct {
	Timeout       time.Duration `koanf:"timeout"`
	BlacklistTTL  time.Duration `koanf:"blacklist_ttl"`
	BlacklistSize int           `koanf:"blacklist_size"`
}

// BFDConfig holds the hardware BFD session parameters.
type BFDConfig struct {
	DiscriminatorMin uint32 `koanf:"discriminator_min"`
	DiscriminatorMax uint32 `koanf:"discriminator_max"`

	// LogicalPortOffset maps physical port N to logical port N+offset.
	LogicalPortOffset uint32 `koanf:"logical_port_offset"`

	// SpeakerTimeout bounds an unanswered session create or remove.
	SpeakerTimeout time.Duration `koanf:"speaker_timeout"`

	Interval   time.Duration `koanf:"interval"`
	Multiplier uint8         `koanf:"multiplier"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Path is the SQLite database file. Empty selects the in-memory
	// repository.
	Path string `koanf:"path"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
//
// The probe timings give a link three missed polls before it is declared
// failed.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Addr: ":50061",
		},
		Metrics: MetricsConfig{
			Addr: ":9101",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Engine: EngineConfig{
			Workers:      8,
			TickInterval: 1 * time.Second,
			PersistQueue: 1024,
		},
		Discovery: DiscoveryConfig{
			Interval:   3 * time.Second,
			Timeout:    2 * time.Second,
			FailWindow: 9 * time.Second,
		},
		Speaker: SpeakerConfig{
			Regions:       []string{"default"},
			OutageTimeout: 10 * time.Second,
			DumpTimeout:   30 * time.Second,
			AliveInterval: 2 * time.Second,
			AliveTimeout:  10 * time.Second,
		},
		Requests: RequestsConfig{
			Timeout:       30 * time.Second,
			BlacklistTTL:  60 * time.Second,
			BlacklistSize: 4096,
		},
		BFD: BFDConfig{
			DiscriminatorMin:  1,
			DiscriminatorMax:  65535,
			LogicalPortOffset: 200,
			SpeakerTimeout:    5 * time.Second,
			Interval:          350 * time.Millisecond,
			Multiplier:        3,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for topod configuration.
// Variables are named TOPO_<section>_<key>, e.g., TOPO_API_ADDR.
const envPrefix = "TOPO_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (TOPO_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	TOPO_API_ADDR               -> api.addr
//	TOPO_LOG_LEVEL              -> log.level
//	TOPO_ENGINE_TICK_INTERVAL   -> engine.tick_interval
//	TOPO_SPEAKER_REGIONS=a,b    -> speaker.regions
//	TOPO_STORE_PATH             -> store.path
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k, DefaultConfig()); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.ProviderWithValue(envPrefix, ".", envValueMapper), nil); err != nil {
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

// envKeyMapper transforms TOPO_ENGINE_TICK_INTERVAL -> engine.tick_interval.
// Only the first underscore after the prefix separates the section.
func envKeyMapper(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	section, key, ok := strings.Cut(s, "_")
	if !ok {
		return s
	}
	return section + "." + key
}

// envValueMapper maps the key and splits list values on commas.
func envValueMapper(key, value string) (string, any) {
	key = envKeyMapper(key)
	if key == "speaker.regions" {
		return key, strings.Split(value, ",")
	}
	return key, value
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"api.addr":                defaults.API.Addr,
		"metrics.addr":            defaults.Metrics.Addr,
		"metrics.path":            defaults.Metrics.Path,
		"log.level":               defaults.Log.Level,
		"log.format":              defaults.Log.Format,
		"engine.workers":          defaults.Engine.Workers,
		"engine.tick_interval":    defaults.Engine.TickInterval.String(),
		"engine.persist_queue":    defaults.Engine.PersistQueue,
		"discovery.interval":      defaults.Discovery.Interval.String(),
		"discovery.timeout":       defaults.Discovery.Timeout.String(),
		"discovery.fail_window":   defaults.Discovery.FailWindow.String(),
		"speaker.regions":         defaults.Speaker.Regions,
		"speaker.outage_timeout":  defaults.Speaker.OutageTimeout.String(),
		"speaker.dump_timeout":    defaults.Speaker.DumpTimeout.String(),
		"speaker.alive_interval":  defaults.Speaker.AliveInterval.String(),
		"speaker.alive_timeout":   defaults.Speaker.AliveTimeout.String(),
		"requests.timeout":        defaults.Requests.Timeout.String(),
		"requests.blacklist_ttl":  defaults.Requests.BlacklistTTL.String(),
		"requests.blacklist_size": defaults.Requests.BlacklistSize,
		"bfd.discriminator_min":   defaults.BFD.DiscriminatorMin,
		"bfd.discriminator_max":   defaults.BFD.DiscriminatorMax,
		"bfd.logical_port_offset": defaults.BFD.LogicalPortOffset,
		"bfd.speaker_timeout":     defaults.BFD.SpeakerTimeout.String(),
		"bfd.interval":            defaults.BFD.Interval.String(),
		"bfd.multiplier":          defaults.BFD.Multiplier,
		"store.path":              defaults.Store.Path,
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
	// ErrEmptyAPIAddr indicates the API listen address is empty.
	ErrEmptyAPIAddr = errors.New("api.addr must not be empty")

	// ErrInvalidWorkers indicates a worker count below one.
	ErrInvalidWorkers = errors.New("engine.workers must be >= 1")

	// ErrInvalidPersistQueue indicates a persist queue below one.
	ErrInvalidPersistQueue = errors.New("engine.persist_queue must be >= 1")

	// ErrInvalidTickInterval indicates a negative tick interval.
	ErrInvalidTickInterval = errors.New("engine.tick_interval must be >= 0")

	// ErrInvalidProbeTiming indicates a non-positive probe interval or
	// timeout, or a fail window shorter than the timeout.
	ErrInvalidProbeTiming = errors.New("discovery interval and timeout must be > 0 and fail_window >= timeout")

	// ErrNoRegions indicates an empty region list.
	ErrNoRegions = errors.New("speaker.regions must not be empty")

	// ErrDuplicateRegion indicates a region listed twice.
	ErrDuplicateRegion = errors.New("duplicate speaker region")

	// ErrInvalidSpeakerTimeout indicates a non-positive speaker timeout.
	ErrInvalidSpeakerTimeout = errors.New("speaker timeouts and alive interval must be > 0")

	// ErrInvalidRequests indicates a non-positive request tracker setting.
	ErrInvalidRequests = errors.New("requests timeout, blacklist_ttl and blacklist_size must be > 0")

	// ErrDumpOutlivesRequest indicates a dump timeout longer than the
	// request timeout. A slow dump would be blacklisted before the sync
	// machine gives up on it.
	ErrDumpOutlivesRequest = errors.New("speaker.dump_timeout must be <= requests.timeout")

	// ErrInvalidDiscriminatorRange indicates an empty or zero-based
	// discriminator pool.
	ErrInvalidDiscriminatorRange = errors.New("bfd discriminator range must satisfy 1 <= min <= max")

	// ErrInvalidBFDSession indicates a non-positive BFD session parameter.
	ErrInvalidBFDSession = errors.New("bfd interval, multiplier and speaker_timeout must be > 0")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.API.Addr == "" {
		return ErrEmptyAPIAddr
	}

	if cfg.Engine.Workers < 1 {
		return ErrInvalidWorkers
	}

	if cfg.Engine.PersistQueue < 1 {
		return ErrInvalidPersistQueue
	}

	if cfg.Engine.TickInterval < 0 {
		return ErrInvalidTickInterval
	}

	d := cfg.Discovery
	if d.Interval <= 0 || d.Timeout <= 0 || d.FailWindow < d.Timeout {
		return ErrInvalidProbeTiming
	}

	if err := validateRegions(cfg.Speaker.Regions); err != nil {
		return err
	}

	s := cfg.Speaker
	if s.OutageTimeout <= 0 || s.DumpTimeout <= 0 || s.AliveInterval <= 0 || s.AliveTimeout <= 0 {
		return ErrInvalidSpeakerTimeout
	}

	r := cfg.Requests
	if r.Timeout <= 0 || r.BlacklistTTL <= 0 || r.BlacklistSize < 1 {
		return ErrInvalidRequests
	}

	if s.DumpTimeout > r.Timeout {
		return fmt.Errorf("dump %s, request %s: %w", s.DumpTimeout, r.Timeout, ErrDumpOutlivesRequest)
	}

	b := cfg.BFD
	if b.DiscriminatorMin == 0 || b.DiscriminatorMax < b.DiscriminatorMin {
		return ErrInvalidDiscriminatorRange
	}

	if b.Interval <= 0 || b.Multiplier == 0 || b.SpeakerTimeout <= 0 {
		return ErrInvalidBFDSession
	}

	return nil
}

func validateRegions(regions []string) error {
	if len(regions) == 0 {
		return ErrNoRegions
	}

	sorted := slices.Clone(regions)
	slices.Sort(sorted)
	for i, name := range sorted {
		if name == "" {
			return fmt.Errorf("region %d: %w", i, ErrNoRegions)
		}
		if i > 0 && sorted[i-1] == name {
			return fmt.Errorf("region %q: %w", name, ErrDuplicateRegion)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
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
