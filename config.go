package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"printmaster/fleetscan/collector"
	"printmaster/fleetscan/common/config"
	"printmaster/fleetscan/inventory"
	"printmaster/fleetscan/sink"
)

// ConfigFileName is searched for when --config is not given.
const ConfigFileName = "fleetscan.toml"

// LegacyConfigFileName is the JSON file older deployments used for the
// naming scheme.
const LegacyConfigFileName = "config.json"

// Config represents the fleetscan configuration
type Config struct {
	Scheme    SchemeConfig         `toml:"scheme"`
	Policy    PolicyConfig         `toml:"policy"`
	Probe     ProbeConfig          `toml:"probe"`
	Collect   CollectConfig        `toml:"collect"`
	Inventory InventoryConfig      `toml:"inventory"`
	Output    OutputConfig         `toml:"output"`
	Watch     WatchConfig          `toml:"watch"`
	Logging   config.LoggingConfig `toml:"logging"`
}

// SchemeConfig names the element ids read from each status page.
type SchemeConfig struct {
	LevelPrefix  string `toml:"level_prefix"`
	NamePrefix   string `toml:"name_prefix"`
	LevelElement string `toml:"level_element"`
	NameElement  string `toml:"name_element"`
	MaxSlots     int    `toml:"max_slots"`
}

// PolicyConfig holds the status evaluation thresholds
type PolicyConfig struct {
	AlertThreshold int    `toml:"alert_threshold"`
	ExcludeKeyword string `toml:"exclude_keyword"`
}

// ProbeConfig holds HTTP client settings
type ProbeConfig struct {
	TimeoutSeconds     int    `toml:"timeout_seconds"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"` // Accept self-signed device certificates
	DefaultScheme      string `toml:"default_scheme"`
	UserAgent          string `toml:"user_agent"`
}

// CollectConfig tunes the scan loop
type CollectConfig struct {
	Concurrency int `toml:"concurrency"`
	PacingMs    int `toml:"pacing_ms"` // Zero or negative disables pacing
}

type InventoryConfig struct {
	Path string `toml:"path"`
}

// OutputConfig selects where reports are written. Format is inferred from
// the file extension when empty. SQLitePath enables the snapshot database.
type OutputConfig struct {
	Path       string `toml:"path"`
	Format     string `toml:"format"`
	SQLitePath string `toml:"sqlite_path"`
}

// WatchConfig holds settings for periodic collection
type WatchConfig struct {
	IntervalSeconds int    `toml:"interval_seconds"`
	Listen          string `toml:"listen"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	def := collector.DefaultProberConfig()
	return &Config{
		Scheme: SchemeConfig{
			LevelPrefix:  collector.DefaultLevelPrefix,
			NamePrefix:   collector.DefaultNamePrefix,
			LevelElement: collector.DefaultLevelElement,
			NameElement:  collector.DefaultNameElement,
			MaxSlots:     collector.DefaultSlots,
		},
		Policy: PolicyConfig{
			AlertThreshold: collector.DefaultAlertThreshold,
			ExcludeKeyword: collector.DefaultExcludeKeyword,
		},
		Probe: ProbeConfig{
			TimeoutSeconds:     int(def.Timeout / time.Second),
			InsecureSkipVerify: def.InsecureSkipVerify,
			DefaultScheme:      def.DefaultScheme,
			UserAgent:          def.UserAgent,
		},
		Collect: CollectConfig{
			Concurrency: 1,
			PacingMs:    int(collector.DefaultPacing / time.Millisecond),
		},
		Inventory: InventoryConfig{Path: "printer_data.json"},
		Output:    OutputConfig{Path: "collected_data.json"},
		Watch: WatchConfig{
			IntervalSeconds: 300,
			Listen:          ":9469",
		},
		Logging: config.LoggingConfig{Level: "info"},
	}
}

// LoadConfig loads configuration from path, or from the search paths when
// path is empty. A missing file is not an error when searching; defaults
// are used. The returned string names the file that was read, if any.
func LoadConfig(path string) (*Config, string, error) {
	cfg := DefaultConfig()

	if path == "" {
		found, _, err := config.FindConfigFile(ConfigFileName)
		if err != nil {
			found, _, err = config.FindConfigFile(LegacyConfigFileName)
		}
		if err != nil && !errors.Is(err, config.ErrNotFound) {
			return nil, "", err
		}
		path = found
	}

	if path != "" {
		var err error
		if strings.EqualFold(filepath.Ext(path), ".json") {
			err = loadLegacyJSON(path, cfg)
		} else {
			err = config.LoadTOML(path, cfg)
		}
		if err != nil {
			return nil, "", err
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

type legacyConfig struct {
	HPIDs struct {
		LevelPrefix string `json:"toner_percentage_prefix"`
		NamePrefix  string `json:"toner_name_prefix"`
	} `json:"hp_ids"`
}

// loadLegacyJSON reads the "hp_ids" prefixes from an old config.json.
func loadLegacyJSON(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config file not found: %w", err)
	}
	var legacy legacyConfig
	if err := json.Unmarshal(data, &legacy); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	if legacy.HPIDs.LevelPrefix != "" {
		cfg.Scheme.LevelPrefix = legacy.HPIDs.LevelPrefix
	}
	if legacy.HPIDs.NamePrefix != "" {
		cfg.Scheme.NamePrefix = legacy.HPIDs.NamePrefix
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	config.EnvString("LEVEL_PREFIX", &cfg.Scheme.LevelPrefix)
	config.EnvString("NAME_PREFIX", &cfg.Scheme.NamePrefix)
	config.EnvString("EXCLUDE_KEYWORD", &cfg.Policy.ExcludeKeyword)
	config.EnvString("DEFAULT_SCHEME", &cfg.Probe.DefaultScheme)
	config.EnvString("INVENTORY", &cfg.Inventory.Path)
	config.EnvString("OUTPUT", &cfg.Output.Path)
	config.EnvString("OUTPUT_FORMAT", &cfg.Output.Format)
	config.EnvString("SQLITE_PATH", &cfg.Output.SQLitePath)
	config.EnvString("LISTEN", &cfg.Watch.Listen)
	config.ApplyLoggingEnvOverrides(&cfg.Logging)

	return errors.Join(
		config.EnvInt("MAX_SLOTS", &cfg.Scheme.MaxSlots),
		config.EnvInt("ALERT_THRESHOLD", &cfg.Policy.AlertThreshold),
		config.EnvInt("TIMEOUT_SECONDS", &cfg.Probe.TimeoutSeconds),
		config.EnvBool("INSECURE_SKIP_VERIFY", &cfg.Probe.InsecureSkipVerify),
		config.EnvInt("CONCURRENCY", &cfg.Collect.Concurrency),
		config.EnvInt("PACING_MS", &cfg.Collect.PacingMs),
		config.EnvInt("WATCH_INTERVAL_SECONDS", &cfg.Watch.IntervalSeconds),
	)
}

// Validate rejects values that would make a scan meaningless.
func (c *Config) Validate() error {
	var errs []error
	if c.Scheme.MaxSlots < 1 {
		errs = append(errs, fmt.Errorf("scheme.max_slots must be at least 1, got %d", c.Scheme.MaxSlots))
	}
	if c.Policy.AlertThreshold < 0 || c.Policy.AlertThreshold > 100 {
		errs = append(errs, fmt.Errorf("policy.alert_threshold must be within 0..100, got %d", c.Policy.AlertThreshold))
	}
	if c.Probe.TimeoutSeconds < 1 {
		errs = append(errs, fmt.Errorf("probe.timeout_seconds must be positive, got %d", c.Probe.TimeoutSeconds))
	}
	if c.Collect.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("collect.concurrency must be at least 1, got %d", c.Collect.Concurrency))
	}
	if c.Watch.IntervalSeconds < 1 {
		errs = append(errs, fmt.Errorf("watch.interval_seconds must be positive, got %d", c.Watch.IntervalSeconds))
	}
	if _, err := c.OutputFormat(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// OutputFormat resolves the report format, falling back to the output
// file's extension.
func (c *Config) OutputFormat() (sink.Format, error) {
	if c.Output.Format != "" {
		return sink.ParseFormat(c.Output.Format)
	}
	if inventory.IsYAML(c.Output.Path) {
		return sink.FormatYAML, nil
	}
	return sink.FormatJSON, nil
}

// ProberConfig converts the file settings into collector settings.
func (c *Config) ProberConfig() collector.ProberConfig {
	return collector.ProberConfig{
		Scheme: collector.NamingScheme{
			LevelPrefix:  c.Scheme.LevelPrefix,
			NamePrefix:   c.Scheme.NamePrefix,
			LevelElement: c.Scheme.LevelElement,
			NameElement:  c.Scheme.NameElement,
			Slots:        c.Scheme.MaxSlots,
		},
		Policy: collector.Policy{
			AlertThreshold: c.Policy.AlertThreshold,
			ExcludeKeyword: c.Policy.ExcludeKeyword,
		},
		Timeout:            time.Duration(c.Probe.TimeoutSeconds) * time.Second,
		InsecureSkipVerify: c.Probe.InsecureSkipVerify,
		DefaultScheme:      c.Probe.DefaultScheme,
		UserAgent:          c.Probe.UserAgent,
	}
}

// CollectOptions converts the scan loop settings. Pacing 0 in the file
// means no delay, which the collector spells as a negative value.
func (c *Config) CollectOptions(obs collector.Observer) collector.Options {
	pacing := time.Duration(c.Collect.PacingMs) * time.Millisecond
	if pacing == 0 {
		pacing = -1
	}
	return collector.Options{
		Concurrency: c.Collect.Concurrency,
		Pacing:      pacing,
		Observer:    obs,
	}
}

// WatchInterval is the delay between watch-mode cycles.
func (c *Config) WatchInterval() time.Duration {
	return time.Duration(c.Watch.IntervalSeconds) * time.Second
}
