package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printmaster/fleetscan/collector"
	"printmaster/fleetscan/common/config"
	"printmaster/fleetscan/sink"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "SupplyPLR", cfg.Scheme.LevelPrefix)
	assert.Equal(t, "SupplyName", cfg.Scheme.NamePrefix)
	assert.Equal(t, 6, cfg.Scheme.MaxSlots)
	assert.Equal(t, 10, cfg.Policy.AlertThreshold)
	assert.Equal(t, "kit", cfg.Policy.ExcludeKeyword)
	assert.Equal(t, 10, cfg.Probe.TimeoutSeconds)
	assert.True(t, cfg.Probe.InsecureSkipVerify)
	assert.Equal(t, 1, cfg.Collect.Concurrency)
	assert.Equal(t, 100, cfg.Collect.PacingMs)
	assert.Equal(t, "printer_data.json", cfg.Inventory.Path)
	assert.Equal(t, "collected_data.json", cfg.Output.Path)
	assert.Equal(t, "info", cfg.Logging.Level)

	pc := cfg.ProberConfig()
	assert.Equal(t, collector.DefaultNamingScheme(), pc.Scheme)
	assert.Equal(t, collector.DefaultPolicy(), pc.Policy)
	assert.Equal(t, 10*time.Second, pc.Timeout)
}

func TestLoadConfigTOML(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "fleetscan.toml", `
[scheme]
level_prefix = "TonerLevel"
name_prefix = "TonerName"
level_element = ""
max_slots = 4

[policy]
alert_threshold = 15

[probe]
timeout_seconds = 3
insecure_skip_verify = false

[collect]
concurrency = 8
pacing_ms = 0

[output]
path = "report.yaml"
sqlite_path = "snap.db"

[watch]
interval_seconds = 60
listen = "127.0.0.1:9000"
`)

	cfg, used, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, path, used)
	assert.Equal(t, "TonerLevel", cfg.Scheme.LevelPrefix)
	assert.Empty(t, cfg.Scheme.LevelElement)
	assert.Equal(t, "h2", cfg.Scheme.NameElement, "unset keys keep defaults")
	assert.Equal(t, 4, cfg.Scheme.MaxSlots)
	assert.Equal(t, 15, cfg.Policy.AlertThreshold)
	assert.Equal(t, "kit", cfg.Policy.ExcludeKeyword)
	assert.False(t, cfg.Probe.InsecureSkipVerify)
	assert.Equal(t, time.Minute, cfg.WatchInterval())

	format, err := cfg.OutputFormat()
	require.NoError(t, err)
	assert.Equal(t, sink.FormatYAML, format)

	opts := cfg.CollectOptions(nil)
	assert.Equal(t, 8, opts.Concurrency)
	assert.Negative(t, opts.Pacing, "pacing_ms = 0 disables pacing")
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "fleetscan.toml", "[policy]\nalert_treshold = 5\n")
	_, _, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "policy.alert_treshold")
}

func TestLoadConfigValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"zero slots", "[scheme]\nmax_slots = 0\n", "max_slots"},
		{"threshold above 100", "[policy]\nalert_threshold = 101\n", "alert_threshold"},
		{"zero timeout", "[probe]\ntimeout_seconds = 0\n", "timeout_seconds"},
		{"zero concurrency", "[collect]\nconcurrency = 0\n", "concurrency"},
		{"bad format", "[output]\nformat = \"xml\"\n", "unknown output format"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := LoadConfig(writeConfig(t, "fleetscan.toml", tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfigLegacyJSON(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "config.json", `{
    "hp_ids": {
        "toner_percentage_prefix": "LegacyPLR",
        "toner_name_prefix": "LegacyName"
    }
}`)
	cfg, _, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "LegacyPLR", cfg.Scheme.LevelPrefix)
	assert.Equal(t, "LegacyName", cfg.Scheme.NamePrefix)
	assert.Equal(t, 6, cfg.Scheme.MaxSlots)

	_, _, err = LoadConfig(writeConfig(t, "config.json", "{not json"))
	assert.Error(t, err)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	t.Parallel()

	_, _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

// Environment tests mutate process state and are not parallel.
func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv(config.EnvPrefix+"LEVEL_PREFIX", "EnvPLR")
	t.Setenv(config.EnvPrefix+"CONCURRENCY", "4")
	t.Setenv(config.EnvPrefix+"INSECURE_SKIP_VERIFY", "false")
	t.Setenv(config.EnvPrefix+"OUTPUT", "env.json")
	t.Setenv(config.EnvPrefix+"LOG_LEVEL", "debug")

	cfg, _, err := LoadConfig(writeConfig(t, "fleetscan.toml", "[collect]\nconcurrency = 2\n"))
	require.NoError(t, err)
	assert.Equal(t, "EnvPLR", cfg.Scheme.LevelPrefix)
	assert.Equal(t, 4, cfg.Collect.Concurrency, "environment wins over the file")
	assert.False(t, cfg.Probe.InsecureSkipVerify)
	assert.Equal(t, "env.json", cfg.Output.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfigEnvBadValue(t *testing.T) {
	t.Setenv(config.EnvPrefix+"ALERT_THRESHOLD", "ten")

	_, _, err := LoadConfig(writeConfig(t, "fleetscan.toml", ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FLEETSCAN_ALERT_THRESHOLD")
}

func TestDefaultConfigRoundTripsThroughInitConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "fleetscan.toml")
	require.NoError(t, config.WriteDefaultTOML(path, DefaultConfig()))

	cfg, _, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}
