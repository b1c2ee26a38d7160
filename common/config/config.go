// Package config provides configuration file discovery, TOML loading and
// environment override helpers for fleetscan.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// AppName is used for platform config and data directories.
const AppName = "fleetscan"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FLEETSCAN_"

// ErrNotFound is returned by FindConfigFile when no search path holds the file.
var ErrNotFound = errors.New("config file not found")

// FindConfigFile searches the platform search paths for filename.
// Returns the path and data of the first hit.
func FindConfigFile(filename string) (string, []byte, error) {
	for _, path := range GetConfigSearchPaths(filename) {
		if data, err := os.ReadFile(path); err == nil {
			return path, data, nil
		}
	}
	return "", nil, fmt.Errorf("%s: %w", filename, ErrNotFound)
}

// GetConfigSearchPaths returns an ordered list of paths to search for
// filename: system directory, user config directory, executable directory,
// then the working directory.
func GetConfigSearchPaths(filename string) []string {
	var searchPaths []string

	switch runtime.GOOS {
	case "windows":
		searchPaths = append(searchPaths, filepath.Join(os.Getenv("ProgramData"), "Fleetscan", filename))
	case "darwin":
		searchPaths = append(searchPaths, filepath.Join("/Library/Application Support", "Fleetscan", filename))
	default:
		searchPaths = append(searchPaths, filepath.Join("/etc", AppName, filename))
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		switch runtime.GOOS {
		case "windows":
			searchPaths = append(searchPaths, filepath.Join(homeDir, "AppData", "Local", "Fleetscan", filename))
		case "darwin":
			searchPaths = append(searchPaths, filepath.Join(homeDir, "Library", "Application Support", "Fleetscan", filename))
		default:
			searchPaths = append(searchPaths, filepath.Join(homeDir, ".config", AppName, filename))
		}
	}

	if exePath, err := os.Executable(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(filepath.Dir(exePath), filename))
	}

	searchPaths = append(searchPaths, filepath.Join(".", filename))
	return searchPaths
}

// GetLogDirectory returns the log directory for service runs. Interactive
// runs log to ./logs.
func GetLogDirectory(isService bool) string {
	if !isService {
		return "logs"
	}
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Fleetscan", "logs")
	default:
		return filepath.Join("/var/log", AppName)
	}
}

// WriteDefaultTOML writes cfg as TOML to configPath. Parent directories are
// created; an existing file is never overwritten.
func WriteDefaultTOML(configPath string, cfg interface{}) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(configPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("config file %s already exists", configPath)
		}
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadTOML decodes configPath into cfg. Keys in the file that cfg does not
// know are reported as an error so typos do not pass silently.
func LoadTOML(configPath string, cfg interface{}) error {
	if _, err := os.Stat(configPath); err != nil {
		return fmt.Errorf("config file not found: %w", err)
	}

	md, err := toml.DecodeFile(configPath, cfg)
	if err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown config keys in %s: %s", configPath, strings.Join(keys, ", "))
	}
	return nil
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level string `toml:"level"`
	Dir   string `toml:"dir"`
}

// ApplyLoggingEnvOverrides applies FLEETSCAN_LOG_LEVEL and FLEETSCAN_LOG_DIR.
func ApplyLoggingEnvOverrides(cfg *LoggingConfig) {
	EnvString("LOG_LEVEL", &cfg.Level)
	EnvString("LOG_DIR", &cfg.Dir)
}

// EnvString overwrites *dst with FLEETSCAN_<name> when it is set and non-empty.
func EnvString(name string, dst *string) bool {
	if val, ok := lookup(name); ok {
		*dst = val
		return true
	}
	return false
}

// EnvInt overwrites *dst with FLEETSCAN_<name> when it parses as an integer.
func EnvInt(name string, dst *int) error {
	val, ok := lookup(name)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	*dst = n
	return nil
}

// EnvBool overwrites *dst with FLEETSCAN_<name> when it parses as a boolean.
func EnvBool(name string, dst *bool) error {
	val, ok := lookup(name)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	*dst = b
	return nil
}

// EnvDuration overwrites *dst with FLEETSCAN_<name> parsed as a Go duration.
func EnvDuration(name string, dst *time.Duration) error {
	val, ok := lookup(name)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	*dst = d
	return nil
}

func lookup(name string) (string, bool) {
	val := strings.TrimSpace(os.Getenv(EnvPrefix + name))
	return val, val != ""
}
