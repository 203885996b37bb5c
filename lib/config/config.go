// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable that selects the config file.
const EnvVar = "MAGISKD_CONFIG"

// Config is the master configuration for magiskd and the magisk CLI.
type Config struct {
	// Paths configures file and directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Socket configures the daemon's listening socket.
	Socket SocketConfig `yaml:"socket"`

	// Logging configures the daemon's log file.
	Logging LoggingConfig `yaml:"logging"`

	// Client configures how the CLI reaches the daemon.
	Client ClientConfig `yaml:"client"`

	// Su configures root shells started for granted requests.
	Su SuConfig `yaml:"su"`
}

// PathsConfig configures file and directory locations.
type PathsConfig struct {
	// Tmp is the tmpfs holding runtime state (MAGISKTMP).
	Tmp string `yaml:"tmp"`

	// Secure is the root-only persistent directory (SECURE_DIR).
	Secure string `yaml:"secure"`

	// DataRoot is the root under which per-user app data lives
	// (<DataRoot>/user_de/<uid> or <DataRoot>/user/<uid>).
	DataRoot string `yaml:"data_root"`

	// PackageRegistry is the system package registry file. Its inode
	// changes whenever the package manager rewrites it.
	PackageRegistry string `yaml:"package_registry"`

	// Database is the SQLite settings database.
	Database string `yaml:"database"`

	// Modules is the directory of installed modules.
	Modules string `yaml:"modules"`

	// ModuleUpdates is where new module installs are staged until the
	// next boot.
	ModuleUpdates string `yaml:"module_updates"`

	// Log is the daemon's log file.
	Log string `yaml:"log"`

	// BuildProp is the system build.prop read for the SDK level.
	BuildProp string `yaml:"build_prop"`

	// DaemonConfig is the boot-time config snapshot scanned for
	// RECOVERYMODE.
	DaemonConfig string `yaml:"daemon_config"`
}

// SocketConfig configures the daemon's listening socket.
type SocketConfig struct {
	// Name is the abstract socket name, without the leading NUL.
	Name string `yaml:"name"`
}

// LoggingConfig configures the daemon's log file.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// MaxSizeMB is the size at which the log file is rotated.
	MaxSizeMB int `yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files kept.
	MaxBackups int `yaml:"max_backups"`

	// Compress gzips rotated files.
	Compress bool `yaml:"compress"`
}

// ClientConfig configures how the CLI reaches the daemon.
type ClientConfig struct {
	// ConnectTimeout bounds how long the client polls a freshly spawned
	// daemon before giving up.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// PollInterval is the delay between connect attempts.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// SuConfig configures root shells started for granted requests.
type SuConfig struct {
	// Shell is the default shell executed for a granted request.
	Shell string `yaml:"shell"`
}

// Default returns the compiled-in Android configuration. It is used
// as-is when no config file is selected and as the base a config file
// is merged into.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			Tmp:             "/debug_ramdisk",
			Secure:          "/data/adb",
			DataRoot:        "/data",
			PackageRegistry: "/data/system/packages.xml",
			Database:        "${SECURE_DIR}/magisk.db",
			Modules:         "${SECURE_DIR}/modules",
			ModuleUpdates:   "${SECURE_DIR}/modules_update",
			Log:             "/cache/magisk.log",
			BuildProp:       "/system/build.prop",
			DaemonConfig:    "${MAGISKTMP}/.magisk/config",
		},
		Socket: SocketConfig{
			Name: "magiskd",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  2,
			MaxBackups: 1,
			Compress:   false,
		},
		Client: ClientConfig{
			ConnectTimeout: 10 * time.Second,
			PollInterval:   50 * time.Millisecond,
		},
		Su: SuConfig{
			Shell: "/system/bin/sh",
		},
	}
}

// Load loads configuration from the file named by MAGISKD_CONFIG.
//
// When MAGISKD_CONFIG is unset the compiled-in defaults are returned.
// There is no discovery: a device either runs with the defaults or
// with exactly the file it was told about.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvVar)
	if configPath == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, merged over
// [Default]. An explicitly named file that does not exist is an error.
//
// The only expansion performed is ${MAGISKTMP}, ${SECURE_DIR} and
// ${VAR:-default} patterns in path fields.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}

	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, c)
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"MAGISKTMP":  expandVars(c.Paths.Tmp, nil),
		"SECURE_DIR": expandVars(c.Paths.Secure, nil),
	}

	c.Paths.Tmp = vars["MAGISKTMP"]
	c.Paths.Secure = vars["SECURE_DIR"]

	for _, field := range []*string{
		&c.Paths.DataRoot,
		&c.Paths.PackageRegistry,
		&c.Paths.Database,
		&c.Paths.Modules,
		&c.Paths.ModuleUpdates,
		&c.Paths.Log,
		&c.Paths.BuildProp,
		&c.Paths.DaemonConfig,
		&c.Su.Shell,
	} {
		*field = expandVars(*field, vars)
	}
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Provided vars first, then the environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	required := []struct {
		name  string
		value string
	}{
		{"paths.tmp", c.Paths.Tmp},
		{"paths.secure", c.Paths.Secure},
		{"paths.data_root", c.Paths.DataRoot},
		{"paths.package_registry", c.Paths.PackageRegistry},
		{"paths.database", c.Paths.Database},
		{"paths.modules", c.Paths.Modules},
		{"paths.module_updates", c.Paths.ModuleUpdates},
		{"socket.name", c.Socket.Name},
		{"su.shell", c.Su.Shell},
	}
	for _, field := range required {
		if field.value == "" {
			errs = append(errs, fmt.Errorf("%s is required", field.name))
		}
	}

	if strings.ContainsRune(c.Socket.Name, 0) {
		errs = append(errs, fmt.Errorf("socket.name must not contain NUL"))
	}
	// sun_path is 108 bytes including the leading NUL.
	if len(c.Socket.Name) > 106 {
		errs = append(errs, fmt.Errorf("socket.name is %d bytes, maximum is 106", len(c.Socket.Name)))
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxBackups < 0 {
		errs = append(errs, fmt.Errorf("logging.max_size_mb and logging.max_backups must not be negative"))
	}

	if c.Client.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("client.connect_timeout must be positive"))
	}
	if c.Client.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("client.poll_interval must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// SlogLevel parses Level into a slog level. An empty level is info.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("logging.level must be one of debug, info, warn, error (got %q)", l.Level)
	}
}

// EnsurePaths creates the directories the daemon writes into.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Paths.Secure,
		c.Paths.Modules,
		filepath.Dir(c.Paths.Database),
		filepath.Dir(c.Paths.Log),
	}

	for _, path := range paths {
		if path == "" || path == "." {
			continue
		}
		if err := os.MkdirAll(path, 0700); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}
