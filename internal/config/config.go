package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"
)

// Config represents the xt configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Picker  PickerConfig  `yaml:"picker"`
	History HistoryConfig `yaml:"history"`
	Log     LogConfig     `yaml:"log"`
	Editor  EditorConfig  `yaml:"editor"`

	// UserScript is loaded by the backend after connecting (empty = none).
	UserScript string `yaml:"user_script"`

	// Settings are per-section values the backend reads through
	// getConfiguration, e.g. settings.pyxt.agPath.
	Settings map[string]map[string]any `yaml:"settings,omitempty"`
}

// ServerConfig holds backend connection settings.
type ServerConfig struct {
	Command   string `yaml:"command"`    // Backend argv, shell-quoted
	Address   string `yaml:"address"`    // host:port of a running backend (overrides debug_port)
	DebugPort int    `yaml:"debug_port"` // Port used in debug mode
	DebugMode bool   `yaml:"debug_mode"` // Connect over TCP instead of spawning
	Cwd       string `yaml:"cwd"`        // Working directory for the spawned backend

	// ResolveMethod is the request name the backend uses to read local objects.
	ResolveMethod string `yaml:"resolve_method"`
}

// PickerConfig holds command picker settings.
type PickerConfig struct {
	DebounceMs  int    `yaml:"debounce_ms"` // Keystroke coalescing before a fetch
	Placeholder string `yaml:"placeholder"` // Shown when there is no prefix
	MaxRows     int    `yaml:"max_rows"`    // Visible rows (0 = terminal height)
}

// HistoryConfig holds command history settings.
type HistoryConfig struct {
	Limit    int    `yaml:"limit"`    // Entries kept per command
	Database string `yaml:"database"` // SQLite path (overrides default)
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	File  string `yaml:"file"`  // Log file path (overrides default)
}

// EditorConfig holds the external editor used to open results.
type EditorConfig struct {
	Command string `yaml:"command"` // argv, shell-quoted; empty uses $VISUAL or $EDITOR
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Command:       "python3 -m pyxt",
			DebugPort:     2087,
			ResolveMethod: "pyxt.resolve",
		},
		Picker: PickerConfig{
			DebounceMs:  200,
			Placeholder: "XT Command",
		},
		History: HistoryConfig{
			Limit: 20,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the default path.
func Load() (*Config, error) {
	return LoadFromFile(FilePath())
}

// FilePath returns $XT_CONFIG or the default config file.
func FilePath() string {
	if path := os.Getenv("XT_CONFIG"); path != "" {
		return path
	}
	return DefaultPaths().ConfigFile()
}

// LoadFromFile loads configuration from the specified file.
// If the file doesn't exist, returns default configuration.
// Environment variable overrides are applied after file loading.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Save saves the configuration to the default path.
func (c *Config) Save() error {
	return c.SaveToFile(FilePath())
}

// SaveToFile saves the configuration to the specified file.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// YAML renders the effective configuration.
func (c *Config) YAML() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return string(data), nil
}

// Get retrieves a configuration value by dot-separated key.
// For example: "server.debug_port" or "picker.placeholder".
func (c *Config) Get(key string) (string, error) {
	if key == "user_script" {
		return c.UserScript, nil
	}
	if rest, ok := strings.CutPrefix(key, "settings."); ok {
		section, name, ok := strings.Cut(rest, ".")
		if !ok {
			return "", errors.New("settings key must be in format 'settings.section.key'")
		}
		v, _ := c.Setting(section, name)
		if v == nil {
			return "", nil
		}
		return fmt.Sprint(v), nil
	}
	section, field, ok := strings.Cut(key, ".")
	if !ok || strings.Contains(field, ".") {
		return "", errors.New("key must be in format 'section.key'")
	}

	switch section {
	case "server":
		return c.getServerField(field)
	case "picker":
		return c.getPickerField(field)
	case "history":
		return c.getHistoryField(field)
	case "log":
		return c.getLogField(field)
	case "editor":
		if field == "command" {
			return c.Editor.Command, nil
		}
		return "", fmt.Errorf("unknown field: editor.%s", field)
	default:
		return "", fmt.Errorf("unknown section: %s", section)
	}
}

// Set sets a configuration value by dot-separated key.
func (c *Config) Set(key, value string) error {
	if key == "user_script" {
		c.UserScript = value
		return nil
	}
	if rest, ok := strings.CutPrefix(key, "settings."); ok {
		section, name, ok := strings.Cut(rest, ".")
		if !ok || section == "" || name == "" {
			return errors.New("settings key must be in format 'settings.section.key'")
		}
		if c.Settings == nil {
			c.Settings = make(map[string]map[string]any)
		}
		if c.Settings[section] == nil {
			c.Settings[section] = make(map[string]any)
		}
		c.Settings[section][name] = value
		return nil
	}
	section, field, ok := strings.Cut(key, ".")
	if !ok || strings.Contains(field, ".") {
		return errors.New("key must be in format 'section.key'")
	}

	switch section {
	case "server":
		return c.setServerField(field, value)
	case "picker":
		return c.setPickerField(field, value)
	case "history":
		return c.setHistoryField(field, value)
	case "log":
		return c.setLogField(field, value)
	case "editor":
		if field == "command" {
			c.Editor.Command = value
			return nil
		}
		return fmt.Errorf("unknown field: editor.%s", field)
	default:
		return fmt.Errorf("unknown section: %s", section)
	}
}

func (c *Config) getServerField(field string) (string, error) {
	switch field {
	case "command":
		return c.Server.Command, nil
	case "address":
		return c.Server.Address, nil
	case "debug_port":
		return strconv.Itoa(c.Server.DebugPort), nil
	case "debug_mode":
		return strconv.FormatBool(c.Server.DebugMode), nil
	case "cwd":
		return c.Server.Cwd, nil
	case "resolve_method":
		return c.Server.ResolveMethod, nil
	default:
		return "", fmt.Errorf("unknown field: server.%s", field)
	}
}

func (c *Config) setServerField(field, value string) error {
	switch field {
	case "command":
		c.Server.Command = value
	case "address":
		c.Server.Address = value
	case "debug_port":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for debug_port: %w", err)
		}
		c.Server.DebugPort = v
	case "debug_mode":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid value for debug_mode: %w", err)
		}
		c.Server.DebugMode = v
	case "cwd":
		c.Server.Cwd = value
	case "resolve_method":
		c.Server.ResolveMethod = value
	default:
		return fmt.Errorf("unknown field: server.%s", field)
	}
	return nil
}

func (c *Config) getPickerField(field string) (string, error) {
	switch field {
	case "debounce_ms":
		return strconv.Itoa(c.Picker.DebounceMs), nil
	case "placeholder":
		return c.Picker.Placeholder, nil
	case "max_rows":
		return strconv.Itoa(c.Picker.MaxRows), nil
	default:
		return "", fmt.Errorf("unknown field: picker.%s", field)
	}
}

func (c *Config) setPickerField(field, value string) error {
	switch field {
	case "debounce_ms":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for debounce_ms: %w", err)
		}
		c.Picker.DebounceMs = v
	case "placeholder":
		c.Picker.Placeholder = value
	case "max_rows":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_rows: %w", err)
		}
		c.Picker.MaxRows = v
	default:
		return fmt.Errorf("unknown field: picker.%s", field)
	}
	return nil
}

func (c *Config) getHistoryField(field string) (string, error) {
	switch field {
	case "limit":
		return strconv.Itoa(c.History.Limit), nil
	case "database":
		return c.History.Database, nil
	default:
		return "", fmt.Errorf("unknown field: history.%s", field)
	}
}

func (c *Config) setHistoryField(field, value string) error {
	switch field {
	case "limit":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for limit: %w", err)
		}
		c.History.Limit = v
	case "database":
		c.History.Database = value
	default:
		return fmt.Errorf("unknown field: history.%s", field)
	}
	return nil
}

func (c *Config) getLogField(field string) (string, error) {
	switch field {
	case "level":
		return c.Log.Level, nil
	case "file":
		return c.Log.File, nil
	default:
		return "", fmt.Errorf("unknown field: log.%s", field)
	}
}

func (c *Config) setLogField(field, value string) error {
	switch field {
	case "level":
		if !isValidLogLevel(value) {
			return fmt.Errorf("invalid log level: %s", value)
		}
		c.Log.Level = value
	case "file":
		c.Log.File = value
	default:
		return fmt.Errorf("unknown field: log.%s", field)
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.DebugPort < 0 || c.Server.DebugPort > 65535 {
		return fmt.Errorf("server.debug_port must be between 0 and 65535 (got: %d)", c.Server.DebugPort)
	}

	if _, err := c.ServerArgv(); err != nil {
		return err
	}

	if c.Server.ResolveMethod == "" {
		return errors.New("server.resolve_method must not be empty")
	}

	if _, err := c.EditorArgv(); err != nil {
		return err
	}

	if c.Picker.DebounceMs < 0 {
		return errors.New("picker.debounce_ms must be >= 0")
	}

	if c.Picker.MaxRows < 0 {
		return errors.New("picker.max_rows must be >= 0")
	}

	if c.History.Limit < 1 {
		return errors.New("history.limit must be >= 1")
	}

	if !isValidLogLevel(c.Log.Level) {
		return fmt.Errorf("log.level must be debug, info, warn, or error (got: %s)", c.Log.Level)
	}

	return nil
}

// Setting returns settings.<section>.<key>.
func (c *Config) Setting(section, key string) (any, bool) {
	v, ok := c.Settings[section][key]
	return v, ok
}

// ServerArgv splits server.command into an argv.
func (c *Config) ServerArgv() ([]string, error) {
	if c.Server.DebugMode || c.Server.Address != "" {
		return nil, nil
	}
	argv, err := shlex.Split(c.Server.Command)
	if err != nil {
		return nil, fmt.Errorf("server.command: %w", err)
	}
	if len(argv) == 0 {
		return nil, errors.New("server.command must not be empty")
	}
	return argv, nil
}

// EditorArgv splits editor.command, falling back to $VISUAL and $EDITOR.
// The result is empty when no editor is configured.
func (c *Config) EditorArgv() ([]string, error) {
	command := c.Editor.Command
	if command == "" {
		command = os.Getenv("VISUAL")
	}
	if command == "" {
		command = os.Getenv("EDITOR")
	}
	argv, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("editor.command: %w", err)
	}
	return argv, nil
}

// Debounce returns picker.debounce_ms as a duration.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Picker.DebounceMs) * time.Millisecond
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

// ApplyEnvOverrides applies environment variable overrides to the config.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("XT_SERVER_ADDR"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("XT_DEBUG_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Server.DebugMode = b
		}
	}
	if v := os.Getenv("XT_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil && b {
			c.Log.Level = "debug"
		}
	}
	if v := os.Getenv("XT_LOG_LEVEL"); v != "" {
		if isValidLogLevel(v) {
			c.Log.Level = v
		}
	}
}

// ListKeys returns the configuration keys accepted by Get and Set.
func ListKeys() []string {
	return []string{
		"server.command",
		"server.address",
		"server.debug_port",
		"server.debug_mode",
		"server.cwd",
		"server.resolve_method",
		"picker.debounce_ms",
		"picker.placeholder",
		"picker.max_rows",
		"history.limit",
		"history.database",
		"log.level",
		"log.file",
		"editor.command",
		"user_script",
	}
}
