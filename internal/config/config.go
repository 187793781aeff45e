// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for echo.
//
// Configuration is read from a TOML file, filled in with defaults,
// overridden from the environment and validated before use.
//
// Configuration file location (in order of precedence):
//   - $ECHO_HOME/config.toml
//   - ~/.echo/config.toml
//   - Built-in defaults
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jeranaias/echo/internal/util"
)

// DefaultSystemPrompt is seeded into every new room unless overridden.
const DefaultSystemPrompt = "You are a smart, friendly, and reliable AI assistant. " +
	"Your job is to help users by providing accurate, concise, and thoughtful responses. " +
	"Communicate clearly and respectfully, adapt your tone to the user's style, and aim to be as helpful as possible. " +
	"When needed, ask clarifying questions to better understand what the user wants. " +
	"If you're unsure about something, say so honestly. " +
	"Avoid speculation, and prioritize usefulness, safety, and clarity in your responses."

// Provider names accepted by cloud.provider.
const (
	ProviderOpenRouter = "openrouter"
	ProviderSDK        = "sdk"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete echo configuration.
type Config struct {
	Version string `toml:"version"`

	Cloud   CloudConfig   `toml:"cloud"`
	Storage StorageConfig `toml:"storage"`
	Chat    ChatConfig    `toml:"chat"`
	Catalog CatalogConfig `toml:"catalog"`
	Log     LogConfig     `toml:"log"`
}

// CloudConfig contains the remote completion endpoint settings.
type CloudConfig struct {
	APIKey       string  `toml:"api_key"`
	BaseURL      string  `toml:"base_url"`
	Provider     string  `toml:"provider"`
	DefaultModel string  `toml:"default_model"`
	Temperature  float64 `toml:"temperature"`
	MaxTokens    int     `toml:"max_tokens"`
	TimeoutSecs  int     `toml:"timeout_secs"`
	SiteURL      string  `toml:"site_url"`
	SiteName     string  `toml:"site_name"`
}

// Timeout returns the request timeout for non-streaming calls.
func (c CloudConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// StorageConfig locates the chat database.
type StorageConfig struct {
	// Path of the SQLite database. Relative paths resolve against the config dir.
	Path string `toml:"path"`
}

// ChatConfig controls how conversations are built.
type ChatConfig struct {
	SystemPrompt string `toml:"system_prompt"`
	// HistoryPairs is the number of user/assistant exchanges sent as context.
	HistoryPairs int  `toml:"history_pairs"`
	Streaming    bool `toml:"streaming"`
}

// CatalogConfig controls the model catalog.
type CatalogConfig struct {
	FreeOnly            bool `toml:"free_only"`
	RefreshIntervalSecs int  `toml:"refresh_interval_secs"`
}

// RefreshInterval returns the minimum spacing between manual refreshes.
func (c CatalogConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSecs) * time.Second
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a configuration with every field set to its default value.
func Default() *Config {
	return &Config{
		Version: "1",
		Cloud: CloudConfig{
			BaseURL:      "https://openrouter.ai/api/v1",
			Provider:     ProviderOpenRouter,
			DefaultModel: "openai/gpt-4.1",
			Temperature:  0.7,
			TimeoutSecs:  60,
			SiteURL:      "https://github.com/jeranaias/echo",
			SiteName:     "echo",
		},
		Storage: StorageConfig{
			Path: "chat_history.db",
		},
		Chat: ChatConfig{
			SystemPrompt: DefaultSystemPrompt,
			HistoryPairs: 10,
			Streaming:    true,
		},
		Catalog: CatalogConfig{
			RefreshIntervalSecs: 30,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the echo configuration directory path.
func ConfigDir() (string, error) {
	if dir := os.Getenv("ECHO_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".echo"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// DatabasePath resolves Storage.Path against the config directory.
func (c *Config) DatabasePath() (string, error) {
	p := c.Storage.Path
	if p == ":memory:" || filepath.IsAbs(p) {
		return p, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, p), nil
}

// ensureSecurePermissions tightens the config file to 0600; it holds the API key.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads the default config file, falling back to defaults when it
// does not exist. Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific TOML file.
func LoadFromPath(path string) (*Config, error) {
	cfg, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFile reads the config file as written, without environment
// overrides, so that it can be edited and saved back. A missing file
// yields the defaults.
func LoadFile() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		return Default(), nil
	}
	return decodeFile(path)
}

func decodeFile(path string) (*Config, error) {
	cfg := Default()
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	// Decoding over the defaults keeps omitted keys at their default, but
	// an explicit zero (e.g. streaming = false) must survive as written.
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}
	fillDefaults(cfg)
	return cfg, nil
}

// fillDefaults restores defaults for fields that were written out empty.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}
	if cfg.Cloud.BaseURL == "" {
		cfg.Cloud.BaseURL = defaults.Cloud.BaseURL
	}
	if cfg.Cloud.Provider == "" {
		cfg.Cloud.Provider = defaults.Cloud.Provider
	}
	if cfg.Cloud.DefaultModel == "" {
		cfg.Cloud.DefaultModel = defaults.Cloud.DefaultModel
	}
	if cfg.Cloud.TimeoutSecs == 0 {
		cfg.Cloud.TimeoutSecs = defaults.Cloud.TimeoutSecs
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = defaults.Storage.Path
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration atomically with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, "# echo configuration file")
	fmt.Fprintln(&buf, "# Generated by echo - edit with care")
	fmt.Fprintln(&buf, "")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns ValidateErrors on failure.
// A missing API key is not an error here; the cloud client reports it.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if u, err := url.Parse(c.Cloud.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "cloud.base_url",
			Message: fmt.Sprintf("invalid URL '%s'", c.Cloud.BaseURL),
		})
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs = append(errs, ValidationError{
			Field:   "cloud.base_url",
			Message: fmt.Sprintf("unsupported scheme '%s', must be http or https", u.Scheme),
		})
	}

	switch strings.ToLower(c.Cloud.Provider) {
	case ProviderOpenRouter, ProviderSDK:
	default:
		errs = append(errs, ValidationError{
			Field:   "cloud.provider",
			Message: fmt.Sprintf("invalid provider '%s', must be one of: openrouter, sdk", c.Cloud.Provider),
		})
	}

	if strings.TrimSpace(c.Cloud.DefaultModel) == "" {
		errs = append(errs, ValidationError{Field: "cloud.default_model", Message: "must not be empty"})
	}
	if c.Cloud.Temperature < 0 || c.Cloud.Temperature > 2 {
		errs = append(errs, ValidationError{
			Field:   "cloud.temperature",
			Message: fmt.Sprintf("%.2f out of range, must be between 0 and 2", c.Cloud.Temperature),
		})
	}
	if c.Cloud.MaxTokens < 0 {
		errs = append(errs, ValidationError{Field: "cloud.max_tokens", Message: "must not be negative"})
	}
	if c.Cloud.TimeoutSecs <= 0 {
		errs = append(errs, ValidationError{Field: "cloud.timeout_secs", Message: "must be positive"})
	}

	if strings.TrimSpace(c.Storage.Path) == "" {
		errs = append(errs, ValidationError{Field: "storage.path", Message: "must not be empty"})
	}

	if c.Chat.HistoryPairs < 0 {
		errs = append(errs, ValidationError{Field: "chat.history_pairs", Message: "must not be negative"})
	}
	if c.Catalog.RefreshIntervalSecs < 0 {
		errs = append(errs, ValidationError{Field: "catalog.refresh_interval_secs", Message: "must not be negative"})
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", c.Log.Level),
		})
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "log.format",
			Message: fmt.Sprintf("invalid format '%s', must be text or json", c.Log.Format),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - OPENROUTER_API_KEY: overrides cloud.api_key
//   - ECHO_API_KEY: overrides cloud.api_key (takes precedence)
//   - ECHO_BASE_URL: overrides cloud.base_url
//   - ECHO_MODEL: overrides cloud.default_model
//   - ECHO_PROVIDER: overrides cloud.provider
//   - ECHO_STREAMING: "0"/"false" disables streaming
//   - ECHO_LOG_LEVEL: overrides log.level
//   - DB_PATH: overrides storage.path
func (c *Config) ApplyEnvOverrides() {
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		c.Cloud.APIKey = key
	}
	if key := os.Getenv("ECHO_API_KEY"); key != "" {
		c.Cloud.APIKey = key
	}
	if u := os.Getenv("ECHO_BASE_URL"); u != "" {
		c.Cloud.BaseURL = u
	}
	if model := os.Getenv("ECHO_MODEL"); model != "" {
		c.Cloud.DefaultModel = model
	}
	if provider := os.Getenv("ECHO_PROVIDER"); provider != "" {
		c.Cloud.Provider = provider
	}
	if streaming := os.Getenv("ECHO_STREAMING"); streaming != "" {
		c.Chat.Streaming = parseBool(streaming)
	}
	if level := os.Getenv("ECHO_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if path := os.Getenv("DB_PATH"); path != "" {
		c.Storage.Path = path
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "1" || s == "true" || s == "yes"
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "cloud.default_model").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's type.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if strings.TrimSpace(key) == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			if field.Kind() == reflect.Struct {
				return reflect.Value{}, fmt.Errorf("field '%s' is a section, not a value", key)
			}
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			field.SetBool(parseBool(strVal))
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// AllKeys returns every settable key in dot notation, sorted.
func AllKeys() []string {
	var keys []string
	root := reflect.TypeOf(Config{})
	for i := 0; i < root.NumField(); i++ {
		f := root.Field(i)
		tag := strings.Split(f.Tag.Get("toml"), ",")[0]
		if f.Type.Kind() != reflect.Struct {
			keys = append(keys, tag)
			continue
		}
		for j := 0; j < f.Type.NumField(); j++ {
			sub := strings.Split(f.Type.Field(j).Tag.Get("toml"), ",")[0]
			keys = append(keys, tag+"."+sub)
		}
	}
	sort.Strings(keys)
	return keys
}

// Redacted returns a copy safe for display, with the API key masked.
func (c *Config) Redacted() *Config {
	clone := *c
	if clone.Cloud.APIKey != "" {
		clone.Cloud.APIKey = fmt.Sprintf("[REDACTED, length=%d]", len(c.Cloud.APIKey))
	}
	return &clone
}
