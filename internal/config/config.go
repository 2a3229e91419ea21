// Package config loads the staffcard YAML configuration.
package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gregLibert/staffcard/pkg/applet"
	"github.com/gregLibert/staffcard/pkg/tlv"
)

type Config struct {
	Reader  ReaderConfig  `yaml:"reader"`
	Applet  AppletConfig  `yaml:"applet"`
	Keys    KeysConfig    `yaml:"keys"`
	Log     LogConfig     `yaml:"log"`
	Runtime RuntimeConfig `yaml:"runtime"`
}

type ReaderConfig struct {
	NameFilter string `yaml:"name_filter"`
}

type AppletConfig struct {
	AIDHex string `yaml:"aid_hex"`
}

// KeysConfig holds the channel key, inline or in a file, never both.
type KeysConfig struct {
	AESKeyHex  string `yaml:"aes_key_hex"`
	AESKeyFile string `yaml:"aes_key_file"`
	DefaultPIN string `yaml:"default_pin"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type RuntimeConfig struct {
	Simulate *bool `yaml:"simulate"`
}

// Load reads, decodes and validates the file at path. Unknown keys are
// rejected. Relative key file paths are resolved against the file's directory.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.resolvePaths(path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if _, err := c.AID(); err != nil {
		return err
	}

	inline := strings.TrimSpace(c.Keys.AESKeyHex) != ""
	file := strings.TrimSpace(c.Keys.AESKeyFile) != ""
	switch {
	case inline && file:
		return fmt.Errorf("config.keys: set aes_key_hex or aes_key_file, not both")
	case !inline && !file:
		return fmt.Errorf("config.keys.aes_key_hex or config.keys.aes_key_file is required")
	case file:
		if err := validateReadableFile(c.Keys.AESKeyFile, "config.keys.aes_key_file"); err != nil {
			return err
		}
	}
	if _, err := c.AESKey(); err != nil {
		return err
	}

	if len(c.Keys.DefaultPIN) > 16 {
		return fmt.Errorf("config.keys.default_pin must be at most 16 bytes")
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// AID returns the configured applet AID, or applet.DefaultAID.
func (c *Config) AID() ([]byte, error) {
	if strings.TrimSpace(c.Applet.AIDHex) == "" {
		return applet.DefaultAID, nil
	}
	aid, err := tlv.ParseHex(c.Applet.AIDHex)
	if err != nil {
		return nil, fmt.Errorf("config.applet.aid_hex is invalid: %w", err)
	}
	if len(aid) < 5 || len(aid) > 16 {
		return nil, fmt.Errorf("config.applet.aid_hex must be 5..16 bytes, got %d", len(aid))
	}
	return aid, nil
}

// AESKey returns the channel key from aes_key_hex or the first non-blank
// line of aes_key_file.
func (c *Config) AESKey() ([]byte, error) {
	field, text := "config.keys.aes_key_hex", c.Keys.AESKeyHex
	if strings.TrimSpace(c.Keys.AESKeyFile) != "" {
		field = "config.keys.aes_key_file"
		line, err := firstLine(c.Keys.AESKeyFile)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
		text = line
	}

	// The parse error echoes its input; keep key material out of messages.
	key, err := tlv.ParseHex(text)
	if err != nil {
		return nil, fmt.Errorf("%s is not valid hex", field)
	}
	switch len(key) {
	case 16, 24, 32:
		return key, nil
	default:
		return nil, fmt.Errorf("%s must be 16, 24 or 32 bytes, got %d", field, len(key))
	}
}

// LogLevel maps log.level; empty means info.
func (c *Config) LogLevel() slog.Level {
	l, _ := parseLevel(c.Log.Level)
	return l
}

// JSONLogs reports whether log.format is json.
func (c *Config) JSONLogs() bool {
	return strings.EqualFold(c.Log.Format, "json")
}

// Simulate reports whether to run against the in-memory card.
func (c *Config) Simulate() bool {
	return c.Runtime.Simulate != nil && *c.Runtime.Simulate
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("config.log.level must be debug, info, warn or error, got %q", s)
	}
}

func (c *Config) resolvePaths(configPath string) {
	configDir := filepath.Dir(configPath)
	c.Keys.AESKeyFile = resolvePath(configDir, c.Keys.AESKeyFile)
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}

func validateReadableFile(path string, field string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s must point to a file, got directory", field)
	}
	return nil
}

func firstLine(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return line, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", errors.New("key file is empty")
}
