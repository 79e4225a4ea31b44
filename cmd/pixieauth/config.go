package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"pixieauth/core"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultListen = "127.0.0.1:8787"

type AppConfig struct {
	Core core.Config `yaml:",inline"`

	Store  StoreConfig  `yaml:"store"`
	Log    LogConfig    `yaml:"log"`
	Server ServerConfig `yaml:"server"`
}

type StoreConfig struct {
	Type             string `yaml:"type" env:"PIXIE_STORE_TYPE"`
	SQLitePath       string `yaml:"sqlite_path" env:"PIXIE_SQLITE_PATH"`
	EncryptionSecret string `yaml:"encryption_secret" env:"PIXIE_ENCRYPTION_SECRET"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"PIXIE_LOG_LEVEL"`
	Format string `yaml:"format" env:"PIXIE_LOG_FORMAT"`
}

type ServerConfig struct {
	Listen string `yaml:"listen" env:"PIXIE_LISTEN"`
}

func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Core:   core.DefaultConfig(),
		Store:  StoreConfig{Type: "sqlite"},
		Log:    LogConfig{Level: "info", Format: "text"},
		Server: ServerConfig{Listen: defaultListen},
	}
}

// loadConfig layers defaults, the optional YAML file and the environment, in that
// order. A .env file in the working directory is loaded into the environment first.
func loadConfig(path string) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	config := defaultAppConfig()

	if path == "" {
		path = os.Getenv("PIXIE_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := config.Core.ApplyEnv(); err != nil {
		return nil, err
	}
	for _, section := range []any{&config.Store, &config.Log, &config.Server} {
		if err := env.Parse(section); err != nil {
			return nil, fmt.Errorf("failed to parse environment: %w", err)
		}
	}

	if err := config.Core.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// sqlitePath returns the configured database path or the per-user default
func (c *AppConfig) sqlitePath() (string, error) {
	if c.Store.SQLitePath != "" {
		return c.Store.SQLitePath, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "pixieauth", "credentials.db"), nil
}

// encryptionSecret returns the configured secret, or one kept in a 0600 file next
// to the database and created on first use.
func (c *AppConfig) encryptionSecret(dbPath string) (string, error) {
	if c.Store.EncryptionSecret != "" {
		return c.Store.EncryptionSecret, nil
	}

	keyPath := filepath.Join(filepath.Dir(dbPath), "secret.key")
	data, err := os.ReadFile(keyPath)
	if err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("failed to read %s: %w", keyPath, err)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	secret := hex.EncodeToString(buf)
	if err := os.WriteFile(keyPath, []byte(secret+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", keyPath, err)
	}
	return secret, nil
}
