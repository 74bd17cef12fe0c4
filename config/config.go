// Package config loads server settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pairpad/server/protocol"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Session  SessionConfig  `yaml:"session"`
	Execute  ExecuteConfig  `yaml:"execute"`
	Problems ProblemsConfig `yaml:"problems"`
	Log      LogConfig      `yaml:"log"`
	DataDir  string         `yaml:"data_dir"`
}

type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	DevMode        bool     `yaml:"dev_mode"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	PublicURL      string   `yaml:"public_url"`
}

type AuthConfig struct {
	// Secret is the HS256 signing key shared with the identity provider.
	Secret string `yaml:"secret"`
	// SecretFile, when set, takes precedence and is reloaded on change.
	SecretFile string `yaml:"secret_file"`
}

type SessionConfig struct {
	// Retention is how long an empty session keeps its state before eviction.
	Retention        time.Duration     `yaml:"retention"`
	QueueSize        int               `yaml:"queue_size"`
	SendQueue        int               `yaml:"send_queue"`
	MaxDocumentBytes int64             `yaml:"max_document_bytes"`
	DefaultCode      string            `yaml:"default_code"`
	DefaultLanguage  protocol.Language `yaml:"default_language"`
	// PersistDir enables snapshot persistence of evicted sessions. Empty disables it.
	PersistDir string `yaml:"persist_dir"`
}

// LogConfig values left empty fall back to LOG_LEVEL, LOG_FORMAT and LOG_FILE.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

type ExecuteConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// ProblemsConfig points at the Codeforces site used to import sample tests.
type ProblemsConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Session: SessionConfig{
			Retention:        10 * time.Minute,
			QueueSize:        256,
			SendQueue:        256,
			MaxDocumentBytes: 1 << 20,
			DefaultCode:      "/* Start coding here... */",
			DefaultLanguage:  protocol.LanguageCPP,
		},
		Execute: ExecuteConfig{
			URL:     "https://emkc.org/api/v2/piston",
			Timeout: 30 * time.Second,
		},
		Problems: ProblemsConfig{
			URL:     "https://codeforces.com",
			Timeout: 15 * time.Second,
		},
	}
}

// Load reads path over the defaults (a missing file is fine) and applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("DEV_MODE"); v != "" {
		c.Server.DevMode = v == "1" || v == "true"
	}
	if v := os.Getenv("PUBLIC_URL"); v != "" {
		c.Server.PublicURL = v
	}
	if v := os.Getenv("AUTH_SECRET"); v != "" {
		c.Auth.Secret = v
	}
	if v := os.Getenv("AUTH_SECRET_FILE"); v != "" {
		c.Auth.SecretFile = v
	}
	if v := os.Getenv("SESSION_RETENTION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid SESSION_RETENTION %q: %w", v, err)
		}
		c.Session.Retention = d
	}
	if v := os.Getenv("PERSIST_DIR"); v != "" {
		c.Session.PersistDir = v
	}
	if v := os.Getenv("EXECUTE_URL"); v != "" {
		c.Execute.URL = v
	}
	if v := os.Getenv("PROBLEMS_URL"); v != "" {
		c.Problems.URL = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		c.DataDir = v
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Auth.Secret == "" && c.Auth.SecretFile == "" {
		return errors.New("auth secret is required (AUTH_SECRET or auth.secret_file)")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Session.Retention < 0 {
		return fmt.Errorf("session retention must not be negative: %v", c.Session.Retention)
	}
	if c.Session.QueueSize <= 0 || c.Session.SendQueue <= 0 {
		return errors.New("session queue sizes must be positive")
	}
	if !c.Session.DefaultLanguage.IsValid() {
		return fmt.Errorf("unknown default language %q", c.Session.DefaultLanguage)
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
