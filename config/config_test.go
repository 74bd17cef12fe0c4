package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pairpad/server/protocol"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("Port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Session.Retention != 10*time.Minute {
		t.Errorf("Retention = %v, want 10m", cfg.Session.Retention)
	}
	if cfg.Session.DefaultLanguage != protocol.LanguageCPP {
		t.Errorf("DefaultLanguage = %q, want cpp", cfg.Session.DefaultLanguage)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9100
  allowed_origins: ["https://ide.example.com"]
auth:
  secret: s3cret
session:
  retention: 90s
  default_language: python
  persist_dir: /var/lib/pairpad
execute:
  url: http://piston:2000/api/v2
  timeout: 5s
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9100 {
		t.Errorf("Port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Host default lost: %q", cfg.Server.Host)
	}
	if len(cfg.Server.AllowedOrigins) != 1 {
		t.Errorf("AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Auth.Secret != "s3cret" {
		t.Errorf("Secret = %q", cfg.Auth.Secret)
	}
	if cfg.Session.Retention != 90*time.Second {
		t.Errorf("Retention = %v, want 90s", cfg.Session.Retention)
	}
	if cfg.Session.DefaultLanguage != protocol.LanguagePython {
		t.Errorf("DefaultLanguage = %q", cfg.Session.DefaultLanguage)
	}
	if cfg.Session.QueueSize != 256 {
		t.Errorf("QueueSize default lost: %d", cfg.Session.QueueSize)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Execute.Timeout != 5*time.Second {
		t.Errorf("Execute.Timeout = %v", cfg.Execute.Timeout)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [")
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9100\nauth:\n  secret: from-file\n")
	t.Setenv("PORT", "9200")
	t.Setenv("AUTH_SECRET", "from-env")
	t.Setenv("SESSION_RETENTION", "2m")
	t.Setenv("EXECUTE_URL", "http://localhost:2000/api/v2")
	t.Setenv("PROBLEMS_URL", "http://localhost:3000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9200 {
		t.Errorf("Port = %d, want 9200", cfg.Server.Port)
	}
	if cfg.Auth.Secret != "from-env" {
		t.Errorf("Secret = %q, want from-env", cfg.Auth.Secret)
	}
	if cfg.Session.Retention != 2*time.Minute {
		t.Errorf("Retention = %v, want 2m", cfg.Session.Retention)
	}
	if cfg.Execute.URL != "http://localhost:2000/api/v2" {
		t.Errorf("Execute.URL = %q", cfg.Execute.URL)
	}
	if cfg.Problems.URL != "http://localhost:3000" {
		t.Errorf("Problems.URL = %q", cfg.Problems.URL)
	}
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("PORT", "eighty")
	if _, err := Load(""); err == nil {
		t.Error("expected error for invalid PORT")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"secret file only", func(c *Config) { c.Auth.Secret = ""; c.Auth.SecretFile = "/run/secret" }, false},
		{"zero retention", func(c *Config) { c.Session.Retention = 0 }, false},
		{"missing secret", func(c *Config) { c.Auth.Secret = "" }, true},
		{"negative retention", func(c *Config) { c.Session.Retention = -time.Second }, true},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, true},
		{"zero queue", func(c *Config) { c.Session.QueueSize = 0 }, true},
		{"unknown language", func(c *Config) { c.Session.DefaultLanguage = "go" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Auth.Secret = "secret"
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
