package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadGatewayConfigDefaults(t *testing.T) {
	root := t.TempDir()

	cfg, err := LoadGatewayConfig(root)
	if err != nil {
		t.Fatalf("LoadGatewayConfig: %v", err)
	}
	if cfg.Environment != "dev" {
		t.Fatalf("environment = %q", cfg.Environment)
	}
	if cfg.Port != 8084 || cfg.LogLevel != "info" {
		t.Fatalf("config = %+v", cfg)
	}
	if cfg.UpstreamBaseURL != "https://kyvex.ai" || cfg.UpstreamTimeout != 60*time.Second {
		t.Fatalf("upstream config = %+v", cfg)
	}
	if !cfg.AuthDisabled {
		t.Fatal("auth should default to disabled")
	}
	if cfg.CleanupInterval != time.Hour || cfg.PoolCheckInterval != 5*time.Minute {
		t.Fatalf("maintenance intervals = %+v", cfg)
	}
}

func TestLoadGatewayConfigFromFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "config/setting.ini"), `
environment = prod
log_level = debug
`)
	writeFile(t, filepath.Join(root, "config/prod/gateway.ini"), `
port = 9090
upstream_base_url = https://upstream.example
upstream_timeout = 90s
auth_disabled = false
admin_key = shh
data_dir = /var/lib/sahyog
`)

	cfg, err := LoadGatewayConfig(root)
	if err != nil {
		t.Fatalf("LoadGatewayConfig: %v", err)
	}
	if cfg.Environment != "prod" || cfg.Port != 9090 {
		t.Fatalf("config = %+v", cfg)
	}
	// Global defaults survive unless the env file overrides them.
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level = %q", cfg.LogLevel)
	}
	if cfg.UpstreamBaseURL != "https://upstream.example" || cfg.UpstreamTimeout != 90*time.Second {
		t.Fatalf("upstream config = %+v", cfg)
	}
	if cfg.AuthDisabled || cfg.AdminKey != "shh" {
		t.Fatalf("auth config = %+v", cfg)
	}
	if cfg.IdentitySQLitePath() != "/var/lib/sahyog/identities.db" {
		t.Fatalf("identity path = %q", cfg.IdentitySQLitePath())
	}
	if cfg.GatewaySQLitePath() != "/var/lib/sahyog/gateway.db" {
		t.Fatalf("gateway path = %q", cfg.GatewaySQLitePath())
	}
}

func TestEnvVarsOverrideFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "config/setting.ini"), "environment = dev\n")
	writeFile(t, filepath.Join(root, "config/dev/gateway.ini"), "port = 9090\n")

	t.Setenv("SAHYOG_PORT", "7001")
	t.Setenv("SAHYOG_UPSTREAM_BASE_URL", "https://override.example")

	cfg, err := LoadGatewayConfig(root)
	if err != nil {
		t.Fatalf("LoadGatewayConfig: %v", err)
	}
	if cfg.Port != 7001 {
		t.Fatalf("port = %d, want env override 7001", cfg.Port)
	}
	if cfg.UpstreamBaseURL != "https://override.example" {
		t.Fatalf("base url = %q", cfg.UpstreamBaseURL)
	}
}

func TestInvalidDurationFails(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "config/setting.ini"), "environment = dev\n")
	writeFile(t, filepath.Join(root, "config/dev/gateway.ini"), "upstream_timeout = banana\n")

	if _, err := LoadGatewayConfig(root); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestParseINISkipsCommentsAndSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.ini")
	writeFile(t, path, `
# comment
; also comment
[section]
Key = Value
empty_line_above = yes
`)
	values, err := parseINI(path)
	if err != nil {
		t.Fatalf("parseINI: %v", err)
	}
	if values["key"] != "Value" || values["empty_line_above"] != "yes" {
		t.Fatalf("values = %v", values)
	}
	if len(values) != 2 {
		t.Fatalf("values = %v", values)
	}
}
