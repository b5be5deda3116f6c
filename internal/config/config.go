package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/gateway.ini"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// GatewayConfig describes runtime options for the daemon.
type GatewayConfig struct {
	Environment string
	Port        int
	LogFile     string
	LogLevel    string

	// Upstream provider
	UpstreamBaseURL string
	UpstreamTimeout time.Duration

	// Storage. DataDir holds the default sqlite files; a postgres:// DSN in
	// IdentityDSN or ConversationDSN switches that repository to Postgres.
	DataDir         string
	IdentityDSN     string
	ConversationDSN string

	// Model alias seed file (YAML), loaded at startup when present.
	AliasSeedFile string

	// Auth
	AdminKey     string
	AuthDisabled bool

	// Background maintenance
	CleanupInterval   time.Duration
	PoolCheckInterval time.Duration
}

// IdentitySQLitePath returns the default identity database location.
func (c GatewayConfig) IdentitySQLitePath() string {
	return filepath.Join(c.DataDir, "identities.db")
}

// ConversationSQLitePath returns the default conversation database location.
func (c GatewayConfig) ConversationSQLitePath() string {
	return filepath.Join(c.DataDir, "conversations.db")
}

// GatewaySQLitePath returns the shared database for aliases, settings, API
// keys and the usage ledger.
func (c GatewayConfig) GatewaySQLitePath() string {
	return filepath.Join(c.DataDir, "gateway.db")
}

// LoadGatewayConfig reads the current environment and loads the appropriate
// gateway config file, applying SAHYOG_* env overrides.
func LoadGatewayConfig(root string) (GatewayConfig, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return GatewayConfig{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return GatewayConfig{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}

	cfg := GatewayConfig{
		Environment:     s.Environment,
		Port:            parseOptionalInt(firstNonEmpty(os.Getenv("SAHYOG_PORT"), merged["port"]), 8084),
		LogFile:         firstNonEmpty(os.Getenv("SAHYOG_LOG_FILE"), merged["log_file"]),
		LogLevel:        firstNonEmpty(os.Getenv("SAHYOG_LOG_LEVEL"), merged["log_level"], "info"),
		UpstreamBaseURL: firstNonEmpty(os.Getenv("SAHYOG_UPSTREAM_BASE_URL"), merged["upstream_base_url"], "https://kyvex.ai"),
		DataDir:         firstNonEmpty(os.Getenv("SAHYOG_DATA_DIR"), merged["data_dir"], "data"),
		IdentityDSN:     firstNonEmpty(os.Getenv("SAHYOG_IDENTITY_DSN"), merged["identity_dsn"]),
		ConversationDSN: firstNonEmpty(os.Getenv("SAHYOG_CONVERSATION_DSN"), merged["conversation_dsn"]),
		AliasSeedFile:   firstNonEmpty(os.Getenv("SAHYOG_ALIAS_SEED_FILE"), merged["alias_seed_file"]),
		AdminKey:        firstNonEmpty(os.Getenv("SAHYOG_ADMIN_KEY"), merged["admin_key"]),
		AuthDisabled:    parseOptionalBool(firstNonEmpty(os.Getenv("SAHYOG_AUTH_DISABLED"), merged["auth_disabled"]), true),
	}

	cfg.UpstreamTimeout, err = parseOptionalDuration(
		firstNonEmpty(os.Getenv("SAHYOG_UPSTREAM_TIMEOUT"), merged["upstream_timeout"]), 60*time.Second)
	if err != nil {
		return GatewayConfig{}, fmt.Errorf("invalid upstream_timeout: %w", err)
	}
	cfg.CleanupInterval, err = parseOptionalDuration(
		firstNonEmpty(os.Getenv("SAHYOG_CLEANUP_INTERVAL"), merged["cleanup_interval"]), time.Hour)
	if err != nil {
		return GatewayConfig{}, fmt.Errorf("invalid cleanup_interval: %w", err)
	}
	cfg.PoolCheckInterval, err = parseOptionalDuration(
		firstNonEmpty(os.Getenv("SAHYOG_POOL_CHECK_INTERVAL"), merged["pool_check_interval"]), 5*time.Minute)
	if err != nil {
		return GatewayConfig{}, fmt.Errorf("invalid pool_check_interval: %w", err)
	}

	return cfg, nil
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: defaultEnv, Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := values["environment"]
	if env == "" {
		env = defaultEnv
	}
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalBool(v string, fallback bool) bool {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return parseBool(v)
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func parseOptionalDuration(v string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	return time.ParseDuration(strings.TrimSpace(v))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
